package supervision

import "sync"

// EventKind tags one telemetry ring entry.
type EventKind int

const (
	EventSpawn EventKind = iota
	EventExit
	EventFault
	EventHumanReview
)

// Event is one entry in an agent's bounded telemetry ring.
type Event struct {
	AgentID uint64
	Kind    EventKind
	Fault   FaultKind
	TsNs    int64
}

// AgentCounters are per-agent accumulators (spec §4.I).
type AgentCounters struct {
	Spawns       int
	Exits        int
	Faults       int
	Violations   int
	HumanReviews int
	CPUUs        uint64
	MemBytes     uint64
	Syscalls     uint64
	TotalOps     int
}

// ringCapacity bounds the telemetry event ring (spec §4.I: "last 1024
// events").
const ringCapacity = 1024

// TelemetryAggregator keeps per-agent counters and a bounded ring of
// recent events.
type TelemetryAggregator struct {
	mu       sync.Mutex
	counters map[uint64]*AgentCounters
	ring     []Event
}

// NewTelemetryAggregator constructs an empty aggregator.
func NewTelemetryAggregator() *TelemetryAggregator {
	return &TelemetryAggregator{counters: make(map[uint64]*AgentCounters)}
}

func (t *TelemetryAggregator) counterFor(agentID uint64) *AgentCounters {
	c, ok := t.counters[agentID]
	if !ok {
		c = &AgentCounters{}
		t.counters[agentID] = c
	}
	return c
}

func (t *TelemetryAggregator) record(e Event) {
	t.ring = append(t.ring, e)
	if len(t.ring) > ringCapacity {
		t.ring = t.ring[len(t.ring)-ringCapacity:]
	}
}

// RecordSpawn logs a spawn event for agentID.
func (t *TelemetryAggregator) RecordSpawn(agentID uint64, nowNs int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counterFor(agentID).Spawns++
	t.record(Event{AgentID: agentID, Kind: EventSpawn, TsNs: nowNs})
}

// RecordExit logs an exit event.
func (t *TelemetryAggregator) RecordExit(agentID uint64, nowNs int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counterFor(agentID).Exits++
	t.record(Event{AgentID: agentID, Kind: EventExit, TsNs: nowNs})
}

// RecordFault logs a fault event, counting capability violations and
// policy violations separately toward Violations.
func (t *TelemetryAggregator) RecordFault(agentID uint64, kind FaultKind, nowNs int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.counterFor(agentID)
	c.Faults++
	if kind == FaultCapabilityViolation || kind == FaultPolicyViolation {
		c.Violations++
	}
	t.record(Event{AgentID: agentID, Kind: EventFault, Fault: kind, TsNs: nowNs})
}

// RecordHumanReview logs a human-reviewed operation for agentID, which
// factors positively into its compliance score.
func (t *TelemetryAggregator) RecordHumanReview(agentID uint64, nowNs int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counterFor(agentID).HumanReviews++
	t.record(Event{AgentID: agentID, Kind: EventHumanReview, TsNs: nowNs})
}

// RecordUsage accumulates resource usage toward TotalOps without
// emitting a ring event (usage samples are high-frequency).
func (t *TelemetryAggregator) RecordUsage(agentID uint64, cpuUs, memBytes, syscalls uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.counterFor(agentID)
	c.CPUUs += cpuUs
	c.MemBytes += memBytes
	c.Syscalls += syscalls
	c.TotalOps++
}

// Counters returns a copy of agentID's accumulated counters.
func (t *TelemetryAggregator) Counters(agentID uint64) AgentCounters {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.counters[agentID]; ok {
		return *c
	}
	return AgentCounters{}
}

// RiskLevel buckets a compliance score for ComplianceReport aggregation.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
)

// ComplianceScore derives a [0,100] score from an agent's counters:
// faults and violations subtract, human reviews add back, normalised by
// total operations (spec §4.I).
func ComplianceScore(c AgentCounters) float64 {
	ops := c.TotalOps
	if ops == 0 {
		ops = 1
	}
	penalty := float64(c.Faults)*5 + float64(c.Violations)*15
	credit := float64(c.HumanReviews) * 2
	score := 100 - (penalty-credit)/float64(ops)*10
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

func riskFor(score float64) RiskLevel {
	switch {
	case score < 40:
		return RiskHigh
	case score < 75:
		return RiskMedium
	default:
		return RiskLow
	}
}

// ComplianceReport aggregates per-agent scores into risk-level counts
// and the mean score (spec §4.I).
type ComplianceReport struct {
	CountByRisk map[RiskLevel]int
	MeanScore   float64
}

// Report computes a ComplianceReport over agentIDs' current counters.
func (t *TelemetryAggregator) Report(agentIDs []uint64) ComplianceReport {
	t.mu.Lock()
	defer t.mu.Unlock()

	report := ComplianceReport{CountByRisk: make(map[RiskLevel]int)}
	var sum float64
	for _, id := range agentIDs {
		c := AgentCounters{}
		if existing, ok := t.counters[id]; ok {
			c = *existing
		}
		score := ComplianceScore(c)
		sum += score
		report.CountByRisk[riskFor(score)]++
	}
	if len(agentIDs) > 0 {
		report.MeanScore = sum / float64(len(agentIDs))
	}
	return report
}

// RecentEvents returns a snapshot of the telemetry ring, oldest first.
func (t *TelemetryAggregator) RecentEvents() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Event, len(t.ring))
	copy(out, t.ring)
	return out
}
