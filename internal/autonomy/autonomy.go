// Package autonomy implements the autonomous control loop of spec §4.H:
// telemetry sampling, meta-arbitration across memory/scheduling/command
// pressure, watchdog confidence gating, a rate-limited decision budget,
// and drift classification, with every applied (or blocked) decision
// appended to the hash-chained audit ring.
package autonomy

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/ai-native-os/corekernel/internal/audit"
	"github.com/ai-native-os/corekernel/internal/kernelerr"
	"github.com/ai-native-os/corekernel/internal/klog"
)

// DefaultCadence is the autonomy loop's tick period (spec §4.H).
const DefaultCadence = 500 * time.Millisecond

// DefaultWatchdogThreshold is the minimum confidence for a Decision to
// take effect.
const DefaultWatchdogThreshold = 0.8

// MaxDecisionsPerHour is the hard autonomy rate limit (spec §4.H).
const MaxDecisionsPerHour = 120

// Domain identifies which pressure signal a Decision addresses.
type Domain int

const (
	DomainMemory Domain = iota
	DomainScheduling
	DomainCommand
)

// RationaleCode is the compact enum accompanying every Decision (spec
// §4.H).
type RationaleCode int

const (
	RationaleNone RationaleCode = iota
	RationaleMemHighFrag
	RationaleOodAlert
	RationaleSchedMissSpike
	RationaleWatchdogLowReward
)

// Telemetry is one sampled snapshot (spec §4.H: "heap usage, IRQ latency
// percentiles, scheduler misses, recent inference confidences").
type Telemetry struct {
	HeapUsedFraction   float64
	IRQLatencyP99Us    float64
	SchedMissesPerMin  float64
	RecentInferConf    float64
}

// DomainMagnitudes are the per-domain signed pressure scores the
// arbitrator computes from Telemetry.
type DomainMagnitudes struct {
	Memory     float64
	Scheduling float64
	Command    float64
}

// Weights tune meta_arbitrate's domain scoring (spec §4.H).
type Weights struct {
	Memory     float64
	Scheduling float64
	Command    float64
	Tiebreaker Domain
}

// Decision is the autonomy loop's output for one tick.
type Decision struct {
	Domain     Domain
	Magnitude  float64
	Confidence float64
	Rationale  RationaleCode
	Blocked    bool
}

// DriftClass is the OOD/drift surface (spec §4.H).
type DriftClass int

const (
	DriftOK DriftClass = iota
	DriftWarning
	DriftAlert
)

// tieEpsilon bounds how close two domain magnitudes must be to invoke
// the tiebreaker.
const tieEpsilon = 1e-6

// metaArbitrate computes per-domain signed magnitudes and returns the
// Decision with the largest weighted magnitude; ties within epsilon are
// broken by the tiebreaker preference (spec §4.H).
func metaArbitrate(tel Telemetry, w Weights) Decision {
	mags := DomainMagnitudes{
		Memory:     tel.HeapUsedFraction * w.Memory,
		Scheduling: (tel.SchedMissesPerMin / 60.0) * w.Scheduling,
		Command:    (1 - tel.RecentInferConf) * w.Command,
	}

	best := DomainMemory
	bestVal := mags.Memory
	for _, cand := range []struct {
		d Domain
		v float64
	}{{DomainScheduling, mags.Scheduling}, {DomainCommand, mags.Command}} {
		if cand.v > bestVal+tieEpsilon {
			best, bestVal = cand.d, cand.v
		} else if absf(cand.v-bestVal) <= tieEpsilon && w.Tiebreaker == cand.d {
			best, bestVal = cand.d, cand.v
		}
	}

	rationale := rationaleFor(best, tel)
	return Decision{
		Domain:     best,
		Magnitude:  bestVal,
		Confidence: confidence(mags, best),
		Rationale:  rationale,
	}
}

func rationaleFor(d Domain, tel Telemetry) RationaleCode {
	switch d {
	case DomainMemory:
		return RationaleMemHighFrag
	case DomainScheduling:
		return RationaleSchedMissSpike
	default:
		if tel.RecentInferConf < 0.5 {
			return RationaleOodAlert
		}
		return RationaleWatchdogLowReward
	}
}

func absf(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

// Controller runs the autonomy loop: each tick samples telemetry,
// arbitrates, applies the Decision within rate limits and the watchdog
// gate, and audits the outcome.
type Controller struct {
	Weights           Weights
	WatchdogThreshold float64
	Audit             audit.Appender
	NowNs             func() int64

	limiter *rate.Limiter

	watchdogTriggers int
	reference        Telemetry
	haveReference    bool
	drift            DriftClass
	coolDownUntilNs  int64
}

// NewController constructs a controller with the default rate limit and
// watchdog threshold.
func NewController(w Weights, appender audit.Appender, nowNs func() int64) *Controller {
	threshold := DefaultWatchdogThreshold
	return &Controller{
		Weights:           w,
		WatchdogThreshold: threshold,
		Audit:             appender,
		NowNs:             nowNs,
		limiter:           rate.NewLimiter(rate.Every(time.Hour/MaxDecisionsPerHour), 1),
	}
}

// Tick samples tel, arbitrates, and attempts to apply the resulting
// Decision, subject to the watchdog gate and the hard per-hour limit.
func (c *Controller) Tick(tel Telemetry) (Decision, error) {
	now := c.now()
	c.updateDrift(tel, now)

	threshold := c.WatchdogThreshold
	if c.drift == DriftAlert && now < c.coolDownUntilNs {
		threshold += 0.1
		if threshold > 1 {
			threshold = 1
		}
	}

	decision := metaArbitrate(tel, c.Weights)

	if decision.Confidence < threshold {
		decision.Blocked = true
		c.watchdogTriggers++
		c.auditDecision(decision, audit.StatusReject, now)
		return decision, nil
	}

	if !c.limiter.AllowN(timeFromNs(now), 1) {
		c.auditDecision(decision, audit.StatusReject, now)
		return Decision{}, kernelerr.New(kernelerr.KindHardLimitExceeded, "autonomy decisions/hour exceeded")
	}

	c.auditDecision(decision, audit.StatusOk, now)
	klog.Info("autonomy", "applied decision domain=%d magnitude=%.3f confidence=%.3f rationale=%d",
		decision.Domain, decision.Magnitude, decision.Confidence, decision.Rationale)
	return decision, nil
}

func (c *Controller) auditDecision(d Decision, status audit.StatusBits, now int64) {
	if c.Audit == nil {
		return
	}
	c.Audit.Append(audit.Entry{
		TsNs:          now,
		Op:            audit.OpDecision,
		Status:        status,
		RationaleCode: uint16(d.Rationale),
	})
}

// WatchdogTriggers returns how many decisions the watchdog has blocked.
func (c *Controller) WatchdogTriggers() int { return c.watchdogTriggers }

// DriftClass returns the current OOD/drift classification.
func (c *Controller) DriftClass() DriftClass { return c.drift }

// SetReference establishes the telemetry distribution drift is measured
// against.
func (c *Controller) SetReference(tel Telemetry) {
	c.reference = tel
	c.haveReference = true
}

const driftCoolDown = 30 * time.Second

func (c *Controller) updateDrift(tel Telemetry, nowNs int64) {
	if !c.haveReference {
		c.SetReference(tel)
		c.drift = DriftOK
		return
	}

	dist := absf(tel.HeapUsedFraction-c.reference.HeapUsedFraction) +
		absf(tel.IRQLatencyP99Us-c.reference.IRQLatencyP99Us)/1000 +
		absf(tel.SchedMissesPerMin-c.reference.SchedMissesPerMin)/10 +
		absf(tel.RecentInferConf-c.reference.RecentInferConf)

	switch {
	case dist > 1.5:
		c.drift = DriftAlert
		c.coolDownUntilNs = nowNs + driftCoolDown.Nanoseconds()
	case dist > 0.75:
		c.drift = DriftWarning
	default:
		c.drift = DriftOK
	}
}

func (c *Controller) now() int64 {
	if c.NowNs != nil {
		return c.NowNs()
	}
	return time.Now().UnixNano()
}

func timeFromNs(ns int64) time.Time {
	return time.Unix(0, ns)
}
