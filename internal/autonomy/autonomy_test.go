package autonomy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ai-native-os/corekernel/internal/audit"
)

func weights() Weights {
	return Weights{Memory: 1, Scheduling: 1, Command: 1, Tiebreaker: DomainMemory}
}

func TestWatchdogBlocksLowConfidenceDecisions(t *testing.T) {
	chain := audit.NewChain(64, audit.DemoHasher{})
	now := int64(0)
	c := NewController(weights(), chain, func() int64 { return now })

	tel := Telemetry{HeapUsedFraction: 0.5, SchedMissesPerMin: 0.5, RecentInferConf: 0.5, IRQLatencyP99Us: 100}
	d, err := c.Tick(tel)
	require.NoError(t, err)
	if d.Confidence < c.WatchdogThreshold {
		require.True(t, d.Blocked)
		require.Equal(t, 1, c.WatchdogTriggers())
	}
}

func TestHighMagnitudeMemoryPressureIsChosen(t *testing.T) {
	chain := audit.NewChain(64, audit.DemoHasher{})
	c := NewController(weights(), chain, func() int64 { return 0 })

	tel := Telemetry{HeapUsedFraction: 0.95, SchedMissesPerMin: 0, RecentInferConf: 1.0, IRQLatencyP99Us: 10}
	d, err := c.Tick(tel)
	require.NoError(t, err)
	require.Equal(t, DomainMemory, d.Domain)
}

func TestRateLimitRejectsBeyondMaxPerHour(t *testing.T) {
	chain := audit.NewChain(1024, audit.DemoHasher{})
	c := NewController(weights(), chain, nil)
	c.WatchdogThreshold = 0 // force every decision through the watchdog gate

	now := time.Now()
	blockedByLimit := false
	for i := 0; i < MaxDecisionsPerHour+5; i++ {
		c.NowNs = func(n int64) func() int64 { return func() int64 { return n } }(now.UnixNano())
		now = now.Add(10 * time.Millisecond)
		tel := Telemetry{HeapUsedFraction: 0.9, SchedMissesPerMin: 1, RecentInferConf: 0.9, IRQLatencyP99Us: 5}
		_, err := c.Tick(tel)
		if err != nil {
			blockedByLimit = true
			break
		}
	}
	require.True(t, blockedByLimit, "expected HardLimitExceeded once the per-hour budget is exhausted")
}

func TestDriftClassificationEscalatesOnDivergence(t *testing.T) {
	chain := audit.NewChain(64, audit.DemoHasher{})
	c := NewController(weights(), chain, func() int64 { return 0 })

	c.SetReference(Telemetry{HeapUsedFraction: 0.1, IRQLatencyP99Us: 10, SchedMissesPerMin: 0, RecentInferConf: 0.95})
	_, _ = c.Tick(Telemetry{HeapUsedFraction: 0.95, IRQLatencyP99Us: 5000, SchedMissesPerMin: 50, RecentInferConf: 0.1})

	require.Equal(t, DriftAlert, c.DriftClass())
}
