package sched

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAdmissionSequenceRespectsUMax(t *testing.T) {
	s := New(DefaultConfig())

	a, err := s.Spawn(10, 0x1)
	require.NoError(t, err)
	b, err := s.Spawn(10, 0x1)
	require.NoError(t, err)
	c, err := s.Spawn(10, 0x1)
	require.NoError(t, err)

	require.NoError(t, s.Admit(a, 20*int64(time.Millisecond), 100*int64(time.Millisecond), 0))
	require.NoError(t, s.Admit(b, 60*int64(time.Millisecond), 100*int64(time.Millisecond), 0))

	err = s.Admit(c, 40*int64(time.Millisecond), 100*int64(time.Millisecond), 0)
	require.Error(t, err)
	denied, ok := err.(*AdmissionDeniedError)
	require.True(t, ok)
	require.InDelta(t, 1.2, denied.UtilAfter, 1e-6)

	require.InDelta(t, 0.8, s.Utilisation(), 1e-6)
}

func TestAdmissionRejectsInvalidPeriod(t *testing.T) {
	s := New(DefaultConfig())
	id, err := s.Spawn(5, 0x1)
	require.NoError(t, err)
	require.Error(t, s.Admit(id, 10, 0, 0))
	require.Error(t, s.Admit(id, 0, 10, 0))
}

func TestSpawnQuotaExceeded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTasks = 2
	s := New(cfg)
	_, err := s.Spawn(1, 0)
	require.NoError(t, err)
	_, err = s.Spawn(1, 0)
	require.NoError(t, err)
	_, err = s.Spawn(1, 0)
	require.Error(t, err)
}

func TestEDFDispatchesEarliestDeadlineFirst(t *testing.T) {
	s := New(DefaultConfig())

	slow, _ := s.Spawn(1, 0x1)
	fast, _ := s.Spawn(1, 0x1)

	require.NoError(t, s.Admit(slow, int64(20*time.Millisecond), int64(200*time.Millisecond), 0))
	require.NoError(t, s.Admit(fast, int64(10*time.Millisecond), int64(50*time.Millisecond), 0))

	s.Tick(0)
	running, ok := s.Running()
	require.True(t, ok)
	require.Equal(t, fast, running, "task with the nearer deadline must dispatch first")

	_ = slow
}

func TestConsecutiveDeadlineMissesTerminateTask(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConsecutiveMisses = 2
	s := New(cfg)

	id, _ := s.Spawn(1, 0x1)
	require.NoError(t, s.Admit(id, int64(10*time.Millisecond), int64(20*time.Millisecond), 0))

	s.Tick(0)
	running, ok := s.Running()
	require.True(t, ok)
	require.Equal(t, id, running)

	// Advance far past budget and deadline repeatedly without ever
	// yielding, forcing consecutive misses.
	now := int64(100 * time.Millisecond)
	s.Tick(now)
	now += int64(100 * time.Millisecond)
	s.Tick(now)

	st, ok := s.State(id)
	require.True(t, ok)
	require.Equal(t, StateTerminated, st.State)
	require.Equal(t, ReasonDeadlineStarvation, st.TerminationReason)
}

func TestFullBudgetConsumptionWithoutDeadlineOverrunIsNotAMiss(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConsecutiveMisses = 2
	s := New(cfg)

	id, _ := s.Spawn(1, 0x1)
	q, t1 := int64(10*time.Millisecond), int64(100*time.Millisecond)
	require.NoError(t, s.Admit(id, q, t1, 0))

	s.Tick(0)
	running, ok := s.Running()
	require.True(t, ok)
	require.Equal(t, id, running)

	// Each tick exhausts the budget (consumes Q) well before the period's
	// deadline elapses (T), the ordinary behavior of a fully-compliant,
	// continuously-running CBS task. This must never be recorded as a
	// deadline miss, no matter how many periods it runs for.
	now := int64(0)
	for i := 0; i < 5; i++ {
		now += q
		s.Tick(now)

		st, ok := s.State(id)
		require.True(t, ok)
		require.NotEqual(t, StateTerminated, st.State, "iteration %d", i)
	}

	require.Zero(t, s.Metrics().DeterministicDeadlineMissCount)
	require.Equal(t, BreakerClosed, s.BreakerState(now))
}

func TestBlockAndWakeRemovesAndRestoresReadyMembership(t *testing.T) {
	s := New(DefaultConfig())
	id, _ := s.Spawn(1, 0x1)
	require.NoError(t, s.Admit(id, int64(10*time.Millisecond), int64(100*time.Millisecond), 0))

	s.Block(id)
	st, _ := s.State(id)
	require.Equal(t, StateBlocked, st.State)

	s.Wake(id)
	st, _ = s.State(id)
	require.Equal(t, StateReady, st.State)
}

func TestCircuitBreakerOpensOnRepeatedDenials(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BreakerTripThreshold = 2
	cfg.BreakerResetTimeout = time.Second
	cfg.UMax = 0.1
	s := New(cfg)

	id, _ := s.Spawn(1, 0x1)
	_ = s.Admit(id, int64(50*time.Millisecond), int64(100*time.Millisecond), 0)
	_ = s.Admit(id, int64(50*time.Millisecond), int64(100*time.Millisecond), 0)

	require.Equal(t, BreakerOpen, s.BreakerState(0))

	id2, _ := s.Spawn(1, 0x1)
	err := s.Admit(id2, int64(1*time.Millisecond), int64(100*time.Millisecond), 0)
	require.Error(t, err)
}
