// Package sched implements the CBS-admission, EDF-dispatch scheduler (spec
// §4.F): the deterministic core the autonomy loop and inference engine ride
// on. It runs one ready queue for a single CPU; no operation takes a CPU
// identifier, and no multi-CPU behaviour is implemented.
package sched

import (
	"sync"
	"time"

	"github.com/ai-native-os/corekernel/internal/kernelerr"
	"github.com/ai-native-os/corekernel/internal/klog"
)

// DefaultUMax is the default for Config.UMax, the CBS utilisation bound
// (spec §3: "≤ 1.0").
const DefaultUMax = 1.0

// DefaultMaxConsecutiveMisses is the hard per-task deadline-miss limit that
// triggers circuit-breaker-driven termination (spec §4.F).
const DefaultMaxConsecutiveMisses = 5

// DefaultMaxTasks bounds the process table (SpawnQuotaExceeded).
const DefaultMaxTasks = 4096

// Config tunes the scheduler's admission bound and process table size.
type Config struct {
	UMax                 float64
	MaxTasks             int
	MaxConsecutiveMisses int
	BreakerTripThreshold int
	BreakerResetTimeout  time.Duration
}

// DefaultConfig returns the reference tuning.
func DefaultConfig() Config {
	return Config{
		UMax:                 DefaultUMax,
		MaxTasks:             DefaultMaxTasks,
		MaxConsecutiveMisses: DefaultMaxConsecutiveMisses,
		BreakerTripThreshold: 3,
		BreakerResetTimeout:  2 * time.Second,
	}
}

// Scheduler is a single-CPU CBS/EDF scheduler.
type Scheduler struct {
	mu sync.Mutex

	cfg     Config
	tasks   map[uint32]*Task
	nextID  uint32
	ready   readyQueue
	running *Task

	totalUtil float64
	breaker   *CircuitBreaker
	metrics   Metrics
}

// New constructs an empty scheduler.
func New(cfg Config) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		tasks:   make(map[uint32]*Task),
		breaker: NewCircuitBreaker(cfg.BreakerTripThreshold, cfg.BreakerResetTimeout),
	}
}

// Spawn creates a new Ready task and returns its id, or SpawnQuotaExceeded.
func (s *Scheduler) Spawn(priority uint8, affinity uint64) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.tasks) >= s.cfg.MaxTasks {
		return 0, kernelerr.New(kernelerr.KindSpawnQuotaExceeded, "process table full at %d", s.cfg.MaxTasks)
	}

	s.nextID++
	t := &Task{ID: s.nextID, Priority: priority, Affinity: affinity, State: StateReady, queueIndex: -1}
	s.tasks[t.ID] = t
	s.ready.insert(t)
	return t.ID, nil
}

// Admit performs CBS admission for an already-spawned task: accepts iff
// Σ(Q_i/T_i) over admitted servers + the new server's utilisation stays at
// or below UMax.
func (s *Scheduler) Admit(taskID uint32, budgetNs, periodNs int64, nowNs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return kernelerr.New(kernelerr.KindAdmissionDenied, "no such task %d", taskID)
	}
	if cbState := s.breaker.State(nowNs); cbState == BreakerOpen {
		return kernelerr.New(kernelerr.KindCircuitBreakerOpen, "admission blocked, breaker open")
	}
	if periodNs <= 0 || budgetNs <= 0 {
		return kernelerr.New(kernelerr.KindAdmissionDenied, "invalid Q/T (%d/%d)", budgetNs, periodNs)
	}

	newUtil := float64(budgetNs) / float64(periodNs)
	utilAfter := s.totalUtil + newUtil
	if utilAfter > s.cfg.UMax+1e-9 {
		s.metrics.DetAdmissionDeny++
		s.breaker.RecordFailure(nowNs)
		return &AdmissionDeniedError{UtilAfter: utilAfter}
	}

	t.CBS = &CBSServer{
		BudgetNs:          budgetNs,
		PeriodNs:          periodNs,
		BudgetRemainingNs: budgetNs,
		DeadlineNs:        nowNs + periodNs,
	}
	s.totalUtil = utilAfter
	s.ready.rekey(t)
	s.metrics.DetAdmissionOk++
	s.breaker.RecordSuccess(nowNs)
	klog.Info("sched", "admitted task %d: Q=%dns T=%dns util_after=%.3f", taskID, budgetNs, periodNs, utilAfter)
	return nil
}

// AdmissionDeniedError reports the post-rejection utilisation sum.
type AdmissionDeniedError struct {
	UtilAfter float64
}

func (e *AdmissionDeniedError) Error() string {
	return kernelerr.New(kernelerr.KindAdmissionDenied, "util_after=%.3f", e.UtilAfter).Error()
}

// SetPriority changes a task's static priority, re-keying it if Ready.
func (s *Scheduler) SetPriority(taskID uint32, priority uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return
	}
	t.Priority = priority
	if t.State == StateReady {
		s.ready.rekey(t)
	}
}

// SetAffinity changes a task's CPU affinity mask; effective on next
// dispatch.
func (s *Scheduler) SetAffinity(taskID uint32, mask uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[taskID]; ok {
		t.Affinity = mask
	}
}

// Tick is the scheduler heartbeat, invoked from the timer IRQ (or a
// voluntary yield). It drains the running task's budget, refills/advances
// CBS state on exhaustion or deadline passage, then preempts if the ready
// head now has an earlier deadline.
func (s *Scheduler) Tick(nowNs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running != nil {
		s.accountRunning(nowNs)
	}

	head := s.ready.peek()
	if head == nil {
		return
	}
	if s.running == nil || head.key().less(s.running.key()) {
		s.dispatch(head, nowNs)
	}
}

func (s *Scheduler) accountRunning(nowNs int64) {
	t := s.running
	if t.CBS == nil {
		return
	}

	elapsed := nowNs - t.lastDispatchNs
	if elapsed < 0 {
		elapsed = 0
	}
	t.CBS.BudgetRemainingNs -= elapsed
	s.metrics.CtxSwitchNs += elapsed

	// Budget exhaustion alone is normal full-utilization CBS behavior
	// (spec §3: "on budget exhaustion the server's deadline is advanced
	// by one period and budget refilled"); it is only a genuine miss —
	// counted against ConsecutiveMisses and the circuit breaker — once
	// now_ns has actually reached the deadline (spec §4.F).
	overrun := nowNs >= t.CBS.DeadlineNs
	exhausted := t.CBS.BudgetRemainingNs <= 0

	if overrun {
		s.recordMiss(t, nowNs)
		t.CBS.DeadlineNs += t.CBS.PeriodNs
		t.CBS.BudgetRemainingNs = t.CBS.BudgetNs
		t.ConsecutiveMisses++
		if t.ConsecutiveMisses >= s.cfg.MaxConsecutiveMisses {
			s.terminate(t, ReasonDeadlineStarvation)
			return
		}
	} else if exhausted {
		t.CBS.DeadlineNs += t.CBS.PeriodNs
		t.CBS.BudgetRemainingNs = t.CBS.BudgetNs
		t.ConsecutiveMisses = 0
	} else {
		t.ConsecutiveMisses = 0
	}

	if t.State == StateRunning {
		t.State = StateReady
		s.ready.insert(t)
	}
}

func (s *Scheduler) recordMiss(t *Task, nowNs int64) {
	jitter := nowNs - t.CBS.DeadlineNs
	s.metrics.recordJitter(jitter)
	s.metrics.DeterministicDeadlineMissCount++
	s.breaker.RecordFailure(nowNs)
}

func (s *Scheduler) terminate(t *Task, reason TerminationReason) {
	s.ready.remove(t)
	t.State = StateTerminated
	t.TerminationReason = reason
	if t.CBS != nil {
		s.totalUtil -= t.CBS.Utilisation()
	}
	if s.running == t {
		s.running = nil
	}
	klog.Warn("sched", "task %d terminated: %s", t.ID, reason)
}

func (s *Scheduler) dispatch(t *Task, nowNs int64) {
	if s.running != nil && s.running != t {
		prev := s.running
		if prev.State == StateRunning {
			prev.State = StateReady
			s.ready.insert(prev)
		}
	}
	s.ready.remove(t)
	t.State = StateRunning
	t.lastDispatchNs = nowNs
	s.running = t
}

// YieldNow voluntarily reschedules the calling (running) task.
func (s *Scheduler) YieldNow(nowNs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running == nil {
		return
	}
	s.accountRunning(nowNs)
	if head := s.ready.peek(); head != nil {
		s.dispatch(head, nowNs)
	}
}

// Block moves a task to Blocked, removing it from the ready queue.
func (s *Scheduler) Block(taskID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return
	}
	if t.State == StateReady {
		s.ready.remove(t)
	}
	if s.running == t {
		s.running = nil
	}
	t.State = StateBlocked
}

// Wake moves a Blocked task back to Ready and re-keys it into the queue.
func (s *Scheduler) Wake(taskID uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok || t.State != StateBlocked {
		return
	}
	t.State = StateReady
	s.ready.insert(t)
}

// Running returns the id of the currently-running task on this CPU, or
// (0, false) if none.
func (s *Scheduler) Running() (uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running == nil {
		return 0, false
	}
	return s.running.ID, true
}

// State returns a copy of a task's scheduling state.
func (s *Scheduler) State(taskID uint32) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// Utilisation returns Σ(Q/T) over currently-admitted servers.
func (s *Scheduler) Utilisation() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalUtil
}

// Metrics returns a snapshot of the scheduler's ISR-safe counters.
func (s *Scheduler) Metrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}

// BreakerState reports the circuit breaker's current state.
func (s *Scheduler) BreakerState(nowNs int64) BreakerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.breaker.State(nowNs)
}

// Workloads returns a copy of every task in the process table, admitted
// or not, for shell/telemetry introspection (`schedctl workloads`, spec
// §6.4).
func (s *Scheduler) Workloads() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, *t)
	}
	return out
}
