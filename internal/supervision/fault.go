package supervision

// FaultKind is the sum type of supervised-agent faults (spec §3).
type FaultKind int

const (
	FaultNone FaultKind = iota
	FaultCPUQuotaExceeded
	FaultMemoryExceeded
	FaultSyscallFlood
	FaultCrashed
	FaultCapabilityViolation
	FaultUnresponsive
	FaultPolicyViolation
)

// Fault is a classified incident attributed to an agent.
type Fault struct {
	Kind      FaultKind
	Signal    int        // valid when Kind == FaultCrashed
	Cap       Capability // valid when Kind == FaultCapabilityViolation
	Reason    string     // valid when Kind == FaultPolicyViolation
}

// RecoveryAction is the response the supervisor takes to a Fault.
type RecoveryAction int

const (
	ActionKill RecoveryAction = iota
	ActionThrottle
	ActionRestart
	ActionAlert
)

// DefaultRecovery is each fault kind's default recovery action (spec §3),
// overridable by a RecoveryPolicy.
func DefaultRecovery(kind FaultKind) RecoveryAction {
	switch kind {
	case FaultCPUQuotaExceeded:
		return ActionThrottle
	case FaultMemoryExceeded:
		return ActionThrottle
	case FaultSyscallFlood:
		return ActionThrottle
	case FaultCrashed:
		return ActionRestart
	case FaultCapabilityViolation:
		return ActionKill
	case FaultUnresponsive:
		return ActionRestart
	case FaultPolicyViolation:
		return ActionAlert
	default:
		return ActionAlert
	}
}

// RecoveryPolicy overrides the default fault-kind -> action mapping.
type RecoveryPolicy struct {
	Overrides map[FaultKind]RecoveryAction
}

// ActionFor resolves the action for kind, consulting overrides first.
func (p RecoveryPolicy) ActionFor(kind FaultKind) RecoveryAction {
	if p.Overrides != nil {
		if a, ok := p.Overrides[kind]; ok {
			return a
		}
	}
	return DefaultRecovery(kind)
}

// FaultDetector exposes the pure predicates spec §4.I names; each
// returns (Fault, true) iff the corresponding condition has tripped.
type FaultDetector struct {
	CPUQuotaCycles    uint64
	MemoryLimitBytes  uint64
	SyscallRateLimit  float64
	UnresponsiveAfterUs int64
}

func (d FaultDetector) CheckCPUQuota(usedCycles uint64) (Fault, bool) {
	if d.CPUQuotaCycles > 0 && usedCycles > d.CPUQuotaCycles {
		return Fault{Kind: FaultCPUQuotaExceeded}, true
	}
	return Fault{}, false
}

func (d FaultDetector) CheckMemoryLimit(usedBytes uint64) (Fault, bool) {
	if d.MemoryLimitBytes > 0 && usedBytes > d.MemoryLimitBytes {
		return Fault{Kind: FaultMemoryExceeded}, true
	}
	return Fault{}, false
}

func (d FaultDetector) CheckSyscallRate(ratePerSec float64) (Fault, bool) {
	if d.SyscallRateLimit > 0 && ratePerSec > d.SyscallRateLimit {
		return Fault{Kind: FaultSyscallFlood}, true
	}
	return Fault{}, false
}

func (d FaultDetector) CheckWatchdog(idleUs int64) (Fault, bool) {
	if d.UnresponsiveAfterUs > 0 && idleUs > d.UnresponsiveAfterUs {
		return Fault{Kind: FaultUnresponsive}, true
	}
	return Fault{}, false
}
