// Package kernelerr defines the closed error taxonomy the core reports
// across subsystems. Setup failures are fatal (see Panic); all others are
// returned as ordinary Go errors and must never cross the ISR boundary.
package kernelerr

import "fmt"

// Kind identifies which closed taxonomy bucket an error belongs to. It is
// carried alongside the error so shell adapters and the audit chain can
// record a stable, small rationale code instead of formatting a string.
type Kind int

const (
	KindUnknown Kind = iota

	// Setup
	KindPlatformMissing
	KindMmuMapOverflow
	KindTimerFreqInvalid
	KindHeapTooLarge

	// Scheduling
	KindAdmissionDenied
	KindDeadlineMiss
	KindCircuitBreakerOpen
	KindSpawnQuotaExceeded

	// Inference
	KindModelNotFound
	KindModelTooLarge
	KindModelFormatInvalid
	KindArenaFull
	KindTokenBudgetExceeded

	// Autonomy
	KindWatchdogBlocked
	KindHardLimitExceeded
	KindOodAlert

	// Policy / ASM
	KindCapabilityDenied
	KindPolicyInvalid
	KindAgentFault

	// Audit / Config
	KindChainCorruption
	KindSignatureInvalid
	KindProposalNotFound

	// Protocol
	KindFrameMalformed
	KindCrcMismatch
	KindTokenInvalid
)

func (k Kind) String() string {
	switch k {
	case KindPlatformMissing:
		return "PlatformMissing"
	case KindMmuMapOverflow:
		return "MmuMapOverflow"
	case KindTimerFreqInvalid:
		return "TimerFreqInvalid"
	case KindHeapTooLarge:
		return "HeapTooLarge"
	case KindAdmissionDenied:
		return "AdmissionDenied"
	case KindDeadlineMiss:
		return "DeadlineMiss"
	case KindCircuitBreakerOpen:
		return "CircuitBreakerOpen"
	case KindSpawnQuotaExceeded:
		return "SpawnQuotaExceeded"
	case KindModelNotFound:
		return "ModelNotFound"
	case KindModelTooLarge:
		return "ModelTooLarge"
	case KindModelFormatInvalid:
		return "ModelFormatInvalid"
	case KindArenaFull:
		return "ArenaFull"
	case KindTokenBudgetExceeded:
		return "TokenBudgetExceeded"
	case KindWatchdogBlocked:
		return "WatchdogBlocked"
	case KindHardLimitExceeded:
		return "HardLimitExceeded"
	case KindOodAlert:
		return "OodAlert"
	case KindCapabilityDenied:
		return "CapabilityDenied"
	case KindPolicyInvalid:
		return "PolicyInvalid"
	case KindAgentFault:
		return "AgentFault"
	case KindChainCorruption:
		return "ChainCorruption"
	case KindSignatureInvalid:
		return "SignatureInvalid"
	case KindProposalNotFound:
		return "ProposalNotFound"
	case KindFrameMalformed:
		return "FrameMalformed"
	case KindCrcMismatch:
		return "CrcMismatch"
	case KindTokenInvalid:
		return "TokenInvalid"
	default:
		return "Unknown"
	}
}

// Error is a recoverable kernel error: a Kind plus a formatted detail.
type Error struct {
	Kind   Kind
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// New constructs a recoverable Error.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Is allows errors.Is(err, kernelerr.New(KindX, "")) style matching by Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// FatalError is raised by setup-phase failures (§7: "setup errors are fatal
// and panic with a compact code"). No code in this module recovers it:
// the panic propagates to the caller, and the audit chain is not flushed
// and IRQs are not disabled on the way out.
type FatalError struct {
	Kind Kind
	Code string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal[%s]: %s", e.Kind, e.Code)
}

// Panic raises a FatalError. Only setup code (platform, mmu, timer, heap
// construction) may call this.
func Panic(kind Kind, code string) {
	panic(&FatalError{Kind: kind, Code: code})
}
