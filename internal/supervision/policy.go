package supervision

import (
	"github.com/ai-native-os/corekernel/internal/audit"
	"github.com/ai-native-os/corekernel/internal/kernelerr"
)

// PatchKind enumerates the policy patch forms spec §4.I names.
type PatchKind int

const (
	PatchAddCapability PatchKind = iota
	PatchRemoveCapability
	PatchUpdateScope
	PatchEnableAutoRestart
	PatchDisableAutoRestart
)

// Patch is one policy mutation request.
type Patch struct {
	Kind       PatchKind
	AgentID    uint64
	Capability Capability
	Scope      string
	MaxRestarts int
	Signer     string
	SignerIsAdmin bool
}

// PolicyController validates and applies Patch values against the
// registry, auditing every patch (spec §4.I).
type PolicyController struct {
	Registry *Registry
	Audit    audit.Appender
}

// Apply validates patch (rejecting any AddCapability(Admin) unless the
// signer itself holds Admin) and applies it to the target agent.
func (pc *PolicyController) Apply(p Patch, nowNs int64) error {
	if p.Kind == PatchAddCapability && p.Capability&CapAdmin != 0 && !p.SignerIsAdmin {
		pc.audit(p, audit.StatusReject, nowNs)
		return kernelerr.New(kernelerr.KindCapabilityDenied, "signer %q cannot grant Admin", p.Signer)
	}

	m, ok := pc.Registry.Get(p.AgentID)
	if !ok {
		pc.audit(p, audit.StatusReject, nowNs)
		return kernelerr.New(kernelerr.KindPolicyInvalid, "unknown agent %d", p.AgentID)
	}

	pc.Registry.mu.Lock()
	target := pc.Registry.byAgentID[p.AgentID]
	switch p.Kind {
	case PatchAddCapability:
		target.Capabilities |= p.Capability
	case PatchRemoveCapability:
		target.Capabilities &^= p.Capability
	case PatchUpdateScope:
		target.Scope = p.Scope
	case PatchEnableAutoRestart:
		target.AutoRestart = true
		target.MaxRestarts = p.MaxRestarts
	case PatchDisableAutoRestart:
		target.AutoRestart = false
	}
	pc.Registry.mu.Unlock()

	_ = m
	pc.audit(p, audit.StatusOk, nowNs)
	return nil
}

func (pc *PolicyController) audit(p Patch, status audit.StatusBits, nowNs int64) {
	if pc.Audit == nil {
		return
	}
	pc.Audit.Append(audit.Entry{
		TsNs:          nowNs,
		Op:            audit.OpPolicy,
		Status:        status,
		RationaleCode: uint16(p.Kind),
	})
}
