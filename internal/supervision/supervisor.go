package supervision

import (
	"github.com/ai-native-os/corekernel/internal/audit"
	"github.com/ai-native-os/corekernel/internal/klog"
)

// Spawner creates a new OS-level process for a respawn and returns its
// pid; injected so the supervisor never owns process-creation mechanics
// directly.
type Spawner func(agentID uint64) (pid uint64, err error)

// Supervisor wires the registry, fault detector, recovery policy, and
// telemetry aggregator into the on_fault lifecycle hook of spec §4.I.
type Supervisor struct {
	Registry   *Registry
	Detector   FaultDetector
	Policy     RecoveryPolicy
	Telemetry  *TelemetryAggregator
	Audit      audit.Appender
	Respawn    Spawner
}

// OnFault consults the recovery policy for fault.Kind, executes the
// resulting action, and records the event (spec §4.I: "On Some(fault)
// the supervisor consults a recovery policy ... executes it, and records
// the event").
func (s *Supervisor) OnFault(agentID uint64, fault Fault, nowNs int64) (RecoveryAction, error) {
	action := s.Policy.ActionFor(fault.Kind)
	s.Telemetry.RecordFault(agentID, fault.Kind, nowNs)

	m, ok := s.Registry.Get(agentID)
	if !ok {
		return action, nil
	}

	switch action {
	case ActionKill:
		s.Registry.Deactivate(agentID)
		s.auditAction(agentID, "Kill", nowNs)
	case ActionThrottle:
		s.auditAction(agentID, "Throttle", nowNs)
	case ActionAlert:
		s.auditAction(agentID, "Alert", nowNs)
	case ActionRestart:
		s.handleRestart(agentID, m, nowNs)
	}

	return action, nil
}

func (s *Supervisor) handleRestart(agentID uint64, m AgentMetadata, nowNs int64) {
	if !m.AutoRestart || m.RestartCount >= m.MaxRestarts {
		s.Registry.Deactivate(agentID)
		s.auditAction(agentID, "Kill", nowNs)
		return
	}

	if s.Respawn == nil {
		s.Registry.Deactivate(agentID)
		s.auditAction(agentID, "Kill", nowNs)
		return
	}

	pid, err := s.Respawn(agentID)
	if err != nil {
		s.Registry.Deactivate(agentID)
		s.auditAction(agentID, "Kill", nowNs)
		return
	}

	if _, err := s.Registry.Respawn(agentID, pid, nowNs); err != nil {
		klog.Warn("supervision", "respawn bookkeeping failed for agent %d: %v", agentID, err)
		return
	}
	s.auditAction(agentID, "Restart", nowNs)
}

func (s *Supervisor) auditAction(agentID uint64, action string, nowNs int64) {
	if s.Audit == nil {
		return
	}
	s.Audit.Append(audit.Entry{
		TsNs:   nowNs,
		Op:     audit.OpDecision,
		Status: audit.StatusOk,
		Tokens: uint32(agentID),
	})
	klog.Debug("supervision", "agent %d: %s", agentID, action)
}
