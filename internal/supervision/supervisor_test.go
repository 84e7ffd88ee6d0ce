package supervision

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ai-native-os/corekernel/internal/audit"
)

func TestAgentFaultRecoverySequence(t *testing.T) {
	reg := NewRegistry()
	telemetry := NewTelemetryAggregator()
	chain := audit.NewChain(64, audit.DemoHasher{})

	nextPID := uint64(100)
	spawner := func(agentID uint64) (uint64, error) {
		nextPID++
		return nextPID, nil
	}

	sup := &Supervisor{Registry: reg, Telemetry: telemetry, Audit: chain, Respawn: spawner}

	agentID, err := reg.OnSpawn(1, "G", CapFsBasic, "default", true, 2, 0)
	require.NoError(t, err)

	fault := Fault{Kind: FaultCrashed, Signal: 11}

	action, err := sup.OnFault(agentID, fault, 1)
	require.NoError(t, err)
	require.Equal(t, ActionRestart, action)
	m, _ := reg.Get(agentID)
	require.Equal(t, 1, m.RestartCount)
	require.True(t, m.Active)
	score1 := ComplianceScore(telemetry.Counters(agentID))

	action, err = sup.OnFault(agentID, fault, 2)
	require.NoError(t, err)
	require.Equal(t, ActionRestart, action)
	m, _ = reg.Get(agentID)
	require.Equal(t, 2, m.RestartCount)
	require.True(t, m.Active)
	score2 := ComplianceScore(telemetry.Counters(agentID))

	action, err = sup.OnFault(agentID, fault, 3)
	require.NoError(t, err)
	require.Equal(t, ActionRestart, action)
	m, _ = reg.Get(agentID)
	require.False(t, m.Active, "third crash beyond max_restarts must deactivate the agent")
	score3 := ComplianceScore(telemetry.Counters(agentID))

	require.LessOrEqual(t, score2, score1, "compliance score must not increase across repeated faults")
	require.LessOrEqual(t, score3, score2)
}

func TestCapabilityViolationKillsImmediately(t *testing.T) {
	reg := NewRegistry()
	telemetry := NewTelemetryAggregator()
	sup := &Supervisor{Registry: reg, Telemetry: telemetry}

	agentID, _ := reg.OnSpawn(1, "bad-agent", CapFsBasic, "default", true, 5, 0)
	action, err := sup.OnFault(agentID, Fault{Kind: FaultCapabilityViolation, Cap: CapAdmin}, 0)
	require.NoError(t, err)
	require.Equal(t, ActionKill, action)

	m, _ := reg.Get(agentID)
	require.False(t, m.Active)
}

func TestPolicyControllerRejectsNonAdminGrantingAdmin(t *testing.T) {
	reg := NewRegistry()
	agentID, _ := reg.OnSpawn(1, "agent", CapFsBasic, "default", false, 0, 0)
	pc := &PolicyController{Registry: reg}

	err := pc.Apply(Patch{Kind: PatchAddCapability, AgentID: agentID, Capability: CapAdmin, Signer: "not-admin"}, 0)
	require.Error(t, err)

	err = pc.Apply(Patch{Kind: PatchAddCapability, AgentID: agentID, Capability: CapAdmin, Signer: "root", SignerIsAdmin: true}, 0)
	require.NoError(t, err)

	m, _ := reg.Get(agentID)
	require.True(t, m.HasCapability(CapAdmin))
}
