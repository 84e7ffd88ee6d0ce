// Package supervision implements the Agent Supervision Module of spec
// §4.I: an agent registry, fault detection, recovery policy, a
// capability-scoped policy controller, and a telemetry/compliance
// tracker.
package supervision

import (
	"sync"

	"github.com/ai-native-os/corekernel/internal/kernelerr"
)

// Capability is a named permission an agent may hold (spec §3).
type Capability uint32

const (
	CapFsBasic Capability = 1 << iota
	CapNetBasic
	CapAdmin
)

// AgentMetadata is the registry's stored record per spec §3.
type AgentMetadata struct {
	AgentID      uint64
	PID          uint64
	Name         string
	Capabilities Capability
	Scope        string
	AutoRestart  bool
	MaxRestarts  int
	RestartCount int
	SpawnTimeNs  int64
	LastActivityNs int64
	Active       bool
}

// HasCapability reports whether m holds all bits of c.
func (m AgentMetadata) HasCapability(c Capability) bool {
	return m.Capabilities&c == c
}

// Registry maps agent_id <-> pid bijectively over active agents (spec §3
// invariant).
type Registry struct {
	mu        sync.Mutex
	byAgentID map[uint64]*AgentMetadata
	byPID     map[uint64]uint64
	nextID    uint64
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byAgentID: make(map[uint64]*AgentMetadata),
		byPID:     make(map[uint64]uint64),
	}
}

// OnSpawn registers a newly spawned agent and returns its agent_id (spec
// §4.I lifecycle hook).
func (r *Registry) OnSpawn(pid uint64, name string, caps Capability, scope string, autoRestart bool, maxRestarts int, nowNs int64) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byPID[pid]; exists {
		return 0, kernelerr.New(kernelerr.KindAgentFault, "pid %d already registered", pid)
	}

	r.nextID++
	id := r.nextID
	r.byAgentID[id] = &AgentMetadata{
		AgentID:        id,
		PID:            pid,
		Name:           name,
		Capabilities:   caps,
		Scope:          scope,
		AutoRestart:    autoRestart,
		MaxRestarts:    maxRestarts,
		SpawnTimeNs:    nowNs,
		LastActivityNs: nowNs,
		Active:         true,
	}
	r.byPID[pid] = id
	return id, nil
}

// OnExit removes the pid -> agent_id mapping (the agent's history record
// remains retrievable by agent_id for compliance scoring).
func (r *Registry) OnExit(pid uint64, code int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byPID[pid]
	if !ok {
		return
	}
	if m, ok := r.byAgentID[id]; ok {
		m.Active = false
	}
	delete(r.byPID, pid)
}

// Get returns a copy of the agent's metadata.
func (r *Registry) Get(agentID uint64) (AgentMetadata, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byAgentID[agentID]
	if !ok {
		return AgentMetadata{}, false
	}
	return *m, true
}

// LookupByPID resolves an agent_id from a pid.
func (r *Registry) LookupByPID(pid uint64) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byPID[pid]
	return id, ok
}

// List returns a snapshot of every registered agent.
func (r *Registry) List() []AgentMetadata {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]AgentMetadata, 0, len(r.byAgentID))
	for _, m := range r.byAgentID {
		out = append(out, *m)
	}
	return out
}

// Respawn increments an agent's restart_count and re-establishes its pid
// mapping after a recovery-triggered restart.
func (r *Registry) Respawn(agentID uint64, newPID uint64, nowNs int64) (AgentMetadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.byAgentID[agentID]
	if !ok {
		return AgentMetadata{}, kernelerr.New(kernelerr.KindAgentFault, "unknown agent %d", agentID)
	}
	m.RestartCount++
	if r.byPID[m.PID] == agentID {
		delete(r.byPID, m.PID)
	}
	m.PID = newPID
	m.Active = true
	m.LastActivityNs = nowNs
	r.byPID[newPID] = agentID
	return *m, nil
}

// Deactivate marks an agent permanently inactive (e.g. after exhausting
// its restart budget).
func (r *Registry) Deactivate(agentID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.byAgentID[agentID]; ok {
		m.Active = false
		delete(r.byPID, m.PID)
	}
}

// UpdateActivity bumps an agent's last-activity timestamp (used by
// check_watchdog).
func (r *Registry) UpdateActivity(agentID uint64, nowNs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.byAgentID[agentID]; ok {
		m.LastActivityNs = nowNs
	}
}
