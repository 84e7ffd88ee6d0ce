// Package config implements the versioned configuration quarantine of
// spec §4.K: proposals land in a pending queue, are validated (signature,
// semver gate), and committed atomically into an append-only hash-linked
// ring identical in shape to the audit chain.
package config

import (
	"sort"
	"sync"

	"golang.org/x/mod/semver"

	"github.com/ai-native-os/corekernel/internal/audit"
	"github.com/ai-native-os/corekernel/internal/kernelerr"
)

// Version is a committed configuration snapshot (spec §3 "Configuration
// version").
type Version struct {
	ID        uint64
	TsNs      int64
	PrevHash  []byte
	HeadHash  []byte
	Values    map[string]string
	Signer    string
}

// Proposal is a pending, not-yet-committed configuration change.
type Proposal struct {
	ID               uint64
	Values           map[string]string
	Signature        []byte
	Signer           string
	MinKernelVersion string
}

// Verifier checks a signature over a proposal's canonical value set. Real
// signature checking is an injected capability exactly like the audit
// chain's hasher (spec §9).
type Verifier interface {
	Verify(p Proposal) bool
}

// AlwaysValid accepts every signature; used when no signer key is
// configured (unsigned/demo mode).
type AlwaysValid struct{}

func (AlwaysValid) Verify(Proposal) bool { return true }

// SignerKeyVerifier accepts proposals whose Signature matches a
// pre-shared expected signature for their Signer.
type SignerKeyVerifier struct {
	Keys map[string][]byte
}

func (v SignerKeyVerifier) Verify(p Proposal) bool {
	want, ok := v.Keys[p.Signer]
	if !ok {
		return false
	}
	if len(want) != len(p.Signature) {
		return false
	}
	for i := range want {
		if want[i] != p.Signature[i] {
			return false
		}
	}
	return true
}

// KernelVersion is the running kernel's semver, checked against a
// proposal's MinKernelVersion gate.
const KernelVersion = "v0.1.0"

// Quarantine is the propose/commit/status state machine.
type Quarantine struct {
	mu       sync.Mutex
	verifier Verifier
	chain    *audit.Chain
	pending  map[uint64]Proposal
	committed []Version
	nextID   uint64
	nowNs    func() int64
}

// New constructs an empty quarantine backed by the given hasher and
// signature verifier.
func New(hasher audit.Hasher, verifier Verifier, nowNs func() int64) *Quarantine {
	if verifier == nil {
		verifier = AlwaysValid{}
	}
	return &Quarantine{
		verifier: verifier,
		chain:    audit.NewChain(0, hasher),
		pending:  make(map[uint64]Proposal),
		nowNs:    nowNs,
	}
}

// Propose inserts a proposal into the pending queue, returning its id.
func (q *Quarantine) Propose(values map[string]string, signature []byte, signer, minKernelVersion string) uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	id := q.nextID
	q.pending[id] = Proposal{
		ID:               id,
		Values:           values,
		Signature:        signature,
		Signer:           signer,
		MinKernelVersion: minKernelVersion,
	}
	return id
}

// Commit validates proposal id (signature, semver gate) and atomically
// appends a new Version to the committed ring. Re-committing an id that
// has already been committed is idempotent (spec §4.K invariant): it
// returns the existing version without creating a duplicate.
func (q *Quarantine) Commit(id uint64) (Version, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, v := range q.committed {
		if v.ID == id {
			return v, nil
		}
	}

	p, ok := q.pending[id]
	if !ok {
		return Version{}, kernelerr.New(kernelerr.KindProposalNotFound, "proposal %d", id)
	}

	if !q.verifier.Verify(p) {
		return Version{}, kernelerr.New(kernelerr.KindSignatureInvalid, "proposal %d", id)
	}

	if p.MinKernelVersion != "" && semver.IsValid(p.MinKernelVersion) {
		if semver.Compare(KernelVersion, p.MinKernelVersion) < 0 {
			return Version{}, kernelerr.New(kernelerr.KindPolicyInvalid,
				"kernel %s older than required %s", KernelVersion, p.MinKernelVersion)
		}
	}

	var now int64
	if q.nowNs != nil {
		now = q.nowNs()
	}

	entry := q.chain.Append(auditEntryFor(p, now))
	v := Version{
		ID:       id,
		TsNs:     now,
		PrevHash: entry.PrevHash,
		HeadHash: entry.EntryHash,
		Values:   p.Values,
		Signer:   p.Signer,
	}
	q.committed = append(q.committed, v)
	delete(q.pending, id)
	return v, nil
}

func auditEntryFor(p Proposal, nowNs int64) audit.Entry {
	return audit.Entry{
		TsNs:      nowNs,
		Op:        audit.OpPolicy,
		Status:    audit.StatusOk,
		PromptLen: uint32(len(p.Values)),
	}
}

// Status is the (active, pending, head_hash) snapshot spec §4.K names.
type Status struct {
	Active   *Version
	Pending  []Proposal
	HeadHash []byte
}

// Status emits the active and pending sets plus the current head hash.
func (q *Quarantine) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()

	var active *Version
	if len(q.committed) > 0 {
		v := q.committed[len(q.committed)-1]
		active = &v
	}

	pending := make([]Proposal, 0, len(q.pending))
	for _, p := range q.pending {
		pending = append(pending, p)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].ID < pending[j].ID })

	return Status{Active: active, Pending: pending, HeadHash: q.chain.HeadHash()}
}

// Committed returns a snapshot of the committed ring, oldest first.
func (q *Quarantine) Committed() []Version {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Version, len(q.committed))
	copy(out, q.committed)
	return out
}
