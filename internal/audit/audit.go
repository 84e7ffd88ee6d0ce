// Package audit implements the hash-chained ring buffer shared by the
// autonomy, config, and telemetry subsystems: a single abstract Appender
// interface varying only in record type and hash implementation, per
// spec §9 ("Hash-chained logs").
package audit

import (
	"crypto/sha256"
	"encoding/binary"
	"hash/fnv"
	"sync"

	"github.com/ai-native-os/corekernel/internal/kernelerr"
)

// OpCode enumerates the autonomy audit entry operations (spec §3).
type OpCode uint8

const (
	OpLoad OpCode = iota
	OpBudget
	OpInfer
	OpStream
	OpPolicy
	OpDecision
)

func (o OpCode) String() string {
	switch o {
	case OpLoad:
		return "load"
	case OpBudget:
		return "budget"
	case OpInfer:
		return "infer"
	case OpStream:
		return "stream"
	case OpPolicy:
		return "policy"
	case OpDecision:
		return "decision"
	default:
		return "unknown"
	}
}

// StatusBits are ORed flags on an audit entry.
type StatusBits uint8

const (
	StatusOk           StatusBits = 1 << 0
	StatusReject       StatusBits = 1 << 1
	StatusDeadlineMiss StatusBits = 1 << 2
)

// Entry is one hash-linked audit record (spec §3 "Autonomy audit entry").
// Prompt text is never stored, only its length, per spec §4.G.
type Entry struct {
	ID            uint64
	TsNs          int64
	Op            OpCode
	Status        StatusBits
	PromptLen     uint32
	Tokens        uint32
	WcetCycles    uint64
	PeriodNs      int64
	RationaleCode uint16
	PrevHash      []byte
	EntryHash     []byte
}

// Hasher computes H(prev_hash || canonical_encoding(fields)). Swapping the
// implementation is the injected "real cryptography" capability of spec §9:
// the core builds and runs identically with either.
type Hasher interface {
	Sum(prevHash []byte, canonical []byte) []byte
	Name() string
}

// SHA256Hasher is the real-crypto implementation.
type SHA256Hasher struct{}

func (SHA256Hasher) Name() string { return "sha256" }

func (SHA256Hasher) Sum(prevHash, canonical []byte) []byte {
	h := sha256.New()
	h.Write(prevHash)
	h.Write(canonical)
	return h.Sum(nil)
}

// DemoHasher is the labelled non-security placeholder used when no
// real-crypto capability is built in (spec §4.J).
type DemoHasher struct{}

func (DemoHasher) Name() string { return "fnv64a-demo-nonsecurity" }

func (DemoHasher) Sum(prevHash, canonical []byte) []byte {
	h := fnv.New64a()
	h.Write(prevHash)
	h.Write(canonical)
	sum := h.Sum64()
	out := make([]byte, 8)
	binary.LittleEndian.PutUint64(out, sum)
	return out
}

// canonical produces a deterministic byte encoding of an entry's fields
// excluding EntryHash, for hashing.
func canonical(e Entry) []byte {
	buf := make([]byte, 0, 64)
	var scratch [8]byte

	binary.LittleEndian.PutUint64(scratch[:], e.ID)
	buf = append(buf, scratch[:]...)
	binary.LittleEndian.PutUint64(scratch[:], uint64(e.TsNs))
	buf = append(buf, scratch[:]...)
	buf = append(buf, byte(e.Op), byte(e.Status))
	binary.LittleEndian.PutUint32(scratch[:4], e.PromptLen)
	buf = append(buf, scratch[:4]...)
	binary.LittleEndian.PutUint32(scratch[:4], e.Tokens)
	buf = append(buf, scratch[:4]...)
	binary.LittleEndian.PutUint64(scratch[:], e.WcetCycles)
	buf = append(buf, scratch[:]...)
	binary.LittleEndian.PutUint64(scratch[:], uint64(e.PeriodNs))
	buf = append(buf, scratch[:]...)
	binary.LittleEndian.PutUint16(scratch[:2], e.RationaleCode)
	buf = append(buf, scratch[:2]...)
	return buf
}

// Appender is the abstract interface underpinning audit, config, and
// telemetry rings (spec §9). Implementations vary only the record and
// hash; the ring mechanics are shared via Chain.
type Appender interface {
	Append(e Entry) Entry
	VerifyChain() bool
	Entries() []Entry
}

// Chain is a fixed-size ring of hash-linked entries.
type Chain struct {
	mu     sync.Mutex
	hasher Hasher
	cap    int
	ring   []Entry
	nextID uint64
}

// NewChain constructs a ring bounded to capacity entries, using hasher for
// the link computation.
func NewChain(capacity int, hasher Hasher) *Chain {
	if hasher == nil {
		hasher = DemoHasher{}
	}
	return &Chain{hasher: hasher, cap: capacity}
}

// Append computes prev_hash/entry_hash for e and inserts it, evicting the
// oldest entry if the ring is full.
func (c *Chain) Append(e Entry) Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	e.ID = c.nextID

	var prev []byte
	if len(c.ring) > 0 {
		prev = c.ring[len(c.ring)-1].EntryHash
	}
	e.PrevHash = prev
	e.EntryHash = c.hasher.Sum(prev, canonical(e))

	c.ring = append(c.ring, e)
	if c.cap > 0 && len(c.ring) > c.cap {
		c.ring = c.ring[len(c.ring)-c.cap:]
	}
	return e
}

// VerifyChain walks backwards from the head to the base and returns true
// iff every link holds (spec §4.J).
func (c *Chain) VerifyChain() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := len(c.ring) - 1; i >= 0; i-- {
		e := c.ring[i]
		want := c.hasher.Sum(e.PrevHash, canonical(e))
		if !bytesEqual(want, e.EntryHash) {
			return false
		}
		if i > 0 && !bytesEqual(e.PrevHash, c.ring[i-1].EntryHash) {
			return false
		}
	}
	return true
}

// Entries returns a snapshot of the chain, oldest first.
func (c *Chain) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, len(c.ring))
	copy(out, c.ring)
	return out
}

// HeadHash returns the entry_hash of the most recent entry, or nil if the
// chain is empty.
func (c *Chain) HeadHash() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.ring) == 0 {
		return nil
	}
	return c.ring[len(c.ring)-1].EntryHash
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ChainCorruption is returned by callers that detect a broken chain
// outside of VerifyChain's boolean contract (e.g. on export).
func ChainCorruption(detail string) error {
	return kernelerr.New(kernelerr.KindChainCorruption, "%s", detail)
}
