package memory

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// ArenaSize is the fixed size of the inference arena (spec §3: "one
// contiguous 8 MiB static region").
const ArenaSize = 8 << 20

// ArenaFull is returned when an allocation would exceed the remaining
// capacity of the arena.
type ArenaFull struct {
	Requested int
	Remaining int
}

func (e *ArenaFull) Error() string {
	return fmt.Sprintf("memory: arena full, requested %d bytes with %d remaining", e.Requested, e.Remaining)
}

// Arena is a single contiguous bump allocator: a bump pointer, an alignment
// cursor, and a high-water mark. reset() is O(1).
type Arena struct {
	backing    [ArenaSize]byte
	bump       int
	highWater  atomic.Int64
	generation atomic.Uint64
}

// NewArena constructs an empty 8 MiB arena.
func NewArena() *Arena {
	return &Arena{}
}

// Alloc reserves size bytes aligned to align (a power of two), returning a
// slice view into the arena or ArenaFull. align of 0 or 1 means unaligned.
func (a *Arena) Alloc(size, align int) ([]byte, error) {
	if size <= 0 {
		return nil, fmt.Errorf("memory: invalid arena allocation size %d", size)
	}
	if align < 1 {
		align = 1
	}

	aligned := alignUpInt(a.bump, align)
	end := aligned + size
	if end > ArenaSize {
		return nil, &ArenaFull{Requested: size, Remaining: ArenaSize - a.bump}
	}

	a.bump = end
	if int64(a.bump) > a.highWater.Load() {
		a.highWater.Store(int64(a.bump))
	}
	return a.backing[aligned:end], nil
}

// Reset returns the bump pointer to base in O(1). The bump pointer is
// monotonically non-decreasing between resets (data-model invariant); a
// reset is the only way it moves backward.
func (a *Arena) Reset() {
	a.bump = 0
	a.generation.Add(1)
}

// BumpPointer returns the current offset (for tests asserting monotonicity).
func (a *Arena) BumpPointer() int { return a.bump }

// HighWaterMark returns the largest bump pointer value observed since
// construction (not reset by Reset, matching the data model's "high-water
// mark" field living alongside, not inside, the resettable bump pointer).
func (a *Arena) HighWaterMark() int64 { return a.highWater.Load() }

// Remaining reports the bytes still available before the next Reset.
func (a *Arena) Remaining() int { return ArenaSize - a.bump }

func alignUpInt(v, align int) int {
	if v%align == 0 {
		return v
	}
	return v - v%align + align
}

// basePointer is exposed only for diagnostics (e.g. computing offsets of
// typed views into the arena); it must never be used to extend a slice
// past what Alloc returned.
func (a *Arena) basePointer() unsafe.Pointer { return unsafe.Pointer(&a.backing[0]) }
