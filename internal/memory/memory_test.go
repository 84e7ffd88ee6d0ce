package memory

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHeapAllocFree(t *testing.T) {
	h := NewHeap(4096)
	a, err := h.Alloc(100)
	require.NoError(t, err)
	require.Len(t, a, 100)
	require.Equal(t, 100, h.Used())

	require.NoError(t, h.Free(a))
	require.Equal(t, 0, h.Used())
}

func TestHeapRejectsOversize(t *testing.T) {
	h := NewHeap(4 << 20)
	_, err := h.Alloc(MaxHeapAllocation)
	require.Error(t, err)
	var tooLarge *HeapTooLarge
	require.ErrorAs(t, err, &tooLarge)
}

func TestHeapExhaustion(t *testing.T) {
	h := NewHeap(1024)
	_, err := h.Alloc(2048)
	require.Error(t, err)
}

func TestArenaMonotonicAndReset(t *testing.T) {
	a := NewArena()
	prev := a.BumpPointer()
	for i := 0; i < 100; i++ {
		_, err := a.Alloc(64, 8)
		require.NoError(t, err)
		require.GreaterOrEqual(t, a.BumpPointer(), prev)
		prev = a.BumpPointer()
	}
	require.LessOrEqual(t, a.BumpPointer(), ArenaSize)

	a.Reset()
	require.Equal(t, 0, a.BumpPointer())
	require.GreaterOrEqual(t, a.HighWaterMark(), int64(64*100))
}

func TestArenaFullOnOverflow(t *testing.T) {
	a := NewArena()
	_, err := a.Alloc(ArenaSize+1, 1)
	require.Error(t, err)
	var full *ArenaFull
	require.ErrorAs(t, err, &full)
}

func TestArenaAllocationRespectsRemaining(t *testing.T) {
	a := NewArena()
	_, err := a.Alloc(ArenaSize, 1)
	require.NoError(t, err)
	_, err = a.Alloc(1, 1)
	require.Error(t, err)
}
