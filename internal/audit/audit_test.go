package audit

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChainVerifiesAfterAppends(t *testing.T) {
	c := NewChain(16, SHA256Hasher{})
	for i := 0; i < 10; i++ {
		c.Append(Entry{Op: OpInfer, Status: StatusOk, PromptLen: uint32(i)})
	}
	require.True(t, c.VerifyChain())
	require.Len(t, c.Entries(), 10)
}

func TestChainVerifiesOverRandomSequences(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	c := NewChain(64, DemoHasher{})
	ops := []OpCode{OpLoad, OpBudget, OpInfer, OpStream, OpPolicy, OpDecision}
	for i := 0; i < 500; i++ {
		c.Append(Entry{
			Op:         ops[rng.Intn(len(ops))],
			Status:     StatusOk,
			Tokens:     uint32(rng.Intn(256)),
			WcetCycles: uint64(rng.Intn(1_000_000)),
		})
		require.True(t, c.VerifyChain())
	}
}

func TestChainEvictsOldestBeyondCapacity(t *testing.T) {
	c := NewChain(3, DemoHasher{})
	for i := 0; i < 5; i++ {
		c.Append(Entry{Op: OpDecision})
	}
	require.Len(t, c.Entries(), 3)
	require.True(t, c.VerifyChain())
}

func TestHeadHashChangesPerAppend(t *testing.T) {
	c := NewChain(0, SHA256Hasher{})
	require.Nil(t, c.HeadHash())
	c.Append(Entry{Op: OpLoad})
	h1 := c.HeadHash()
	c.Append(Entry{Op: OpLoad})
	h2 := c.HeadHash()
	require.NotEqual(t, h1, h2)
}
