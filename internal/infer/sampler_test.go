package infer

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSoftmaxSumsToOneAndPreservesArgmax(t *testing.T) {
	logits := []float32{1, 5, 2, 2.5, -3}
	probs := Softmax(logits)
	var sum float64
	for _, p := range probs {
		sum += float64(p)
	}
	require.InDelta(t, 1.0, sum, 1e-6)
	require.Equal(t, Argmax(logits), Argmax(toFloat32Slice(probs)))
}

func toFloat32Slice(v []float32) []float32 { return v }

func TestGreedyDeterministicAcrossSeeds(t *testing.T) {
	logits := []float32{0.1, 0.9, 0.3}
	r1 := NewRng(1)
	r2 := NewRng(99)
	a := Sample(logits, SampleParams{Strategy: StrategyGreedy}, r1)
	b := Sample(logits, SampleParams{Strategy: StrategyGreedy}, r2)
	require.Equal(t, a, b)
	require.Equal(t, int32(1), a)
}

func TestTopKRestrictsToKCandidates(t *testing.T) {
	logits := []float32{5, 4, 3, 2, 1}
	rng := NewRng(7)
	seen := map[int32]bool{}
	for i := 0; i < 200; i++ {
		tok := Sample(logits, SampleParams{Strategy: StrategyTopK, Temperature: 1, TopK: 2}, rng)
		seen[tok] = true
	}
	for tok := range seen {
		require.True(t, tok == 0 || tok == 1, "token %d should be excluded by top-k=2", tok)
	}
}

func TestRngSplitProducesIndependentStreams(t *testing.T) {
	root := NewRng(123)
	a := root.Split()
	b := root.Split()
	require.NotEqual(t, a.Float64(), b.Float64())
}

func TestRngFloat64InUnitInterval(t *testing.T) {
	r := NewRng(5)
	for i := 0; i < 1000; i++ {
		v := r.Float64()
		require.True(t, v >= 0 && v < 1)
		require.False(t, math.IsNaN(v))
	}
}
