package infer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ai-native-os/corekernel/internal/audit"
	"github.com/ai-native-os/corekernel/internal/gguf"
	"github.com/ai-native-os/corekernel/internal/memory"
)

func tinyModel() *Model {
	cfg := Config{NVocab: 6, NCtx: 32, NEmbd: 32, NLayer: 1, NHead: 4, FFNDim: 32}

	randomRow := func(seed byte) []byte {
		v := make([]float32, cfg.NEmbd)
		for i := range v {
			v[i] = float32(int(seed)+i%7-3) / 10
		}
		return gguf.QuantizeQ4_0(v)
	}

	embed := make([][]byte, cfg.NVocab)
	head := make([][]byte, cfg.NVocab)
	for i := range embed {
		embed[i] = randomRow(byte(i))
		head[i] = randomRow(byte(i + 1))
	}

	rows := func(n int, seed byte) [][]byte {
		out := make([][]byte, n)
		for i := range out {
			out[i] = randomRow(seed + byte(i))
		}
		return out
	}

	gammaOnes := func() []float32 {
		g := make([]float32, cfg.NEmbd)
		for i := range g {
			g[i] = 1
		}
		return g
	}

	layer := LayerWeights{
		AttnNormGamma: gammaOnes(),
		Wq:            rows(cfg.NEmbd, 1),
		Wk:            rows(cfg.NEmbd, 2),
		Wv:            rows(cfg.NEmbd, 3),
		Wo:            rows(cfg.NEmbd, 4),
		FFNNormGamma:  gammaOnes(),
		WUp:           rows(cfg.FFNDim, 5),
		WDown:         rows(cfg.NEmbd, 6),
	}

	vocab := NewVocabulary([]string{"a", "b", "c", "d", "e", "<eos>"}, nil, "<eos>")

	return &Model{
		Cfg:     cfg,
		Vocab:   vocab,
		Weights: Weights{TokenEmbedding: embed, Layers: []LayerWeights{layer}, HeadWeight: head},
	}
}

func TestGreedyInferenceIsDeterministic(t *testing.T) {
	m := tinyModel()
	chain := audit.NewChain(64, audit.SHA256Hasher{})

	mk := func() *Engine {
		return &Engine{Model: m, Arena: memory.NewArena(), Audit: chain, NowNs: func() int64 { return 0 }}
	}

	r1, err := mk().Infer("a", 5, SampleParams{Strategy: StrategyGreedy}, 1)
	require.NoError(t, err)
	r2, err := mk().Infer("a", 5, SampleParams{Strategy: StrategyGreedy}, 2)
	require.NoError(t, err)

	require.Equal(t, r1.TokenIDs, r2.TokenIDs)

	entries := chain.Entries()
	inferCount := 0
	for _, e := range entries {
		if e.Op == audit.OpInfer && e.Status&audit.StatusOk != 0 {
			inferCount++
		}
	}
	require.Equal(t, 2, inferCount, "exactly one audit.OpInfer/ok entry per successful call")
	require.Len(t, entries, 2, "no extra audit entries beyond one per call")
}

func TestBudgetOverrunCapsTokensAndRejectsNextCall(t *testing.T) {
	m := tinyModel()
	budget := &Budget{WCETCycles: 25000, PeriodNs: int64(1_000_000_000), MaxTokensPerPeriod: 8}
	now := int64(0)
	e := &Engine{Model: m, Arena: memory.NewArena(), Budget: budget, NowNs: func() int64 { return now }}

	res, err := e.Infer("a", 20, SampleParams{Strategy: StrategyGreedy}, 1)
	require.NoError(t, err)
	require.LessOrEqual(t, len(res.TokenIDs), 8)

	_, err = e.Infer("a", 20, SampleParams{Strategy: StrategyGreedy}, 1)
	require.Error(t, err)
}

func TestArenaResetBetweenInferCalls(t *testing.T) {
	m := tinyModel()
	arena := memory.NewArena()
	e := &Engine{Model: m, Arena: arena, NowNs: func() int64 { return 0 }}
	_, err := e.Infer("a", 3, SampleParams{Strategy: StrategyGreedy}, 1)
	require.NoError(t, err)
	require.Equal(t, 0, arena.BumpPointer())
}

func TestLastConfidenceTracksMostRecentStep(t *testing.T) {
	m := tinyModel()
	e := &Engine{Model: m, Arena: memory.NewArena(), NowNs: func() int64 { return 0 }}

	require.Zero(t, e.LastConfidence())

	_, err := e.Infer("a", 3, SampleParams{Strategy: StrategyGreedy}, 1)
	require.NoError(t, err)

	conf := e.LastConfidence()
	require.Greater(t, conf, 0.0)
	require.LessOrEqual(t, conf, 1.0)
}
