package infer

import (
	"math"

	"github.com/ai-native-os/corekernel/internal/gguf"
	"github.com/ai-native-os/corekernel/internal/kernelerr"
)

// Config is the model's architecture configuration (spec §3 "Loaded
// model").
type Config struct {
	NVocab  int
	NCtx    int
	NEmbd   int
	NLayer  int
	NHead   int
	FFNDim  int
}

// LayerWeights holds one transformer block's Q4_0-encoded matrices.
type LayerWeights struct {
	AttnNormGamma []float32
	Wq, Wk, Wv, Wo [][]byte // Q4_0 blocks per output row
	FFNNormGamma  []float32
	WUp, WDown    [][]byte
}

// Weights is the full set of quantised tensors for a loaded model,
// resolved once at load time (spec §3 invariant: "loaded" only once every
// required tensor resolves).
type Weights struct {
	TokenEmbedding [][]byte // NVocab rows, each a Q4_0-encoded NEmbd vector
	Layers         []LayerWeights
	HeadWeight     [][]byte // NVocab rows, each a Q4_0-encoded NEmbd vector
}

// Model is a fully loaded, ready-to-run model.
type Model struct {
	Cfg     Config
	Weights Weights
	Vocab   *Vocabulary
}

func dequantRow(row []byte, n int) []float32 {
	out := make([]float32, n)
	gguf.DequantizeQ4_0(row, out)
	return out
}

func dotQ4(row []byte, x []float32) float32 {
	dq := dequantRow(row, len(x))
	var sum float32
	for i := range x {
		sum += dq[i] * x[i]
	}
	return sum
}

// matVec computes rows·x for a Q4_0-encoded matrix (one row per output
// dimension).
func matVec(rows [][]byte, x []float32) []float32 {
	out := make([]float32, len(rows))
	for i, row := range rows {
		out[i] = dotQ4(row, x)
	}
	return out
}

func layerNorm(x []float32, gamma []float32) []float32 {
	var mean float32
	for _, v := range x {
		mean += v
	}
	mean /= float32(len(x))

	var variance float32
	for _, v := range x {
		d := v - mean
		variance += d * d
	}
	variance /= float32(len(x))

	const eps = 1e-5
	inv := float32(1.0 / math.Sqrt(float64(variance)+eps))
	out := make([]float32, len(x))
	for i, v := range x {
		out[i] = (v - mean) * inv * gamma[i]
	}
	return out
}

func gelu(x float32) float32 {
	// tanh approximation, standard in transformer implementations.
	const c = 0.7978845608 // sqrt(2/pi)
	inner := c * (x + 0.044715*x*x*x)
	return 0.5 * x * (1 + float32(math.Tanh(float64(inner))))
}

// KVCache is the per-layer, append-only attention cache (spec §3 "KV
// cache"): positions 0..L are populated in order and never mutated.
type KVCache struct {
	NLayer int
	NCtx   int
	NEmbd  int
	keys   [][][]float32 // [layer][position][NEmbd]
	values [][][]float32
	length int
}

// NewKVCache allocates a cache sized n_layer x n_ctx x 2 x n_embd x f32
// (spec §3).
func NewKVCache(nLayer, nCtx, nEmbd int) *KVCache {
	kv := &KVCache{NLayer: nLayer, NCtx: nCtx, NEmbd: nEmbd}
	kv.keys = make([][][]float32, nLayer)
	kv.values = make([][][]float32, nLayer)
	for l := 0; l < nLayer; l++ {
		kv.keys[l] = make([][]float32, 0, nCtx)
		kv.values[l] = make([][]float32, 0, nCtx)
	}
	return kv
}

// AppendLayer adds the key/value vectors for the next position in one
// layer (called once per generation step, per layer).
func (kv *KVCache) AppendLayer(layer int, k, v []float32) error {
	if len(kv.keys[layer]) >= kv.NCtx {
		return kernelerr.New(kernelerr.KindArenaFull, "kv cache exceeds n_ctx=%d", kv.NCtx)
	}
	kv.keys[layer] = append(kv.keys[layer], k)
	kv.values[layer] = append(kv.values[layer], v)
	return nil
}

// Len returns the number of populated positions.
func (kv *KVCache) Len() int {
	if kv.NLayer == 0 {
		return 0
	}
	return len(kv.keys[0])
}

// Forward runs one transformer block over the current hidden state x,
// appending this step's K/V to cache at layer l, and returns the
// post-block residual hidden state (spec §4.G: layer-norm -> MHA ->
// residual -> layer-norm -> FFN -> residual).
func Forward(cfg Config, lw LayerWeights, x []float32, kv *KVCache, layer int) ([]float32, error) {
	normed := layerNorm(x, lw.AttnNormGamma)

	q := matVec(lw.Wq, normed)
	k := matVec(lw.Wk, normed)
	v := matVec(lw.Wv, normed)

	if err := kv.AppendLayer(layer, k, v); err != nil {
		return nil, err
	}

	attnOut := scaledDotProductAttention(cfg, q, kv.keys[layer], kv.values[layer])
	projected := matVec(lw.Wo, attnOut)

	residual1 := addVec(x, projected)
	normed2 := layerNorm(residual1, lw.FFNNormGamma)

	up := matVec(lw.WUp, normed2)
	for i := range up {
		up[i] = gelu(up[i])
	}
	down := matVec(lw.WDown, up)

	return addVec(residual1, down), nil
}

func scaledDotProductAttention(cfg Config, q []float32, keys, values [][]float32) []float32 {
	nHead := cfg.NHead
	if nHead <= 0 || cfg.NEmbd%nHead != 0 {
		nHead = 1
	}
	headDim := cfg.NEmbd / nHead
	scale := float32(1.0 / math.Sqrt(float64(headDim)))

	out := make([]float32, cfg.NEmbd)
	for h := 0; h < nHead; h++ {
		lo, hi := h*headDim, (h+1)*headDim
		scores := make([]float32, len(keys))
		for t, k := range keys {
			var dot float32
			for i := lo; i < hi; i++ {
				dot += q[i] * k[i]
			}
			scores[t] = dot * scale
		}
		weights := Softmax(scores)
		for t, w := range weights {
			for i := lo; i < hi; i++ {
				out[i] += w * values[t][i]
			}
		}
	}
	return out
}

func addVec(a, b []float32) []float32 {
	out := make([]float32, len(a))
	for i := range a {
		out[i] = a[i] + b[i]
	}
	return out
}

// EmbedToken dequantises the token-embedding row and adds a sinusoidal
// positional embedding, following the standard transformer input
// convention (spec §4.G step 1: "build input embedding ... add a
// positional embedding").
func EmbedToken(m *Model, tokenID int32, position int) ([]float32, error) {
	if int(tokenID) < 0 || int(tokenID) >= len(m.Weights.TokenEmbedding) {
		return nil, kernelerr.New(kernelerr.KindModelFormatInvalid, "token id %d out of range", tokenID)
	}
	emb := dequantRow(m.Weights.TokenEmbedding[tokenID], m.Cfg.NEmbd)
	for i := range emb {
		var pe float64
		div := math.Pow(10000, float64(2*(i/2))/float64(m.Cfg.NEmbd))
		if i%2 == 0 {
			pe = math.Sin(float64(position) / div)
		} else {
			pe = math.Cos(float64(position) / div)
		}
		emb[i] += float32(pe)
	}
	return emb, nil
}

// Logits projects the final hidden state through the language-model head.
func Logits(m *Model, hidden []float32) []float32 {
	return matVec(m.Weights.HeadWeight, hidden)
}
