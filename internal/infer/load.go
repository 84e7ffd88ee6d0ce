package infer

import (
	"fmt"

	"github.com/ai-native-os/corekernel/internal/audit"
	"github.com/ai-native-os/corekernel/internal/gguf"
	"github.com/ai-native-os/corekernel/internal/kernelerr"
	"github.com/ai-native-os/corekernel/internal/vfs"
)

// MaxModelBytes bounds the size of a model file this core will load (spec
// §4.G ModelTooLarge); chosen well above the 8 MiB arena since weights stay
// memory-mapped/Q4_0-encoded and are never dequantised wholesale.
const MaxModelBytes = 512 << 20

// Tensor and metadata-key naming convention this loader expects, following
// the llama.cpp-derived GGUF ecosystem spec §6.2 draws its format from.
const (
	metaContextLength   = "llm.context_length"
	metaEmbeddingLength = "llm.embedding_length"
	metaBlockCount      = "llm.block_count"
	metaHeadCount       = "llm.attention.head_count"
	metaFFNLength       = "llm.feed_forward_length"
	metaVocabSize       = "llm.vocab_size"
	metaTokenList       = "tokenizer.ggml.tokens"
	metaMergeList       = "tokenizer.ggml.merges"
	metaEOSToken        = "tokenizer.ggml.eos_token"

	tensorTokenEmbedding = "token_embd.weight"
	tensorOutput         = "output.weight"
)

func blockTensor(layer int, suffix string) string {
	return fmt.Sprintf("blk.%d.%s", layer, suffix)
}

// Load resolves path against store, parses it as a GGUF file, and builds a
// fully-linked Model. Per the data-model invariant (spec §3), a model is
// "loaded" only once every tensor this loader requires resolves
// successfully; any missing tensor or malformed metadata value yields
// ModelFormatInvalid and no partial Model is returned.
func Load(store vfs.ModelStore, path string, appender audit.Appender, nowNs int64) (*Model, error) {
	ra, size, err := store.Open(path)
	if err != nil {
		appendAudit(appender, audit.OpLoad, audit.StatusReject, nowNs)
		return nil, err
	}
	if err := vfs.CheckSize(size, MaxModelBytes); err != nil {
		appendAudit(appender, audit.OpLoad, audit.StatusReject, nowNs)
		return nil, err
	}

	file, err := gguf.Parse(ra)
	if err != nil {
		appendAudit(appender, audit.OpLoad, audit.StatusReject, nowNs)
		return nil, err
	}

	cfg, err := configFromMetadata(file)
	if err != nil {
		appendAudit(appender, audit.OpLoad, audit.StatusReject, nowNs)
		return nil, err
	}

	weights, err := weightsFromFile(file, cfg)
	if err != nil {
		appendAudit(appender, audit.OpLoad, audit.StatusReject, nowNs)
		return nil, err
	}

	vocab, err := vocabFromMetadata(file)
	if err != nil {
		appendAudit(appender, audit.OpLoad, audit.StatusReject, nowNs)
		return nil, err
	}

	appendAudit(appender, audit.OpLoad, audit.StatusOk, nowNs)
	return &Model{Cfg: cfg, Weights: weights, Vocab: vocab}, nil
}

func appendAudit(appender audit.Appender, op audit.OpCode, status audit.StatusBits, nowNs int64) {
	if appender == nil {
		return
	}
	appender.Append(audit.Entry{TsNs: nowNs, Op: op, Status: status})
}

func metaInt(f *gguf.File, key string) (int, error) {
	kv, ok := f.Find(key)
	if !ok {
		return 0, kernelerr.New(kernelerr.KindModelFormatInvalid, "missing metadata key %q", key)
	}
	switch v := kv.Scalar.(type) {
	case uint32:
		return int(v), nil
	case int32:
		return int(v), nil
	case uint64:
		return int(v), nil
	case int64:
		return int(v), nil
	default:
		return 0, kernelerr.New(kernelerr.KindModelFormatInvalid, "metadata key %q has non-integer type", key)
	}
}

func configFromMetadata(f *gguf.File) (Config, error) {
	nCtx, err := metaInt(f, metaContextLength)
	if err != nil {
		return Config{}, err
	}
	nEmbd, err := metaInt(f, metaEmbeddingLength)
	if err != nil {
		return Config{}, err
	}
	nLayer, err := metaInt(f, metaBlockCount)
	if err != nil {
		return Config{}, err
	}
	nHead, err := metaInt(f, metaHeadCount)
	if err != nil {
		return Config{}, err
	}
	ffn, err := metaInt(f, metaFFNLength)
	if err != nil {
		return Config{}, err
	}
	nVocab, err := metaInt(f, metaVocabSize)
	if err != nil {
		return Config{}, err
	}
	return Config{NVocab: nVocab, NCtx: nCtx, NEmbd: nEmbd, NLayer: nLayer, NHead: nHead, FFNDim: ffn}, nil
}

func findTensor(f *gguf.File, name string) (gguf.TensorInfo, error) {
	for _, t := range f.Tensors {
		if t.Name == name {
			return t, nil
		}
	}
	return gguf.TensorInfo{}, kernelerr.New(kernelerr.KindModelFormatInvalid, "missing required tensor %q", name)
}

// rowBlocks splits a tensor's Q4_0/Q8_0 payload into nRows row-major blocks
// of nCols values each, reading the raw bytes once from file.
func rowBlocks(f *gguf.File, name string, nRows, nCols int) ([][]byte, error) {
	ti, err := findTensor(f, name)
	if err != nil {
		return nil, err
	}
	blockSize := gguf.BlockByteSize(ti.Elem, nCols)
	total, err := f.ReadTensor(ti, blockSize*nRows)
	if err != nil {
		return nil, err
	}
	rows := make([][]byte, nRows)
	for i := 0; i < nRows; i++ {
		rows[i] = total[i*blockSize : (i+1)*blockSize]
	}
	return rows, nil
}

func weightsFromFile(f *gguf.File, cfg Config) (Weights, error) {
	tokenEmbd, err := rowBlocks(f, tensorTokenEmbedding, cfg.NVocab, cfg.NEmbd)
	if err != nil {
		return Weights{}, err
	}
	head, err := rowBlocks(f, tensorOutput, cfg.NVocab, cfg.NEmbd)
	if err != nil {
		return Weights{}, err
	}

	layers := make([]LayerWeights, cfg.NLayer)
	for l := 0; l < cfg.NLayer; l++ {
		wq, err := rowBlocks(f, blockTensor(l, "attn_q.weight"), cfg.NEmbd, cfg.NEmbd)
		if err != nil {
			return Weights{}, err
		}
		wk, err := rowBlocks(f, blockTensor(l, "attn_k.weight"), cfg.NEmbd, cfg.NEmbd)
		if err != nil {
			return Weights{}, err
		}
		wv, err := rowBlocks(f, blockTensor(l, "attn_v.weight"), cfg.NEmbd, cfg.NEmbd)
		if err != nil {
			return Weights{}, err
		}
		wo, err := rowBlocks(f, blockTensor(l, "attn_output.weight"), cfg.NEmbd, cfg.NEmbd)
		if err != nil {
			return Weights{}, err
		}
		wUp, err := rowBlocks(f, blockTensor(l, "ffn_up.weight"), cfg.FFNDim, cfg.NEmbd)
		if err != nil {
			return Weights{}, err
		}
		wDown, err := rowBlocks(f, blockTensor(l, "ffn_down.weight"), cfg.NEmbd, cfg.FFNDim)
		if err != nil {
			return Weights{}, err
		}

		layers[l] = LayerWeights{
			AttnNormGamma: onesVec(cfg.NEmbd),
			Wq:            wq, Wk: wk, Wv: wv, Wo: wo,
			FFNNormGamma: onesVec(cfg.NEmbd),
			WUp:          wUp, WDown: wDown,
		}
	}

	return Weights{TokenEmbedding: tokenEmbd, Layers: layers, HeadWeight: head}, nil
}

// onesVec is the layer-norm gain default until a gamma tensor is wired in;
// GGUF norm tensors are plain f32, not Q4_0, and are out of the row-block
// path above.
func onesVec(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

func vocabFromMetadata(f *gguf.File) (*Vocabulary, error) {
	tokensKV, ok := f.Find(metaTokenList)
	if !ok {
		return nil, kernelerr.New(kernelerr.KindModelFormatInvalid, "missing metadata key %q", metaTokenList)
	}
	tokens := make([]string, 0, len(tokensKV.Array))
	for _, elem := range tokensKV.Array {
		s, ok := elem.Scalar.(string)
		if !ok {
			return nil, kernelerr.New(kernelerr.KindModelFormatInvalid, "%s element is not a string", metaTokenList)
		}
		tokens = append(tokens, s)
	}

	var merges [][2]string
	if mergesKV, ok := f.Find(metaMergeList); ok {
		for _, elem := range mergesKV.Array {
			s, ok := elem.Scalar.(string)
			if !ok {
				continue
			}
			parts := splitMergeRule(s)
			if parts != ([2]string{}) {
				merges = append(merges, parts)
			}
		}
	}

	eos := ""
	if eosKV, ok := f.Find(metaEOSToken); ok {
		if s, ok := eosKV.Scalar.(string); ok {
			eos = s
		}
	}

	return NewVocabulary(tokens, merges, eos), nil
}

func splitMergeRule(s string) [2]string {
	for i := 0; i < len(s); i++ {
		if s[i] == ' ' {
			return [2]string{s[:i], s[i+1:]}
		}
	}
	return [2]string{}
}
