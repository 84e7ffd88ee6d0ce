package infer

import (
	"strings"

	"github.com/ai-native-os/corekernel/internal/kernelerr"
)

// MaxPromptTokens bounds the tokenised prompt length (spec §4.G).
const MaxPromptTokens = 2048

// Vocabulary is a byte-pair-encoding vocabulary: a closed set of known
// token strings plus their merge priority, sufficient for the
// tokeniser-round-trip property of spec §8.
type Vocabulary struct {
	tokenToID map[string]int32
	idToToken []string
	merges    map[[2]string]int
	eos       int32
}

// NewVocabulary builds a vocabulary from an ordered token list and a set
// of BPE merge rules (earlier merges have higher priority).
func NewVocabulary(tokens []string, merges [][2]string, eosToken string) *Vocabulary {
	v := &Vocabulary{
		tokenToID: make(map[string]int32, len(tokens)),
		idToToken: append([]string(nil), tokens...),
		merges:    make(map[[2]string]int, len(merges)),
	}
	for i, tok := range tokens {
		v.tokenToID[tok] = int32(i)
	}
	for i, m := range merges {
		v.merges[m] = i
	}
	if id, ok := v.tokenToID[eosToken]; ok {
		v.eos = id
	} else {
		v.eos = -1
	}
	return v
}

// EOS returns the end-of-sequence token id, or -1 if the vocabulary has
// none.
func (v *Vocabulary) EOS() int32 { return v.eos }

// Size returns the vocabulary's token count.
func (v *Vocabulary) Size() int { return len(v.idToToken) }

// Encode applies byte-pair merges greedily (lowest merge index first)
// starting from a per-rune symbol split, following the standard BPE
// tokenisation algorithm, bounded by MaxPromptTokens.
func (v *Vocabulary) Encode(s string) ([]int32, error) {
	symbols := splitRunes(s)
	for {
		bestIdx := -1
		bestRank := int(^uint(0) >> 1)
		for i := 0; i < len(symbols)-1; i++ {
			pair := [2]string{symbols[i], symbols[i+1]}
			if rank, ok := v.merges[pair]; ok && rank < bestRank {
				bestRank = rank
				bestIdx = i
			}
		}
		if bestIdx < 0 {
			break
		}
		merged := symbols[bestIdx] + symbols[bestIdx+1]
		symbols = append(symbols[:bestIdx], append([]string{merged}, symbols[bestIdx+2:]...)...)
	}

	out := make([]int32, 0, len(symbols))
	for _, sym := range symbols {
		id, ok := v.tokenToID[sym]
		if !ok {
			return nil, kernelerr.New(kernelerr.KindModelFormatInvalid, "unknown token %q", sym)
		}
		out = append(out, id)
		if len(out) > MaxPromptTokens {
			return nil, kernelerr.New(kernelerr.KindTokenBudgetExceeded, "prompt exceeds %d tokens", MaxPromptTokens)
		}
	}
	return out, nil
}

// Decode concatenates the token strings for ids, reversing Encode.
func (v *Vocabulary) Decode(ids []int32) (string, error) {
	var b strings.Builder
	for _, id := range ids {
		if int(id) < 0 || int(id) >= len(v.idToToken) {
			return "", kernelerr.New(kernelerr.KindModelFormatInvalid, "token id %d out of range", id)
		}
		b.WriteString(v.idToToken[id])
	}
	return b.String(), nil
}

func splitRunes(s string) []string {
	runes := []rune(s)
	out := make([]string, len(runes))
	for i, r := range runes {
		out[i] = string(r)
	}
	return out
}
