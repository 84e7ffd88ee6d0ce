package infer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func simpleVocab() *Vocabulary {
	tokens := []string{"h", "e", "l", "o", "he", "ll", "hell", "hello", "<eos>"}
	merges := [][2]string{
		{"h", "e"},
		{"l", "l"},
		{"he", "ll"},
		{"hell", "o"},
	}
	return NewVocabulary(tokens, merges, "<eos>")
}

func TestTokeniserRoundTrip(t *testing.T) {
	v := simpleVocab()
	cases := []string{"hello", "hell", "he", "h", "oh"}
	for _, s := range cases {
		ids, err := v.Encode(s)
		require.NoError(t, err, s)
		back, err := v.Decode(ids)
		require.NoError(t, err)
		require.Equal(t, s, back)
	}
}

func TestEncodeRejectsUnknownSymbol(t *testing.T) {
	v := simpleVocab()
	_, err := v.Encode("xyz")
	require.Error(t, err)
}

func TestEOSResolved(t *testing.T) {
	v := simpleVocab()
	require.NotEqual(t, int32(-1), v.EOS())
}
