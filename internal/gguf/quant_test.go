package gguf

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQ4_0RoundTripWithinTolerance(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		v := make([]float32, BlockSize*4)
		for i := range v {
			v[i] = float32(rng.Float64()*2 - 1) // in [-1, 1]
		}
		raw := QuantizeQ4_0(v)
		out := make([]float32, len(v))
		DequantizeQ4_0(raw, out)

		for i := range v {
			if v[i] == 0 {
				continue
			}
			relErr := math.Abs(float64(out[i]-v[i])) / math.Abs(float64(v[i]))
			require.Lessf(t, relErr, 0.15, "value %d: v=%f out=%f", i, v[i], out[i])
		}
	}
}

func TestQ8_0RoundTripWithinTolerance(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	v := make([]float32, BlockSize*3)
	for i := range v {
		v[i] = float32(rng.Float64()*2 - 1)
	}
	raw := QuantizeQ8_0(v)
	out := make([]float32, len(v))
	DequantizeQ8_0(raw, out)

	for i := range v {
		if v[i] == 0 {
			continue
		}
		relErr := math.Abs(float64(out[i]-v[i])) / math.Abs(float64(v[i]))
		require.Less(t, relErr, 0.05)
	}
}

func TestFloat16RoundTrip(t *testing.T) {
	for _, f := range []float32{0, 1, -1, 0.5, 3.14, 65504, -65504} {
		h := float32ToFloat16(f)
		back := float16ToFloat32(h)
		require.InDelta(t, f, back, float64(f)*0.01+0.01)
	}
}
