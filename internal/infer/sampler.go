package infer

import (
	"math"
	"sort"
)

// Rng is a splittable seeded PRNG (spec §4.G: "seeded splittable PRNG").
// Split derives an independent child stream from a parent seed without
// sharing state, following a SplitMix64-style construction.
type Rng struct {
	state uint64
}

// NewRng seeds a root generator.
func NewRng(seed uint64) *Rng {
	return &Rng{state: seed}
}

func (r *Rng) next() uint64 {
	r.state += 0x9E3779B97F4A7C15
	z := r.state
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}

// Float64 returns a uniform value in [0, 1).
func (r *Rng) Float64() float64 {
	return float64(r.next()>>11) / float64(1<<53)
}

// Split derives an independent child stream, leaving r's state advanced
// but uncorrelated with the child's future output.
func (r *Rng) Split() *Rng {
	return &Rng{state: r.next() ^ 0x2545F4914F6CDD1D}
}

// Strategy selects a sampling variant (spec §4.G table).
type Strategy int

const (
	StrategyGreedy Strategy = iota
	StrategyTemperature
	StrategyTopK
	StrategyTopP
)

// SampleParams configures the composed sampling pipeline. Combinations
// apply in the documented order: temperature -> top-k -> top-p ->
// categorical draw.
type SampleParams struct {
	Strategy    Strategy
	Temperature float32
	TopK        int
	TopP        float32
}

// Softmax normalises logits into a probability distribution. Numerically
// stabilised by subtracting the max before exponentiating.
func Softmax(logits []float32) []float32 {
	out := make([]float32, len(logits))
	var max float32 = math.MaxFloat32 * -1
	for _, l := range logits {
		if l > max {
			max = l
		}
	}
	var sum float32
	for i, l := range logits {
		e := float32(math.Exp(float64(l - max)))
		out[i] = e
		sum += e
	}
	if sum == 0 {
		return out
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Argmax returns the index of the largest element.
func Argmax(xs []float32) int {
	best := 0
	for i, x := range xs {
		if x > xs[best] {
			best = i
		}
	}
	return best
}

// Sample applies p.Strategy (and any earlier stages the combination
// implies) to logits and draws a token id. Greedy is deterministic
// regardless of rng.
func Sample(logits []float32, p SampleParams, rng *Rng) int32 {
	if p.Strategy == StrategyGreedy {
		return int32(Argmax(logits))
	}

	working := append([]float32(nil), logits...)

	if p.Temperature > 0 {
		for i := range working {
			working[i] /= p.Temperature
		}
	}

	probs := Softmax(working)

	if p.Strategy == StrategyTopK || p.Strategy == StrategyTopP {
		if p.TopK > 0 && p.TopK < len(probs) {
			probs = keepTopK(probs, p.TopK)
		}
		if p.TopP > 0 && p.TopP < 1 {
			probs = keepTopP(probs, p.TopP)
		}
	}

	return categoricalDraw(probs, rng)
}

func keepTopK(probs []float32, k int) []float32 {
	type idxProb struct {
		idx  int
		prob float32
	}
	ranked := make([]idxProb, len(probs))
	for i, p := range probs {
		ranked[i] = idxProb{i, p}
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].prob > ranked[j].prob })

	out := make([]float32, len(probs))
	var sum float32
	for i := 0; i < k && i < len(ranked); i++ {
		out[ranked[i].idx] = ranked[i].prob
		sum += ranked[i].prob
	}
	if sum > 0 {
		for i := range out {
			out[i] /= sum
		}
	}
	return out
}

func keepTopP(probs []float32, p float32) []float32 {
	type idxProb struct {
		idx  int
		prob float32
	}
	ranked := make([]idxProb, len(probs))
	for i, pr := range probs {
		ranked[i] = idxProb{i, pr}
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].prob > ranked[j].prob })

	out := make([]float32, len(probs))
	var cum float32
	var sum float32
	for _, rp := range ranked {
		if cum >= p {
			break
		}
		out[rp.idx] = rp.prob
		cum += rp.prob
		sum += rp.prob
	}
	if sum > 0 {
		for i := range out {
			out[i] /= sum
		}
	}
	return out
}

func categoricalDraw(probs []float32, rng *Rng) int32 {
	r := rng.Float64()
	var cum float64
	for i, p := range probs {
		cum += float64(p)
		if r < cum {
			return int32(i)
		}
	}
	return int32(len(probs) - 1)
}
