// Package infer implements the kernel-resident quantized-transformer
// inference engine of spec §4.G: tokenise, run the transformer forward
// pass over an 8 MiB bounded arena, sample, detokenise, all under a CBS
// budget and with every call hash-chain audited.
package infer

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/ai-native-os/corekernel/internal/audit"
	"github.com/ai-native-os/corekernel/internal/kernelerr"
	"github.com/ai-native-os/corekernel/internal/klog"
	"github.com/ai-native-os/corekernel/internal/memory"
)

// Budget is the optional CBS server tied to the inference task (spec
// §4.G): WCET in cycles, period in nanoseconds, and a hard per-period
// token cap.
type Budget struct {
	WCETCycles        uint64
	PeriodNs          int64
	MaxTokensPerPeriod int

	tokensThisPeriod int
	periodStartNs    int64
}

func (b *Budget) admit(nowNs int64, requested int) (allowed int, err error) {
	if b.PeriodNs <= 0 {
		return requested, nil
	}
	if nowNs-b.periodStartNs >= b.PeriodNs {
		b.periodStartNs = nowNs
		b.tokensThisPeriod = 0
	}
	remaining := b.MaxTokensPerPeriod - b.tokensThisPeriod
	if remaining <= 0 {
		return 0, kernelerr.New(kernelerr.KindTokenBudgetExceeded, "period exhausted (%d/%d)", b.tokensThisPeriod, b.MaxTokensPerPeriod)
	}
	if requested > remaining {
		requested = remaining
	}
	return requested, nil
}

func (b *Budget) record(n int) {
	b.tokensThisPeriod += n
}

// Engine drives the tokenise -> forward -> sample -> detokenise pipeline
// over a shared arena, exclusive to one step at a time (spec §5: "the
// inference arena is owned by the inference task exclusively during a
// step; it must be reset before another task reuses it").
type Engine struct {
	Model  *Model
	Arena  *memory.Arena
	Budget *Budget
	Audit  audit.Appender
	NowNs  func() int64

	lastConfidenceBits atomic.Uint64
}

// LastConfidence returns the max-softmax-probability of the final sampled
// step of the most recent Infer call (0 if none has run yet). This is the
// "recent inference confidences" telemetry signal spec §4.H names, fed
// through the single confidence() function in package autonomy rather than
// used as a confidence value directly.
func (e *Engine) LastConfidence() float64 {
	return math.Float64frombits(e.lastConfidenceBits.Load())
}

// Result is the outcome of one Infer call.
type Result struct {
	Text          string
	TokenIDs      []int32
	Status        audit.StatusBits
	DeadlineMissed bool
}

// Infer runs the full pipeline for prompt, generating up to maxTokens
// tokens under the configured sampling strategy and budget. On any
// non-fatal failure the arena is reset and control returns to the
// caller with a best-effort result, per spec §4.G/§7. Exactly one
// audit.OpInfer entry is appended per call, carrying the call's final
// outcome (spec §4.G: "every... infer... call inserts one hash-chained
// entry").
func (e *Engine) Infer(prompt string, maxTokens int, params SampleParams, seed uint64) (Result, error) {
	defer e.Arena.Reset()

	now := e.now()

	promptIDs, err := e.Model.Vocab.Encode(prompt)
	if err != nil {
		e.audit(audit.OpInfer, audit.StatusReject, len(prompt), 0, now)
		return Result{}, err
	}

	allowed := maxTokens
	if e.Budget != nil {
		allowed, err = e.Budget.admit(now, maxTokens)
		if err != nil {
			e.audit(audit.OpInfer, audit.StatusReject, len(prompt), 0, now)
			return Result{}, err
		}
	}

	kv := NewKVCache(e.Model.Cfg.NLayer, e.Model.Cfg.NCtx, e.Model.Cfg.NEmbd)
	rng := NewRng(seed)

	generated := make([]int32, 0, allowed)
	status := audit.StatusOk
	deadlineMissed := false

	tokens := append([]int32(nil), promptIDs...)
	for step := 0; step < allowed; step++ {
		position := len(tokens) - 1
		hidden, err := EmbedToken(e.Model, tokens[position], position)
		if err != nil {
			status = audit.StatusReject
			break
		}

		for layer := 0; layer < e.Model.Cfg.NLayer; layer++ {
			hidden, err = Forward(e.Model.Cfg, e.Model.Weights.Layers[layer], hidden, kv, layer)
			if err != nil {
				status = audit.StatusDeadlineMiss
				deadlineMissed = true
				break
			}
		}
		if deadlineMissed {
			break
		}

		logits := Logits(e.Model, hidden)
		next := Sample(logits, params, rng)
		e.lastConfidenceBits.Store(math.Float64bits(maxProb(logits)))

		if next == e.Model.Vocab.EOS() {
			break
		}

		tokens = append(tokens, next)
		generated = append(generated, next)
	}

	if e.Budget != nil {
		e.Budget.record(len(generated))
		if len(generated) < allowed || allowed < maxTokens {
			status |= audit.StatusDeadlineMiss
			deadlineMissed = true
		}
	}

	text, err := e.Model.Vocab.Decode(generated)
	if err != nil {
		status = audit.StatusReject
	}

	e.audit(audit.OpInfer, status, len(prompt), len(generated), now)
	klog.Debug("infer", "generated %d tokens (deadline_missed=%v)", len(generated), deadlineMissed)

	return Result{Text: text, TokenIDs: generated, Status: status, DeadlineMissed: deadlineMissed}, nil
}

// maxProb returns the largest softmax probability over logits, used as the
// per-step sampling-quality confidence signal.
func maxProb(logits []float32) float64 {
	probs := Softmax(logits)
	var max float32
	for _, p := range probs {
		if p > max {
			max = p
		}
	}
	return float64(max)
}

func (e *Engine) now() int64 {
	if e.NowNs != nil {
		return e.NowNs()
	}
	return time.Now().UnixNano()
}

func (e *Engine) audit(op audit.OpCode, status audit.StatusBits, promptLen, tokens int, nowNs int64) {
	if e.Audit == nil {
		return
	}
	var wcet uint64
	var period int64
	if e.Budget != nil {
		wcet = e.Budget.WCETCycles
		period = e.Budget.PeriodNs
	}
	e.Audit.Append(audit.Entry{
		TsNs:       nowNs,
		Op:         op,
		Status:     status,
		PromptLen:  uint32(promptLen),
		Tokens:     uint32(tokens),
		WcetCycles: wcet,
		PeriodNs:   period,
	})
}
