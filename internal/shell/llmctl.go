package shell

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ai-native-os/corekernel/internal/infer"
)

func newLlmCtl(core *Core, out io.Writer) *cobra.Command {
	cmd := &cobra.Command{Use: "llmctl"}

	cmd.AddCommand(&cobra.Command{
		Use:  "load <path>",
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if core.Engine == nil {
				return wrapCore(fmt.Errorf("no engine configured"))
			}
			var now int64
			if core.NowNs != nil {
				now = core.NowNs()
			}
			model, err := infer.Load(core.ModelStore, args[0], core.AuditChain, now)
			if err != nil {
				return wrapCore(err)
			}
			core.Engine.Model = model
			fmt.Fprintf(out, "llm: loaded %s (n_vocab=%d n_layer=%d)\n", args[0], model.Cfg.NVocab, model.Cfg.NLayer)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use: "budget",
		RunE: func(_ *cobra.Command, _ []string) error {
			if core.Engine == nil || core.Engine.Budget == nil {
				return wrapCore(fmt.Errorf("no budget configured"))
			}
			b := core.Engine.Budget
			fmt.Fprintf(out, "wcet_cycles=%d period_ns=%d max_tokens_per_period=%d\n", b.WCETCycles, b.PeriodNs, b.MaxTokensPerPeriod)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use: "status",
		RunE: func(_ *cobra.Command, _ []string) error {
			if core.Engine == nil || core.Engine.Model == nil {
				fmt.Fprintln(out, "llm: not loaded")
				return nil
			}
			fmt.Fprintf(out, "llm: loaded n_vocab=%d n_layer=%d\n", core.Engine.Model.Cfg.NVocab, core.Engine.Model.Cfg.NLayer)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use: "audit",
		RunE: func(_ *cobra.Command, _ []string) error {
			if core.AuditChain == nil {
				return wrapCore(fmt.Errorf("audit chain not initialised"))
			}
			for _, e := range core.AuditChain.Entries() {
				fmt.Fprintf(out, "id=%d op=%s tokens=%d\n", e.ID, e.Op, e.Tokens)
			}
			return nil
		},
	})

	return cmd
}
