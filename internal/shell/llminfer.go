package shell

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ai-native-os/corekernel/internal/infer"
)

func newLlmInfer(core *Core, out io.Writer) *cobra.Command {
	var maxTokens int

	cmd := &cobra.Command{
		Use:  "llminfer <text>",
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if core.Engine == nil || core.Engine.Model == nil {
				return wrapCore(fmt.Errorf("no model loaded"))
			}
			res, err := core.Engine.Infer(args[0], maxTokens, infer.SampleParams{Strategy: infer.StrategyGreedy}, 1)
			if err != nil {
				return wrapCore(err)
			}
			fmt.Fprintln(out, res.Text)
			return nil
		},
	}
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 32, "maximum tokens to generate")
	return cmd
}
