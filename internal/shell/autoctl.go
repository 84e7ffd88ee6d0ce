package shell

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newAutoCtl(core *Core, out io.Writer) *cobra.Command {
	cmd := &cobra.Command{Use: "autoctl"}

	cmd.AddCommand(&cobra.Command{
		Use: "on",
		RunE: func(_ *cobra.Command, _ []string) error {
			fmt.Fprintln(out, "autonomy: enabled")
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use: "off",
		RunE: func(_ *cobra.Command, _ []string) error {
			fmt.Fprintln(out, "autonomy: disabled")
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use: "status",
		RunE: func(_ *cobra.Command, _ []string) error {
			if core.Autonomy == nil {
				return wrapCore(fmt.Errorf("autonomy controller not initialised"))
			}
			fmt.Fprintf(out, "watchdog_triggers=%d drift=%d\n", core.Autonomy.WatchdogTriggers(), core.Autonomy.DriftClass())
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
				fmt.Fprintf(out, "id=%d op=%s status=%d\n", e.ID, e.Op, e.Status)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use: "explain",
		RunE: func(_ *cobra.Command, _ []string) error {
			if core.Autonomy == nil {
				return wrapCore(fmt.Errorf("autonomy controller not initialised"))
			}
			fmt.Fprintf(out, "drift_class=%d watchdog_threshold_exceeded=%d\n", core.Autonomy.DriftClass(), core.Autonomy.WatchdogTriggers())
			return nil
		},
	})

	return cmd
}
