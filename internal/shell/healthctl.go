package shell

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newHealthCtl(core *Core, out io.Writer) *cobra.Command {
	cmd := &cobra.Command{Use: "healthctl"}

	cmd.AddCommand(&cobra.Command{
		Use: "status",
		RunE: func(_ *cobra.Command, _ []string) error {
			if core.HealthBus == nil {
				return wrapCore(fmt.Errorf("health bus not initialised"))
			}
			s, ok := core.HealthBus.Latest()
			if !ok {
				fmt.Fprintln(out, "health: no summary published yet")
				return nil
			}
			fmt.Fprintf(out, "heap=%d/%d arena_high_water=%d sched_util=%.3f breaker_open=%v agents=%d audit_ok=%v\n",
				s.HeapUsedBytes, s.HeapCapacityBytes, s.ArenaHighWaterBytes, s.SchedUtilisation, s.SchedBreakerOpen, s.ActiveAgents, s.AuditChainOk)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use: "export",
		RunE: func(_ *cobra.Command, _ []string) error {
			if core.HealthBus == nil || core.Incidents == nil {
				return wrapCore(fmt.Errorf("health export not configured"))
			}
			s, ok := core.HealthBus.Latest()
			if !ok {
				return wrapCore(fmt.Errorf("no summary published yet"))
			}
			path, err := core.Incidents.Export("health_summary", s)
			if err != nil {
				return wrapCore(err)
			}
			fmt.Fprintf(out, "exported %s\n", path)
			return nil
		},
	})

	return cmd
}
