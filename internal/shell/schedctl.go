package shell

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"
)

func newSchedCtl(core *Core, out io.Writer) *cobra.Command {
	cmd := &cobra.Command{Use: "schedctl"}

	cmd.AddCommand(&cobra.Command{
		Use: "workloads",
		RunE: func(_ *cobra.Command, _ []string) error {
			if core.Scheduler == nil {
				return wrapCore(fmt.Errorf("scheduler not initialised"))
			}
			for _, t := range core.Scheduler.Workloads() {
				fmt.Fprintf(out, "task=%d state=%s priority=%d\n", t.ID, t.State, t.Priority)
			}
			return nil
		},
	})

	priorityCmd := &cobra.Command{
		Use:  "priority <task-id> <priority>",
		Args: cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			if core.Scheduler == nil {
				return wrapCore(fmt.Errorf("scheduler not initialised"))
			}
			id, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return err
			}
			prio, err := strconv.ParseUint(args[1], 10, 8)
			if err != nil {
				return err
			}
			core.Scheduler.SetPriority(uint32(id), uint8(prio))
			fmt.Fprintln(out, "priority updated")
			return nil
		},
	}
	cmd.AddCommand(priorityCmd)

	affinityCmd := &cobra.Command{
		Use:  "affinity <task-id> <mask>",
		Args: cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			if core.Scheduler == nil {
				return wrapCore(fmt.Errorf("scheduler not initialised"))
			}
			id, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return err
			}
			mask, err := strconv.ParseUint(args[1], 0, 64)
			if err != nil {
				return err
			}
			core.Scheduler.SetAffinity(uint32(id), mask)
			fmt.Fprintln(out, "affinity updated")
			return nil
		},
	}
	cmd.AddCommand(affinityCmd)

	cmd.AddCommand(&cobra.Command{
		Use: "feature",
		RunE: func(_ *cobra.Command, _ []string) error {
			if core.Scheduler == nil {
				return wrapCore(fmt.Errorf("scheduler not initialised"))
			}
			fmt.Fprintf(out, "utilisation=%.3f\n", core.Scheduler.Utilisation())
			return nil
		},
	})

	return cmd
}
