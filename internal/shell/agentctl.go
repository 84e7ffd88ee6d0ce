package shell

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ai-native-os/corekernel/internal/supervision"
)

func newAgentCtl(core *Core, out io.Writer) *cobra.Command {
	cmd := &cobra.Command{Use: "agentctl"}

	cmd.AddCommand(&cobra.Command{
		Use: "list",
		RunE: func(_ *cobra.Command, _ []string) error {
			if core.Registry == nil {
				return wrapCore(fmt.Errorf("agent registry not initialised"))
			}
			for _, a := range core.Registry.List() {
				fmt.Fprintf(out, "agent=%d pid=%d name=%s active=%v restarts=%d\n", a.AgentID, a.PID, a.Name, a.Active, a.RestartCount)
			}
			return nil
		},
	})

	policyCmd := &cobra.Command{
		Use:  "policy <agent-id> <add-cap|remove-cap> <capability>",
		Args: cobra.ExactArgs(3),
		RunE: func(_ *cobra.Command, args []string) error {
			if core.PolicyCtl == nil {
				return wrapCore(fmt.Errorf("policy controller not initialised"))
			}
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return err
			}
			cap, err := parseCapability(args[2])
			if err != nil {
				return err
			}

			var kind supervision.PatchKind
			switch args[1] {
			case "add-cap":
				kind = supervision.PatchAddCapability
			case "remove-cap":
				kind = supervision.PatchRemoveCapability
			default:
				return fmt.Errorf("unknown policy action %q", args[1])
			}

			if err := core.PolicyCtl.Apply(supervision.Patch{Kind: kind, AgentID: id, Capability: cap}, 0); err != nil {
				return wrapCore(err)
			}
			fmt.Fprintln(out, "policy applied")
			return nil
		},
	}
	cmd.AddCommand(policyCmd)

	return cmd
}

func parseCapability(s string) (supervision.Capability, error) {
	switch s {
	case "FsBasic":
		return supervision.CapFsBasic, nil
	case "NetBasic":
		return supervision.CapNetBasic, nil
	case "Admin":
		return supervision.CapAdmin, nil
	default:
		return 0, fmt.Errorf("unknown capability %q", s)
	}
}
