package shell

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ai-native-os/corekernel/internal/vfs"
)

func newCtlConfig(core *Core, out io.Writer) *cobra.Command {
	cmd := &cobra.Command{Use: "ctlconfig"}

	cmd.AddCommand(&cobra.Command{
		Use:  "propose <key=value>...",
		Args: cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if core.ConfigQ == nil {
				return wrapCore(fmt.Errorf("config quarantine not initialised"))
			}
			values := make(map[string]string, len(args))
			for _, kv := range args {
				parts := strings.SplitN(kv, "=", 2)
				if len(parts) != 2 {
					return fmt.Errorf("invalid key=value pair %q", kv)
				}
				values[parts[0]] = parts[1]
			}
			id := core.ConfigQ.Propose(values, nil, "", "")
			fmt.Fprintf(out, "proposal id=%d\n", id)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:  "commit <id>",
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if core.ConfigQ == nil {
				return wrapCore(fmt.Errorf("config quarantine not initialised"))
			}
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return err
			}
			v, err := core.ConfigQ.Commit(id)
			if err != nil {
				return wrapCore(err)
			}
			fmt.Fprintf(out, "committed version=%d head_hash=%x\n", v.ID, v.HeadHash)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use: "status",
		RunE: func(_ *cobra.Command, _ []string) error {
			if core.ConfigQ == nil {
				return wrapCore(fmt.Errorf("config quarantine not initialised"))
			}
			st := core.ConfigQ.Status()
			if st.Active != nil {
				fmt.Fprintf(out, "active version=%d head_hash=%x\n", st.Active.ID, st.HeadHash)
			} else {
				fmt.Fprintln(out, "active: none")
			}
			fmt.Fprintf(out, "pending=%d\n", len(st.Pending))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use: "export",
		RunE: func(_ *cobra.Command, _ []string) error {
			if core.ConfigQ == nil {
				return wrapCore(fmt.Errorf("config quarantine not initialised"))
			}
			committed := core.ConfigQ.Committed()
			entries := make([]vfs.ConfigChainEntry, len(committed))
			for i, v := range committed {
				keys := make([]string, 0, len(v.Values))
				for k := range v.Values {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				entries[i] = vfs.ConfigChainEntry{ID: v.ID, TsNs: v.TsNs, PrevHash: v.PrevHash, HeadHash: v.HeadHash, Keys: keys}
			}
			fmt.Fprint(out, vfs.FormatConfigChain(entries))
			return nil
		},
	})

	return cmd
}
