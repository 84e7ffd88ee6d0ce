// Package shell implements the stable shell surface of spec §6.4 as a
// cobra command tree. The shell parses and dispatches to core APIs; it
// carries no logic of its own (spec §4.L).
package shell

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ai-native-os/corekernel/internal/audit"
	"github.com/ai-native-os/corekernel/internal/autonomy"
	"github.com/ai-native-os/corekernel/internal/config"
	"github.com/ai-native-os/corekernel/internal/health"
	"github.com/ai-native-os/corekernel/internal/infer"
	"github.com/ai-native-os/corekernel/internal/sched"
	"github.com/ai-native-os/corekernel/internal/supervision"
	"github.com/ai-native-os/corekernel/internal/vfs"
)

// ExitCode is the shell dispatcher's documented exit-code contract (spec
// §6.4): 0 = ok, 1 = parse error, 2 = core error.
type ExitCode int

const (
	ExitOk         ExitCode = 0
	ExitParseError ExitCode = 1
	ExitCoreError  ExitCode = 2
)

// Core is the bundle of subsystem handles the shell dispatches into. No
// field carries shell-owned state; every operation is a pass-through.
type Core struct {
	Scheduler  *sched.Scheduler
	Engine     *infer.Engine
	Autonomy   *autonomy.Controller
	Registry   *supervision.Registry
	PolicyCtl  *supervision.PolicyController
	ConfigQ    *config.Quarantine
	AuditChain *audit.Chain
	HealthBus  *health.Bus
	ModelStore vfs.ModelStore
	Incidents  *vfs.IncidentWriter
	NowNs      func() int64
}

// New builds the root cobra command tree over core, writing to out.
func New(core *Core, out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "shell",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(out)

	root.AddCommand(
		newAutoCtl(core, out),
		newLlmCtl(core, out),
		newLlmInfer(core, out),
		newSchedCtl(core, out),
		newCtlConfig(core, out),
		newHealthCtl(core, out),
		newAgentCtl(core, out),
	)
	return root
}

// Dispatch runs args against core's command tree and returns the
// documented exit code.
func Dispatch(core *Core, out io.Writer, args []string) ExitCode {
	root := New(core, out)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		if _, ok := err.(*coreError); ok {
			fmt.Fprintln(out, err)
			return ExitCoreError
		}
		fmt.Fprintln(out, err)
		return ExitParseError
	}
	return ExitOk
}

// coreError marks an error as originating from a core subsystem call
// (exit code 2) rather than argument parsing (exit code 1).
type coreError struct{ err error }

func (e *coreError) Error() string { return e.err.Error() }

func wrapCore(err error) error {
	if err == nil {
		return nil
	}
	return &coreError{err: err}
}
