// Command kernel is the entry point for the reference boot: it brings the
// platform up through internal/boot and hands control to the interactive
// shell over stdin/stdout.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ai-native-os/corekernel/internal/boot"
	"github.com/ai-native-os/corekernel/internal/platform"
	"github.com/ai-native-os/corekernel/internal/shell"
)

// controlPlaneSockEnv names the environment variable a caller sets to the
// unix-socket path the hosted virtio-console control-plane stand-in
// listens on (spec §6.1). Unset or unlistenable leaves it disabled.
const controlPlaneSockEnv = "KERNEL_CONTROL_PLANE_SOCK"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "kernel: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	sys, err := boot.Bring(platform.Reference(), os.Stdout)
	if err != nil {
		return fmt.Errorf("bring-up: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if sockPath := os.Getenv(controlPlaneSockEnv); sockPath != "" {
		_ = os.Remove(sockPath)
		ln, lerr := net.Listen("unix", sockPath)
		if lerr != nil {
			fmt.Fprintf(os.Stderr, "kernel: control-plane listen: %v\n", lerr)
		} else {
			sys.ControlPlaneListener = ln
		}
	}

	go func() {
		if err := sys.Run(ctx, sys.SampleTelemetry, time.Second); err != nil {
			fmt.Fprintf(os.Stderr, "kernel: background loops stopped: %v\n", err)
		}
	}()

	if len(os.Args) > 1 {
		code := shell.Dispatch(sys.Shell, os.Stdout, os.Args[1:])
		stop()
		os.Exit(int(code))
	}

	replDone := make(chan struct{})
	go func() {
		shell.RunREPL(sys.Shell, int(os.Stdin.Fd()), os.Stdin, os.Stdout)
		close(replDone)
	}()

	select {
	case <-ctx.Done():
	case <-replDone:
	}
	return nil
}
