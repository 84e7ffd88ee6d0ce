package boot

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ai-native-os/corekernel/internal/autonomy"
	"github.com/ai-native-os/corekernel/internal/platform"
)

func TestBringEmitsOrderedBootSequence(t *testing.T) {
	var sink bytes.Buffer

	sys, err := Bring(platform.Reference(), &sink)
	require.NoError(t, err)
	require.NotNil(t, sys.Shell)

	log := sink.String()
	markers := []string{"UART_READY", "HEAP_READY", "MMU_ON", "GIC_READY", "SCHED_READY", "SHELL_READY"}

	last := -1
	for _, m := range markers {
		idx := strings.Index(log, m)
		require.Greater(t, idx, last, "marker %q out of order", m)
		last = idx
	}
}

func TestBringRejectsInvalidPlatform(t *testing.T) {
	bad := platform.Reference()
	bad.UARTBase = 0xdeadbeef // resolves to zero ranges, fails Validate's touch check

	var sink bytes.Buffer
	_, err := Bring(bad, &sink)
	require.Error(t, err)
}

func TestSampleTelemetryReflectsHeapUsage(t *testing.T) {
	var sink bytes.Buffer
	sys, err := Bring(platform.Reference(), &sink)
	require.NoError(t, err)

	before := sys.SampleTelemetry()
	require.Zero(t, before.HeapUsedFraction)

	_, err = sys.Heap.Alloc(1024)
	require.NoError(t, err)

	after := sys.SampleTelemetry()
	require.Greater(t, after.HeapUsedFraction, before.HeapUsedFraction)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	var sink bytes.Buffer
	sys, err := Bring(platform.Reference(), &sink)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	telemetry := func() autonomy.Telemetry { return autonomy.Telemetry{} }
	err = sys.Run(ctx, telemetry, 5*time.Millisecond)
	require.NoError(t, err)

	_, ok := sys.HealthBus.Latest()
	require.True(t, ok)
}
