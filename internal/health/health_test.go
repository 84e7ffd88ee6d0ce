package health

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMonitorTickPublishesLatestSummary(t *testing.T) {
	bus := &Bus{}
	calls := 0
	mon := NewMonitor(func() Summary {
		calls++
		return Summary{TsNs: int64(calls), ActiveAgents: calls}
	}, bus)

	_, ok := bus.Latest()
	require.False(t, ok)

	s1 := mon.Tick()
	require.Equal(t, 1, s1.ActiveAgents)

	s2 := mon.Tick()
	require.Equal(t, 2, s2.ActiveAgents)

	latest, ok := bus.Latest()
	require.True(t, ok)
	require.Equal(t, s2, latest)
}
