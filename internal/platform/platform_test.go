package platform

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReferenceValidates(t *testing.T) {
	d := Reference()
	require.NoError(t, d.Validate())
}

func TestFindMissing(t *testing.T) {
	d := Reference()
	_, err := d.Find("nope")
	require.Error(t, err)
}

func TestDeviceTreeRoundTrip(t *testing.T) {
	ref := Reference()
	node := ref.ToDeviceTree()

	got, err := FromDeviceTree(node)
	require.NoError(t, err)

	require.Equal(t, ref.UARTBase, got.UARTBase)
	require.Equal(t, ref.UARTClock, got.UARTClock)
	require.Equal(t, ref.GICDistributorBase, got.GICDistributorBase)
	require.Equal(t, ref.GICRedistributorBase, got.GICRedistributorBase)
	require.Equal(t, ref.TimerFrequencyHz, got.TimerFrequencyHz)
	require.NoError(t, got.Validate())
}

func TestBytesSerializes(t *testing.T) {
	d := Reference()
	b, err := d.Bytes()
	require.NoError(t, err)
	require.NotEmpty(t, b)
}

func TestYAMLRoundTrip(t *testing.T) {
	ref := Reference()
	y, err := ref.ToYAML()
	require.NoError(t, err)

	got, err := FromYAML(y)
	require.NoError(t, err)
	require.Equal(t, ref.UARTBase, got.UARTBase)
	require.Equal(t, ref.UARTClock, got.UARTClock)
	require.Equal(t, ref.GICDistributorBase, got.GICDistributorBase)
	require.Equal(t, ref.GICRedistributorBase, got.GICRedistributorBase)
	require.Equal(t, ref.TimerFrequencyHz, got.TimerFrequencyHz)
	require.Equal(t, len(ref.RAM), len(got.RAM))
	require.Equal(t, len(ref.MMIO), len(got.MMIO))
	require.NoError(t, got.Validate())
}

func TestFromYAMLRejectsOverlap(t *testing.T) {
	bad := []byte(`
name: bad-board
uart_base: 0x1000
uart_clock: 1000000
gic_distributor_base: 0x2000
gic_redistributor_base: 0x3000
timer_frequency_hz: 1000000
ram:
  - name: ram
    base: 0x1000
    size: 0x1000
    attr: normal
mmio:
  - name: uart
    base: 0x1000
    size: 0x100
    attr: device
`)
	_, err := FromYAML(bad)
	require.Error(t, err)
}

func TestOverlapRejected(t *testing.T) {
	d := Reference()
	d.MMIO = append(d.MMIO, Range{Name: "bad", Base: d.MMIO[0].Base, Size: 4096, Attr: AttrDeviceNonGathering})
	require.Error(t, d.Validate())
}
