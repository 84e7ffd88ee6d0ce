package fdt

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildProducesValidHeader(t *testing.T) {
	root := Node{
		Name: "root",
		Children: []Node{
			{
				Name: "serial",
				Properties: map[string]Property{
					"reg":             {U64: []uint64{0x09000000, 0x1000}},
					"clock-frequency": {U32: []uint32{24_000_000}},
					"compatible":      {Strings: []string{"arm,pl011"}},
				},
			},
			{Name: "psci", Properties: map[string]Property{"linux,phandle": {Present: true}}},
		},
	}

	blob, err := Build(root)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(blob), headerSize)

	require.Equal(t, uint32(blobMagic), binary.BigEndian.Uint32(blob[0:4]))
	require.Equal(t, uint32(len(blob)), binary.BigEndian.Uint32(blob[4:8]))
	require.Equal(t, uint32(formatVersion), binary.BigEndian.Uint32(blob[20:24]))
}

func TestBuildRejectsAmbiguousProperty(t *testing.T) {
	root := Node{
		Name: "root",
		Properties: map[string]Property{
			"bad": {U32: []uint32{1}, U64: []uint64{2}},
		},
	}
	_, err := Build(root)
	require.Error(t, err)
}

func TestBuildRejectsEmptyProperty(t *testing.T) {
	root := Node{
		Name:       "root",
		Properties: map[string]Property{"empty": {}},
	}
	_, err := Build(root)
	require.Error(t, err)
}
