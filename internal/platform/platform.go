// Package platform describes the board the kernel boots on (spec §4.A):
// UART base/clock, GIC distributor/redistributor, RAM/MMIO ranges, and
// timer frequency. Two concrete Descriptors are provided: Reference (hard
// coded for the emulated target) and FromDeviceTree (populated from an FDT
// node tree handed over by the loader).
package platform

import (
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/ai-native-os/corekernel/internal/fdt"
	"github.com/ai-native-os/corekernel/internal/kernelerr"
)

// Attr tags a range with the memory attributes the MMU manager needs.
type Attr int

const (
	AttrNormalWriteBack Attr = iota
	AttrDeviceNonGathering
)

// String renders the attribute the way a YAML board file spells it.
func (a Attr) String() string {
	if a == AttrDeviceNonGathering {
		return "device"
	}
	return "normal"
}

func attrFromString(s string) Attr {
	if s == "device" {
		return AttrDeviceNonGathering
	}
	return AttrNormalWriteBack
}

// Range is a contiguous, attributed span of physical address space.
type Range struct {
	Name string
	Base uint64
	Size uint64
	Attr Attr
}

func (r Range) end() uint64 { return r.Base + r.Size }

func (r Range) contains(addr uint64) bool {
	return addr >= r.Base && addr < r.end()
}

// Descriptor is the immutable-for-the-life-of-the-kernel board description.
type Descriptor struct {
	Name string

	UARTBase  uint64
	UARTClock uint64

	GICDistributorBase   uint64
	GICRedistributorBase uint64

	RAM  []Range
	MMIO []Range

	TimerFrequencyHz uint64

	PSCIAvailable bool
}

// Find returns the named RAM or MMIO range, or a PlatformMissing error.
func (d *Descriptor) Find(name string) (Range, error) {
	for _, r := range d.RAM {
		if r.Name == name {
			return r, nil
		}
	}
	for _, r := range d.MMIO {
		if r.Name == name {
			return r, nil
		}
	}
	return Range{}, kernelerr.New(kernelerr.KindPlatformMissing, "no range named %q", name)
}

// Validate enforces the data-model invariant: every address the MMU map
// builder will touch lies within exactly one listed range, and RAM/MMIO
// never overlap.
func (d *Descriptor) Validate() error {
	all := make([]Range, 0, len(d.RAM)+len(d.MMIO))
	all = append(all, d.RAM...)
	all = append(all, d.MMIO...)
	sort.Slice(all, func(i, j int) bool { return all[i].Base < all[j].Base })

	for i := 1; i < len(all); i++ {
		if all[i].Base < all[i-1].end() {
			return fmt.Errorf("platform: range %q overlaps %q", all[i].Name, all[i-1].Name)
		}
	}

	touch := func(addr uint64) error {
		hit := 0
		for _, r := range all {
			if r.contains(addr) {
				hit++
			}
		}
		if hit != 1 {
			return fmt.Errorf("platform: address 0x%x resolves to %d ranges, want exactly 1", addr, hit)
		}
		return nil
	}
	if err := touch(d.UARTBase); err != nil {
		return err
	}
	if err := touch(d.GICDistributorBase); err != nil {
		return err
	}
	if err := touch(d.GICRedistributorBase); err != nil {
		return err
	}
	return nil
}

// Reference is the hard-coded descriptor for the emulated reference target
// (a GICv3 AArch64 virt-style machine), matching the addresses the teacher's
// own arm64 vGIC bring-up programs (distributor/redistributor bases).
func Reference() *Descriptor {
	return &Descriptor{
		Name:      "reference-virt-arm64",
		UARTBase:  0x09000000,
		UARTClock: 24_000_000,

		GICDistributorBase:   0x08000000,
		GICRedistributorBase: 0x080a0000,

		RAM: []Range{
			{Name: "ram", Base: 0x40000000, Size: 512 << 20, Attr: AttrNormalWriteBack},
		},
		MMIO: []Range{
			{Name: "uart", Base: 0x09000000, Size: 0x1000, Attr: AttrDeviceNonGathering},
			{Name: "gic-dist", Base: 0x08000000, Size: 0x10000, Attr: AttrDeviceNonGathering},
			{Name: "gic-redist", Base: 0x080a0000, Size: 0x20000, Attr: AttrDeviceNonGathering},
			{Name: "virtio-console", Base: 0xd0000000, Size: 0x200, Attr: AttrDeviceNonGathering},
		},

		TimerFrequencyHz: 62_500_000,
		PSCIAvailable:    true,
	}
}

// FromDeviceTree populates a Descriptor from a pre-parsed FDT node tree, the
// representation the UEFI loader hands the kernel for non-reference boards.
// Expected property shapes follow the devicetree.org UART/GIC/memory
// bindings: a "reg" u64-pair property per node, "clock-frequency" u32 on the
// serial node.
func FromDeviceTree(root fdt.Node) (*Descriptor, error) {
	d := &Descriptor{Name: root.Name}

	var walk func(n fdt.Node, into *[]Range, attr Attr) error
	walk = func(n fdt.Node, into *[]Range, attr Attr) error {
		for _, child := range n.Children {
			if hasPrefix(child.Name, "timer") {
				if f, ok := child.Properties["clock-frequency"]; ok && len(f.U32) > 0 {
					d.TimerFrequencyHz = uint64(f.U32[0])
				}
			}
			reg, ok := child.Properties["reg"]
			if !ok || len(reg.U64) < 2 {
				continue
			}
			r := Range{Name: child.Name, Base: reg.U64[0], Size: reg.U64[1], Attr: attr}
			*into = append(*into, r)

			switch {
			case child.Name == "serial" || hasPrefix(child.Name, "uart"):
				d.UARTBase = r.Base
				if clk, ok := child.Properties["clock-frequency"]; ok && len(clk.U32) > 0 {
					d.UARTClock = uint64(clk.U32[0])
				}
			case child.Name == "interrupt-controller" || hasPrefix(child.Name, "gic"):
				if d.GICDistributorBase == 0 {
					d.GICDistributorBase = r.Base
				} else {
					d.GICRedistributorBase = r.Base
				}
			}
			if err := walk(child, into, attr); err != nil {
				return err
			}
		}
		return nil
	}

	for _, top := range root.Children {
		switch top.Name {
		case "memory":
			if reg, ok := top.Properties["reg"]; ok && len(reg.U64) >= 2 {
				d.RAM = append(d.RAM, Range{Name: "ram", Base: reg.U64[0], Size: reg.U64[1], Attr: AttrNormalWriteBack})
			}
		case "soc", "bus":
			if err := walk(top, &d.MMIO, AttrDeviceNonGathering); err != nil {
				return nil, err
			}
		case "psci":
			d.PSCIAvailable = true
		}
	}

	if d.TimerFrequencyHz == 0 {
		d.TimerFrequencyHz = 62_500_000
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// ToDeviceTree re-encodes the descriptor as an FDT node tree, used by
// Bytes and by tests asserting round-trip fidelity against FromDeviceTree.
func (d *Descriptor) ToDeviceTree() fdt.Node {
	root := fdt.Node{Name: d.Name}

	mem := fdt.Node{Name: "memory"}
	if len(d.RAM) > 0 {
		mem.Properties = map[string]fdt.Property{
			"reg": {U64: []uint64{d.RAM[0].Base, d.RAM[0].Size}},
		}
	}
	root.Children = append(root.Children, mem)

	soc := fdt.Node{Name: "soc"}
	soc.Children = append(soc.Children, fdt.Node{
		Name: "serial",
		Properties: map[string]fdt.Property{
			"reg":             {U64: []uint64{d.UARTBase, 0x1000}},
			"clock-frequency": {U32: []uint32{uint32(d.UARTClock)}},
		},
	})
	soc.Children = append(soc.Children, fdt.Node{
		Name: "interrupt-controller",
		Properties: map[string]fdt.Property{
			"reg": {U64: []uint64{d.GICDistributorBase, 0x10000}},
		},
	})
	soc.Children = append(soc.Children, fdt.Node{
		Name: "gic-redist",
		Properties: map[string]fdt.Property{
			"reg": {U64: []uint64{d.GICRedistributorBase, 0x20000}},
		},
	})
	soc.Children = append(soc.Children, fdt.Node{
		Name: "timer",
		Properties: map[string]fdt.Property{
			"clock-frequency": {U32: []uint32{uint32(d.TimerFrequencyHz)}},
		},
	})
	root.Children = append(root.Children, soc)

	if d.PSCIAvailable {
		root.Children = append(root.Children, fdt.Node{Name: "psci"})
	}

	return root
}

// Bytes serializes the descriptor to a flattened device tree blob.
func (d *Descriptor) Bytes() ([]byte, error) {
	return fdt.Build(d.ToDeviceTree())
}

// yamlRange/yamlDescriptor are the on-disk board-file shapes: the teacher
// loads its own bundle/config files as YAML (spec.md §4.A names a
// device-tree-populated implementation; a YAML board file is the second,
// human-authored route to the same Descriptor for targets with no FDT blob).
type yamlRange struct {
	Name string `yaml:"name"`
	Base uint64 `yaml:"base"`
	Size uint64 `yaml:"size"`
	Attr string `yaml:"attr"`
}

type yamlDescriptor struct {
	Name                 string      `yaml:"name"`
	UARTBase             uint64      `yaml:"uart_base"`
	UARTClock            uint64      `yaml:"uart_clock"`
	GICDistributorBase   uint64      `yaml:"gic_distributor_base"`
	GICRedistributorBase uint64      `yaml:"gic_redistributor_base"`
	RAM                  []yamlRange `yaml:"ram"`
	MMIO                 []yamlRange `yaml:"mmio"`
	TimerFrequencyHz     uint64      `yaml:"timer_frequency_hz"`
	PSCIAvailable        bool        `yaml:"psci_available"`
}

// FromYAML parses a board file into a validated Descriptor. This is the
// human-authored counterpart to FromDeviceTree for boards with no FDT blob.
func FromYAML(data []byte) (*Descriptor, error) {
	var y yamlDescriptor
	if err := yaml.Unmarshal(data, &y); err != nil {
		return nil, fmt.Errorf("platform: parse yaml board file: %w", err)
	}

	d := &Descriptor{
		Name:                 y.Name,
		UARTBase:             y.UARTBase,
		UARTClock:            y.UARTClock,
		GICDistributorBase:   y.GICDistributorBase,
		GICRedistributorBase: y.GICRedistributorBase,
		TimerFrequencyHz:     y.TimerFrequencyHz,
		PSCIAvailable:        y.PSCIAvailable,
	}
	for _, r := range y.RAM {
		d.RAM = append(d.RAM, Range{Name: r.Name, Base: r.Base, Size: r.Size, Attr: attrFromString(r.Attr)})
	}
	for _, r := range y.MMIO {
		d.MMIO = append(d.MMIO, Range{Name: r.Name, Base: r.Base, Size: r.Size, Attr: attrFromString(r.Attr)})
	}
	if d.TimerFrequencyHz == 0 {
		d.TimerFrequencyHz = 62_500_000
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// ToYAML re-encodes the descriptor as a board file, the inverse of FromYAML.
func (d *Descriptor) ToYAML() ([]byte, error) {
	y := yamlDescriptor{
		Name:                 d.Name,
		UARTBase:             d.UARTBase,
		UARTClock:            d.UARTClock,
		GICDistributorBase:   d.GICDistributorBase,
		GICRedistributorBase: d.GICRedistributorBase,
		TimerFrequencyHz:     d.TimerFrequencyHz,
		PSCIAvailable:        d.PSCIAvailable,
	}
	for _, r := range d.RAM {
		y.RAM = append(y.RAM, yamlRange{Name: r.Name, Base: r.Base, Size: r.Size, Attr: r.Attr.String()})
	}
	for _, r := range d.MMIO {
		y.MMIO = append(y.MMIO, yamlRange{Name: r.Name, Base: r.Base, Size: r.Size, Attr: r.Attr.String()})
	}
	return yaml.Marshal(y)
}
