// Package fdt models a flattened-device-tree node graph and encodes it to
// the DTB wire format the UEFI loader hands the kernel (spec §4.A): the
// platform layer's device-tree-populated Descriptor implementation walks a
// tree of this shape, and ToDeviceTree/Bytes re-emit one for export.
package fdt

// Property holds exactly one typed payload. Which field is set determines
// how Build serializes it onto the wire.
type Property struct {
	Strings []string
	U32     []uint32
	U64     []uint64
	Raw     []byte
	Present bool // a zero-length boolean property, e.g. "psci"
}

// tag names which field of Property is populated, or "" if none are.
func (p Property) tag() string {
	switch {
	case len(p.Strings) > 0:
		return "strings"
	case len(p.U32) > 0:
		return "u32"
	case len(p.U64) > 0:
		return "u64"
	case len(p.Raw) > 0:
		return "raw"
	case p.Present:
		return "present"
	default:
		return ""
	}
}

func (p Property) populatedFields() int {
	n := 0
	for _, set := range []bool{len(p.Strings) > 0, len(p.U32) > 0, len(p.U64) > 0, len(p.Raw) > 0, p.Present} {
		if set {
			n++
		}
	}
	return n
}

// Node is one device-tree node: a name, a set of properties keyed by name,
// and an ordered list of children.
type Node struct {
	Name       string
	Properties map[string]Property
	Children   []Node
}
