package fdt

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// Wire-format constants from the devicetree.org DTB spec; the encoding is
// fixed by that spec, not a stylistic choice.
const (
	headerSize   = 40
	formatVersion = 17
	lastCompatVer = 16
	blobMagic     = 0xd00dfeed

	tokenBeginNode = 0x1
	tokenEndNode   = 0x2
	tokenProperty  = 0x3
	tokenEnd       = 0x9
)

// encoder accumulates the struct and strings blocks of a DTB blob while it
// walks a Node tree, interning property names into the strings block as it
// goes (the string table is append-only and deduplicated by name).
type encoder struct {
	structBlock []byte
	stringBlock []byte
	stringAt    map[string]uint32
}

// Build serializes root into a complete DTB blob (header, empty memory
// reservation map, struct block, strings block).
func Build(root Node) ([]byte, error) {
	e := &encoder{stringAt: make(map[string]uint32)}
	if err := e.node(root); err != nil {
		return nil, err
	}
	e.u32(tokenEnd)
	return e.assemble(), nil
}

func (e *encoder) node(n Node) error {
	e.u32(tokenBeginNode)
	e.alignedBytes(append([]byte(n.Name), 0))

	names := make([]string, 0, len(n.Properties))
	for name := range n.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := e.property(name, n.Properties[name]); err != nil {
			return err
		}
	}

	for _, child := range n.Children {
		if err := e.node(child); err != nil {
			return err
		}
	}

	e.u32(tokenEndNode)
	return nil
}

func (e *encoder) property(name string, p Property) error {
	switch n := p.populatedFields(); {
	case n == 0:
		return fmt.Errorf("fdt: property %q carries no value", name)
	case n > 1:
		return fmt.Errorf("fdt: property %q sets more than one value kind", name)
	}

	var payload []byte
	switch p.tag() {
	case "strings":
		for _, s := range p.Strings {
			payload = append(payload, append([]byte(s), 0)...)
		}
	case "u32":
		payload = make([]byte, 4*len(p.U32))
		for i, v := range p.U32 {
			binary.BigEndian.PutUint32(payload[i*4:], v)
		}
	case "u64":
		payload = make([]byte, 8*len(p.U64))
		for i, v := range p.U64 {
			binary.BigEndian.PutUint64(payload[i*8:], v)
		}
	case "raw":
		payload = append(payload, p.Raw...)
	case "present":
		payload = nil
	default:
		return fmt.Errorf("fdt: property %q has unrecognised shape", name)
	}

	e.u32(tokenProperty)
	e.u32(uint32(len(payload)))
	e.u32(e.intern(name))
	e.alignedBytes(payload)
	return nil
}

func (e *encoder) intern(name string) uint32 {
	if off, ok := e.stringAt[name]; ok {
		return off
	}
	off := uint32(len(e.stringBlock))
	e.stringBlock = append(e.stringBlock, append([]byte(name), 0)...)
	e.stringAt[name] = off
	return off
}

func (e *encoder) u32(v uint32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	e.structBlock = append(e.structBlock, tmp[:]...)
}

func (e *encoder) alignedBytes(b []byte) {
	e.structBlock = append(e.structBlock, b...)
	for len(e.structBlock)%4 != 0 {
		e.structBlock = append(e.structBlock, 0)
	}
}

func (e *encoder) assemble() []byte {
	const memReserveSize = 16 // empty reservation map: one zeroed 16-byte terminator entry

	structOff := headerSize + memReserveSize
	stringsOff := structOff + len(e.structBlock)
	total := stringsOff + len(e.stringBlock)

	blob := make([]byte, total)
	binary.BigEndian.PutUint32(blob[0:4], blobMagic)
	binary.BigEndian.PutUint32(blob[4:8], uint32(total))
	binary.BigEndian.PutUint32(blob[8:12], uint32(structOff))
	binary.BigEndian.PutUint32(blob[12:16], uint32(stringsOff))
	binary.BigEndian.PutUint32(blob[16:20], uint32(headerSize))
	binary.BigEndian.PutUint32(blob[20:24], formatVersion)
	binary.BigEndian.PutUint32(blob[24:28], lastCompatVer)
	binary.BigEndian.PutUint32(blob[28:32], 0) // boot_cpuid_phys: single-CPU core
	binary.BigEndian.PutUint32(blob[32:36], uint32(len(e.stringBlock)))
	binary.BigEndian.PutUint32(blob[36:40], uint32(len(e.structBlock)))

	copy(blob[headerSize+memReserveSize:], e.structBlock)
	copy(blob[stringsOff:], e.stringBlock)
	return blob
}
