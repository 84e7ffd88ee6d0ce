// Package gguf implements the model file format of spec §6.2: a header,
// typed metadata key/value pairs, tensor-info records, and 32-byte-aligned
// tensor data laid out as Q4_0 or Q8_0 blocks.
package gguf

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/ai-native-os/corekernel/internal/kernelerr"
)

// Magic is the fixed 4-byte file magic, "GGUF" read little-endian as a
// u32 (0x46554747 per spec §6.2).
const Magic uint32 = 0x46554747

// Version is the only version this loader accepts.
const Version uint32 = 3

// ValueType tags a metadata value's wire encoding, following the type
// table used across the llama.cpp-derived GGUF ecosystem this format is
// drawn from (spec §6.2 names "values are typed" without enumerating
// tags).
type ValueType uint32

const (
	TypeUint8 ValueType = iota
	TypeInt8
	TypeUint16
	TypeInt16
	TypeUint32
	TypeInt32
	TypeFloat32
	TypeBool
	TypeString
	TypeArray
	TypeUint64
	TypeInt64
	TypeFloat64
)

// ElementType tags a tensor's stored element encoding.
type ElementType uint32

const (
	ElemF32 ElementType = iota
	ElemQ4_0
	ElemQ8_0
)

// KV is one decoded metadata key/value pair. Scalar values are stored in
// Scalar; array values are stored in Array (each element itself a KV with
// an empty Key).
type KV struct {
	Key   string
	Type  ValueType
	Scalar any
	Array  []KV
}

// TensorInfo describes one tensor's shape and location within the
// tensor-data section.
type TensorInfo struct {
	Name    string
	NDims   uint32
	Dims    []uint64
	Elem    ElementType
	Offset  uint64
}

// File is a fully parsed GGUF model file (header, metadata, tensor
// table); tensor data is referenced by offset into the source io.ReaderAt
// rather than copied.
type File struct {
	NTensors uint64
	NKV      uint64
	KVs      []KV
	Tensors  []TensorInfo
	dataBase int64
	data     io.ReaderAt
}

// align is the tensor-data alignment boundary (spec §6.2: "align(32)").
const align = 32

// Parse reads a GGUF file from r, validating the header and decoding
// metadata and tensor-info sections. Tensor bytes are accessed lazily via
// ReadTensor so large models are never copied wholesale into the bounded
// kernel heap.
func Parse(r io.ReaderAt) (*File, error) {
	sr := io.NewSectionReader(r, 0, 1<<62)
	br := bufio.NewReader(sr)

	var magic, version uint32
	var nTensors, nKV uint64
	if err := binary.Read(br, binary.LittleEndian, &magic); err != nil {
		return nil, kernelerr.New(kernelerr.KindModelFormatInvalid, "read magic: %v", err)
	}
	if magic != Magic {
		return nil, kernelerr.New(kernelerr.KindModelFormatInvalid, "bad magic 0x%08x", magic)
	}
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return nil, kernelerr.New(kernelerr.KindModelFormatInvalid, "read version: %v", err)
	}
	if version != Version {
		return nil, kernelerr.New(kernelerr.KindModelFormatInvalid, "unsupported version %d", version)
	}
	if err := binary.Read(br, binary.LittleEndian, &nTensors); err != nil {
		return nil, kernelerr.New(kernelerr.KindModelFormatInvalid, "read n_tensors: %v", err)
	}
	if err := binary.Read(br, binary.LittleEndian, &nKV); err != nil {
		return nil, kernelerr.New(kernelerr.KindModelFormatInvalid, "read n_kv: %v", err)
	}

	f := &File{NTensors: nTensors, NKV: nKV, data: r}

	var offset int64 = 20
	for i := uint64(0); i < nKV; i++ {
		kv, n, err := readKV(sr, offset)
		if err != nil {
			return nil, kernelerr.New(kernelerr.KindModelFormatInvalid, "kv %d: %v", i, err)
		}
		f.KVs = append(f.KVs, kv)
		offset += n
	}

	for i := uint64(0); i < nTensors; i++ {
		ti, n, err := readTensorInfo(sr, offset)
		if err != nil {
			return nil, kernelerr.New(kernelerr.KindModelFormatInvalid, "tensor_info %d: %v", i, err)
		}
		f.Tensors = append(f.Tensors, ti)
		offset += n
	}

	if rem := offset % align; rem != 0 {
		offset += align - rem
	}
	f.dataBase = offset
	return f, nil
}

func readString(r io.ReaderAt, off int64) (string, int64, error) {
	var n uint64
	if err := binary.Read(io.NewSectionReader(r, off, 8), binary.LittleEndian, &n); err != nil {
		return "", 0, err
	}
	buf := make([]byte, n)
	if _, err := r.ReadAt(buf, off+8); err != nil {
		return "", 0, err
	}
	return string(buf), 8 + int64(n), nil
}

func readKV(r io.ReaderAt, off int64) (KV, int64, error) {
	start := off
	key, n, err := readString(r, off)
	if err != nil {
		return KV{}, 0, err
	}
	off += n

	var typ uint32
	if err := binary.Read(io.NewSectionReader(r, off, 4), binary.LittleEndian, &typ); err != nil {
		return KV{}, 0, err
	}
	off += 4

	val, n, err := readValue(r, off, ValueType(typ))
	if err != nil {
		return KV{}, 0, err
	}
	off += n

	kv := KV{Key: key, Type: ValueType(typ)}
	if arr, ok := val.([]KV); ok {
		kv.Array = arr
	} else {
		kv.Scalar = val
	}
	return kv, off - start, nil
}

func readValue(r io.ReaderAt, off int64, typ ValueType) (any, int64, error) {
	readFixed := func(size int64) ([]byte, error) {
		buf := make([]byte, size)
		_, err := r.ReadAt(buf, off)
		return buf, err
	}

	switch typ {
	case TypeUint8:
		b, err := readFixed(1)
		return uint8(b[0]), 1, err
	case TypeInt8:
		b, err := readFixed(1)
		return int8(b[0]), 1, err
	case TypeUint16:
		b, err := readFixed(2)
		return binary.LittleEndian.Uint16(b), 2, err
	case TypeInt16:
		b, err := readFixed(2)
		return int16(binary.LittleEndian.Uint16(b)), 2, err
	case TypeUint32:
		b, err := readFixed(4)
		return binary.LittleEndian.Uint32(b), 4, err
	case TypeInt32:
		b, err := readFixed(4)
		return int32(binary.LittleEndian.Uint32(b)), 4, err
	case TypeFloat32:
		b, err := readFixed(4)
		return math.Float32frombits(binary.LittleEndian.Uint32(b)), 4, err
	case TypeBool:
		b, err := readFixed(1)
		return b[0] != 0, 1, err
	case TypeUint64:
		b, err := readFixed(8)
		return binary.LittleEndian.Uint64(b), 8, err
	case TypeInt64:
		b, err := readFixed(8)
		return int64(binary.LittleEndian.Uint64(b)), 8, err
	case TypeFloat64:
		b, err := readFixed(8)
		return math.Float64frombits(binary.LittleEndian.Uint64(b)), 8, err
	case TypeString:
		s, n, err := readString(r, off)
		return s, n, err
	case TypeArray:
		var elemType, count uint32
		if err := binary.Read(io.NewSectionReader(r, off, 4), binary.LittleEndian, &elemType); err != nil {
			return nil, 0, err
		}
		off += 4
		if err := binary.Read(io.NewSectionReader(r, off, 4), binary.LittleEndian, &count); err != nil {
			return nil, 0, err
		}
		off += 4
		total := int64(8)
		elems := make([]KV, 0, count)
		for i := uint32(0); i < count; i++ {
			v, n, err := readValue(r, off, ValueType(elemType))
			if err != nil {
				return nil, 0, err
			}
			elems = append(elems, KV{Type: ValueType(elemType), Scalar: v})
			off += n
			total += n
		}
		return elems, total, nil
	default:
		return nil, 0, fmt.Errorf("gguf: unknown value type %d", typ)
	}
}

func readTensorInfo(r io.ReaderAt, off int64) (TensorInfo, int64, error) {
	start := off
	name, n, err := readString(r, off)
	if err != nil {
		return TensorInfo{}, 0, err
	}
	off += n

	var nDims uint32
	if err := binary.Read(io.NewSectionReader(r, off, 4), binary.LittleEndian, &nDims); err != nil {
		return TensorInfo{}, 0, err
	}
	off += 4

	dims := make([]uint64, nDims)
	for i := range dims {
		if err := binary.Read(io.NewSectionReader(r, off, 8), binary.LittleEndian, &dims[i]); err != nil {
			return TensorInfo{}, 0, err
		}
		off += 8
	}

	var elem uint32
	if err := binary.Read(io.NewSectionReader(r, off, 4), binary.LittleEndian, &elem); err != nil {
		return TensorInfo{}, 0, err
	}
	off += 4

	var tensorOffset uint64
	if err := binary.Read(io.NewSectionReader(r, off, 8), binary.LittleEndian, &tensorOffset); err != nil {
		return TensorInfo{}, 0, err
	}
	off += 8

	ti := TensorInfo{Name: name, NDims: nDims, Dims: dims, Elem: ElementType(elem), Offset: tensorOffset}
	return ti, off - start, nil
}

// ReadTensor returns the raw bytes for a tensor, located at dataBase +
// info.Offset, sized by the caller's knowledge of the element layout.
func (f *File) ReadTensor(info TensorInfo, size int) ([]byte, error) {
	buf := make([]byte, size)
	if _, err := f.data.ReadAt(buf, f.dataBase+int64(info.Offset)); err != nil {
		return nil, kernelerr.New(kernelerr.KindModelFormatInvalid, "read tensor %s: %v", info.Name, err)
	}
	return buf, nil
}

// Find returns the metadata value for key, if present.
func (f *File) Find(key string) (KV, bool) {
	for _, kv := range f.KVs {
		if kv.Key == key {
			return kv, true
		}
	}
	return KV{}, false
}
