// Package protocol implements the control-plane framed protocol of spec
// §6.1, carried over a virtio-console bytestream: a fixed little-endian
// header, a payload, and a trailing CRC32.
package protocol

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/ai-native-os/corekernel/internal/kernelerr"
)

// Magic is the fixed frame magic (spec §6.1).
const Magic uint16 = 0xAA55

// Version is the control-plane handshake version, resolving spec §9 open
// question (a): rather than widen the fixed frame header, the version is
// folded into the first two bytes of every GraphCreate payload (after its
// rights token). A GraphCreate naming a newer version than this build
// supports fails closed with TokenInvalid rather than silently proceeding.
const Version uint16 = 1

// Cmd identifies a control-plane command.
type Cmd uint16

const (
	CmdGraphCreate    Cmd = 0x0001
	CmdGraphStart     Cmd = 0x0002
	CmdLlmLoad        Cmd = 0x0010
	CmdLlmInferStart  Cmd = 0x0011
	CmdConfigPropose  Cmd = 0x0020
	CmdConfigCommit   Cmd = 0x0021
	CmdConfigStatus   Cmd = 0x0022
	CmdAckNack        Cmd = 0x00FF
)

// HeaderSize is magic(2) + cmd(2) + len(4).
const HeaderSize = 8

// TrailerSize is the trailing CRC32.
const TrailerSize = 4

// Frame is one decoded control-plane message.
type Frame struct {
	Cmd     Cmd
	Payload []byte
}

// Encode serialises f into the wire format: magic | cmd | len | payload |
// crc32(cmd||len||payload).
func Encode(f Frame) []byte {
	buf := make([]byte, HeaderSize+len(f.Payload)+TrailerSize)
	binary.LittleEndian.PutUint16(buf[0:2], Magic)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(f.Cmd))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(f.Payload)))
	copy(buf[8:], f.Payload)

	crc := crc32.ChecksumIEEE(buf[2 : 8+len(f.Payload)])
	binary.LittleEndian.PutUint32(buf[8+len(f.Payload):], crc)
	return buf
}

// Decode parses a single frame from buf, returning the frame and the
// number of bytes consumed. FrameMalformed covers short/invalid headers;
// CrcMismatch covers a failed checksum.
func Decode(buf []byte) (Frame, int, error) {
	if len(buf) < HeaderSize+TrailerSize {
		return Frame{}, 0, kernelerr.New(kernelerr.KindFrameMalformed, "short buffer (%d bytes)", len(buf))
	}
	magic := binary.LittleEndian.Uint16(buf[0:2])
	if magic != Magic {
		return Frame{}, 0, kernelerr.New(kernelerr.KindFrameMalformed, "bad magic 0x%04x", magic)
	}
	cmd := Cmd(binary.LittleEndian.Uint16(buf[2:4]))
	length := binary.LittleEndian.Uint32(buf[4:8])

	total := HeaderSize + int(length) + TrailerSize
	if len(buf) < total {
		return Frame{}, 0, kernelerr.New(kernelerr.KindFrameMalformed, "truncated payload: need %d, have %d", total, len(buf))
	}

	payload := buf[8 : 8+length]
	wantCRC := binary.LittleEndian.Uint32(buf[8+length : total])
	gotCRC := crc32.ChecksumIEEE(buf[2 : 8+length])
	if wantCRC != gotCRC {
		return Frame{}, 0, kernelerr.New(kernelerr.KindCrcMismatch, "crc mismatch: want 0x%08x got 0x%08x", wantCRC, gotCRC)
	}

	return Frame{Cmd: cmd, Payload: append([]byte(nil), payload...)}, total, nil
}

// AckStatus is the status code carried in an Ack/Nack payload.
type AckStatus uint16

const (
	AckOk AckStatus = iota
	AckErr
)

// Ack is the stabilised Ack/Nack payload layout resolving spec §9 open
// question (a): status(u16) | detail_len(u16) | detail[detail_len].
type Ack struct {
	Status AckStatus
	Detail string
}

// EncodeAck serialises an Ack into a CmdAckNack frame payload.
func EncodeAck(a Ack) []byte {
	detail := []byte(a.Detail)
	buf := make([]byte, 4+len(detail))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(a.Status))
	binary.LittleEndian.PutUint16(buf[2:4], uint16(len(detail)))
	copy(buf[4:], detail)
	return buf
}

// DecodeAck parses an Ack payload.
func DecodeAck(payload []byte) (Ack, error) {
	if len(payload) < 4 {
		return Ack{}, kernelerr.New(kernelerr.KindFrameMalformed, "ack payload too short")
	}
	status := AckStatus(binary.LittleEndian.Uint16(payload[0:2]))
	detailLen := binary.LittleEndian.Uint16(payload[2:4])
	if len(payload) < 4+int(detailLen) {
		return Ack{}, kernelerr.New(kernelerr.KindFrameMalformed, "ack detail truncated")
	}
	return Ack{Status: status, Detail: string(payload[4 : 4+detailLen])}, nil
}

// TokenRights is the rights bitfield packed into a privileged command's
// token (spec §6.1: bit 0 = Submit, bit 1 = Admin).
type TokenRights uint8

const (
	RightSubmit TokenRights = 1 << 0
	RightAdmin  TokenRights = 1 << 1
)

// EncodeToken packs rights and a 56-bit secret into a single u64:
// (rights_bits << 56) | secret56.
func EncodeToken(rights TokenRights, secret56 uint64) uint64 {
	return (uint64(rights) << 56) | (secret56 & 0x00FFFFFFFFFFFFFF)
}

// DecodeToken splits a token back into its rights bitfield and secret.
func DecodeToken(token uint64) (TokenRights, uint64) {
	return TokenRights(token >> 56), token & 0x00FFFFFFFFFFFFFF
}

// ValidateToken rejects a token lacking any of required's bits, per
// spec §7 TokenInvalid.
func ValidateToken(token uint64, required TokenRights) error {
	rights, _ := DecodeToken(token)
	if rights&required != required {
		return kernelerr.New(kernelerr.KindTokenInvalid, "token lacks required rights 0x%02x", required)
	}
	return nil
}
