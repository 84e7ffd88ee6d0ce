package protocol

import (
	"context"
	"encoding/binary"
	"io"
)

// readChunk bounds a single Read call against the hosted bytestream stand-in.
const readChunk = 4096

// Serve reads framed control-plane messages from r until ctx is cancelled
// or r returns an error, dispatching each through d and writing its Ack
// frame to w. It treats r/w as the virtio-console bytestream spec §6.1
// frames ride over: a real device would hand Serve a virtqueue-backed
// io.ReadWriter instead.
func Serve(ctx context.Context, r io.Reader, w io.Writer, d *Dispatcher) error {
	var buf []byte
	chunk := make([]byte, readChunk)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if frame, total, ok := tryDecode(buf); ok {
			f, _, err := Decode(frame)
			if err != nil {
				return err
			}
			buf = buf[total:]
			if _, err := w.Write(Encode(d.Dispatch(f))); err != nil {
				return err
			}
			continue
		}

		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

// tryDecode reports whether buf holds one complete frame without
// attempting to decode it (a short header or truncated payload is simply
// "need more bytes", not a malformed frame per Decode's error taxonomy).
func tryDecode(buf []byte) (frame []byte, total int, ok bool) {
	if len(buf) < HeaderSize {
		return nil, 0, false
	}
	length := binary.LittleEndian.Uint32(buf[4:8])
	total = HeaderSize + int(length) + TrailerSize
	if len(buf) < total {
		return nil, 0, false
	}
	return buf[:total], total, true
}
