package protocol

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ai-native-os/corekernel/internal/audit"
	"github.com/ai-native-os/corekernel/internal/config"
	"github.com/ai-native-os/corekernel/internal/supervision"
)

func TestServeDispatchesFramedMessages(t *testing.T) {
	d := &Dispatcher{
		Registry: supervision.NewRegistry(),
		ConfigQ:  config.New(audit.SHA256Hasher{}, config.AlwaysValid{}, func() int64 { return 0 }),
		Audit:    audit.NewChain(64, audit.SHA256Hasher{}),
		NowNs:    func() int64 { return 0 },
	}

	var in bytes.Buffer
	payload := make([]byte, 8)
	binary.LittleEndian.PutUint64(payload, EncodeToken(RightAdmin, 1))
	versioned := make([]byte, 2)
	binary.LittleEndian.PutUint16(versioned, Version)
	payload = append(payload, versioned...)
	payload = append(payload, []byte("agent-a")...)
	in.Write(Encode(Frame{Cmd: CmdGraphCreate, Payload: payload}))

	var out bytes.Buffer
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := Serve(ctx, &in, &out, d)
	require.NoError(t, err)

	resp, n, err := Decode(out.Bytes())
	require.NoError(t, err)
	require.Equal(t, out.Len(), n)
	require.Equal(t, CmdAckNack, resp.Cmd)

	ack, err := DecodeAck(resp.Payload)
	require.NoError(t, err)
	require.Equal(t, AckOk, ack.Status)
}

func TestServeStopsOnCancelledContext(t *testing.T) {
	d := &Dispatcher{}
	r, w := io.Pipe()
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Serve(ctx, r, &bytes.Buffer{}, d)
	require.Error(t, err)
}
