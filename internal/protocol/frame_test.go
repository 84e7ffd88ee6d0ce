package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	f := Frame{Cmd: CmdLlmLoad, Payload: []byte("model.gguf")}
	wire := Encode(f)

	decoded, n, err := Decode(wire)
	require.NoError(t, err)
	require.Equal(t, len(wire), n)
	require.Equal(t, f.Cmd, decoded.Cmd)
	require.Equal(t, f.Payload, decoded.Payload)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	f := Frame{Cmd: CmdGraphCreate}
	wire := Encode(f)
	wire[0] ^= 0xFF
	_, _, err := Decode(wire)
	require.Error(t, err)
}

func TestDecodeRejectsCrcMismatch(t *testing.T) {
	f := Frame{Cmd: CmdConfigPropose, Payload: []byte{1, 2, 3}}
	wire := Encode(f)
	wire[len(wire)-1] ^= 0xFF
	_, _, err := Decode(wire)
	require.Error(t, err)
}

func TestAckRoundTrip(t *testing.T) {
	a := Ack{Status: AckErr, Detail: "bad config key"}
	payload := EncodeAck(a)
	back, err := DecodeAck(payload)
	require.NoError(t, err)
	require.Equal(t, a, back)
}

func TestTokenRightsRoundTrip(t *testing.T) {
	tok := EncodeToken(RightSubmit|RightAdmin, 0x1122334455)
	rights, secret := DecodeToken(tok)
	require.Equal(t, RightSubmit|RightAdmin, rights)
	require.Equal(t, uint64(0x1122334455), secret)

	require.NoError(t, ValidateToken(tok, RightSubmit))
	require.Error(t, ValidateToken(EncodeToken(RightSubmit, 0), RightAdmin))
}
