package protocol

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ai-native-os/corekernel/internal/audit"
	"github.com/ai-native-os/corekernel/internal/config"
	"github.com/ai-native-os/corekernel/internal/supervision"
)

func adminToken() []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, EncodeToken(RightAdmin, 1))
	return buf
}

func submitToken() []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, EncodeToken(RightSubmit, 1))
	return buf
}

func newTestDispatcher() *Dispatcher {
	now := int64(0)
	return &Dispatcher{
		Registry: supervision.NewRegistry(),
		ConfigQ:  config.New(audit.SHA256Hasher{}, config.AlwaysValid{}, func() int64 { return now }),
		Audit:    audit.NewChain(64, audit.SHA256Hasher{}),
		NowNs:    func() int64 { return now },
	}
}

func versionPrefixed(name string) []byte {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, Version)
	return append(buf, []byte(name)...)
}

func TestDispatchGraphCreateAndStart(t *testing.T) {
	d := newTestDispatcher()

	createPayload := append(adminToken(), versionPrefixed("agent-a")...)
	resp := d.Dispatch(Frame{Cmd: CmdGraphCreate, Payload: createPayload})
	require.Equal(t, CmdAckNack, resp.Cmd)
	ack, err := DecodeAck(resp.Payload)
	require.NoError(t, err)
	require.Equal(t, AckOk, ack.Status)
	require.Equal(t, "agent_id=1", ack.Detail)

	startPayload := submitToken()
	idBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(idBytes, 1)
	startPayload = append(startPayload, idBytes...)

	resp = d.Dispatch(Frame{Cmd: CmdGraphStart, Payload: startPayload})
	ack, err = DecodeAck(resp.Payload)
	require.NoError(t, err)
	require.Equal(t, AckOk, ack.Status)
}

func TestDispatchGraphCreateRejectsMissingToken(t *testing.T) {
	d := newTestDispatcher()
	resp := d.Dispatch(Frame{Cmd: CmdGraphCreate, Payload: []byte("agent-a")})
	ack, err := DecodeAck(resp.Payload)
	require.NoError(t, err)
	require.Equal(t, AckErr, ack.Status)
}

func TestDispatchGraphCreateRejectsWrongRights(t *testing.T) {
	d := newTestDispatcher()
	payload := append(submitToken(), versionPrefixed("agent-a")...)
	resp := d.Dispatch(Frame{Cmd: CmdGraphCreate, Payload: payload})
	ack, err := DecodeAck(resp.Payload)
	require.NoError(t, err)
	require.Equal(t, AckErr, ack.Status)
}

func TestDispatchGraphCreateRejectsFutureVersion(t *testing.T) {
	d := newTestDispatcher()
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, Version+1)
	payload := append(adminToken(), append(buf, []byte("agent-a")...)...)
	resp := d.Dispatch(Frame{Cmd: CmdGraphCreate, Payload: payload})
	ack, err := DecodeAck(resp.Payload)
	require.NoError(t, err)
	require.Equal(t, AckErr, ack.Status)
}

func TestDispatchConfigProposeCommitStatus(t *testing.T) {
	d := newTestDispatcher()

	proposePayload := append(adminToken(), []byte("max_agents=4\nretention_days=7")...)
	resp := d.Dispatch(Frame{Cmd: CmdConfigPropose, Payload: proposePayload})
	ack, err := DecodeAck(resp.Payload)
	require.NoError(t, err)
	require.Equal(t, AckOk, ack.Status)
	require.Equal(t, "proposal_id=1", ack.Detail)

	idBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(idBytes, 1)
	commitPayload := append(adminToken(), idBytes...)
	resp = d.Dispatch(Frame{Cmd: CmdConfigCommit, Payload: commitPayload})
	ack, err = DecodeAck(resp.Payload)
	require.NoError(t, err)
	require.Equal(t, AckOk, ack.Status)

	resp = d.Dispatch(Frame{Cmd: CmdConfigStatus})
	ack, err = DecodeAck(resp.Payload)
	require.NoError(t, err)
	require.Equal(t, AckOk, ack.Status)
	require.Contains(t, ack.Detail, "active=1")
}

func TestDispatchUnknownCommand(t *testing.T) {
	d := newTestDispatcher()
	resp := d.Dispatch(Frame{Cmd: Cmd(0x9999)})
	ack, err := DecodeAck(resp.Payload)
	require.NoError(t, err)
	require.Equal(t, AckErr, ack.Status)
}
