package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/ai-native-os/corekernel/internal/audit"
	"github.com/ai-native-os/corekernel/internal/config"
	"github.com/ai-native-os/corekernel/internal/infer"
	"github.com/ai-native-os/corekernel/internal/kernelerr"
	"github.com/ai-native-os/corekernel/internal/supervision"
	"github.com/ai-native-os/corekernel/internal/vfs"
)

// Dispatcher routes decoded control-plane frames into the subsystems a
// real virtio-console transport would otherwise reach only through the
// shell. It is the §6.1 counterpart of the shell command tree: same core
// handles, a framed wire encoding instead of argv.
type Dispatcher struct {
	Registry   *supervision.Registry
	ConfigQ    *config.Quarantine
	Engine     *infer.Engine
	ModelStore vfs.ModelStore
	Audit      audit.Appender
	NowNs      func() int64
}

func (d *Dispatcher) now() int64 {
	if d.NowNs == nil {
		return 0
	}
	return d.NowNs()
}

// Dispatch routes f to the subsystem its Cmd names and returns the
// CmdAckNack response frame, never an error: a malformed frame, a missing
// token, or a subsystem error all fold into an AckErr detail string.
func (d *Dispatcher) Dispatch(f Frame) Frame {
	ack, err := d.route(f)
	if err != nil {
		return Frame{Cmd: CmdAckNack, Payload: EncodeAck(Ack{Status: AckErr, Detail: err.Error()})}
	}
	return Frame{Cmd: CmdAckNack, Payload: EncodeAck(ack)}
}

func (d *Dispatcher) route(f Frame) (Ack, error) {
	switch f.Cmd {
	case CmdGraphCreate:
		return d.graphCreate(f.Payload)
	case CmdGraphStart:
		return d.graphStart(f.Payload)
	case CmdLlmLoad:
		return d.llmLoad(f.Payload)
	case CmdLlmInferStart:
		return d.llmInferStart(f.Payload)
	case CmdConfigPropose:
		return d.configPropose(f.Payload)
	case CmdConfigCommit:
		return d.configCommit(f.Payload)
	case CmdConfigStatus:
		return d.configStatus(f.Payload)
	default:
		return Ack{}, kernelerr.New(kernelerr.KindFrameMalformed, "unknown command 0x%04x", uint16(f.Cmd))
	}
}

// tokened strips and validates the leading 8-byte rights token spec §6.1
// requires of every privileged command, returning the remaining body.
func tokened(payload []byte, required TokenRights) ([]byte, error) {
	if len(payload) < 8 {
		return nil, kernelerr.New(kernelerr.KindTokenInvalid, "missing rights token")
	}
	token := binary.LittleEndian.Uint64(payload[0:8])
	if err := ValidateToken(token, required); err != nil {
		return nil, err
	}
	return payload[8:], nil
}

func (d *Dispatcher) graphCreate(payload []byte) (Ack, error) {
	body, err := tokened(payload, RightAdmin)
	if err != nil {
		return Ack{}, err
	}
	if len(body) < 2 {
		return Ack{}, kernelerr.New(kernelerr.KindFrameMalformed, "graph create needs a version prefix")
	}
	version := binary.LittleEndian.Uint16(body[0:2])
	if version > Version {
		return Ack{}, kernelerr.New(kernelerr.KindTokenInvalid, "unsupported protocol version %d", version)
	}
	name := body[2:]
	if d.Registry == nil {
		return Ack{}, kernelerr.New(kernelerr.KindAgentFault, "registry not configured")
	}
	pid := uint64(d.now())
	id, err := d.Registry.OnSpawn(pid, string(name), supervision.CapFsBasic, "", false, 0, d.now())
	if err != nil {
		return Ack{}, err
	}
	return Ack{Status: AckOk, Detail: fmt.Sprintf("agent_id=%d", id)}, nil
}

func (d *Dispatcher) graphStart(payload []byte) (Ack, error) {
	body, err := tokened(payload, RightSubmit)
	if err != nil {
		return Ack{}, err
	}
	if len(body) < 8 {
		return Ack{}, kernelerr.New(kernelerr.KindFrameMalformed, "graph start needs an agent_id")
	}
	agentID := binary.LittleEndian.Uint64(body[0:8])
	if d.Registry == nil {
		return Ack{}, kernelerr.New(kernelerr.KindAgentFault, "registry not configured")
	}
	if _, ok := d.Registry.Get(agentID); !ok {
		return Ack{}, kernelerr.New(kernelerr.KindAgentFault, "unknown agent %d", agentID)
	}
	d.Registry.UpdateActivity(agentID, d.now())
	return Ack{Status: AckOk, Detail: fmt.Sprintf("agent_id=%d running", agentID)}, nil
}

func (d *Dispatcher) llmLoad(payload []byte) (Ack, error) {
	body, err := tokened(payload, RightAdmin)
	if err != nil {
		return Ack{}, err
	}
	if d.Engine == nil {
		return Ack{}, kernelerr.New(kernelerr.KindModelNotFound, "no engine configured")
	}
	model, err := infer.Load(d.ModelStore, string(body), d.Audit, d.now())
	if err != nil {
		return Ack{}, err
	}
	d.Engine.Model = model
	return Ack{Status: AckOk, Detail: fmt.Sprintf("loaded n_vocab=%d n_layer=%d", model.Cfg.NVocab, model.Cfg.NLayer)}, nil
}

func (d *Dispatcher) llmInferStart(payload []byte) (Ack, error) {
	body, err := tokened(payload, RightSubmit)
	if err != nil {
		return Ack{}, err
	}
	if len(body) < 4 {
		return Ack{}, kernelerr.New(kernelerr.KindFrameMalformed, "infer start needs a max_tokens prefix")
	}
	maxTokens := binary.LittleEndian.Uint32(body[0:4])
	prompt := string(body[4:])
	if d.Engine == nil || d.Engine.Model == nil {
		return Ack{}, kernelerr.New(kernelerr.KindModelNotFound, "no model loaded")
	}
	res, err := d.Engine.Infer(prompt, int(maxTokens), infer.SampleParams{Strategy: infer.StrategyGreedy}, 1)
	if err != nil {
		return Ack{}, err
	}
	return Ack{Status: AckOk, Detail: res.Text}, nil
}

func (d *Dispatcher) configPropose(payload []byte) (Ack, error) {
	body, err := tokened(payload, RightAdmin)
	if err != nil {
		return Ack{}, err
	}
	if d.ConfigQ == nil {
		return Ack{}, kernelerr.New(kernelerr.KindPolicyInvalid, "config quarantine not configured")
	}
	values := make(map[string]string)
	for _, line := range splitLines(body) {
		k, v, ok := cutKV(line)
		if !ok {
			continue
		}
		values[k] = v
	}
	id := d.ConfigQ.Propose(values, nil, "", "")
	return Ack{Status: AckOk, Detail: fmt.Sprintf("proposal_id=%d", id)}, nil
}

func (d *Dispatcher) configCommit(payload []byte) (Ack, error) {
	body, err := tokened(payload, RightAdmin)
	if err != nil {
		return Ack{}, err
	}
	if len(body) < 8 {
		return Ack{}, kernelerr.New(kernelerr.KindFrameMalformed, "config commit needs a proposal id")
	}
	id := binary.LittleEndian.Uint64(body[0:8])
	if d.ConfigQ == nil {
		return Ack{}, kernelerr.New(kernelerr.KindPolicyInvalid, "config quarantine not configured")
	}
	v, err := d.ConfigQ.Commit(id)
	if err != nil {
		return Ack{}, err
	}
	return Ack{Status: AckOk, Detail: fmt.Sprintf("version=%d head_hash=%x", v.ID, v.HeadHash)}, nil
}

// configStatus carries no rights token: it's a read-only query, like
// ctlconfig status in the shell.
func (d *Dispatcher) configStatus(_ []byte) (Ack, error) {
	if d.ConfigQ == nil {
		return Ack{}, kernelerr.New(kernelerr.KindPolicyInvalid, "config quarantine not configured")
	}
	st := d.ConfigQ.Status()
	if st.Active == nil {
		return Ack{Status: AckOk, Detail: fmt.Sprintf("active=none pending=%d", len(st.Pending))}, nil
	}
	return Ack{Status: AckOk, Detail: fmt.Sprintf("active=%d pending=%d head_hash=%x", st.Active.ID, len(st.Pending), st.HeadHash)}, nil
}

func splitLines(b []byte) []string {
	var out []string
	start := 0
	for i, c := range b {
		if c == '\n' {
			out = append(out, string(b[start:i]))
			start = i + 1
		}
	}
	if start < len(b) {
		out = append(out, string(b[start:]))
	}
	return out
}

func cutKV(s string) (string, string, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '=' {
			return s[:i], s[i+1:], true
		}
	}
	return "", "", false
}
