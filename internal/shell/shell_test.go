package shell

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ai-native-os/corekernel/internal/audit"
	"github.com/ai-native-os/corekernel/internal/config"
)

func TestDispatchExitCodes(t *testing.T) {
	var buf bytes.Buffer
	core := &Core{}

	code := Dispatch(core, &buf, []string{"nope-not-a-command"})
	require.Equal(t, ExitParseError, code)

	buf.Reset()
	code = Dispatch(core, &buf, []string{"llmctl", "status"})
	require.Equal(t, ExitOk, code)

	buf.Reset()
	code = Dispatch(core, &buf, []string{"llmctl", "load", "model.gguf"})
	require.Equal(t, ExitCoreError, code)
}

func TestCtlConfigProposeCommitStatus(t *testing.T) {
	var buf bytes.Buffer
	q := config.New(audit.SHA256Hasher{}, config.AlwaysValid{}, func() int64 { return 0 })
	core := &Core{ConfigQ: q}

	code := Dispatch(core, &buf, []string{"ctlconfig", "propose", "a=b"})
	require.Equal(t, ExitOk, code)
	require.Contains(t, buf.String(), "proposal id=1")

	buf.Reset()
	code = Dispatch(core, &buf, []string{"ctlconfig", "commit", "1"})
	require.Equal(t, ExitOk, code)

	buf.Reset()
	code = Dispatch(core, &buf, []string{"ctlconfig", "status"})
	require.Equal(t, ExitOk, code)
	require.Contains(t, buf.String(), "active version=1")
}
