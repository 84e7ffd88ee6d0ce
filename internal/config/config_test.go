package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ai-native-os/corekernel/internal/audit"
)

func TestCommitIdempotence(t *testing.T) {
	q := New(audit.SHA256Hasher{}, AlwaysValid{}, func() int64 { return 1000 })
	id := q.Propose(map[string]string{"autonomy.interval_ms": "1000"}, nil, "", "")

	v1, err := q.Commit(id)
	require.NoError(t, err)
	v2, err := q.Commit(id)
	require.NoError(t, err)
	require.Equal(t, v1, v2)
	require.Len(t, q.Committed(), 1)
}

func TestSignedCommitSequence(t *testing.T) {
	verifier := SignerKeyVerifier{Keys: map[string][]byte{"K": {0xAA, 0xBB}}}
	q := New(audit.SHA256Hasher{}, verifier, func() int64 { return 0 })

	id1 := q.Propose(map[string]string{"autonomy.interval_ms": "1000"}, []byte{0xAA, 0xBB}, "K", "")
	v1, err := q.Commit(id1)
	require.NoError(t, err)
	require.Nil(t, v1.PrevHash)

	id2 := q.Propose(map[string]string{"x": "y"}, []byte{0xAA, 0xBB}, "K", "")
	v2, err := q.Commit(id2)
	require.NoError(t, err)
	require.Equal(t, v1.HeadHash, v2.PrevHash)

	id3 := q.Propose(map[string]string{"x": "z"}, []byte{0xAA, 0x00}, "K", "")
	_, err = q.Commit(id3)
	require.Error(t, err)
	require.Len(t, q.Committed(), 2)
}

func TestMinKernelVersionGateRejectsNewerRequirement(t *testing.T) {
	q := New(audit.SHA256Hasher{}, AlwaysValid{}, func() int64 { return 0 })
	id := q.Propose(map[string]string{"a": "b"}, nil, "", "v9.9.9")
	_, err := q.Commit(id)
	require.Error(t, err)
}

func TestStatusReportsActiveAndPending(t *testing.T) {
	q := New(audit.SHA256Hasher{}, AlwaysValid{}, func() int64 { return 0 })
	pendingID := q.Propose(map[string]string{"p": "q"}, nil, "", "")
	committedID := q.Propose(map[string]string{"c": "d"}, nil, "", "")
	_, err := q.Commit(committedID)
	require.NoError(t, err)

	st := q.Status()
	require.NotNil(t, st.Active)
	require.Equal(t, committedID, st.Active.ID)
	require.Len(t, st.Pending, 1)
	require.Equal(t, pendingID, st.Pending[0].ID)
}
