package vfs

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"
)

func TestModelStoreOpenAndSizeCheck(t *testing.T) {
	mapFS := fstest.MapFS{
		"models/tiny.gguf": {Data: []byte("GGUF-fake-bytes")},
	}
	store := ModelStore{FS: mapFS}

	ra, size, err := store.Open("models/tiny.gguf")
	require.NoError(t, err)
	require.Equal(t, int64(len("GGUF-fake-bytes")), size)

	buf := make([]byte, 4)
	_, err = ra.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, "GGUF", string(buf))

	require.Error(t, CheckSize(size, 4))
	require.NoError(t, CheckSize(size, size))
}

func TestModelStoreMissingFile(t *testing.T) {
	store := ModelStore{FS: fstest.MapFS{}}
	_, _, err := store.Open("missing.gguf")
	require.Error(t, err)
}

func TestIncidentExportWritesJSONPath(t *testing.T) {
	var written map[string][]byte = map[string][]byte{}
	w := &IncidentWriter{
		WriteFile: func(path string, data []byte) error {
			written[path] = data
			return nil
		},
		NowUnix: func() int64 { return 1000 },
	}

	p1, err := w.Export("deadline_miss", map[string]int{"tokens": 3})
	require.NoError(t, err)
	p2, err := w.Export("deadline_miss", map[string]int{"tokens": 4})
	require.NoError(t, err)

	require.NotEqual(t, p1, p2)
	require.Contains(t, written, p1)
	require.Contains(t, written, p2)
}
