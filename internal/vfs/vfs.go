// Package vfs implements the minimal read-only external contract of spec
// §6.2/§6.3: reading a UEFI-FS-mounted model file, and exporting audit
// incidents and config chain listings as persistent state. Full ext4
// journaling and UEFI boot services are out of scope (spec §1); this is
// only the read contract the core depends on.
package vfs

import (
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"sync"
	"time"

	"github.com/ai-native-os/corekernel/internal/kernelerr"
)

// ReadOnlyFS is the read-only surface this module needs from the
// UEFI-FS/ext4 partition: open-for-read and stat. A real ext4 reader
// implements this; tests and the reference target use fstest.MapFS.
type ReadOnlyFS interface {
	fs.FS
	fs.StatFS
}

// ModelStore resolves model file paths against a ReadOnlyFS and enforces
// the memory-mapped, read-only contract of spec §6.3 ("no in-place
// updates").
type ModelStore struct {
	FS ReadOnlyFS
}

// Open returns a read-only handle on a model file at path, as an
// io.ReaderAt suitable for gguf.Parse.
func (m ModelStore) Open(path string) (io.ReaderAt, int64, error) {
	info, err := m.FS.Stat(path)
	if err != nil {
		return nil, 0, kernelerr.New(kernelerr.KindModelNotFound, "%s: %v", path, err)
	}

	f, err := m.FS.Open(path)
	if err != nil {
		return nil, 0, kernelerr.New(kernelerr.KindModelNotFound, "%s: %v", path, err)
	}

	ra, ok := f.(io.ReaderAt)
	if !ok {
		return nil, 0, kernelerr.New(kernelerr.KindModelFormatInvalid, "%s: backing file is not randomly addressable", path)
	}
	return ra, info.Size(), nil
}

// CheckSize rejects a model whose size exceeds cap (spec §4.G
// ModelTooLarge).
func CheckSize(size, cap int64) error {
	if size > cap {
		return kernelerr.New(kernelerr.KindModelTooLarge, "model is %d bytes, cap is %d", size, cap)
	}
	return nil
}

// IncidentWriter is the write-side of persistent state: audit export to
// /incidents/INC-<unix_secs>-<seq>.json (spec §6.3). The core never
// writes partition bytes directly; a host-provided WriteFile closes over
// whatever block layer backs /incidents.
type IncidentWriter struct {
	mu       sync.Mutex
	WriteFile func(path string, data []byte) error
	NowUnix  func() int64
	seq      int
}

// IncidentRecord is the JSON shape written per export.
type IncidentRecord struct {
	TsUnix int64       `json:"ts_unix"`
	Kind   string      `json:"kind"`
	Detail interface{} `json:"detail"`
}

// Export writes one incident JSON document and returns its path.
func (w *IncidentWriter) Export(kind string, detail interface{}) (string, error) {
	w.mu.Lock()
	w.seq++
	seq := w.seq
	w.mu.Unlock()

	now := time.Now().Unix()
	if w.NowUnix != nil {
		now = w.NowUnix()
	}

	rec := IncidentRecord{TsUnix: now, Kind: kind, Detail: detail}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("vfs: marshal incident: %w", err)
	}

	path := fmt.Sprintf("/incidents/INC-%d-%d.json", now, seq)
	if w.WriteFile == nil {
		return "", kernelerr.New(kernelerr.KindModelFormatInvalid, "no write backend configured")
	}
	if err := w.WriteFile(path, data); err != nil {
		return "", fmt.Errorf("vfs: write incident %s: %w", path, err)
	}
	return path, nil
}

// ConfigChainEntry is one line of the config chain text export (spec
// §6.3: "text listing of (id, ts, prev_hash, head_hash, keys)").
type ConfigChainEntry struct {
	ID       uint64
	TsNs     int64
	PrevHash []byte
	HeadHash []byte
	Keys     []string
}

// FormatConfigChain renders entries as the spec's text listing.
func FormatConfigChain(entries []ConfigChainEntry) string {
	var out string
	for _, e := range entries {
		out += fmt.Sprintf("id=%d ts=%d prev=%x head=%x keys=%v\n", e.ID, e.TsNs, e.PrevHash, e.HeadHash, e.Keys)
	}
	return out
}
