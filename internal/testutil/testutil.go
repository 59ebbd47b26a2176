// Package testutil builds DBPF fixtures without going through the dbpf
// writer, so that tests can check the writer against independent bytes.
package testutil

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/meigma/dbpf/qfs"
	"github.com/meigma/dbpf/tgi"
)

// DIR is the TGI of the compression directory record.
var DIR = tgi.New(0xE86B1EEF, 0xE86B1EEF, 0x286B1F03)

// Record is one entry of a fixture archive.
type Record struct {
	TGI      tgi.TGI
	Data     []byte // uncompressed
	Compress bool
}

// Options tunes BuildArchive.
type Options struct {
	IndexMinor uint32
	Created    uint32
	Modified   uint32

	// OmitDIR leaves the DIR record out even when entries are compressed.
	OmitDIR bool

	// ExtraDIRRows are appended to DIR as (tgi, size) rows.
	ExtraDIRRows []DIRRow
}

// DIRRow is one row of the DIR record.
type DIRRow struct {
	TGI  tgi.TGI
	Size uint32
}

// BuildArchive lays out a DBPF archive: header, payloads in order, DIR,
// then the directory.
func BuildArchive(tb testing.TB, records []Record, opts Options) []byte {
	tb.Helper()

	le := binary.LittleEndian
	type item struct {
		id   tgi.TGI
		data []byte
	}
	var items []item
	var dir []byte
	for _, r := range records {
		data := r.Data
		if r.Compress {
			c, err := qfs.Compress(r.Data, qfs.Options{SizePrefix: true})
			if err != nil {
				tb.Fatalf("compress %s: %v", r.TGI, err)
			}
			data = c
			dir = appendDIRRow(dir, r.TGI, uint32(len(r.Data)), opts.IndexMinor) //nolint:gosec // fixtures are small
		}
		items = append(items, item{id: r.TGI, data: data})
	}
	for _, row := range opts.ExtraDIRRows {
		dir = appendDIRRow(dir, row.TGI, row.Size, opts.IndexMinor)
	}
	if len(dir) > 0 && !opts.OmitDIR {
		items = append(items, item{id: DIR, data: dir})
	}

	out := make([]byte, 96)
	copy(out, "DBPF")
	le.PutUint32(out[4:], 1)
	le.PutUint32(out[24:], opts.Created)
	le.PutUint32(out[28:], opts.Modified)
	le.PutUint32(out[32:], 7)
	le.PutUint32(out[60:], opts.IndexMinor)

	var index []byte
	for _, it := range items {
		index = le.AppendUint32(index, it.id.Type)
		index = le.AppendUint32(index, it.id.Group)
		index = le.AppendUint32(index, it.id.Instance)
		if opts.IndexMinor > 0 {
			index = le.AppendUint32(index, 0)
		}
		index = le.AppendUint32(index, uint32(len(out)))     //nolint:gosec // fixtures are small
		index = le.AppendUint32(index, uint32(len(it.data))) //nolint:gosec // fixtures are small
		out = append(out, it.data...)
	}
	le.PutUint32(out[36:], uint32(len(items))) //nolint:gosec // fixtures are small
	le.PutUint32(out[40:], uint32(len(out)))   //nolint:gosec // fixtures are small
	le.PutUint32(out[44:], uint32(len(index))) //nolint:gosec // fixtures are small
	return append(out, index...)
}

func appendDIRRow(b []byte, id tgi.TGI, size, minor uint32) []byte {
	le := binary.LittleEndian
	b = le.AppendUint32(b, id.Type)
	b = le.AppendUint32(b, id.Group)
	b = le.AppendUint32(b, id.Instance)
	b = le.AppendUint32(b, size)
	if minor > 0 {
		b = le.AppendUint32(b, 0)
	}
	return b
}

// WriteFiles creates files under root, making parent directories as needed.
// Keys are slash-separated relative paths.
func WriteFiles(tb testing.TB, root string, files map[string][]byte) {
	tb.Helper()
	for name, data := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			tb.Fatal(err)
		}
		if err := os.WriteFile(path, data, 0o600); err != nil {
			tb.Fatal(err)
		}
	}
}

// CountingSource is an in-memory byte source that counts ReadAt calls.
// Unlike dbpf.BytesSource it does not expose its slice, so every read goes
// through ReadAt.
type CountingSource struct {
	data     []byte
	sourceID string
	reads    atomic.Int64
}

// NewCountingSource returns a byte source backed by the provided data.
func NewCountingSource(data []byte) *CountingSource {
	sum := sha256.Sum256(data)
	return &CountingSource{
		data:     data,
		sourceID: "mock:" + hex.EncodeToString(sum[:]),
	}
}

// ReadAt implements io.ReaderAt semantics over the backing slice.
func (m *CountingSource) ReadAt(p []byte, off int64) (int, error) {
	m.reads.Add(1)
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Size returns the total size of the backing data.
func (m *CountingSource) Size() int64 {
	return int64(len(m.data))
}

// SourceID returns a stable identifier for the source data.
func (m *CountingSource) SourceID() string {
	return m.sourceID
}

// Reads returns the number of ReadAt calls so far.
func (m *CountingSource) Reads() int64 {
	return m.reads.Load()
}
