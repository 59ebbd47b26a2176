package dbpf

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/meigma/dbpf/internal/sizing"
)

// layout is the result of the sizing pass of a save.
type layout struct {
	header   Header
	items    []item
	dir      []byte
	dirIndex []byte
}

type item struct {
	entry *Entry // nil for the DIR record
	payload
	offset uint32
}

func uint32Len(b []byte) (uint32, error) {
	return sizing.ToUint32(len(b), ErrSizeOverflow)
}

// plan computes every payload and its final offset. Payloads that are
// reused verbatim are only sized, not read.
func (a *Archive) plan() (*layout, error) {
	l := &layout{header: a.header}
	h := &l.header

	var rows []dirRow
	for _, e := range a.entries {
		p, err := e.payload()
		if err != nil {
			return nil, err
		}
		if e.Compressed {
			rows = append(rows, dirRow{tgi: e.TGI, size: p.fileSize})
		}
		l.items = append(l.items, item{entry: e, payload: p})
	}
	if len(rows) > 0 {
		l.dir = marshalDir(rows, *h)
		n, err := uint32Len(l.dir)
		if err != nil {
			return nil, err
		}
		l.items = append(l.items, item{payload: payload{data: l.dir, size: n, fileSize: n}})
	}

	offset := uint32(HeaderSize)
	index := make([]directoryEntry, 0, len(l.items))
	for i := range l.items {
		it := &l.items[i]
		it.offset = offset
		row := directoryEntry{tgi: DIR, offset: offset, size: it.size}
		if it.entry != nil {
			row.tgi = it.entry.TGI
			row.reserved = it.entry.reserved
		}
		index = append(index, row)
		next, ok := sizing.AddUint32(offset, it.size)
		if !ok {
			return nil, ErrSizeOverflow
		}
		offset = next
	}
	l.dirIndex = marshalDirectory(index, *h)
	size, err := uint32Len(l.dirIndex)
	if err != nil {
		return nil, err
	}
	if _, ok := sizing.AddUint32(offset, size); !ok {
		return nil, ErrSizeOverflow
	}

	count, err := sizing.ToUint32(len(index), ErrSizeOverflow)
	if err != nil {
		return nil, err
	}
	h.IndexCount = count
	h.IndexOffset = offset
	h.IndexSize = size
	h.HolesCount, h.HolesOffset, h.HolesSize = 0, 0, 0
	return l, nil
}

// write emits a planned layout.
func (a *Archive) write(w io.Writer, l *layout) (int64, error) {
	var written int64
	head, err := l.header.MarshalBinary()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(head)
	written += int64(n)
	if err != nil {
		return written, err
	}
	for _, it := range l.items {
		data := it.data
		if it.reuse {
			data, err = a.ReadBytes(it.entry.Offset, it.entry.CompressedSize)
			if err != nil {
				return written, fmt.Errorf("copy %s: %w", it.entry.TGI, err)
			}
		}
		n, err = w.Write(data)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	n, err = w.Write(l.dirIndex)
	written += int64(n)
	return written, err
}

// WriteTo serializes the archive to w.
//
// Entries that were never parsed or changed are copied verbatim. Parsed
// entries are re-encoded from their record, and compressed ones are
// recompressed from the re-encoded bytes. DIR is regenerated and written
// after the last entry, followed by the directory.
func (a *Archive) WriteTo(w io.Writer) (int64, error) {
	l, err := a.plan()
	if err != nil {
		return 0, err
	}
	return a.write(w, l)
}

// ToBytes serializes the archive into memory. See WriteTo.
func (a *Archive) ToBytes() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := a.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Save writes the archive to path and stamps the modification time.
//
// Uses atomic writes (temp file + rename) to prevent partial writes on
// failure. Saving over the archive's own file rebinds the archive to the new
// file.
func (a *Archive) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create archive directory: %w", err)
	}

	a.header.Modified = uint32(time.Now().Unix()) //nolint:gosec // DBPF timestamps are 32 bit
	l, err := a.plan()
	if err != nil {
		return err
	}
	if err := writeFileAtomic(path, func(w io.Writer) error {
		_, err := a.write(w, l)
		return err
	}); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	a.header = l.header

	if a.path != "" && sameFile(a.path, path) {
		return a.rebind(path, l)
	}
	return nil
}

// rebind points the archive at the file it was just saved to.
func (a *Archive) rebind(path string, l *layout) error {
	src, err := OpenFile(path)
	if err != nil {
		return err
	}
	for _, it := range l.items {
		e := it.entry
		if e == nil {
			continue
		}
		e.mu.Lock()
		e.Offset = it.offset
		e.CompressedSize = it.size
		e.FileSize = it.fileSize
		e.stored = true
		e.dirty = false
		e.mu.Unlock()
	}

	a.mu.Lock()
	old := a.src
	a.src = src
	a.buf = nil
	a.path = path
	a.mu.Unlock()
	if c, ok := old.(io.Closer); ok {
		c.Close()
	}
	return nil
}

func sameFile(a, b string) bool {
	ai, err := os.Stat(a)
	if err != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	bi, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(ai, bi)
}

// writeFileAtomic streams into a temp file then renames to target,
// ensuring atomic replacement of the target file.
func writeFileAtomic(target string, fill func(io.Writer) error) error {
	dir := filepath.Dir(target)
	tmp, err := os.CreateTemp(dir, ".dbpf-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	bw := bufio.NewWriter(tmp)
	if err := fill(bw); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := bw.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
