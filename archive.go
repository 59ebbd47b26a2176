package dbpf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/meigma/dbpf/internal/sizing"
	"github.com/meigma/dbpf/tgi"
)

// Archive is an opened DBPF file.
//
// Entries may be read concurrently. Adding, removing and saving require a
// single owner.
type Archive struct {
	header  Header
	entries []*Entry
	path    string

	reg      *Registry
	comp     Compressor
	logger   *slog.Logger
	preload  bool
	onAccess func(*Archive)

	// mu guards src and buf.
	mu  sync.RWMutex
	src ByteSource
	buf []byte

	// pins counts in-flight reads; eviction skips pinned archives.
	pins atomic.Int64
}

// Open opens the archive at path.
//
// The file handle stays open until [Archive.Release] or [Archive.Close];
// reads after Release reopen it.
func Open(path string, opts ...Option) (*Archive, error) {
	src, err := OpenFile(path)
	if err != nil {
		return nil, err
	}
	a, err := OpenSource(src, opts...)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	a.path = path
	return a, nil
}

// FromBytes opens an archive held in memory. buf is not copied.
func FromBytes(buf []byte, opts ...Option) (*Archive, error) {
	return OpenSource(NewBytesSource(buf), opts...)
}

// New returns an empty archive with a fresh header.
func New(opts ...Option) *Archive {
	a := &Archive{header: NewHeader()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// OpenSource reads the header and directory from src.
//
// Only the header, the directory and the DIR record are read. Entry
// payloads are read on demand.
func OpenSource(src ByteSource, opts ...Option) (*Archive, error) {
	a := &Archive{src: src}
	for _, opt := range opts {
		opt(a)
	}
	if v, ok := src.(viewer); ok {
		a.buf = v.Bytes()
	}

	head, err := a.readExact(0, min(src.Size(), HeaderSize))
	if err != nil {
		return nil, err
	}
	if len(head) < len(magic) || !bytes.Equal(head[:len(magic)], magic[:]) {
		return nil, fmt.Errorf("%w: magic %q", ErrNotAnArchive, head[:min(len(head), len(magic))])
	}
	h, err := ParseHeader(head)
	if err != nil {
		return nil, err
	}
	a.header = h

	want := uint64(h.IndexCount) * uint64(h.entrySize())
	if want > uint64(h.IndexSize) {
		return nil, fmt.Errorf("%w: %d entries need %d directory bytes, header declares %d",
			ErrTruncated, h.IndexCount, want, h.IndexSize)
	}
	dir, err := a.readExact(int64(h.IndexOffset), int64(want))
	if err != nil {
		return nil, err
	}

	var dirs []*Entry
	for _, row := range parseDirectory(dir, h) {
		e := &Entry{
			TGI:            row.tgi,
			Offset:         row.offset,
			CompressedSize: row.size,
			FileSize:       row.size,
			archive:        a,
			reserved:       row.reserved,
			stored:         true,
			content:        unread{},
		}
		if row.tgi == DIR {
			dirs = append(dirs, e)
			continue
		}
		a.entries = append(a.entries, e)
	}

	for _, d := range dirs {
		raw, err := d.raw()
		if err != nil {
			a.log().Warn("unreadable DIR record", "error", err)
			continue
		}
		for _, row := range applyDir(a.entries, parseDir(raw, h)) {
			a.log().Warn("DIR lists a missing entry", "tgi", row.tgi.String())
		}
	}

	if a.preload {
		if err := a.Load(); err != nil {
			return nil, err
		}
	}
	a.log().Debug("opened archive", "source", src.SourceID(), "entries", len(a.entries))
	return a, nil
}

// readExact reads n bytes at off or fails with ErrTruncated.
func (a *Archive) readExact(off, n int64) ([]byte, error) {
	size := a.src.Size()
	if off < 0 || n < 0 || off > size || n > size-off {
		return nil, fmt.Errorf("%w: need bytes [%d, %d), source has %d", ErrTruncated, off, off+n, size)
	}
	if a.buf != nil {
		return a.buf[off : off+n], nil
	}
	b := make([]byte, n)
	if _, err := a.src.ReadAt(b, off); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return b, nil
}

// log returns the logger, falling back to a discard logger if nil.
func (a *Archive) log() *slog.Logger {
	if a.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return a.logger
}

func (a *Archive) registry() *Registry { return a.reg }

func (a *Archive) compressor() Compressor {
	if a.comp == nil {
		return RefPack{}
	}
	return a.comp
}

func (a *Archive) accessed() {
	if a.onAccess != nil {
		a.onAccess(a)
	}
}

func (a *Archive) pin()   { a.pins.Add(1) }
func (a *Archive) unpin() { a.pins.Add(-1) }

// Pinned reports whether a read is in flight.
func (a *Archive) Pinned() bool { return a.pins.Load() > 0 }

// Header returns a copy of the header.
func (a *Archive) Header() Header { return a.header }

// Path returns the file the archive was opened from, if any.
func (a *Archive) Path() string { return a.path }

// Source returns the current byte source, or nil for archives built in
// memory.
func (a *Archive) Source() ByteSource {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.src
}

// Len returns the number of entries, DIR excluded.
func (a *Archive) Len() int { return len(a.entries) }

// At returns the entry at position i in directory order.
func (a *Archive) At(i int) *Entry { return a.entries[i] }

// Entries returns the entries in directory order, DIR excluded.
func (a *Archive) Entries() []*Entry { return slices.Clone(a.entries) }

// Find returns the last entry with TGI id, or nil.
func (a *Archive) Find(id tgi.TGI) *Entry {
	for i := len(a.entries) - 1; i >= 0; i-- {
		if a.entries[i].TGI == id {
			return a.entries[i]
		}
	}
	return nil
}

// FindAll returns the entries with the given type and instance in any
// group, in directory order.
func (a *Archive) FindAll(typ, instance uint32) []*Entry {
	var out []*Entry
	for _, e := range a.entries {
		if e.TGI.Type == typ && e.TGI.Instance == instance {
			out = append(out, e)
		}
	}
	return out
}

// OfType returns the entries of type typ in directory order.
func (a *Archive) OfType(typ uint32) []*Entry {
	var out []*Entry
	for _, e := range a.entries {
		if e.TGI.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// Exemplars returns the exemplar and cohort entries in directory order.
func (a *Archive) Exemplars() []*Entry {
	var out []*Entry
	for _, e := range a.entries {
		if IsExemplar(e.TGI.Type) {
			out = append(out, e)
		}
	}
	return out
}

// AddOptions configures Add and AddRaw.
type AddOptions struct {
	// Compressed stores the entry RefPack-compressed on save.
	Compressed bool
}

// Add appends an entry holding record v. It is encoded on save with the
// codec registered for id.Type; unregistered types must hold []byte.
func (a *Archive) Add(id tgi.TGI, v any, opts AddOptions) *Entry {
	e := &Entry{
		TGI:        id,
		Compressed: opts.Compressed,
		archive:    a,
		content:    parsed{value: v},
		dirty:      true,
	}
	a.entries = append(a.entries, e)
	return e
}

// AddRaw appends an entry holding uncompressed bytes.
func (a *Archive) AddRaw(id tgi.TGI, data []byte, opts AddOptions) *Entry {
	n := uint32(len(data)) //nolint:gosec // checked on save
	e := &Entry{
		TGI:            id,
		CompressedSize: n,
		FileSize:       n,
		Compressed:     opts.Compressed,
		archive:        a,
		content:        decoded{data: data},
	}
	a.entries = append(a.entries, e)
	return e
}

// Remove deletes every entry with TGI id and returns how many were removed.
func (a *Archive) Remove(id tgi.TGI) int {
	before := len(a.entries)
	a.entries = slices.DeleteFunc(a.entries, func(e *Entry) bool { return e.TGI == id })
	return before - len(a.entries)
}

// ReadBytes returns n bytes at off. When the archive is loaded the result
// aliases the loaded buffer; otherwise it is a positioned read on the
// source.
func (a *Archive) ReadBytes(off, n uint32) ([]byte, error) {
	a.mu.RLock()
	buf, src := a.buf, a.src
	a.mu.RUnlock()

	if buf != nil {
		if !sizing.Within(off, n, int64(len(buf))) {
			return nil, fmt.Errorf("%w: bytes [%d, %d) outside %d byte archive", ErrMalformedRecord, off, uint64(off)+uint64(n), len(buf))
		}
		return buf[off : off+n], nil
	}
	if src == nil {
		return nil, ErrNoSource
	}
	if !sizing.Within(off, n, src.Size()) {
		return nil, fmt.Errorf("%w: bytes [%d, %d) outside %d byte archive", ErrMalformedRecord, off, uint64(off)+uint64(n), src.Size())
	}
	b := make([]byte, n)
	if _, err := src.ReadAt(b, int64(off)); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return b, nil
}

// Load reads the whole source into memory.
func (a *Archive) Load() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.buf != nil {
		return nil
	}
	if a.src == nil {
		return ErrNoSource
	}
	if v, ok := a.src.(viewer); ok {
		a.buf = v.Bytes()
		return nil
	}
	n, err := sizing.ToInt(uint64(a.src.Size()), ErrSizeOverflow) //nolint:gosec // sizes are non-negative
	if err != nil {
		return err
	}
	buf := make([]byte, n)
	if _, err := a.src.ReadAt(buf, 0); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	a.buf = buf
	return nil
}

// Loaded reports whether the whole archive is held in memory.
func (a *Archive) Loaded() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.buf != nil
}

// Free drops the loaded buffer and the cached content of every entry.
// Descriptors stay, and later reads go back to the source.
func (a *Archive) Free() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.path == "" {
		if _, ok := a.src.(viewer); ok || a.src == nil {
			a.log().Warn("freeing an archive without a backing file keeps its bytes in memory")
		}
	}
	a.freeLocked()
}

func (a *Archive) freeLocked() {
	a.buf = nil
	for _, e := range a.entries {
		e.Free()
	}
}

// SpillFunc replaces an in-memory source with a cheaper one on eviction.
type SpillFunc func(ByteSource) (ByteSource, error)

// TryEvict frees the archive unless a read is in flight or another
// goroutine holds its lock. Sources that live only in memory are handed to
// spill, which may replace them; a nil spill keeps them. TryEvict reports
// whether the archive was freed.
func (a *Archive) TryEvict(spill SpillFunc) (bool, error) {
	if !a.mu.TryLock() {
		return false, nil
	}
	defer a.mu.Unlock()
	if a.pins.Load() > 0 {
		return false, nil
	}
	if _, inMemory := a.src.(Resident); inMemory && spill != nil {
		next, err := spill(a.src)
		if err != nil {
			return false, err
		}
		a.src = next
	}
	a.freeLocked()
	if r, ok := a.src.(Releaser); ok {
		if err := r.Release(); err != nil {
			a.log().Debug("release source", "error", err)
		}
	}
	return true, nil
}

// MemSize estimates the bytes the archive keeps in memory: the loaded
// buffer, an in-memory source and cached entry content.
func (a *Archive) MemSize() int64 {
	a.mu.RLock()
	size := int64(len(a.buf))
	if r, ok := a.src.(Resident); ok {
		res := r.Resident()
		if v, isView := a.src.(viewer); isView && a.buf != nil && len(v.Bytes()) == len(a.buf) {
			res = 0 // buf aliases the source
		}
		size += res
	}
	a.mu.RUnlock()
	for _, e := range a.entries {
		size += int64(e.memSize())
	}
	return size
}

// Release gives back the source's file handle, if it has one. The archive
// stays usable.
func (a *Archive) Release() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if r, ok := a.src.(Releaser); ok {
		return r.Release()
	}
	return nil
}

// Close releases the source. Entries that were not read can no longer be.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var err error
	if c, ok := a.src.(io.Closer); ok {
		err = c.Close()
	}
	a.buf = nil
	a.src = nil
	return err
}

// MemSearch returns the entries whose uncompressed bytes contain ref as a
// little-endian uint32. Entries that fail to decompress are skipped and
// reported in the joined error.
func (a *Archive) MemSearch(ref uint32) ([]*Entry, error) {
	var needle [4]byte
	binary.LittleEndian.PutUint32(needle[:], ref)
	var (
		out  []*Entry
		errs []error
	)
	for _, e := range a.entries {
		data, err := e.Decompress()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if bytes.Contains(data, needle[:]) {
			out = append(out, e)
		}
	}
	return out, errors.Join(errs...)
}
