package dbpf

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/meigma/dbpf/tgi"
)

// State is the stage an entry's content has reached.
type State uint8

const (
	StateUnread State = iota
	StateRawLoaded
	StateDecoded
	StateParsed
)

func (s State) String() string {
	switch s {
	case StateUnread:
		return "unread"
	case StateRawLoaded:
		return "raw"
	case StateDecoded:
		return "decoded"
	case StateParsed:
		return "parsed"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// content is one of unread, rawLoaded, decoded or parsed.
type content interface {
	state() State
	size() int
}

type unread struct{}

type rawLoaded struct {
	raw []byte
}

type decoded struct {
	raw     []byte
	data    []byte
	aliased bool // data is raw
}

// parsed keeps only the record; its bytes are re-encoded on demand.
type parsed struct {
	value any
	n     int // decoded length when parsed, for memory accounting
}

func (unread) state() State    { return StateUnread }
func (rawLoaded) state() State { return StateRawLoaded }
func (decoded) state() State   { return StateDecoded }
func (parsed) state() State    { return StateParsed }

func (unread) size() int      { return 0 }
func (c rawLoaded) size() int { return len(c.raw) }
func (c parsed) size() int    { return c.n }

func (c decoded) size() int {
	if c.aliased {
		return len(c.data)
	}
	return len(c.raw) + len(c.data)
}

const (
	flightRaw        = "raw"
	flightDecompress = "decompress"
	flightRead       = "read"
)

// Entry describes one record of an archive and caches its content.
//
// The exported descriptor fields mirror the archive directory. They may be
// changed before saving; doing so while reads are in flight is a race.
type Entry struct {
	TGI            tgi.TGI
	Offset         uint32
	CompressedSize uint32
	FileSize       uint32
	Compressed     bool

	archive  *Archive
	reserved uint32
	stored   bool // payload lives in the archive source at Offset

	mu      sync.Mutex
	content content
	dirty   bool
	diags   []Diagnostic

	group singleflight.Group
}

// Archive returns the archive that owns e.
func (e *Entry) Archive() *Archive { return e.archive }

// State returns the stage e's content has reached.
func (e *Entry) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.content.state()
}

// Dirty reports whether e was changed since it was read or saved.
func (e *Entry) Dirty() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dirty
}

// Diagnostics returns the size mismatches found while decoding e.
func (e *Entry) Diagnostics() []Diagnostic {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Diagnostic(nil), e.diags...)
}

// Kind returns how e decodes under its archive's registry.
func (e *Entry) Kind() Kind {
	rt, _ := e.archive.registry().Lookup(e.TGI.Type)
	return rt.Kind
}

// Raw returns the payload as stored: compressed entries include their size
// prefix. Parsed entries return their record re-encoded.
func (e *Entry) Raw() ([]byte, error) {
	defer e.archive.accessed()
	return e.raw()
}

// Decompress returns the uncompressed payload. Parsed entries return their
// record re-encoded, so in-place changes are visible.
func (e *Entry) Decompress() ([]byte, error) {
	defer e.archive.accessed()
	return e.decompress()
}

// Read returns the parsed record. Unregistered types return their
// uncompressed bytes. The result is cached; every later call returns the
// same value until Free.
//
// For array types a failing record leaves a nil hole in the returned []any
// and the error joins one *RecordError per failure. Such partial results
// are not cached.
func (e *Entry) Read() (any, error) {
	defer e.archive.accessed()
	if v, ok := e.cachedValue(); ok {
		return v, nil
	}
	v, err, _ := e.group.Do(flightRead, e.loadRecord)
	return v, err
}

// ReadContext is like Read but stops waiting when ctx is done. The read
// itself continues and its result is cached for the next caller.
func (e *Entry) ReadContext(ctx context.Context) (any, error) {
	if v, ok := e.cachedValue(); ok {
		e.archive.accessed()
		return v, nil
	}
	return e.wait(ctx, e.group.DoChan(flightRead, e.loadRecord))
}

// DecompressContext is like Decompress but stops waiting when ctx is done.
func (e *Entry) DecompressContext(ctx context.Context) ([]byte, error) {
	if data, ok := e.cachedData(); ok {
		e.archive.accessed()
		return data, nil
	}
	if v, ok := e.cachedValue(); ok {
		defer e.archive.accessed()
		return e.encode(v)
	}
	v, err := e.wait(ctx, e.group.DoChan(flightDecompress, e.loadDecoded))
	data, _ := v.([]byte)
	return data, err
}

func (e *Entry) wait(ctx context.Context, ch <-chan singleflight.Result) (any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		e.archive.accessed()
		return res.Val, res.Err
	}
}

// Set replaces the record and marks e dirty.
func (e *Entry) Set(v any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.content = parsed{value: v}
	e.dirty = true
}

// Touch marks e dirty after its record was changed in place. It has no
// effect on an entry that was not read.
func (e *Entry) Touch() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.content.(parsed); ok {
		e.dirty = true
	}
}

// Free drops e's cached content. Dirty entries and entries that exist only
// in memory keep theirs, since nothing could restore it.
func (e *Entry) Free() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.freeLocked()
}

func (e *Entry) freeLocked() {
	if e.dirty || !e.stored {
		return
	}
	e.content = unread{}
	e.diags = nil
}

// memSize returns the bytes held by e's content.
func (e *Entry) memSize() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.content.size()
}

func (e *Entry) cachedValue() (any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.content.(parsed); ok {
		return c.value, true
	}
	return nil, false
}

// cachedData returns the uncompressed bytes when they are known without
// I/O or encoding.
func (e *Entry) cachedData() ([]byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.content.(decoded); ok {
		return c.data, true
	}
	return nil, false
}

func (e *Entry) raw() ([]byte, error) {
	e.mu.Lock()
	fresh := e.dirty || !e.stored || e.content.state() == StateParsed
	switch c := e.content.(type) {
	case rawLoaded:
		e.mu.Unlock()
		return c.raw, nil
	case decoded:
		if c.raw != nil {
			e.mu.Unlock()
			return c.raw, nil
		}
	}
	e.mu.Unlock()

	if fresh {
		p, err := e.payload()
		return p.data, err
	}
	v, err, _ := e.group.Do(flightRaw, e.loadRaw)
	raw, _ := v.([]byte)
	return raw, err
}

func (e *Entry) loadRaw() (any, error) {
	a := e.archive
	a.pin()
	defer a.unpin()

	raw, err := a.ReadBytes(e.Offset, e.CompressedSize)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", e.TGI, err)
	}
	e.mu.Lock()
	if e.content.state() == StateUnread {
		e.content = rawLoaded{raw: raw}
	}
	e.mu.Unlock()
	return raw, nil
}

func (e *Entry) decompress() ([]byte, error) {
	if data, ok := e.cachedData(); ok {
		return data, nil
	}
	if v, ok := e.cachedValue(); ok {
		return e.encode(v)
	}
	v, err, _ := e.group.Do(flightDecompress, e.loadDecoded)
	data, _ := v.([]byte)
	return data, err
}

func (e *Entry) loadDecoded() (any, error) {
	a := e.archive
	a.pin()
	defer a.unpin()

	raw, err := e.raw()
	if err != nil {
		return nil, err
	}
	data, aliased := raw, true
	if e.Compressed {
		aliased = false
		if len(raw) < 4 {
			return nil, fmt.Errorf("%w: %s: compressed payload of %d bytes", ErrMalformedRecord, e.TGI, len(raw))
		}
		data, err = a.compressor().Decompress(raw[4:])
		if err != nil {
			return nil, fmt.Errorf("decompress %s: %w", e.TGI, err)
		}
		if e.FileSize != 0 && int(e.FileSize) != len(data) {
			d := Diagnostic{TGI: e.TGI, Record: -1, Declared: int(e.FileSize), Consumed: len(data)}
			a.log().Warn("uncompressed size differs from DIR", "tgi", e.TGI.String(),
				"declared", d.Declared, "actual", d.Consumed)
			e.addDiagnostics([]Diagnostic{d})
		}
	}

	e.mu.Lock()
	if s := e.content.state(); s < StateDecoded {
		e.content = decoded{raw: raw, data: data, aliased: aliased}
	}
	e.mu.Unlock()
	return data, nil
}

func (e *Entry) loadRecord() (any, error) {
	a := e.archive
	a.pin()
	defer a.unpin()

	data, err := e.decompress()
	if err != nil {
		return nil, err
	}
	rt, _ := a.registry().Lookup(e.TGI.Type)
	v, diags, err := rt.decode(e.TGI, data)
	for _, d := range diags {
		a.log().Warn("record size mismatch", "tgi", e.TGI.String(), "record", d.Record,
			"declared", d.Declared, "consumed", d.Consumed)
	}
	e.addDiagnostics(diags)
	if err != nil {
		return v, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if c, ok := e.content.(parsed); ok {
		// Set won the race.
		return c.value, nil
	}
	e.content = parsed{value: v, n: len(data)}
	return v, nil
}

func (e *Entry) addDiagnostics(diags []Diagnostic) {
	if len(diags) == 0 {
		return
	}
	e.mu.Lock()
	e.diags = append(e.diags, diags...)
	e.mu.Unlock()
}

// encode serializes a record with the archive's registry.
func (e *Entry) encode(v any) ([]byte, error) {
	rt, _ := e.archive.registry().Lookup(e.TGI.Type)
	return rt.encode(e.TGI, v)
}

// payload is what save writes for one entry. A nil data with reuse set means
// the stored bytes are copied from the source unchanged.
type payload struct {
	data     []byte
	size     uint32
	fileSize uint32
	reuse    bool
}

// payload decides how e is written: stored bytes verbatim when e was never
// parsed or changed, otherwise re-encoded from the record and recompressed
// from its canonical bytes.
func (e *Entry) payload() (payload, error) {
	e.mu.Lock()
	c, dirty := e.content, e.dirty
	e.mu.Unlock()

	var data []byte
	switch c := c.(type) {
	case parsed:
		b, err := e.encode(c.value)
		if err != nil {
			return payload{}, err
		}
		data = b
	case decoded:
		if e.stored && !dirty && c.raw != nil {
			return e.storedPayload(c.raw), nil
		}
		data = c.data
	case rawLoaded:
		return e.storedPayload(c.raw), nil
	default:
		if !e.stored {
			return payload{}, fmt.Errorf("%w: %s", ErrNoSource, e.TGI)
		}
		return payload{size: e.CompressedSize, fileSize: e.FileSize, reuse: true}, nil
	}

	fileSize, err := uint32Len(data)
	if err != nil {
		return payload{}, err
	}
	if e.Compressed {
		data, err = e.archive.compressor().Compress(data)
		if err != nil {
			return payload{}, fmt.Errorf("compress %s: %w", e.TGI, err)
		}
	}
	size, err := uint32Len(data)
	if err != nil {
		return payload{}, err
	}
	return payload{data: data, size: size, fileSize: fileSize}, nil
}

func (e *Entry) storedPayload(raw []byte) payload {
	return payload{data: raw, size: uint32(len(raw)), fileSize: e.FileSize} //nolint:gosec // read with a uint32 length
}
