package cache

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/meigma/dbpf"
)

// Spiller compresses in-memory archive bytes on eviction.
type Spiller struct {
	level     zstd.EncoderLevel
	maxMemory uint64

	once    sync.Once
	enc     *zstd.Encoder
	dec     *zstd.Decoder
	initErr error
}

// SpillOption configures a Spiller.
type SpillOption func(*Spiller)

// WithLevel sets the zstd encoder level.
func WithLevel(level zstd.EncoderLevel) SpillOption {
	return func(s *Spiller) {
		s.level = level
	}
}

// WithDecoderMaxMemory caps the memory a decoder may allocate when
// inflating a spilled archive. Zero means no limit.
func WithDecoderMaxMemory(n uint64) SpillOption {
	return func(s *Spiller) {
		s.maxMemory = n
	}
}

// NewSpiller returns a Spiller using the fastest zstd level.
func NewSpiller(opts ...SpillOption) *Spiller {
	s := &Spiller{level: zstd.SpeedFastest}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// init creates the shared encoder and decoder. EncodeAll and DecodeAll are
// safe for concurrent use.
func (s *Spiller) init() error {
	s.once.Do(func() {
		s.enc, s.initErr = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(s.level),
			zstd.WithEncoderConcurrency(1),
		)
		if s.initErr != nil {
			return
		}
		decOpts := []zstd.DOption{zstd.WithDecoderConcurrency(1), zstd.WithDecoderLowmem(true)}
		if s.maxMemory > 0 {
			decOpts = append(decOpts, zstd.WithDecoderMaxMemory(s.maxMemory))
		}
		s.dec, s.initErr = zstd.NewReader(nil, decOpts...)
	})
	return s.initErr
}

// Spill implements dbpf.SpillFunc. Sources that are already spilled are
// returned unchanged.
func (s *Spiller) Spill(src dbpf.ByteSource) (dbpf.ByteSource, error) {
	if sp, ok := src.(*SpillSource); ok {
		return sp, nil
	}
	if err := s.init(); err != nil {
		return nil, fmt.Errorf("init zstd: %w", err)
	}

	var data []byte
	if v, ok := src.(interface{ Bytes() []byte }); ok {
		data = v.Bytes()
	} else {
		data = make([]byte, src.Size())
		if _, err := src.ReadAt(data, 0); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read %s: %w", src.SourceID(), err)
		}
	}
	return &SpillSource{
		spiller: s,
		packed:  s.enc.EncodeAll(data, make([]byte, 0, len(data)/4)),
		size:    int64(len(data)),
		id:      src.SourceID(),
	}, nil
}

// SpillSource is a zstd-compressed in-memory archive. The first read
// inflates it; Release drops the inflated copy again.
type SpillSource struct {
	spiller *Spiller
	packed  []byte
	size    int64
	id      string

	mu   sync.Mutex
	data []byte
}

var (
	_ dbpf.ByteSource = (*SpillSource)(nil)
	_ dbpf.Releaser   = (*SpillSource)(nil)
	_ dbpf.Resident   = (*SpillSource)(nil)
)

// ReadAt implements io.ReaderAt.
func (s *SpillSource) ReadAt(p []byte, off int64) (int, error) {
	data, err := s.inflate()
	if err != nil {
		return 0, err
	}
	if off < 0 || off > int64(len(data)) {
		return 0, fmt.Errorf("spill: offset %d outside %d bytes", off, len(data))
	}
	n := copy(p, data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (s *SpillSource) inflate() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data != nil {
		return s.data, nil
	}
	data, err := s.spiller.dec.DecodeAll(s.packed, make([]byte, 0, s.size))
	if err != nil {
		return nil, fmt.Errorf("inflate %s: %w", s.id, err)
	}
	s.data = data
	return data, nil
}

// Size returns the uncompressed size.
func (s *SpillSource) Size() int64 { return s.size }

// SourceID returns the id of the source that was spilled.
func (s *SpillSource) SourceID() string { return s.id }

// Packed returns the compressed size.
func (s *SpillSource) Packed() int { return len(s.packed) }

// Inflated reports whether the uncompressed bytes are held.
func (s *SpillSource) Inflated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data != nil
}

// Resident implements dbpf.Resident.
func (s *SpillSource) Resident() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.packed) + len(s.data))
}

// Release drops the inflated bytes.
func (s *SpillSource) Release() error {
	s.mu.Lock()
	s.data = nil
	s.mu.Unlock()
	return nil
}
