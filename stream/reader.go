package stream

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/meigma/dbpf/tgi"
)

// ErrShortBuffer is returned when a read runs past the end of the buffer.
var ErrShortBuffer = errors.New("stream: short buffer")

// Reader reads little-endian values from a byte slice.
type Reader struct {
	buf []byte
	off int
	err error
}

// NewReader returns a Reader positioned at the start of buf.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Err returns the first error encountered, if any.
func (r *Reader) Err() error { return r.err }

// Offset returns the current cursor position.
func (r *Reader) Offset() int { return r.off }

// Len returns the size of the underlying buffer.
func (r *Reader) Len() int { return len(r.buf) }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	if r.off >= len(r.buf) {
		return 0
	}
	return len(r.buf) - r.off
}

// Seek moves the cursor to an absolute offset.
func (r *Reader) Seek(off int) {
	if off < 0 || off > len(r.buf) {
		r.fail(off - r.off)
		return
	}
	r.off = off
}

// Skip advances the cursor by n bytes.
func (r *Reader) Skip(n int) {
	r.next(n)
}

// next returns the next n bytes and advances, or records ErrShortBuffer.
func (r *Reader) next(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || n > len(r.buf)-r.off {
		r.fail(n)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) fail(n int) {
	if r.err == nil {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortBuffer, n, r.off, r.Remaining())
	}
}

// Uint8 reads one byte.
func (r *Reader) Uint8() uint8 {
	b := r.next(1)
	if b == nil {
		return 0
	}
	return b[0]
}

// Bool reads one byte and reports whether it is non-zero.
func (r *Reader) Bool() bool {
	return r.Uint8() != 0
}

// Uint16 reads a little-endian uint16.
func (r *Reader) Uint16() uint16 {
	b := r.next(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

// Uint32 reads a little-endian uint32.
func (r *Reader) Uint32() uint32 {
	b := r.next(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// Int32 reads a little-endian int32.
func (r *Reader) Int32() int32 {
	return int32(r.Uint32()) //nolint:gosec // reinterpreting bits
}

// Uint64 reads a little-endian uint64.
func (r *Reader) Uint64() uint64 {
	b := r.next(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// Int64 reads a little-endian int64.
func (r *Reader) Int64() int64 {
	return int64(r.Uint64()) //nolint:gosec // reinterpreting bits
}

// Float32 reads a little-endian IEEE 754 float.
func (r *Reader) Float32() float32 {
	return math.Float32frombits(r.Uint32())
}

// Bytes reads n bytes. The returned slice aliases the underlying buffer.
func (r *Reader) Bytes(n int) []byte {
	return r.next(n)
}

// String reads n bytes as a string.
func (r *Reader) String(n int) string {
	return string(r.next(n))
}

// TGI reads a type, group and instance triple.
func (r *Reader) TGI() tgi.TGI {
	t := r.Uint32()
	g := r.Uint32()
	i := r.Uint32()
	return tgi.New(t, g, i)
}

// PeekUint32 returns the uint32 at the cursor without advancing.
func (r *Reader) PeekUint32() (uint32, bool) {
	if r.err != nil || r.Remaining() < 4 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(r.buf[r.off:]), true
}
