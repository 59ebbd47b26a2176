package stream

import (
	"encoding/binary"
	"math"

	"github.com/meigma/dbpf/crc"
	"github.com/meigma/dbpf/tgi"
)

// Writer appends little-endian values to a growing buffer.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer with room for size bytes.
func NewWriter(size int) *Writer {
	return &Writer{buf: make([]byte, 0, max(size, 0))}
}

// Bytes returns the written bytes.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written.
func (w *Writer) Len() int { return len(w.buf) }

// Uint8 appends one byte.
func (w *Writer) Uint8(v uint8) { w.buf = append(w.buf, v) }

// Bool appends 1 for true and 0 for false.
func (w *Writer) Bool(v bool) {
	if v {
		w.Uint8(1)
		return
	}
	w.Uint8(0)
}

// Uint16 appends a little-endian uint16.
func (w *Writer) Uint16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }

// Uint32 appends a little-endian uint32.
func (w *Writer) Uint32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }

// Int32 appends a little-endian int32.
func (w *Writer) Int32(v int32) { w.Uint32(uint32(v)) } //nolint:gosec // reinterpreting bits

// Uint64 appends a little-endian uint64.
func (w *Writer) Uint64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }

// Int64 appends a little-endian int64.
func (w *Writer) Int64(v int64) { w.Uint64(uint64(v)) } //nolint:gosec // reinterpreting bits

// Float32 appends a little-endian IEEE 754 float.
func (w *Writer) Float32(v float32) { w.Uint32(math.Float32bits(v)) }

// Write appends p. It never fails.
func (w *Writer) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	return len(p), nil
}

// String appends the bytes of s without a length prefix.
func (w *Writer) String(s string) { w.buf = append(w.buf, s...) }

// TGI appends a type, group and instance triple.
func (w *Writer) TGI(id tgi.TGI) {
	w.Uint32(id.Type)
	w.Uint32(id.Group)
	w.Uint32(id.Instance)
}

// PutUint32 overwrites the uint32 at off. The range must already be written.
func (w *Writer) PutUint32(off int, v uint32) {
	binary.LittleEndian.PutUint32(w.buf[off:off+4], v)
}

// Seal prepends a size and checksum frame to the written body and returns
// the result. The size includes the 8 frame bytes; the checksum covers the
// body only.
func (w *Writer) Seal() []byte {
	body := w.buf
	out := make([]byte, 8, len(body)+8)
	binary.LittleEndian.PutUint32(out[0:], uint32(len(body)+8)) //nolint:gosec // record sizes fit in uint32
	binary.LittleEndian.PutUint32(out[4:], crc.Checksum(body, 0))
	return append(out, body...)
}
