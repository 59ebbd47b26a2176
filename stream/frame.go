package stream

import (
	"encoding/binary"
	"fmt"

	"github.com/meigma/dbpf/crc"
)

// frameHeader is the size, checksum and memory address prefix.
const frameHeader = 12

// Frame describes one size/crc/mem framed sub-record found by [ScanFramed].
type Frame struct {
	Offset int
	Size   uint32
	CRC    uint32
	Mem    uint32
	Valid  bool
}

// ScanFramed walks back-to-back framed sub-records in buf and reports the
// checksum validity of each. Scanning stops at the first frame whose size
// does not fit; the returned error describes it.
func ScanFramed(buf []byte) ([]Frame, error) {
	var frames []Frame
	off := 0
	for len(buf)-off >= frameHeader {
		size := binary.LittleEndian.Uint32(buf[off:])
		if size < frameHeader || uint64(size) > uint64(len(buf)-off) {
			return frames, fmt.Errorf("%w: frame at offset %d declares %d bytes", ErrShortBuffer, off, size)
		}
		rec := buf[off : off+int(size)]
		sum := binary.LittleEndian.Uint32(rec[4:])
		frames = append(frames, Frame{
			Offset: off,
			Size:   size,
			CRC:    sum,
			Mem:    binary.LittleEndian.Uint32(rec[8:]),
			Valid:  crc.Checksum(rec, 8) == sum,
		})
		off += int(size)
	}
	return frames, nil
}
