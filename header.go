package dbpf

import (
	"encoding/binary"
	"fmt"
	"time"
)

// HeaderSize is the size of the archive header in bytes.
const HeaderSize = 96

var magic = [4]byte{'D', 'B', 'P', 'F'}

// Header is the fixed archive preamble.
//
// Reserved bytes are kept so that a parsed header marshals back to the
// bytes it came from.
type Header struct {
	Magic       [4]byte
	Major       uint32
	Minor       uint32
	Created     uint32 // unix seconds
	Modified    uint32 // unix seconds
	IndexMajor  uint32
	IndexCount  uint32
	IndexOffset uint32
	IndexSize   uint32
	HolesCount  uint32
	HolesOffset uint32
	HolesSize   uint32
	IndexMinor  uint32

	reserved [12]byte
	padding  [HeaderSize - 64]byte
}

// NewHeader returns the header of an empty version 1.0 archive with a 7.0
// directory, stamped with the current time.
func NewHeader() Header {
	now := uint32(time.Now().Unix()) //nolint:gosec // DBPF timestamps are 32 bit
	return Header{
		Magic:      magic,
		Major:      1,
		Minor:      0,
		Created:    now,
		Modified:   now,
		IndexMajor: 7,
	}
}

// ParseHeader decodes the first HeaderSize bytes of b. It does not validate
// the magic; see [Header.Valid].
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: header needs %d bytes, have %d", ErrTruncated, HeaderSize, len(b))
	}
	le := binary.LittleEndian
	var h Header
	copy(h.Magic[:], b[0:4])
	h.Major = le.Uint32(b[4:])
	h.Minor = le.Uint32(b[8:])
	copy(h.reserved[:], b[12:24])
	h.Created = le.Uint32(b[24:])
	h.Modified = le.Uint32(b[28:])
	h.IndexMajor = le.Uint32(b[32:])
	h.IndexCount = le.Uint32(b[36:])
	h.IndexOffset = le.Uint32(b[40:])
	h.IndexSize = le.Uint32(b[44:])
	h.HolesCount = le.Uint32(b[48:])
	h.HolesOffset = le.Uint32(b[52:])
	h.HolesSize = le.Uint32(b[56:])
	h.IndexMinor = le.Uint32(b[60:])
	copy(h.padding[:], b[64:HeaderSize])
	return h, nil
}

// MarshalBinary encodes the header into HeaderSize bytes.
func (h Header) MarshalBinary() ([]byte, error) {
	return h.appendTo(make([]byte, 0, HeaderSize)), nil
}

func (h Header) appendTo(b []byte) []byte {
	le := binary.LittleEndian
	b = append(b, h.Magic[:]...)
	b = le.AppendUint32(b, h.Major)
	b = le.AppendUint32(b, h.Minor)
	b = append(b, h.reserved[:]...)
	for _, v := range []uint32{
		h.Created, h.Modified,
		h.IndexMajor, h.IndexCount, h.IndexOffset, h.IndexSize,
		h.HolesCount, h.HolesOffset, h.HolesSize,
		h.IndexMinor,
	} {
		b = le.AppendUint32(b, v)
	}
	return append(b, h.padding[:]...)
}

// Valid reports whether the magic reads "DBPF".
func (h Header) Valid() bool {
	return h.Magic == magic
}

// CreatedAt returns Created as a time.
func (h Header) CreatedAt() time.Time { return time.Unix(int64(h.Created), 0) }

// ModifiedAt returns Modified as a time.
func (h Header) ModifiedAt() time.Time { return time.Unix(int64(h.Modified), 0) }

// entrySize returns the size of one directory entry.
func (h Header) entrySize() int {
	if h.IndexMinor > 0 {
		return 24
	}
	return 20
}

// dirRowSize returns the size of one DIR row.
func (h Header) dirRowSize() int {
	if h.IndexMinor > 0 {
		return 20
	}
	return 16
}
