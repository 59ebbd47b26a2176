// Package crc implements the checksum SimCity 4 stores in framed records.
//
// It is a most-significant-bit-first CRC-32 over the polynomial 0x04C11DB7
// with an initial value of 0xFFFFFFFF and no final inversion. The game only
// checksums the first [MaxLength] bytes of a record, so longer inputs are
// truncated before hashing.
package crc

// MaxLength is the number of bytes the checksum covers at most.
const MaxLength = 250000

const (
	polynomial = 0x04C11DB7
	initial    = 0xFFFFFFFF
)

var table = makeTable()

func makeTable() *[256]uint32 {
	var t [256]uint32
	for i := range t {
		c := uint32(i) << 24 //nolint:gosec // i < 256
		for range 8 {
			if c&0x80000000 != 0 {
				c = c<<1 ^ polynomial
			} else {
				c <<= 1
			}
		}
		t[i] = c
	}
	return &t
}

// Checksum returns the checksum of b starting at offset. Offsets beyond the
// end of b checksum an empty input.
func Checksum(b []byte, offset int) uint32 {
	if offset > 0 {
		if offset >= len(b) {
			b = nil
		} else {
			b = b[offset:]
		}
	}
	if len(b) > MaxLength {
		b = b[:MaxLength]
	}
	return Update(initial, b)
}

// Update continues a running checksum with the bytes in b.
func Update(c uint32, b []byte) uint32 {
	for _, v := range b {
		c = c<<8 ^ table[byte(c>>24)^v]
	}
	return c
}
