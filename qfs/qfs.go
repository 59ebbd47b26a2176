// Package qfs implements the RefPack (QFS) compression used by DBPF
// archives.
//
// A RefPack stream starts with a two byte signature (0x10 0xFB, with flag
// bits in the first byte) followed by the big-endian uncompressed size and a
// sequence of control commands, each mixing a short run of literal bytes
// with a back-reference into the already decoded output.
//
// DBPF entries store the stream behind a redundant little-endian total size.
// [Compress] can emit that prefix; [Decompress] expects it to have been
// stripped already.
package qfs

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrCorrupt is returned when a stream cannot be decoded.
var ErrCorrupt = errors.New("qfs: corrupt stream")

const (
	magic = 0xFB

	flagLargeSizes     = 0x80
	flagCompressedSize = 0x01

	// MaxSize is the largest input Compress accepts.
	MaxSize = 1<<32 - 1

	// maxExpansion bounds the output of one input byte: the longest copy
	// command is four bytes producing 1028.
	maxExpansion = 1028 / 4

	// initialRatio sizes the output buffer before it is known to be honest.
	initialRatio = 8
)

// Options configures Compress.
type Options struct {
	// SizePrefix prepends the total size of the output, prefix included, as
	// a little-endian uint32. DBPF entries are stored this way.
	SizePrefix bool
}

// UncompressedSize returns the decoded size announced by the stream header.
func UncompressedSize(src []byte) (int, error) {
	_, size, err := parseHeader(src)
	return size, err
}

// parseHeader returns the offset of the first command and the decoded size.
func parseHeader(src []byte) (int, int, error) {
	if len(src) < 2 || src[1] != magic || src[0]&0x3E != 0x10 {
		return 0, 0, fmt.Errorf("%w: bad signature", ErrCorrupt)
	}
	width := 3
	if src[0]&flagLargeSizes != 0 {
		width = 4
	}
	off := 2
	if src[0]&flagCompressedSize != 0 {
		off += width
	}
	if len(src) < off+width {
		return 0, 0, fmt.Errorf("%w: truncated header", ErrCorrupt)
	}
	size := 0
	for _, b := range src[off : off+width] {
		size = size<<8 | int(b)
	}
	return off + width, size, nil
}

// Decompress decodes a RefPack stream.
func Decompress(src []byte) ([]byte, error) {
	in, size, err := parseHeader(src)
	if err != nil {
		return nil, err
	}
	if size > len(src)*maxExpansion {
		return nil, fmt.Errorf("%w: header declares %d bytes from %d of input", ErrCorrupt, size, len(src))
	}
	dst := make([]byte, 0, min(size, len(src)*initialRatio))

	for in < len(src) {
		b0 := int(src[in])
		var plain, copyLen, offset, n int
		switch {
		case b0 < 0x80:
			if in+2 > len(src) {
				return nil, fmt.Errorf("%w: truncated command at %d", ErrCorrupt, in)
			}
			b1 := int(src[in+1])
			plain = b0 & 0x03
			copyLen = (b0&0x1C)>>2 + 3
			offset = (b0&0x60)<<3 + b1 + 1
			n = 2
		case b0 < 0xC0:
			if in+3 > len(src) {
				return nil, fmt.Errorf("%w: truncated command at %d", ErrCorrupt, in)
			}
			b1, b2 := int(src[in+1]), int(src[in+2])
			plain = b1 >> 6
			copyLen = b0&0x3F + 4
			offset = (b1&0x3F)<<8 + b2 + 1
			n = 3
		case b0 < 0xE0:
			if in+4 > len(src) {
				return nil, fmt.Errorf("%w: truncated command at %d", ErrCorrupt, in)
			}
			b1, b2, b3 := int(src[in+1]), int(src[in+2]), int(src[in+3])
			plain = b0 & 0x03
			copyLen = (b0&0x0C)<<6 + b3 + 5
			offset = (b0&0x10)<<12 + b1<<8 + b2 + 1
			n = 4
		case b0 < 0xFC:
			plain = (b0&0x1F)<<2 + 4
			n = 1
		default:
			plain = b0 & 0x03
			n = 1
		}
		in += n

		if in+plain > len(src) {
			return nil, fmt.Errorf("%w: literal run past end of input", ErrCorrupt)
		}
		dst = append(dst, src[in:in+plain]...)
		in += plain

		if b0 >= 0xFC {
			break
		}
		if copyLen > 0 {
			if offset > len(dst) {
				return nil, fmt.Errorf("%w: back-reference %d exceeds output %d", ErrCorrupt, offset, len(dst))
			}
			// Byte by byte: source and destination may overlap.
			from := len(dst) - offset
			for i := range copyLen {
				dst = append(dst, dst[from+i])
			}
		}
	}
	if len(dst) != size {
		return nil, fmt.Errorf("%w: decoded %d bytes, header declares %d", ErrCorrupt, len(dst), size)
	}
	return dst, nil
}

// Compress encodes src as a RefPack stream.
func Compress(src []byte, opts Options) ([]byte, error) {
	if uint64(len(src)) > MaxSize {
		return nil, fmt.Errorf("qfs: input of %d bytes is too large", len(src))
	}
	prefix := 0
	if opts.SizePrefix {
		prefix = 4
	}
	out := make([]byte, prefix, prefix+len(src)/2+16)
	if len(src) < 1<<24 {
		out = append(out, 0x10, magic, byte(len(src)>>16), byte(len(src)>>8), byte(len(src)))
	} else {
		out = append(out, 0x10|flagLargeSizes, magic,
			byte(len(src)>>24), byte(len(src)>>16), byte(len(src)>>8), byte(len(src)))
	}

	out = newMatcher(src).encode(out)

	if opts.SizePrefix {
		binary.LittleEndian.PutUint32(out, uint32(len(out))) //nolint:gosec // bounded by MaxSize
	}
	return out, nil
}
