package dbpf

import (
	"errors"
	"fmt"

	"github.com/meigma/dbpf/tgi"
)

var (
	// ErrNotAnArchive is returned when the header magic is not "DBPF".
	ErrNotAnArchive = errors.New("dbpf: not an archive")

	// ErrTruncated is returned when the header or directory extends past the
	// end of the source.
	ErrTruncated = errors.New("dbpf: truncated header or directory")

	// ErrMalformedRecord is returned when a registered codec cannot decode or
	// encode a record.
	ErrMalformedRecord = errors.New("dbpf: malformed record")

	// ErrSizeMismatch marks a record that consumed a different number of
	// bytes than it declared. It is reported through [Entry.Diagnostics],
	// never returned from a read.
	ErrSizeMismatch = errors.New("dbpf: size mismatch")

	// ErrNoSource is returned when an entry has neither cached content nor a
	// byte source to read it from.
	ErrNoSource = errors.New("dbpf: no source")

	// ErrSizeOverflow is returned when an archive grows past the 4 GiB
	// addressable by its uint32 offsets.
	ErrSizeOverflow = errors.New("dbpf: size overflow")

	// ErrDuplicateType is returned when a type id is registered twice.
	ErrDuplicateType = errors.New("dbpf: duplicate record type")
)

// RecordError reports a failure to decode one record of an array entry.
type RecordError struct {
	TGI    tgi.TGI
	Index  int
	Offset int
	Err    error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("dbpf: %s record %d at offset %d: %v", e.TGI, e.Index, e.Offset, e.Err)
}

// Unwrap returns ErrMalformedRecord and the underlying error.
func (e *RecordError) Unwrap() []error {
	return []error{ErrMalformedRecord, e.Err}
}

// Diagnostic describes a tolerated size mismatch.
//
// Record is the position inside an array entry, or -1 when the mismatch
// concerns the whole entry.
type Diagnostic struct {
	TGI      tgi.TGI
	Record   int
	Declared int
	Consumed int
}

func (d Diagnostic) Error() string {
	if d.Record < 0 {
		return fmt.Sprintf("dbpf: %s declares %d bytes, got %d", d.TGI, d.Declared, d.Consumed)
	}
	return fmt.Sprintf("dbpf: %s record %d declares %d bytes, consumed %d", d.TGI, d.Record, d.Declared, d.Consumed)
}

// Unwrap returns ErrSizeMismatch.
func (d Diagnostic) Unwrap() error { return ErrSizeMismatch }
