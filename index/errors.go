package index

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by operations on a closed index.
var ErrClosed = errors.New("index: closed")

// ScanError records a candidate file that could not be indexed. Files that
// are not archives at all are skipped without an error.
type ScanError struct {
	Path string
	Err  error
}

func (e *ScanError) Error() string {
	return fmt.Sprintf("index: %s: %v", e.Path, e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }
