package dbpf

import (
	"log/slog"

	"github.com/meigma/dbpf/qfs"
)

// Option configures an Archive.
type Option func(*Archive)

// WithRegistry sets the record types used by Entry.Read.
// Without a registry every entry reads as opaque bytes.
func WithRegistry(r *Registry) Option {
	return func(a *Archive) {
		a.reg = r
	}
}

// WithCompressor replaces the RefPack codec used for compressed entries.
func WithCompressor(c Compressor) Option {
	return func(a *Archive) {
		a.comp = c
	}
}

// WithLogger sets the logger for archive operations.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Archive) {
		a.logger = logger
	}
}

// WithPreload reads the whole archive into memory on open.
func WithPreload(enabled bool) Option {
	return func(a *Archive) {
		a.preload = enabled
	}
}

// WithAccessHook registers fn to run after every entry access. Eviction
// caches use it to track recency. fn must not block.
func WithAccessHook(fn func(*Archive)) Option {
	return func(a *Archive) {
		a.onAccess = fn
	}
}

// Compressor converts entry payloads to and from their stored form.
type Compressor interface {
	// Compress returns the stored form of data, size prefix included.
	Compress(data []byte) ([]byte, error)

	// Decompress decodes a stored payload whose size prefix was removed.
	Decompress(src []byte) ([]byte, error)
}

// RefPack is the default Compressor.
type RefPack struct{}

// Compress implements Compressor.
func (RefPack) Compress(data []byte) ([]byte, error) {
	return qfs.Compress(data, qfs.Options{SizePrefix: true})
}

// Decompress implements Compressor.
func (RefPack) Decompress(src []byte) ([]byte, error) {
	return qfs.Decompress(src)
}
