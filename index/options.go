package index

import (
	"log/slog"
	"runtime"

	"github.com/meigma/dbpf"
	"github.com/meigma/dbpf/cache"
)

const (
	// DefaultMaxOpenFiles bounds the file handles held while scanning.
	DefaultMaxOpenFiles = 256

	// DefaultMemoryFraction is the share of system memory archives may
	// keep cached.
	DefaultMemoryFraction = cache.DefaultFraction
)

// DefaultExtensions are the file extensions scanned in directories.
var DefaultExtensions = []string{".dat", ".sc4lot", ".sc4desc", ".sc4model", ".sc4"}

// Option configures Build.
type Option func(*config)

type config struct {
	workers    int
	maxOpen    int64
	extensions []string
	budget     int64
	budgetSet  bool
	fraction   float64
	reg        *dbpf.Registry
	logger     *slog.Logger
	archive    []dbpf.Option
}

func defaults() config {
	return config{
		workers:    runtime.GOMAXPROCS(0),
		maxOpen:    DefaultMaxOpenFiles,
		extensions: DefaultExtensions,
		fraction:   DefaultMemoryFraction,
	}
}

// WithWorkers sets how many archives are opened concurrently. Values below
// one select GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(c *config) {
		if n < 1 {
			n = runtime.GOMAXPROCS(0)
		}
		c.workers = n
	}
}

// WithMaxOpenFiles bounds the number of file handles held at once while
// scanning and hashing, and the number of archives that keep their file
// open between reads.
func WithMaxOpenFiles(n int) Option {
	return func(c *config) {
		if n < 1 {
			n = DefaultMaxOpenFiles
		}
		c.maxOpen = int64(n)
	}
}

// WithExtensions replaces the extensions matched when walking directories.
// Matching is case-insensitive; the leading dot is optional.
func WithExtensions(exts ...string) Option {
	return func(c *config) {
		c.extensions = normalizeExtensions(exts)
	}
}

// WithMemoryBudget sets the bytes archives may keep cached. Zero disables
// eviction.
func WithMemoryBudget(n int64) Option {
	return func(c *config) {
		c.budget = n
		c.budgetSet = true
	}
}

// WithMemoryFraction sets the cache budget as a fraction of total system
// memory. It is ignored when WithMemoryBudget is also given.
func WithMemoryFraction(f float64) Option {
	return func(c *config) {
		c.fraction = f
	}
}

// WithRegistry sets the record registry of every opened archive. The
// default registry knows exemplars and cohorts.
func WithRegistry(reg *dbpf.Registry) Option {
	return func(c *config) {
		c.reg = reg
	}
}

// WithLogger sets the logger of the index, its cache and its archives.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithArchiveOptions adds options applied to every opened archive.
func WithArchiveOptions(opts ...dbpf.Option) Option {
	return func(c *config) {
		c.archive = append(c.archive, opts...)
	}
}
