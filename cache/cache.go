// Package cache bounds the memory held by open archives.
//
// [Archives] keeps the archives that were read recently in an LRU list.
// Touching an archive moves it to the front; when the bytes held by all
// tracked archives exceed the budget, archives are evicted from the back.
// Eviction drops an archive's loaded buffer and the cached content of its
// entries but never its descriptors, so later reads reload from the file.
//
// Archives opened from memory have no file to reload from. Their bytes are
// spilled into a zstd-compressed [SpillSource] and inflated again on the
// next read.
//
// File handles are bounded separately: with [WithMaxHandles], only the most
// recently read archives keep their file open and older ones are released.
// A released archive reopens its file on the next read.
package cache

import (
	"container/list"
	"errors"
	"log/slog"
	"sync"

	"github.com/meigma/dbpf"
	"github.com/meigma/dbpf/internal/platform"
)

// DefaultFraction is the share of total system memory used as budget when
// none is configured.
const DefaultFraction = 0.5

// Archives is an LRU working set of archives under a memory budget.
//
// It is safe for concurrent use. Install it on archives with
// dbpf.WithAccessHook(c.Touch).
type Archives struct {
	mu      sync.Mutex
	budget  int64
	size    int64
	entries map[*dbpf.Archive]*list.Element
	order   *list.List // front = most recently used

	maxHandles int
	open       map[*dbpf.Archive]*list.Element
	handles    *list.List // archives whose file may be open, front = newest

	spill  *Spiller
	logger *slog.Logger
}

type tracked struct {
	archive *dbpf.Archive
	size    int64
}

// Option configures Archives.
type Option func(*Archives)

// WithBudget sets the memory budget in bytes. Zero or negative disables
// eviction.
func WithBudget(n int64) Option {
	return func(c *Archives) {
		c.budget = n
	}
}

// WithFraction sets the budget to fraction of total system memory.
func WithFraction(fraction float64) Option {
	return func(c *Archives) {
		c.budget = Budget(fraction)
	}
}

// WithMaxHandles bounds the archives that keep their file handle open.
// Zero or negative leaves handles open until [Archives.ReleaseHandles].
func WithMaxHandles(n int) Option {
	return func(c *Archives) {
		c.maxHandles = n
	}
}

// WithSpiller replaces the spiller used for archives without a file.
func WithSpiller(s *Spiller) Option {
	return func(c *Archives) {
		c.spill = s
	}
}

// WithLogger sets the logger for eviction events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Archives) {
		c.logger = logger
	}
}

// Budget returns fraction of total system memory in bytes.
func Budget(fraction float64) int64 {
	if fraction <= 0 {
		return 0
	}
	total := platform.TotalMemory()
	return int64(float64(total) * fraction)
}

// New returns an empty working set. The budget defaults to
// [DefaultFraction] of total system memory.
func New(opts ...Option) *Archives {
	c := &Archives{
		budget:  Budget(DefaultFraction),
		entries: make(map[*dbpf.Archive]*list.Element),
		order:   list.New(),
		open:    make(map[*dbpf.Archive]*list.Element),
		handles: list.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.spill == nil {
		c.spill = NewSpiller()
	}
	return c
}

func (c *Archives) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}

// Budget returns the configured budget in bytes.
func (c *Archives) Budget() int64 { return c.budget }

// Touch records that a was just read and evicts older archives if the
// working set is over budget. The archive being touched is never evicted by
// its own touch.
func (c *Archives) Touch(a *dbpf.Archive) {
	size := a.MemSize()

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[a]; ok {
		t := elem.Value.(*tracked) //nolint:errcheck // type is guaranteed by Touch
		c.size += size - t.size
		t.size = size
		c.order.MoveToFront(elem)
	} else {
		c.entries[a] = c.order.PushFront(&tracked{archive: a, size: size})
		c.size += size
		c.log().Debug("cache miss", "archive", name(a), "bytes", size)
	}

	if c.budget > 0 && c.size > c.budget {
		c.evictLocked(c.budget)
	}
	if a.Path() != "" {
		c.holdLocked(a)
	}
}

// holdLocked records that a may hold an open file and releases the oldest
// handles past the limit.
// Caller must hold c.mu.
func (c *Archives) holdLocked(a *dbpf.Archive) {
	if elem, ok := c.open[a]; ok {
		c.handles.MoveToFront(elem)
	} else {
		c.open[a] = c.handles.PushFront(a)
	}
	for c.maxHandles > 0 && c.handles.Len() > c.maxHandles {
		c.releaseLocked(c.handles.Back()) //nolint:errcheck // logged by releaseLocked
	}
}

// releaseLocked closes the file handle of the archive at elem.
// Caller must hold c.mu.
func (c *Archives) releaseLocked(elem *list.Element) error {
	a := elem.Value.(*dbpf.Archive) //nolint:errcheck // type is guaranteed by holdLocked
	c.handles.Remove(elem)
	delete(c.open, a)
	err := a.Release()
	if err != nil {
		c.log().Warn("release file handle", "archive", name(a), "error", err)
	}
	return err
}

// ReleaseHandles closes the file handles of every archive read since the
// last release. The archives stay usable.
func (c *Archives) ReleaseHandles() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var errs []error
	for c.handles.Len() > 0 {
		if err := c.releaseLocked(c.handles.Back()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Handles returns the number of archives that may hold an open file.
func (c *Archives) Handles() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handles.Len()
}

// Forget stops tracking a without freeing it.
func (c *Archives) Forget(a *dbpf.Archive) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[a]; ok {
		c.removeLocked(elem)
	}
	if elem, ok := c.open[a]; ok {
		c.handles.Remove(elem)
		delete(c.open, a)
	}
}

// Len returns the number of tracked archives.
func (c *Archives) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// SizeBytes returns the bytes held by tracked archives as of their last
// touch.
func (c *Archives) SizeBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Prune evicts least recently used archives until at most target bytes are
// held, skipping archives with reads in flight. It returns the bytes freed
// and the bytes still held.
func (c *Archives) Prune(target int64) (freed, remaining int64) {
	if target < 0 {
		target = 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	before := c.size
	c.evictLocked(target)
	return before - c.size, c.size
}

// evictLocked walks from the back of the list. The front element is only
// evicted when pruning to zero.
// Caller must hold c.mu.
func (c *Archives) evictLocked(target int64) {
	elem := c.order.Back()
	for elem != nil && c.size > target {
		prev := elem.Prev()
		if elem == c.order.Front() && target > 0 {
			break
		}
		t := elem.Value.(*tracked) //nolint:errcheck // type is guaranteed by Touch
		ok, err := t.archive.TryEvict(c.spill.Spill)
		switch {
		case err != nil:
			c.log().Warn("evict archive", "archive", name(t.archive), "error", err)
		case !ok:
			c.log().Debug("archive busy, not evicted", "archive", name(t.archive))
		default:
			c.log().Debug("evicted archive", "archive", name(t.archive), "bytes", t.size)
			c.removeLocked(elem)
		}
		elem = prev
	}
}

// removeLocked removes an element from both the list and map.
// Caller must hold c.mu.
func (c *Archives) removeLocked(elem *list.Element) {
	t := elem.Value.(*tracked) //nolint:errcheck // type is guaranteed by Touch
	c.order.Remove(elem)
	delete(c.entries, t.archive)
	c.size -= t.size
}

func name(a *dbpf.Archive) string {
	if p := a.Path(); p != "" {
		return p
	}
	if src := a.Source(); src != nil {
		return src.SourceID()
	}
	return "memory"
}
