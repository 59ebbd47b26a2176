package index

import (
	"errors"
	"iter"
	"log/slog"
	"slices"
	"sort"
	"sync/atomic"

	"github.com/meigma/dbpf"
	"github.com/meigma/dbpf/cache"
	"github.com/meigma/dbpf/tgi"
)

// Handle addresses one entry: the position of its archive in load order
// and the position of the entry inside that archive.
type Handle struct {
	Archive int32
	Entry   int32
}

type record struct {
	id tgi.TGI
	h  Handle
}

// Index is a TGI-sorted view over many archives.
//
// An Index is read-only after Build and safe for concurrent use.
type Index struct {
	archives  []*dbpf.Archive
	records   []record // sorted by TGI, ties in load order
	exemplars []Handle // load order
	families  map[uint32][]Handle
	failures  []*ScanError

	cache   *cache.Archives
	workers int
	maxOpen int64
	logger  *slog.Logger
	closed  atomic.Bool
}

func (ix *Index) log() *slog.Logger {
	if ix.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return ix.logger
}

// Len returns the number of indexed entries, overridden ones included.
func (ix *Index) Len() int { return len(ix.records) }

// Archives returns the indexed archives in load order.
func (ix *Index) Archives() []*dbpf.Archive { return slices.Clone(ix.archives) }

// Archive returns the archive holding h.
func (ix *Index) Archive(h Handle) *dbpf.Archive { return ix.archives[h.Archive] }

// Entry returns the entry addressed by h.
func (ix *Index) Entry(h Handle) *dbpf.Entry {
	return ix.archives[h.Archive].At(int(h.Entry))
}

// TGI returns the TGI of the entry addressed by h.
func (ix *Index) TGI(h Handle) tgi.TGI { return ix.Entry(h).TGI }

// Find returns the entry with TGI id. When several archives declare id, the
// one loaded last wins.
func (ix *Index) Find(id tgi.TGI) (Handle, bool) {
	i := sort.Search(len(ix.records), func(i int) bool {
		return ix.records[i].id.Compare(id) > 0
	})
	if i == 0 || ix.records[i-1].id != id {
		return Handle{}, false
	}
	return ix.records[i-1].h, true
}

// FindAll returns every entry with the given type and instance in any
// group, ordered by group and then load order.
func (ix *Index) FindAll(typ, instance uint32) []Handle {
	i := sort.Search(len(ix.records), func(i int) bool {
		return tgi.ComparePrefix(ix.records[i].id, typ, instance) >= 0
	})
	var out []Handle
	for ; i < len(ix.records); i++ {
		if tgi.ComparePrefix(ix.records[i].id, typ, instance) != 0 {
			break
		}
		out = append(out, ix.records[i].h)
	}
	return out
}

// All yields every indexed entry in TGI order.
func (ix *Index) All() iter.Seq2[tgi.TGI, Handle] {
	return func(yield func(tgi.TGI, Handle) bool) {
		for _, r := range ix.records {
			if !yield(r.id, r.h) {
				return
			}
		}
	}
}

// Exemplars returns the exemplar and cohort entries in load order.
func (ix *Index) Exemplars() []Handle { return slices.Clone(ix.exemplars) }

// Family returns the exemplars that declare family id, in load order, or
// nil.
func (ix *Index) Family(id uint32) []Handle {
	return slices.Clone(ix.families[id])
}

// Families yields every family id with its members.
func (ix *Index) Families() iter.Seq2[uint32, []Handle] {
	return func(yield func(uint32, []Handle) bool) {
		for id, members := range ix.families {
			if !yield(id, slices.Clone(members)) {
				return
			}
		}
	}
}

// Failures returns the files that could not be indexed, and the archives
// whose exemplars could not be read while building families.
func (ix *Index) Failures() []*ScanError { return slices.Clone(ix.failures) }

// Touch marks the archive holding h as recently used.
func (ix *Index) Touch(h Handle) {
	ix.cache.Touch(ix.archives[h.Archive])
}

// Cache returns the working set bounding archive memory.
func (ix *Index) Cache() *cache.Archives { return ix.cache }

// Close closes every archive. Entries that were not read can no longer be.
func (ix *Index) Close() error {
	if ix.closed.Swap(true) {
		return nil
	}
	var errs []error
	for _, a := range ix.archives {
		ix.cache.Forget(a)
		if err := a.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
