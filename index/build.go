package index

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/meigma/dbpf"
	"github.com/meigma/dbpf/cache"
	"github.com/meigma/dbpf/exemplar"
	"github.com/meigma/dbpf/tgi"
)

// slot is what one worker produces for one candidate file.
type slot struct {
	archive *dbpf.Archive
	err     error
}

// Build scans roots and returns the index over every archive found.
//
// Roots are files or directories; directories are walked recursively and
// filtered by extension. Each root is sorted in load order on its own and
// the roots are loaded in the order given, so pass the installation folder
// before the plugins folder. Files that are not archives are skipped;
// files that fail to open are reported by [Index.Failures]. Build only
// fails when ctx is done or a root cannot be read.
func Build(ctx context.Context, roots []string, opts ...Option) (*Index, error) {
	cfg := defaults()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.reg == nil {
		cfg.reg = dbpf.NewRegistry()
		if err := exemplar.Register(cfg.reg); err != nil {
			return nil, err
		}
	}
	budget := cfg.budget
	if !cfg.budgetSet {
		budget = cache.Budget(cfg.fraction)
	}

	working := cache.New(
		cache.WithBudget(budget),
		cache.WithMaxHandles(int(cfg.maxOpen)),
		cache.WithLogger(cfg.logger),
	)
	ix := &Index{
		families: make(map[uint32][]Handle),
		cache:    working,
		workers:  cfg.workers,
		maxOpen:  cfg.maxOpen,
		logger:   cfg.logger,
	}
	start := time.Now()

	var files []string
	for _, root := range roots {
		found, err := collect(root, cfg.extensions)
		if err != nil {
			return nil, fmt.Errorf("index: scan %s: %w", root, err)
		}
		files = append(files, found...)
	}
	ix.log().Info("scanning archives", "roots", len(roots), "files", len(files), "workers", cfg.workers)

	slots, err := ix.open(ctx, files, cfg)
	if err != nil {
		return nil, err
	}

	for i, s := range slots {
		switch {
		case s.err != nil:
			ix.log().Warn("unreadable archive", "path", files[i], "error", s.err)
			ix.failures = append(ix.failures, &ScanError{Path: files[i], Err: s.err})
		case s.archive != nil:
			ix.add(s.archive)
		}
	}
	slices.SortStableFunc(ix.records, func(a, b record) int {
		return tgi.Compare(a.id, b.id)
	})
	ix.buildFamilies()
	if err := ix.cache.ReleaseHandles(); err != nil {
		ix.log().Debug("release file handles", "error", err)
	}

	ix.log().Info("index built",
		"archives", len(ix.archives),
		"entries", len(ix.records),
		"exemplars", len(ix.exemplars),
		"families", len(ix.families),
		"failures", len(ix.failures),
		"elapsed", time.Since(start))
	return ix, nil
}

// open opens files concurrently. Each worker fills its own slot, so the
// result keeps load order without locking.
func (ix *Index) open(ctx context.Context, files []string, cfg config) ([]slot, error) {
	archiveOpts := []dbpf.Option{
		dbpf.WithRegistry(cfg.reg),
		dbpf.WithLogger(cfg.logger),
		dbpf.WithAccessHook(ix.cache.Touch),
	}
	archiveOpts = append(archiveOpts, cfg.archive...)

	slots := make([]slot, len(files))
	handles := semaphore.NewWeighted(cfg.maxOpen)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.workers)
	for i, path := range files {
		g.Go(func() error {
			if err := handles.Acquire(gctx, 1); err != nil {
				return err
			}
			defer handles.Release(1)

			a, err := dbpf.Open(path, archiveOpts...)
			switch {
			case errors.Is(err, dbpf.ErrNotAnArchive):
				ix.log().Debug("skipping non-archive", "path", path)
			case err != nil:
				slots[i].err = err
			default:
				if err := a.Release(); err != nil {
					ix.log().Debug("release file handle", "path", path, "error", err)
				}
				slots[i].archive = a
				ix.log().Debug("scanned archive", "path", path, "entries", a.Len())
			}
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		for _, s := range slots {
			if s.archive != nil {
				s.archive.Close()
			}
		}
		return nil, err
	}
	return slots, nil
}

// add appends the entries of a, the next archive in load order.
func (ix *Index) add(a *dbpf.Archive) {
	ai := int32(len(ix.archives)) //nolint:gosec // archive counts fit in int32
	ix.archives = append(ix.archives, a)
	for i, e := range a.Entries() {
		h := Handle{Archive: ai, Entry: int32(i)} //nolint:gosec // entry counts come from a uint32 field
		ix.records = append(ix.records, record{id: e.TGI, h: h})
		if dbpf.IsExemplar(e.TGI.Type) {
			ix.exemplars = append(ix.exemplars, h)
		}
	}
}
