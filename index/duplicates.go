package index

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Duplicate is a set of archives with identical content.
type Duplicate struct {
	Digest digest.Digest
	Paths  []string // load order
}

// Duplicates hashes every indexed archive and returns the groups of files
// whose bytes are identical. Groups are ordered by the load position of
// their first file.
func (ix *Index) Duplicates(ctx context.Context) ([]Duplicate, error) {
	if ix.closed.Load() {
		return nil, ErrClosed
	}
	digests := make([]digest.Digest, len(ix.archives))
	handles := semaphore.NewWeighted(ix.maxOpen)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.workers)
	for i, a := range ix.archives {
		g.Go(func() error {
			if err := handles.Acquire(gctx, 1); err != nil {
				return err
			}
			defer handles.Release(1)

			src := a.Source()
			if src == nil {
				return nil
			}
			d, err := digest.Canonical.FromReader(io.NewSectionReader(src, 0, src.Size()))
			if err != nil {
				return fmt.Errorf("index: hash %s: %w", a.Path(), err)
			}
			if err := a.Release(); err != nil {
				ix.log().Debug("release file handle", "path", a.Path(), "error", err)
			}
			digests[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	groups := make(map[digest.Digest]int)
	var out []Duplicate
	for i, d := range digests {
		if d == "" {
			continue
		}
		j, ok := groups[d]
		if !ok {
			groups[d] = len(out)
			out = append(out, Duplicate{Digest: d})
			j = len(out) - 1
		}
		out[j].Paths = append(out[j].Paths, ix.archives[i].Path())
	}
	return slices.DeleteFunc(out, func(d Duplicate) bool { return len(d.Paths) < 2 }), nil
}
