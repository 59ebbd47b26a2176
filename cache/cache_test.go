package cache_test

import (
	"bytes"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/dbpf"
	"github.com/meigma/dbpf/cache"
	"github.com/meigma/dbpf/internal/testutil"
	"github.com/meigma/dbpf/tgi"
)

func archiveBytes(t *testing.T, seed string) []byte {
	t.Helper()
	return testutil.BuildArchive(t, []testutil.Record{
		{TGI: tgi.New(1, 1, 1), Data: bytes.Repeat([]byte(seed), 200), Compress: true},
		{TGI: tgi.New(2, 2, 2), Data: bytes.Repeat([]byte(seed+"plain "), 50)},
	}, testutil.Options{})
}

func openFiles(t *testing.T, c *cache.Archives, n int) []*dbpf.Archive {
	t.Helper()
	dir := t.TempDir()
	files := make(map[string][]byte, n)
	for i := range n {
		files[fmt.Sprintf("%d.dat", i)] = archiveBytes(t, fmt.Sprintf("archive %d ", i))
	}
	testutil.WriteFiles(t, dir, files)

	out := make([]*dbpf.Archive, n)
	for i := range n {
		a, err := dbpf.Open(filepath.Join(dir, fmt.Sprintf("%d.dat", i)), dbpf.WithAccessHook(c.Touch))
		require.NoError(t, err)
		t.Cleanup(func() { a.Close() })
		out[i] = a
	}
	return out
}

func TestEvictionIsTransparent(t *testing.T) {
	t.Parallel()

	c := cache.New(cache.WithBudget(1))
	archives := openFiles(t, c, 3)

	before := make([][]byte, len(archives))
	for i, a := range archives {
		data, err := a.At(0).Decompress()
		require.NoError(t, err)
		before[i] = bytes.Clone(data)
	}

	// Only the most recently read archive keeps its content.
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, dbpf.StateUnread, archives[0].At(0).State())
	assert.Equal(t, dbpf.StateUnread, archives[1].At(0).State())
	assert.Equal(t, dbpf.StateDecoded, archives[2].At(0).State())

	for i, a := range archives {
		data, err := a.At(0).Decompress()
		require.NoError(t, err)
		assert.Equal(t, before[i], data)
	}
}

func TestNoEvictionUnderBudget(t *testing.T) {
	t.Parallel()

	c := cache.New(cache.WithBudget(1 << 30))
	archives := openFiles(t, c, 3)
	for _, a := range archives {
		_, err := a.At(0).Read()
		require.NoError(t, err)
	}
	assert.Equal(t, 3, c.Len())
	assert.Positive(t, c.SizeBytes())
	for _, a := range archives {
		assert.NotEqual(t, dbpf.StateUnread, a.At(0).State())
	}

	c.Forget(archives[0])
	assert.Equal(t, 2, c.Len())
}

func TestPrune(t *testing.T) {
	t.Parallel()

	c := cache.New(cache.WithBudget(0))
	archives := openFiles(t, c, 2)
	for _, a := range archives {
		_, err := a.At(0).Decompress()
		require.NoError(t, err)
	}
	held := c.SizeBytes()
	require.Positive(t, held)

	freed, remaining := c.Prune(0)
	assert.Equal(t, held, freed)
	assert.Zero(t, remaining)
	assert.Zero(t, c.Len())
	for _, a := range archives {
		assert.Equal(t, dbpf.StateUnread, a.At(0).State())
	}
}

func TestInMemoryArchivesAreSpilled(t *testing.T) {
	t.Parallel()

	c := cache.New(cache.WithBudget(0))
	raw := archiveBytes(t, "memory ")
	a, err := dbpf.FromBytes(raw, dbpf.WithAccessHook(c.Touch))
	require.NoError(t, err)

	want, err := a.At(0).Decompress()
	require.NoError(t, err)
	want = bytes.Clone(want)

	c.Prune(0)
	spilled, ok := a.Source().(*cache.SpillSource)
	require.True(t, ok, "source is %T", a.Source())
	assert.Less(t, spilled.Packed(), len(raw))
	assert.False(t, spilled.Inflated())
	assert.Equal(t, int64(len(raw)), spilled.Size())

	got, err := a.At(0).Decompress()
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.True(t, spilled.Inflated())

	// A second eviction keeps the same spill and drops the inflated copy.
	c.Prune(0)
	assert.Same(t, spilled, a.Source())
	assert.False(t, spilled.Inflated())

	out, err := a.ToBytes()
	require.NoError(t, err)
	assert.Equal(t, raw, out)
}

func TestSpillerRoundTrip(t *testing.T) {
	t.Parallel()

	s := cache.NewSpiller()
	data := bytes.Repeat([]byte("spill me "), 1000)
	src, err := s.Spill(dbpf.NewBytesSource(data))
	require.NoError(t, err)

	again, err := s.Spill(src)
	require.NoError(t, err)
	assert.Same(t, src, again)

	buf := make([]byte, 9)
	n, err := src.ReadAt(buf, 9*999)
	require.NoError(t, err)
	assert.Equal(t, 9, n)
	assert.Equal(t, "spill me ", string(buf))

	_, err = src.ReadAt(buf, int64(len(data))-3)
	require.Error(t, err)
}

func TestBudget(t *testing.T) {
	t.Parallel()

	assert.Zero(t, cache.Budget(0))
	assert.Positive(t, cache.Budget(cache.DefaultFraction))
	assert.Equal(t, cache.Budget(cache.DefaultFraction), cache.New().Budget())
	assert.Equal(t, int64(42), cache.New(cache.WithBudget(42)).Budget())
}

func TestHandleLimit(t *testing.T) {
	t.Parallel()

	c := cache.New(cache.WithBudget(0), cache.WithMaxHandles(2))
	archives := openFiles(t, c, 5)
	for _, a := range archives {
		require.NoError(t, a.Release())
	}

	for _, a := range archives {
		_, err := a.At(0).Decompress()
		require.NoError(t, err)
	}
	assert.Equal(t, 2, c.Handles())
	for i, a := range archives {
		held := a.Source().(*dbpf.FileSource).Held()
		assert.Equal(t, i >= 3, held, "archive %d", i)
	}

	require.NoError(t, c.ReleaseHandles())
	assert.Zero(t, c.Handles())
	for _, a := range archives {
		assert.False(t, a.Source().(*dbpf.FileSource).Held())
	}

	data, err := archives[0].At(1).Decompress()
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte("archive 0 plain "), 50), data)
}
