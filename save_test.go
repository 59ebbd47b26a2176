package dbpf_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/dbpf"
	"github.com/meigma/dbpf/exemplar"
	"github.com/meigma/dbpf/internal/testutil"
	"github.com/meigma/dbpf/tgi"
)

const typeOccupant = 0x12340000

type occupant struct {
	X, Y uint32
}

type occupantCodec struct{}

func (occupantCodec) Decode(b []byte) (any, error) {
	if len(b) != 12 {
		return nil, errors.New("occupant: want 12 bytes")
	}
	le := binary.LittleEndian
	return &occupant{X: le.Uint32(b[4:]), Y: le.Uint32(b[8:])}, nil
}

func (occupantCodec) Encode(v any) ([]byte, error) {
	o, ok := v.(*occupant)
	if !ok {
		return nil, errors.New("occupant: wrong type")
	}
	le := binary.LittleEndian
	b := le.AppendUint32(nil, 12)
	b = le.AppendUint32(b, o.X)
	return le.AppendUint32(b, o.Y), nil
}

func registry(t *testing.T) *dbpf.Registry {
	t.Helper()
	reg := dbpf.NewRegistry()
	require.NoError(t, exemplar.Register(reg))
	require.NoError(t, reg.Register(dbpf.RecordType{
		ID: typeOccupant, Name: "Occupant", Kind: dbpf.KindArray, Codec: occupantCodec{},
	}))
	return reg
}

var (
	exemplarID = tgi.New(dbpf.TypeExemplar, 0x4000, 0x1)
	occupantID = tgi.New(typeOccupant, 0x4000, 0x2)
)

// scenario builds a compressed exemplar and an uncompressed three-record
// occupant array.
func scenario(t *testing.T, minor uint32) []byte {
	t.Helper()

	x := exemplar.New(tgi.New(dbpf.TypeCohort, 0x1, 0x2), false)
	x.Set(exemplar.Property{ID: 0x10, Type: exemplar.Uint32, Value: uint32(42)})
	x.Set(exemplar.Property{ID: exemplar.PropertyFamily, Type: exemplar.Uint32, Repeated: true, Value: []uint32{0xF00D}})
	x.Set(exemplar.Property{ID: 0x20, Type: exemplar.String, Value: "Small Park Small Park Small Park"})
	xb, err := x.MarshalBinary()
	require.NoError(t, err)

	var occ []byte
	for i := range uint32(3) {
		b, err := occupantCodec{}.Encode(&occupant{X: i, Y: i * 10})
		require.NoError(t, err)
		occ = append(occ, b...)
	}

	return testutil.BuildArchive(t, []testutil.Record{
		{TGI: exemplarID, Data: xb, Compress: true},
		{TGI: occupantID, Data: occ},
	}, testutil.Options{IndexMinor: minor, Created: 1000, Modified: 2000})
}

func TestScenarioRoundTrip(t *testing.T) {
	t.Parallel()

	for _, minor := range []uint32{0, 1} {
		raw := scenario(t, minor)
		a, err := dbpf.FromBytes(raw, dbpf.WithRegistry(registry(t)))
		require.NoError(t, err)

		require.Equal(t, 2, a.Len())
		assert.True(t, a.At(0).Compressed)
		assert.False(t, a.At(1).Compressed)
		assert.Equal(t, dbpf.KindArray, a.At(1).Kind())

		untouched, err := a.ToBytes()
		require.NoError(t, err)
		assert.Equal(t, raw, untouched, "untouched archive must round trip byte for byte")

		v, err := a.At(0).Read()
		require.NoError(t, err)
		x, ok := v.(*exemplar.Exemplar)
		require.True(t, ok)
		assert.Equal(t, []uint32{0xF00D}, x.Uint32s(exemplar.PropertyFamily))

		v, err = a.At(1).Read()
		require.NoError(t, err)
		records, ok := v.([]any)
		require.True(t, ok)
		require.Len(t, records, 3)
		assert.Equal(t, &occupant{X: 2, Y: 20}, records[2])

		read, err := a.ToBytes()
		require.NoError(t, err)
		assert.Equal(t, raw, read, "parsed entries re-encode to the same bytes")
	}
}

func TestModifiedEntryIsReencoded(t *testing.T) {
	t.Parallel()

	reg := registry(t)
	a, err := dbpf.FromBytes(scenario(t, 0), dbpf.WithRegistry(reg))
	require.NoError(t, err)

	v, err := a.At(0).Read()
	require.NoError(t, err)
	x := v.(*exemplar.Exemplar)
	x.Set(exemplar.Property{ID: 0x10, Type: exemplar.Uint32, Value: uint32(43)})
	a.At(0).Touch()
	assert.True(t, a.At(0).Dirty())

	out, err := a.ToBytes()
	require.NoError(t, err)

	b, err := dbpf.FromBytes(out, dbpf.WithRegistry(reg))
	require.NoError(t, err)
	require.Equal(t, 2, b.Len())
	assert.True(t, b.At(0).Compressed, "DIR is regenerated")

	v, err = b.At(0).Read()
	require.NoError(t, err)
	got, ok := v.(*exemplar.Exemplar).Value(0x10)
	require.True(t, ok)
	assert.Equal(t, uint32(43), got)

	want, err := x.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, uint32(len(want)), b.At(0).FileSize)
}

func TestDirectoryRoundTrip(t *testing.T) {
	t.Parallel()

	a, err := dbpf.FromBytes(scenario(t, 1))
	require.NoError(t, err)
	out, err := a.ToBytes()
	require.NoError(t, err)
	b, err := dbpf.FromBytes(out)
	require.NoError(t, err)

	require.Equal(t, a.Len(), b.Len())
	for i := range a.Len() {
		assert.Equal(t, a.At(i).TGI, b.At(i).TGI)
		assert.Equal(t, a.At(i).Compressed, b.At(i).Compressed)
		assert.Equal(t, a.At(i).FileSize, b.At(i).FileSize)
		assert.Equal(t, a.At(i).CompressedSize, b.At(i).CompressedSize)
	}
	assert.Equal(t, a.Header().IndexMinor, b.Header().IndexMinor)
	assert.Equal(t, uint32(1000), b.Header().Created)
}

func TestAddAndSave(t *testing.T) {
	t.Parallel()

	reg := registry(t)
	a := dbpf.New(dbpf.WithRegistry(reg))
	x := exemplar.New(tgi.TGI{}, true)
	x.Set(exemplar.Property{ID: 0x99, Type: exemplar.Bool, Value: true})
	a.Add(tgi.New(dbpf.TypeCohort, 1, 1), x, dbpf.AddOptions{Compressed: true})
	a.AddRaw(tgi.New(0x55, 0, 0), []byte("opaque bytes"), dbpf.AddOptions{})
	a.Add(occupantID, []any{&occupant{X: 1, Y: 2}}, dbpf.AddOptions{})

	path := filepath.Join(t.TempDir(), "nested", "new.dat")
	require.NoError(t, a.Save(path))
	assert.Empty(t, a.Path(), "saving a new archive does not bind it")
	assert.NotZero(t, a.Header().Modified)

	b, err := dbpf.Open(path, dbpf.WithRegistry(reg))
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	require.Equal(t, 3, b.Len())
	assert.True(t, b.At(0).Compressed)

	v, err := b.At(0).Read()
	require.NoError(t, err)
	assert.True(t, v.(*exemplar.Exemplar).IsCohort())

	data, err := b.At(1).Decompress()
	require.NoError(t, err)
	assert.Equal(t, "opaque bytes", string(data))

	v, err = b.At(2).Read()
	require.NoError(t, err)
	assert.Equal(t, []any{&occupant{X: 1, Y: 2}}, v)
}

func TestSaveOverOwnFileRebinds(t *testing.T) {
	t.Parallel()

	reg := registry(t)
	dir := t.TempDir()
	testutil.WriteFiles(t, dir, map[string][]byte{"city.dat": scenario(t, 0)})
	path := filepath.Join(dir, "city.dat")

	a, err := dbpf.Open(path, dbpf.WithRegistry(reg))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	v, err := a.At(1).Read()
	require.NoError(t, err)
	records := v.([]any)
	records[0].(*occupant).X = 77
	a.At(1).Touch()
	added := a.AddRaw(tgi.New(0x55, 0, 0), bytes.Repeat([]byte("z"), 100), dbpf.AddOptions{Compressed: true})

	require.NoError(t, a.Save(path))
	assert.False(t, a.At(1).Dirty())
	assert.Equal(t, path, a.Path())

	// Freed entries come back from the new file.
	a.Free()
	v, err = a.At(1).Read()
	require.NoError(t, err)
	assert.Equal(t, uint32(77), v.([]any)[0].(*occupant).X)
	data, err := added.Decompress()
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte("z"), 100), data)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files are left behind")
}

func TestDecompressAfterSaveOverOwnFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	testutil.WriteFiles(t, dir, map[string][]byte{"city.dat": scenario(t, 0)})
	path := filepath.Join(dir, "city.dat")

	a, err := dbpf.Open(path, dbpf.WithRegistry(registry(t)))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	v, err := a.At(1).Read()
	require.NoError(t, err)
	v.([]any)[0].(*occupant).X = 77
	a.At(1).Touch()
	require.NoError(t, a.Save(path))

	data, err := a.At(1).Decompress()
	require.NoError(t, err)
	assert.Equal(t, uint32(77), binary.LittleEndian.Uint32(data[4:]))

	saved, err := os.ReadFile(path)
	require.NoError(t, err)
	b, err := dbpf.FromBytes(saved, dbpf.WithRegistry(registry(t)))
	require.NoError(t, err)
	want, err := b.At(1).Decompress()
	require.NoError(t, err)
	assert.Equal(t, want, data)
}

func TestDecompressSeesInPlaceChanges(t *testing.T) {
	t.Parallel()

	a, err := dbpf.FromBytes(scenario(t, 0), dbpf.WithRegistry(registry(t)))
	require.NoError(t, err)

	v, err := a.At(1).Read()
	require.NoError(t, err)
	v.([]any)[0].(*occupant).X = 77

	data, err := a.At(1).Decompress()
	require.NoError(t, err)
	assert.Equal(t, uint32(77), binary.LittleEndian.Uint32(data[4:]))
	viaCtx, err := a.At(1).DecompressContext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, data, viaCtx)

	found, err := a.MemSearch(77)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Same(t, a.At(1), found[0])
}

func TestSaveFailsForUnencodableRecord(t *testing.T) {
	t.Parallel()

	a := dbpf.New(dbpf.WithRegistry(registry(t)))
	a.Add(exemplarID, "not an exemplar", dbpf.AddOptions{})
	_, err := a.ToBytes()
	require.ErrorIs(t, err, dbpf.ErrMalformedRecord)

	dir := t.TempDir()
	require.Error(t, a.Save(filepath.Join(dir, "bad.dat")))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
