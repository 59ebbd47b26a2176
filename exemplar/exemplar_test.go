package exemplar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/dbpf"
	"github.com/meigma/dbpf/stream"
	"github.com/meigma/dbpf/tgi"
)

func sample() *Exemplar {
	x := New(tgi.New(dbpf.TypeCohort, 0x1, 0x2), false)
	x.Set(Property{ID: 0x10, Type: Uint32, Value: uint32(0x1234)})
	x.Set(Property{ID: PropertyFamily, Type: Uint32, Repeated: true, Value: []uint32{0xAAAA, 0xBBBB}})
	x.Set(Property{ID: 0x20, Type: String, Value: "Park"})
	x.Set(Property{ID: 0x30, Type: Float32, Repeated: true, Value: []float32{1.5, -2}})
	x.Set(Property{ID: 0x40, Type: Bool, Value: true})
	x.Set(Property{ID: 0x50, Type: Sint64, Value: int64(-9)})
	x.Set(Property{ID: 0x60, Type: Uint8, Repeated: true, Value: []uint8{1, 2, 3}})
	x.Set(Property{ID: 0x70, Type: Sint32, Value: int32(-1)})
	x.Set(Property{ID: 0x80, Type: Uint16, Value: uint16(7)})
	return x
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	raw, err := sample().MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, "EQZB1###", string(raw[:8]))

	got, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, tgi.New(dbpf.TypeCohort, 1, 2), got.Parent)
	assert.Len(t, got.Properties, 9)

	again, err := got.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, raw, again)

	v, ok := got.Value(0x20)
	require.True(t, ok)
	assert.Equal(t, "Park", v)
	assert.Equal(t, []uint32{0xAAAA, 0xBBBB}, got.Uint32s(PropertyFamily))
	assert.Equal(t, []uint32{1, 2, 3}, got.Uint32s(0x60))
	assert.Nil(t, got.Uint32s(0x999))
}

func TestPropertyLayout(t *testing.T) {
	t.Parallel()

	x := New(tgi.TGI{}, true)
	x.Set(Property{ID: 0x01020304, Type: Uint32, Value: uint32(5)})
	raw, err := x.MarshalBinary()
	require.NoError(t, err)

	r := stream.NewReader(raw)
	assert.Equal(t, "CQZB1###", r.String(8))
	assert.Equal(t, tgi.TGI{}, r.TGI())
	assert.Equal(t, uint32(1), r.Uint32())
	assert.Equal(t, uint32(0x01020304), r.Uint32())
	assert.Equal(t, uint16(Uint32), r.Uint16())
	assert.Equal(t, uint16(0), r.Uint16())
	assert.Equal(t, uint8(0), r.Uint8())
	assert.Equal(t, uint32(5), r.Uint32())
	assert.Zero(t, r.Remaining())
}

func TestDecodeToleratesOverstatedCount(t *testing.T) {
	t.Parallel()

	x := New(tgi.TGI{}, false)
	x.Set(Property{ID: 1, Type: Uint8, Value: uint8(9)})
	raw, err := x.MarshalBinary()
	require.NoError(t, err)
	raw[20] = 5 // count

	got, err := Decode(raw)
	require.NoError(t, err)
	assert.Len(t, got.Properties, 1)
}

func TestDecodeErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []byte
	}{
		{"short", []byte("EQZ")},
		{"signature", []byte("ABCDEFGH")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Decode(tt.in)
			require.ErrorIs(t, err, ErrSignature)
		})
	}

	x := New(tgi.TGI{}, false)
	x.Set(Property{ID: 1, Type: Uint32, Repeated: true, Value: []uint32{1}})
	raw, err := x.MarshalBinary()
	require.NoError(t, err)
	raw[len(raw)-8] = 0xFF // repetition count far past the end
	_, err = Decode(raw)
	require.Error(t, err)
}

func TestEncodeTypeMismatch(t *testing.T) {
	t.Parallel()

	x := New(tgi.TGI{}, false)
	x.Set(Property{ID: 1, Type: Uint32, Value: "nope"})
	_, err := x.MarshalBinary()
	require.Error(t, err)

	x = New(tgi.TGI{}, false)
	x.Set(Property{ID: 1, Type: Uint16, Repeated: true, Value: []uint32{1}})
	_, err = x.MarshalBinary()
	require.Error(t, err)
}

func TestTextExemplar(t *testing.T) {
	t.Parallel()

	text := "EQZT1###\nParentCohort=Key:{0x05342861,0x12345678,0x00000abc}\nPropCount=0x00000001\n" +
		"0x27812870:{\"Family\"}=Uint32:0:{0x00001000}\n"
	x, err := Decode([]byte(text))
	require.NoError(t, err)
	assert.True(t, x.IsText())
	assert.Empty(t, x.Properties)
	assert.Equal(t, tgi.New(0x05342861, 0x12345678, 0xabc), x.Parent)

	out, err := x.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, text, string(out))

	assert.True(t, MayHaveFamily([]byte(text)))
	p, ok := ParentOf([]byte(text))
	assert.True(t, ok)
	assert.Equal(t, x.Parent, p)
}

func TestMayHaveFamilyAndParentOf(t *testing.T) {
	t.Parallel()

	with := sample()
	raw, err := with.MarshalBinary()
	require.NoError(t, err)
	assert.True(t, MayHaveFamily(raw))
	p, ok := ParentOf(raw)
	assert.True(t, ok)
	assert.Equal(t, with.Parent, p)

	without := New(tgi.TGI{}, false)
	without.Set(Property{ID: 1, Type: Uint32, Value: uint32(1)})
	raw, err = without.MarshalBinary()
	require.NoError(t, err)
	assert.False(t, MayHaveFamily(raw))
	_, ok = ParentOf(raw)
	assert.False(t, ok)
}

func TestSetDelete(t *testing.T) {
	t.Parallel()

	x := sample()
	x.Set(Property{ID: 0x10, Type: Uint32, Value: uint32(1)})
	v, _ := x.Value(0x10)
	assert.Equal(t, uint32(1), v)
	assert.True(t, x.Delete(0x10))
	assert.False(t, x.Delete(0x10))
	_, ok := x.Get(0x10)
	assert.False(t, ok)
}

func TestRegister(t *testing.T) {
	t.Parallel()

	reg := dbpf.NewRegistry()
	require.NoError(t, Register(reg))
	rt, ok := reg.Lookup(dbpf.TypeCohort)
	require.True(t, ok)
	assert.Equal(t, dbpf.KindSingle, rt.Kind)
	require.ErrorIs(t, Register(reg), dbpf.ErrDuplicateType)
}
