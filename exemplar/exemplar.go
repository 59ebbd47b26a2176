// Package exemplar decodes exemplar and cohort records: typed property
// tables with single inheritance from a parent cohort.
//
// Binary exemplars start with an eight byte signature ("EQZB1###" for
// exemplars, "CQZB1###" for cohorts), the parent TGI and a property count.
// Text exemplars ("EQZT1###") are kept as opaque text; only their parent is
// extracted.
package exemplar

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"

	"github.com/meigma/dbpf"
	"github.com/meigma/dbpf/stream"
	"github.com/meigma/dbpf/tgi"
)

// PropertyFamily lists the building or prop families an exemplar belongs to.
const PropertyFamily uint32 = 0x27812870

// GroupLotConfig is the group of lot configuration exemplars.
const GroupLotConfig uint32 = 0xA8FBD372

// SignatureSize is the length of the leading signature.
const SignatureSize = 8

// ErrSignature is returned for records that do not start with an exemplar
// signature.
var ErrSignature = errors.New("exemplar: bad signature")

// Exemplar is a decoded exemplar or cohort.
type Exemplar struct {
	Signature  [SignatureSize]byte
	Parent     tgi.TGI
	Properties []Property

	// Text holds everything after the signature of a text exemplar.
	Text []byte
}

// New returns an empty binary exemplar, or cohort when cohort is set.
func New(parent tgi.TGI, cohort bool) *Exemplar {
	x := &Exemplar{Parent: parent}
	sig := "EQZB1###"
	if cohort {
		sig = "CQZB1###"
	}
	copy(x.Signature[:], sig)
	return x
}

// IsText reports whether x is a text exemplar.
func (x *Exemplar) IsText() bool { return x.Signature[3] == 'T' }

// IsCohort reports whether x carries the cohort signature.
func (x *Exemplar) IsCohort() bool { return x.Signature[0] == 'C' }

// Get returns the property with the given id.
func (x *Exemplar) Get(id uint32) (*Property, bool) {
	for i := range x.Properties {
		if x.Properties[i].ID == id {
			return &x.Properties[i], true
		}
	}
	return nil, false
}

// Value returns the value of the property with the given id.
func (x *Exemplar) Value(id uint32) (any, bool) {
	p, ok := x.Get(id)
	if !ok {
		return nil, false
	}
	return p.Value, true
}

// Uint32s returns an integer property as a list, or nil.
func (x *Exemplar) Uint32s(id uint32) []uint32 {
	p, ok := x.Get(id)
	if !ok {
		return nil
	}
	return p.Uint32s()
}

// Set replaces the property with p.ID or appends p.
func (x *Exemplar) Set(p Property) {
	if old, ok := x.Get(p.ID); ok {
		*old = p
		return
	}
	x.Properties = append(x.Properties, p)
}

// Delete removes the property with the given id.
func (x *Exemplar) Delete(id uint32) bool {
	n := len(x.Properties)
	x.Properties = slices.DeleteFunc(x.Properties, func(p Property) bool { return p.ID == id })
	return len(x.Properties) != n
}

// Decode parses a binary or text exemplar.
func Decode(b []byte) (*Exemplar, error) {
	return decode(stream.NewReader(b))
}

func decode(r *stream.Reader) (*Exemplar, error) {
	x := &Exemplar{}
	sig := r.Bytes(SignatureSize)
	if r.Err() != nil || (sig[0] != 'E' && sig[0] != 'C') || sig[1] != 'Q' || sig[2] != 'Z' {
		return nil, fmt.Errorf("%w: %q", ErrSignature, sig)
	}
	copy(x.Signature[:], sig)

	if x.IsText() {
		x.Text = bytes.Clone(r.Bytes(r.Remaining()))
		x.Parent = textParent(x.Text)
		return x, nil
	}

	x.Parent = r.TGI()
	count := r.Uint32()
	if err := r.Err(); err != nil {
		return nil, err
	}
	// Some exemplars in the wild declare more properties than they hold.
	for range count {
		if r.Remaining() < 4 {
			break
		}
		var p Property
		if err := p.decode(r); err != nil {
			return nil, err
		}
		x.Properties = append(x.Properties, p)
	}
	return x, nil
}

// MarshalBinary encodes x.
func (x *Exemplar) MarshalBinary() ([]byte, error) {
	w := stream.NewWriter(64)
	if _, err := w.Write(x.Signature[:]); err != nil {
		return nil, err
	}
	if x.IsText() {
		_, err := w.Write(x.Text)
		return w.Bytes(), err
	}
	w.TGI(x.Parent)
	w.Uint32(uint32(len(x.Properties))) //nolint:gosec // bounded by record size
	for i := range x.Properties {
		if err := x.Properties[i].encode(w); err != nil {
			return nil, err
		}
	}
	return w.Bytes(), nil
}

var parentPattern = regexp.MustCompile(`(?i)ParentCohort\s*=\s*Key:\s*\{?\s*(0x[0-9a-f]+)\s*,?\s*(0x[0-9a-f]+)\s*,?\s*(0x[0-9a-f]+)`)

// textParent extracts the parent cohort of a text exemplar, or the zero TGI.
func textParent(text []byte) tgi.TGI {
	m := parentPattern.FindSubmatch(text)
	if m == nil {
		return tgi.TGI{}
	}
	var words [3]uint32
	for i := range words {
		v, err := strconv.ParseUint(string(m[i+1]), 0, 32)
		if err != nil {
			return tgi.TGI{}
		}
		words[i] = uint32(v)
	}
	return tgi.New(words[0], words[1], words[2])
}

var (
	familyBinary = []byte{0x70, 0x28, 0x81, 0x27}
	familyText   = []byte("0x27812870")
)

// MayHaveFamily is a fast pre-check on decoded exemplar bytes: it reports
// false only when the Family property cannot be present.
func MayHaveFamily(data []byte) bool {
	if len(data) > 3 && data[3] == 'T' {
		return bytes.Contains(bytes.ToLower(data), familyText)
	}
	return bytes.Contains(data, familyBinary)
}

// ParentOf reads the parent TGI of a binary exemplar without decoding it.
func ParentOf(data []byte) (tgi.TGI, bool) {
	if len(data) > 3 && data[3] == 'T' {
		p := textParent(data[SignatureSize:])
		return p, !p.IsZero()
	}
	r := stream.NewReader(data)
	r.Skip(SignatureSize)
	p := r.TGI()
	return p, r.Err() == nil && !p.IsZero()
}

// Codec decodes exemplar and cohort entries for a dbpf.Registry.
type Codec struct{}

var (
	_ dbpf.Codec         = Codec{}
	_ dbpf.StreamDecoder = Codec{}
)

// Decode implements dbpf.Codec.
func (Codec) Decode(b []byte) (any, error) { return Decode(b) }

// DecodeStream implements dbpf.StreamDecoder.
func (Codec) DecodeStream(r *stream.Reader) (any, error) { return decode(r) }

// Encode implements dbpf.Codec.
func (Codec) Encode(v any) ([]byte, error) {
	x, ok := v.(*Exemplar)
	if !ok {
		return nil, fmt.Errorf("exemplar: cannot encode %T", v)
	}
	return x.MarshalBinary()
}

// Register adds the exemplar and cohort types to reg.
func Register(reg *dbpf.Registry) error {
	return errors.Join(
		reg.Register(dbpf.RecordType{ID: dbpf.TypeExemplar, Name: "Exemplar", Kind: dbpf.KindSingle, Codec: Codec{}}),
		reg.Register(dbpf.RecordType{ID: dbpf.TypeCohort, Name: "Cohort", Kind: dbpf.KindSingle, Codec: Codec{}}),
	)
}
