package index

import (
	"fmt"

	"github.com/meigma/dbpf"
	"github.com/meigma/dbpf/exemplar"
	"github.com/meigma/dbpf/tgi"
)

// Exemplar decodes the exemplar or cohort at h.
func (ix *Index) Exemplar(h Handle) (*exemplar.Exemplar, error) {
	e := ix.Entry(h)
	if !dbpf.IsExemplar(e.TGI.Type) {
		return nil, fmt.Errorf("index: %s is not an exemplar", e.TGI)
	}
	v, err := e.Read()
	if err != nil {
		return nil, err
	}
	switch x := v.(type) {
	case *exemplar.Exemplar:
		return x, nil
	case []byte:
		// The registry has no exemplar codec.
		return exemplar.Decode(x)
	default:
		return nil, fmt.Errorf("index: %s decoded to %T", e.TGI, v)
	}
}

// Property returns property id of x, looking through its parent cohorts
// when x does not declare it. The walk stops at a zero parent, a parent
// that is not indexed or not an exemplar, and at a parent seen before;
// each of these reports the property as absent.
func (ix *Index) Property(x *exemplar.Exemplar, id uint32) (*exemplar.Property, bool) {
	seen := make(map[tgi.TGI]struct{})
	for {
		if p, ok := x.Get(id); ok {
			return p, true
		}
		parent := x.Parent
		if parent.IsZero() || !dbpf.IsExemplar(parent.Type) {
			return nil, false
		}
		if _, ok := seen[parent]; ok {
			ix.log().Debug("parent cohort cycle", "tgi", parent.String())
			return nil, false
		}
		seen[parent] = struct{}{}

		h, ok := ix.Find(parent)
		if !ok {
			return nil, false
		}
		next, err := ix.Exemplar(h)
		if err != nil {
			ix.log().Debug("unreadable parent cohort", "tgi", parent.String(), "error", err)
			return nil, false
		}
		x = next
	}
}

// Value is like Property but returns the property value.
func (ix *Index) Value(x *exemplar.Exemplar, id uint32) (any, bool) {
	p, ok := ix.Property(x, id)
	if !ok {
		return nil, false
	}
	return p.Value, true
}

// ValueOf decodes the exemplar at h and resolves property id on it.
func (ix *Index) ValueOf(h Handle, id uint32) (any, bool) {
	x, err := ix.Exemplar(h)
	if err != nil {
		ix.log().Debug("unreadable exemplar", "tgi", ix.TGI(h).String(), "error", err)
		return nil, false
	}
	return ix.Value(x, id)
}
