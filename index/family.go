package index

import (
	"github.com/meigma/dbpf"
	"github.com/meigma/dbpf/exemplar"
	"github.com/meigma/dbpf/tgi"
)

// buildFamilies fills the family map from the exemplars that won their
// TGI. Lot configurations never carry a family and are not read.
func (ix *Index) buildFamilies() {
	memo := make(map[tgi.TGI][]uint32)
	for _, h := range ix.exemplars {
		id := ix.TGI(h)
		if id.Type != dbpf.TypeExemplar || id.Group == exemplar.GroupLotConfig {
			continue
		}
		if w, _ := ix.Find(id); w != h {
			continue // overridden by a later archive
		}
		for _, fam := range ix.familiesOf(h, memo) {
			members := ix.families[fam]
			if n := len(members); n > 0 && members[n-1] == h {
				continue
			}
			ix.families[fam] = append(members, h)
		}
	}
}

// familiesOf returns the families declared by the exemplar at h or, when it
// declares none, inherited from its parent cohorts. Parent results are
// memoized; a parent being resolved counts as having no family, which ends
// cycles.
func (ix *Index) familiesOf(h Handle, memo map[tgi.TGI][]uint32) []uint32 {
	data, err := ix.Entry(h).Decompress()
	if err != nil {
		ix.log().Warn("unreadable exemplar", "tgi", ix.TGI(h).String(), "error", err)
		ix.failures = append(ix.failures, &ScanError{Path: ix.archives[h.Archive].Path(), Err: err})
		return nil
	}
	if exemplar.MayHaveFamily(data) {
		x, err := ix.Exemplar(h)
		if err != nil {
			ix.log().Debug("undecodable exemplar", "tgi", ix.TGI(h).String(), "error", err)
		} else if fams := x.Uint32s(exemplar.PropertyFamily); len(fams) > 0 {
			return fams
		}
	}

	parent, ok := exemplar.ParentOf(data)
	if !ok || !dbpf.IsExemplar(parent.Type) {
		return nil
	}
	if fams, done := memo[parent]; done {
		return fams
	}
	memo[parent] = nil
	ph, ok := ix.Find(parent)
	if !ok {
		return nil
	}
	fams := ix.familiesOf(ph, memo)
	memo[parent] = fams
	return fams
}
