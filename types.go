package dbpf

import "github.com/meigma/dbpf/tgi"

// Well-known type ids.
const (
	TypeExemplar uint32 = 0x6534284A
	TypeCohort   uint32 = 0x05342861
	TypeDIR      uint32 = 0xE86B1EEF
)

// DIR is the TGI of the record listing compressed entries.
var DIR = tgi.New(0xE86B1EEF, 0xE86B1EEF, 0x286B1F03)

// IsExemplar reports whether type id t is an exemplar or a cohort.
func IsExemplar(t uint32) bool {
	return t == TypeExemplar || t == TypeCohort
}
