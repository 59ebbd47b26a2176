// Package tgi defines the Type-Group-Instance key that identifies every
// record in a DBPF archive.
//
// TGIs are ordered by instance first, then type, then group. Lookups across
// a plugin library are dominated by "find by instance" queries, so instance
// is the primary key of every sorted structure built on top of this package.
package tgi

import (
	"cmp"
	"fmt"
)

// TGI is an immutable (type, group, instance) triple.
//
// TGI is comparable and may be used as a map key.
type TGI struct {
	Type     uint32
	Group    uint32
	Instance uint32
}

// Identifier is implemented by values that declare their own TGI.
type Identifier interface {
	TGI() TGI
}

// New returns the TGI for the given type, group and instance.
func New(t, g, i uint32) TGI {
	return TGI{Type: t, Group: g, Instance: i}
}

// Of returns the TGI declared by x.
func Of(x Identifier) TGI {
	return x.TGI()
}

// Compare orders a and b by (instance, type, group).
// It returns -1, 0 or +1.
func Compare(a, b TGI) int {
	if c := cmp.Compare(a.Instance, b.Instance); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Type, b.Type); c != 0 {
		return c
	}
	return cmp.Compare(a.Group, b.Group)
}

// Compare orders t relative to o. See [Compare].
func (t TGI) Compare(o TGI) int {
	return Compare(t, o)
}

// Less reports whether t sorts before o.
func (t TGI) Less(o TGI) bool {
	return Compare(t, o) < 0
}

// IsZero reports whether all three words are zero.
func (t TGI) IsZero() bool {
	return t == TGI{}
}

// String formats t as three zero-padded hexadecimal words.
func (t TGI) String() string {
	return fmt.Sprintf("0x%08x-0x%08x-0x%08x", t.Type, t.Group, t.Instance)
}

// Words returns the triple in on-disk order.
func (t TGI) Words() [3]uint32 {
	return [3]uint32{t.Type, t.Group, t.Instance}
}

// ComparePrefix orders t against an (instance, type) prefix, ignoring group.
func ComparePrefix(t TGI, typ, instance uint32) int {
	if c := cmp.Compare(t.Instance, instance); c != 0 {
		return c
	}
	return cmp.Compare(t.Type, typ)
}
