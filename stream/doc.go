// Package stream provides little-endian binary primitives for DBPF records.
//
// [Reader] keeps a cursor over a byte slice and a sticky error: once a read
// runs past the end, every later read returns a zero value and [Reader.Err]
// reports [ErrShortBuffer]. Record decoders can therefore read a whole
// structure and check for failure once. [Writer] is the append-only
// counterpart.
package stream
