// Package dbpf reads and writes DBPF archives, the container format SimCity 4
// uses for plugins and savegames.
//
// An archive is a 96 byte [Header], a set of record payloads and a directory
// mapping each payload's [tgi.TGI] to its offset and size. Compressed
// payloads are listed in an internal DIR record with their uncompressed
// size; DIR is consumed on open and regenerated on save, and never shows up
// in [Archive.Entries].
//
// Entries are lazy. Opening an archive reads only the header and the
// directory. Each [Entry] then moves through the states
//
//	Unread → RawLoaded → Decoded → Parsed
//
// on demand: [Entry.Raw] reads the stored bytes, [Entry.Decompress] runs the
// RefPack codec when needed and [Entry.Read] hands the result to the codec
// registered for the entry's type in a [Registry]. Types nobody registered
// decode to their plain bytes. Concurrent calls for the same entry share one
// read.
//
// # Quick Start
//
//	reg := dbpf.NewRegistry()
//	if err := exemplar.Register(reg); err != nil {
//	    return err
//	}
//	a, err := dbpf.Open("plugins/park.dat", dbpf.WithRegistry(reg))
//	if err != nil {
//	    return err
//	}
//	defer a.Close()
//	for _, e := range a.Exemplars() {
//	    v, err := e.Read()
//	    ...
//	}
//
// Saving writes untouched entries back verbatim and re-encodes everything
// that was parsed or changed:
//
//	e.Set(updated)
//	err = a.Save("plugins/park.dat")
package dbpf
