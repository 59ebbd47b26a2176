// Package index builds a TGI lookup across many DBPF archives.
//
// [Build] scans installation and plugin folders the way the game does:
// files are opened in load order, every entry of every archive is merged
// into one list sorted by TGI, and later archives win when two archives
// declare the same TGI. Entries are addressed by [Handle], a pair of
// archive and entry positions, so the index holds no pointers into the
// archives it owns.
//
// # Quick Start
//
//	ix, err := index.Build(ctx, []string{installation, plugins})
//	if err != nil {
//		return err
//	}
//	defer ix.Close()
//
//	h, ok := ix.Find(tgi.New(dbpf.TypeExemplar, group, instance))
//	if ok {
//		v, found := ix.ValueOf(h, 0x20)
//		...
//	}
//
// Archive content is cached lazily and bounded by an LRU working set; see
// [WithMemoryBudget].
package index
