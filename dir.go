package dbpf

import (
	"github.com/meigma/dbpf/stream"
	"github.com/meigma/dbpf/tgi"
)

// dirRow lists the uncompressed size of one compressed entry.
type dirRow struct {
	tgi  tgi.TGI
	size uint32
}

func parseDir(data []byte, h Header) []dirRow {
	width := h.dirRowSize()
	rows := make([]dirRow, 0, len(data)/width)
	r := stream.NewReader(data)
	for r.Remaining() >= width {
		id := r.TGI()
		size := r.Uint32()
		if width > 16 {
			r.Skip(width - 16)
		}
		rows = append(rows, dirRow{tgi: id, size: size})
	}
	return rows
}

func marshalDir(rows []dirRow, h Header) []byte {
	width := h.dirRowSize()
	w := stream.NewWriter(len(rows) * width)
	for _, row := range rows {
		w.TGI(row.tgi)
		w.Uint32(row.size)
		if width > 16 {
			w.Uint32(0)
		}
	}
	return w.Bytes()
}

// applyDir marks the entries listed in rows as compressed. Entries sharing a
// TGI are matched in directory order; rows without a matching entry are
// returned.
func applyDir(entries []*Entry, rows []dirRow) []dirRow {
	byTGI := make(map[tgi.TGI][]*Entry, len(rows))
	for _, e := range entries {
		byTGI[e.TGI] = append(byTGI[e.TGI], e)
	}
	seen := make(map[tgi.TGI]int)
	var orphans []dirRow
	for _, row := range rows {
		list := byTGI[row.tgi]
		n := seen[row.tgi]
		if n >= len(list) {
			orphans = append(orphans, row)
			continue
		}
		seen[row.tgi] = n + 1
		list[n].Compressed = true
		list[n].FileSize = row.size
	}
	return orphans
}

// directoryEntry is one row of the archive directory.
type directoryEntry struct {
	tgi      tgi.TGI
	reserved uint32
	offset   uint32
	size     uint32
}

func parseDirectory(data []byte, h Header) []directoryEntry {
	width := h.entrySize()
	out := make([]directoryEntry, 0, h.IndexCount)
	r := stream.NewReader(data)
	for range h.IndexCount {
		if r.Remaining() < width {
			break
		}
		row := directoryEntry{tgi: r.TGI()}
		if width > 20 {
			row.reserved = r.Uint32()
		}
		row.offset = r.Uint32()
		row.size = r.Uint32()
		out = append(out, row)
	}
	return out
}

func marshalDirectory(rows []directoryEntry, h Header) []byte {
	width := h.entrySize()
	w := stream.NewWriter(len(rows) * width)
	for _, row := range rows {
		w.TGI(row.tgi)
		if width > 20 {
			w.Uint32(row.reserved)
		}
		w.Uint32(row.offset)
		w.Uint32(row.size)
	}
	return w.Bytes()
}
