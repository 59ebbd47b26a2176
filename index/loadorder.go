package index

import (
	"cmp"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// LoadOrder compares two paths in the order the game loads plugin files:
// by folder name, files in a folder before its subfolders, and within one
// folder non-.DAT files before .DAT files, each group by name. Comparison
// is case-insensitive and accepts both slash styles.
func LoadOrder(a, b string) int {
	pa, pb := splitPath(a), splitPath(b)
	n := min(len(pa), len(pb)) - 1
	for i := range n {
		if c := strings.Compare(pa[i], pb[i]); c != 0 {
			return c
		}
	}
	if len(pa) != len(pb) {
		return cmp.Compare(len(pa), len(pb))
	}
	na, nb := pa[len(pa)-1], pb[len(pb)-1]
	da, db := strings.HasSuffix(na, ".DAT"), strings.HasSuffix(nb, ".DAT")
	if da != db {
		if da {
			return 1
		}
		return -1
	}
	return strings.Compare(na, nb)
}

func splitPath(p string) []string {
	return strings.FieldsFunc(strings.ToUpper(p), func(r rune) bool {
		return r == '/' || r == '\\'
	})
}

// stagingDir is skipped when walking plugin folders; installers unpack
// into it before moving files into place.
const stagingDir = "staging-process"

// collect expands one root into candidate files sorted in load order. A
// root naming a file is returned as is, whatever its extension.
func collect(root string, exts []string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{root}, nil
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.Contains(d.Name(), stagingDir) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if matchExtension(path, exts) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	rel := func(p string) string {
		r, err := filepath.Rel(root, p)
		if err != nil {
			return p
		}
		return r
	}
	slices.SortStableFunc(files, func(a, b string) int {
		return LoadOrder(rel(a), rel(b))
	})
	return files, nil
}

func matchExtension(path string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return slices.Contains(exts, ext)
}

func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out = append(out, e)
	}
	return out
}
