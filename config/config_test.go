package config

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/dbpf/index"
	"github.com/meigma/dbpf/internal/testutil"
	"github.com/meigma/dbpf/tgi"
)

func TestParse(t *testing.T) {
	t.Setenv(EnvInstallation, "/env/install")
	t.Setenv(EnvPlugins, "/env/plugins")
	t.Setenv("SC4_TEST_HOME", "/home/mayor")

	c, err := Parse(strings.NewReader(strings.Join([]string{
		"[paths]",
		"plugins=$SC4_TEST_HOME/Plugins",
		"[index]",
		"workers=3",
		"memory-fraction=0.25",
		"extensions=dat,SC4LOT",
		"",
	}, "\n")))
	require.NoError(t, err)

	assert.Equal(t, "/env/install", c.Installation)
	assert.Equal(t, "/home/mayor/Plugins", c.Plugins)
	assert.Equal(t, 3, c.Workers)
	assert.InDelta(t, 0.25, c.MemoryFraction, 1e-9)
	assert.Equal(t, []string{"dat", "SC4LOT"}, c.Extensions)
	assert.Equal(t, []string{"/env/install", "/home/mayor/Plugins"}, c.Roots())
	assert.Len(t, c.IndexOptions(), 3)
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"workers", "[index]\nworkers=many\n"},
		{"negative workers", "[index]\nworkers=-1\n"},
		{"fraction", "[index]\nmemory-fraction=2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.input))
			require.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv(EnvInstallation, "")
	t.Setenv(EnvPlugins, "/env/plugins")

	c, err := Load(filepath.Join(t.TempDir(), "absent.ini"))
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
	assert.Equal(t, []string{"/env/plugins"}, c.Roots())
	assert.InDelta(t, index.DefaultMemoryFraction, c.MemoryFraction, 1e-9)
	assert.Len(t, c.IndexOptions(), 1)
}

func TestIndexOptionsBuild(t *testing.T) {
	t.Setenv(EnvInstallation, "")
	t.Setenv(EnvPlugins, "")

	dir := t.TempDir()
	good := testutil.BuildArchive(t, []testutil.Record{{TGI: tgi.New(1, 2, 3), Data: []byte("x")}}, testutil.Options{})
	testutil.WriteFiles(t, dir, map[string][]byte{
		"plugins/a.dat":    good,
		"plugins/b.sc4lot": good,
		"index.ini":        []byte("[paths]\nplugins=" + filepath.Join(dir, "plugins") + "\n[index]\nextensions=sc4lot\nworkers=2\n"),
	})

	c, err := Load(filepath.Join(dir, "index.ini"))
	require.NoError(t, err)
	ix, err := index.Build(context.Background(), c.Roots(), c.IndexOptions()...)
	require.NoError(t, err)
	t.Cleanup(func() { ix.Close() })

	require.Len(t, ix.Archives(), 1)
	assert.Equal(t, "b.sc4lot", filepath.Base(ix.Archives()[0].Path()))
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	t.Setenv("HOME", "/home/mayor")

	p, err := DefaultPath()
	require.NoError(t, err)
	assert.Equal(t, "index.ini", filepath.Base(p))
	assert.Equal(t, "sc4", filepath.Base(filepath.Dir(p)))
}
