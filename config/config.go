// Package config reads index settings from an ini file.
//
// A file looks like this; every key is optional:
//
//	[paths]
//	installation=/games/SimCity 4 Deluxe
//	plugins=$HOME/Documents/SimCity 4/Plugins
//
//	[index]
//	workers=8
//	memory-fraction=0.25
//	extensions=dat,sc4lot,sc4desc,sc4model
//
// Paths go through os.ExpandEnv. Missing paths default to the
// SC4_INSTALLATION and SC4_PLUGINS environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	ini "github.com/lars-t-hansen/ini"

	"github.com/meigma/dbpf/index"
)

// Environment variables consulted for paths the file leaves out.
const (
	EnvInstallation = "SC4_INSTALLATION"
	EnvPlugins      = "SC4_PLUGINS"
)

// Constant after initialization.
var (
	parser = ini.NewParser()

	paths             = parser.AddSection("paths")
	fieldInstallation = paths.AddString("installation")
	fieldPlugins      = paths.AddString("plugins")

	indexSection   = parser.AddSection("index")
	fieldWorkers   = indexSection.AddString("workers")
	fieldFraction  = indexSection.AddString("memory-fraction")
	fieldExtension = indexSection.AddString("extensions")
)

// Config holds the settings for building an index.
type Config struct {
	Installation string
	Plugins      string

	// Workers is the number of archives opened concurrently; zero selects
	// the index default.
	Workers int

	// MemoryFraction is the share of system memory archives may cache.
	MemoryFraction float64

	// Extensions overrides the extensions scanned in directories.
	Extensions []string
}

// Default returns the settings used when no file is present.
func Default() *Config {
	return &Config{
		Installation:   os.Getenv(EnvInstallation),
		Plugins:        os.Getenv(EnvPlugins),
		MemoryFraction: index.DefaultMemoryFraction,
	}
}

// DefaultPath returns the per-user config file location.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "sc4", "index.ini"), nil
}

// Load reads the file at path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	c, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse reads settings from r on top of the defaults.
func Parse(r io.Reader) (*Config, error) {
	store, err := parser.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	c := Default()
	if fieldInstallation.Present(store) {
		c.Installation = os.ExpandEnv(strings.TrimSpace(fieldInstallation.StringVal(store)))
	}
	if fieldPlugins.Present(store) {
		c.Plugins = os.ExpandEnv(strings.TrimSpace(fieldPlugins.StringVal(store)))
	}
	if fieldWorkers.Present(store) {
		n, err := strconv.Atoi(strings.TrimSpace(fieldWorkers.StringVal(store)))
		if err != nil || n < 0 {
			return nil, fmt.Errorf("config: [index] workers: invalid value %q", fieldWorkers.StringVal(store))
		}
		c.Workers = n
	}
	if fieldFraction.Present(store) {
		v, err := strconv.ParseFloat(strings.TrimSpace(fieldFraction.StringVal(store)), 64)
		if err != nil || v < 0 || v > 1 {
			return nil, fmt.Errorf("config: [index] memory-fraction: invalid value %q", fieldFraction.StringVal(store))
		}
		c.MemoryFraction = v
	}
	if fieldExtension.Present(store) {
		for _, ext := range strings.Split(fieldExtension.StringVal(store), ",") {
			if ext = strings.TrimSpace(ext); ext != "" {
				c.Extensions = append(c.Extensions, ext)
			}
		}
	}
	return c, nil
}

// Roots returns the folders to scan, installation first.
func (c *Config) Roots() []string {
	var roots []string
	for _, p := range []string{c.Installation, c.Plugins} {
		if p != "" {
			roots = append(roots, p)
		}
	}
	return roots
}

// IndexOptions converts the settings to index options.
func (c *Config) IndexOptions() []index.Option {
	opts := []index.Option{index.WithMemoryFraction(c.MemoryFraction)}
	if c.Workers > 0 {
		opts = append(opts, index.WithWorkers(c.Workers))
	}
	if len(c.Extensions) > 0 {
		opts = append(opts, index.WithExtensions(c.Extensions...))
	}
	return opts
}
