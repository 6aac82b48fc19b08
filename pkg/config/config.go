// Package config implements grove's typed configuration bag: every
// key has a parser, a printer, a default, and a doc string, backed by
// gopkg.in/yaml.v2 for file load/save (yaml.Unmarshal into a struct,
// zero-value defaults filled in after load), plus a path-existence
// check; the minimum-free-space check runs in the disk backend at Open
// time.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

// Config is grove's typed configuration bag: Paths, MinimumFreeGB,
// CacheBytes, GCIntervalSeconds, Logger.
type Config struct {
	// Paths is the backend's data directory list; only Paths[0] is
	// currently used (grove has no multi-path sharding), kept plural for
	// config-file compatibility with future sharding.
	Paths []string `yaml:"paths"`
	// MinimumFreeGB is the minimum free space, in gigabytes, required
	// on Paths[0]'s filesystem at Open time. Zero disables the check.
	MinimumFreeGB uint `yaml:"minimumFreeGB"`
	// CacheBytes sizes each L2 typed store's read-through cache.
	CacheBytes int64 `yaml:"cacheBytes"`
	// GCIntervalSeconds is the interval, in seconds, for
	// unreferenced-object sweeps. It is loaded, saved and printed only:
	// nothing in this module runs a sweep or reads it.
	GCIntervalSeconds int `yaml:"gcIntervalSeconds"`

	// Logger is not serialised; a nil Logger is replaced by a fresh
	// logrus.Logger at Load/Default time.
	Logger *logrus.Logger `yaml:"-"`
}

// key describes one configuration field: its parser, printer, default
// and doc string. grove does not ship a CLI; Keys and Doc expose the
// names and doc strings for diagnostic/help output.
type key struct {
	name    string
	doc     string
	parse   func(s string) (any, error)
	print   func(c Config) string
	apply   func(c *Config) // fills in the default when absent
}

var keys = []key{
	{
		name: "paths",
		doc:  "data directory (first element only is used)",
		parse: func(s string) (any, error) { return []string{s}, nil },
		print: func(c Config) string { return fmt.Sprint(c.Paths) },
		apply: func(c *Config) {
			if len(c.Paths) == 0 {
				c.Paths = []string{"."}
			}
		},
	},
	{
		name: "minimumFreeGB",
		doc:  "minimum free disk space, in GB, required to open a disk backend (0 disables the check)",
		parse: func(s string) (any, error) { v, err := strconv.ParseUint(s, 10, 0); return uint(v), err },
		print: func(c Config) string { return fmt.Sprint(c.MinimumFreeGB) },
		apply: func(c *Config) {},
	},
	{
		name: "cacheBytes",
		doc:  "byte budget for each L2 typed object store's read-through cache",
		parse: func(s string) (any, error) { return strconv.ParseInt(s, 10, 64) },
		print: func(c Config) string { return fmt.Sprint(c.CacheBytes) },
		apply: func(c *Config) {
			if c.CacheBytes == 0 {
				c.CacheBytes = 32 << 20
			}
		},
	},
	{
		name: "gcIntervalSeconds",
		doc:  "interval, in seconds, for unreferenced-object sweeps (stored only; no sweep runs in this module)",
		parse: func(s string) (any, error) { return strconv.Atoi(s) },
		print: func(c Config) string { return fmt.Sprint(c.GCIntervalSeconds) },
		apply: func(c *Config) {},
	},
}

// Keys returns the documented configuration keys, for diagnostic use.
func Keys() []string {
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.name
	}
	return names
}

// Doc returns the documentation string for a configuration key name.
func Doc(name string) (string, bool) {
	for _, k := range keys {
		if k.name == name {
			return k.doc, true
		}
	}
	return "", false
}

// Default returns a Config with every field set to its documented
// default.
func Default() Config {
	var c Config
	for _, k := range keys {
		k.apply(&c)
	}
	c.Logger = logrus.New()
	return c
}

// Load reads and unmarshals a YAML config file at path, filling in
// documented defaults for any field the file leaves at its zero value.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading %q: %w", path, err)
	}
	c := Default()
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("config: parsing %q: %w", path, err)
	}
	for _, k := range keys {
		k.apply(&c)
	}
	if c.Logger == nil {
		c.Logger = logrus.New()
	}
	return c, nil
}

// Save writes c to path as YAML.
func Save(path string, c Config) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshalling: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: writing %q: %w", path, err)
	}
	return nil
}

// Check validates c: Paths must be non-empty and Paths[0] must exist
// and be a directory. The free-space check itself lives in
// internal/kernel.OpenBadger (it needs gopsutil, which this package
// doesn't depend on) and runs there at Open time.
func Check(c Config) error {
	if len(c.Paths) == 0 {
		return fmt.Errorf("config: no path provided")
	}
	info, err := os.Stat(c.Paths[0])
	if err != nil {
		return fmt.Errorf("config: checking path %q: %w", c.Paths[0], err)
	}
	if !info.IsDir() {
		return fmt.Errorf("config: path %q is not a directory", c.Paths[0])
	}
	return nil
}
