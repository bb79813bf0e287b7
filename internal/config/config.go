// Package config reads the daemon's persisted configuration.
//
// Per spec.md §6, the daemon reads /etc/kapsule.conf first, falling back
// to /usr/lib/kapsule.conf, both INI files with a single [kapsule]
// section. Parsing uses go-ini, already present in the teacher's
// dependency graph, rather than a hand-rolled scanner.
package config

import (
	"os"

	"github.com/go-ini/ini"
)

// Paths are tried in order; the first one that exists wins.
var Paths = []string{"/etc/kapsule.conf", "/usr/lib/kapsule.conf"}

// Config holds the recognized kapsule.conf keys.
type Config struct {
	DefaultContainer string
	DefaultImage     string
}

// Load reads the first existing file in Paths. If none exist, it returns
// a zero-value Config (not an error) — an empty configuration is valid;
// callers pass DefaultContainer/DefaultImage into PrepareEnter and
// CreateContainer, which fail per spec.md when both the argument and
// the configured default are empty.
func Load() (*Config, error) {
	for _, p := range Paths {
		if _, err := os.Stat(p); err == nil {
			return LoadFile(p)
		}
	}

	return &Config{}, nil
}

// LoadFile parses a specific INI file.
func LoadFile(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, err
	}

	section := f.Section("kapsule")

	return &Config{
		DefaultContainer: section.Key("default_container").String(),
		DefaultImage:     section.Key("default_image").String(),
	}, nil
}

// AsMap renders the configuration as the string map returned by the
// Manager.GetConfig D-Bus method.
func (c *Config) AsMap() map[string]string {
	return map[string]string{
		"default_container": c.DefaultContainer,
		"default_image":     c.DefaultImage,
	}
}
