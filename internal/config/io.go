package config

import (
	"os"
	"path"
	"path/filepath"
)

// Files resolves and loads config sources.
type Files interface {
	// Resolve returns canonical path of name included from source at path from,
	// from is empty for top level names.
	Resolve(from, name string) string
	// Load returns nil, nil when source does not exist.
	Load(path string) ([]byte, error)
}

// DiskFiles reads local files. Relative include is resolved against
// directory of including file, top level name against working directory.
type DiskFiles struct{}

func (DiskFiles) Resolve(from, name string) string {
	if filepath.IsAbs(name) {
		return filepath.Clean(name)
	}
	if from != "" {
		return filepath.Join(filepath.Dir(from), name)
	}
	if abs, err := filepath.Abs(name); err == nil {
		return abs
	}
	return filepath.Clean(name)
}

func (DiskFiles) Load(p string) ([]byte, error) {
	b, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, nil
	}
	return b, err
}

// MapFiles serves sources from memory by name.
type MapFiles map[string]string

func (MapFiles) Resolve(_, name string) string { return path.Clean(name) }

func (m MapFiles) Load(name string) ([]byte, error) {
	if s, ok := m[name]; ok {
		return []byte(s), nil
	}
	return nil, nil
}
