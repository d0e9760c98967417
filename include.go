package jcc

import (
	"fmt"
	"os"
	"path/filepath"
)

// IncludeLoader resolves and reads `#include`/`#include_next` targets.
// Kept as an interface (rather than a bare filesystem call) so tests
// can exercise the preprocessor against an in-memory file set without
// touching disk.
type IncludeLoader interface {
	// Resolve looks up name (the text between quotes or angle
	// brackets) relative to fromDir, trying each of searchPaths in
	// order when quoted is false or the quoted-relative lookup
	// misses. startAt skips the search paths before that index; the
	// preprocessor passes 0 for #include_next too, so it searches the
	// same paths as an angle-bracket #include.
	Resolve(name, fromDir string, quoted bool, searchPaths []string, startAt int) (path string, nextIdx int, err error)
	Read(path string) ([]byte, error)
}

// OSIncludeLoader resolves includes against the real filesystem.
type OSIncludeLoader struct{}

func NewOSIncludeLoader() *OSIncludeLoader { return &OSIncludeLoader{} }

func (l *OSIncludeLoader) fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}

func (l *OSIncludeLoader) Resolve(name, fromDir string, quoted bool, searchPaths []string, startAt int) (string, int, error) {
	if filepath.IsAbs(name) {
		return name, startAt, nil
	}
	if quoted {
		candidate := filepath.Join(fromDir, name)
		if l.fileExists(candidate) {
			return candidate, startAt, nil
		}
	}
	for i := startAt; i < len(searchPaths); i++ {
		candidate := filepath.Join(searchPaths[i], name)
		if l.fileExists(candidate) {
			return candidate, i + 1, nil
		}
	}
	return "", startAt, fmt.Errorf("%s: cannot open include file", name)
}

func (l *OSIncludeLoader) Read(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// InMemoryIncludeLoader serves a fixed map of path -> contents,
// ignoring the real filesystem entirely. Used by tests to exercise
// #include resolution deterministically.
type InMemoryIncludeLoader struct {
	files map[string][]byte
}

func NewInMemoryIncludeLoader() *InMemoryIncludeLoader {
	return &InMemoryIncludeLoader{files: map[string][]byte{}}
}

func (l *InMemoryIncludeLoader) Add(path string, content []byte) {
	l.files[path] = content
}

func (l *InMemoryIncludeLoader) Resolve(name, fromDir string, quoted bool, searchPaths []string, startAt int) (string, int, error) {
	if quoted {
		candidate := filepath.Join(fromDir, name)
		if _, ok := l.files[candidate]; ok {
			return candidate, startAt, nil
		}
	}
	for i := startAt; i < len(searchPaths); i++ {
		candidate := filepath.Join(searchPaths[i], name)
		if _, ok := l.files[candidate]; ok {
			return candidate, i + 1, nil
		}
	}
	if _, ok := l.files[name]; ok {
		return name, startAt, nil
	}
	return "", startAt, fmt.Errorf("%s: cannot open include file", name)
}

func (l *InMemoryIncludeLoader) Read(path string) ([]byte, error) {
	b, ok := l.files[path]
	if !ok {
		return nil, fmt.Errorf("include not found: %s", path)
	}
	return b, nil
}
