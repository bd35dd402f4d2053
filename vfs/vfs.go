// Package vfs is the in-memory, per-thread filesystem agents use to keep
// work products out of the model context. It never touches the host disk.
package vfs

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrFileNotFound = errors.New("file not found")
	ErrNoMatch      = errors.New("text to replace not found")
)

// FS maps case-sensitive paths to text content. A forked FS reads through
// to its parent and keeps its own writes until merged back.
//
// The zero value is an empty filesystem ready for use.
type FS struct {
	files  map[string]string
	parent *FS
}

// New returns an FS seeded with files.
func New(files map[string]string) *FS {
	fs := &FS{files: make(map[string]string, len(files))}
	for p, c := range files {
		fs.files[p] = c
	}
	return fs
}

func (fs *FS) lookup(path string) (string, bool) {
	for l := fs; l != nil; l = l.parent {
		if c, ok := l.files[path]; ok {
			return c, true
		}
	}
	return "", false
}

// Read returns the content at path.
func (fs *FS) Read(path string) (string, error) {
	c, ok := fs.lookup(path)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	return c, nil
}

// Write creates or overwrites path.
func (fs *FS) Write(path, content string) {
	if fs.files == nil {
		fs.files = make(map[string]string)
	}
	fs.files[path] = content
}

// Edit replaces the first occurrence of match in path with replacement.
func (fs *FS) Edit(path, match, replacement string) error {
	c, ok := fs.lookup(path)
	if !ok {
		return fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	if match == "" || !strings.Contains(c, match) {
		return fmt.Errorf("%w in %s: %q", ErrNoMatch, path, match)
	}
	fs.Write(path, strings.Replace(c, match, replacement, 1))
	return nil
}

// List returns every path starting with prefix, sorted.
func (fs *FS) List(prefix string) []string {
	seen := make(map[string]struct{})
	for l := fs; l != nil; l = l.parent {
		for p := range l.files {
			if strings.HasPrefix(p, prefix) {
				seen[p] = struct{}{}
			}
		}
	}
	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Len returns the number of visible paths.
func (fs *FS) Len() int { return len(fs.List("")) }

// Fork returns a copy-on-write child. The parent must not be written while
// the child is in use.
func (fs *FS) Fork() *FS {
	return &FS{files: make(map[string]string), parent: fs}
}

// Merge copies the child's own writes into fs. On path collision the
// child's content wins.
func (fs *FS) Merge(child *FS) {
	for p, c := range child.files {
		fs.Write(p, c)
	}
}

// Changed returns the paths written in this layer, sorted.
func (fs *FS) Changed() []string {
	paths := make([]string, 0, len(fs.files))
	for p := range fs.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Snapshot flattens all layers into a fresh map.
func (fs *FS) Snapshot() map[string]string {
	out := make(map[string]string)
	if fs == nil {
		return out
	}
	for _, p := range fs.List("") {
		out[p], _ = fs.lookup(p)
	}
	return out
}

// Clone returns a flattened, independent copy.
func (fs *FS) Clone() *FS {
	return New(fs.Snapshot())
}

func (fs *FS) MarshalJSON() ([]byte, error) {
	return json.Marshal(fs.Snapshot())
}

func (fs *FS) UnmarshalJSON(data []byte) error {
	var files map[string]string
	if err := json.Unmarshal(data, &files); err != nil {
		return err
	}
	*fs = *New(files)
	return nil
}
