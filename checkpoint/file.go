package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"

	"deepagent/agent"
)

// File stores one JSON document per thread under a directory.
type File struct {
	dir string
}

// NewFile creates dir if needed.
func NewFile(dir string) (*File, error) {
	if dir == "" {
		return nil, errors.New("file store: empty directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("file store: %w", err)
	}
	return &File{dir: dir}, nil
}

// path maps a thread id onto a single file name inside dir.
func (f *File) path(threadID string) (string, error) {
	if threadID == "" {
		return "", errors.New("file store: empty thread id")
	}
	name := url.PathEscape(threadID) + ".json"
	if !filepath.IsLocal(name) {
		return "", fmt.Errorf("file store: invalid thread id %q", threadID)
	}
	return filepath.Join(f.dir, name), nil
}

func (f *File) Get(ctx context.Context, threadID string) (*agent.ThreadState, error) {
	p, err := f.path(threadID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", agent.ErrThreadNotFound, threadID)
	}
	if err != nil {
		return nil, err
	}
	var st agent.ThreadState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode thread %s: %w", threadID, err)
	}
	return &st, nil
}

// Put writes the state to a temp file, syncs it and renames it into place.
func (f *File) Put(ctx context.Context, state *agent.ThreadState) error {
	p, err := f.path(state.ThreadID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode thread %s: %w", state.ThreadID, err)
	}

	tmp, err := os.CreateTemp(f.dir, "thread-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, p); err != nil {
		return err
	}
	cleanup = false
	return nil
}

func (f *File) Delete(ctx context.Context, threadID string) error {
	p, err := f.path(threadID)
	if err != nil {
		return err
	}
	err = os.Remove(p)
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", agent.ErrThreadNotFound, threadID)
	}
	return err
}

func (f *File) Close() error { return nil }
