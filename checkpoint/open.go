package checkpoint

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"deepagent/agent"
)

// Config selects a backend.
type Config struct {
	Backend string        // memory | file | sqlite
	Path    string        // directory for file, database path for sqlite
	TTL     time.Duration // memory only
}

// Open builds the configured checkpointer. The returned closer releases it.
func Open(ctx context.Context, cfg Config) (agent.Checkpointer, io.Closer, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "memory":
		m := NewMemory(cfg.TTL)
		return m, m, nil
	case "file":
		path := cfg.Path
		if path == "" {
			path = "threads"
		}
		f, err := NewFile(path)
		if err != nil {
			return nil, nil, err
		}
		return f, f, nil
	case "sqlite":
		path := cfg.Path
		if path == "" {
			path = "deepagent.db"
		} else if path != ":memory:" && filepath.Ext(path) == "" {
			path = filepath.Join(path, "deepagent.db")
		}
		if path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return nil, nil, fmt.Errorf("sqlite store: %w", err)
			}
		}
		s, err := NewSQLite(ctx, path)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q (want memory, file or sqlite)", cfg.Backend)
}
