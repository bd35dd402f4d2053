package deepagent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"deepagent/agent"
	"deepagent/events"
)

// agentsFile is the top-level structure of agents.yaml.
type agentsFile struct {
	Agents []agent.Profile `yaml:"agents"`
}

// LoadProfiles reads sub-agent profiles from an agents.yaml file.
func LoadProfiles(path string) ([]agent.Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read agents file: %w", err)
	}

	var f agentsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse agents file: %w", err)
	}

	seen := make(map[string]bool, len(f.Agents))
	for i, p := range f.Agents {
		switch {
		case p.Name == "":
			return nil, fmt.Errorf("agents[%d]: name is required", i)
		case seen[p.Name]:
			return nil, fmt.Errorf("agents[%d]: duplicate name %q", i, p.Name)
		case p.SystemPrompt == "":
			return nil, fmt.Errorf("agent %q: system_prompt is required", p.Name)
		}
		seen[p.Name] = true
	}
	return f.Agents, nil
}

// ProfileWatcher reloads agents.yaml into a ProfileSet whenever it changes.
type ProfileWatcher struct {
	path     string
	profiles *agent.ProfileSet
	bus      events.Publisher
	log      *zap.Logger
	debounce time.Duration
}

func NewProfileWatcher(path string, profiles *agent.ProfileSet, bus events.Publisher, log *zap.Logger) *ProfileWatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &ProfileWatcher{
		path:     path,
		profiles: profiles,
		bus:      bus,
		log:      log.Named("profiles"),
		debounce: 250 * time.Millisecond,
	}
}

// Reload reads the file and swaps the profile table. On error the current
// table is kept.
func (pw *ProfileWatcher) Reload(ctx context.Context) error {
	profiles, err := LoadProfiles(pw.path)
	if err != nil {
		return err
	}
	pw.profiles.Replace(profiles)

	names := make([]string, len(profiles))
	for i, p := range profiles {
		names[i] = p.Name
	}
	pw.log.Info("profiles loaded", zap.String("path", pw.path), zap.Strings("agents", names))
	if pw.bus != nil {
		if err := pw.bus.Publish(ctx, events.Event{Type: events.ProfilesReloaded, Detail: names}); err != nil {
			pw.log.Warn("publish reload", zap.Error(err))
		}
	}
	return nil
}

// Run watches the file's directory until ctx is done. Editors often replace
// files by rename, so events are matched by name rather than by watch.
func (pw *ProfileWatcher) Run(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("profile watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(pw.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(pw.path)

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				pending = time.After(pw.debounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			pw.log.Warn("watch error", zap.Error(err))
		case <-pending:
			pending = nil
			if err := pw.Reload(ctx); err != nil {
				pw.log.Error("reload profiles", zap.String("path", pw.path), zap.Error(err))
			}
		}
	}
}
