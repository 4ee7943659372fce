package server

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce is the quiet period after the last change before the config is re-read.
const reloadDebounce = 500 * time.Millisecond

// Reloader re-reads the server's config file when it changes on disk.
//
// It watches the parent directory rather than the file, so editors that replace the file
// by rename and configs created after startup are both picked up.
type Reloader struct {
	watcher *fsnotify.Watcher
	server  *Server
	targets map[string]bool
}

// NewReloader watches the directories holding paths. Empty paths are ignored.
func NewReloader(server *Server, paths []string) (*Reloader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	r := &Reloader{watcher: watcher, server: server, targets: map[string]bool{}}
	dirs := map[string]bool{}
	for _, p := range paths {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			watcher.Close()
			return nil, fmt.Errorf("resolve %q: %w", p, err)
		}
		r.targets[abs] = true
		dir := filepath.Dir(abs)
		if dirs[dir] {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("failed to watch %q: %w", dir, err)
		}
		dirs[dir] = true
	}
	return r, nil
}

// Paths returns the watched config files, sorted.
func (r *Reloader) Paths() []string {
	out := make([]string, 0, len(r.targets))
	for p := range r.targets {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Run applies changes until ctx is cancelled. Reloads happen on this goroutine.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	timer := time.NewTimer(reloadDebounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if !r.targets[filepath.Clean(event.Name)] {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				timer.Reset(reloadDebounce)
			}

		case <-timer.C:
			if err := r.server.ReloadConfig(); err != nil {
				r.server.logger.Error("hot-reload failed", "error", err)
			}

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			r.server.logger.Warn("file watcher error", "error", err)
		}
	}
}
