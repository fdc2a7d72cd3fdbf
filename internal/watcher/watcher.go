// Package watcher implements the command file watcher (spec.md §4.H): it
// polls a set of primary command files and their dependency files for
// mtime changes and, on any change, clears and re-parses everything.
package watcher

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fleetharness/scheduler/internal/ports"
	"github.com/jonboulle/clockwork"
)

// PollInterval is the fixed poll cadence (spec.md §4.H).
const PollInterval = 20 * time.Second

// CommandFile is one watched primary file plus the extra args its
// directives should be parsed with.
type CommandFile struct {
	Path      string
	ExtraArgs []string
	DependsOn []string
}

// Watcher polls a fixed set of CommandFiles and their dependencies for
// mtime changes.
type Watcher struct {
	clock     clockwork.Clock
	parser    ports.CommandFileParser
	scheduler removeAllCommander
	log       *slog.Logger

	files []CommandFile

	mu       sync.Mutex
	lastSeen map[string]time.Time
}

// removeAllCommander is the narrow slice of the scheduler the watcher
// needs, matching ports.CommandAdder's "interface named after what it
// needs" convention.
type removeAllCommander interface {
	ports.CommandAdder
	RemoveAllCommands()
}

// New constructs a Watcher over files. clock defaults to real time if
// nil.
func New(files []CommandFile, parser ports.CommandFileParser, scheduler removeAllCommander, clock clockwork.Clock) *Watcher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Watcher{
		clock:     clock,
		parser:    parser,
		scheduler: scheduler,
		log:       slog.Default().With("component", "watcher"),
		files:     files,
		lastSeen:  make(map[string]time.Time),
	}
}

// Run polls every PollInterval until ctx is cancelled. A cancel signal
// stops only the poll loop; it never touches the scheduler (spec.md
// §4.H).
func (w *Watcher) Run(ctx context.Context) {
	w.pollOnce()
	ticker := w.clock.NewTicker(PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			w.pollOnce()
		}
	}
}

func (w *Watcher) pollOnce() {
	changed := false

	w.mu.Lock()
	for _, cf := range w.files {
		paths := append([]string{cf.Path}, cf.DependsOn...)
		for _, p := range paths {
			mtime, err := mtimeOf(p)
			if err != nil {
				w.log.Warn("watcher: stat failed", "path", p, "error", err)
				continue
			}
			if prev, ok := w.lastSeen[p]; !ok || !prev.Equal(mtime) {
				changed = true
			}
			w.lastSeen[p] = mtime
		}
	}
	w.mu.Unlock()

	if !changed {
		return
	}

	w.log.Info("watcher: command file change detected, reloading")
	w.scheduler.RemoveAllCommands()
	for _, cf := range w.files {
		if err := w.parser.ParseFile(cf.Path, w.scheduler, cf.ExtraArgs); err != nil {
			w.log.Error("watcher: parse failed", "path", cf.Path, "error", err)
		}
	}
}

func mtimeOf(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}
