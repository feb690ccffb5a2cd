package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultReloadDelay is how long the watcher waits after the last file event
// before re-reading tenancy.yaml.
const DefaultReloadDelay = 500 * time.Millisecond

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithReloadDelay sets how long a burst of file events must be quiet before
// the server config is re-read.
func WithReloadDelay(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.delay = d }
}

// WithWatcherLogger sets the logger used for reload results.
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// Watcher hot-reloads the server config. Only settings that apply without a
// restart, such as log.level, are acted on by the caller; the rest of a
// reloaded Config is informational until the next start.
//
// The parent directory is watched rather than the file itself: editors save
// by renaming over the file and Kubernetes swaps the ..data symlink, both of
// which drop a watch on the file's inode.
type Watcher struct {
	source  *FileSource
	delay   time.Duration
	logger  *slog.Logger
	apply   func(ChangeEvent)
	current string // hash of the last config handed to apply

	fsw      *fsnotify.Watcher
	quit     chan struct{}
	quitOnce sync.Once
	running  sync.WaitGroup
}

// NewWatcher returns a Watcher that calls apply with every valid config
// whose content differs from the one loaded at Start.
func NewWatcher(source *FileSource, apply func(ChangeEvent), opts ...WatcherOption) *Watcher {
	w := &Watcher{
		source: source,
		delay:  DefaultReloadDelay,
		logger: slog.Default(),
		apply:  apply,
		quit:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start hashes the config as it stands and starts watching its directory.
func (w *Watcher) Start() error {
	hash, err := w.source.Hash(context.Background())
	if err != nil {
		return fmt.Errorf("watch %s: %w", w.source.Path(), err)
	}
	w.current = hash

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch %s: %w", w.source.Path(), err)
	}
	if err := fsw.Add(filepath.Dir(w.source.Path())); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watch %s: %w", w.source.Path(), err)
	}
	w.fsw = fsw

	w.running.Add(1)
	go w.run()
	return nil
}

// Stop ends watching. Repeated calls are no-ops.
func (w *Watcher) Stop() error {
	w.quitOnce.Do(func() { close(w.quit) })
	w.running.Wait()
	if w.fsw != nil {
		return w.fsw.Close()
	}
	return nil
}

// touches reports whether ev can change the contents seen at the config path.
func (w *Watcher) touches(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	switch filepath.Base(ev.Name) {
	case filepath.Base(w.source.Path()), "..data":
		return true
	}
	return false
}

func (w *Watcher) run() {
	defer w.running.Done()

	// Armed on the first relevant event and pushed back by each later one.
	timer := time.NewTimer(w.delay)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-w.quit:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if w.touches(ev) {
				timer.Reset(w.delay)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watch error", "path", w.source.Path(), "error", err)
		case <-timer.C:
			w.reload()
		}
	}
}

// reload re-reads the file and hands it to apply when its hash moved and it
// passes validation. An invalid file keeps the running config in place.
func (w *Watcher) reload() {
	ctx := context.Background()
	path := w.source.Path()

	hash, err := w.source.Hash(ctx)
	if err != nil {
		w.logger.Error("config reload skipped", "path", path, "error", err)
		return
	}
	if hash == w.current {
		return
	}
	cfg, err := w.source.Load(ctx)
	if err != nil {
		w.logger.Error("config reload rejected, keeping running config", "path", path, "error", err)
		return
	}

	prev := w.current
	w.current = hash
	w.logger.Info("config reloaded", "path", path, "hash", hash[:8])
	w.apply(ChangeEvent{Path: path, OldHash: prev, NewHash: hash, Config: cfg, Time: time.Now()})
}
