package config

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watcherTestYAML = `
relational:
  driver: sqlite
  dsn: "file::memory:"
log:
  level: info
`

const watcherTestYAMLv2 = `
relational:
  driver: sqlite
  dsn: "file::memory:"
log:
  level: debug
`

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func waitFor(cond func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}

func TestWatcher_DetectsChange(t *testing.T) {
	fp := filepath.Join(t.TempDir(), "tenancy.yaml")
	writeConfig(t, fp, watcherTestYAML)

	var called atomic.Int32
	var mu sync.Mutex
	var lastEvt ChangeEvent

	w := NewWatcher(NewFileSource(fp), func(evt ChangeEvent) {
		mu.Lock()
		lastEvt = evt
		mu.Unlock()
		called.Add(1)
	}, WithReloadDelay(50*time.Millisecond))
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() { _ = w.Stop() })

	time.Sleep(100 * time.Millisecond)
	writeConfig(t, fp, watcherTestYAMLv2)

	if !waitFor(func() bool { return called.Load() > 0 }, 2*time.Second) {
		t.Fatal("onChange was not called after file modification")
	}

	mu.Lock()
	evt := lastEvt
	mu.Unlock()
	if evt.Config == nil {
		t.Fatal("onChange event has nil Config")
	}
	if evt.Config.Log.Level != "debug" {
		t.Errorf("reloaded log level = %q, want debug", evt.Config.Log.Level)
	}
	if evt.OldHash == evt.NewHash {
		t.Error("expected old and new hashes to differ")
	}
	if evt.Path != fp {
		t.Errorf("event path = %q, want %q", evt.Path, fp)
	}
}

func TestWatcher_SkipUnchangedContent(t *testing.T) {
	fp := filepath.Join(t.TempDir(), "tenancy.yaml")
	writeConfig(t, fp, watcherTestYAML)

	var called atomic.Int32
	w := NewWatcher(NewFileSource(fp), func(ChangeEvent) { called.Add(1) }, WithReloadDelay(50*time.Millisecond))
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() { _ = w.Stop() })

	time.Sleep(100 * time.Millisecond)
	writeConfig(t, fp, watcherTestYAML)
	time.Sleep(300 * time.Millisecond)

	if called.Load() != 0 {
		t.Errorf("onChange called %d times for unchanged content", called.Load())
	}
}

func TestWatcher_RejectsInvalidConfig(t *testing.T) {
	fp := filepath.Join(t.TempDir(), "tenancy.yaml")
	writeConfig(t, fp, watcherTestYAML)

	var called atomic.Int32
	w := NewWatcher(NewFileSource(fp), func(ChangeEvent) { called.Add(1) }, WithReloadDelay(50*time.Millisecond))
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() { _ = w.Stop() })

	time.Sleep(100 * time.Millisecond)
	writeConfig(t, fp, "log:\n  level: loud\n")
	time.Sleep(300 * time.Millisecond)
	if called.Load() != 0 {
		t.Fatal("invalid config was delivered")
	}

	writeConfig(t, fp, watcherTestYAMLv2)
	if !waitFor(func() bool { return called.Load() == 1 }, 2*time.Second) {
		t.Fatal("valid config after a rejected one was not delivered")
	}
}

func TestWatcher_StopCleanup(t *testing.T) {
	fp := filepath.Join(t.TempDir(), "tenancy.yaml")
	writeConfig(t, fp, watcherTestYAML)

	w := NewWatcher(NewFileSource(fp), func(ChangeEvent) {}, WithReloadDelay(50*time.Millisecond))
	if err := w.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- w.Stop() }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Stop() returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() timed out")
	}
	if err := w.Stop(); err != nil {
		t.Errorf("second Stop() returned error: %v", err)
	}
}

func TestWatcher_StartMissingFile(t *testing.T) {
	w := NewWatcher(NewFileSource(filepath.Join(t.TempDir(), "missing.yaml")), func(ChangeEvent) {})
	if err := w.Start(); err == nil {
		t.Fatal("expected error for a missing file")
	}
}

func TestWatcher_TouchesOnlyConfigPath(t *testing.T) {
	dir := t.TempDir()
	w := NewWatcher(NewFileSource(filepath.Join(dir, "tenancy.yaml")), func(ChangeEvent) {})

	tests := []struct {
		name string
		ev   fsnotify.Event
		want bool
	}{
		{"write to config", fsnotify.Event{Name: filepath.Join(dir, "tenancy.yaml"), Op: fsnotify.Write}, true},
		{"rename over config", fsnotify.Event{Name: filepath.Join(dir, "tenancy.yaml"), Op: fsnotify.Rename}, true},
		{"configmap symlink swap", fsnotify.Event{Name: filepath.Join(dir, "..data"), Op: fsnotify.Create}, true},
		{"sibling file", fsnotify.Event{Name: filepath.Join(dir, "other.yaml"), Op: fsnotify.Write}, false},
		{"chmod only", fsnotify.Event{Name: filepath.Join(dir, "tenancy.yaml"), Op: fsnotify.Chmod}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := w.touches(tt.ev); got != tt.want {
				t.Errorf("touches(%v) = %v, want %v", tt.ev, got, tt.want)
			}
		})
	}
}
