package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// ChangeFunc receives the previous and reloaded config and their [Diff].
type ChangeFunc func(old, new *Config, diff ConfigDiff)

// Watcher keeps the config file and the running process in step. [Watcher.Run]
// polls the file's modification time; [Watcher.Reload] forces a read, e.g.
// on SIGHUP. Edits that fail to parse or validate are logged and the previous
// config stays current. The callback only fires when a setting changed.
type Watcher struct {
	path     string
	interval time.Duration
	lookup   func(string) (string, bool)
	onChange ChangeFunc

	// reload serialises Reload so callbacks arrive in file order.
	reload sync.Mutex

	mu      sync.Mutex
	current *Config
	mtime   time.Time
	sum     [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithEnv applies [ApplyEnv] with lookup to every load, so settings supplied
// through the environment survive a reload.
func WithEnv(lookup func(string) (string, bool)) WatcherOption {
	return func(w *Watcher) { w.lookup = lookup }
}

// NewWatcher loads path once and returns a Watcher holding the result.
func NewWatcher(path string, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, interval: 5 * time.Second, onChange: onChange}
	for _, opt := range opts {
		opt(w)
	}
	cfg, sum, mtime, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.sum, w.mtime = cfg, sum, mtime
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls until ctx is done. It always returns nil.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			info, err := os.Stat(w.path)
			if err != nil {
				slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
				continue
			}
			w.mu.Lock()
			unchanged := info.ModTime().Equal(w.mtime)
			w.mu.Unlock()
			if unchanged {
				continue
			}
			if _, err := w.Reload(); err != nil {
				slog.Warn("config watcher: reload rejected", "path", w.path, "err", err)
			}
		}
	}
}

// Reload reads the file now. It reports whether a setting changed, in which
// case the callback has already run. On error the current config is kept.
func (w *Watcher) Reload() (bool, error) {
	w.reload.Lock()
	defer w.reload.Unlock()

	cfg, sum, mtime, err := w.read()
	if err != nil {
		// Remember the mtime so a broken file is reported once per edit.
		if info, statErr := os.Stat(w.path); statErr == nil {
			w.mu.Lock()
			w.mtime = info.ModTime()
			w.mu.Unlock()
		}
		return false, err
	}

	w.mu.Lock()
	w.mtime = mtime
	if sum == w.sum {
		w.mu.Unlock()
		return false, nil
	}
	old := w.current
	w.current, w.sum = cfg, sum
	w.mu.Unlock()

	diff := Diff(old, cfg)
	if !diff.HasChanges() {
		return false, nil
	}
	slog.Info("config watcher: configuration reloaded",
		"path", w.path,
		"log_level_changed", diff.LogLevelChanged,
		"restart_required", diff.RestartRequired,
	)
	if w.onChange != nil {
		w.onChange(old, cfg, diff)
	}
	return true, nil
}

func (w *Watcher) read() (*Config, [sha256.Size]byte, time.Time, error) {
	var zero [sha256.Size]byte
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	if w.lookup != nil {
		if err := ApplyEnv(cfg, w.lookup); err != nil {
			return nil, zero, time.Time{}, err
		}
	}
	return cfg, sha256.Sum256(data), info.ModTime(), nil
}
