package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Manager loads the config file and watches it for changes.
//
// Only the dynamic subset of the config (logging level, notification
// knobs) is re-applied at runtime; structural settings such as database
// paths and pipeline periods require a restart and only produce a log
// line when they differ.
type Manager struct {
	path string
	log  zerolog.Logger

	mu     sync.RWMutex
	cfg    *Config
	onLoad func(*Config)
}

func NewManager(path string, log zerolog.Logger) *Manager {
	return &Manager{path: path, log: log}
}

// OnReload installs the callback invoked after every successful reload.
func (m *Manager) OnReload(fn func(*Config)) {
	m.mu.Lock()
	m.onLoad = fn
	m.mu.Unlock()
}

func (m *Manager) Load() (*Config, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	return cfg, nil
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Watch blocks until ctx is cancelled, reloading the config on file
// writes. Reload failures keep the previous config and log the error;
// a broken edit must never take the worker down.
func (m *Manager) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	// Watch the directory: editors replace files via rename, which drops
	// a watch placed on the file itself.
	if err := w.Add(filepath.Dir(m.path)); err != nil {
		return err
	}

	// Debounce to avoid reloading a half-written file.
	var timer *time.Timer
	var timerMu sync.Mutex
	reload := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(300*time.Millisecond, func() {
			cfg, err := m.Load()
			if err != nil {
				m.log.Error().Err(err).Msg("config reload failed; keeping previous config")
				return
			}
			m.log.Info().Str("path", m.path).Msg("config reloaded")
			m.mu.RLock()
			fn := m.onLoad
			m.mu.RUnlock()
			if fn != nil {
				fn(cfg)
			}
		})
	}

	file := filepath.Base(m.path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != file {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				reload()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			m.log.Warn().Err(err).Msg("config watcher error")
		}
	}
}
