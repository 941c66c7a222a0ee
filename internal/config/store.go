package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Store holds the live settings. Readers get whole snapshots so a tick
// never sees half of an update. Paused is runtime state and is never
// written to disk.
type Store struct {
	mu     sync.RWMutex
	path   string
	cfg    Config
	paused bool
	log    *slog.Logger
}

// OpenStore loads path, writing the defaults when the file does not exist
// yet. Out-of-range values are replaced by defaults and logged.
func OpenStore(path string, logger *slog.Logger) (*Store, error) {
	s := &Store{path: filepath.Clean(path), log: logger}

	cfg, corrections, err := Load(s.path)
	switch {
	case err == nil:
		s.logCorrections(corrections)
	case os.IsNotExist(err):
		cfg = DefaultConfig()
		if err := Save(s.path, cfg); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
		logger.Info("wrote default config", "path", s.path)
	default:
		return nil, fmt.Errorf("load config: %w", err)
	}

	s.cfg = *cfg
	return s, nil
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Config returns a copy of the current settings.
func (s *Store) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// RunConfig returns the scheduler's view of the current settings.
func (s *Store) RunConfig() RunConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rc := s.cfg.RunConfig()
	rc.Paused = s.paused
	return rc
}

// SetPaused sets the runtime pause flag.
func (s *Store) SetPaused(paused bool) {
	s.mu.Lock()
	s.paused = paused
	s.mu.Unlock()
}

// Update applies fn to a copy of the settings, validates and saves the
// result, and only then makes it visible. On error nothing changes.
func (s *Store) Update(fn func(*Config)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cfg
	fn(&next)
	sanitized, err := NormalizeAndValidate(&next)
	if err != nil {
		return err
	}
	if err := Save(s.path, sanitized); err != nil {
		return err
	}
	s.cfg = *sanitized
	return nil
}

// Reload re-reads the file. guaranteed_sleep is kept at its current value:
// it may only change through the guaranteed-sleep policy, never by editing
// the file.
func (s *Store) Reload() error {
	cfg, corrections, err := Load(s.path)
	if err != nil {
		return err
	}
	s.logCorrections(corrections)

	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg.Run.GuaranteedSleep != s.cfg.Run.GuaranteedSleep {
		s.log.Warn("ignoring guaranteed_sleep change from config file; use the control surface",
			"file", cfg.Run.GuaranteedSleep, "current", s.cfg.Run.GuaranteedSleep)
		cfg.Run.GuaranteedSleep = s.cfg.Run.GuaranteedSleep
	}
	if *cfg != s.cfg {
		s.log.Info("config reloaded", "mode", cfg.Run.Mode, "timeout_minutes", cfg.Run.TimeoutMinutes,
			"check_interval_seconds", cfg.Run.CheckIntervalSeconds)
	}
	s.cfg = *cfg
	return nil
}

// Watch reloads the settings whenever the file is written or replaced,
// until ctx is done.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory: Save replaces the file by rename.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(s.path), err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != s.path {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if err := s.Reload(); err != nil {
					s.log.Warn("config reload failed, keeping current settings", "err", err)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.log.Warn("config watcher error", "err", err)
			}
		}
	}()
	return nil
}

func (s *Store) logCorrections(corrections []Correction) {
	for _, c := range corrections {
		s.log.Warn("config value replaced by default", "field", c.Field, "value", c.Value, "default", c.Default)
	}
}
