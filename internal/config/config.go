package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	minTimeoutMinutes       = 1
	maxTimeoutMinutes       = 1440
	minCheckIntervalSeconds = 1
	maxCheckIntervalSeconds = 60
	minRetentionDays        = 1
	maxRetentionDays        = 3650
)

// TimeoutPresets are the timeouts offered by menus, in minutes.
var TimeoutPresets = []int{1, 2, 5, 10, 15, 20, 30, 45}

type Config struct {
	Run     RunSection     `toml:"run"`
	Startup StartupSection `toml:"startup"`
	Storage StorageConfig  `toml:"storage"`
	History HistoryConfig  `toml:"history"`
}

type RunSection struct {
	Mode                 string `toml:"mode"`
	TimeoutMinutes       int    `toml:"timeout_minutes"`
	CheckIntervalSeconds int    `toml:"check_interval_seconds"`
	GuaranteedSleep      bool   `toml:"guaranteed_sleep"`
}

type StartupSection struct {
	StartOnLogin bool `toml:"start_on_login"`
}

type StorageConfig struct {
	DBPath string `toml:"db_path"`
}

type HistoryConfig struct {
	RetentionDays int `toml:"retention_days"`
}

// RunConfig is the per-tick view of the settings the scheduler acts on.
type RunConfig struct {
	Mode            Mode
	Timeout         time.Duration
	CheckInterval   time.Duration
	GuaranteedSleep bool
	Paused          bool
}

// Correction records an out-of-range value that was replaced by its default.
type Correction struct {
	Field   string
	Value   any
	Default any
}

func (c Correction) String() string {
	return fmt.Sprintf("%s: %v out of range, using %v", c.Field, c.Value, c.Default)
}

func DefaultConfig() *Config {
	return &Config{
		Run: RunSection{
			Mode:                 ModeSleep.String(),
			TimeoutMinutes:       15,
			CheckIntervalSeconds: 5,
		},
		Storage: StorageConfig{
			DBPath: filepath.Join(dataHome(), "idleforce", "history.db"),
		},
		History: HistoryConfig{
			RetentionDays: 30,
		},
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/idleforce/config.toml.
func DefaultPath() string {
	return filepath.Join(ConfigHome(), "idleforce", "config.toml")
}

// ConfigHome returns $XDG_CONFIG_HOME, falling back to ~/.config.
func ConfigHome() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config")
}

func dataHome() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share")
}

// Load reads the config file and clamps out-of-range values to their
// defaults. A missing file is returned as an os.IsNotExist error.
func Load(path string) (*Config, []Correction, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, nil, err
	}

	sanitized, corrections := Sanitize(cfg)
	return sanitized, corrections, nil
}

// Sanitize returns a copy of cfg with every invalid value replaced by its
// default, and the list of replacements made.
func Sanitize(cfg *Config) (*Config, []Correction) {
	def := DefaultConfig()
	if cfg == nil {
		return def, nil
	}

	sanitized := *cfg
	var corrections []Correction

	if mode, err := ParseMode(sanitized.Run.Mode); err != nil {
		corrections = append(corrections, Correction{"run.mode", sanitized.Run.Mode, def.Run.Mode})
		sanitized.Run.Mode = def.Run.Mode
	} else {
		sanitized.Run.Mode = mode.String()
	}

	clamp := func(name string, v *int, min, max, fallback int) {
		if *v < min || *v > max {
			corrections = append(corrections, Correction{name, *v, fallback})
			*v = fallback
		}
	}
	clamp("run.timeout_minutes", &sanitized.Run.TimeoutMinutes, minTimeoutMinutes, maxTimeoutMinutes, def.Run.TimeoutMinutes)
	clamp("run.check_interval_seconds", &sanitized.Run.CheckIntervalSeconds, minCheckIntervalSeconds, maxCheckIntervalSeconds, def.Run.CheckIntervalSeconds)
	clamp("history.retention_days", &sanitized.History.RetentionDays, minRetentionDays, maxRetentionDays, def.History.RetentionDays)

	if path, err := sanitizePath("storage.db_path", sanitized.Storage.DBPath); err != nil {
		corrections = append(corrections, Correction{"storage.db_path", sanitized.Storage.DBPath, def.Storage.DBPath})
		sanitized.Storage.DBPath = def.Storage.DBPath
	} else {
		sanitized.Storage.DBPath = path
	}

	return &sanitized, corrections
}

// NormalizeAndValidate rejects any invalid value. It guards Save so that a
// bad value is never written to disk.
func NormalizeAndValidate(cfg *Config) (*Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}

	sanitized := *cfg

	mode, err := ParseMode(sanitized.Run.Mode)
	if err != nil {
		return nil, fmt.Errorf("run.mode: %w", err)
	}
	sanitized.Run.Mode = mode.String()

	sanitized.Storage.DBPath, err = sanitizePath("storage.db_path", sanitized.Storage.DBPath)
	if err != nil {
		return nil, err
	}

	if err := validateRange("run.timeout_minutes", sanitized.Run.TimeoutMinutes, minTimeoutMinutes, maxTimeoutMinutes); err != nil {
		return nil, err
	}
	if err := validateRange("run.check_interval_seconds", sanitized.Run.CheckIntervalSeconds, minCheckIntervalSeconds, maxCheckIntervalSeconds); err != nil {
		return nil, err
	}
	if err := validateRange("history.retention_days", sanitized.History.RetentionDays, minRetentionDays, maxRetentionDays); err != nil {
		return nil, err
	}

	return &sanitized, nil
}

// ValidateTimeout checks a timeout in minutes against the accepted range.
func ValidateTimeout(minutes int) error {
	return validateRange("run.timeout_minutes", minutes, minTimeoutMinutes, maxTimeoutMinutes)
}

func Save(path string, cfg *Config) error {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return fmt.Errorf("config path must not be empty")
	}

	sanitized, err := NormalizeAndValidate(cfg)
	if err != nil {
		return err
	}

	var data bytes.Buffer
	if err := toml.NewEncoder(&data).Encode(sanitized); err != nil {
		return fmt.Errorf("encode config TOML: %w", err)
	}

	dir := filepath.Dir(trimmedPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".config-*.toml")
	if err != nil {
		return fmt.Errorf("create temp config file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		if tmpPath != "" {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data.Bytes()); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("write temp config file: %w", err)
	}
	if err := tmpFile.Chmod(0o644); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("chmod temp config file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp config file: %w", err)
	}
	if err := os.Rename(tmpPath, trimmedPath); err != nil {
		return fmt.Errorf("replace config file: %w", err)
	}
	tmpPath = ""

	return nil
}

// RunConfig converts the run section into durations. cfg must have passed
// Sanitize or NormalizeAndValidate.
func (c *Config) RunConfig() RunConfig {
	mode, _ := ParseMode(c.Run.Mode)
	return RunConfig{
		Mode:            mode,
		Timeout:         time.Duration(c.Run.TimeoutMinutes) * time.Minute,
		CheckInterval:   time.Duration(c.Run.CheckIntervalSeconds) * time.Second,
		GuaranteedSleep: c.Run.GuaranteedSleep,
	}
}

func sanitizePath(name, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("%s must not be empty", name)
	}
	cleaned := filepath.Clean(trimmed)
	if !filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("%s must be an absolute path, got %q", name, value)
	}
	return cleaned, nil
}

func validateRange(name string, value, min, max int) error {
	if value < min || value > max {
		return fmt.Errorf("%s must be between %d and %d, got %d", name, min, max, value)
	}

	return nil
}
