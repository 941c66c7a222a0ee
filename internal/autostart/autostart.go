// Package autostart manages the XDG autostart entry that starts the daemon
// at login.
package autostart

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	goautostart "github.com/emersion/go-autostart"
)

const appName = "idleforce"

// launcher is the part of goautostart.App the entry drives.
type launcher interface {
	IsEnabled() bool
	Enable() error
	Disable() error
}

// Entry is the desktop file under $XDG_CONFIG_HOME/autostart.
type Entry struct {
	app  launcher
	path string
}

// New returns the entry that runs execPath at login.
func New(execPath string) *Entry {
	app := &goautostart.App{
		Name:        appName,
		DisplayName: "IdleForce",
		Exec:        []string{execPath},
	}
	return newEntry(app, defaultPath())
}

func newEntry(app launcher, path string) *Entry {
	return &Entry{app: app, path: path}
}

// defaultPath mirrors where goautostart writes the desktop file.
func defaultPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		dir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(dir, "autostart", appName+".desktop")
}

// Path returns the desktop file location.
func (e *Entry) Path() string {
	return e.path
}

// IsEnabled reports whether the entry exists and the user has not hidden or
// disabled it from their session settings.
func (e *Entry) IsEnabled() bool {
	if !e.app.IsEnabled() {
		return false
	}
	f, err := os.Open(e.path)
	if err != nil {
		return true
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "Hidden":
			if strings.EqualFold(value, "true") {
				return false
			}
		case "X-GNOME-Autostart-enabled":
			if strings.EqualFold(value, "false") {
				return false
			}
		}
	}
	return true
}

// SetEnabled writes or removes the entry. Enabling rewrites an entry the
// user had hidden.
func (e *Entry) SetEnabled(enabled bool) error {
	if enabled {
		if err := e.app.Enable(); err != nil {
			return fmt.Errorf("write autostart entry: %w", err)
		}
		return nil
	}
	if !e.app.IsEnabled() {
		return nil
	}
	if err := e.app.Disable(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove autostart entry: %w", err)
	}
	return nil
}
