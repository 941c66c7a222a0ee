package main

import (
	"errors"
	"sync"
	"time"

	"github.com/cptspacemanspiff/idleforce/internal/control"
	dbusclient "github.com/cptspacemanspiff/idleforce/internal/dbus"
)

// daemon is the part of the D-Bus client the tray calls.
type daemon interface {
	Pause() error
	Resume() error
	Status() (*control.Status, error)
	SetMode(mode string) error
	SetTimeout(minutes int) error
	SleepNow() (string, error)
	ShutdownNow() (string, error)
	SetGuaranteedSleep(enabled bool) (bool, error)
	SetStartOnLogin(enabled bool) error
	History(from, to time.Time) (*control.History, error)
	Close() error
}

func dial() (daemon, error) {
	c, err := dbusclient.NewClient()
	if err != nil {
		return nil, err
	}
	return c, nil
}

// reconnector holds one daemon connection and redials after the daemon
// went away, so the tray survives idleforced restarts.
type reconnector struct {
	dial func() (daemon, error)

	mu   sync.Mutex
	conn daemon
}

func (r *reconnector) do(fn func(d daemon) error) error {
	r.mu.Lock()
	if r.conn == nil {
		c, err := r.dial()
		if err != nil {
			r.mu.Unlock()
			return err
		}
		r.conn = c
	}
	c := r.conn
	r.mu.Unlock()

	err := fn(c)
	if errors.Is(err, dbusclient.ErrNotRunning) {
		r.mu.Lock()
		if r.conn == c {
			r.conn.Close()
			r.conn = nil
		}
		r.mu.Unlock()
	}
	return err
}

func (r *reconnector) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}
}
