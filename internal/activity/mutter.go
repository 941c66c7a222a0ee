package activity

import (
	"context"
	"fmt"
	"time"

	"github.com/godbus/dbus/v5"
)

const (
	mutterBusName = "org.gnome.Mutter.IdleMonitor"
	mutterPath    = "/org/gnome/Mutter/IdleMonitor/Core"
	mutterMethod  = "org.gnome.Mutter.IdleMonitor.GetIdletime"
)

// MutterIdle asks GNOME Shell for the session idle time. It works on
// Wayland sessions where the X screensaver extension is not available.
type MutterIdle struct {
	obj dbus.BusObject
}

// NewMutterIdle binds to the Mutter idle monitor on the given session bus.
func NewMutterIdle(conn *dbus.Conn) *MutterIdle {
	return &MutterIdle{obj: conn.Object(mutterBusName, mutterPath)}
}

// Name implements IdleQuerier.
func (m *MutterIdle) Name() string { return "mutter" }

// IdleTime implements IdleQuerier.
func (m *MutterIdle) IdleTime(ctx context.Context) (time.Duration, error) {
	var ms uint64
	if err := m.obj.CallWithContext(ctx, mutterMethod, 0).Store(&ms); err != nil {
		return 0, fmt.Errorf("GetIdletime: %w", err)
	}
	return time.Duration(ms) * time.Millisecond, nil
}
