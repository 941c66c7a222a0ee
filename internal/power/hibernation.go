package power

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	logindName  = "org.freedesktop.login1"
	logindPath  = "/org/freedesktop/login1"
	logindIface = "org.freedesktop.login1.Manager"

	systemdName  = "org.freedesktop.systemd1"
	systemdPath  = "/org/freedesktop/systemd1"
	systemdIface = "org.freedesktop.systemd1.Manager"
)

// HibernationProber reports whether a sleep request could still end up in
// hibernation.
type HibernationProber interface {
	HibernationEnabled(ctx context.Context) (bool, error)
}

// LogindProber asks logind and systemd over the system bus.
type LogindProber struct {
	conn *dbus.Conn
}

func NewLogindProber(conn *dbus.Conn) *LogindProber {
	return &LogindProber{conn: conn}
}

// HibernationEnabled implements HibernationProber.
func (p *LogindProber) HibernationEnabled(ctx context.Context) (bool, error) {
	var can string
	err := p.conn.Object(logindName, logindPath).
		CallWithContext(ctx, logindIface+".CanHibernate", 0).Store(&can)
	if err != nil {
		return false, fmt.Errorf("query CanHibernate: %w", err)
	}

	var unitState string
	err = p.conn.Object(systemdName, systemdPath).
		CallWithContext(ctx, systemdIface+".GetUnitFileState", 0, hibernateUnits[0]).Store(&unitState)
	if err != nil {
		return false, fmt.Errorf("query %s state: %w", hibernateUnits[0], err)
	}

	return hibernationEnabled(can, unitState), nil
}

// hibernationEnabled combines logind's CanHibernate answer with the unit
// file state of hibernate.target.
func hibernationEnabled(canHibernate, unitState string) bool {
	switch unitState {
	case "masked", "masked-runtime":
		return false
	}
	switch canHibernate {
	case "yes", "challenge":
		return true
	default:
		return false
	}
}
