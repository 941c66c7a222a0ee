package power

import (
	"log/slog"
	"time"

	"github.com/godbus/dbus/v5"
)

// EventKind is a logind power transition.
type EventKind string

const (
	EventSleep    EventKind = "sleep"
	EventWake     EventKind = "wake"
	EventShutdown EventKind = "shutdown"
)

// Event is one observed transition.
type Event struct {
	Kind EventKind
	Time time.Time
}

// SleepMonitor listens for systemd-logind PrepareForSleep and
// PrepareForShutdown signals.
type SleepMonitor struct {
	conn   *dbus.Conn
	done   chan struct{}
	events chan Event
	log    *slog.Logger
	now    func() time.Time
}

// NewSleepMonitor subscribes to logind on conn, which must be a system bus
// connection.
func NewSleepMonitor(conn *dbus.Conn, logger *slog.Logger) (*SleepMonitor, error) {
	for _, member := range []string{"PrepareForSleep", "PrepareForShutdown"} {
		err := conn.AddMatchSignal(
			dbus.WithMatchInterface(logindIface),
			dbus.WithMatchMember(member),
		)
		if err != nil {
			return nil, err
		}
	}

	m := newSleepMonitor(logger)
	m.conn = conn
	go m.listen()
	return m, nil
}

func newSleepMonitor(logger *slog.Logger) *SleepMonitor {
	return &SleepMonitor{
		done:   make(chan struct{}),
		events: make(chan Event, 8),
		log:    logger,
		now:    time.Now,
	}
}

// Events returns the channel of observed transitions. Events are dropped
// when the reader falls behind.
func (m *SleepMonitor) Events() <-chan Event {
	return m.events
}

// Close stops the monitor.
func (m *SleepMonitor) Close() {
	close(m.done)
}

func (m *SleepMonitor) listen() {
	ch := make(chan *dbus.Signal, 16)
	m.conn.Signal(ch)
	defer m.conn.RemoveSignal(ch)

	for {
		select {
		case sig := <-ch:
			m.handle(sig)
		case <-m.done:
			return
		}
	}
}

func (m *SleepMonitor) handle(sig *dbus.Signal) {
	if sig == nil || len(sig.Body) < 1 {
		return
	}
	active, ok := sig.Body[0].(bool)
	if !ok {
		return
	}

	var kind EventKind
	switch sig.Name {
	case logindIface + ".PrepareForShutdown":
		if !active {
			return
		}
		m.log.Info("system preparing for shutdown")
		kind = EventShutdown
	case logindIface + ".PrepareForSleep":
		if active {
			m.log.Info("system going to sleep")
			kind = EventSleep
		} else {
			m.log.Info("system woke up")
			kind = EventWake
		}
	default:
		return
	}

	select {
	case m.events <- Event{Kind: kind, Time: m.now()}:
	default:
		m.log.Warn("dropping power event, reader is behind", "kind", kind)
	}
}
