package dbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	godbus "github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/cptspacemanspiff/idleforce/internal/control"
	"github.com/cptspacemanspiff/idleforce/internal/power"
)

const (
	BusName   = "org.idleforce.Daemon"
	ObjPath   = "/org/idleforce/Daemon"
	IfaceName = "org.idleforce.Daemon"

	errorPrefix  = "org.idleforce.Error."
	policyPrefix = errorPrefix + "GuaranteedSleep."

	maxHistoryRange = 366 * 86400
)

// Error names returned by the service.
const (
	ErrNameInvalidArgument = errorPrefix + "InvalidArgument"
	ErrNameFailed          = errorPrefix + "Failed"
)

const introspectXML = `
<node>
  <interface name="` + IfaceName + `">
    <method name="Pause"/>
    <method name="Resume"/>
    <method name="GetStatus">
      <arg direction="out" type="s" name="json"/>
    </method>
    <method name="SetMode">
      <arg direction="in" type="s" name="mode"/>
    </method>
    <method name="SetTimeout">
      <arg direction="in" type="i" name="minutes"/>
    </method>
    <method name="SleepNow">
      <arg direction="out" type="s" name="action_id"/>
    </method>
    <method name="ShutdownNow">
      <arg direction="out" type="s" name="action_id"/>
    </method>
    <method name="SetGuaranteedSleep">
      <arg direction="in" type="b" name="enabled"/>
      <arg direction="out" type="b" name="reconfigured"/>
    </method>
    <method name="SetStartOnLogin">
      <arg direction="in" type="b" name="enabled"/>
    </method>
    <method name="GetHistory">
      <arg direction="in" type="x" name="from_epoch"/>
      <arg direction="in" type="x" name="to_epoch"/>
      <arg direction="out" type="s" name="json"/>
    </method>
  </interface>
` + introspect.IntrospectDataString + `
</node>`

// Controller is the control surface the service exposes.
// *control.Controller implements it.
type Controller interface {
	Pause()
	Resume()
	Status() control.Status
	SetMode(name string) error
	SetTimeout(minutes int) error
	SleepNow() string
	ShutdownNow() string
	SetGuaranteedSleep(ctx context.Context, on bool) (bool, error)
	SetStartOnLogin(on bool) error
	History(from, to int64) (control.History, error)
}

// Service exposes the daemon over D-Bus.
type Service struct {
	ctl Controller
}

// NewService creates a new D-Bus service.
func NewService(ctl Controller) *Service {
	return &Service{ctl: ctl}
}

// ErrAlreadyRunning means another daemon owns the bus name.
var ErrAlreadyRunning = errors.New("name " + BusName + " already taken, is another instance running?")

// nameRequester is the part of *godbus.Conn that claims a bus name.
type nameRequester interface {
	RequestName(name string, flags godbus.RequestNameFlags) (godbus.RequestNameReply, error)
}

// Claim connects to the session bus and takes BusName without queueing. It
// is the single-instance guard: call it before touching any shared state.
func Claim() (*godbus.Conn, error) {
	conn, err := godbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	if err := claimName(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

func claimName(conn nameRequester) error {
	reply, err := conn.RequestName(BusName, godbus.NameFlagDoNotQueue)
	if err != nil {
		return fmt.Errorf("request name: %w", err)
	}
	if reply != godbus.RequestNameReplyPrimaryOwner {
		return ErrAlreadyRunning
	}
	return nil
}

// Export publishes the service object and its introspection data on conn.
func (s *Service) Export(conn *godbus.Conn) error {
	if err := conn.Export(s, ObjPath, IfaceName); err != nil {
		return fmt.Errorf("export service: %w", err)
	}
	if err := conn.Export(introspect.Introspectable(introspectXML), ObjPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("export introspection: %w", err)
	}
	return nil
}

func (s *Service) Pause() *godbus.Error {
	s.ctl.Pause()
	return nil
}

func (s *Service) Resume() *godbus.Error {
	s.ctl.Resume()
	return nil
}

// GetStatus returns the control.Status snapshot as JSON.
func (s *Service) GetStatus() (string, *godbus.Error) {
	return marshal(s.ctl.Status())
}

func (s *Service) SetMode(mode string) *godbus.Error {
	return toDBusError(s.ctl.SetMode(mode))
}

func (s *Service) SetTimeout(minutes int32) *godbus.Error {
	return toDBusError(s.ctl.SetTimeout(int(minutes)))
}

func (s *Service) SleepNow() (string, *godbus.Error) {
	return s.ctl.SleepNow(), nil
}

func (s *Service) ShutdownNow() (string, *godbus.Error) {
	return s.ctl.ShutdownNow(), nil
}

// SetGuaranteedSleep may block while the user answers an authorization
// prompt.
func (s *Service) SetGuaranteedSleep(enabled bool) (bool, *godbus.Error) {
	reconfigured, err := s.ctl.SetGuaranteedSleep(context.Background(), enabled)
	if err != nil {
		return false, toDBusError(err)
	}
	return reconfigured, nil
}

func (s *Service) SetStartOnLogin(enabled bool) *godbus.Error {
	return toDBusError(s.ctl.SetStartOnLogin(enabled))
}

// GetHistory returns journal entries in a time range as JSON.
func (s *Service) GetHistory(fromEpoch, toEpoch int64) (string, *godbus.Error) {
	if err := validateTimeRange(fromEpoch, toEpoch); err != nil {
		return "", err
	}
	h, err := s.ctl.History(fromEpoch, toEpoch)
	if err != nil {
		return "", toDBusError(err)
	}
	return marshal(h)
}

func validateTimeRange(from, to int64) *godbus.Error {
	switch {
	case from < 0 || to < 0:
		return invalidArgument("time range must not be negative")
	case to < from:
		return invalidArgument("to_epoch is before from_epoch")
	case to-from > maxHistoryRange:
		return invalidArgument("time range longer than 366 days")
	}
	return nil
}

func invalidArgument(msg string) *godbus.Error {
	return godbus.NewError(ErrNameInvalidArgument, []any{msg})
}

func marshal(v any) (string, *godbus.Error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", godbus.MakeFailedError(err)
	}
	return string(data), nil
}

// toDBusError gives each error class a stable D-Bus error name.
func toDBusError(err error) *godbus.Error {
	if err == nil {
		return nil
	}

	var pe *power.PolicyError
	switch {
	case errors.As(err, &pe):
		return godbus.NewError(policyPrefix+string(pe.Kind), []any{pe.Detail()})
	case errors.Is(err, control.ErrInvalidArgument):
		return godbus.NewError(ErrNameInvalidArgument, []any{err.Error()})
	default:
		return godbus.NewError(ErrNameFailed, []any{err.Error()})
	}
}
