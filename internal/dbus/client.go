package dbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	godbus "github.com/godbus/dbus/v5"

	"github.com/cptspacemanspiff/idleforce/internal/control"
	"github.com/cptspacemanspiff/idleforce/internal/power"
)

// ErrNotRunning means no daemon owns the bus name.
var ErrNotRunning = errors.New("idleforced is not running")

// consentCallTimeout covers the authorization prompt plus the daemon's own
// status query.
const consentCallTimeout = 30 * time.Second

// Client talks to a running daemon.
type Client struct {
	conn *godbus.Conn
	obj  godbus.BusObject
}

// NewClient connects to the session bus.
func NewClient() (*Client, error) {
	conn, err := godbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	return &Client{conn: conn, obj: conn.Object(BusName, ObjPath)}, nil
}

// Close closes the bus connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) call(method string, args ...any) *godbus.Call {
	return c.obj.Call(IfaceName+"."+method, 0, args...)
}

func (c *Client) Pause() error {
	return fromDBusError(c.call("Pause").Err)
}

func (c *Client) Resume() error {
	return fromDBusError(c.call("Resume").Err)
}

func (c *Client) Status() (*control.Status, error) {
	var jsonStr string
	if err := c.call("GetStatus").Store(&jsonStr); err != nil {
		return nil, fromDBusError(err)
	}
	var st control.Status
	if err := json.Unmarshal([]byte(jsonStr), &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) SetMode(mode string) error {
	return fromDBusError(c.call("SetMode", mode).Err)
}

func (c *Client) SetTimeout(minutes int) error {
	return fromDBusError(c.call("SetTimeout", int32(minutes)).Err)
}

func (c *Client) SleepNow() (string, error) {
	var id string
	if err := c.call("SleepNow").Store(&id); err != nil {
		return "", fromDBusError(err)
	}
	return id, nil
}

func (c *Client) ShutdownNow() (string, error) {
	var id string
	if err := c.call("ShutdownNow").Store(&id); err != nil {
		return "", fromDBusError(err)
	}
	return id, nil
}

// SetGuaranteedSleep returns a *power.PolicyError when the daemon could not
// turn the policy on.
func (c *Client) SetGuaranteedSleep(enabled bool) (reconfigured bool, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), consentCallTimeout)
	defer cancel()
	call := c.obj.CallWithContext(ctx, IfaceName+".SetGuaranteedSleep", 0, enabled)
	if err := call.Store(&reconfigured); err != nil {
		return false, fromDBusError(err)
	}
	return reconfigured, nil
}

func (c *Client) SetStartOnLogin(enabled bool) error {
	return fromDBusError(c.call("SetStartOnLogin", enabled).Err)
}

func (c *Client) History(from, to time.Time) (*control.History, error) {
	var jsonStr string
	if err := c.call("GetHistory", from.Unix(), to.Unix()).Store(&jsonStr); err != nil {
		return nil, fromDBusError(err)
	}
	var h control.History
	if err := json.Unmarshal([]byte(jsonStr), &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// fromDBusError maps the service's error names back to Go errors.
func fromDBusError(err error) error {
	if err == nil {
		return nil
	}

	var derr godbus.Error
	if pe, ok := err.(*godbus.Error); ok {
		derr = *pe
	} else if !errors.As(err, &derr) {
		return err
	}

	msg := errorMessage(derr)
	switch {
	case derr.Name == "org.freedesktop.DBus.Error.ServiceUnknown",
		derr.Name == "org.freedesktop.DBus.Error.NameHasNoOwner":
		return ErrNotRunning
	case derr.Name == ErrNameInvalidArgument:
		return fmt.Errorf("%w: %s", control.ErrInvalidArgument, msg)
	case strings.HasPrefix(derr.Name, policyPrefix):
		kind := power.PolicyErrorKind(strings.TrimPrefix(derr.Name, policyPrefix))
		return &power.PolicyError{Kind: kind, Err: errors.New(msg)}
	case derr.Name == ErrNameFailed:
		return errors.New(msg)
	default:
		return err
	}
}

func errorMessage(e godbus.Error) string {
	if len(e.Body) > 0 {
		if s, ok := e.Body[0].(string); ok {
			return s
		}
	}
	return e.Name
}
