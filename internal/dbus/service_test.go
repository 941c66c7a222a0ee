package dbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	godbus "github.com/godbus/dbus/v5"

	"github.com/cptspacemanspiff/idleforce/internal/control"
	"github.com/cptspacemanspiff/idleforce/internal/power"
	"github.com/cptspacemanspiff/idleforce/internal/privileged"
	"github.com/cptspacemanspiff/idleforce/internal/storage"
)

type fakeController struct {
	paused     bool
	mode       string
	timeout    int
	policyErr  error
	startupErr error
	history    control.History
}

func (f *fakeController) Pause()  { f.paused = true }
func (f *fakeController) Resume() { f.paused = false }

func (f *fakeController) Status() control.Status {
	left := int64(30)
	return control.Status{Paused: f.paused, IdleSeconds: 870, Mode: "sleep", TimeoutMinutes: 15, TimeUntilActionSeconds: &left}
}

func (f *fakeController) SetMode(name string) error {
	if name != "sleep" && name != "shutdown" {
		return fmt.Errorf("%w: unknown mode %q", control.ErrInvalidArgument, name)
	}
	f.mode = name
	return nil
}

func (f *fakeController) SetTimeout(minutes int) error {
	if minutes < 1 || minutes > 1440 {
		return fmt.Errorf("%w: timeout out of range", control.ErrInvalidArgument)
	}
	f.timeout = minutes
	return nil
}

func (f *fakeController) SleepNow() string    { return "sleep-id" }
func (f *fakeController) ShutdownNow() string { return "shutdown-id" }

func (f *fakeController) SetGuaranteedSleep(context.Context, bool) (bool, error) {
	if f.policyErr != nil {
		return false, f.policyErr
	}
	return true, nil
}

func (f *fakeController) SetStartOnLogin(bool) error { return f.startupErr }

func (f *fakeController) History(from, to int64) (control.History, error) {
	return f.history, nil
}

func TestService_InvalidTimeRanges(t *testing.T) {
	svc := NewService(&fakeController{})

	tests := []struct {
		name     string
		from, to int64
	}{
		{"negative from", -1, 0},
		{"to before from", 10, 9},
		{"range too large", 0, 86400 * 367},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.GetHistory(tt.from, tt.to)
			if err == nil {
				t.Fatal("expected D-Bus error, got nil")
			}
			if err.Name != ErrNameInvalidArgument {
				t.Fatalf("error name = %s, want %s", err.Name, ErrNameInvalidArgument)
			}
		})
	}
}

func TestService_JSONShapes(t *testing.T) {
	ctl := &fakeController{history: control.History{
		Actions:     []storage.ActionEvent{{ID: "a", Timestamp: 100, Trigger: "idle", Action: "sleep", Outcome: "requested"}},
		PowerEvents: []storage.PowerEvent{{Timestamp: 160, Type: "wake"}},
	}}
	svc := NewService(ctl)

	statusJSON, derr := svc.GetStatus()
	if derr != nil {
		t.Fatalf("GetStatus() error = %v", derr)
	}
	var status map[string]any
	if err := json.Unmarshal([]byte(statusJSON), &status); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	for _, key := range []string{"paused", "idle_seconds", "mode", "timeout_minutes", "time_until_action_seconds", "guaranteed_sleep", "start_on_login"} {
		if _, ok := status[key]; !ok {
			t.Fatalf("status JSON missing %q: %s", key, statusJSON)
		}
	}

	historyJSON, derr := svc.GetHistory(0, 200)
	if derr != nil {
		t.Fatalf("GetHistory() error = %v", derr)
	}
	var h control.History
	if err := json.Unmarshal([]byte(historyJSON), &h); err != nil {
		t.Fatalf("unmarshal history: %v", err)
	}
	if len(h.Actions) != 1 || h.Actions[0].ID != "a" || len(h.PowerEvents) != 1 {
		t.Fatalf("history = %+v", h)
	}
}

func TestService_ForwardsCalls(t *testing.T) {
	ctl := &fakeController{}
	svc := NewService(ctl)

	if err := svc.Pause(); err != nil || !ctl.paused {
		t.Fatalf("Pause() = %v, paused = %v", err, ctl.paused)
	}
	if err := svc.Resume(); err != nil || ctl.paused {
		t.Fatalf("Resume() = %v, paused = %v", err, ctl.paused)
	}
	if err := svc.SetMode("shutdown"); err != nil || ctl.mode != "shutdown" {
		t.Fatalf("SetMode() = %v, mode = %q", err, ctl.mode)
	}
	if err := svc.SetTimeout(20); err != nil || ctl.timeout != 20 {
		t.Fatalf("SetTimeout() = %v, timeout = %d", err, ctl.timeout)
	}
	if id, err := svc.SleepNow(); err != nil || id != "sleep-id" {
		t.Fatalf("SleepNow() = %q, %v", id, err)
	}
	if id, err := svc.ShutdownNow(); err != nil || id != "shutdown-id" {
		t.Fatalf("ShutdownNow() = %q, %v", id, err)
	}
	if ok, err := svc.SetGuaranteedSleep(true); err != nil || !ok {
		t.Fatalf("SetGuaranteedSleep() = %v, %v", ok, err)
	}
}

func TestService_ErrorNames(t *testing.T) {
	tests := []struct {
		name string
		call func(*Service) *godbus.Error
		ctl  *fakeController
		want string
	}{
		{
			name: "invalid mode",
			ctl:  &fakeController{},
			call: func(s *Service) *godbus.Error { return s.SetMode("hibernate") },
			want: ErrNameInvalidArgument,
		},
		{
			name: "invalid timeout",
			ctl:  &fakeController{},
			call: func(s *Service) *godbus.Error { return s.SetTimeout(0) },
			want: ErrNameInvalidArgument,
		},
		{
			name: "consent declined",
			ctl:  &fakeController{policyErr: &power.PolicyError{Kind: power.KindDeclined, Result: privileged.Result{Outcome: privileged.UserDeclinedConsent}}},
			call: func(s *Service) *godbus.Error { _, err := s.SetGuaranteedSleep(true); return err },
			want: "org.idleforce.Error.GuaranteedSleep.Declined",
		},
		{
			name: "privileged failure",
			ctl:  &fakeController{policyErr: &power.PolicyError{Kind: power.KindFailed, Result: privileged.Result{Outcome: privileged.ProcessFailed, ExitCode: 1}}},
			call: func(s *Service) *godbus.Error { _, err := s.SetGuaranteedSleep(true); return err },
			want: "org.idleforce.Error.GuaranteedSleep.Failed",
		},
		{
			name: "startup registration",
			ctl:  &fakeController{startupErr: errors.New("read-only file system")},
			call: func(s *Service) *godbus.Error { return s.SetStartOnLogin(true) },
			want: ErrNameFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call(NewService(tt.ctl))
			if err == nil {
				t.Fatal("expected D-Bus error, got nil")
			}
			if err.Name != tt.want {
				t.Fatalf("error name = %s, want %s", err.Name, tt.want)
			}
		})
	}
}

func TestErrorRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{
			name:  "declined",
			err:   &power.PolicyError{Kind: power.KindDeclined, Result: privileged.Result{Outcome: privileged.UserDeclinedConsent}},
			check: power.IsDeclined,
		},
		{
			name: "failed keeps detail",
			err:  &power.PolicyError{Kind: power.KindFailed, Result: privileged.Result{Outcome: privileged.ProcessFailed, ExitCode: 1, Stderr: "locked"}},
			check: func(err error) bool {
				var pe *power.PolicyError
				return errors.As(err, &pe) && pe.Kind == power.KindFailed &&
					err.Error() == "disabling hibernation failed: failed (exit 1): locked"
			},
		},
		{
			name:  "invalid argument",
			err:   fmt.Errorf("%w: bad", control.ErrInvalidArgument),
			check: func(err error) bool { return errors.Is(err, control.ErrInvalidArgument) },
		},
		{
			name:  "generic",
			err:   errors.New("disk full"),
			check: func(err error) bool { return err.Error() == "disk full" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			derr := toDBusError(tt.err)
			// Replies arrive as values.
			back := fromDBusError(*derr)
			if !tt.check(back) {
				t.Fatalf("fromDBusError(%s) = %v", derr.Name, back)
			}
		})
	}
}

func TestFromDBusError_NotRunning(t *testing.T) {
	err := fromDBusError(godbus.Error{Name: "org.freedesktop.DBus.Error.ServiceUnknown"})
	if !errors.Is(err, ErrNotRunning) {
		t.Fatalf("fromDBusError() = %v, want ErrNotRunning", err)
	}
	if fromDBusError(nil) != nil {
		t.Fatal("fromDBusError(nil) != nil")
	}
}

type fakeBus struct {
	reply godbus.RequestNameReply
	err   error
	name  string
	flags godbus.RequestNameFlags
}

func (b *fakeBus) RequestName(name string, flags godbus.RequestNameFlags) (godbus.RequestNameReply, error) {
	b.name, b.flags = name, flags
	return b.reply, b.err
}

func TestClaimName(t *testing.T) {
	tests := []struct {
		name    string
		bus     *fakeBus
		wantErr error
	}{
		{"primary owner", &fakeBus{reply: godbus.RequestNameReplyPrimaryOwner}, nil},
		{"owned elsewhere", &fakeBus{reply: godbus.RequestNameReplyExists}, ErrAlreadyRunning},
		{"queued is refused", &fakeBus{reply: godbus.RequestNameReplyInQueue}, ErrAlreadyRunning},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := claimName(tt.bus)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("claimName() error = %v, want %v", err, tt.wantErr)
			}
			if tt.bus.name != BusName || tt.bus.flags != godbus.NameFlagDoNotQueue {
				t.Fatalf("RequestName(%q, %v), want %q without queueing", tt.bus.name, tt.bus.flags, BusName)
			}
		})
	}

	busErr := errors.New("disconnected")
	if err := claimName(&fakeBus{err: busErr}); !errors.Is(err, busErr) {
		t.Fatalf("claimName() error = %v, want wrapped bus error", err)
	}
}
