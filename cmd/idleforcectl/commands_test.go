package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cptspacemanspiff/idleforce/internal/control"
	"github.com/cptspacemanspiff/idleforce/internal/power"
	"github.com/cptspacemanspiff/idleforce/internal/storage"
)

type fakeDaemon struct {
	status      control.Status
	calls       []string
	policyErr   error
	reconfigure bool
	history     control.History
	closed      bool
}

func (f *fakeDaemon) record(s string) { f.calls = append(f.calls, s) }

func (f *fakeDaemon) Pause() error { f.record("pause"); return nil }
func (f *fakeDaemon) Resume() error { f.record("resume"); return nil }

func (f *fakeDaemon) Status() (*control.Status, error) {
	f.record("status")
	st := f.status
	return &st, nil
}

func (f *fakeDaemon) SetMode(mode string) error { f.record("mode " + mode); return nil }
func (f *fakeDaemon) SetTimeout(minutes int) error { f.record("timeout"); return nil }
func (f *fakeDaemon) SleepNow() (string, error) { f.record("sleep-now"); return "id-1", nil }
func (f *fakeDaemon) ShutdownNow() (string, error) { f.record("shutdown-now"); return "id-2", nil }
func (f *fakeDaemon) SetStartOnLogin(on bool) error { f.record("startup"); return nil }
func (f *fakeDaemon) Close() error { f.closed = true; return nil }

func (f *fakeDaemon) SetGuaranteedSleep(on bool) (bool, error) {
	f.record("guaranteed-sleep")
	if f.policyErr != nil {
		return false, f.policyErr
	}
	return f.reconfigure, nil
}

func (f *fakeDaemon) History(from, to time.Time) (*control.History, error) {
	f.record("history")
	h := f.history
	return &h, nil
}

func useFakeDaemon(t *testing.T, d *fakeDaemon) {
	t.Helper()

	old := connect
	connect = func() (daemon, error) { return d, nil }
	t.Cleanup(func() { connect = old })
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestStatusCmd(t *testing.T) {
	left := int64(300)
	d := &fakeDaemon{status: control.Status{IdleSeconds: 600, Mode: "sleep", TimeoutMinutes: 15, TimeUntilActionSeconds: &left, GuaranteedSleep: true}}
	useFakeDaemon(t, d)

	out, err := execute(t, "", "status")
	if err != nil {
		t.Fatalf("status error = %v", err)
	}
	for _, want := range []string{"running", "10m0s", "sleep after 15 min", "5m0s", "Guaranteed sleep:  on"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if !d.closed {
		t.Fatal("connection not closed")
	}
}

func TestSimpleCommands(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{[]string{"pause"}, "pause"},
		{[]string{"resume"}, "resume"},
		{[]string{"mode", "Shutdown"}, "mode shutdown"},
		{[]string{"timeout", "30"}, "timeout"},
		{[]string{"startup", "on"}, "startup"},
		{[]string{"sleep-now", "--yes"}, "sleep-now"},
		{[]string{"shutdown-now", "-y"}, "shutdown-now"},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			d := &fakeDaemon{}
			useFakeDaemon(t, d)

			if _, err := execute(t, "", tt.args...); err != nil {
				t.Fatalf("execute error = %v", err)
			}
			if len(d.calls) != 1 || d.calls[0] != tt.want {
				t.Fatalf("calls = %v, want [%s]", d.calls, tt.want)
			}
		})
	}
}

func TestInvalidArguments(t *testing.T) {
	tests := [][]string{
		{"mode", "hibernate"},
		{"timeout", "0"},
		{"timeout", "abc"},
		{"timeout", "1441"},
		{"startup", "maybe"},
		{"guaranteed-sleep"},
	}
	for _, args := range tests {
		t.Run(strings.Join(args, " "), func(t *testing.T) {
			d := &fakeDaemon{}
			useFakeDaemon(t, d)

			if _, err := execute(t, "", args...); err == nil {
				t.Fatal("execute error = nil, want error")
			}
			if len(d.calls) != 0 {
				t.Fatalf("daemon called for invalid input: %v", d.calls)
			}
		})
	}
}

func TestConfirmation(t *testing.T) {
	d := &fakeDaemon{}
	useFakeDaemon(t, d)

	out, err := execute(t, "n\n", "shutdown-now")
	if err != nil {
		t.Fatalf("execute error = %v", err)
	}
	if len(d.calls) != 0 || !strings.Contains(out, "Cancelled.") {
		t.Fatalf("declined confirmation still acted: calls=%v out=%q", d.calls, out)
	}

	if _, err := execute(t, "yes\n", "sleep-now"); err != nil {
		t.Fatalf("execute error = %v", err)
	}
	if len(d.calls) != 1 || d.calls[0] != "sleep-now" {
		t.Fatalf("calls = %v, want [sleep-now]", d.calls)
	}
}

func TestGuaranteedSleepCmd(t *testing.T) {
	t.Run("declined is not an error", func(t *testing.T) {
		useFakeDaemon(t, &fakeDaemon{policyErr: &power.PolicyError{Kind: power.KindDeclined}})

		out, err := execute(t, "", "guaranteed-sleep", "on")
		if err != nil {
			t.Fatalf("execute error = %v", err)
		}
		if !strings.Contains(out, "declined") {
			t.Fatalf("output = %q, want declined message", out)
		}
	})

	t.Run("failure is an error", func(t *testing.T) {
		useFakeDaemon(t, &fakeDaemon{policyErr: &power.PolicyError{Kind: power.KindFailed, Err: errors.New("failed (exit 1)")}})

		if _, err := execute(t, "", "guaranteed-sleep", "on"); err == nil {
			t.Fatal("execute error = nil, want failure")
		}
	})

	t.Run("reconfigured", func(t *testing.T) {
		useFakeDaemon(t, &fakeDaemon{reconfigure: true})

		out, err := execute(t, "", "guaranteed-sleep", "on")
		if err != nil {
			t.Fatalf("execute error = %v", err)
		}
		if !strings.Contains(out, "Hibernation disabled") {
			t.Fatalf("output = %q", out)
		}
	})
}

func TestHistoryCmd(t *testing.T) {
	d := &fakeDaemon{history: control.History{
		Actions:     []storage.ActionEvent{{ID: "a", Timestamp: 1700000000, Trigger: "idle", Action: "sleep", Forced: true, Outcome: "requested"}},
		PowerEvents: []storage.PowerEvent{{Timestamp: 1700000100, Type: "wake"}},
	}}
	useFakeDaemon(t, d)

	out, err := execute(t, "", "history", "--since", "48h")
	if err != nil {
		t.Fatalf("execute error = %v", err)
	}
	for _, want := range []string{"sleep (forced)", "idle", "requested", "wake"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestReadYes(t *testing.T) {
	for in, want := range map[string]bool{"y\n": true, "YES\n": true, "\n": false, "": false, "nope\n": false} {
		if got := readYes(strings.NewReader(in)); got != want {
			t.Errorf("readYes(%q) = %v, want %v", in, got, want)
		}
	}
}
