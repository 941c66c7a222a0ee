package control

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cptspacemanspiff/idleforce/internal/config"
	"github.com/cptspacemanspiff/idleforce/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeScheduler struct{ idle time.Duration }

func (s *fakeScheduler) Idle() time.Duration { return s.idle }

type fakePolicy struct {
	on           bool
	enableErr    error
	reconfigured bool
	enableCalls  int

	hibernationOn bool
	statusErr     error
}

func (p *fakePolicy) Enabled() bool { return p.on }

func (p *fakePolicy) Enable(context.Context) (bool, error) {
	p.enableCalls++
	if p.enableErr != nil {
		return false, p.enableErr
	}
	p.on = true
	return p.reconfigured, nil
}

func (p *fakePolicy) Disable() { p.on = false }

func (p *fakePolicy) Revalidate(context.Context) (bool, error) {
	if !p.on {
		return false, nil
	}
	if p.statusErr != nil {
		return false, p.statusErr
	}
	if p.hibernationOn {
		p.on = false
		return true, nil
	}
	return false, nil
}

type fakeStartup struct {
	enabled bool
	err     error
}

func (s *fakeStartup) IsEnabled() bool { return s.enabled }

func (s *fakeStartup) SetEnabled(on bool) error {
	if s.err != nil {
		return s.err
	}
	s.enabled = on
	return nil
}

type fakeActuator struct {
	mu       sync.Mutex
	suspends []bool
	poweroff int
	err      error
}

func (a *fakeActuator) Suspend(_ context.Context, force bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.suspends = append(a.suspends, force)
	return a.err
}

func (a *fakeActuator) PowerOff(context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.poweroff++
	return a.err
}

type fakeJournal struct {
	mu     sync.Mutex
	events []storage.ActionEvent
}

func (j *fakeJournal) InsertActionEvent(e storage.ActionEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, e)
	return nil
}

func (j *fakeJournal) ActionEventsInRange(from, to int64) ([]storage.ActionEvent, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []storage.ActionEvent
	for _, e := range j.events {
		if e.Timestamp >= from && e.Timestamp <= to {
			out = append(out, e)
		}
	}
	return out, nil
}

func (j *fakeJournal) PowerEventsInRange(int64, int64) ([]storage.PowerEvent, error) {
	return []storage.PowerEvent{{Timestamp: 1, Type: "wake"}}, nil
}

type fixture struct {
	store    *config.Store
	sched    *fakeScheduler
	policy   *fakePolicy
	startup  *fakeStartup
	act      *fakeActuator
	journal  *fakeJournal
	dispatch *Dispatcher
	ctl      *Controller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := config.OpenStore(filepath.Join(t.TempDir(), "config.toml"), discardLogger())
	if err != nil {
		t.Fatalf("OpenStore() error = %v", err)
	}
	f := &fixture{
		store:   store,
		sched:   &fakeScheduler{},
		policy:  &fakePolicy{},
		startup: &fakeStartup{},
		act:     &fakeActuator{},
		journal: &fakeJournal{},
	}
	f.dispatch = NewDispatcher(f.act, f.journal, discardLogger())
	f.ctl = New(f.store, f.sched, f.policy, f.startup, f.dispatch, f.journal, discardLogger())
	return f
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	f.sched.idle = 90 * time.Second

	st := f.ctl.Status()
	if st.Paused || st.Mode != "sleep" || st.TimeoutMinutes != 15 || st.IdleSeconds != 90 {
		t.Fatalf("Status() = %+v", st)
	}
	if st.TimeUntilActionSeconds == nil || *st.TimeUntilActionSeconds != 15*60-90 {
		t.Fatalf("TimeUntilActionSeconds = %v, want %d", st.TimeUntilActionSeconds, 15*60-90)
	}

	f.sched.idle = time.Hour
	if st := f.ctl.Status(); *st.TimeUntilActionSeconds != 0 {
		t.Fatalf("TimeUntilActionSeconds past timeout = %d, want 0", *st.TimeUntilActionSeconds)
	}

	f.ctl.Pause()
	st = f.ctl.Status()
	if !st.Paused || st.TimeUntilActionSeconds != nil {
		t.Fatalf("paused Status() = %+v, want paused with no countdown", st)
	}
	f.ctl.Resume()
	if f.ctl.Status().Paused {
		t.Fatal("Status().Paused = true after Resume()")
	}
}

func TestSetModeAndTimeout(t *testing.T) {
	f := newFixture(t)

	if err := f.ctl.SetMode("Shutdown"); err != nil {
		t.Fatalf("SetMode() error = %v", err)
	}
	if err := f.ctl.SetTimeout(45); err != nil {
		t.Fatalf("SetTimeout() error = %v", err)
	}
	rc := f.store.RunConfig()
	if rc.Mode != config.ModeShutdown || rc.Timeout != 45*time.Minute {
		t.Fatalf("RunConfig() = %+v", rc)
	}

	if err := f.ctl.SetMode("hibernate"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("SetMode(hibernate) error = %v, want ErrInvalidArgument", err)
	}
	for _, m := range []int{0, 1441} {
		if err := f.ctl.SetTimeout(m); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("SetTimeout(%d) error = %v, want ErrInvalidArgument", m, err)
		}
	}
	if got := f.store.RunConfig().Timeout; got != 45*time.Minute {
		t.Fatalf("Timeout after rejected values = %v, want 45m", got)
	}
}

func TestSleepNowUsesGuaranteedSleepAsForce(t *testing.T) {
	f := newFixture(t)
	f.policy.on = true

	id := f.ctl.SleepNow()
	f.dispatch.Wait()

	if len(f.act.suspends) != 1 || !f.act.suspends[0] {
		t.Fatalf("suspends = %v, want one forced suspend", f.act.suspends)
	}
	if len(f.journal.events) != 2 {
		t.Fatalf("journal = %v, want pending + requested", f.journal.events)
	}
	last := f.journal.events[1]
	if last.ID != id || last.Trigger != "manual" || last.Action != "sleep" || !last.Forced || last.Outcome != OutcomeRequested {
		t.Fatalf("journal entry = %+v", last)
	}
}

func TestShutdownNow(t *testing.T) {
	f := newFixture(t)
	f.policy.on = true

	f.ctl.ShutdownNow()
	f.dispatch.Wait()

	if f.act.poweroff != 1 || len(f.act.suspends) != 0 {
		t.Fatalf("poweroff = %d, suspends = %v", f.act.poweroff, f.act.suspends)
	}
	if last := f.journal.events[len(f.journal.events)-1]; last.Forced || last.Action != "shutdown" {
		t.Fatalf("journal entry = %+v", last)
	}
}

func TestDispatcher_FailureIsRecorded(t *testing.T) {
	f := newFixture(t)
	f.act.err = errors.New("power action failed: suspend: failed (exit 1)")

	f.dispatch.Fire(config.ModeSleep, false)
	f.dispatch.Wait()

	last := f.journal.events[len(f.journal.events)-1]
	if last.Outcome != OutcomeFailed || last.Detail == "" || last.Trigger != "idle" {
		t.Fatalf("journal entry = %+v, want failed idle entry with detail", last)
	}
}

func TestDispatcher_NilJournal(t *testing.T) {
	act := &fakeActuator{}
	d := NewDispatcher(act, nil, discardLogger())
	if id := d.Request(TriggerManual, config.ModeSleep, false); id == "" {
		t.Fatal("Request() returned an empty id")
	}
	d.Wait()
	if len(act.suspends) != 1 {
		t.Fatalf("suspends = %v, want 1", act.suspends)
	}
}

func TestSetGuaranteedSleep(t *testing.T) {
	f := newFixture(t)
	f.policy.reconfigured = true

	reconfigured, err := f.ctl.SetGuaranteedSleep(context.Background(), true)
	if err != nil || !reconfigured {
		t.Fatalf("SetGuaranteedSleep(true) = %v, %v", reconfigured, err)
	}
	if !f.store.RunConfig().GuaranteedSleep {
		t.Fatal("guaranteed_sleep not persisted")
	}

	if _, err := f.ctl.SetGuaranteedSleep(context.Background(), false); err != nil {
		t.Fatalf("SetGuaranteedSleep(false) error = %v", err)
	}
	if f.policy.on || f.store.RunConfig().GuaranteedSleep {
		t.Fatal("guaranteed sleep still on after turning it off")
	}
}

func TestSetGuaranteedSleep_PolicyFailureKeepsOff(t *testing.T) {
	f := newFixture(t)
	declined := errors.New("authorization declined")
	f.policy.enableErr = declined

	_, err := f.ctl.SetGuaranteedSleep(context.Background(), true)
	if !errors.Is(err, declined) {
		t.Fatalf("SetGuaranteedSleep() error = %v, want %v", err, declined)
	}
	if f.store.RunConfig().GuaranteedSleep {
		t.Fatal("guaranteed_sleep persisted after policy failure")
	}
}

func TestRevalidateGuaranteedSleep(t *testing.T) {
	tests := []struct {
		name          string
		hibernationOn bool
		statusErr     error
		wantStored    bool
		wantErr       bool
	}{
		{"hibernation still disabled", false, nil, true, false},
		{"hibernation enabled again", true, nil, false, false},
		{"status unavailable", false, errors.New("no logind"), true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if _, err := f.ctl.SetGuaranteedSleep(context.Background(), true); err != nil {
				t.Fatalf("SetGuaranteedSleep(true) error = %v", err)
			}
			f.policy.hibernationOn = tt.hibernationOn
			f.policy.statusErr = tt.statusErr

			err := f.ctl.RevalidateGuaranteedSleep(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("RevalidateGuaranteedSleep() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got := f.store.RunConfig().GuaranteedSleep; got != tt.wantStored {
				t.Fatalf("stored guaranteed_sleep = %v, want %v", got, tt.wantStored)
			}
			if f.policy.on != tt.wantStored {
				t.Fatalf("policy on = %v, want %v", f.policy.on, tt.wantStored)
			}
		})
	}
}

func TestSetStartOnLogin(t *testing.T) {
	f := newFixture(t)

	if err := f.ctl.SetStartOnLogin(true); err != nil {
		t.Fatalf("SetStartOnLogin(true) error = %v", err)
	}
	if !f.startup.enabled || !f.store.Config().Startup.StartOnLogin {
		t.Fatal("start on login not applied")
	}

	f.startup.err = errors.New("read-only file system")
	if err := f.ctl.SetStartOnLogin(false); err == nil {
		t.Fatal("SetStartOnLogin(false) error = nil, want registration error")
	}
	if !f.store.Config().Startup.StartOnLogin {
		t.Fatal("setting changed although registration failed")
	}
}

func TestReconcileStartup(t *testing.T) {
	f := newFixture(t)
	f.startup.enabled = true

	if err := f.ctl.ReconcileStartup(); err != nil {
		t.Fatalf("ReconcileStartup() error = %v", err)
	}
	if !f.store.Config().Startup.StartOnLogin {
		t.Fatal("stored setting not synced to the existing autostart entry")
	}

	f.startup.enabled = false
	if err := f.ctl.ReconcileStartup(); err != nil {
		t.Fatalf("ReconcileStartup() error = %v", err)
	}
	if f.store.Config().Startup.StartOnLogin {
		t.Fatal("stored setting not synced to the missing autostart entry")
	}
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	f.journal.events = []storage.ActionEvent{
		{ID: "a", Timestamp: 10, Trigger: "idle", Action: "sleep", Outcome: OutcomeRequested},
		{ID: "b", Timestamp: 50, Trigger: "manual", Action: "shutdown", Outcome: OutcomeRequested},
	}

	h, err := f.ctl.History(0, 20)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(h.Actions) != 1 || h.Actions[0].ID != "a" || len(h.PowerEvents) != 1 {
		t.Fatalf("History() = %+v", h)
	}

	if _, err := f.ctl.History(20, 10); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("History(20, 10) error = %v, want ErrInvalidArgument", err)
	}
}
