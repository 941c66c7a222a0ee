// Package control is the surface the tray and the command-line client drive:
// pause and resume, settings changes, manual actions and history.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cptspacemanspiff/idleforce/internal/config"
	"github.com/cptspacemanspiff/idleforce/internal/storage"
)

// ErrInvalidArgument marks a rejected request value.
var ErrInvalidArgument = errors.New("invalid argument")

// Scheduler is the part of the idle scheduler the controller reads.
type Scheduler interface {
	Idle() time.Duration
}

// Policy is the guaranteed-sleep state machine.
type Policy interface {
	Enabled() bool
	Enable(ctx context.Context) (reconfigured bool, err error)
	Disable()
	Revalidate(ctx context.Context) (dropped bool, err error)
}

// Startup registers the daemon to start at login.
type Startup interface {
	IsEnabled() bool
	SetEnabled(enabled bool) error
}

// HistoryReader reads the journal.
type HistoryReader interface {
	ActionEventsInRange(from, to int64) ([]storage.ActionEvent, error)
	PowerEventsInRange(from, to int64) ([]storage.PowerEvent, error)
}

// Status is the snapshot returned by GetStatus.
type Status struct {
	Paused               bool   `json:"paused"`
	IdleSeconds          int64  `json:"idle_seconds"`
	Mode                 string `json:"mode"`
	TimeoutMinutes       int    `json:"timeout_minutes"`
	CheckIntervalSeconds int    `json:"check_interval_seconds"`
	GuaranteedSleep      bool   `json:"guaranteed_sleep"`
	StartOnLogin         bool   `json:"start_on_login"`
	// TimeUntilActionSeconds is nil while paused.
	TimeUntilActionSeconds *int64 `json:"time_until_action_seconds"`
}

// History is the journal content for a time range.
type History struct {
	Actions     []storage.ActionEvent `json:"actions"`
	PowerEvents []storage.PowerEvent  `json:"power_events"`
}

type Controller struct {
	store    *config.Store
	sched    Scheduler
	policy   Policy
	startup  Startup
	dispatch *Dispatcher
	history  HistoryReader
	log      *slog.Logger

	// toggles serializes the slow policy and startup changes.
	toggles sync.Mutex
}

// New returns a Controller. history may be nil when no journal is open.
func New(store *config.Store, sched Scheduler, policy Policy, startup Startup, dispatch *Dispatcher, history HistoryReader, logger *slog.Logger) *Controller {
	return &Controller{
		store:    store,
		sched:    sched,
		policy:   policy,
		startup:  startup,
		dispatch: dispatch,
		history:  history,
		log:      logger,
	}
}

func (c *Controller) Pause() {
	c.store.SetPaused(true)
	c.log.Info("pause requested")
}

func (c *Controller) Resume() {
	c.store.SetPaused(false)
	c.log.Info("resume requested")
}

func (c *Controller) Status() Status {
	cfg := c.store.Config()
	rc := c.store.RunConfig()
	idle := c.sched.Idle()

	st := Status{
		Paused:               rc.Paused,
		IdleSeconds:          int64(idle / time.Second),
		Mode:                 rc.Mode.String(),
		TimeoutMinutes:       cfg.Run.TimeoutMinutes,
		CheckIntervalSeconds: cfg.Run.CheckIntervalSeconds,
		GuaranteedSleep:      c.policy.Enabled(),
		StartOnLogin:         cfg.Startup.StartOnLogin,
	}
	if !rc.Paused {
		left := int64(0)
		if idle < rc.Timeout {
			left = int64((rc.Timeout - idle + time.Second - 1) / time.Second)
		}
		st.TimeUntilActionSeconds = &left
	}
	return st
}

func (c *Controller) SetMode(name string) error {
	mode, err := config.ParseMode(name)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	if err := c.store.Update(func(cfg *config.Config) { cfg.Run.Mode = mode.String() }); err != nil {
		return fmt.Errorf("save mode: %w", err)
	}
	c.log.Info("mode changed", "mode", mode)
	return nil
}

func (c *Controller) SetTimeout(minutes int) error {
	if err := config.ValidateTimeout(minutes); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	if err := c.store.Update(func(cfg *config.Config) { cfg.Run.TimeoutMinutes = minutes }); err != nil {
		return fmt.Errorf("save timeout: %w", err)
	}
	c.log.Info("timeout changed", "minutes", minutes)
	return nil
}

// SleepNow suspends right away, forced when guaranteed sleep is on.
func (c *Controller) SleepNow() string {
	return c.dispatch.Request(TriggerManual, config.ModeSleep, c.policy.Enabled())
}

// ShutdownNow powers off right away.
func (c *Controller) ShutdownNow() string {
	return c.dispatch.Request(TriggerManual, config.ModeShutdown, false)
}

// SetGuaranteedSleep runs the policy transition and persists the result.
// Turning it on may show an authorization prompt.
func (c *Controller) SetGuaranteedSleep(ctx context.Context, on bool) (reconfigured bool, err error) {
	c.toggles.Lock()
	defer c.toggles.Unlock()

	if !on {
		c.policy.Disable()
		if err := c.persistGuaranteedSleep(false); err != nil {
			return false, err
		}
		return false, nil
	}

	reconfigured, err = c.policy.Enable(ctx)
	if err != nil {
		return false, err
	}
	if err := c.persistGuaranteedSleep(true); err != nil {
		c.policy.Disable()
		return reconfigured, err
	}
	return reconfigured, nil
}

func (c *Controller) persistGuaranteedSleep(on bool) error {
	if err := c.store.Update(func(cfg *config.Config) { cfg.Run.GuaranteedSleep = on }); err != nil {
		return fmt.Errorf("save guaranteed_sleep: %w", err)
	}
	return nil
}

// RevalidateGuaranteedSleep checks a stored guaranteed_sleep=true against
// the system at launch and stores false when hibernation is enabled again.
func (c *Controller) RevalidateGuaranteedSleep(ctx context.Context) error {
	c.toggles.Lock()
	defer c.toggles.Unlock()

	dropped, err := c.policy.Revalidate(ctx)
	if err != nil {
		return fmt.Errorf("check guaranteed sleep: %w", err)
	}
	if !dropped {
		return nil
	}
	return c.persistGuaranteedSleep(false)
}

// SetStartOnLogin installs or removes the autostart entry, then stores the
// choice. Nothing is stored when the entry could not be changed.
func (c *Controller) SetStartOnLogin(on bool) error {
	c.toggles.Lock()
	defer c.toggles.Unlock()

	if err := c.startup.SetEnabled(on); err != nil {
		c.log.Warn("startup registration failed", "enabled", on, "err", err)
		return err
	}
	if err := c.store.Update(func(cfg *config.Config) { cfg.Startup.StartOnLogin = on }); err != nil {
		return fmt.Errorf("save start_on_login: %w", err)
	}
	c.log.Info("start on login changed", "enabled", on)
	return nil
}

// ReconcileStartup makes the stored start_on_login match the autostart
// entry that actually exists. It runs once at launch.
func (c *Controller) ReconcileStartup() error {
	actual := c.startup.IsEnabled()
	if c.store.Config().Startup.StartOnLogin == actual {
		return nil
	}
	c.log.Info("start_on_login out of sync with autostart entry, updating setting", "enabled", actual)
	return c.store.Update(func(cfg *config.Config) { cfg.Startup.StartOnLogin = actual })
}

// History returns journal entries between from and to (unix seconds).
func (c *Controller) History(from, to int64) (History, error) {
	if from > to {
		return History{}, fmt.Errorf("%w: from %d is after to %d", ErrInvalidArgument, from, to)
	}
	if c.history == nil {
		return History{}, nil
	}
	actions, err := c.history.ActionEventsInRange(from, to)
	if err != nil {
		return History{}, fmt.Errorf("read actions: %w", err)
	}
	events, err := c.history.PowerEventsInRange(from, to)
	if err != nil {
		return History{}, fmt.Errorf("read power events: %w", err)
	}
	return History{Actions: actions, PowerEvents: events}, nil
}
