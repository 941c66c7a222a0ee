package control

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cptspacemanspiff/idleforce/internal/config"
	"github.com/cptspacemanspiff/idleforce/internal/storage"
)

// Trigger says who asked for an action.
type Trigger string

const (
	TriggerIdle   Trigger = "idle"
	TriggerManual Trigger = "manual"
)

// Journal outcomes.
const (
	OutcomePending   = "pending"
	OutcomeRequested = "requested"
	OutcomeFailed    = "failed"
)

// Actuator performs power transitions. *power.Actuator implements it.
type Actuator interface {
	Suspend(ctx context.Context, force bool) error
	PowerOff(ctx context.Context) error
}

// Journal records actions. *storage.DB implements it.
type Journal interface {
	InsertActionEvent(e storage.ActionEvent) error
}

// Dispatcher runs power actions in the background so the caller never waits
// for the transition. Every action gets an id that appears in the logs and
// the journal.
type Dispatcher struct {
	act     Actuator
	journal Journal
	log     *slog.Logger
	now     func() time.Time

	wg sync.WaitGroup
}

// NewDispatcher returns a Dispatcher. journal may be nil.
func NewDispatcher(act Actuator, journal Journal, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{act: act, journal: journal, log: logger, now: time.Now}
}

// Fire implements engine.Dispatcher for idle-triggered actions.
func (d *Dispatcher) Fire(mode config.Mode, force bool) {
	d.Request(TriggerIdle, mode, force)
}

// Request starts an action and returns its id without waiting for it.
func (d *Dispatcher) Request(trigger Trigger, mode config.Mode, force bool) string {
	ev := storage.ActionEvent{
		ID:        uuid.NewString(),
		Timestamp: d.now().Unix(),
		Trigger:   string(trigger),
		Action:    mode.String(),
		Forced:    force && mode == config.ModeSleep,
		Outcome:   OutcomePending,
	}
	log := d.log.With("action_id", ev.ID, "trigger", trigger, "action", ev.Action)
	log.Info("dispatching power action", "force", ev.Forced)
	d.record(log, ev)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		var err error
		switch mode {
		case config.ModeShutdown:
			err = d.act.PowerOff(context.Background())
		default:
			err = d.act.Suspend(context.Background(), ev.Forced)
		}

		if err != nil {
			log.Error("power action failed", "err", err)
			ev.Outcome = OutcomeFailed
			ev.Detail = err.Error()
		} else {
			ev.Outcome = OutcomeRequested
		}
		d.record(log, ev)
	}()

	return ev.ID
}

// Wait blocks until every started action has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) record(log *slog.Logger, ev storage.ActionEvent) {
	if d.journal == nil {
		return
	}
	if err := d.journal.InsertActionEvent(ev); err != nil {
		log.Warn("journal action", "err", err)
	}
}
