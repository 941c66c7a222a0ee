package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cptspacemanspiff/idleforce/internal/activity"
	"github.com/cptspacemanspiff/idleforce/internal/config"
	"github.com/cptspacemanspiff/idleforce/internal/monoclock"
)

// ConfigSource supplies the settings for each tick. Implementations must
// return a consistent snapshot.
type ConfigSource interface {
	RunConfig() config.RunConfig
}

// Dispatcher carries out a power action. Fire must not block on the action
// completing.
type Dispatcher interface {
	Fire(mode config.Mode, force bool)
}

// TickResult describes what a single tick did.
type TickResult struct {
	Skipped  bool // paused; nothing sampled
	Rearmed  bool // first tick after a pause or wake; window restarted
	Activity bool
	Anomaly  bool
	Idle     time.Duration
	Fired    bool
	Mode     config.Mode
}

type baseline struct {
	stamp uint64
	seen  bool
}

// Scheduler owns the idle state and the per-slot baselines. Tick is meant to
// be driven from a single goroutine; the status accessors may be called from
// any goroutine.
type Scheduler struct {
	clock    monoclock.Clock
	source   activity.Source
	cfg      ConfigSource
	dispatch Dispatcher
	log      *slog.Logger

	mu        sync.Mutex
	idle      IdleClock
	baselines [activity.NumSlots]baseline
	frozen    bool
	rearm     bool
}

func New(clock monoclock.Clock, source activity.Source, cfg ConfigSource, dispatch Dispatcher, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		clock:    clock,
		source:   source,
		cfg:      cfg,
		dispatch: dispatch,
		log:      logger,
	}
}

// Prime seeds the idle window with the current time and records the current
// stamp of every connected slot as its baseline.
func (s *Scheduler) Prime() error {
	now, err := s.clock.Now()
	if err != nil {
		return fmt.Errorf("read clock: %w", err)
	}

	samples := s.source.Sample()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.idle.Reset(now)
	s.absorb(samples)
	return nil
}

// Tick runs one evaluation. An error means the tick was abandoned; the
// caller keeps ticking. Sources are sampled without holding the state lock,
// so status readers never wait on a slow backend.
func (s *Scheduler) Tick() (TickResult, error) {
	rc := s.cfg.RunConfig()
	if rc.Paused {
		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.frozen {
			s.log.Info("paused", "idle", s.idle.Idle())
		}
		s.frozen = true
		return TickResult{Skipped: true, Idle: s.idle.Idle()}, nil
	}

	samples := s.source.Sample()

	s.mu.Lock()
	defer s.mu.Unlock()

	// The clock is read under the lock so a Rearm that ran while sampling
	// never looks like the clock going backwards.
	now, err := s.clock.Now()
	if err != nil {
		return TickResult{}, fmt.Errorf("read clock: %w", err)
	}

	var res TickResult
	if err := s.idle.Observe(now); err != nil {
		if !errors.Is(err, ErrClockAnomaly) {
			return TickResult{}, err
		}
		s.log.Warn("idle window restarted", "err", err)
		res.Anomaly = true
	}

	res.Activity = s.absorb(samples)

	if s.frozen || s.rearm {
		if s.frozen {
			s.log.Info("resumed")
		}
		s.frozen = false
		s.rearm = false
		s.idle.Reset(now)
		res.Rearmed = true
		return res, nil
	}

	if res.Activity {
		s.idle.MarkActivity()
		return res, nil
	}

	res.Idle = s.idle.Idle()
	if res.Idle < rc.Timeout {
		return res, nil
	}

	s.log.Info("idle timeout reached", "idle", res.Idle, "timeout", rc.Timeout, "mode", rc.Mode, "force", rc.GuaranteedSleep)
	s.dispatch.Fire(rc.Mode, rc.GuaranteedSleep)
	s.idle.MarkActivity()
	res.Fired = true
	res.Mode = rc.Mode
	return res, nil
}

// Rearm restarts the idle window, e.g. after the system woke from suspend.
// When the clock cannot be read the restart happens on the next tick.
func (s *Scheduler) Rearm() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now, err := s.clock.Now()
	if err != nil {
		s.rearm = true
		return
	}
	s.idle.Reset(now)
}

// Idle returns the current idle duration. While paused it is the value
// frozen at the moment of pausing.
func (s *Scheduler) Idle() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frozen || s.rearm {
		return s.idle.Idle()
	}
	now, err := s.clock.Now()
	if err != nil {
		return s.idle.Idle()
	}
	return s.idle.IdleAt(now)
}

// absorb compares samples to the stored baselines and reports whether any
// slot changed. A slot seen for the first time only sets its baseline.
func (s *Scheduler) absorb(samples []activity.Sample) bool {
	changed := false
	for _, sm := range samples {
		if int(sm.Source) >= len(s.baselines) {
			continue
		}
		b := &s.baselines[sm.Source]
		if b.seen && b.stamp != sm.Stamp {
			changed = true
			s.log.Debug("activity", "source", sm.Source, "stamp", sm.Stamp)
		}
		b.stamp = sm.Stamp
		b.seen = true
	}
	return changed
}
