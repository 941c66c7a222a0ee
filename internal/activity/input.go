package activity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cptspacemanspiff/idleforce/internal/monoclock"
)

// ErrSignalUnavailable is returned when no idle backend can answer.
var ErrSignalUnavailable = errors.New("input signal unavailable")

// snapTolerance absorbs the jitter between the display server's idle
// counter and the local monotonic clock.
const snapTolerance = 250 // milliseconds

// QueryTimeout bounds a single backend query.
const QueryTimeout = 2 * time.Second

// IdleQuerier reports how long the session has gone without keyboard or
// mouse input.
type IdleQuerier interface {
	Name() string
	IdleTime(ctx context.Context) (time.Duration, error)
}

// InputSource turns an idle-time reading into a stable last-input stamp for
// the Keyboard slot. Backends are tried in order and the first one that
// answers within QueryTimeout is used.
type InputSource struct {
	backends []IdleQuerier
	clock    monoclock.Clock
	log      *slog.Logger
	timeout  time.Duration

	stamp   uint64
	have    bool
	backend string
}

// NewInputSource creates an InputSource over the given backends.
func NewInputSource(clock monoclock.Clock, logger *slog.Logger, backends ...IdleQuerier) *InputSource {
	return &InputSource{backends: backends, clock: clock, log: logger, timeout: QueryTimeout}
}

// Sample implements Source. It returns nothing when no backend answers, so
// a broken signal is never mistaken for fresh input.
func (s *InputSource) Sample() []Sample {
	idle, err := s.query()
	if err != nil {
		s.log.Debug("last input unavailable", "err", err)
		return nil
	}
	now, err := s.clock.Now()
	if err != nil {
		s.log.Debug("last input unavailable", "err", err)
		return nil
	}

	ms := uint64(idle / time.Millisecond)
	var last uint64
	if ms < now {
		last = now - ms
	}
	if s.have && absDiff(last, s.stamp) <= snapTolerance {
		last = s.stamp
	}
	s.stamp, s.have = last, true

	return []Sample{{Source: Keyboard, Stamp: last}}
}

func (s *InputSource) query() (time.Duration, error) {
	var errs []error
	for _, b := range s.backends {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		idle, err := b.IdleTime(ctx)
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
			continue
		}
		if b.Name() != s.backend {
			s.log.Info("using idle backend", "backend", b.Name())
			s.backend = b.Name()
		}
		return idle, nil
	}
	if len(errs) == 0 {
		return 0, ErrSignalUnavailable
	}
	return 0, fmt.Errorf("%w: %w", ErrSignalUnavailable, errors.Join(errs...))
}

func absDiff(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}
