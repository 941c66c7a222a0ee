package power

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/cptspacemanspiff/idleforce/internal/privileged"
)

// PolicyErrorKind says why enabling guaranteed sleep failed.
type PolicyErrorKind string

const (
	KindDeclined    PolicyErrorKind = "Declined"
	KindFailed      PolicyErrorKind = "Failed"
	KindTimeout     PolicyErrorKind = "Timeout"
	KindUnsupported PolicyErrorKind = "Unsupported"
	KindStatus      PolicyErrorKind = "Status"
	KindBusy        PolicyErrorKind = "Busy"
)

// PolicyError is returned when guaranteed sleep could not be turned on. The
// policy stays off.
type PolicyError struct {
	Kind   PolicyErrorKind
	Result privileged.Result
	Err    error
}

func (e *PolicyError) Error() string {
	switch e.Kind {
	case KindDeclined:
		return "authorization declined"
	case KindStatus:
		return "hibernation status unavailable: " + e.Detail()
	case KindTimeout:
		return "no response from the authorization prompt"
	case KindUnsupported:
		return "disabling hibernation is not supported on this system"
	case KindBusy:
		return "guaranteed sleep is already being enabled"
	default:
		return "disabling hibernation failed: " + e.Detail()
	}
}

// Detail returns the underlying cause without the kind's summary.
func (e *PolicyError) Detail() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Result.String()
}

func (e *PolicyError) Unwrap() error {
	return e.Err
}

// IsDeclined reports whether err is a PolicyError caused by the user
// dismissing the authorization prompt.
func IsDeclined(err error) bool {
	var pe *PolicyError
	return errors.As(err, &pe) && pe.Kind == KindDeclined
}

// GuaranteedSleep is the Off/On policy. Turning it on disables hibernation
// first when needed; turning it off only changes the intent and leaves
// hibernation disabled.
type GuaranteedSleep struct {
	prober HibernationProber
	runner Runner
	log    *slog.Logger

	// mu guards the fields below and is never held across a system call.
	mu       sync.Mutex
	on       bool
	enabling bool
	// disabled is set by a Disable that ran while enabling was in flight.
	disabled bool
}

func NewGuaranteedSleep(prober HibernationProber, runner Runner, on bool, logger *slog.Logger) *GuaranteedSleep {
	return &GuaranteedSleep{prober: prober, runner: runner, on: on, log: logger}
}

// Enabled reports the current state. It does not wait for an Enable that is
// showing the authorization prompt.
func (g *GuaranteedSleep) Enabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.on
}

// Enable moves Off to On. reconfigured reports whether hibernation had to be
// disabled on the way. On error the state stays Off. A second Enable while
// one is running fails with KindBusy.
func (g *GuaranteedSleep) Enable(ctx context.Context) (reconfigured bool, err error) {
	g.mu.Lock()
	if g.on {
		g.mu.Unlock()
		return false, nil
	}
	if g.enabling {
		g.mu.Unlock()
		return false, &PolicyError{Kind: KindBusy}
	}
	g.enabling = true
	g.disabled = false
	g.mu.Unlock()

	reconfigured, err = g.reconfigure(ctx)

	g.mu.Lock()
	defer g.mu.Unlock()
	g.enabling = false
	if err != nil {
		return false, err
	}
	if g.disabled {
		g.log.Info("guaranteed sleep turned off while it was being enabled")
		return reconfigured, nil
	}
	g.on = true
	return reconfigured, nil
}

// reconfigure makes sure hibernation is disabled, asking for authorization
// when it is not.
func (g *GuaranteedSleep) reconfigure(ctx context.Context) (bool, error) {
	statusCtx, cancel := context.WithTimeout(ctx, StatusTimeout)
	enabled, err := g.prober.HibernationEnabled(statusCtx)
	cancel()
	if err != nil {
		g.log.Warn("hibernation status query failed", "err", err)
		return false, &PolicyError{Kind: KindStatus, Err: err}
	}

	if !enabled {
		g.log.Info("guaranteed sleep enabled", "hibernation", "already disabled")
		return false, nil
	}

	res := g.runner.Run(ctx, DisableHibernationOperation(), true, ConsentTimeout)
	if res.Outcome != privileged.Success {
		pe := &PolicyError{Kind: kindFor(res.Outcome), Result: res}
		if pe.Kind == KindDeclined {
			g.log.Info("guaranteed sleep not enabled", "reason", pe.Error())
		} else {
			g.log.Warn("guaranteed sleep not enabled", "reason", pe.Error())
		}
		return false, pe
	}

	g.log.Info("guaranteed sleep enabled", "hibernation", "disabled now")
	return true, nil
}

// Disable moves to Off unconditionally. Hibernation is not re-enabled.
func (g *GuaranteedSleep) Disable() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.on {
		g.log.Info("guaranteed sleep disabled")
	}
	g.on = false
	if g.enabling {
		g.disabled = true
	}
}

// Revalidate checks a stored On state against the system. When hibernation
// turns out to be enabled the policy drops to Off and dropped is true. A
// failed status query leaves the state alone and is returned.
func (g *GuaranteedSleep) Revalidate(ctx context.Context) (dropped bool, err error) {
	if !g.Enabled() {
		return false, nil
	}

	statusCtx, cancel := context.WithTimeout(ctx, StatusTimeout)
	enabled, err := g.prober.HibernationEnabled(statusCtx)
	cancel()
	if err != nil {
		return false, &PolicyError{Kind: KindStatus, Err: err}
	}
	if !enabled {
		return false, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.on {
		return false, nil
	}
	g.on = false
	g.log.Warn("guaranteed sleep turned off: hibernation is enabled again")
	return true, nil
}

func kindFor(o privileged.Outcome) PolicyErrorKind {
	switch o {
	case privileged.UserDeclinedConsent:
		return KindDeclined
	case privileged.Timeout:
		return KindTimeout
	case privileged.PlatformUnsupported:
		return KindUnsupported
	default:
		return KindFailed
	}
}
