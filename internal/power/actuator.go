package power

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cptspacemanspiff/idleforce/internal/privileged"
)

const (
	// StatusTimeout bounds routine queries and unattended commands.
	StatusTimeout = 5 * time.Second
	// ConsentTimeout bounds commands that may show an authentication dialog.
	ConsentTimeout = 10 * time.Second
)

// ErrActionDispatch reports that the OS refused or failed a power transition.
var ErrActionDispatch = errors.New("power action failed")

// Runner runs privileged operations. *privileged.Runner implements it.
type Runner interface {
	Run(ctx context.Context, op privileged.Operation, elevate bool, timeout time.Duration) privileged.Result
}

// Actuator issues power transitions.
type Actuator struct {
	runner Runner
	log    *slog.Logger
}

func NewActuator(runner Runner, logger *slog.Logger) *Actuator {
	return &Actuator{runner: runner, log: logger}
}

// Suspend requests suspend to memory. It never requests hibernation.
func (a *Actuator) Suspend(ctx context.Context, force bool) error {
	return a.run(ctx, SuspendOperation(force))
}

// PowerOff requests an immediate power-off.
func (a *Actuator) PowerOff(ctx context.Context) error {
	return a.run(ctx, PowerOffOperation())
}

func (a *Actuator) run(ctx context.Context, op privileged.Operation) error {
	// polkit authorises both for the active local session; a prompt, if
	// any, comes from logind itself.
	res := a.runner.Run(ctx, op, false, ConsentTimeout)
	if res.Outcome == privileged.Success {
		a.log.Info("power action requested", "op", op.Name, "args", op.Args)
		return nil
	}
	return fmt.Errorf("%w: %s: %s", ErrActionDispatch, op.Name, res)
}
