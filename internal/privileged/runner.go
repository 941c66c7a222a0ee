// Package privileged runs system commands, optionally through a polkit
// elevation prompt, and classifies how they ended.
package privileged

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

const (
	// DefaultElevator is the helper that asks the user for consent.
	DefaultElevator = "pkexec"

	// pkexec exits 126 when the authentication dialog was dismissed.
	declinedExitCode = 126

	maxOutputBytes = 64 << 10
	excerptBytes   = 512
)

// Outcome classifies a finished (or abandoned) operation.
type Outcome int

const (
	Success Outcome = iota
	UserDeclinedConsent
	ProcessFailed
	Timeout
	PlatformUnsupported
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case UserDeclinedConsent:
		return "declined"
	case ProcessFailed:
		return "failed"
	case Timeout:
		return "timeout"
	case PlatformUnsupported:
		return "unsupported"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is the terminal result of one Run. ExitCode and Stderr are only
// meaningful for ProcessFailed.
type Result struct {
	Outcome  Outcome
	ExitCode int
	Stderr   string
}

func (r Result) String() string {
	switch r.Outcome {
	case ProcessFailed:
		if r.Stderr != "" {
			return fmt.Sprintf("failed (exit %d): %s", r.ExitCode, r.Stderr)
		}
		return fmt.Sprintf("failed (exit %d)", r.ExitCode)
	default:
		return r.Outcome.String()
	}
}

// Operation is a command to run.
type Operation struct {
	Name string // short name for logs
	Path string // binary, resolved through PATH
	Args []string
}

// Runner executes operations. It never retries.
type Runner struct {
	elevator string
	log      *slog.Logger
	lookPath func(string) (string, error)
	euid     func() int
}

func NewRunner(logger *slog.Logger) *Runner {
	return &Runner{
		elevator: DefaultElevator,
		log:      logger,
		lookPath: exec.LookPath,
		euid:     os.Geteuid,
	}
}

// Run starts op and waits at most timeout for it. With elevate set the
// command goes through the elevation helper unless the process is already
// root. A process still running at the deadline is left running; the
// result is Timeout. Cancelling ctx abandons the process the same way.
func (r *Runner) Run(ctx context.Context, op Operation, elevate bool, timeout time.Duration) Result {
	bin, err := r.lookPath(op.Path)
	if err != nil {
		r.log.Warn("operation unavailable", "op", op.Name, "path", op.Path, "err", err)
		return Result{Outcome: PlatformUnsupported}
	}

	argv := append([]string{bin}, op.Args...)
	elevated := elevate && r.euid() != 0
	if elevated {
		helper, err := r.lookPath(r.elevator)
		if err != nil {
			r.log.Warn("elevation helper unavailable", "op", op.Name, "helper", r.elevator, "err", err)
			return Result{Outcome: PlatformUnsupported}
		}
		argv = append([]string{helper}, argv...)
	}

	var stderr bytes.Buffer
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = &limitedWriter{w: &bytes.Buffer{}, limit: maxOutputBytes}
	cmd.Stderr = &limitedWriter{w: &stderr, limit: maxOutputBytes}

	r.log.Debug("starting operation", "op", op.Name, "argv", strings.Join(argv, " "), "elevated", elevated)
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
			return Result{Outcome: PlatformUnsupported}
		}
		return Result{Outcome: ProcessFailed, ExitCode: -1, Stderr: excerpt(err.Error())}
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		res := classify(err, elevated, stderr.String())
		r.log.Info("operation finished", "op", op.Name, "result", res.String())
		return res
	case <-timer.C:
		r.log.Warn("operation timed out, abandoning", "op", op.Name, "pid", cmd.Process.Pid, "timeout", timeout)
		return Result{Outcome: Timeout}
	case <-ctx.Done():
		r.log.Warn("operation cancelled, abandoning", "op", op.Name, "pid", cmd.Process.Pid, "err", ctx.Err())
		return Result{Outcome: Timeout}
	}
}

func classify(err error, elevated bool, stderr string) Result {
	if err == nil {
		return Result{Outcome: Success}
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return Result{Outcome: ProcessFailed, ExitCode: -1, Stderr: excerpt(err.Error())}
	}

	code := exitErr.ExitCode()
	if elevated && code == declinedExitCode {
		return Result{Outcome: UserDeclinedConsent, ExitCode: code}
	}
	return Result{Outcome: ProcessFailed, ExitCode: code, Stderr: excerpt(stderr)}
}

func excerpt(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > excerptBytes {
		s = s[:excerptBytes] + "..."
	}
	return s
}

// limitedWriter keeps the first limit bytes and discards the rest.
type limitedWriter struct {
	w       *bytes.Buffer
	limit   int
	written int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	remaining := lw.limit - lw.written
	if remaining <= 0 {
		return len(p), nil
	}
	if len(p) > remaining {
		lw.w.Write(p[:remaining])
		lw.written += remaining
		return len(p), nil
	}
	n, err := lw.w.Write(p)
	lw.written += n
	return n, err
}
