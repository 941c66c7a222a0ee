// Command idleforcectl controls a running idleforced over D-Bus.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cptspacemanspiff/idleforce/internal/control"
	dbusclient "github.com/cptspacemanspiff/idleforce/internal/dbus"
)

// daemon is the subset of the D-Bus client the commands use.
type daemon interface {
	Pause() error
	Resume() error
	Status() (*control.Status, error)
	SetMode(mode string) error
	SetTimeout(minutes int) error
	SleepNow() (string, error)
	ShutdownNow() (string, error)
	SetGuaranteedSleep(enabled bool) (bool, error)
	SetStartOnLogin(enabled bool) error
	History(from, to time.Time) (*control.History, error)
	Close() error
}

// connect opens the daemon connection. Tests replace it.
var connect = func() (daemon, error) {
	c, err := dbusclient.NewClient()
	if err != nil {
		return nil, err
	}
	return c, nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "idleforcectl",
		Short: "Control the idleforce daemon",
		Long: `idleforcectl talks to a running idleforced.

It pauses and resumes the idle timer, changes the action and timeout,
triggers sleep or shutdown right away, and toggles guaranteed sleep and
start on login.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newStatusCmd(),
		newPauseCmd(),
		newResumeCmd(),
		newModeCmd(),
		newTimeoutCmd(),
		newSleepNowCmd(),
		newShutdownNowCmd(),
		newGuaranteedSleepCmd(),
		newStartupCmd(),
		newHistoryCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
