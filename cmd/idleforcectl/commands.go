package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cptspacemanspiff/idleforce/internal/config"
	"github.com/cptspacemanspiff/idleforce/internal/power"
)

// withDaemon connects, runs fn and closes the connection.
func withDaemon(fn func(d daemon) error) error {
	d, err := connect()
	if err != nil {
		return err
	}
	defer d.Close()
	return fn(d)
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show idle time, action and timeout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDaemon(func(d daemon) error {
				st, err := d.Status()
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				state := "running"
				if st.Paused {
					state = "paused"
				}
				fmt.Fprintf(w, "State:\t%s\n", state)
				fmt.Fprintf(w, "Idle:\t%s\n", time.Duration(st.IdleSeconds)*time.Second)
				fmt.Fprintf(w, "Action:\t%s after %d min\n", st.Mode, st.TimeoutMinutes)
				if st.TimeUntilActionSeconds != nil {
					fmt.Fprintf(w, "Next action in:\t%s\n", time.Duration(*st.TimeUntilActionSeconds)*time.Second)
				}
				fmt.Fprintf(w, "Guaranteed sleep:\t%s\n", onOff(st.GuaranteedSleep))
				fmt.Fprintf(w, "Start on login:\t%s\n", onOff(st.StartOnLogin))
				return w.Flush()
			})
		},
	}
}

func newPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Stop counting idle time",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDaemon(func(d daemon) error {
				if err := d.Pause(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Paused.")
				return nil
			})
		},
	}
}

func newResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume counting idle time from zero",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDaemon(func(d daemon) error {
				if err := d.Resume(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Resumed.")
				return nil
			})
		},
	}
}

func newModeCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "mode sleep|shutdown",
		Short:     "Choose the action taken after the timeout",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"sleep", "shutdown"},
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := config.ParseMode(args[0])
			if err != nil {
				return err
			}
			return withDaemon(func(d daemon) error {
				if err := d.SetMode(mode.String()); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Mode set to %s.\n", mode)
				return nil
			})
		},
	}
}

func newTimeoutCmd() *cobra.Command {
	presets := make([]string, len(config.TimeoutPresets))
	for i, p := range config.TimeoutPresets {
		presets[i] = strconv.Itoa(p)
	}

	return &cobra.Command{
		Use:   "timeout MINUTES",
		Short: "Set the idle timeout in minutes (1-1440)",
		Long:  "Set the idle timeout in minutes, 1 to 1440. Common values: " + strings.Join(presets, ", ") + ".",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			minutes, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("timeout must be a whole number of minutes, got %q", args[0])
			}
			if err := config.ValidateTimeout(minutes); err != nil {
				return err
			}
			return withDaemon(func(d daemon) error {
				if err := d.SetTimeout(minutes); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Timeout set to %d min.\n", minutes)
				return nil
			})
		},
	}
}

func newSleepNowCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "sleep-now",
		Short: "Suspend the machine right away",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes && !confirm(cmd, "Put the computer to sleep now?") {
				fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
				return nil
			}
			return withDaemon(func(d daemon) error {
				id, err := d.SleepNow()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Sleep requested (%s).\n", id)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func newShutdownNowCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "shutdown-now",
		Short: "Power off the machine right away",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes && !confirm(cmd, "Shut down the computer now? Unsaved work will be lost.") {
				fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
				return nil
			}
			return withDaemon(func(d daemon) error {
				id, err := d.ShutdownNow()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Shutdown requested (%s).\n", id)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	return cmd
}

func newGuaranteedSleepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "guaranteed-sleep on|off",
		Short: "Make sleep always suspend to memory",
		Long: `Turning guaranteed sleep on disables hibernation if it is enabled, so that
sleep never ends up hibernating. This needs administrator authorization.
Turning it off does not re-enable hibernation.`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			on, err := parseOnOff(args[0])
			if err != nil {
				return err
			}
			return withDaemon(func(d daemon) error {
				out := cmd.OutOrStdout()
				reconfigured, err := d.SetGuaranteedSleep(on)
				if power.IsDeclined(err) {
					fmt.Fprintln(out, "Guaranteed sleep left off: authorization was declined.")
					return nil
				}
				if err != nil {
					return err
				}
				switch {
				case !on:
					fmt.Fprintln(out, "Guaranteed sleep off. Hibernation stays disabled.")
				case reconfigured:
					fmt.Fprintln(out, "Hibernation disabled. Guaranteed sleep on.")
				default:
					fmt.Fprintln(out, "Guaranteed sleep on.")
				}
				return nil
			})
		},
	}
}

func newStartupCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "startup on|off",
		Short:     "Start idleforced when you log in",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			on, err := parseOnOff(args[0])
			if err != nil {
				return err
			}
			return withDaemon(func(d daemon) error {
				if err := d.SetStartOnLogin(on); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Start on login %s.\n", onOff(on))
				return nil
			})
		},
	}
}

func newHistoryCmd() *cobra.Command {
	var since time.Duration
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent power actions and wake-ups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if since <= 0 {
				return fmt.Errorf("--since must be positive")
			}
			return withDaemon(func(d daemon) error {
				to := time.Now()
				h, err := d.History(to.Add(-since), to)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if len(h.Actions) == 0 && len(h.PowerEvents) == 0 {
					fmt.Fprintln(out, "No events.")
					return nil
				}
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "TIME\tEVENT\tTRIGGER\tOUTCOME\tDETAIL")
				for _, a := range h.Actions {
					action := a.Action
					if a.Forced {
						action += " (forced)"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", formatUnix(a.Timestamp), action, a.Trigger, a.Outcome, a.Detail)
				}
				for _, e := range h.PowerEvents {
					fmt.Fprintf(w, "%s\t%s\t-\t-\t\n", formatUnix(e.Timestamp), e.Type)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "how far back to look")
	return cmd
}

func confirm(cmd *cobra.Command, question string) bool {
	fmt.Fprintf(cmd.OutOrStdout(), "%s [y/N] ", question)
	return readYes(cmd.InOrStdin())
}

func readYes(r io.Reader) bool {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "yes":
		return true, nil
	case "off", "false", "no":
		return false, nil
	default:
		return false, fmt.Errorf("expected on or off, got %q", s)
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func formatUnix(ts int64) string {
	return time.Unix(ts, 0).Format("2006-01-02 15:04:05")
}
