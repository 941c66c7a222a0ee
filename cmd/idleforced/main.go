package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	godbus "github.com/godbus/dbus/v5"
	flag "github.com/spf13/pflag"

	"github.com/cptspacemanspiff/idleforce/internal/activity"
	"github.com/cptspacemanspiff/idleforce/internal/autostart"
	"github.com/cptspacemanspiff/idleforce/internal/config"
	"github.com/cptspacemanspiff/idleforce/internal/control"
	dbussvc "github.com/cptspacemanspiff/idleforce/internal/dbus"
	"github.com/cptspacemanspiff/idleforce/internal/engine"
	"github.com/cptspacemanspiff/idleforce/internal/monoclock"
	"github.com/cptspacemanspiff/idleforce/internal/power"
	"github.com/cptspacemanspiff/idleforce/internal/privileged"
	"github.com/cptspacemanspiff/idleforce/internal/storage"
)

const cleanupInterval = 24 * time.Hour

type options struct {
	configPath string
	verbose    bool
	logTopics  string
}

// errUsage marks a command-line problem; the caller exits with status 1.
var errUsage = errors.New("usage")

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("idleforced", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", config.DefaultPath(), "path to the config file")
	fs.BoolVarP(&opts.verbose, "verbose", "v", false, "enable all verbose logging (equivalent to --log=all)")
	fs.StringVar(&opts.logTopics, "log", "", "comma-separated log topics: "+strings.Join(allTopics, ",")+" (or 'all')")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: idleforced [flags]\n\nSleeps or shuts down the machine after a period without input.\n\nFlags:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return opts, err
		}
		return opts, fmt.Errorf("%w: %w", errUsage, err)
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "unexpected arguments: %s\n", strings.Join(fs.Args(), " "))
		fs.Usage()
		return opts, fmt.Errorf("%w: unexpected arguments", errUsage)
	}
	return opts, nil
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	opts, err := parseFlags(args, os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		return 1
	}

	logger := newLogger(os.Stderr, opts.verbose, opts.logTopics)
	activityLog := logger.With("topic", topicActivity)
	schedLog := logger.With("topic", topicScheduler)
	powerLog := logger.With("topic", topicPower)
	policyLog := logger.With("topic", topicPolicy)
	controlLog := logger.With("topic", topicControl)
	storageLog := logger.With("topic", topicStorage)
	configLog := logger.With("topic", topicConfig)

	// Claim the bus name before anything is written so a second instance
	// exits without touching shared state.
	session, err := dbussvc.Claim()
	if err != nil {
		logger.Error("claim D-Bus name", "name", dbussvc.BusName, "err", err)
		return 1
	}
	defer session.Close()

	store, err := config.OpenStore(opts.configPath, configLog)
	if err != nil {
		logger.Error("load config", "path", opts.configPath, "err", err)
		return 1
	}
	cfg := store.Config()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := monoclock.System{}
	sources, closeSources := openSources(clock, session, os.Getenv, activityLog, logger)
	defer closeSources()

	var journal *storage.DB
	if db, err := storage.Open(cfg.Storage.DBPath); err != nil {
		logger.Warn("action journal unavailable", "path", cfg.Storage.DBPath, "err", err)
	} else {
		journal = db
		defer journal.Close()
	}
	var (
		journalW control.Journal
		journalR control.HistoryReader
	)
	if journal != nil {
		journalW, journalR = journal, journal
	}

	systemBus, err := godbus.ConnectSystemBus()
	var prober power.HibernationProber
	if err != nil {
		logger.Warn("system bus unavailable, guaranteed sleep cannot query hibernation", "err", err)
		prober = unavailableProber{err: err}
	} else {
		defer systemBus.Close()
		prober = power.NewLogindProber(systemBus)
	}

	runner := privileged.NewRunner(powerLog)
	actuator := power.NewActuator(runner, powerLog)
	policy := power.NewGuaranteedSleep(prober, runner, cfg.Run.GuaranteedSleep, policyLog)
	dispatcher := control.NewDispatcher(actuator, journalW, powerLog)
	defer dispatcher.Wait()

	sched := engine.New(clock, sources, store, dispatcher, schedLog)
	if err := sched.Prime(); err != nil {
		logger.Error("start idle clock", "err", err)
		return 1
	}

	exe, err := os.Executable()
	if err != nil {
		exe = "idleforced"
	}
	startup := autostart.New(exe)
	ctl := control.New(store, sched, policy, startup, dispatcher, journalR, controlLog)
	if err := ctl.RevalidateGuaranteedSleep(ctx); err != nil {
		logger.Warn("could not verify guaranteed sleep", "err", err)
	}
	if err := ctl.ReconcileStartup(); err != nil {
		logger.Warn("reconcile start on login", "err", err)
	}

	if err := dbussvc.NewService(ctl).Export(session); err != nil {
		logger.Error("export dbus service", "err", err)
		return 1
	}
	logger.Info("D-Bus service registered", "name", dbussvc.BusName)

	if err := store.Watch(ctx); err != nil {
		logger.Warn("config hot reload unavailable", "err", err)
	}

	var powerEvents <-chan power.Event
	if systemBus != nil {
		mon, err := power.NewSleepMonitor(systemBus, powerLog)
		if err != nil {
			logger.Warn("sleep monitor unavailable", "err", err)
		} else {
			powerEvents = mon.Events()
			defer mon.Close()
		}
	}

	interval := store.RunConfig().CheckInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	cleanupTicker := time.NewTicker(cleanupInterval)
	defer cleanupTicker.Stop()
	purgeJournal(journal, store, storageLog)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	rc := store.RunConfig()
	logger.Info("idleforced started", "mode", rc.Mode, "timeout", rc.Timeout, "check_interval", interval, "guaranteed_sleep", rc.GuaranteedSleep)
	for {
		select {
		case <-ticker.C:
			res, err := sched.Tick()
			if err != nil {
				schedLog.Warn("tick skipped", "err", err)
			} else if !res.Skipped {
				schedLog.Debug("tick", "idle", res.Idle, "activity", res.Activity, "fired", res.Fired)
			}
			if next := store.RunConfig().CheckInterval; next != interval {
				schedLog.Info("check interval changed", "from", interval, "to", next)
				interval = next
				ticker.Reset(interval)
			}
		case ev := <-powerEvents:
			if ev.Kind == power.EventWake {
				sched.Rearm()
			}
			if journal != nil {
				if err := journal.InsertPowerEvent(storage.PowerEvent{Timestamp: ev.Time.Unix(), Type: string(ev.Kind)}); err != nil {
					storageLog.Warn("journal power event", "err", err)
				}
			}
		case <-cleanupTicker.C:
			purgeJournal(journal, store, storageLog)
		case <-sigCh:
			logger.Info("shutting down")
			return 0
		}
	}
}

// openSources wires the keyboard/mouse backends and the controller slots in
// the order activity.BackendOrder gives for this session.
func openSources(clock monoclock.Clock, session *godbus.Conn, getenv func(string) string, activityLog, logger *slog.Logger) (activity.Source, func()) {
	var (
		backends []activity.IdleQuerier
		closers  []func()
	)

	order := activity.BackendOrder(getenv)
	for _, name := range order {
		switch name {
		case activity.BackendX11:
			x, err := activity.NewX11Idle()
			if err != nil {
				logger.Warn("X11 idle backend unavailable", "err", err)
				continue
			}
			backends = append(backends, x)
			closers = append(closers, x.Close)
		case activity.BackendMutter:
			backends = append(backends, activity.NewMutterIdle(session))
		}
	}
	activityLog.Info("idle backends", "order", strings.Join(order, ","))

	controllers := activity.NewControllerSource(activityLog)
	closers = append(closers, controllers.Close)

	src := activity.NewSources(activityLog,
		activity.NewInputSource(clock, activityLog, backends...),
		controllers,
	)
	return src, func() {
		for _, c := range closers {
			c()
		}
	}
}

func purgeJournal(journal *storage.DB, store *config.Store, log *slog.Logger) {
	if journal == nil {
		return
	}
	days := store.Config().History.RetentionDays
	cutoff := time.Now().AddDate(0, 0, -days).Unix()
	deleted, err := journal.DeleteOlderThan(cutoff)
	if err != nil {
		log.Warn("journal cleanup", "err", err)
		return
	}
	if deleted > 0 {
		log.Info("journal cleanup", "deleted", deleted, "retention_days", days)
	}
}

// unavailableProber answers every hibernation query with the error that kept
// the system bus from connecting.
type unavailableProber struct {
	err error
}

func (p unavailableProber) HibernationEnabled(context.Context) (bool, error) {
	return false, p.err
}
