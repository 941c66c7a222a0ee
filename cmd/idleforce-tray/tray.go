package main

import (
	"fmt"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/dialog"

	"github.com/cptspacemanspiff/idleforce/internal/config"
	"github.com/cptspacemanspiff/idleforce/internal/control"
	"github.com/cptspacemanspiff/idleforce/internal/power"
)

type tray struct {
	app    fyne.App
	win    fyne.Window
	daemon *reconnector
	panel  *statusPanel

	menu          *fyne.Menu
	statusItem    *fyne.MenuItem
	pauseItem     *fyne.MenuItem
	modeItems     map[config.Mode]*fyne.MenuItem
	timeoutItems  map[int]*fyne.MenuItem
	guaranteeItem *fyne.MenuItem
	startupItem   *fyne.MenuItem

	// last is only touched on the UI goroutine.
	last *control.Status
}

func newTray(a fyne.App, win fyne.Window, d *reconnector) *tray {
	t := &tray{
		app:          a,
		win:          win,
		daemon:       d,
		panel:        newStatusPanel(),
		modeItems:    make(map[config.Mode]*fyne.MenuItem),
		timeoutItems: make(map[int]*fyne.MenuItem),
	}

	t.statusItem = fyne.NewMenuItem("Connecting...", t.win.Show)
	t.pauseItem = fyne.NewMenuItem("Pause", t.togglePause)

	var modes []*fyne.MenuItem
	for _, m := range []config.Mode{config.ModeSleep, config.ModeShutdown} {
		mode := m
		item := fyne.NewMenuItem(modeLabel(mode), func() { t.setMode(mode) })
		t.modeItems[mode] = item
		modes = append(modes, item)
	}
	modeMenu := fyne.NewMenuItem("When idle", nil)
	modeMenu.ChildMenu = fyne.NewMenu("", modes...)

	var timeouts []*fyne.MenuItem
	for _, p := range config.TimeoutPresets {
		minutes := p
		item := fyne.NewMenuItem(timeoutLabel(minutes), func() { t.setTimeout(minutes) })
		t.timeoutItems[minutes] = item
		timeouts = append(timeouts, item)
	}
	timeoutMenu := fyne.NewMenuItem("Timeout", nil)
	timeoutMenu.ChildMenu = fyne.NewMenu("", timeouts...)

	t.guaranteeItem = fyne.NewMenuItem("Guaranteed sleep", t.toggleGuaranteedSleep)
	t.startupItem = fyne.NewMenuItem("Start on login", t.toggleStartup)

	t.menu = fyne.NewMenu("idleforce",
		t.statusItem,
		fyne.NewMenuItemSeparator(),
		t.pauseItem,
		modeMenu,
		timeoutMenu,
		fyne.NewMenuItemSeparator(),
		fyne.NewMenuItem("Sleep now...", t.confirmSleep),
		fyne.NewMenuItem("Shut down now...", t.confirmShutdown),
		fyne.NewMenuItemSeparator(),
		t.guaranteeItem,
		t.startupItem,
	)
	return t
}

// poll refreshes the status every interval until stop is closed.
func (t *tray) poll(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	t.refresh()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.refresh()
		}
	}
}

// refresh fetches the status off the UI goroutine and applies it there.
func (t *tray) refresh() {
	var st *control.Status
	err := t.daemon.do(func(d daemon) error {
		var err error
		st, err = d.Status()
		return err
	})
	fyne.Do(func() { t.apply(st, err) })
}

func (t *tray) apply(st *control.Status, err error) {
	t.panel.Update(st, err)
	if err != nil {
		t.last = nil
		t.statusItem.Label = "idleforced is not running"
		t.setControlsDisabled(true)
		t.menu.Refresh()
		return
	}

	t.last = st
	t.setControlsDisabled(false)
	t.statusItem.Label = statusLine(st)
	t.pauseItem.Label = pauseLabel(st.Paused)
	for mode, item := range t.modeItems {
		item.Checked = mode.String() == st.Mode
	}
	for minutes, item := range t.timeoutItems {
		item.Checked = minutes == st.TimeoutMinutes
	}
	t.guaranteeItem.Checked = st.GuaranteedSleep
	t.startupItem.Checked = st.StartOnLogin
	t.menu.Refresh()
}

func (t *tray) setControlsDisabled(disabled bool) {
	t.pauseItem.Disabled = disabled
	t.guaranteeItem.Disabled = disabled
	t.startupItem.Disabled = disabled
	for _, item := range t.modeItems {
		item.Disabled = disabled
	}
	for _, item := range t.timeoutItems {
		item.Disabled = disabled
	}
}

// async runs fn against the daemon off the UI goroutine, reports any error
// in the window and refreshes the status afterwards.
func (t *tray) async(fn func(d daemon) error) {
	go func() {
		if err := t.daemon.do(fn); err != nil {
			t.showError(err)
		}
		t.refresh()
	}()
}

func (t *tray) showError(err error) {
	fyne.Do(func() {
		t.win.Show()
		dialog.ShowError(err, t.win)
	})
}

func (t *tray) notify(content string) {
	t.app.SendNotification(fyne.NewNotification("idleforce", content))
}

func (t *tray) togglePause() {
	if t.last == nil {
		return
	}
	paused := t.last.Paused
	t.async(func(d daemon) error {
		if paused {
			return d.Resume()
		}
		return d.Pause()
	})
}

func (t *tray) setMode(mode config.Mode) {
	t.async(func(d daemon) error { return d.SetMode(mode.String()) })
}

func (t *tray) setTimeout(minutes int) {
	t.async(func(d daemon) error { return d.SetTimeout(minutes) })
}

func (t *tray) confirmSleep() {
	t.win.Show()
	dialog.ShowConfirm("Sleep now?", "Put the computer to sleep now?", func(ok bool) {
		if !ok {
			return
		}
		t.win.Hide()
		t.async(func(d daemon) error {
			_, err := d.SleepNow()
			return err
		})
	}, t.win)
}

func (t *tray) confirmShutdown() {
	t.win.Show()
	dialog.ShowConfirm("Shut down now?", "Shut down the computer now? Unsaved work will be lost.", func(ok bool) {
		if !ok {
			return
		}
		t.win.Hide()
		t.async(func(d daemon) error {
			_, err := d.ShutdownNow()
			return err
		})
	}, t.win)
}

func (t *tray) toggleGuaranteedSleep() {
	if t.last == nil {
		return
	}
	enable := !t.last.GuaranteedSleep
	title, message, ask := guaranteeConfirmation(enable)
	if !ask {
		t.setGuaranteedSleep(enable)
		return
	}
	t.win.Show()
	dialog.ShowConfirm(title, message, func(ok bool) {
		if !ok {
			return
		}
		t.win.Hide()
		t.setGuaranteedSleep(enable)
	}, t.win)
}

func (t *tray) setGuaranteedSleep(enable bool) {
	t.async(func(d daemon) error {
		reconfigured, err := d.SetGuaranteedSleep(enable)
		if power.IsDeclined(err) {
			t.notify("Guaranteed sleep left off: authorization was declined.")
			return nil
		}
		if err != nil {
			return err
		}
		if reconfigured {
			t.notify("Hibernation disabled. Sleep will always suspend to memory.")
		}
		return nil
	})
}

// guaranteeConfirmation returns the dialog shown before a guaranteed sleep
// change. Only turning it on asks, since that masks hibernation system-wide.
func guaranteeConfirmation(enable bool) (title, message string, ask bool) {
	if !enable {
		return "", "", false
	}
	return "Guaranteed sleep",
		"This turns off Hibernate to ensure Sleep. Administrator authorization is needed. Continue?",
		true
}

func (t *tray) toggleStartup() {
	if t.last == nil {
		return
	}
	enable := !t.last.StartOnLogin
	t.async(func(d daemon) error { return d.SetStartOnLogin(enable) })
}

func modeLabel(m config.Mode) string {
	switch m {
	case config.ModeShutdown:
		return "Shut down"
	default:
		return "Sleep"
	}
}

func pauseLabel(paused bool) string {
	if paused {
		return "Resume"
	}
	return "Pause"
}

func timeoutLabel(minutes int) string {
	switch {
	case minutes == 1:
		return "1 minute"
	case minutes%60 == 0:
		if minutes == 60 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", minutes/60)
	default:
		return fmt.Sprintf("%d minutes", minutes)
	}
}

// statusLine summarizes the daemon state for the first menu entry.
func statusLine(st *control.Status) string {
	idle := humanDuration(time.Duration(st.IdleSeconds) * time.Second)
	if st.Paused {
		return "Paused (idle " + idle + ")"
	}
	if st.TimeUntilActionSeconds == nil {
		return "Idle " + idle
	}
	left := humanDuration(time.Duration(*st.TimeUntilActionSeconds) * time.Second)
	return fmt.Sprintf("Idle %s, %s in %s", idle, st.Mode, left)
}

// humanDuration renders d with its two most significant units.
func humanDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Truncate(time.Second)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %02dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm %02ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
