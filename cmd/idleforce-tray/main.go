// Command idleforce-tray shows idleforced's state in the system tray and
// offers its controls as menu entries.
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/theme"
)

const refreshInterval = time.Second

func main() {
	a := app.NewWithID("org.idleforce.Tray")
	desk, ok := a.(desktop.App)
	if !ok {
		log.Fatal("system tray not supported by this driver")
	}

	win := a.NewWindow("idleforce")
	win.Resize(fyne.NewSize(420, 160))
	win.SetCloseIntercept(win.Hide)

	t := newTray(a, win, &reconnector{dial: dial})
	win.SetContent(t.panel.container)

	desk.SetSystemTrayIcon(theme.ComputerIcon())
	desk.SetSystemTrayMenu(t.menu)

	stop := make(chan struct{})
	go t.poll(refreshInterval, stop)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fyne.Do(a.Quit)
	}()

	a.Run()
	close(stop)
	t.daemon.Close()
}
