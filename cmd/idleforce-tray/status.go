package main

import (
	"image/color"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/layout"
	"fyne.io/fyne/v2/theme"

	"github.com/cptspacemanspiff/idleforce/internal/control"
)

var (
	colorGreenAccent = color.NRGBA{R: 77, G: 191, B: 102, A: 255}
	colorAmber       = color.NRGBA{R: 230, G: 170, B: 60, A: 255}
	colorWhiteLabel  = color.NRGBA{R: 200, G: 200, B: 200, A: 255}
)

// statusPanel is the row of figures shown in the tray window.
type statusPanel struct {
	idleLabel   *canvas.Text
	actionLabel *canvas.Text
	nextLabel   *canvas.Text
	sleepLabel  *canvas.Text
	container   fyne.CanvasObject
}

func newStatusPanel() *statusPanel {
	s := &statusPanel{
		idleLabel:   newStatText("--"),
		actionLabel: newStatText("--"),
		nextLabel:   newStatText("--"),
		sleepLabel:  newStatText("--"),
	}

	bg := canvas.NewRectangle(theme.Color(theme.ColorNameHeaderBackground))

	row := container.New(layout.NewHBoxLayout(),
		container.NewVBox(newLabelText("Idle"), s.idleLabel),
		layout.NewSpacer(),
		container.NewVBox(newLabelText("Action"), s.actionLabel),
		layout.NewSpacer(),
		container.NewVBox(newLabelText("Next"), s.nextLabel),
		layout.NewSpacer(),
		container.NewVBox(newLabelText("Guaranteed sleep"), s.sleepLabel),
	)

	s.container = container.NewStack(bg, container.NewPadded(row))
	return s
}

// Update must run on the UI goroutine.
func (s *statusPanel) Update(st *control.Status, err error) {
	if err != nil || st == nil {
		s.idleLabel.Text = "--"
		s.actionLabel.Text = "offline"
		s.nextLabel.Text = "--"
		s.sleepLabel.Text = "--"
		s.actionLabel.Color = colorAmber
	} else {
		s.idleLabel.Text = humanDuration(time.Duration(st.IdleSeconds) * time.Second)
		s.actionLabel.Text = st.Mode + " / " + timeoutLabel(st.TimeoutMinutes)
		s.actionLabel.Color = colorGreenAccent
		switch {
		case st.Paused:
			s.nextLabel.Text = "paused"
		case st.TimeUntilActionSeconds != nil:
			s.nextLabel.Text = humanDuration(time.Duration(*st.TimeUntilActionSeconds) * time.Second)
		default:
			s.nextLabel.Text = "--"
		}
		s.sleepLabel.Text = onOff(st.GuaranteedSleep)
	}
	s.idleLabel.Refresh()
	s.actionLabel.Refresh()
	s.nextLabel.Refresh()
	s.sleepLabel.Refresh()
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func newStatText(text string) *canvas.Text {
	t := canvas.NewText(text, colorGreenAccent)
	t.TextSize = 18
	t.TextStyle = fyne.TextStyle{Bold: true}
	return t
}

func newLabelText(text string) *canvas.Text {
	t := canvas.NewText(text, colorWhiteLabel)
	t.TextSize = 12
	return t
}
