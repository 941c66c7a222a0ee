package activity

import "strings"

// Names of the keyboard/mouse idle backends.
const (
	BackendX11    = "x11"
	BackendMutter = "mutter"
)

// BackendOrder returns the idle backends to try for the session described
// by getenv, most trusted first. Wayland sessions skip X11: XWayland's
// screensaver counter only sees input sent to X clients and keeps growing
// while the user types into native windows.
func BackendOrder(getenv func(string) string) []string {
	if isWayland(getenv) {
		return []string{BackendMutter}
	}
	if getenv("DISPLAY") != "" {
		return []string{BackendX11, BackendMutter}
	}
	return []string{BackendMutter}
}

func isWayland(getenv func(string) string) bool {
	return strings.EqualFold(getenv("XDG_SESSION_TYPE"), "wayland") || getenv("WAYLAND_DISPLAY") != ""
}
