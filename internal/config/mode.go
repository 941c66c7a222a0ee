package config

import (
	"fmt"
	"strings"
)

// Mode is the power action taken when the idle timeout expires.
type Mode int

const (
	ModeSleep Mode = iota
	ModeShutdown
)

func (m Mode) String() string {
	switch m {
	case ModeSleep:
		return "sleep"
	case ModeShutdown:
		return "shutdown"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseMode accepts "sleep" or "shutdown", case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sleep":
		return ModeSleep, nil
	case "shutdown":
		return ModeShutdown, nil
	default:
		return 0, fmt.Errorf("unknown mode %q (want sleep or shutdown)", s)
	}
}
