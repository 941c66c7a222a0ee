// Package monoclock reads a millisecond monotonic clock.
package monoclock

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Clock returns the current monotonic time in milliseconds.
type Clock interface {
	Now() (uint64, error)
}

// System reads CLOCK_MONOTONIC, which does not advance while the machine is
// suspended.
type System struct{}

// Now implements Clock.
func (System) Now() (uint64, error) {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0, fmt.Errorf("clock_gettime: %w", err)
	}
	return uint64(ts.Sec)*1000 + uint64(ts.Nsec)/1_000_000, nil
}
