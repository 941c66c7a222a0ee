package activity

import (
	"errors"
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// devRoot is the directory holding the jsN device nodes. Tests point it at a
// temp dir.
var devRoot = "/dev/input"

const (
	jsEventSize = 8    // struct js_event: u32 time, s16 value, u8 type, u8 number
	jsEventInit = 0x80 // JS_EVENT_INIT, synthetic state dump on open
	jsTypeByte  = 6
)

// Pad is one controller slot.
type Pad interface {
	// Poll returns the slot's packet number. connected is false when no
	// device is present, which is not an error.
	Poll() (packet uint32, connected bool, err error)
	Close() error
}

// joystick reads the Linux joystick API without blocking. Every real event
// drained from the device advances the packet number, so an unchanged packet
// number means the controller produced no new input even while a button is
// held.
type joystick struct {
	path   string
	fd     int
	packet uint32
}

func newJoystick(index int) *joystick {
	return &joystick{path: filepath.Join(devRoot, fmt.Sprintf("js%d", index)), fd: -1}
}

// Poll implements Pad.
func (j *joystick) Poll() (uint32, bool, error) {
	if j.fd < 0 {
		fd, err := unix.Open(j.path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
		if err != nil {
			if isAbsent(err) {
				return 0, false, nil
			}
			return 0, false, fmt.Errorf("open %s: %w", j.path, err)
		}
		j.fd = fd
	}

	var buf [jsEventSize * 64]byte
	for {
		n, err := unix.Read(j.fd, buf[:])
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				break
			}
			if errors.Is(err, unix.EINTR) {
				continue
			}
			j.Close()
			if isAbsent(err) {
				return 0, false, nil
			}
			return 0, false, fmt.Errorf("read %s: %w", j.path, err)
		}
		if n <= 0 {
			break
		}
		for off := 0; off+jsEventSize <= n; off += jsEventSize {
			if buf[off+jsTypeByte]&jsEventInit == 0 {
				j.packet++
			}
		}
	}
	return j.packet, true, nil
}

// Close implements Pad.
func (j *joystick) Close() error {
	if j.fd < 0 {
		return nil
	}
	err := unix.Close(j.fd)
	j.fd = -1
	return err
}

func isAbsent(err error) bool {
	return errors.Is(err, unix.ENOENT) || errors.Is(err, unix.ENODEV) || errors.Is(err, unix.ENXIO)
}
