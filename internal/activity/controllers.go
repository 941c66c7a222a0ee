package activity

import "log/slog"

// ControllerSource polls the fixed controller slots. A slot that is not
// connected or fails to answer is skipped; the other slots are unaffected.
type ControllerSource struct {
	pads [MaxControllers]Pad
	log  *slog.Logger
}

// NewControllerSource polls /dev/input/js0 through js(MaxControllers-1).
func NewControllerSource(logger *slog.Logger) *ControllerSource {
	var pads [MaxControllers]Pad
	for i := range pads {
		pads[i] = newJoystick(i)
	}
	return newControllerSource(pads, logger)
}

func newControllerSource(pads [MaxControllers]Pad, logger *slog.Logger) *ControllerSource {
	return &ControllerSource{pads: pads, log: logger}
}

// Sample implements Source.
func (c *ControllerSource) Sample() []Sample {
	var out []Sample
	for i, pad := range c.pads {
		if pad == nil {
			continue
		}
		packet, connected, err := pad.Poll()
		if err != nil {
			c.log.Debug("controller query failed", "slot", i, "err", err)
			continue
		}
		if !connected {
			continue
		}
		out = append(out, Sample{Source: Controller(i), Stamp: uint64(packet)})
	}
	return out
}

// Close releases all open device handles.
func (c *ControllerSource) Close() {
	for _, pad := range c.pads {
		if pad != nil {
			pad.Close()
		}
	}
}
