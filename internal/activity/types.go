// Package activity samples user input from the keyboard/mouse and a fixed
// number of game controller slots.
package activity

import (
	"fmt"
	"log/slog"
)

// MaxControllers is the number of controller slots that are polled.
const MaxControllers = 4

// NumSlots is the number of distinct sources: one keyboard/mouse slot plus
// one slot per controller.
const NumSlots = 1 + MaxControllers

// SourceID identifies an input slot.
type SourceID uint8

// Keyboard is the global keyboard/mouse slot.
const Keyboard SourceID = 0

// Controller returns the SourceID of controller slot index (0..MaxControllers-1).
func Controller(index int) SourceID {
	return SourceID(1 + index)
}

// IsController reports whether id names a controller slot.
func (id SourceID) IsController() bool {
	return id >= 1 && int(id) < NumSlots
}

// ControllerIndex returns the slot index of a controller id, or -1.
func (id SourceID) ControllerIndex() int {
	if !id.IsController() {
		return -1
	}
	return int(id) - 1
}

func (id SourceID) String() string {
	if id == Keyboard {
		return "keyboard"
	}
	if id.IsController() {
		return fmt.Sprintf("controller%d", id.ControllerIndex())
	}
	return fmt.Sprintf("source(%d)", uint8(id))
}

// Sample is one reading of one slot. Stamp is the last-input time in
// monotonic milliseconds for the keyboard slot and the packet number for a
// controller slot. A stamp that differs from the previous one for the same
// slot means new input.
type Sample struct {
	Source SourceID
	Stamp  uint64
}

// Source produces the current samples of the slots it owns. A slot that
// cannot be read is omitted rather than reported as an error.
type Source interface {
	Sample() []Sample
}

// Sources combines several sources into one. A source that panics is
// skipped for that call so the remaining sources are still sampled.
type Sources struct {
	list []Source
	log  *slog.Logger
}

// NewSources returns a Source that concatenates the samples of each source
// in order.
func NewSources(logger *slog.Logger, sources ...Source) *Sources {
	return &Sources{list: sources, log: logger}
}

// Sample implements Source.
func (s *Sources) Sample() []Sample {
	var out []Sample
	for i, src := range s.list {
		out = append(out, s.sampleOne(i, src)...)
	}
	return out
}

func (s *Sources) sampleOne(i int, src Source) (samples []Sample) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("activity source panicked", "index", i, "panic", r)
			samples = nil
		}
	}()
	return src.Sample()
}
