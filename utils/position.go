// Package pedalutils contains the data model and pin helpers shared by the limb packages.
package pedalutils

import "fmt"

// Position is the angular position of a limb in encoder detents.
// It wraps mod 256, which is a property of the hardware counter.
type Position uint8

const (
	// Unset marks a preset slot that has never been saved.
	Unset Position = 255
	// Noon is the neutral position, with the dial pointing straight up.
	Noon Position = 127
)

// MaxPresets is the number of preset slots per limb, one per MIDI program.
const MaxPresets = 128

// NoSlot means no preset has been selected yet. The preset store uses the
// same value to address the current position cell.
const NoSlot = -1

// ValidSlot reports whether slot addresses a preset.
func ValidSlot(slot int) bool {
	return slot >= 0 && slot < MaxPresets
}

// String implements fmt.Stringer.
func (p Position) String() string {
	if p == Unset {
		return "unset"
	}
	return fmt.Sprintf("%d", uint8(p))
}

// Distance returns the signed distance from p to target without wrapping.
func (p Position) Distance(target Position) int {
	return int(target) - int(p)
}

// Delta returns the shortest signed movement from p to next, taking the
// wrap at 255/0 into account. Movements of 128 or more are ambiguous.
func (p Position) Delta(next Position) int {
	return int(int8(next - p))
}
