// Package quadrature decodes two-channel rotary encoder signals into position changes.
package quadrature

import (
	"sync/atomic"

	pedalutils "pedalbot/utils"
)

// Step is the position change caused by one encoder transition.
type Step int

const (
	// None is a transition that does not move the position: no change, or a
	// two-state skip treated as noise.
	None Step = 0
	// Clockwise increments the position.
	Clockwise Step = 1
	// CounterClockwise decrements the position.
	CounterClockwise Step = -1
)

// steps is indexed by (previous state << 2) | new state, each state being
// the two-bit Gray code A<<1 | B.
var steps = [16]Step{
	0b0001: CounterClockwise,
	0b0111: CounterClockwise,
	0b1110: CounterClockwise,
	0b1000: CounterClockwise,
	0b0010: Clockwise,
	0b1011: Clockwise,
	0b1101: Clockwise,
	0b0100: Clockwise,
}

// Classify returns the step for a transition between two encoded states.
// Only the low two bits of each state are used.
func Classify(prev, next uint8) Step {
	return steps[(prev&0b11)<<2|next&0b11]
}

// Encode packs the two channel levels into a two-bit state.
func Encode(a, b bool) uint8 {
	var s uint8
	if a {
		s |= 0b10
	}
	if b {
		s |= 0b01
	}
	return s
}

// A Decoder tracks an encoder's position.
//
// Update is the interrupt path and must only be called from one goroutine
// at a time. Position may be read from any goroutine while Update runs.
type Decoder struct {
	a, b bool
	last uint8
	pos  uint32
}

// NewDecoder returns a decoder starting at the given position.
func NewDecoder(start pedalutils.Position) *Decoder {
	return &Decoder{pos: uint32(start)}
}

// Seed sets the transition history from the current channel levels without
// moving the position.
func (d *Decoder) Seed(a, b bool) {
	d.a, d.b = a, b
	d.last = Encode(a, b)
}

// Update records new channel levels and applies the resulting step.
func (d *Decoder) Update(a, b bool) Step {
	next := Encode(a, b)
	step := Classify(d.last, next)
	switch step {
	case Clockwise:
		atomic.AddUint32(&d.pos, 1)
	case CounterClockwise:
		atomic.AddUint32(&d.pos, ^uint32(0))
	case None:
	}
	d.a, d.b = a, b
	d.last = next
	return step
}

// SetA handles a level change reported for channel A alone.
func (d *Decoder) SetA(high bool) Step {
	return d.Update(high, d.b)
}

// SetB handles a level change reported for channel B alone.
func (d *Decoder) SetB(high bool) Step {
	return d.Update(d.a, high)
}

// Position returns the current position. The counter wraps mod 256.
func (d *Decoder) Position() pedalutils.Position {
	return pedalutils.Position(atomic.LoadUint32(&d.pos))
}

// SetPosition overwrites the position. It must not race a drive.
func (d *Decoder) SetPosition(p pedalutils.Position) {
	atomic.StoreUint32(&d.pos, uint32(p))
}
