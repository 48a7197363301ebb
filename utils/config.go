package pedalutils

import (
	"fmt"
	"strconv"

	"go.viam.com/rdk/resource"
)

// PedalbotFamily is the model family for the pedalbot module.
var PedalbotFamily = resource.NewModelFamily("pedalbot", "pedal-automation")

// Pin numbering of the first limb. Later limbs are offset from these.
const (
	firstDir    = 53
	firstStep   = 12
	firstSleep  = 52
	firstButton = 22
	firstLED    = 23
)

// MaxLimbs is the number of limbs the pin arithmetic can wire. Past it the
// dir and sleep pins of one limb land on the LED and button pins of another,
// and step pins reach the first encoder pair.
const MaxLimbs = 8

// encoderPins are the interrupt-capable pin pairs wired to each limb's encoder.
var encoderPins = [][2]int{{2, 3}, {18, 19}, {20, 21}}

// LimbPins names every board pin a limb uses.
type LimbPins struct {
	Dir      string
	Step     string
	Sleep    string
	LED      string
	Button   string
	EncoderA string
	EncoderB string
}

// PinConfig overrides derived pin names. Empty fields keep the derived pin.
type PinConfig struct {
	Dir      string `json:"dir,omitempty"`
	Step     string `json:"step,omitempty"`
	Sleep    string `json:"sleep,omitempty"`
	LED      string `json:"led,omitempty"`
	Button   string `json:"button,omitempty"`
	EncoderA string `json:"encoder_a,omitempty"`
	EncoderB string `json:"encoder_b,omitempty"`
}

// DerivePins returns the pins wired to the given limb.
// Limbs past the wired encoder pairs get no encoder pins and must name them in config.
func DerivePins(limb int) (LimbPins, error) {
	if limb < 0 || limb >= MaxLimbs {
		return LimbPins{}, fmt.Errorf("limb index %d out of range [0, %d]", limb, MaxLimbs-1)
	}
	pins := LimbPins{
		Dir:    strconv.Itoa(firstDir - 2*limb),
		Step:   strconv.Itoa(firstStep - limb),
		Sleep:  strconv.Itoa(firstSleep - 2*limb),
		LED:    strconv.Itoa(firstLED + 2*limb),
		Button: strconv.Itoa(firstButton + 2*limb),
	}
	if limb < len(encoderPins) {
		pins.EncoderA = strconv.Itoa(encoderPins[limb][0])
		pins.EncoderB = strconv.Itoa(encoderPins[limb][1])
	}
	return pins, nil
}

// Apply returns pins with every non-empty override applied.
func (conf *PinConfig) Apply(pins LimbPins) LimbPins {
	if conf == nil {
		return pins
	}
	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&pins.Dir, conf.Dir)
	override(&pins.Step, conf.Step)
	override(&pins.Sleep, conf.Sleep)
	override(&pins.LED, conf.LED)
	override(&pins.Button, conf.Button)
	override(&pins.EncoderA, conf.EncoderA)
	override(&pins.EncoderB, conf.EncoderB)
	return pins
}

// Validate ensures every pin is named and no pin is used twice.
func (pins LimbPins) Validate(path string) error {
	named := []struct {
		field string
		pin   string
	}{
		{"dir", pins.Dir},
		{"step", pins.Step},
		{"sleep", pins.Sleep},
		{"led", pins.LED},
		{"button", pins.Button},
		{"encoder_a", pins.EncoderA},
		{"encoder_b", pins.EncoderB},
	}
	seen := map[string]string{}
	for _, n := range named {
		if n.pin == "" {
			return resource.NewConfigValidationFieldRequiredError(path, "pins."+n.field)
		}
		if other, ok := seen[n.pin]; ok {
			return resource.NewConfigValidationError(path,
				fmt.Errorf("pin %s is used for both %s and %s", n.pin, other, n.field))
		}
		seen[n.pin] = n.field
	}
	return nil
}
