package limb

import (
	"time"

	"github.com/pkg/errors"
	"go.viam.com/rdk/resource"

	"pedalbot/presets"
	pedalutils "pedalbot/utils"
)

// Defaults for the stepper and cog the rig was built with.
const (
	defaultStepsPerRotation  = 1600
	defaultCogTeeth          = 25
	defaultStepDelayUS       = 200
	defaultPulseGroupDivisor = 7
	defaultTolerance         = 5
	defaultButtonPollMS      = 50
	defaultHoldIntervalMS    = 500
	defaultFlashMS           = 300
)

// Config is the config for a limb.
type Config struct {
	BoardName string                `json:"board"`
	Limb      int                   `json:"limb"`
	Pins      *pedalutils.PinConfig `json:"pins,omitempty"`
	Storage   presets.StorageConfig `json:"storage"`

	StepsPerRotation  int  `json:"steps_per_rotation,omitempty"`
	CogTeeth          int  `json:"cog_teeth,omitempty"`
	StepDelayUS       int  `json:"step_delay_us,omitempty"`
	PulseGroupDivisor int  `json:"pulse_group_divisor,omitempty"`
	Tolerance         *int `json:"tolerance,omitempty"`      // defaults to 5, 0 drives to the exact position
	InvertDirection   bool `json:"invert_direction,omitempty"` // swaps the DIR pin polarity
	DriveTimeoutMS    int  `json:"drive_timeout_ms,omitempty"` // 0 waits forever
	MaxStalledGroups  int  `json:"max_stalled_groups,omitempty"`

	ButtonActiveHigh bool `json:"button_active_high,omitempty"`
	ButtonPollMS     *int `json:"button_poll_ms,omitempty"` // 0 disables polling
	HoldIntervalMS   int  `json:"hold_interval_ms,omitempty"`
	FlashMS          int  `json:"flash_ms,omitempty"`

	// PersistClearedPosition writes the neutral position to storage as soon
	// as a clear-all resets it, instead of on the next drive or close.
	PersistClearedPosition bool `json:"persist_cleared_position,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (conf *Config) Validate(path string) ([]string, []string, error) {
	if conf.BoardName == "" {
		return nil, nil, resource.NewConfigValidationFieldRequiredError(path, "board")
	}
	if _, err := conf.pins(path); err != nil {
		return nil, nil, err
	}
	if err := conf.Storage.Validate(path); err != nil {
		return nil, nil, err
	}
	for _, f := range []struct {
		name  string
		value int
	}{
		{"steps_per_rotation", conf.StepsPerRotation},
		{"cog_teeth", conf.CogTeeth},
		{"step_delay_us", conf.StepDelayUS},
		{"pulse_group_divisor", conf.PulseGroupDivisor},
		{"drive_timeout_ms", conf.DriveTimeoutMS},
		{"max_stalled_groups", conf.MaxStalledGroups},
		{"hold_interval_ms", conf.HoldIntervalMS},
		{"flash_ms", conf.FlashMS},
	} {
		if f.value < 0 {
			return nil, nil, resource.NewConfigValidationError(path, errors.Errorf("%s cannot be negative", f.name))
		}
	}
	if conf.Tolerance != nil && *conf.Tolerance < 0 {
		return nil, nil, resource.NewConfigValidationError(path, errors.New("tolerance cannot be negative"))
	}
	if conf.ButtonPollMS != nil && *conf.ButtonPollMS < 0 {
		return nil, nil, resource.NewConfigValidationError(path, errors.New("button_poll_ms cannot be negative"))
	}
	return []string{conf.BoardName}, nil, nil
}

// pins derives the limb's pins from its index and applies the overrides.
func (conf *Config) pins(path string) (pedalutils.LimbPins, error) {
	pins, err := pedalutils.DerivePins(conf.Limb)
	if err != nil {
		return pedalutils.LimbPins{}, resource.NewConfigValidationError(path, err)
	}
	pins = conf.Pins.Apply(pins)
	if err := pins.Validate(path); err != nil {
		return pedalutils.LimbPins{}, err
	}
	return pins, nil
}

// settings is a Config with defaults applied and units resolved.
type settings struct {
	limb                   int
	actuator               ActuatorConfig
	driveTimeout           time.Duration
	buttonActiveHigh       bool
	buttonPoll             time.Duration
	holdInterval           time.Duration
	flash                  time.Duration
	persistClearedPosition bool
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func (conf *Config) settings() settings {
	tolerance := defaultTolerance
	if conf.Tolerance != nil {
		tolerance = *conf.Tolerance
	}
	poll := defaultButtonPollMS
	if conf.ButtonPollMS != nil {
		poll = *conf.ButtonPollMS
	}
	return settings{
		limb: conf.Limb,
		actuator: ActuatorConfig{
			StepsPerRotation:  orDefault(conf.StepsPerRotation, defaultStepsPerRotation),
			CogTeeth:          orDefault(conf.CogTeeth, defaultCogTeeth),
			StepDelay:         time.Duration(orDefault(conf.StepDelayUS, defaultStepDelayUS)) * time.Microsecond,
			PulseGroupDivisor: orDefault(conf.PulseGroupDivisor, defaultPulseGroupDivisor),
			Tolerance:         tolerance,
			InvertDirection:   conf.InvertDirection,
			MaxStalledGroups:  conf.MaxStalledGroups,
		},
		driveTimeout:           time.Duration(conf.DriveTimeoutMS) * time.Millisecond,
		buttonActiveHigh:       conf.ButtonActiveHigh,
		buttonPoll:             time.Duration(poll) * time.Millisecond,
		holdInterval:           time.Duration(orDefault(conf.HoldIntervalMS, defaultHoldIntervalMS)) * time.Millisecond,
		flash:                  time.Duration(orDefault(conf.FlashMS, defaultFlashMS)) * time.Millisecond,
		persistClearedPosition: conf.PersistClearedPosition,
	}
}
