package limb

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"

	"pedalbot/quadrature"
	pedalutils "pedalbot/utils"
)

// ErrStalled is returned when the encoder stops reporting movement while the
// motor is being pulsed.
var ErrStalled = errors.New("limb stalled")

// A Pin is a single digital line. board.GPIOPin satisfies it.
type Pin interface {
	Set(ctx context.Context, high bool, extra map[string]interface{}) error
	Get(ctx context.Context, extra map[string]interface{}) (bool, error)
}

// ActuatorConfig holds the mechanical constants of a limb.
type ActuatorConfig struct {
	StepsPerRotation  int
	CogTeeth          int
	StepDelay         time.Duration
	PulseGroupDivisor int
	Tolerance         int
	InvertDirection   bool
	MaxStalledGroups  int
}

// StepsFor returns the number of motor steps that rotate the output by
// degrees.
func StepsFor(degrees float64, stepsPerRotation int) int {
	return int(math.Round(degrees * float64(stepsPerRotation) / 360))
}

// StepsPerNotch returns the motor steps between two encoder detents: the
// steps per rotation spread over 360/cogTeeth degree detents.
func StepsPerNotch(stepsPerRotation, cogTeeth int) int {
	return StepsFor(float64(cogTeeth), stepsPerRotation)
}

// Actuator drives a stepper until the encoder reports the target position.
type Actuator struct {
	dir, step, sleep, led Pin
	dec                   *quadrature.Decoder
	cfg                   ActuatorConfig
	stepsPerNotch         int
	driving               atomic.Bool
	logger                logging.Logger
}

// NewActuator returns an Actuator using the given driver pins and decoder.
func NewActuator(dir, step, sleep, led Pin, dec *quadrature.Decoder, cfg ActuatorConfig, logger logging.Logger) (*Actuator, error) {
	switch {
	case cfg.StepsPerRotation <= 0:
		return nil, errors.New("steps per rotation must be positive")
	case cfg.CogTeeth <= 0:
		return nil, errors.New("cog teeth must be positive")
	case cfg.PulseGroupDivisor <= 0:
		return nil, errors.New("pulse group divisor must be positive")
	case cfg.Tolerance < 0:
		return nil, errors.New("tolerance cannot be negative")
	}
	return &Actuator{
		dir:             dir,
		step:            step,
		sleep:           sleep,
		led:             led,
		dec:             dec,
		cfg:             cfg,
		stepsPerNotch:   StepsPerNotch(cfg.StepsPerRotation, cfg.CogTeeth),
		logger:          logger,
	}, nil
}

// Idle puts the driver to sleep with the step line low and the LED off.
func (a *Actuator) Idle(ctx context.Context) error {
	return multierr.Combine(
		a.step.Set(ctx, false, nil),
		a.sleep.Set(ctx, false, nil),
		a.led.Set(ctx, false, nil),
	)
}

// IsDriving reports whether a Drive call is in progress.
func (a *Actuator) IsDriving() bool {
	return a.driving.Load()
}

// maxGroupNotches bounds a pulse group so the movement between two encoder
// reads stays below half the position scale.
const maxGroupNotches = 64

// groupSize is the number of step pulses sent before the encoder is checked
// again. It shrinks as the limb closes in on the target.
func (a *Actuator) groupSize(distance int) int {
	if distance < 0 {
		distance = -distance
	}
	n := distance * a.stepsPerNotch / a.cfg.PulseGroupDivisor
	if limit := maxGroupNotches * a.stepsPerNotch; n > limit {
		return limit
	}
	if n < 1 {
		return 1
	}
	return n
}

// settled reports whether the remaining distance is inside the tolerance band
// or has changed sign, meaning the target was passed.
func (a *Actuator) settled(initial, remaining int) bool {
	if remaining >= -a.cfg.Tolerance && remaining <= a.cfg.Tolerance {
		return true
	}
	return (initial > 0 && remaining < 0) || (initial < 0 && remaining > 0)
}

func (a *Actuator) pulse(ctx context.Context) error {
	if err := a.step.Set(ctx, true, nil); err != nil {
		return err
	}
	if a.cfg.StepDelay > 0 {
		time.Sleep(a.cfg.StepDelay)
	}
	if err := a.step.Set(ctx, false, nil); err != nil {
		return err
	}
	if a.cfg.StepDelay > 0 {
		time.Sleep(a.cfg.StepDelay)
	}
	return nil
}

// Drive moves the limb until its position is within the tolerance of target
// or the target has been passed. The driver is always put back to sleep on
// return.
func (a *Actuator) Drive(ctx context.Context, target pedalutils.Position) (err error) {
	a.driving.Store(true)
	defer a.driving.Store(false)

	cleanupCtx := context.WithoutCancel(ctx)
	defer func() {
		err = multierr.Combine(err, a.sleep.Set(cleanupCtx, false, nil), a.led.Set(cleanupCtx, false, nil))
	}()
	if err := a.led.Set(ctx, true, nil); err != nil {
		return errors.Wrap(err, "cannot turn on busy LED")
	}
	if err := a.sleep.Set(ctx, true, nil); err != nil {
		return errors.Wrap(err, "cannot wake stepper driver")
	}

	start := a.dec.Position()
	initial := start.Distance(target)
	if a.settled(initial, initial) {
		return nil
	}
	if err := a.dir.Set(ctx, (initial > 0) != a.cfg.InvertDirection, nil); err != nil {
		return errors.Wrap(err, "cannot set direction")
	}
	a.logger.Debugf("driving from %v to %v", start, target)

	// The remaining distance is tracked from the movement seen between reads,
	// so a pass through the 255/0 wrap still counts as reaching the target.
	remaining := initial
	current := start
	stalled := 0
	for {
		if a.settled(initial, remaining) {
			a.logger.Debugf("reached %v (target %v)", current, target)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return errors.Wrapf(err, "drive to %v stopped at %v", target, current)
		}
		for i := a.groupSize(remaining); i > 0; i-- {
			if err := a.pulse(ctx); err != nil {
				return errors.Wrap(err, "cannot pulse step pin")
			}
		}
		next := a.dec.Position()
		moved := current.Delta(next)
		current = next
		remaining -= moved
		if moved != 0 {
			stalled = 0
			continue
		}
		stalled++
		if a.cfg.MaxStalledGroups > 0 && stalled >= a.cfg.MaxStalledGroups {
			return errors.Wrapf(ErrStalled, "no encoder movement at %v after %d pulse groups", current, stalled)
		}
	}
}
