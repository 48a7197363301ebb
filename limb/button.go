package limb

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"pedalbot/presets"
	pedalutils "pedalbot/utils"
)

// A HoldAction is a command issued by holding the button down.
type HoldAction int

// Hold actions in the order a continuous hold fires them.
const (
	HoldSave HoldAction = iota + 1
	HoldClearPresets
	HoldClearAll
)

func (a HoldAction) String() string {
	switch a {
	case HoldSave:
		return "save"
	case HoldClearPresets:
		return "clear_presets"
	case HoldClearAll:
		return "clear_all"
	default:
		return "unknown"
	}
}

// holdTicks is the length of a hold session in hold intervals.
const holdTicks = 15

// holdSchedule maps the tick at which the button is still held to the action
// that fires.
var holdSchedule = map[int]HoldAction{
	0: HoldSave,
	5: HoldClearPresets,
	9: HoldClearAll,
}

func (l *limb) buttonPressed(ctx context.Context) (bool, error) {
	level, err := l.button.Get(ctx, nil)
	if err != nil {
		return false, errors.Wrap(err, "cannot read button")
	}
	return level == l.settings.buttonActiveHigh, nil
}

// CheckButton runs a hold session if the button is pressed and returns the
// actions it fired, in order. A session lasts until the button is released or
// holdTicks intervals have passed. slot is the preset a save writes to.
func (l *limb) CheckButton(ctx context.Context, slot int) ([]HoldAction, error) {
	if slot != pedalutils.NoSlot && !pedalutils.ValidSlot(slot) {
		return nil, errors.Wrapf(presets.ErrInvalidSlot, "slot %d", slot)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	pressed, err := l.buttonPressed(ctx)
	if err != nil || !pressed {
		return nil, err
	}

	var fired []HoldAction
	for tick := 0; tick < holdTicks; tick++ {
		if tick > 0 && !utils.SelectContextOrWait(ctx, l.settings.holdInterval) {
			return fired, ctx.Err()
		}
		pressed, err := l.buttonPressed(ctx)
		if err != nil {
			return fired, err
		}
		if !pressed {
			l.logger.Debugf("button released after %d ticks", tick)
			break
		}
		action, ok := holdSchedule[tick]
		if !ok {
			continue
		}
		l.logger.Infof("button hold: %v", action)
		switch action {
		case HoldSave:
			err = l.savePreset(ctx, slot)
		case HoldClearPresets:
			err = l.clearPresets(ctx)
		case HoldClearAll:
			err = l.clearAll(ctx)
		}
		if err != nil {
			return fired, err
		}
		fired = append(fired, action)
	}
	return fired, nil
}

// Flash blinks the LED count times and leaves it off.
func (l *limb) Flash(ctx context.Context, count int, on, off time.Duration) error {
	for i := 0; i < count; i++ {
		if err := l.led.Set(ctx, true, nil); err != nil {
			return errors.Wrap(err, "cannot turn on LED")
		}
		lit := utils.SelectContextOrWait(ctx, on)
		if err := l.led.Set(context.WithoutCancel(ctx), false, nil); err != nil {
			return errors.Wrap(err, "cannot turn off LED")
		}
		if !lit {
			return ctx.Err()
		}
		if i < count-1 && !utils.SelectContextOrWait(ctx, off) {
			return ctx.Err()
		}
	}
	return nil
}

func (l *limb) flashSaved(ctx context.Context) error {
	return l.Flash(ctx, 1, 2*l.settings.flash, 0)
}

func (l *limb) flashCleared(ctx context.Context, count int) error {
	return l.Flash(ctx, count, l.settings.flash, l.settings.flash/2)
}
