// Package limb implements one limb of the pedal automation rig: a stepper
// driven to encoder positions, with presets kept on a byte device and a
// button for saving and clearing them.
package limb

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/components/board"
	"go.viam.com/rdk/components/generic"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/operation"
	"go.viam.com/rdk/resource"
	"go.viam.com/utils"

	"pedalbot/presets"
	"pedalbot/quadrature"
	pedalutils "pedalbot/utils"
)

// Model is the model of the limb component.
var Model = pedalutils.PedalbotFamily.WithModel("limb")

// encoderLines routes encoder ticks to the limb that owns the line. All limbs
// of the process share it, so two limbs cannot claim the same interrupt.
var encoderLines = pedalutils.NewInterruptTable()

// tickBuffer is how many encoder ticks may queue before the board blocks.
const tickBuffer = 1024

func init() {
	resource.RegisterComponent(
		generic.API,
		Model,
		resource.Registration[resource.Resource, *Config]{
			Constructor: newLimb,
		},
	)
}

// hardware is the set of lines a limb drives and reads.
type hardware struct {
	dir, step, sleep, led, button Pin
	encoderA, encoderB            Pin
}

type limb struct {
	resource.Named
	resource.AlwaysRebuild

	// mu serialises every operation that moves the limb or touches storage.
	mu       sync.Mutex
	settings settings
	store    *presets.Store
	presets  [pedalutils.MaxPresets]pedalutils.Position
	selected atomic.Int64

	dec      *quadrature.Decoder
	act      *Actuator
	led      Pin
	button   Pin
	opMgr    *operation.SingleOperationManager
	isClosed bool

	interrupts *pedalutils.InterruptTable
	lines      []string

	cancelCtx               context.Context
	cancelFunc              func()
	activeBackgroundWorkers sync.WaitGroup
	logger                  logging.Logger
}

func newLimb(
	ctx context.Context,
	deps resource.Dependencies,
	conf resource.Config,
	logger logging.Logger,
) (resource.Resource, error) {
	newConf, err := resource.NativeConfig[*Config](conf)
	if err != nil {
		return nil, err
	}
	pins, err := newConf.pins(conf.Name)
	if err != nil {
		return nil, err
	}
	b, err := board.FromDependencies(deps, newConf.BoardName)
	if err != nil {
		return nil, errors.Errorf("%q is not a board", newConf.BoardName)
	}

	var hw hardware
	for _, p := range []struct {
		name string
		dst  *Pin
	}{
		{pins.Dir, &hw.dir},
		{pins.Step, &hw.step},
		{pins.Sleep, &hw.sleep},
		{pins.LED, &hw.led},
		{pins.Button, &hw.button},
		{pins.EncoderA, &hw.encoderA},
		{pins.EncoderB, &hw.encoderB},
	} {
		gpio, err := b.GPIOPinByName(p.name)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot get pin %s", p.name)
		}
		*p.dst = gpio
	}
	encA, err := b.DigitalInterruptByName(pins.EncoderA)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot get encoder interrupt %s", pins.EncoderA)
	}
	encB, err := b.DigitalInterruptByName(pins.EncoderB)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot get encoder interrupt %s", pins.EncoderB)
	}

	dev, err := presets.Open(newConf.Storage, logger)
	if err != nil {
		return nil, errors.Wrap(err, "cannot open preset storage")
	}
	l, err := makeLimb(ctx, conf.ResourceName(), newConf.settings(), hw, presets.NewStore(dev, logger), logger)
	if err != nil {
		return nil, multierr.Combine(err, dev.Close())
	}

	ticks := make(chan board.Tick, tickBuffer)
	if err := l.watchEncoder(ticks, encA.Name(), encB.Name()); err != nil {
		return nil, multierr.Combine(err, l.Close(ctx))
	}
	interrupts := []board.DigitalInterrupt{encA, encB}
	if err := b.StreamTicks(l.cancelCtx, interrupts, ticks, nil); err != nil {
		return nil, multierr.Combine(errors.Wrap(err, "cannot stream encoder ticks"), l.Close(ctx))
	}
	return l, nil
}

// makeLimb loads the limb's state from store and brings the hardware to idle.
func makeLimb(
	ctx context.Context,
	name resource.Name,
	s settings,
	hw hardware,
	store *presets.Store,
	logger logging.Logger,
) (*limb, error) {
	current, saved, err := store.Load(s.limb)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot load limb %d", s.limb)
	}
	if current == pedalutils.Unset {
		logger.Infof("no stored position for limb %d, assuming %v", s.limb, pedalutils.Noon)
		current = pedalutils.Noon
	}

	dec := quadrature.NewDecoder(current)
	a, errA := hw.encoderA.Get(ctx, nil)
	bLevel, errB := hw.encoderB.Get(ctx, nil)
	if err := multierr.Combine(errA, errB); err != nil {
		logger.Warnf("cannot read encoder levels, assuming both low: %v", err)
		a, bLevel = false, false
	}
	dec.Seed(a, bLevel)

	act, err := NewActuator(hw.dir, hw.step, hw.sleep, hw.led, dec, s.actuator, logger)
	if err != nil {
		return nil, err
	}
	if err := act.Idle(ctx); err != nil {
		return nil, errors.Wrap(err, "cannot idle stepper driver")
	}

	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	l := &limb{
		Named:      name.AsNamed(),
		settings:   s,
		store:      store,
		presets:    saved,
		dec:        dec,
		act:        act,
		led:        hw.led,
		button:     hw.button,
		opMgr:      operation.NewSingleOperationManager(),
		interrupts: encoderLines,
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
		logger:     logger,
	}
	l.selected.Store(pedalutils.NoSlot)

	if s.buttonPoll > 0 {
		l.activeBackgroundWorkers.Add(1)
		utils.ManagedGo(l.pollButton, l.activeBackgroundWorkers.Done)
	}
	logger.Debugf("limb %d ready at %v", s.limb, current)
	return l, nil
}

// watchEncoder routes ticks of the two encoder lines into the decoder until
// the limb is closed.
func (l *limb) watchEncoder(ticks <-chan board.Tick, lineA, lineB string) error {
	if err := l.interrupts.Register(lineA, func(high bool) { l.dec.SetA(high) }); err != nil {
		return err
	}
	if err := l.interrupts.Register(lineB, func(high bool) { l.dec.SetB(high) }); err != nil {
		l.interrupts.Unregister(lineA)
		return err
	}
	l.lines = append(l.lines, lineA, lineB)
	l.activeBackgroundWorkers.Add(1)
	utils.ManagedGo(func() {
		l.interrupts.Run(l.cancelCtx, ticks)
	}, l.activeBackgroundWorkers.Done)
	return nil
}

func (l *limb) pollButton() {
	for utils.SelectContextOrWait(l.cancelCtx, l.settings.buttonPoll) {
		if _, err := l.CheckButton(l.cancelCtx, l.SelectedPreset()); err != nil && l.cancelCtx.Err() == nil {
			l.logger.Errorw("button check failed", "error", err)
		}
	}
}

// Position returns the limb's current encoder position.
func (l *limb) Position() pedalutils.Position {
	return l.dec.Position()
}

// Preset returns the position stored in slot, which may be Unset.
func (l *limb) Preset(slot int) (pedalutils.Position, error) {
	if !pedalutils.ValidSlot(slot) {
		return 0, errors.Wrapf(presets.ErrInvalidSlot, "slot %d", slot)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.presets[slot], nil
}

// SelectedPreset returns the slot last selected, or NoSlot.
func (l *limb) SelectedPreset() int {
	return int(l.selected.Load())
}

// IsMoving reports whether the limb is being driven.
func (l *limb) IsMoving() bool {
	return l.act.IsDriving()
}

// Stop cancels a running drive.
func (l *limb) Stop(ctx context.Context) {
	l.opMgr.CancelRunning(ctx)
}

// Drive moves the limb to target and records where it ended up.
func (l *limb) Drive(ctx context.Context, target pedalutils.Position) error {
	ctx, done := l.opMgr.New(ctx)
	defer done()
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drive(ctx, target)
}

func (l *limb) drive(ctx context.Context, target pedalutils.Position) error {
	if l.settings.driveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.settings.driveTimeout)
		defer cancel()
	}
	err := l.act.Drive(ctx, target)
	if err != nil {
		return err
	}
	return l.persistPosition()
}

func (l *limb) persistPosition() error {
	_, err := l.store.WriteIfChanged(l.settings.limb, pedalutils.NoSlot, l.dec.Position())
	return err
}

// MoveToPreset drives to the position saved in slot. An unset slot is a no-op.
func (l *limb) MoveToPreset(ctx context.Context, slot int) error {
	if !pedalutils.ValidSlot(slot) {
		return errors.Wrapf(presets.ErrInvalidSlot, "slot %d", slot)
	}
	ctx, done := l.opMgr.New(ctx)
	defer done()
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.moveToPreset(ctx, slot)
}

func (l *limb) moveToPreset(ctx context.Context, slot int) error {
	target := l.presets[slot]
	if target == pedalutils.Unset {
		l.logger.Debugf("preset %d is unset", slot)
		return nil
	}
	return l.drive(ctx, target)
}

// SelectPreset makes slot the target of button saves and moves to it.
func (l *limb) SelectPreset(ctx context.Context, slot int) error {
	if !pedalutils.ValidSlot(slot) {
		return errors.Wrapf(presets.ErrInvalidSlot, "slot %d", slot)
	}
	ctx, done := l.opMgr.New(ctx)
	defer done()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.selected.Store(int64(slot))
	return l.moveToPreset(ctx, slot)
}

// SavePreset stores the current position in slot.
func (l *limb) SavePreset(ctx context.Context, slot int) error {
	if !pedalutils.ValidSlot(slot) {
		return errors.Wrapf(presets.ErrInvalidSlot, "slot %d", slot)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.savePreset(ctx, slot)
}

// savePreset with NoSlot only flashes, nothing has been selected to save to.
func (l *limb) savePreset(ctx context.Context, slot int) error {
	if slot != pedalutils.NoSlot {
		current := l.dec.Position()
		if _, err := l.store.WriteIfChanged(l.settings.limb, slot, current); err != nil {
			return err
		}
		l.presets[slot] = current
		l.logger.Infof("saved %v to preset %d", current, slot)
	}
	return l.flashSaved(ctx)
}

// ClearPresets marks every preset unset. The position is kept.
func (l *limb) ClearPresets(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.clearPresets(ctx)
}

func (l *limb) clearPresets(ctx context.Context) error {
	if err := l.store.ClearAll(l.settings.limb); err != nil {
		return err
	}
	for i := range l.presets {
		l.presets[i] = pedalutils.Unset
	}
	return l.flashCleared(ctx, 2)
}

// ClearAll clears the presets and resets the position to Noon.
func (l *limb) ClearAll(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.clearAll(ctx)
}

func (l *limb) clearAll(ctx context.Context) error {
	if err := l.store.ClearAll(l.settings.limb); err != nil {
		return err
	}
	for i := range l.presets {
		l.presets[i] = pedalutils.Unset
	}
	l.dec.SetPosition(pedalutils.Noon)
	if l.settings.persistClearedPosition {
		if err := l.persistPosition(); err != nil {
			return err
		}
	}
	return l.flashCleared(ctx, 3)
}

// Close stops the background workers, saves the position and releases storage.
func (l *limb) Close(ctx context.Context) error {
	l.cancelFunc()
	l.opMgr.CancelRunning(ctx)
	l.activeBackgroundWorkers.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.isClosed {
		return nil
	}
	l.isClosed = true
	for _, line := range l.lines {
		l.interrupts.Unregister(line)
	}
	return multierr.Combine(
		l.persistPosition(),
		l.act.Idle(ctx),
		l.store.Device().Close(),
	)
}
