package limb

import (
	"context"
	"sync"
	"testing"

	"go.viam.com/rdk/components/generic"
	"go.viam.com/rdk/logging"
	"go.viam.com/test"

	"pedalbot/presets"
	"pedalbot/quadrature"
	pedalutils "pedalbot/utils"
)

// fakePin records the levels written to it. Reads return the last level
// written unless read is set.
type fakePin struct {
	mu     sync.Mutex
	high   bool
	sets   int
	rises  int
	read   func() bool
	setErr error
	onSet  func(high bool)
}

func (p *fakePin) Set(ctx context.Context, high bool, extra map[string]interface{}) error {
	p.mu.Lock()
	if p.setErr != nil {
		p.mu.Unlock()
		return p.setErr
	}
	if high && !p.high {
		p.rises++
	}
	p.high = high
	p.sets++
	onSet := p.onSet
	p.mu.Unlock()
	if onSet != nil {
		onSet(high)
	}
	return nil
}

func (p *fakePin) Get(ctx context.Context, extra map[string]interface{}) (bool, error) {
	p.mu.Lock()
	read := p.read
	high := p.high
	p.mu.Unlock()
	if read != nil {
		return read(), nil
	}
	return high, nil
}

func (p *fakePin) level() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.high
}

func (p *fakePin) rising() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rises
}

// grayCycle is one clockwise encoder cycle as (A, B) levels.
var grayCycle = [4][2]bool{{false, false}, {true, false}, {true, true}, {false, true}}

// motor turns step pulses into encoder transitions: every stepsPerNotch
// pulses taken while the driver is awake move the encoder one state, up the
// position scale while DIR is high.
type motor struct {
	dir, sleep    *fakePin
	dec           *quadrature.Decoder
	stepsPerNotch int
	frozen        bool
	invert        bool

	mu      sync.Mutex
	pending int
	phase   int
	pulses  int
}

func (m *motor) onStep(high bool) {
	if !high || !m.sleep.level() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pulses++
	if m.frozen {
		return
	}
	m.pending++
	if m.pending < m.stepsPerNotch {
		return
	}
	m.pending = 0
	if m.dir.level() != m.invert {
		m.phase = (m.phase + 1) % 4
	} else {
		m.phase = (m.phase + 3) % 4
	}
	m.dec.Update(grayCycle[m.phase][0], grayCycle[m.phase][1])
}

func (m *motor) stepCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pulses
}

type rig struct {
	hw     hardware
	dir    *fakePin
	step   *fakePin
	sleep  *fakePin
	led    *fakePin
	button *fakePin
	dev    *presets.MemoryDevice
	motor  *motor
	limb   *limb
}

// testSettings uses a 200 step motor and a 25 tooth cog, so one encoder
// notch is round(200*25/360) = 14 steps.
func testSettings() settings {
	return settings{
		limb: 1,
		actuator: ActuatorConfig{
			StepsPerRotation:  200,
			CogTeeth:          25,
			PulseGroupDivisor: 7,
		},
	}
}

func newRig(t *testing.T, s settings, dev *presets.MemoryDevice) *rig {
	t.Helper()
	logger := logging.NewTestLogger(t)
	if dev == nil {
		dev = presets.NewMemoryDevice(presets.DefaultDeviceSize)
	}
	r := &rig{
		dir:    &fakePin{},
		step:   &fakePin{},
		sleep:  &fakePin{},
		led:    &fakePin{},
		button: &fakePin{high: !s.buttonActiveHigh},
		dev:    dev,
	}
	r.hw = hardware{
		dir:      r.dir,
		step:     r.step,
		sleep:    r.sleep,
		led:      r.led,
		button:   r.button,
		encoderA: &fakePin{},
		encoderB: &fakePin{},
	}
	l, err := makeLimb(context.Background(), generic.Named("limb"), s, r.hw, presets.NewStore(dev, logger), logger)
	test.That(t, err, test.ShouldBeNil)
	r.limb = l
	r.motor = &motor{
		dir:           r.dir,
		sleep:         r.sleep,
		dec:           l.dec,
		stepsPerNotch: l.act.stepsPerNotch,
	}
	r.step.mu.Lock()
	r.step.onSet = r.motor.onStep
	r.step.mu.Unlock()
	t.Cleanup(func() {
		test.That(t, l.Close(context.Background()), test.ShouldBeNil)
	})
	return r
}

// hold makes the button read as pressed for the next n reads.
func (r *rig) hold(n int, activeHigh bool) {
	var mu sync.Mutex
	remaining := n
	r.button.mu.Lock()
	r.button.read = func() bool {
		mu.Lock()
		defer mu.Unlock()
		pressed := remaining > 0
		if pressed {
			remaining--
		}
		return pressed == activeHigh
	}
	r.button.mu.Unlock()
}

func (r *rig) storedPreset(t *testing.T, slot int) pedalutils.Position {
	t.Helper()
	b, err := r.dev.Read(1*presets.BlockSize + slot + 1)
	test.That(t, err, test.ShouldBeNil)
	return pedalutils.Position(b)
}
