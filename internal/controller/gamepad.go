package controller

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/padlink/backend/internal/device"
	"github.com/padlink/backend/internal/input"
)

// Gamepad drives one virtual pad owned exclusively by its session.
type Gamepad struct {
	mu      sync.Mutex
	dev     device.Gamepad
	handle  device.Handle
	opts    Options
	log     zerolog.Logger
	pressed map[input.Button]bool
	axes    map[device.Axis]int32
	motors  [2]uint8
	clicks  map[input.Button]*oneShot
	vib     *VibrationScheduler
	lost    lostSignal
	closed  bool
}

var _ Controller = (*Gamepad)(nil)

// NewGamepad connects a fresh pad on dev.
func NewGamepad(dev device.Gamepad, opts Options, log zerolog.Logger) (*Gamepad, error) {
	h, err := dev.Connect()
	if err != nil {
		return nil, fmt.Errorf("connect gamepad: %w", err)
	}
	g := &Gamepad{
		dev:     dev,
		handle:  h,
		opts:    opts.withDefaults(),
		log:     log.With().Uint32("handle", uint32(h)).Logger(),
		pressed: make(map[input.Button]bool),
		axes:    make(map[device.Axis]int32),
		clicks:  make(map[input.Button]*oneShot),
		lost:    newLostSignal(),
	}
	g.vib = NewVibrationScheduler(&g.mu, g.opts.AfterFunc, g.setMotors)
	return g, nil
}

// GamepadFactory returns a Factory that connects one pad per session.
func GamepadFactory(dev device.Gamepad, opts Options) Factory {
	return func(log zerolog.Logger) (Controller, error) {
		return NewGamepad(dev, opts, log)
	}
}

func (g *Gamepad) Handle() device.Handle {
	return g.handle
}

func (g *Gamepad) fail(op string, err error) {
	logDeviceError(g.log, op, err)
	g.lost.observe(err)
}

func (g *Gamepad) commit() {
	if err := g.dev.Commit(g.handle); err != nil {
		g.fail("commit", err)
	}
}

// setButton stages one button and updates the pressed set only when the
// adapter accepted it, so a failed release is retried by Reset.
func (g *Gamepad) setButton(b input.Button, pressed bool) bool {
	if g.pressed[b] == pressed {
		return false
	}
	code, ok := g.opts.Codes[b]
	if !ok {
		g.log.Debug().Str("button", string(b)).Msg("no device code for button")
		return false
	}
	if err := g.dev.SetButton(g.handle, code, pressed); err != nil {
		g.fail("set button", err)
		return false
	}
	if pressed {
		g.pressed[b] = true
	} else {
		delete(g.pressed, b)
	}
	return true
}

func (g *Gamepad) OnButton(b input.Button, pressed bool) {
	if !b.Valid() {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	// an explicit press or release takes the button over from a pending pulse
	if shot, ok := g.clicks[b]; ok {
		shot.stop()
	}
	if g.setButton(b, pressed) {
		g.commit()
	}
}

func (g *Gamepad) OnStickDelta(stick input.Stick, dx, dy float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	ax, ay := device.RightX, device.RightY
	if stick == input.StickLeft {
		ax, ay = device.LeftX, device.LeftY
	}
	x, y := StickAxes(dx, dy, g.opts.Sensitivity, g.opts.Deadzone)
	changed := false
	for _, w := range []struct {
		axis  device.Axis
		value int32
	}{{ax, x}, {ay, y}} {
		if g.axes[w.axis] == w.value {
			continue
		}
		if err := g.dev.SetAxis(g.handle, w.axis, w.value); err != nil {
			g.fail("set axis", err)
			continue
		}
		g.axes[w.axis] = w.value
		changed = true
	}
	if changed {
		g.commit()
	}
}

// OnClick pulses the button for ClickDuration. A tap on a button already held
// by a press leaves it held; the client's release owns it.
func (g *Gamepad) OnClick(mb input.MouseButton) {
	if !mb.Valid() {
		return
	}
	b := mb.Button()
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	shot, ok := g.clicks[b]
	if g.setButton(b, true) {
		g.commit()
	} else if !ok || !shot.pending() {
		return
	}
	if !ok {
		shot = &oneShot{lock: &g.mu, after: g.opts.AfterFunc}
		g.clicks[b] = shot
	}
	shot.arm(g.opts.ClickDuration, func() {
		if g.setButton(b, false) {
			g.commit()
		}
	})
}

func (g *Gamepad) OnVibrationRequest(intensity float64, d time.Duration) Vibration {
	v := ClampVibration(intensity, d, g.opts.MinVibration, g.opts.MaxVibration)
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.closed {
		g.vib.Schedule(v.Intensity, v.Duration)
	}
	return v
}

// setMotors runs with mu held, from Schedule or the stop timer.
func (g *Gamepad) setMotors(level uint8) {
	if err := g.dev.SetMotors(g.handle, level, level); err != nil {
		g.fail("set motors", err)
		return
	}
	g.motors = [2]uint8{level, level}
	g.commit()
}

func (g *Gamepad) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.resetLocked(false)
}

// resetLocked cancels timers, then releases every held button, zeroes every
// axis and motor and commits once. A failed call is logged and the rest
// still run.
func (g *Gamepad) resetLocked(final bool) {
	for _, shot := range g.clicks {
		if final {
			shot.kill()
		} else {
			shot.stop()
		}
	}
	if final {
		g.vib.Cancel()
	} else {
		g.vib.shot.stop()
	}

	for _, b := range sortedButtons(g.pressed) {
		if code, ok := g.opts.Codes[b]; ok {
			if err := g.dev.SetButton(g.handle, code, false); err != nil {
				g.fail("release button", err)
			}
		}
	}
	for _, a := range device.Axes {
		if err := g.dev.SetAxis(g.handle, a, 0); err != nil {
			g.fail("zero axis", err)
		}
	}
	if err := g.dev.SetMotors(g.handle, 0, 0); err != nil {
		g.fail("zero motors", err)
	}
	g.commit()

	g.pressed = make(map[input.Button]bool)
	g.axes = make(map[device.Axis]int32)
	g.motors = [2]uint8{}
}

// Close forces a neutral reset and disconnects the pad. Pending click
// releases and vibration stops are cancelled first, so nothing reaches the
// detached handle.
func (g *Gamepad) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.closed = true
	g.resetLocked(true)
	if err := g.dev.Disconnect(g.handle); err != nil {
		g.fail("disconnect", err)
	}
}

func (g *Gamepad) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	axes := make(map[device.Axis]int32, len(g.axes))
	for a, v := range g.axes {
		axes[a] = v
	}
	return State{
		Pressed: sortedButtons(g.pressed),
		Axes:    axes,
		Motors:  g.motors,
	}
}

func (g *Gamepad) Lost() <-chan struct{} {
	return g.lost.ch
}
