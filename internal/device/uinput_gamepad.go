package device

import (
	"fmt"
	"sync"

	"github.com/bendahl/uinput"
	"github.com/rs/zerolog"
)

// DefaultUInputPath is the uinput control node on Linux.
const DefaultUInputPath = "/dev/uinput"

// padDevice is the subset of uinput.Gamepad the backend drives.
type padDevice interface {
	ButtonDown(key int) error
	ButtonUp(key int) error
	LeftStickMove(x, y float32) error
	RightStickMove(x, y float32) error
	Close() error
}

// padReport is the staged or applied state of one virtual pad.
type padReport struct {
	buttons map[int]bool
	axes    [numAxes]int32
	motors  [2]uint8
}

func newPadReport() padReport {
	return padReport{buttons: make(map[int]bool)}
}

func (r padReport) clone() padReport {
	c := r
	c.buttons = make(map[int]bool, len(r.buttons))
	for k, v := range r.buttons {
		c.buttons[k] = v
	}
	return c
}

type pad struct {
	dev     padDevice
	pending padReport
	applied padReport
}

// GamepadOptions configures the uinput gamepad backend.
type GamepadOptions struct {
	Path      string
	Name      string
	VendorID  uint16
	ProductID uint16
}

// UInputGamepad creates one uinput virtual gamepad per Connect. The backend
// itself lives for the whole process.
type UInputGamepad struct {
	mu     sync.Mutex
	pads   map[Handle]*pad
	next   Handle
	create func() (padDevice, error)
	log    zerolog.Logger
}

// NewUInputGamepad probes the uinput node by creating and closing one device,
// so a missing or unwritable node fails at startup with ErrDeviceInit.
func NewUInputGamepad(opts GamepadOptions, log zerolog.Logger) (*UInputGamepad, error) {
	if opts.Path == "" {
		opts.Path = DefaultUInputPath
	}
	create := func() (padDevice, error) {
		return uinput.CreateGamepad(opts.Path, []byte(opts.Name), opts.VendorID, opts.ProductID)
	}
	probe, err := create()
	if err != nil {
		return nil, fmt.Errorf("%w: create gamepad on %s: %v", ErrDeviceInit, opts.Path, err)
	}
	if err := probe.Close(); err != nil {
		log.Warn().Err(err).Msg("closing probe gamepad")
	}
	return newGamepadBackend(create, log), nil
}

func newGamepadBackend(create func() (padDevice, error), log zerolog.Logger) *UInputGamepad {
	return &UInputGamepad{
		pads:   make(map[Handle]*pad),
		create: create,
		log:    log.With().Str("component", "uinput-gamepad").Logger(),
	}
}

func (g *UInputGamepad) Connect() (Handle, error) {
	dev, err := g.create()
	if err != nil {
		return 0, fmt.Errorf("connect: %w", err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	h := g.next
	g.pads[h] = &pad{dev: dev, pending: newPadReport(), applied: newPadReport()}
	g.log.Debug().Uint32("handle", uint32(h)).Msg("virtual gamepad connected")
	return h, nil
}

func (g *UInputGamepad) SetButton(h Handle, code int, pressed bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.pads[h]
	if !ok {
		return ErrUnknownHandle
	}
	if pressed {
		p.pending.buttons[code] = true
	} else {
		delete(p.pending.buttons, code)
	}
	return nil
}

func (g *UInputGamepad) SetAxis(h Handle, axis Axis, value int32) error {
	if axis < 0 || axis >= numAxes {
		return fmt.Errorf("set axis %d: %w", axis, ErrUnsupported)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.pads[h]
	if !ok {
		return ErrUnknownHandle
	}
	p.pending.axes[axis] = ClampAxis(axis, value)
	return nil
}

// SetMotors stages the rumble levels. uinput gamepads carry no force-feedback
// output, so the values are kept for inspection only.
func (g *UInputGamepad) SetMotors(h Handle, large, small uint8) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.pads[h]
	if !ok {
		return ErrUnknownHandle
	}
	p.pending.motors = [2]uint8{large, small}
	return nil
}

// Commit writes the difference between the staged and the applied report.
// The applied report only advances for writes that succeeded, so a failed
// write is retried on the next commit.
func (g *UInputGamepad) Commit(h Handle) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.pads[h]
	if !ok {
		return ErrUnknownHandle
	}

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for code := range p.applied.buttons {
		if p.pending.buttons[code] {
			continue
		}
		if err := p.dev.ButtonUp(code); err != nil {
			record(classify("button up", err))
			continue
		}
		delete(p.applied.buttons, code)
	}
	for code := range p.pending.buttons {
		if p.applied.buttons[code] {
			continue
		}
		if err := p.dev.ButtonDown(code); err != nil {
			record(classify("button down", err))
			continue
		}
		p.applied.buttons[code] = true
	}

	if p.pending.axes[LeftX] != p.applied.axes[LeftX] || p.pending.axes[LeftY] != p.applied.axes[LeftY] {
		x, y := stickFloats(p.pending.axes[LeftX], p.pending.axes[LeftY])
		if err := p.dev.LeftStickMove(x, y); err != nil {
			record(classify("left stick", err))
		} else {
			p.applied.axes[LeftX], p.applied.axes[LeftY] = p.pending.axes[LeftX], p.pending.axes[LeftY]
		}
	}
	if p.pending.axes[RightX] != p.applied.axes[RightX] || p.pending.axes[RightY] != p.applied.axes[RightY] {
		x, y := stickFloats(p.pending.axes[RightX], p.pending.axes[RightY])
		if err := p.dev.RightStickMove(x, y); err != nil {
			record(classify("right stick", err))
		} else {
			p.applied.axes[RightX], p.applied.axes[RightY] = p.pending.axes[RightX], p.pending.axes[RightY]
		}
	}
	// no trigger axes on uinput gamepads
	p.applied.axes[LeftTrigger] = p.pending.axes[LeftTrigger]
	p.applied.axes[RightTrigger] = p.pending.axes[RightTrigger]
	p.applied.motors = p.pending.motors

	return firstErr
}

func (g *UInputGamepad) Disconnect(h Handle) error {
	g.mu.Lock()
	p, ok := g.pads[h]
	delete(g.pads, h)
	g.mu.Unlock()
	if !ok {
		return ErrUnknownHandle
	}
	g.log.Debug().Uint32("handle", uint32(h)).Msg("virtual gamepad disconnected")
	return classify("close", p.dev.Close())
}

// Close disconnects every pad still attached.
func (g *UInputGamepad) Close() error {
	g.mu.Lock()
	pads := g.pads
	g.pads = make(map[Handle]*pad)
	g.mu.Unlock()
	var firstErr error
	for h, p := range pads {
		if err := p.dev.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close handle %d: %w", h, err)
		}
	}
	return firstErr
}

// stickFloats converts XInput-style axis values (positive Y is up) into the
// [-1, 1] floats uinput expects, where positive Y is down.
func stickFloats(x, y int32) (float32, float32) {
	return axisFloat(x), -axisFloat(y)
}

func axisFloat(v int32) float32 {
	f := float32(v) / StickMax
	if f < -1 {
		return -1
	}
	if f > 1 {
		return 1
	}
	return f
}
