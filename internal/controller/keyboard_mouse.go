package controller

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/padlink/backend/internal/device"
	"github.com/padlink/backend/internal/input"
)

// SharedKeyboardMouse is the one keyboard+mouse of the process and the set of
// buttons currently held on it. The set is process-wide on purpose: every
// session types into the same focus target, so a release from one session
// releases the key for all of them.
type SharedKeyboardMouse struct {
	mu   sync.Mutex
	dev  device.KeyboardMouse
	held map[input.Button]bool
}

func NewSharedKeyboardMouse(dev device.KeyboardMouse) *SharedKeyboardMouse {
	return &SharedKeyboardMouse{
		dev:  dev,
		held: make(map[input.Button]bool),
	}
}

// Held returns the buttons held on the shared device.
func (s *SharedKeyboardMouse) Held() []input.Button {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedButtons(s.held)
}

func mouseButtonFor(b input.Button) (device.MouseButton, bool) {
	switch b {
	case input.LeftClick:
		return device.MouseLeft, true
	case input.RightClick:
		return device.MouseRight, true
	}
	return 0, false
}

// set applies one press or release. It is a device-level no-op when the
// shared state already matches.
func (s *SharedKeyboardMouse) set(b input.Button, down bool, codes map[input.Button]int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.held[b] == down {
		return "", nil
	}
	var (
		op  string
		err error
	)
	if mb, ok := mouseButtonFor(b); ok {
		op = "mouse button"
		err = s.dev.MouseButton(mb, down)
	} else {
		code, ok := codes[b]
		if !ok {
			return "", errNoCode
		}
		op = "key event"
		err = s.dev.KeyEvent(code, down)
	}
	if err != nil {
		return op, err
	}
	if down {
		s.held[b] = true
	} else {
		delete(s.held, b)
	}
	return op, nil
}

func (s *SharedKeyboardMouse) move(dx, dy int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dev.MoveRelative(dx, dy)
}

// KeyboardMouse is the per-session controller in keyboard+mouse mode. It
// remembers which buttons this session pressed so teardown can release them.
type KeyboardMouse struct {
	mu     sync.Mutex
	shared *SharedKeyboardMouse
	opts   Options
	log    zerolog.Logger
	mine   map[input.Button]bool
	clicks map[input.Button]*oneShot
	lost   lostSignal
	closed bool
}

var _ Controller = (*KeyboardMouse)(nil)

func NewKeyboardMouse(shared *SharedKeyboardMouse, opts Options, log zerolog.Logger) *KeyboardMouse {
	return &KeyboardMouse{
		shared: shared,
		opts:   opts.withDefaults(),
		log:    log,
		mine:   make(map[input.Button]bool),
		clicks: make(map[input.Button]*oneShot),
		lost:   newLostSignal(),
	}
}

// KeyboardMouseFactory returns a Factory whose controllers share one device.
func KeyboardMouseFactory(shared *SharedKeyboardMouse, opts Options) Factory {
	return func(log zerolog.Logger) (Controller, error) {
		return NewKeyboardMouse(shared, opts, log), nil
	}
}

func (k *KeyboardMouse) fail(op string, err error) {
	logDeviceError(k.log, op, err)
	k.lost.observe(err)
}

func (k *KeyboardMouse) setButton(b input.Button, down bool) {
	op, err := k.shared.set(b, down, k.opts.Codes)
	switch {
	case err == errNoCode:
		k.log.Debug().Str("button", string(b)).Msg("no key code for button")
		return
	case err != nil:
		k.fail(op, err)
		if down {
			return
		}
		// a failed release stays tracked so Reset retries it
		k.mine[b] = true
		return
	}
	if down {
		k.mine[b] = true
	} else {
		delete(k.mine, b)
	}
}

func (k *KeyboardMouse) OnButton(b input.Button, pressed bool) {
	if !b.Valid() {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return
	}
	// an explicit press or release takes the button over from a pending pulse
	if shot, ok := k.clicks[b]; ok {
		shot.stop()
	}
	k.setButton(b, pressed)
}

// OnStickDelta moves the pointer. Screen coordinates grow downwards, so Y is
// not inverted here.
func (k *KeyboardMouse) OnStickDelta(_ input.Stick, dx, dy float64) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return
	}
	px, py := PointerDelta(dx, dy, k.opts.Sensitivity, k.opts.PointerScale)
	if px == 0 && py == 0 {
		return
	}
	if err := k.shared.move(px, py); err != nil {
		k.fail("move", err)
	}
}

// OnClick pulses the mouse button for ClickDuration. A tap on a button this
// session already holds through a press leaves it held.
func (k *KeyboardMouse) OnClick(mb input.MouseButton) {
	if !mb.Valid() {
		return
	}
	b := mb.Button()
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return
	}
	shot, ok := k.clicks[b]
	pulsing := ok && shot.pending()
	if k.mine[b] && !pulsing {
		return
	}
	k.setButton(b, true)
	if !k.mine[b] {
		return
	}
	if !ok {
		shot = &oneShot{lock: &k.mu, after: k.opts.AfterFunc}
		k.clicks[b] = shot
	}
	shot.arm(k.opts.ClickDuration, func() {
		k.setButton(b, false)
	})
}

// OnVibrationRequest only clamps: a keyboard and mouse have no motors, but the
// client still gets its echo for local haptics.
func (k *KeyboardMouse) OnVibrationRequest(intensity float64, d time.Duration) Vibration {
	return ClampVibration(intensity, d, k.opts.MinVibration, k.opts.MaxVibration)
}

func (k *KeyboardMouse) Reset() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return
	}
	k.resetLocked(false)
}

func (k *KeyboardMouse) resetLocked(final bool) {
	for _, shot := range k.clicks {
		if final {
			shot.kill()
		} else {
			shot.stop()
		}
	}
	for _, b := range sortedButtons(k.mine) {
		if op, err := k.shared.set(b, false, k.opts.Codes); err != nil && err != errNoCode {
			k.fail(op, err)
		}
	}
	k.mine = make(map[input.Button]bool)
}

// Close releases everything this session holds. The shared device stays
// open for the other sessions.
func (k *KeyboardMouse) Close() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return
	}
	k.closed = true
	k.resetLocked(true)
}

// State reports the buttons this session holds.
func (k *KeyboardMouse) State() State {
	k.mu.Lock()
	defer k.mu.Unlock()
	return State{Pressed: sortedButtons(k.mine)}
}

func (k *KeyboardMouse) Lost() <-chan struct{} {
	return k.lost.ch
}
