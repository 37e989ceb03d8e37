package device

import (
	"errors"
	"fmt"
	"sync"

	"github.com/bendahl/uinput"
	"github.com/rs/zerolog"
)

type keyboardDevice interface {
	KeyDown(key int) error
	KeyUp(key int) error
	Close() error
}

type mouseDevice interface {
	Move(x, y int32) error
	LeftClick() error
	RightClick() error
	LeftPress() error
	LeftRelease() error
	RightPress() error
	RightRelease() error
	Close() error
}

// KeyboardMouseOptions configures the uinput keyboard+mouse backend.
type KeyboardMouseOptions struct {
	Path string
	Name string
}

// UInputKeyboardMouse is one virtual keyboard plus one virtual mouse shared by
// every session.
type UInputKeyboardMouse struct {
	mu    sync.Mutex
	kbd   keyboardDevice
	mouse mouseDevice
	log   zerolog.Logger
}

// NewUInputKeyboardMouse creates both devices. Any failure is ErrDeviceInit.
func NewUInputKeyboardMouse(opts KeyboardMouseOptions, log zerolog.Logger) (*UInputKeyboardMouse, error) {
	if opts.Path == "" {
		opts.Path = DefaultUInputPath
	}
	kbd, err := uinput.CreateKeyboard(opts.Path, []byte(opts.Name+" Keyboard"))
	if err != nil {
		return nil, fmt.Errorf("%w: create keyboard on %s: %v", ErrDeviceInit, opts.Path, err)
	}
	mouse, err := uinput.CreateMouse(opts.Path, []byte(opts.Name+" Mouse"))
	if err != nil {
		_ = kbd.Close()
		return nil, fmt.Errorf("%w: create mouse on %s: %v", ErrDeviceInit, opts.Path, err)
	}
	return newKeyboardMouse(kbd, mouse, log), nil
}

func newKeyboardMouse(kbd keyboardDevice, mouse mouseDevice, log zerolog.Logger) *UInputKeyboardMouse {
	return &UInputKeyboardMouse{
		kbd:   kbd,
		mouse: mouse,
		log:   log.With().Str("component", "uinput-kbm").Logger(),
	}
}

func (k *UInputKeyboardMouse) KeyEvent(code int, down bool) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if down {
		return classify("key down", k.kbd.KeyDown(code))
	}
	return classify("key up", k.kbd.KeyUp(code))
}

func (k *UInputKeyboardMouse) MoveRelative(dx, dy int32) error {
	if dx == 0 && dy == 0 {
		return nil
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	return classify("move", k.mouse.Move(dx, dy))
}

func (k *UInputKeyboardMouse) Click(b MouseButton) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if b == MouseRight {
		return classify("right click", k.mouse.RightClick())
	}
	return classify("left click", k.mouse.LeftClick())
}

func (k *UInputKeyboardMouse) MouseButton(b MouseButton, down bool) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	switch {
	case b == MouseRight && down:
		return classify("right press", k.mouse.RightPress())
	case b == MouseRight:
		return classify("right release", k.mouse.RightRelease())
	case down:
		return classify("left press", k.mouse.LeftPress())
	default:
		return classify("left release", k.mouse.LeftRelease())
	}
}

func (k *UInputKeyboardMouse) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	return errors.Join(k.kbd.Close(), k.mouse.Close())
}
