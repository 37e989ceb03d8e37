package mock

import (
	"sort"
	"sync"

	"github.com/padlink/backend/internal/device"
)

// KeyboardMouse is a recording device.KeyboardMouse.
type KeyboardMouse struct {
	mu      sync.Mutex
	keys    map[int]bool
	buttons map[device.MouseButton]bool
	x, y    int64
	clicks  []device.MouseButton
	failOps map[string]error
	closed  bool
}

var _ device.KeyboardMouse = (*KeyboardMouse)(nil)

func NewKeyboardMouse() *KeyboardMouse {
	return &KeyboardMouse{
		keys:    make(map[int]bool),
		buttons: make(map[device.MouseButton]bool),
		failOps: make(map[string]error),
	}
}

// FailOp makes every call of op ("KeyEvent", "MoveRelative", "Click",
// "MouseButton") return err. nil clears it.
func (k *KeyboardMouse) FailOp(op string, err error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err == nil {
		delete(k.failOps, op)
		return
	}
	k.failOps[op] = err
}

func (k *KeyboardMouse) KeyEvent(code int, down bool) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.failOps["KeyEvent"]; err != nil {
		return err
	}
	if down {
		k.keys[code] = true
	} else {
		delete(k.keys, code)
	}
	return nil
}

func (k *KeyboardMouse) MoveRelative(dx, dy int32) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.failOps["MoveRelative"]; err != nil {
		return err
	}
	k.x += int64(dx)
	k.y += int64(dy)
	return nil
}

func (k *KeyboardMouse) Click(b device.MouseButton) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.failOps["Click"]; err != nil {
		return err
	}
	k.clicks = append(k.clicks, b)
	return nil
}

func (k *KeyboardMouse) MouseButton(b device.MouseButton, down bool) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.failOps["MouseButton"]; err != nil {
		return err
	}
	if down {
		k.buttons[b] = true
	} else {
		delete(k.buttons, b)
	}
	return nil
}

func (k *KeyboardMouse) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.closed = true
	return nil
}

// HeldKeys returns the held key codes in ascending order.
func (k *KeyboardMouse) HeldKeys() []int {
	k.mu.Lock()
	defer k.mu.Unlock()
	codes := make([]int, 0, len(k.keys))
	for c := range k.keys {
		codes = append(codes, c)
	}
	sort.Ints(codes)
	return codes
}

// HeldMouseButtons reports which mouse buttons are down.
func (k *KeyboardMouse) HeldMouseButtons() map[device.MouseButton]bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make(map[device.MouseButton]bool, len(k.buttons))
	for b, v := range k.buttons {
		out[b] = v
	}
	return out
}

// Pointer returns the accumulated relative motion.
func (k *KeyboardMouse) Pointer() (x, y int64) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.x, k.y
}

// Clicks returns the discrete clicks received.
func (k *KeyboardMouse) Clicks() []device.MouseButton {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]device.MouseButton(nil), k.clicks...)
}

func (k *KeyboardMouse) Closed() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.closed
}
