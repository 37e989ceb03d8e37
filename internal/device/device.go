// Package device is the boundary to the OS facility that injects synthetic
// input. It exposes two capability interfaces, Gamepad and KeyboardMouse, one
// of which is selected when the process starts.
package device

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

var (
	// ErrDeviceInit means no virtual device could be created. It is fatal at
	// process start.
	ErrDeviceInit = errors.New("virtual device init failed")
	// ErrUnknownHandle is returned for calls on a handle that was never
	// connected or has already been disconnected.
	ErrUnknownHandle = errors.New("unknown device handle")
	// ErrDeviceLost means the underlying device went away. Sessions bound to
	// it must be torn down.
	ErrDeviceLost = errors.New("virtual device lost")
	// ErrUnsupported is returned for capabilities a backend does not have.
	ErrUnsupported = errors.New("operation not supported by device")
)

// Mode selects which adapter variant the process runs with.
type Mode string

const (
	ModeGamepad       Mode = "gamepad"
	ModeKeyboardMouse Mode = "keyboard-mouse"
)

func (m Mode) Valid() bool {
	return m == ModeGamepad || m == ModeKeyboardMouse
}

// Handle identifies one connected virtual gamepad.
type Handle uint32

// Axis identifies an analog channel of a gamepad.
type Axis int

const (
	LeftX Axis = iota
	LeftY
	RightX
	RightY
	LeftTrigger
	RightTrigger
	numAxes
)

// Axes lists every axis, in declaration order.
var Axes = []Axis{LeftX, LeftY, RightX, RightY, LeftTrigger, RightTrigger}

var axisNames = map[Axis]string{
	LeftX:        "left-x",
	LeftY:        "left-y",
	RightX:       "right-x",
	RightY:       "right-y",
	LeftTrigger:  "left-trigger",
	RightTrigger: "right-trigger",
}

func (a Axis) String() string {
	if s, ok := axisNames[a]; ok {
		return s
	}
	return "unknown"
}

// IsTrigger reports whether a is a trigger (range 0..255) rather than a stick
// axis (range -32768..32767).
func (a Axis) IsTrigger() bool {
	return a == LeftTrigger || a == RightTrigger
}

// Axis value ranges.
const (
	StickMin   = -32768
	StickMax   = 32767
	TriggerMax = 255
)

// ClampAxis forces value into the range of axis a.
func ClampAxis(a Axis, value int32) int32 {
	lo, hi := int32(StickMin), int32(StickMax)
	if a.IsTrigger() {
		lo, hi = 0, TriggerMax
	}
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}

// MouseButton is a physical mouse button of the KeyboardMouse variant.
type MouseButton int

const (
	MouseLeft MouseButton = iota
	MouseRight
)

func (b MouseButton) String() string {
	if b == MouseRight {
		return "right"
	}
	return "left"
}

// Gamepad is the per-session virtual controller capability. Button and axis
// writes are staged per handle and become visible to the OS as one coherent
// snapshot on Commit.
type Gamepad interface {
	Connect() (Handle, error)
	SetButton(h Handle, code int, pressed bool) error
	SetAxis(h Handle, axis Axis, value int32) error
	SetMotors(h Handle, large, small uint8) error
	Commit(h Handle) error
	Disconnect(h Handle) error
	Close() error
}

// KeyboardMouse is the single process-wide keyboard and mouse. It has no
// per-session identity: all sessions share one focus target. Click is an
// immediate press and release; tap pulses go through MouseButton so a pending
// release can be cut short at teardown.
type KeyboardMouse interface {
	KeyEvent(code int, down bool) error
	MoveRelative(dx, dy int32) error
	Click(b MouseButton) error
	MouseButton(b MouseButton, down bool) error
	Close() error
}

// classify maps low-level write errors onto the package taxonomy so callers
// can tell a vanished device from a transient failure.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, os.ErrClosed) || errors.Is(err, syscall.ENODEV) || errors.Is(err, syscall.EBADF) {
		return fmt.Errorf("%s: %w: %v", op, ErrDeviceLost, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
