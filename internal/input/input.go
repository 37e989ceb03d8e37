// Package input defines the logical input vocabulary shared by the transport,
// the router and the controllers.
package input

import (
	"errors"
	"time"
)

// ErrUnknownEvent is returned for malformed or out-of-vocabulary input.
var ErrUnknownEvent = errors.New("unknown input event")

// Button is a logical button name from the fixed vocabulary.
type Button string

const (
	DpadUp         Button = "dpad-up"
	DpadDown       Button = "dpad-down"
	DpadLeft       Button = "dpad-left"
	DpadRight      Button = "dpad-right"
	ActionJump     Button = "action-jump"
	ActionRun      Button = "action-run"
	ActionInteract Button = "action-interact"
	ActionCrouch   Button = "action-crouch"
	LeftClick      Button = "left-click"
	RightClick     Button = "right-click"
	Menu           Button = "menu"
	Back           Button = "back"
)

// Buttons lists the whole vocabulary in a stable order.
var Buttons = []Button{
	DpadUp, DpadDown, DpadLeft, DpadRight,
	ActionJump, ActionRun, ActionInteract, ActionCrouch,
	LeftClick, RightClick, Menu, Back,
}

var knownButtons = func() map[Button]bool {
	m := make(map[Button]bool, len(Buttons))
	for _, b := range Buttons {
		m[b] = true
	}
	return m
}()

// Valid reports whether b belongs to the vocabulary.
func (b Button) Valid() bool {
	return knownButtons[b]
}

// MouseButton names the button of a mouse-click event.
type MouseButton string

const (
	MouseLeft  MouseButton = "left"
	MouseRight MouseButton = "right"
)

func (m MouseButton) Valid() bool {
	return m == MouseLeft || m == MouseRight
}

// Button returns the vocabulary button a click on m is pulsed through.
func (m MouseButton) Button() Button {
	if m == MouseRight {
		return RightClick
	}
	return LeftClick
}

// Stick selects an analog stick. The zero value means the default stick.
type Stick string

const (
	StickDefault Stick = ""
	StickLeft    Stick = "left"
	StickRight   Stick = "right"
)

func (s Stick) Valid() bool {
	return s == StickDefault || s == StickLeft || s == StickRight
}

// Kind classifies an inbound event.
type Kind int

const (
	ButtonPress Kind = iota
	ButtonRelease
	Move
	Click
	Vibrate
)

var kindNames = map[Kind]string{
	ButtonPress:   "button-press",
	ButtonRelease: "button-release",
	Move:          "move",
	Click:         "mouse-click",
	Vibrate:       "request-vibration",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Event is one discrete logical input from a client. Only the fields relevant
// to Kind are set.
type Event struct {
	Kind      Kind
	Button    Button
	Mouse     MouseButton
	Stick     Stick
	DX, DY    float64
	Intensity float64
	Duration  time.Duration
}

// Validate checks that the event is well formed for its kind.
func (e Event) Validate() error {
	switch e.Kind {
	case ButtonPress, ButtonRelease:
		if !e.Button.Valid() {
			return ErrUnknownEvent
		}
	case Move:
		if !e.Stick.Valid() {
			return ErrUnknownEvent
		}
	case Click:
		if !e.Mouse.Valid() {
			return ErrUnknownEvent
		}
	case Vibrate:
	default:
		return ErrUnknownEvent
	}
	return nil
}
