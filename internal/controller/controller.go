// Package controller holds the per-session input state machines. A controller
// owns its session's view of pressed buttons, stick axes and motors, applies
// the input transforms and drives the virtual device adapter. Adapter errors
// never escape a controller: they are logged and the call continues best
// effort.
package controller

import (
	"errors"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/padlink/backend/internal/device"
	"github.com/padlink/backend/internal/input"
	"github.com/padlink/backend/internal/metrics"
)

var errNoCode = errors.New("no device code for button")

// Controller is the state machine bound to one session. All methods are safe
// for concurrent use; the router calls them from a single goroutine per
// session while timers fire from their own.
type Controller interface {
	OnButton(b input.Button, pressed bool)
	OnStickDelta(stick input.Stick, dx, dy float64)
	OnClick(b input.MouseButton)
	OnVibrationRequest(intensity float64, d time.Duration) Vibration
	// Reset cancels pending effects and returns the device to neutral.
	Reset()
	// Close resets and detaches. The controller ignores every call afterwards.
	Close()
	State() State
	// Lost is closed when the adapter reports the device is gone.
	Lost() <-chan struct{}
}

// Factory creates the controller for a newly admitted session.
type Factory func(log zerolog.Logger) (Controller, error)

// Vibration is a clamped haptic request, echoed back to the client.
type Vibration struct {
	Intensity float64
	Duration  time.Duration
}

// State is an observable snapshot of a controller.
type State struct {
	Pressed []input.Button
	Axes    map[device.Axis]int32
	Motors  [2]uint8
}

// Neutral reports whether nothing is held and every axis and motor is zero.
func (s State) Neutral() bool {
	if len(s.Pressed) > 0 || s.Motors != [2]uint8{} {
		return false
	}
	for _, v := range s.Axes {
		if v != 0 {
			return false
		}
	}
	return true
}

type Options struct {
	Sensitivity   float64
	Deadzone      float64
	PointerScale  float64
	ClickDuration time.Duration
	MinVibration  time.Duration
	MaxVibration  time.Duration
	Codes         map[input.Button]int
	// AfterFunc schedules timed effects. Defaults to time.AfterFunc.
	AfterFunc AfterFunc
}

func (o Options) withDefaults() Options {
	if o.Sensitivity <= 0 {
		o.Sensitivity = 1
	}
	if o.PointerScale <= 0 {
		o.PointerScale = 1
	}
	if o.ClickDuration <= 0 {
		o.ClickDuration = 100 * time.Millisecond
	}
	if o.MinVibration <= 0 {
		o.MinVibration = 100 * time.Millisecond
	}
	if o.MaxVibration < o.MinVibration {
		o.MaxVibration = 5 * time.Second
	}
	if o.Codes == nil {
		o.Codes = map[input.Button]int{}
	}
	if o.AfterFunc == nil {
		o.AfterFunc = realAfterFunc
	}
	return o
}

// sortedButtons returns the members of set in vocabulary order.
func sortedButtons(set map[input.Button]bool) []input.Button {
	order := make(map[input.Button]int, len(input.Buttons))
	for i, b := range input.Buttons {
		order[b] = i
	}
	out := make([]input.Button, 0, len(set))
	for b, held := range set {
		if held {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return order[out[i]] < order[out[j]] })
	return out
}

// lostSignal closes a channel once when the device disappears.
type lostSignal struct {
	ch   chan struct{}
	done bool
}

func newLostSignal() lostSignal {
	return lostSignal{ch: make(chan struct{})}
}

// observe must be called with the owner's lock held.
func (l *lostSignal) observe(err error) {
	if l.done || !errors.Is(err, device.ErrDeviceLost) {
		return
	}
	l.done = true
	close(l.ch)
}

func logDeviceError(log zerolog.Logger, op string, err error) {
	metrics.DeviceErrors.WithLabelValues(op).Inc()
	log.Warn().Err(err).Str("op", op).Msg("device call failed")
}
