// Package mock provides in-memory virtual devices. They back the -mock server
// mode, which runs without /dev/uinput, and the tests of every layer above the
// device package.
package mock

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/padlink/backend/internal/device"
)

// PadState is what the OS would observe for one virtual pad after its last
// commit.
type PadState struct {
	Buttons   map[int]bool
	Axes      map[device.Axis]int32
	Motors    [2]uint8
	Commits   int
	Connected bool
}

// Neutral reports whether no button is held and every axis and motor is zero.
func (s PadState) Neutral() bool {
	if len(s.Buttons) > 0 || s.Motors != [2]uint8{} {
		return false
	}
	for _, v := range s.Axes {
		if v != 0 {
			return false
		}
	}
	return true
}

// HeldButtons returns the held codes in ascending order.
func (s PadState) HeldButtons() []int {
	codes := make([]int, 0, len(s.Buttons))
	for c := range s.Buttons {
		codes = append(codes, c)
	}
	sort.Ints(codes)
	return codes
}

type mockPad struct {
	staged    PadState
	committed PadState
}

func newPadState() PadState {
	return PadState{
		Buttons: make(map[int]bool),
		Axes:    make(map[device.Axis]int32),
	}
}

func (s PadState) clone() PadState {
	c := s
	c.Buttons = make(map[int]bool, len(s.Buttons))
	for k, v := range s.Buttons {
		c.Buttons[k] = v
	}
	c.Axes = make(map[device.Axis]int32, len(s.Axes))
	for k, v := range s.Axes {
		c.Axes[k] = v
	}
	return c
}

// Gamepad is a recording device.Gamepad. Handles stay inspectable after
// Disconnect so tests can check the last committed state.
type Gamepad struct {
	mu         sync.Mutex
	pads       map[device.Handle]*mockPad
	next       device.Handle
	connectErr error
	failOps    map[string]error
	calls      []string
	lateWrites int
}

var _ device.Gamepad = (*Gamepad)(nil)

func NewGamepad() *Gamepad {
	return &Gamepad{
		pads:    make(map[device.Handle]*mockPad),
		failOps: make(map[string]error),
	}
}

// FailConnect makes subsequent Connect calls return err. nil clears it.
func (g *Gamepad) FailConnect(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.connectErr = err
}

// FailOp makes every call of op ("SetButton", "SetAxis", "SetMotors",
// "Commit", "Disconnect") return err. nil clears it.
func (g *Gamepad) FailOp(op string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err == nil {
		delete(g.failOps, op)
		return
	}
	g.failOps[op] = err
}

func (g *Gamepad) Connect() (device.Handle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, "Connect")
	if g.connectErr != nil {
		return 0, g.connectErr
	}
	g.next++
	p := &mockPad{staged: newPadState(), committed: newPadState()}
	p.committed.Connected = true
	g.pads[g.next] = p
	return g.next, nil
}

func (g *Gamepad) pad(op string, h device.Handle) (*mockPad, error) {
	g.calls = append(g.calls, op)
	if err := g.failOps[op]; err != nil {
		return nil, err
	}
	p, ok := g.pads[h]
	if !ok {
		return nil, device.ErrUnknownHandle
	}
	if !p.committed.Connected {
		g.lateWrites++
		return nil, device.ErrUnknownHandle
	}
	return p, nil
}

func (g *Gamepad) SetButton(h device.Handle, code int, pressed bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, err := g.pad("SetButton", h)
	if err != nil {
		return err
	}
	if pressed {
		p.staged.Buttons[code] = true
	} else {
		delete(p.staged.Buttons, code)
	}
	return nil
}

func (g *Gamepad) SetAxis(h device.Handle, axis device.Axis, value int32) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, err := g.pad("SetAxis", h)
	if err != nil {
		return err
	}
	if device.ClampAxis(axis, value) != value {
		return fmt.Errorf("axis %s value %d out of range", axis, value)
	}
	p.staged.Axes[axis] = value
	return nil
}

func (g *Gamepad) SetMotors(h device.Handle, large, small uint8) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, err := g.pad("SetMotors", h)
	if err != nil {
		return err
	}
	p.staged.Motors = [2]uint8{large, small}
	return nil
}

func (g *Gamepad) Commit(h device.Handle) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, err := g.pad("Commit", h)
	if err != nil {
		return err
	}
	commits := p.committed.Commits + 1
	p.committed = p.staged.clone()
	p.committed.Connected = true
	p.committed.Commits = commits
	return nil
}

func (g *Gamepad) Disconnect(h device.Handle) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, err := g.pad("Disconnect", h)
	if err != nil {
		return err
	}
	p.committed.Connected = false
	return nil
}

func (g *Gamepad) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range g.pads {
		p.committed.Connected = false
	}
	return nil
}

// State returns the committed state of handle h.
func (g *Gamepad) State(h device.Handle) (PadState, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.pads[h]
	if !ok {
		return PadState{}, false
	}
	return p.committed.clone(), true
}

// Handles returns every handle ever connected, in order.
func (g *Gamepad) Handles() []device.Handle {
	g.mu.Lock()
	defer g.mu.Unlock()
	hs := make([]device.Handle, 0, len(g.pads))
	for h := range g.pads {
		hs = append(hs, h)
	}
	sort.Slice(hs, func(i, j int) bool { return hs[i] < hs[j] })
	return hs
}

// LateWrites counts calls made on handles after they were disconnected.
func (g *Gamepad) LateWrites() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lateWrites
}

// Calls returns the adapter calls made so far.
func (g *Gamepad) Calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.calls...)
}

// ErrInjected is a convenient error for failure injection in tests.
var ErrInjected = errors.New("injected device failure")
