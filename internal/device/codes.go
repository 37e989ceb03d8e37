package device

import (
	"github.com/bendahl/uinput"

	"github.com/padlink/backend/internal/input"
)

// DefaultGamepadCodes maps the vocabulary onto evdev gamepad button codes.
var DefaultGamepadCodes = map[input.Button]int{
	input.DpadUp:         uinput.ButtonDpadUp,
	input.DpadDown:       uinput.ButtonDpadDown,
	input.DpadLeft:       uinput.ButtonDpadLeft,
	input.DpadRight:      uinput.ButtonDpadRight,
	input.ActionJump:     uinput.ButtonSouth,
	input.ActionRun:      uinput.ButtonEast,
	input.ActionInteract: uinput.ButtonWest,
	input.ActionCrouch:   uinput.ButtonNorth,
	input.LeftClick:      uinput.ButtonBumperLeft,
	input.RightClick:     uinput.ButtonBumperRight,
	input.Menu:           uinput.ButtonStart,
	input.Back:           uinput.ButtonSelect,
}

// DefaultKeyCodes maps the vocabulary onto keyboard key codes. left-click and
// right-click are absent: in keyboard+mouse mode they drive mouse buttons.
var DefaultKeyCodes = map[input.Button]int{
	input.DpadUp:         uinput.KeyW,
	input.DpadDown:       uinput.KeyS,
	input.DpadLeft:       uinput.KeyA,
	input.DpadRight:      uinput.KeyD,
	input.ActionJump:     uinput.KeySpace,
	input.ActionRun:      uinput.KeyLeftshift,
	input.ActionInteract: uinput.KeyE,
	input.ActionCrouch:   uinput.KeyLeftctrl,
	input.Menu:           uinput.KeyEsc,
	input.Back:           uinput.KeyTab,
}

// CodeTable returns the default table for mode with overrides applied.
// Overrides for names outside the vocabulary are ignored.
func CodeTable(mode Mode, overrides map[string]int) map[input.Button]int {
	base := DefaultGamepadCodes
	if mode == ModeKeyboardMouse {
		base = DefaultKeyCodes
	}
	table := make(map[input.Button]int, len(base))
	for b, code := range base {
		table[b] = code
	}
	for name, code := range overrides {
		b := input.Button(name)
		if !b.Valid() {
			continue
		}
		if mode == ModeKeyboardMouse && (b == input.LeftClick || b == input.RightClick) {
			continue
		}
		table[b] = code
	}
	return table
}
