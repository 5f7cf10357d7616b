package input

import "fmt"

// GamepadButtonType enumerates the buttons of a single gamepad. Values from
// GamepadOther onwards address vendor-specific buttons.
type GamepadButtonType uint8

const (
	GamepadSouth GamepadButtonType = iota
	GamepadEast
	GamepadNorth
	GamepadWest
	GamepadC
	GamepadZ
	GamepadLeftTrigger
	GamepadLeftTrigger2
	GamepadRightTrigger
	GamepadRightTrigger2
	GamepadSelect
	GamepadStart
	GamepadMode
	GamepadLeftThumb
	GamepadRightThumb
	GamepadDPadUp
	GamepadDPadDown
	GamepadDPadLeft
	GamepadDPadRight
)

// GamepadOther returns the n-th vendor-specific button.
func GamepadOther(n uint8) GamepadButtonType {
	if int(n)+19 >= MaxGamepadButtons {
		panic(fmt.Sprintf("GamepadButtonInput is unable to operate on extra button %d", n))
	}
	return GamepadButtonType(19 + n)
}

const (
	// MaxGamepads is the number of gamepads GamepadButtonInput tracks.
	MaxGamepads = 4
	// MaxGamepadButtons is the number of buttons tracked per gamepad.
	MaxGamepadButtons = 64

	gamepadButtonBanks = MaxGamepads * MaxGamepadButtons / 8
)

// GamepadButton addresses one button on one gamepad.
type GamepadButton struct {
	Gamepad uint8
	Button  GamepadButtonType
}

// GamepadButtonInput records which gamepad buttons are held across up to
// MaxGamepads devices.
type GamepadButtonInput struct {
	gamepadbuttons [gamepadButtonBanks]byte
}

func mapGamepadButton(button GamepadButton) (int, byte) {
	if int(button.Gamepad) >= MaxGamepads || int(button.Button) >= MaxGamepadButtons {
		panic(fmt.Sprintf("GamepadButtonInput is unable to operate on %+v", button))
	}
	value := int(button.Button) + MaxGamepadButtons*int(button.Gamepad)
	return value / 8, byte(value % 8)
}

// Get reports whether button is held.
func (g GamepadButtonInput) Get(button GamepadButton) bool {
	bank, channel := mapGamepadButton(button)
	return g.gamepadbuttons[bank]&(1<<channel) != 0
}

// Set marks button as held or released.
func (g *GamepadButtonInput) Set(button GamepadButton, held bool) *GamepadButtonInput {
	bank, channel := mapGamepadButton(button)
	if held {
		g.gamepadbuttons[bank] |= 1 << channel
	} else {
		g.gamepadbuttons[bank] &^= 1 << channel
	}
	return g
}

// GamepadButtonInputFrom builds an input with every listed button held.
func GamepadButtonInputFrom(pressed []GamepadButton) GamepadButtonInput {
	var input GamepadButtonInput
	for _, button := range pressed {
		input.Set(button, true)
	}
	return input
}
