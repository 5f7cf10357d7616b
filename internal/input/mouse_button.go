package input

import "fmt"

// MouseButton identifies a mouse button. Left, Right and Middle are fixed;
// additional buttons are addressed with MouseOther.
type MouseButton uint16

const (
	MouseLeft MouseButton = iota
	MouseRight
	MouseMiddle
)

// MouseOther returns the n-th extra mouse button. It panics when the button
// falls outside what MouseButtonInput can hold.
func MouseOther(n uint16) MouseButton {
	value := 3 + uint32(n)
	if value >= MaxMouseButtons {
		panic(fmt.Sprintf("MouseButtonInput is unable to operate on extra mouse button %d", n))
	}
	return MouseButton(value)
}

const mouseButtonBanks = 3

// MaxMouseButtons is the number of distinct buttons MouseButtonInput can hold.
const MaxMouseButtons = mouseButtonBanks * 8

// MouseButtonInput records which mouse buttons are held.
type MouseButtonInput struct {
	mousebuttons [mouseButtonBanks]byte
}

func mapMouseButton(button MouseButton) (int, byte) {
	if int(button) >= MaxMouseButtons {
		panic(fmt.Sprintf("MouseButtonInput is unable to operate on mouse button %d", button))
	}
	return int(button) / 8, byte(button % 8)
}

// Get reports whether button is held.
func (m MouseButtonInput) Get(button MouseButton) bool {
	bank, channel := mapMouseButton(button)
	return m.mousebuttons[bank]&(1<<channel) != 0
}

// Set marks button as held or released.
func (m *MouseButtonInput) Set(button MouseButton, held bool) *MouseButtonInput {
	bank, channel := mapMouseButton(button)
	if held {
		m.mousebuttons[bank] |= 1 << channel
	} else {
		m.mousebuttons[bank] &^= 1 << channel
	}
	return m
}

// MouseButtonInputFrom builds an input with every listed button held.
func MouseButtonInputFrom(pressed []MouseButton) MouseButtonInput {
	var input MouseButtonInput
	for _, button := range pressed {
		input.Set(button, true)
	}
	return input
}
