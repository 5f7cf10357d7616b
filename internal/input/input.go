// Package input turns host device state into fixed-size, byte-exact input
// values suitable for input history, prediction and transmission to peers.
//
// Every input type is a comparable value whose zero value means "nothing held,
// no cursor". MarshalBinary produces a stable layout that does not depend on
// host byte order, so identical logical inputs hash and compare identically on
// every peer.
package input

import (
	"errors"
	"fmt"
)

// ErrInvalidLength is returned when decoding a buffer of the wrong size.
var ErrInvalidLength = errors.New("input: invalid encoded length")

const (
	mousePositionSize = 8

	// KeyboardAndMouseSize is the encoded size of KeyboardAndMouseInput.
	KeyboardAndMouseSize = mousePositionSize + mouseButtonBanks + KeyCodeBanks
	// GamepadSize is the encoded size of GamepadInput.
	GamepadSize = gamepadButtonBanks
)

// KeyboardAndMouseInput captures the keyboard, the mouse buttons and the
// cursor position of one local player.
//
// Encoded layout: cursor x (4, big-endian float32), cursor y (4), mouse
// button banks (3), key code banks (21).
type KeyboardAndMouseInput struct {
	MousePosition MousePositionInput
	MouseButtons  MouseButtonInput
	Keyboard      KeyCodeInput
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (k KeyboardAndMouseInput) MarshalBinary() ([]byte, error) {
	return k.AppendBinary(make([]byte, 0, KeyboardAndMouseSize)), nil
}

// AppendBinary appends the fixed-size encoding of k to dst.
func (k KeyboardAndMouseInput) AppendBinary(dst []byte) []byte {
	dst = k.MousePosition.appendBinary(dst)
	dst = append(dst, k.MouseButtons.mousebuttons[:]...)
	return append(dst, k.Keyboard.keycodes[:]...)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (k *KeyboardAndMouseInput) UnmarshalBinary(data []byte) error {
	if len(data) != KeyboardAndMouseSize {
		return fmt.Errorf("keyboard and mouse input: got %d bytes, want %d: %w", len(data), KeyboardAndMouseSize, ErrInvalidLength)
	}
	k.MousePosition.decode(data[:mousePositionSize])
	offset := mousePositionSize
	offset += copy(k.MouseButtons.mousebuttons[:], data[offset:])
	copy(k.Keyboard.keycodes[:], data[offset:])
	return nil
}

// GamepadInput captures the buttons of up to four gamepads.
type GamepadInput struct {
	Buttons GamepadButtonInput
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (g GamepadInput) MarshalBinary() ([]byte, error) {
	out := make([]byte, GamepadSize)
	copy(out, g.Buttons.gamepadbuttons[:])
	return out, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (g *GamepadInput) UnmarshalBinary(data []byte) error {
	if len(data) != GamepadSize {
		return fmt.Errorf("gamepad input: got %d bytes, want %d: %w", len(data), GamepadSize, ErrInvalidLength)
	}
	copy(g.Buttons.gamepadbuttons[:], data)
	return nil
}

// DeviceState is the raw local device state a host hands over once per tick.
type DeviceState struct {
	Keys           []KeyCode
	MouseButtons   []MouseButton
	GamepadButtons []GamepadButton
	// Cursor is the cursor position in window pixels, nil when the cursor is
	// outside the window or no window exists.
	Cursor       *Vec2
	WindowWidth  float32
	WindowHeight float32
}

// KeyboardAndMouseFrom encodes the keyboard and mouse part of state. The
// cursor is normalised by the window size; a zero-sized window yields no
// cursor.
func KeyboardAndMouseFrom(state DeviceState) KeyboardAndMouseInput {
	input := KeyboardAndMouseInput{
		MouseButtons: MouseButtonInputFrom(state.MouseButtons),
		Keyboard:     KeyCodeInputFrom(state.Keys),
	}
	if state.Cursor != nil && state.WindowWidth > 0 && state.WindowHeight > 0 {
		normalised := Vec2{
			X: state.Cursor.X / state.WindowWidth,
			Y: state.Cursor.Y / state.WindowHeight,
		}
		input.MousePosition.Set(&normalised)
	}
	return input
}

// GamepadFrom encodes the gamepad part of state.
func GamepadFrom(state DeviceState) GamepadInput {
	return GamepadInput{Buttons: GamepadButtonInputFrom(state.GamepadButtons)}
}
