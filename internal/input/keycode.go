package input

import "fmt"

// KeyCode enumerates keyboard keys. The numeric values are part of the input
// wire format: never reorder or remove entries, only append before
// KeyCodeCount.
type KeyCode uint8

const (
	Key1 KeyCode = iota
	Key2
	Key3
	Key4
	Key5
	Key6
	Key7
	Key8
	Key9
	Key0

	KeyA
	KeyB
	KeyC
	KeyD
	KeyE
	KeyF
	KeyG
	KeyH
	KeyI
	KeyJ
	KeyK
	KeyL
	KeyM
	KeyN
	KeyO
	KeyP
	KeyQ
	KeyR
	KeyS
	KeyT
	KeyU
	KeyV
	KeyW
	KeyX
	KeyY
	KeyZ

	KeyEscape

	KeyF1
	KeyF2
	KeyF3
	KeyF4
	KeyF5
	KeyF6
	KeyF7
	KeyF8
	KeyF9
	KeyF10
	KeyF11
	KeyF12
	KeyF13
	KeyF14
	KeyF15
	KeyF16
	KeyF17
	KeyF18
	KeyF19
	KeyF20
	KeyF21
	KeyF22
	KeyF23
	KeyF24

	KeySnapshot
	KeyScroll
	KeyPause
	KeyInsert
	KeyHome
	KeyDelete
	KeyEnd
	KeyPageDown
	KeyPageUp
	KeyLeft
	KeyUp
	KeyRight
	KeyDown
	KeyBack
	KeyReturn
	KeySpace
	KeyCompose
	KeyCaret
	KeyNumlock

	KeyNumpad0
	KeyNumpad1
	KeyNumpad2
	KeyNumpad3
	KeyNumpad4
	KeyNumpad5
	KeyNumpad6
	KeyNumpad7
	KeyNumpad8
	KeyNumpad9

	KeyAbntC1
	KeyAbntC2
	KeyNumpadAdd
	KeyApostrophe
	KeyApps
	KeyAsterisk
	KeyPlus
	KeyAt
	KeyAx
	KeyBackslash
	KeyCalculator
	KeyCapital
	KeyColon
	KeyComma
	KeyConvert
	KeyNumpadDecimal
	KeyNumpadDivide
	KeyEquals
	KeyGrave
	KeyKana
	KeyKanji
	KeyAltLeft
	KeyBracketLeft
	KeyControlLeft
	KeyShiftLeft
	KeySuperLeft
	KeyMail
	KeyMediaSelect
	KeyMediaStop
	KeyMinus
	KeyNumpadMultiply
	KeyMute
	KeyMyComputer
	KeyNavigateForward
	KeyNavigateBackward
	KeyNextTrack
	KeyNoConvert
	KeyNumpadComma
	KeyNumpadEnter
	KeyNumpadEquals
	KeyOem102
	KeyPeriod
	KeyPlayPause
	KeyPower
	KeyPrevTrack
	KeyAltRight
	KeyBracketRight
	KeyControlRight
	KeyShiftRight
	KeySuperRight
	KeySemicolon
	KeySlash
	KeySleep
	KeyStop
	KeyNumpadSubtract
	KeySysrq
	KeyTab
	KeyUnderline
	KeyUnlabeled
	KeyVolumeDown
	KeyVolumeUp
	KeyWake
	KeyWebBack
	KeyWebFavorites
	KeyWebForward
	KeyWebHome
	KeyWebRefresh
	KeyWebSearch
	KeyWebStop
	KeyYen
	KeyCopy
	KeyPaste
	KeyCut

	// KeyCodeCount is the number of defined key codes.
	KeyCodeCount
)

// KeyCodeBanks is the number of bytes needed to hold one bit per key code.
const KeyCodeBanks = (int(KeyCodeCount) + 7) / 8

// KeyCodeInput records which keys are held, one bit per KeyCode.
type KeyCodeInput struct {
	keycodes [KeyCodeBanks]byte
}

func mapKeyCode(key KeyCode) (int, byte) {
	value := int(key)
	return value / 8, byte(value % 8)
}

// Get reports whether key is held.
func (k KeyCodeInput) Get(key KeyCode) bool {
	if key >= KeyCodeCount {
		panic(fmt.Sprintf("KeyCodeInput is unable to operate on key code %d", key))
	}
	bank, channel := mapKeyCode(key)
	return k.keycodes[bank]&(1<<channel) != 0
}

// Set marks key as held or released.
func (k *KeyCodeInput) Set(key KeyCode, held bool) *KeyCodeInput {
	if key >= KeyCodeCount {
		panic(fmt.Sprintf("KeyCodeInput is unable to operate on key code %d", key))
	}
	bank, channel := mapKeyCode(key)
	if held {
		k.keycodes[bank] |= 1 << channel
	} else {
		k.keycodes[bank] &^= 1 << channel
	}
	return k
}

// Pressed lists every held key in ascending order.
func (k KeyCodeInput) Pressed() []KeyCode {
	var pressed []KeyCode
	for key := KeyCode(0); key < KeyCodeCount; key++ {
		if k.Get(key) {
			pressed = append(pressed, key)
		}
	}
	return pressed
}

// KeyCodeInputFrom builds an input with every listed key held.
func KeyCodeInputFrom(pressed []KeyCode) KeyCodeInput {
	var input KeyCodeInput
	for _, key := range pressed {
		input.Set(key, true)
	}
	return input
}
