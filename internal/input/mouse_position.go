package input

import (
	"encoding/binary"
	"math"
)

// Vec2 is a two-component position.
type Vec2 struct {
	X float32
	Y float32
}

// cursorAbsentBits is the float32 NaN pattern written to both axes when no
// cursor is available.
const cursorAbsentBits uint32 = 0x7fc00000

// MousePositionInput captures the cursor position in normalised window space,
// (0, 0) to (1, 1). On the wire each axis is a big-endian float32 and the NaN
// pattern on both axes means "no cursor".
//
// Each axis is stored XOR-ed with the NaN pattern so that the zero value of
// the struct is the "no cursor" state.
type MousePositionInput struct {
	x uint32
	y uint32
}

// NewMousePositionInput returns an input holding position, or no cursor when
// position is nil.
func NewMousePositionInput(position *Vec2) MousePositionInput {
	var input MousePositionInput
	input.Set(position)
	return input
}

// Get returns the normalised cursor position, or false when none is available.
func (m MousePositionInput) Get() (Vec2, bool) {
	x := math.Float32frombits(m.x ^ cursorAbsentBits)
	y := math.Float32frombits(m.y ^ cursorAbsentBits)
	if !finite(x) || !finite(y) {
		return Vec2{}, false
	}
	return Vec2{X: x, Y: y}, true
}

// Set stores position, or clears the cursor when position is nil.
func (m *MousePositionInput) Set(position *Vec2) *MousePositionInput {
	if position == nil {
		m.x, m.y = 0, 0
		return m
	}
	m.x = math.Float32bits(position.X) ^ cursorAbsentBits
	m.y = math.Float32bits(position.Y) ^ cursorAbsentBits
	return m
}

func (m MousePositionInput) appendBinary(dst []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, m.x^cursorAbsentBits)
	return binary.BigEndian.AppendUint32(dst, m.y^cursorAbsentBits)
}

func (m *MousePositionInput) decode(src []byte) {
	m.x = binary.BigEndian.Uint32(src[0:4]) ^ cursorAbsentBits
	m.y = binary.BigEndian.Uint32(src[4:8]) ^ cursorAbsentBits
}

func finite(v float32) bool {
	f := float64(v)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
