// Package frame defines the discrete simulation frame counter shared by the
// session, the snapshot histories and the driver.
package frame

import "strconv"

// Frame is a signed 32-bit frame number. Arithmetic wraps on overflow.
type Frame int32

// NullFrame marks the absence of a frame.
const NullFrame Frame = -1

// Next returns the following frame, wrapping at the int32 boundary.
func (f Frame) Next() Frame {
	return f + 1
}

// Add offsets f by n frames with wrap-around.
func (f Frame) Add(n int) Frame {
	return f + Frame(int32(n))
}

// Sub returns the signed distance from other to f, correct across wrap-around
// as long as the two frames are less than 2^31 apart.
func (f Frame) Sub(other Frame) int32 {
	return int32(f - other)
}

// Before reports whether f precedes other.
func (f Frame) Before(other Frame) bool {
	return f.Sub(other) < 0
}

// After reports whether f follows other.
func (f Frame) After(other Frame) bool {
	return f.Sub(other) > 0
}

// IsNull reports whether f is NullFrame.
func (f Frame) IsNull() bool {
	return f == NullFrame
}

func (f Frame) String() string {
	if f == NullFrame {
		return "null"
	}
	return strconv.FormatInt(int64(f), 10)
}

// Counters tracks the frame currently being simulated and the newest frame
// that can no longer be rolled back.
type Counters struct {
	Rollback  Frame
	Confirmed Frame
}

// NewCounters starts both counters at zero with nothing confirmed.
func NewCounters() Counters {
	return Counters{Rollback: 0, Confirmed: NullFrame}
}

// Confirm records the session's confirmed frame, clamped so it never passes
// the rollback counter and never moves backwards.
func (c *Counters) Confirm(confirmed Frame) Frame {
	if confirmed.IsNull() {
		return c.Confirmed
	}
	if confirmed.After(c.Rollback) {
		confirmed = c.Rollback
	}
	if c.Confirmed.IsNull() || confirmed.After(c.Confirmed) {
		c.Confirmed = confirmed
	}
	return c.Confirmed
}
