package session

import (
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"rewind/internal/checksum"
	"rewind/logging"
)

type intCodec struct{}

func (intCodec) Encode(v int) []byte {
	return binary.BigEndian.AppendUint32(nil, uint32(int32(v)))
}

func (intCodec) Decode(data []byte) (int, error) {
	if len(data) != 4 {
		return 0, errors.New("int codec: want 4 bytes")
	}
	return int(int32(binary.BigEndian.Uint32(data))), nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var _ logging.Clock = (*fakeClock)(nil)

func kinds[I comparable](requests []Request[I]) []RequestKind {
	out := make([]RequestKind, len(requests))
	for i, req := range requests {
		out[i] = req.Kind
	}
	return out
}

// fulfil stores sum(frame) into every Save request's cell.
func fulfil[I comparable](requests []Request[I], sum func(int32) uint64) {
	for _, req := range requests {
		if req.Kind == RequestSave {
			req.Cell.Save(req.Frame, checksum.Checksum(sum(int32(req.Frame))))
		}
	}
}
