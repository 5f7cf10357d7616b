// Package checksum fingerprints rolled-back state so peers can compare their
// simulations frame by frame. Parts are xxhash64 digests over big-endian
// encodings; they are reproducible, not collision resistant.
package checksum

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// Part is the fingerprint one state kind contributes to a save.
type Part uint64

// Checksum is the aggregate of every Part recorded for a save.
type Checksum uint64

func (c Checksum) String() string {
	return fmt.Sprintf("%016x", uint64(c))
}

// Hashable is implemented by values that write their own fingerprint.
type Hashable interface {
	HashInto(h *Hasher)
}

// Hasher accumulates a Part. The zero value is not usable; call NewHasher.
type Hasher struct {
	digest *xxhash.Digest
	buf    [8]byte
}

// NewHasher returns an empty Hasher.
func NewHasher() *Hasher {
	return &Hasher{digest: xxhash.New()}
}

// Write implements io.Writer so encoding/binary can feed the hasher directly.
func (h *Hasher) Write(p []byte) (int, error) {
	return h.digest.Write(p)
}

func (h *Hasher) WriteUint64(v uint64) {
	binary.BigEndian.PutUint64(h.buf[:], v)
	_, _ = h.digest.Write(h.buf[:8])
}

func (h *Hasher) WriteUint32(v uint32) {
	binary.BigEndian.PutUint32(h.buf[:4], v)
	_, _ = h.digest.Write(h.buf[:4])
}

func (h *Hasher) WriteInt64(v int64) { h.WriteUint64(uint64(v)) }

func (h *Hasher) WriteInt(v int) { h.WriteUint64(uint64(int64(v))) }

func (h *Hasher) WriteBool(v bool) {
	if v {
		h.buf[0] = 1
	} else {
		h.buf[0] = 0
	}
	_, _ = h.digest.Write(h.buf[:1])
}

// WriteFloat32 hashes the IEEE-754 bit pattern of v.
func (h *Hasher) WriteFloat32(v float32) { h.WriteUint32(math.Float32bits(v)) }

// WriteFloat64 hashes the IEEE-754 bit pattern of v.
func (h *Hasher) WriteFloat64(v float64) { h.WriteUint64(math.Float64bits(v)) }

// WriteBytes hashes b prefixed with its length.
func (h *Hasher) WriteBytes(b []byte) {
	h.WriteUint64(uint64(len(b)))
	_, _ = h.digest.Write(b)
}

// WriteString hashes s prefixed with its length.
func (h *Hasher) WriteString(s string) {
	h.WriteUint64(uint64(len(s)))
	_, _ = h.digest.WriteString(s)
}

// Part returns the fingerprint of everything written so far.
func (h *Hasher) Part() Part {
	return Part(h.digest.Sum64())
}

// Reset clears the hasher for reuse.
func (h *Hasher) Reset() {
	h.digest.Reset()
}

// Write feeds v into h. Hashable values write themselves; anything else must
// be a fixed-size value that encoding/binary can encode.
func Write[T any](h *Hasher, v T) error {
	if hashable, ok := any(v).(Hashable); ok {
		hashable.HashInto(h)
		return nil
	}
	if err := binary.Write(h, binary.BigEndian, v); err != nil {
		return fmt.Errorf("checksum: %T is not fixed-size: %w", v, err)
	}
	return nil
}

// Of returns the fingerprint of a single value.
func Of[T any](v T) (Part, error) {
	h := NewHasher()
	if err := Write(h, v); err != nil {
		return 0, err
	}
	return h.Part(), nil
}

// Aggregator collects the parts recorded during one save and folds them into
// a single Checksum. The fold visits kinds in name order, so the result does
// not depend on registration order.
type Aggregator struct {
	parts map[string]Part
}

// Set records the part for kind, replacing any earlier value.
func (a *Aggregator) Set(kind string, part Part) {
	if a.parts == nil {
		a.parts = make(map[string]Part)
	}
	a.parts[kind] = part
}

// Part returns the part recorded for kind.
func (a *Aggregator) Part(kind string) (Part, bool) {
	part, ok := a.parts[kind]
	return part, ok
}

// Kinds lists the recorded kinds in name order.
func (a *Aggregator) Kinds() []string {
	kinds := make([]string, 0, len(a.parts))
	for kind := range a.parts {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// Len reports how many parts are recorded.
func (a *Aggregator) Len() int {
	return len(a.parts)
}

// Sum folds every recorded part into one Checksum.
func (a *Aggregator) Sum() Checksum {
	h := NewHasher()
	for _, kind := range a.Kinds() {
		h.WriteString(kind)
		h.WriteUint64(uint64(a.parts[kind]))
	}
	return Checksum(h.Part())
}

// Reset forgets every recorded part.
func (a *Aggregator) Reset() {
	for kind := range a.parts {
		delete(a.parts, kind)
	}
}
