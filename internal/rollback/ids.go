// Package rollback saves and restores host state across frames and keeps the
// identities of rolled-back entities stable while doing so.
package rollback

import (
	"strconv"

	"rewind/internal/checksum"
)

// ID is the stable identity of an entity taking part in rollback. It is
// independent of the handle the host uses for the same entity.
type ID uint64

func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Entity is the host's own handle for an entity. Handles may change when an
// entity is despawned and later recreated by a load; IDs do not.
type Entity uint64

// Tagged pairs a live entity with its rollback identity.
type Tagged struct {
	ID     ID
	Entity Entity
}

// IDProvider hands out rollback IDs. It is saved and restored like any other
// resource, so an entity spawned during resimulation receives the same ID it
// had the first time the frame was simulated, on every peer.
type IDProvider struct {
	next ID
}

// Next returns a fresh ID.
func (p *IDProvider) Next() ID {
	id := p.next
	p.next++
	return id
}

// Count reports how many IDs have been issued on the current timeline.
func (p *IDProvider) Count() uint64 {
	return uint64(p.next)
}

func (p IDProvider) HashInto(h *checksum.Hasher) {
	h.WriteUint64(uint64(p.next))
}
