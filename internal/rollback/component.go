package rollback

import (
	"encoding/binary"
	"fmt"
	"slices"

	"rewind/internal/checksum"
	"rewind/internal/frame"
	"rewind/internal/snapshot"
)

// Component is the registration handle for a rolled-back component type.
type Component[C any] struct {
	name     string
	store    ComponentStore[C]
	strategy snapshot.Strategy[C]
	history  *snapshot.History[map[ID]C]
}

// RegisterComponent adds a component kind to r. Values are copied into and out
// of the history with strategy.
func RegisterComponent[C any](r *Registry, name string, store ComponentStore[C], strategy snapshot.Strategy[C]) *Component[C] {
	c := &Component[C]{
		name:     name,
		store:    store,
		strategy: strategy,
		history:  snapshot.NewHistory[map[ID]C](r.window),
	}
	r.add(&kind{
		name:      name,
		role:      "data",
		savePhase: SavePhaseSnapshot,
		loadPhase: LoadPhaseData,
		save:      c.save,
		load:      c.load,
		confirm:   func(f frame.Frame) { c.history.DiscardBefore(f) },
		resize:    c.history.Resize,
		reset:     c.history.Reset,
	})
	return c
}

// Name returns the kind name the component was registered under.
func (c *Component[C]) Name() string {
	return c.name
}

// Saved returns the values saved at f keyed by rollback ID. The map is owned
// by the history and must not be modified.
func (c *Component[C]) Saved(f frame.Frame) (map[ID]C, bool) {
	return c.history.Lookup(f)
}

func (c *Component[C]) save(ctx *SaveContext) {
	saved := make(map[ID]C, len(ctx.Live))
	for _, tagged := range ctx.Live {
		if value, ok := c.store.Get(tagged.Entity); ok {
			saved[tagged.ID] = c.strategy.Duplicate(value)
		}
	}
	c.history.Push(ctx.Frame, saved)
}

func (c *Component[C]) load(ctx *LoadContext) {
	saved := c.history.Rollback(ctx.Frame)
	restored := 0
	for _, tagged := range ctx.Live {
		_, alive := c.store.Get(tagged.Entity)
		value, wasSaved := saved[tagged.ID]
		switch {
		case wasSaved:
			c.store.Set(tagged.Entity, c.strategy.Duplicate(value))
			restored++
		case alive:
			c.store.Remove(tagged.Entity)
		}
	}
	if restored != len(saved) {
		panic(fmt.Sprintf("rollback: restored %d of %d %s values at frame %s", restored, len(saved), c.name, ctx.Frame))
	}
}

// ChecksumComponent makes c contribute a checksum part to every save. Entities
// are hashed in ID order. A nil hash uses checksum.Write, which requires C to
// be Hashable or fixed-size.
func ChecksumComponent[C any](r *Registry, c *Component[C], hash func(h *checksum.Hasher, value C)) {
	hash = defaultHash(c.name, hash)
	r.add(&kind{
		name:      c.name,
		role:      "checksum",
		savePhase: SavePhaseChecksum,
		loadPhase: LoadPhaseData,
		save: func(ctx *SaveContext) {
			saved, _ := c.history.Lookup(ctx.Frame)
			ids := make([]ID, 0, len(saved))
			for id := range saved {
				ids = append(ids, id)
			}
			slices.Sort(ids)
			r.hash(ctx, c.name, func(h *checksum.Hasher) {
				for _, id := range ids {
					h.WriteUint64(uint64(id))
					hash(h, saved[id])
				}
			})
		},
	})
}

// MapComponentEntities rewrites entity references held by c after every load.
func MapComponentEntities[C EntityMapper[C]](r *Registry, c *Component[C]) {
	r.add(&kind{
		name:      c.name,
		role:      "mapping",
		savePhase: SavePhaseSnapshot,
		loadPhase: LoadPhaseMapping,
		load: func(ctx *LoadContext) {
			for _, tagged := range ctx.Live {
				if value, ok := c.store.Get(tagged.Entity); ok {
					c.store.Set(tagged.Entity, value.MapEntities(ctx.Entities))
				}
			}
		},
	})
}

func defaultHash[V any](name string, hash func(*checksum.Hasher, V)) func(*checksum.Hasher, V) {
	if hash != nil {
		return hash
	}
	var zero V
	if _, ok := any(zero).(checksum.Hashable); !ok && binary.Size(zero) < 0 {
		panic(fmt.Sprintf("rollback: %s needs a hash function: %T is neither Hashable nor fixed-size", name, zero))
	}
	return func(h *checksum.Hasher, value V) {
		if err := checksum.Write(h, value); err != nil {
			panic(err)
		}
	}
}
