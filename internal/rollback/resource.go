package rollback

import (
	"rewind/internal/checksum"
	"rewind/internal/frame"
	"rewind/internal/snapshot"
)

// Resource is the registration handle for a rolled-back singleton.
type Resource[R any] struct {
	name     string
	store    ResourceStore[R]
	strategy snapshot.Strategy[R]
	history  *snapshot.History[snapshot.Optional[R]]
}

// RegisterResource adds a resource kind to r.
func RegisterResource[R any](r *Registry, name string, store ResourceStore[R], strategy snapshot.Strategy[R]) *Resource[R] {
	res := &Resource[R]{
		name:     name,
		store:    store,
		strategy: strategy,
		history:  snapshot.NewHistory[snapshot.Optional[R]](r.window),
	}
	r.add(&kind{
		name:      name,
		role:      "data",
		savePhase: SavePhaseSnapshot,
		loadPhase: LoadPhaseData,
		save:      res.save,
		load:      res.load,
		confirm:   func(f frame.Frame) { res.history.DiscardBefore(f) },
		resize:    res.history.Resize,
		reset:     res.history.Reset,
	})
	return res
}

// Name returns the kind name the resource was registered under.
func (res *Resource[R]) Name() string {
	return res.name
}

// Saved returns the value saved at f. The outer bool reports whether f is
// retained; the Optional reports whether the resource existed then.
func (res *Resource[R]) Saved(f frame.Frame) (snapshot.Optional[R], bool) {
	return res.history.Lookup(f)
}

func (res *Resource[R]) save(ctx *SaveContext) {
	saved := snapshot.None[R]()
	if value, ok := res.store.Get(); ok {
		saved = snapshot.Some(res.strategy.Duplicate(value))
	}
	res.history.Push(ctx.Frame, saved)
}

func (res *Resource[R]) load(ctx *LoadContext) {
	saved := res.history.Rollback(ctx.Frame)
	_, alive := res.store.Get()
	switch {
	case saved.Present:
		res.store.Set(res.strategy.Duplicate(saved.Value))
	case alive:
		res.store.Remove()
	}
}

// ChecksumResource makes res contribute a checksum part to every save. An
// absent resource hashes differently from any present value.
func ChecksumResource[R any](r *Registry, res *Resource[R], hash func(h *checksum.Hasher, value R)) {
	hash = defaultHash(res.name, hash)
	r.add(&kind{
		name:      res.name,
		role:      "checksum",
		savePhase: SavePhaseChecksum,
		loadPhase: LoadPhaseData,
		save: func(ctx *SaveContext) {
			saved, _ := res.history.Lookup(ctx.Frame)
			r.hash(ctx, res.name, func(h *checksum.Hasher) {
				h.WriteBool(saved.Present)
				if saved.Present {
					hash(h, saved.Value)
				}
			})
		},
	})
}

// MapResourceEntities rewrites entity references held by res after every load.
func MapResourceEntities[R EntityMapper[R]](r *Registry, res *Resource[R]) {
	r.add(&kind{
		name:      res.name,
		role:      "mapping",
		savePhase: SavePhaseSnapshot,
		loadPhase: LoadPhaseMapping,
		load: func(ctx *LoadContext) {
			if value, ok := res.store.Get(); ok {
				res.store.Set(value.MapEntities(ctx.Entities))
			}
		},
	})
}
