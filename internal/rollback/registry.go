package rollback

import (
	"fmt"
	"slices"

	"rewind/internal/checksum"
	"rewind/internal/frame"
	"rewind/internal/snapshot"
)

const (
	// EntityKind names the always-registered kind that tracks which rollback
	// entities exist at each frame.
	EntityKind = "rollback.entities"
	// IDsKind names the always-registered resource kind holding the IDProvider.
	IDsKind = "rollback.ids"
)

// SavePhase orders the work done for a save.
type SavePhase int

const (
	// SavePhaseSnapshot copies live state into histories.
	SavePhaseSnapshot SavePhase = iota
	// SavePhaseChecksum fingerprints the copies taken during the snapshot phase.
	SavePhaseChecksum
)

// LoadPhase orders the work done for a load.
type LoadPhase int

const (
	// LoadPhaseEntity reconciles the live entity set and builds the EntityMap.
	LoadPhaseEntity LoadPhase = iota
	// LoadPhaseData restores component and resource values.
	LoadPhaseData
	// LoadPhaseMapping rewrites entity references through the EntityMap.
	LoadPhaseMapping
)

var (
	savePhases = []SavePhase{SavePhaseSnapshot, SavePhaseChecksum}
	loadPhases = []LoadPhase{LoadPhaseEntity, LoadPhaseData, LoadPhaseMapping}
)

// SaveContext is shared by every kind while a frame is saved.
type SaveContext struct {
	Frame frame.Frame
	// Live lists the rollback entities alive at Frame, ordered by ID.
	Live      []Tagged
	Checksums *checksum.Aggregator
}

// LoadContext is shared by every kind while a frame is loaded.
type LoadContext struct {
	Frame frame.Frame
	// Entities and Live are filled in by the entity phase.
	Entities EntityMap
	Live     []Tagged
	Stats    ReconcileStats
}

type kind struct {
	name      string
	role      string
	savePhase SavePhase
	loadPhase LoadPhase
	save      func(*SaveContext)
	load      func(*LoadContext)
	confirm   func(frame.Frame)
	resize    func(int)
	reset     func()
}

// Registry owns the history of every registered state kind and runs the
// save and load handlers in phase order.
type Registry struct {
	host      Host
	window    int
	kinds     []*kind
	names     map[string]bool
	entities  *snapshot.History[map[ID]Entity]
	checksums *snapshot.History[checksum.Checksum]
	parts     checksum.Aggregator
	hasher    *checksum.Hasher
}

// SaveResult reports the outcome of a save.
type SaveResult struct {
	Checksum checksum.Checksum
	Parts    int
	Entities int
}

// LoadResult reports the outcome of a load.
type LoadResult struct {
	Stats    ReconcileStats
	Entities int
}

// NewRegistry returns a registry whose histories keep window frames. The
// entity set and the host's IDProvider are always registered.
func NewRegistry(host Host, window int) *Registry {
	if window < 0 {
		window = 0
	}
	r := &Registry{
		host:      host,
		window:    window,
		names:     make(map[string]bool),
		entities:  snapshot.NewHistory[map[ID]Entity](window),
		checksums: snapshot.NewHistory[checksum.Checksum](window),
		hasher:    checksum.NewHasher(),
	}
	r.registerEntities()
	ids := RegisterResource[IDProvider](r, IDsKind, providerStore{host: host}, snapshot.Copy[IDProvider]{})
	ChecksumResource(r, ids, nil)
	return r
}

func (r *Registry) registerEntities() {
	r.add(&kind{
		name:      EntityKind,
		role:      "data",
		savePhase: SavePhaseSnapshot,
		loadPhase: LoadPhaseEntity,
		save: func(ctx *SaveContext) {
			set := make(map[ID]Entity, len(ctx.Live))
			for _, tagged := range ctx.Live {
				set[tagged.ID] = tagged.Entity
			}
			r.entities.Push(ctx.Frame, set)
		},
		load: func(ctx *LoadContext) {
			historical := r.entities.Rollback(ctx.Frame)
			ctx.Entities, ctx.Live, ctx.Stats = Reconcile(r.host, historical)
		},
		confirm: func(f frame.Frame) { r.entities.DiscardBefore(f) },
		resize:  r.entities.Resize,
		reset:   r.entities.Reset,
	})
	r.add(&kind{
		name:      EntityKind,
		role:      "checksum",
		savePhase: SavePhaseChecksum,
		loadPhase: LoadPhaseData,
		save: func(ctx *SaveContext) {
			h := r.hasher
			h.Reset()
			h.WriteUint64(uint64(len(ctx.Live)))
			h.WriteUint64(r.host.IDs().Count())
			ctx.Checksums.Set(EntityKind, h.Part())
		},
	})
}

func (r *Registry) add(k *kind) {
	key := k.name + "/" + k.role
	if r.names[key] {
		panic(fmt.Sprintf("rollback: %s %q registered twice", k.role, k.name))
	}
	r.names[key] = true
	r.kinds = append(r.kinds, k)
}

// Window reports the number of frames each history retains.
func (r *Registry) Window() int {
	return r.window
}

// Kinds lists the names of the registered state kinds in registration order.
func (r *Registry) Kinds() []string {
	var names []string
	for _, k := range r.kinds {
		if k.role == "data" {
			names = append(names, k.name)
		}
	}
	return names
}

// Save snapshots every registered kind at f, then computes their checksums.
// The aggregate is returned and kept for later comparison.
func (r *Registry) Save(f frame.Frame) SaveResult {
	r.parts.Reset()
	ctx := &SaveContext{
		Frame:     f,
		Live:      r.live(),
		Checksums: &r.parts,
	}
	for _, phase := range savePhases {
		for _, k := range r.kinds {
			if k.save != nil && k.savePhase == phase {
				k.save(ctx)
			}
		}
	}
	sum := r.parts.Sum()
	r.checksums.Push(f, sum)
	return SaveResult{Checksum: sum, Parts: r.parts.Len(), Entities: len(ctx.Live)}
}

// Load restores the state saved at f. Entity reconciliation always runs
// before any data is restored. Loading a frame that is not retained panics
// with a *snapshot.MissingFrameError.
func (r *Registry) Load(f frame.Frame) LoadResult {
	ctx := &LoadContext{Frame: f}
	for _, phase := range loadPhases {
		for _, k := range r.kinds {
			if k.load != nil && k.loadPhase == phase {
				k.load(ctx)
			}
		}
	}
	return LoadResult{Stats: ctx.Stats, Entities: len(ctx.Live)}
}

// Checksum returns the aggregate recorded when f was saved.
func (r *Registry) Checksum(f frame.Frame) (checksum.Checksum, bool) {
	return r.checksums.Lookup(f)
}

// Confirm discards every saved frame older than confirmed.
func (r *Registry) Confirm(confirmed frame.Frame) {
	if confirmed.IsNull() {
		return
	}
	for _, k := range r.kinds {
		if k.confirm != nil {
			k.confirm(confirmed)
		}
	}
	r.checksums.DiscardBefore(confirmed)
}

// Reset drops every saved frame and resizes the histories to window.
func (r *Registry) Reset(window int) {
	if window < 0 {
		window = 0
	}
	r.window = window
	for _, k := range r.kinds {
		if k.resize != nil {
			k.resize(window)
		}
		if k.reset != nil {
			k.reset()
		}
	}
	r.checksums.Resize(window)
	r.checksums.Reset()
}

func (r *Registry) live() []Tagged {
	live := slices.Clone(r.host.RollbackEntities())
	slices.SortFunc(live, func(a, b Tagged) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return live
}

func (r *Registry) hash(ctx *SaveContext, name string, write func(h *checksum.Hasher)) {
	h := r.hasher
	h.Reset()
	write(h)
	ctx.Checksums.Set(name, h.Part())
}

type providerStore struct {
	host Host
}

func (s providerStore) Get() (IDProvider, bool) { return *s.host.IDs(), true }

func (s providerStore) Set(value IDProvider) { *s.host.IDs() = value }

func (s providerStore) Remove() { *s.host.IDs() = IDProvider{} }
