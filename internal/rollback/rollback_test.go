package rollback

import (
	"errors"
	"reflect"
	"testing"

	"rewind/internal/frame"
	"rewind/internal/snapshot"
)

type fakeHost struct {
	next     Entity
	ids      IDProvider
	tags     map[Entity]ID
	order    []Entity
	despawns []Entity
	spawns   []ID
	cleanup  []func(Entity)
}

func newFakeHost() *fakeHost {
	return &fakeHost{next: 100, tags: make(map[Entity]ID)}
}

func (h *fakeHost) spawn() Entity {
	return h.SpawnRollback(h.ids.Next())
}

func (h *fakeHost) RollbackEntities() []Tagged {
	out := make([]Tagged, 0, len(h.order))
	for _, e := range h.order {
		out = append(out, Tagged{ID: h.tags[e], Entity: e})
	}
	return out
}

func (h *fakeHost) SpawnRollback(id ID) Entity {
	e := h.next
	h.next++
	h.tags[e] = id
	h.order = append(h.order, e)
	h.spawns = append(h.spawns, id)
	return e
}

func (h *fakeHost) Despawn(e Entity) {
	delete(h.tags, e)
	for i, candidate := range h.order {
		if candidate == e {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
	h.despawns = append(h.despawns, e)
	for _, fn := range h.cleanup {
		fn(e)
	}
}

func (h *fakeHost) IDs() *IDProvider { return &h.ids }

func (h *fakeHost) entityFor(id ID) (Entity, bool) {
	for e, candidate := range h.tags {
		if candidate == id {
			return e, true
		}
	}
	return 0, false
}

type mapStore[C any] map[Entity]C

func (s mapStore[C]) Get(e Entity) (C, bool) { v, ok := s[e]; return v, ok }
func (s mapStore[C]) Set(e Entity, v C)      { s[e] = v }
func (s mapStore[C]) Remove(e Entity)        { delete(s, e) }

type valueStore[R any] struct {
	value   R
	present bool
}

func (s *valueStore[R]) Get() (R, bool) { return s.value, s.present }
func (s *valueStore[R]) Set(v R)        { s.value, s.present = v, true }
func (s *valueStore[R]) Remove()        { var zero R; s.value, s.present = zero, false }

type position struct{ X, Y int32 }

type parent struct{ Entity Entity }

func (p parent) MapEntities(entities EntityMap) parent {
	return parent{Entity: entities.Map(p.Entity)}
}

func TestReconcileLiveAndHistoricalSets(t *testing.T) {
	host := newFakeHost()
	live := map[ID]Entity{}
	for _, id := range []ID{1, 2, 3} {
		live[id] = host.SpawnRollback(id)
	}
	host.spawns = nil
	historical := map[ID]Entity{2: live[2], 3: live[3], 4: 55}

	entities, after, stats := Reconcile(host, historical)

	if !reflect.DeepEqual(host.despawns, []Entity{live[1]}) {
		t.Fatalf("expected entity for id 1 despawned, got %v", host.despawns)
	}
	if !reflect.DeepEqual(host.spawns, []ID{4}) {
		t.Fatalf("expected one placeholder for id 4, got %v", host.spawns)
	}
	if len(entities) != 3 {
		t.Fatalf("expected three mappings, got %v", entities)
	}
	if entities[live[2]] != live[2] || entities[live[3]] != live[3] {
		t.Fatalf("expected ids 2 and 3 mapped to themselves, got %v", entities)
	}
	placeholder, _ := host.entityFor(4)
	if entities[55] != placeholder || placeholder == 55 {
		t.Fatalf("expected historical entity 55 mapped to new placeholder %d, got %v", placeholder, entities)
	}
	if stats != (ReconcileStats{Reused: 2, Respawned: 1, Despawned: 1}) {
		t.Fatalf("unexpected stats %+v", stats)
	}
	wantAfter := []Tagged{{ID: 2, Entity: live[2]}, {ID: 3, Entity: live[3]}, {ID: 4, Entity: placeholder}}
	if !reflect.DeepEqual(after, wantAfter) {
		t.Fatalf("expected live set %v, got %v", wantAfter, after)
	}
}

func TestEntityMapLeavesUntrackedEntities(t *testing.T) {
	entities := EntityMap{1: 10}
	if entities.Map(1) != 10 || entities.Map(7) != 7 {
		t.Fatalf("unexpected mapping behaviour")
	}
	if _, ok := entities.Lookup(7); ok {
		t.Fatalf("expected untracked entity to be absent")
	}
}

func TestSaveThenLoadRestoresState(t *testing.T) {
	host := newFakeHost()
	positions := mapStore[position]{}
	host.cleanup = append(host.cleanup, positions.Remove)
	registry := NewRegistry(host, 4)
	RegisterComponent[position](registry, "position", positions, snapshot.Copy[position]{})

	a, b := host.spawn(), host.spawn()
	positions[a] = position{X: 1}
	positions[b] = position{X: 2, Y: 3}
	saved := registry.Save(0)

	positions[a] = position{X: 50}
	delete(positions, b)
	c := host.spawn()
	positions[c] = position{X: 9}
	host.Despawn(a)

	result := registry.Load(0)
	if result.Stats != (ReconcileStats{Reused: 1, Respawned: 1, Despawned: 1}) {
		t.Fatalf("unexpected reconcile stats %+v", result.Stats)
	}
	if _, ok := host.tags[c]; ok {
		t.Fatalf("expected entity spawned after the saved frame to be despawned")
	}
	restoredA, _ := host.entityFor(0)
	if got := positions[restoredA]; got != (position{X: 1}) {
		t.Fatalf("expected placeholder to receive saved position, got %+v", got)
	}
	if got := positions[b]; got != (position{X: 2, Y: 3}) {
		t.Fatalf("expected removed component re-inserted, got %+v", got)
	}
	if len(positions) != 2 {
		t.Fatalf("expected exactly two positions after load, got %v", positions)
	}
	if again := registry.Save(0); again.Checksum != saved.Checksum {
		t.Fatalf("expected identical checksum after load, got %s vs %s", again.Checksum, saved.Checksum)
	}
}

func TestLoadRemovesComponentsAddedLater(t *testing.T) {
	host := newFakeHost()
	positions := mapStore[position]{}
	registry := NewRegistry(host, 4)
	RegisterComponent[position](registry, "position", positions, snapshot.Copy[position]{})

	e := host.spawn()
	registry.Save(0)
	positions[e] = position{X: 1}

	registry.Load(0)
	if _, ok := positions[e]; ok {
		t.Fatalf("expected component added after the saved frame to be removed")
	}
}

func TestIDProviderIsRolledBack(t *testing.T) {
	host := newFakeHost()
	registry := NewRegistry(host, 4)

	host.spawn()
	registry.Save(0)
	first := host.ids.Next()

	registry.Load(0)
	if again := host.ids.Next(); again != first {
		t.Fatalf("expected resimulated spawn to reuse id %s, got %s", first, again)
	}
}

func TestResourcesRestoreAllFourCases(t *testing.T) {
	host := newFakeHost()
	score := &valueStore[int32]{}
	registry := NewRegistry(host, 4)
	RegisterResource[int32](registry, "score", score, snapshot.Copy[int32]{})

	registry.Save(0)
	score.Set(3)
	registry.Save(1)
	score.Set(7)
	registry.Save(2)

	registry.Load(0)
	if _, ok := score.Get(); ok {
		t.Fatalf("expected resource removed when absent at the saved frame")
	}
	registry.Load(0)
	if _, ok := score.Get(); ok {
		t.Fatalf("expected resource to stay absent")
	}
	registry.Load(1)
	if v, ok := score.Get(); !ok || v != 3 {
		t.Fatalf("expected resource inserted with 3, got %d (present=%v)", v, ok)
	}
	score.Set(11)
	registry.Load(1)
	if v, _ := score.Get(); v != 3 {
		t.Fatalf("expected resource overwritten with 3, got %d", v)
	}
}

func TestChecksumTracksStateChanges(t *testing.T) {
	host := newFakeHost()
	positions := mapStore[position]{}
	registry := NewRegistry(host, 8)
	component := RegisterComponent[position](registry, "position", positions, snapshot.Copy[position]{})
	ChecksumComponent(registry, component, nil)

	e := host.spawn()
	positions[e] = position{X: 1}
	first := registry.Save(0)
	second := registry.Save(1)
	if first.Checksum != second.Checksum {
		t.Fatalf("expected unchanged state to hash identically")
	}

	positions[e] = position{X: 2}
	if changed := registry.Save(2); changed.Checksum == first.Checksum {
		t.Fatalf("expected component change to alter the checksum")
	}

	positions[e] = position{X: 1}
	other := host.spawn()
	host.Despawn(other)
	if spawned := registry.Save(3); spawned.Checksum == first.Checksum {
		t.Fatalf("expected the ever-spawned count to alter the checksum")
	}

	if got, ok := registry.Checksum(0); !ok || got != first.Checksum {
		t.Fatalf("expected recorded checksum for frame 0")
	}
}

func TestChecksumIndependentOfHostOrder(t *testing.T) {
	build := func(reverse bool) SaveResult {
		host := newFakeHost()
		positions := mapStore[position]{}
		registry := NewRegistry(host, 2)
		component := RegisterComponent[position](registry, "position", positions, snapshot.Copy[position]{})
		ChecksumComponent(registry, component, nil)
		a, b := host.spawn(), host.spawn()
		positions[a] = position{X: 1}
		positions[b] = position{X: 2}
		if reverse {
			host.order[0], host.order[1] = host.order[1], host.order[0]
		}
		return registry.Save(0)
	}
	if build(false).Checksum != build(true).Checksum {
		t.Fatalf("expected checksum to ignore host iteration order")
	}
}

func TestEntityReferencesAreMapped(t *testing.T) {
	host := newFakeHost()
	parents := mapStore[parent]{}
	registry := NewRegistry(host, 4)
	component := RegisterComponent[parent](registry, "parent", parents, snapshot.Copy[parent]{})
	MapComponentEntities(registry, component)

	root, child := host.spawn(), host.spawn()
	parents[child] = parent{Entity: root}
	registry.Save(0)

	host.Despawn(root)
	delete(parents, child)

	registry.Load(0)
	newRoot, _ := host.entityFor(0)
	if newRoot == root {
		t.Fatalf("expected root to be recreated under a new handle")
	}
	if got := parents[child].Entity; got != newRoot {
		t.Fatalf("expected child to point at recreated root %d, got %d", newRoot, got)
	}
}

func TestLoadOfEvictedFramePanics(t *testing.T) {
	host := newFakeHost()
	registry := NewRegistry(host, 2)
	registry.Save(0)
	registry.Save(1)
	registry.Save(2)

	defer func() {
		err, _ := recover().(error)
		var missing *snapshot.MissingFrameError
		if !errors.As(err, &missing) || missing.Frame != 0 {
			t.Fatalf("expected MissingFrameError for frame 0, got %v", err)
		}
	}()
	registry.Load(0)
}

func TestConfirmAndReset(t *testing.T) {
	host := newFakeHost()
	positions := mapStore[position]{}
	registry := NewRegistry(host, 8)
	component := RegisterComponent[position](registry, "position", positions, snapshot.Copy[position]{})
	for f := 0; f < 5; f++ {
		registry.Save(frameOf(f))
	}
	registry.Confirm(3)
	if _, ok := component.Saved(2); ok {
		t.Fatalf("expected frame 2 discarded after confirming 3")
	}
	if _, ok := component.Saved(3); !ok {
		t.Fatalf("expected confirmed frame to be retained")
	}

	registry.Reset(4)
	if registry.Window() != 4 {
		t.Fatalf("expected window 4, got %d", registry.Window())
	}
	if _, ok := registry.Checksum(4); ok {
		t.Fatalf("expected checksums cleared by reset")
	}
	if got := registry.Kinds(); !reflect.DeepEqual(got, []string{EntityKind, IDsKind, "position"}) {
		t.Fatalf("unexpected kinds %v", got)
	}
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	registry := NewRegistry(newFakeHost(), 2)
	RegisterComponent[position](registry, "position", mapStore[position]{}, snapshot.Copy[position]{})
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on duplicate registration")
		}
	}()
	RegisterComponent[position](registry, "position", mapStore[position]{}, snapshot.Copy[position]{})
}

func frameOf(i int) frame.Frame { return frame.Frame(i) }
