package world

import (
	"testing"

	"rewind/internal/frame"
	"rewind/internal/rollback"
	"rewind/internal/snapshot"
)

type position struct {
	X, Y int32
}

func TestDespawnRemovesComponents(t *testing.T) {
	w := New()
	positions := NewComponents[position](w)
	names := NewComponents[string](w)

	e := w.SpawnTagged()
	positions.Set(e, position{X: 1})
	names.Set(e, "box")
	if stats := w.Stats(); stats.Components != 2 || stats.Tagged != 1 {
		t.Fatalf("unexpected stats before despawn: %+v", stats)
	}

	w.Despawn(e)
	if _, ok := positions.Get(e); ok {
		t.Fatalf("expected position to be removed with entity")
	}
	if _, ok := names.Get(e); ok {
		t.Fatalf("expected name to be removed with entity")
	}
	positions.Set(e, position{X: 2})
	if positions.Len() != 0 {
		t.Fatalf("expected set on dead entity to be ignored")
	}
	if stats := w.Stats(); stats.Entities != 0 || stats.Despawns != 1 {
		t.Fatalf("unexpected stats after despawn: %+v", stats)
	}
}

func TestRollbackEntitiesOnlyListsTaggedEntities(t *testing.T) {
	w := New()
	plain := w.Spawn()
	tagged := w.SpawnTagged()
	late := w.Spawn()
	id := w.Tag(late)

	got := w.RollbackEntities()
	if len(got) != 2 {
		t.Fatalf("expected two tagged entities, got %v", got)
	}
	if got[0].Entity != tagged || got[1].Entity != late || got[1].ID != id {
		t.Fatalf("unexpected tagged entities: %v", got)
	}
	if _, ok := w.RollbackID(plain); ok {
		t.Fatalf("plain entity should not carry a rollback id")
	}
	if w.Tag(late) != id {
		t.Fatalf("tagging twice should keep the first id")
	}
	if w.IDs().Count() != 2 {
		t.Fatalf("expected two ids issued, got %d", w.IDs().Count())
	}
}

func TestComponentsIterateInEntityOrder(t *testing.T) {
	w := New()
	values := NewComponents[int](w)
	var entities []rollback.Entity
	for i := 0; i < 4; i++ {
		e := w.Spawn()
		entities = append(entities, e)
		values.Set(e, i*10)
	}
	values.Update(entities[2], func(v *int) { *v++ })

	var seen []int
	values.Each(func(_ rollback.Entity, v int) { seen = append(seen, v) })
	want := []int{0, 10, 21, 30}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("unexpected iteration order: %v", seen)
		}
	}
}

func TestResource(t *testing.T) {
	r := NewResource[int]()
	if _, ok := r.Get(); ok {
		t.Fatalf("new resource should be absent")
	}
	if r.Update(func(v *int) { *v = 1 }) {
		t.Fatalf("update of absent resource should report false")
	}
	r.Set(3)
	r.Update(func(v *int) { *v *= 2 })
	if v, ok := r.Get(); !ok || v != 6 {
		t.Fatalf("unexpected resource value %d (%v)", v, ok)
	}
	r.Remove()
	if _, ok := r.Get(); ok {
		t.Fatalf("removed resource should be absent")
	}
}

func TestRNGIsDeterministicAndRollsBack(t *testing.T) {
	a := NewRNG("seed", "spawn")
	b := NewRNG("seed", "spawn")
	other := NewRNG("seed", "loot")
	if a.Uint64() != b.Uint64() {
		t.Fatalf("same seed and label should produce the same sequence")
	}
	if a.State == other.State {
		t.Fatalf("different labels should produce different states")
	}

	saved := a
	first := a.Intn(100)
	a = saved
	if again := a.Intn(100); again != first {
		t.Fatalf("restored generator diverged: %d != %d", again, first)
	}
	for i := 0; i < 100; i++ {
		if v := a.Range(2, 5); v < 2 || v >= 5 {
			t.Fatalf("range value %v out of bounds", v)
		}
	}
}

func TestWorldRollsBackThroughRegistry(t *testing.T) {
	w := New()
	positions := NewComponents[position](w)
	rng := NewResource[RNG]()
	rng.Set(NewRNG("seed", "world"))

	registry := rollback.NewRegistry(w, 4)
	rollback.ChecksumComponent(registry, rollback.RegisterComponent[position](registry, "position", positions, snapshot.Copy[position]{}), nil)
	rollback.ChecksumResource(registry, rollback.RegisterResource[RNG](registry, "rng", rng, snapshot.Copy[RNG]{}), nil)

	first := w.SpawnTagged()
	positions.Set(first, position{X: 1, Y: 1})
	saved := registry.Save(frame.Frame(0))

	rng.Update(func(r *RNG) { r.Uint64() })
	w.Despawn(first)
	second := w.SpawnTagged()
	positions.Set(second, position{X: 9, Y: 9})

	loaded := registry.Load(frame.Frame(0))
	if loaded.Stats.Respawned != 1 || loaded.Stats.Despawned != 1 {
		t.Fatalf("unexpected reconcile stats: %+v", loaded.Stats)
	}
	if w.Alive(second) {
		t.Fatalf("entity spawned after the saved frame should be gone")
	}
	tagged := w.RollbackEntities()
	if len(tagged) != 1 {
		t.Fatalf("expected one tagged entity after load, got %v", tagged)
	}
	if got, _ := positions.Get(tagged[0].Entity); got != (position{X: 1, Y: 1}) {
		t.Fatalf("position not restored: %+v", got)
	}

	again := registry.Save(frame.Frame(1))
	if again.Checksum != saved.Checksum {
		t.Fatalf("restored state should hash the same: %s != %s", again.Checksum, saved.Checksum)
	}
}
