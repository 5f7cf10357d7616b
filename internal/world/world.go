// Package world is an in-memory entity store implementing the rollback host
// contracts. It keeps rollback-tagged entities, typed component tables and
// typed resources, all owned by the goroutine that drives the simulation.
package world

import (
	"fmt"
	"slices"

	"rewind/internal/rollback"
)

// World holds every entity and the tables registered against it.
type World struct {
	next     rollback.Entity
	alive    map[rollback.Entity]bool
	tags     map[rollback.Entity]rollback.ID
	ids      rollback.IDProvider
	tables   []table
	despawns uint64
}

type table interface {
	remove(rollback.Entity)
	len() int
}

// New returns an empty world.
func New() *World {
	return &World{
		next:  1,
		alive: make(map[rollback.Entity]bool),
		tags:  make(map[rollback.Entity]rollback.ID),
	}
}

// Spawn creates an entity that does not take part in rollback.
func (w *World) Spawn() rollback.Entity {
	e := w.next
	w.next++
	w.alive[e] = true
	return e
}

// SpawnTagged creates an entity with a fresh rollback ID.
func (w *World) SpawnTagged() rollback.Entity {
	return w.SpawnRollback(w.ids.Next())
}

// SpawnRollback creates an entity carrying id. It is called directly by load
// reconciliation to recreate entities that were despawned since the loaded
// frame.
func (w *World) SpawnRollback(id rollback.ID) rollback.Entity {
	e := w.Spawn()
	w.tags[e] = id
	return e
}

// Tag attaches a fresh rollback ID to an existing entity.
func (w *World) Tag(e rollback.Entity) rollback.ID {
	if !w.alive[e] {
		panic(fmt.Sprintf("world: tag of dead entity %d", e))
	}
	if id, ok := w.tags[e]; ok {
		return id
	}
	id := w.ids.Next()
	w.tags[e] = id
	return id
}

// Despawn removes e and every component attached to it.
func (w *World) Despawn(e rollback.Entity) {
	if !w.alive[e] {
		return
	}
	for _, t := range w.tables {
		t.remove(e)
	}
	delete(w.alive, e)
	delete(w.tags, e)
	w.despawns++
}

// Alive reports whether e exists.
func (w *World) Alive(e rollback.Entity) bool {
	return w.alive[e]
}

// Len is the number of live entities, tagged or not.
func (w *World) Len() int {
	return len(w.alive)
}

// RollbackID returns the rollback ID of e, if it has one.
func (w *World) RollbackID(e rollback.Entity) (rollback.ID, bool) {
	id, ok := w.tags[e]
	return id, ok
}

// RollbackEntities lists every tagged entity in entity order.
func (w *World) RollbackEntities() []rollback.Tagged {
	out := make([]rollback.Tagged, 0, len(w.tags))
	for e, id := range w.tags {
		out = append(out, rollback.Tagged{ID: id, Entity: e})
	}
	slices.SortFunc(out, func(a, b rollback.Tagged) int {
		switch {
		case a.Entity < b.Entity:
			return -1
		case a.Entity > b.Entity:
			return 1
		default:
			return 0
		}
	})
	return out
}

// IDs exposes the rollback ID allocator so the registry can snapshot it.
func (w *World) IDs() *rollback.IDProvider {
	return &w.ids
}

// Stats reports table and entity counts.
func (w *World) Stats() Stats {
	stats := Stats{
		Entities: len(w.alive),
		Tagged:   len(w.tags),
		Despawns: w.despawns,
	}
	for _, t := range w.tables {
		stats.Components += t.len()
	}
	return stats
}

// Stats summarises the world's contents.
type Stats struct {
	Entities   int
	Tagged     int
	Components int
	Despawns   uint64
}

var _ rollback.Host = (*World)(nil)
