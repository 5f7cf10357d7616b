package rollback

import (
	"fmt"
	"slices"
)

// EntityMap translates entity handles captured at a saved frame into the
// handles that represent the same rollback entities after a load.
type EntityMap map[Entity]Entity

// Lookup returns the current handle for historical, if the entity takes part
// in rollback.
func (m EntityMap) Lookup(historical Entity) (Entity, bool) {
	current, ok := m[historical]
	return current, ok
}

// Map returns the current handle for historical, or historical itself when the
// entity is not tracked by rollback.
func (m EntityMap) Map(historical Entity) Entity {
	if current, ok := m[historical]; ok {
		return current
	}
	return historical
}

// ReconcileStats counts what a reconciliation did to the live entity set.
type ReconcileStats struct {
	Reused    int
	Respawned int
	Despawned int
}

// Reconcile makes the host's live rollback entities match historical, the
// ID to entity set captured at the frame being loaded. Entities present in
// both sets are reused in place, entities only in historical are recreated as
// empty placeholders, and entities only alive now are despawned.
//
// The returned map covers every historical entity. Its second result lists the
// live set after reconciliation, ordered by ID.
func Reconcile(host Host, historical map[ID]Entity) (EntityMap, []Tagged, ReconcileStats) {
	var stats ReconcileStats

	live := make(map[ID]Entity)
	for _, tagged := range host.RollbackEntities() {
		if prior, dup := live[tagged.ID]; dup {
			panic(fmt.Sprintf("rollback: id %s carried by entities %d and %d", tagged.ID, prior, tagged.Entity))
		}
		live[tagged.ID] = tagged.Entity
	}

	ids := make([]ID, 0, len(live)+len(historical))
	for id := range live {
		ids = append(ids, id)
	}
	for id := range historical {
		if _, ok := live[id]; !ok {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)

	entities := make(EntityMap, len(historical))
	after := make([]Tagged, 0, len(historical))
	for _, id := range ids {
		old, wasAlive := historical[id]
		current, isAlive := live[id]
		switch {
		case wasAlive && isAlive:
			entities[old] = current
			after = append(after, Tagged{ID: id, Entity: current})
			stats.Reused++
		case wasAlive:
			placeholder := host.SpawnRollback(id)
			entities[old] = placeholder
			after = append(after, Tagged{ID: id, Entity: placeholder})
			stats.Respawned++
		case isAlive:
			host.Despawn(current)
			stats.Despawned++
		default:
			panic(fmt.Sprintf("rollback: id %s neither live nor saved", id))
		}
	}
	return entities, after, stats
}

// EntityMapper is implemented by component values that hold entity handles.
// After a load the restored value is passed through MapEntities so its
// references point at the current handles.
type EntityMapper[C any] interface {
	MapEntities(entities EntityMap) C
}
