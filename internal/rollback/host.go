package rollback

// Host is the entity store the registry saves from and restores into.
type Host interface {
	// RollbackEntities lists every live entity that carries a rollback ID.
	RollbackEntities() []Tagged
	// SpawnRollback creates an empty entity tagged with id and returns it.
	SpawnRollback(id ID) Entity
	// Despawn destroys entity.
	Despawn(entity Entity)
	// IDs returns the provider new rollback entities draw their IDs from.
	IDs() *IDProvider
}

// ComponentStore attaches values of one component type to entities.
type ComponentStore[C any] interface {
	Get(entity Entity) (C, bool)
	Set(entity Entity, value C)
	Remove(entity Entity)
}

// ResourceStore holds a single optional value of one resource type.
type ResourceStore[R any] interface {
	Get() (R, bool)
	Set(value R)
	Remove()
}
