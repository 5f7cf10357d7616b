package world

import (
	"slices"

	"rewind/internal/rollback"
)

// Components is a table of C values keyed by entity.
type Components[C any] struct {
	world  *World
	values map[rollback.Entity]C
}

// NewComponents registers a new table on w. Despawning an entity removes its
// row from every table.
func NewComponents[C any](w *World) *Components[C] {
	c := &Components[C]{world: w, values: make(map[rollback.Entity]C)}
	w.tables = append(w.tables, c)
	return c
}

func (c *Components[C]) Get(e rollback.Entity) (C, bool) {
	v, ok := c.values[e]
	return v, ok
}

// Set attaches v to e. Setting a component on a dead entity is a no-op.
func (c *Components[C]) Set(e rollback.Entity, v C) {
	if !c.world.alive[e] {
		return
	}
	c.values[e] = v
}

func (c *Components[C]) Remove(e rollback.Entity) {
	delete(c.values, e)
}

// Update applies fn to e's value in place and reports whether e had one.
func (c *Components[C]) Update(e rollback.Entity, fn func(*C)) bool {
	v, ok := c.values[e]
	if !ok {
		return false
	}
	fn(&v)
	c.values[e] = v
	return true
}

// Entities lists the entities that carry this component, in entity order.
func (c *Components[C]) Entities() []rollback.Entity {
	out := make([]rollback.Entity, 0, len(c.values))
	for e := range c.values {
		out = append(out, e)
	}
	slices.Sort(out)
	return out
}

// Each calls fn for every row in entity order.
func (c *Components[C]) Each(fn func(rollback.Entity, C)) {
	for _, e := range c.Entities() {
		fn(e, c.values[e])
	}
}

func (c *Components[C]) Len() int { return len(c.values) }

func (c *Components[C]) remove(e rollback.Entity) { delete(c.values, e) }

func (c *Components[C]) len() int { return len(c.values) }

var _ rollback.ComponentStore[int] = (*Components[int])(nil)

// Resource is a single optional value of type R.
type Resource[R any] struct {
	value   R
	present bool
}

// NewResource returns an absent resource.
func NewResource[R any]() *Resource[R] {
	return &Resource[R]{}
}

func (r *Resource[R]) Get() (R, bool) { return r.value, r.present }

func (r *Resource[R]) Set(v R) {
	r.value = v
	r.present = true
}

func (r *Resource[R]) Remove() {
	var zero R
	r.value = zero
	r.present = false
}

// Update applies fn to the value in place and reports whether it was present.
func (r *Resource[R]) Update(fn func(*R)) bool {
	if !r.present {
		return false
	}
	fn(&r.value)
	return true
}

var _ rollback.ResourceStore[int] = (*Resource[int])(nil)
