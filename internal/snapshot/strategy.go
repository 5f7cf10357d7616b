package snapshot

import (
	"fmt"
	"reflect"
	"sync"
)

// Strategy duplicates a single value into or out of a history. Which strategy
// a state kind uses is decided when the kind is registered.
type Strategy[V any] interface {
	Duplicate(value V) V
}

// Copy duplicates by plain assignment. Only suitable for values that hold no
// pointers, slices or maps.
type Copy[V any] struct{}

func (Copy[V]) Duplicate(value V) V { return value }

// Cloner is implemented by values that know how to deep-copy themselves.
type Cloner[V any] interface {
	Clone() V
}

// Clone duplicates through the value's own Clone method.
type Clone[V Cloner[V]] struct{}

func (Clone[V]) Duplicate(value V) V { return value.Clone() }

// CloneFunc duplicates with an arbitrary function.
type CloneFunc[V any] func(V) V

func (f CloneFunc[V]) Duplicate(value V) V { return f(value) }

// Duplicator is implemented by dynamically typed values that can copy
// themselves without the registry knowing their type.
type Duplicator interface {
	DuplicateValue() any
}

// UnregisteredTypeError is the panic value raised when Reflect meets a value it
// has no way to duplicate safely.
type UnregisteredTypeError struct {
	Type reflect.Type
}

func (e *UnregisteredTypeError) Error() string {
	return fmt.Sprintf("snapshot: no duplicator registered for %s and it is not pointer-free", e.Type)
}

// TypeRegistry maps concrete types to duplication functions for state kinds
// whose values are only known through an interface.
type TypeRegistry struct {
	mu    sync.RWMutex
	funcs map[reflect.Type]func(any) any
	plain map[reflect.Type]bool
}

// NewTypeRegistry returns an empty registry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{
		funcs: make(map[reflect.Type]func(any) any),
		plain: make(map[reflect.Type]bool),
	}
}

// RegisterType installs dup as the duplicator for values of type T.
// Registered types never go through the reflection fallback.
func RegisterType[T any](r *TypeRegistry, dup func(T) T) {
	typ := reflect.TypeFor[T]()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[typ] = func(value any) any { return dup(value.(T)) }
}

// RegisterStrategy registers T with one of the typed strategies.
func RegisterStrategy[T any](r *TypeRegistry, strategy Strategy[T]) {
	RegisterType(r, strategy.Duplicate)
}

// RegisterClone registers T to be duplicated through its Clone method.
func RegisterClone[T Cloner[T]](r *TypeRegistry) {
	RegisterType(r, func(value T) T { return value.Clone() })
}

// RegisterCopy registers T to be duplicated by assignment. It panics if T
// holds pointers, slices, maps or interfaces.
func RegisterCopy[T any](r *TypeRegistry) {
	typ := reflect.TypeFor[T]()
	if !pointerFree(typ) {
		panic(fmt.Sprintf("snapshot: %s holds references and cannot be copied by assignment", typ))
	}
	RegisterType(r, func(value T) T { return value })
}

// Registered reports whether a duplicator exists for typ.
func (r *TypeRegistry) Registered(typ reflect.Type) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.funcs[typ]
	return ok
}

// Duplicate copies value with its registered duplicator. Unregistered values
// are copied through their Duplicator method, and failing that by assignment
// once reflection shows the type holds no references.
func (r *TypeRegistry) Duplicate(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	typ := reflect.TypeOf(value)

	r.mu.RLock()
	dup, ok := r.funcs[typ]
	r.mu.RUnlock()
	if ok {
		return dup(value), nil
	}
	if duplicator, ok := value.(Duplicator); ok {
		return duplicator.DuplicateValue(), nil
	}
	if r.pointerFree(typ) {
		return value, nil
	}
	return nil, &UnregisteredTypeError{Type: typ}
}

func (r *TypeRegistry) pointerFree(typ reflect.Type) bool {
	r.mu.RLock()
	known, ok := r.plain[typ]
	r.mu.RUnlock()
	if ok {
		return known
	}
	known = pointerFree(typ)
	r.mu.Lock()
	r.plain[typ] = known
	r.mu.Unlock()
	return known
}

func pointerFree(typ reflect.Type) bool {
	switch typ.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128,
		reflect.String:
		return true
	case reflect.Array:
		return pointerFree(typ.Elem())
	case reflect.Struct:
		for i := 0; i < typ.NumField(); i++ {
			if !pointerFree(typ.Field(i).Type) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Reflect duplicates values whose concrete type is only known at run time,
// typically host-registered kinds stored behind an interface. A value the
// registry cannot duplicate is a registration bug and panics with an
// *UnregisteredTypeError.
type Reflect[V any] struct {
	Registry *TypeRegistry
}

// NewReflect returns a Reflect strategy backed by registry.
func NewReflect[V any](registry *TypeRegistry) Reflect[V] {
	if registry == nil {
		registry = NewTypeRegistry()
	}
	return Reflect[V]{Registry: registry}
}

func (s Reflect[V]) Duplicate(value V) V {
	copied, err := s.Registry.Duplicate(value)
	if err != nil {
		panic(err)
	}
	if copied == nil {
		var zero V
		return zero
	}
	return copied.(V)
}

// Optional holds a value that may be absent, such as a resource that was not
// present when the frame was saved.
type Optional[V any] struct {
	Value   V
	Present bool
}

// Some wraps a present value.
func Some[V any](value V) Optional[V] {
	return Optional[V]{Value: value, Present: true}
}

// None returns an absent value.
func None[V any]() Optional[V] {
	return Optional[V]{}
}

// DuplicateMap copies every element of m with strategy into a new map.
func DuplicateMap[K comparable, V any](m map[K]V, strategy Strategy[V]) map[K]V {
	out := make(map[K]V, len(m))
	for key, value := range m {
		out[key] = strategy.Duplicate(value)
	}
	return out
}
