// Package aspect provides a thread-safe heterogeneous store holding at most
// one value per Go type.
//
// Values are keyed by their static type, so a lookup needs no name:
//
//	aspect.Insert(reg, &Status{})
//	st, ok := aspect.Find[*Status](reg)
//
// Every plain call (Find, Insert, Exchange, ...) takes the registry lock for
// its own duration. The Locked forms accept a [Guard] obtained from
// [Registry.Lock] so that several calls can form one atomic transaction:
//
//	g := reg.Lock()
//	defer g.Unlock()
//	if _, ok, _ := aspect.FindLocked[*Config](reg, g); ok {
//		aspect.InsertLocked(reg, &Cache{}, g)
//	}
//
// The registry lock is not re-entrant. While a goroutine holds a Guard it
// must use the Locked forms on that registry; a plain call would block.
package aspect

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
)

// ///////////////////////////////////////////////
// Sentinel Errors
// ///////////////////////////////////////////////

var (
	// ErrLockOwnership is returned when a Guard bound to one Registry is
	// passed to an operation on another.
	ErrLockOwnership = errors.New("aspect: guard belongs to a different registry")

	// ErrNotFound is returned by [Get] when no value of the requested type
	// is stored.
	ErrNotFound = errors.New("aspect: not found")
)

// ///////////////////////////////////////////////
// Registry
// ///////////////////////////////////////////////

// entry is one stored value. gen is bumped on every write so that
// [Reduce] can detect a concurrent update between read and commit.
type entry struct {
	value any
	gen   uint64
}

// Registry maps a type identity to the single value stored for that type.
// The zero value is ready to use. A Registry must not be copied after first
// use.
type Registry struct {
	mu      sync.Mutex
	entries map[reflect.Type]entry
	gen     uint64
}

// Holder is implemented by *Registry and by any struct that embeds a
// Registry, which lets the generic accessors take an application context
// directly.
type Holder interface {
	registry() *Registry
}

func (r *Registry) registry() *Registry { return r }

// New returns an empty Registry.
func New() *Registry {
	return &Registry{}
}

// keyOf returns the registry key for T.
func keyOf[T any]() reflect.Type {
	return reflect.TypeFor[T]()
}

// put stores v under key. Caller holds r.mu.
func (r *Registry) put(key reflect.Type, v any) {
	if r.entries == nil {
		r.entries = make(map[reflect.Type]entry)
	}
	r.gen++
	r.entries[key] = entry{value: v, gen: r.gen}
}

// Size returns the number of stored values.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Empty reports whether no values are stored.
func (r *Registry) Empty() bool {
	return r.Size() == 0
}

// Clear removes every stored value.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.entries)
}

// Lock acquires the registry lock and returns a held Guard for use with the
// Locked forms. The caller must call [Guard.Unlock].
func (r *Registry) Lock() *Guard {
	r.mu.Lock()
	return &Guard{owner: r, held: true}
}

// Guard returns a Guard bound to r that does not yet hold the lock. The
// first Locked call made with it acquires the lock.
func (r *Registry) Guard() *Guard {
	return &Guard{owner: r}
}

// ///////////////////////////////////////////////
// Guard
// ///////////////////////////////////////////////

// Guard is a lock token for one Registry. A Guard is owned by a single
// goroutine and is not itself safe for concurrent use.
type Guard struct {
	owner *Registry
	held  bool
}

// Lock acquires the owner's lock if the guard does not already hold it.
func (g *Guard) Lock() {
	if g.held {
		return
	}
	g.owner.mu.Lock()
	g.held = true
}

// Unlock releases the owner's lock if held. Calling Unlock on a released
// guard is a no-op.
func (g *Guard) Unlock() {
	if !g.held {
		return
	}
	g.held = false
	g.owner.mu.Unlock()
}

// Held reports whether the guard currently holds the lock.
func (g *Guard) Held() bool {
	return g.held
}

// Owns reports whether the guard is bound to h's registry.
func (g *Guard) Owns(h Holder) bool {
	return g != nil && g.owner == h.registry()
}

// ensure validates that g belongs to r and acquires the lock if needed.
func (g *Guard) ensure(r *Registry) error {
	if g == nil || g.owner != r {
		return ErrLockOwnership
	}
	g.Lock()
	return nil
}

// ///////////////////////////////////////////////
// Internal-Locking Operations
// ///////////////////////////////////////////////

// Find returns the value stored for T, or false if there is none.
func Find[T any](h Holder) (T, bool) {
	r := h.registry()
	r.mu.Lock()
	defer r.mu.Unlock()
	return find[T](r)
}

// Get is like [Find] but reports absence as an error wrapping [ErrNotFound].
func Get[T any](h Holder) (T, error) {
	v, ok := Find[T](h)
	if !ok {
		return v, fmt.Errorf("%w: %s", ErrNotFound, keyOf[T]())
	}
	return v, nil
}

// MustGet is like [Get] but panics when T is absent.
func MustGet[T any](h Holder) T {
	v, err := Get[T](h)
	if err != nil {
		panic(err)
	}
	return v
}

// Count returns 1 if a value is stored for T and 0 otherwise.
func Count[T any](h Holder) int {
	if _, ok := Find[T](h); ok {
		return 1
	}
	return 0
}

// Insert stores v if no value is stored for T. If one already exists it is
// left untouched and returned with true, so a true result means the call was
// a no-op.
func Insert[T any](h Holder, v T) (T, bool) {
	r := h.registry()
	r.mu.Lock()
	defer r.mu.Unlock()
	return insert(r, v)
}

// Exchange stores v unconditionally and returns the value it replaced, if any.
func Exchange[T any](h Holder, v T) (T, bool) {
	r := h.registry()
	r.mu.Lock()
	defer r.mu.Unlock()
	return exchange(r, v)
}

// Erase removes and returns the value stored for T, if any.
func Erase[T any](h Holder) (T, bool) {
	r := h.registry()
	r.mu.Lock()
	defer r.mu.Unlock()
	return erase[T](r)
}

// Reduce behaves like [Insert] when T is absent. When T is present the
// stored value becomes combine(old, v) and old is returned with true.
//
// combine runs without the registry lock held, so it may call back into the
// registry. If another writer changes T in the meantime the update is
// retried, which means combine can run more than once per call and must not
// have side effects.
func Reduce[T any](h Holder, v T, combine func(old, v T) T) (T, bool) {
	r := h.registry()
	key := keyOf[T]()
	for {
		r.mu.Lock()
		e, ok := r.entries[key]
		if !ok {
			r.put(key, v)
			r.mu.Unlock()
			var zero T
			return zero, false
		}
		r.mu.Unlock()

		old, _ := e.value.(T)
		next := combine(old, v)

		r.mu.Lock()
		if cur, ok := r.entries[key]; ok && cur.gen == e.gen {
			r.put(key, next)
			r.mu.Unlock()
			return old, true
		}
		r.mu.Unlock()
	}
}

// ///////////////////////////////////////////////
// External-Locking Operations
// ///////////////////////////////////////////////

// FindLocked is [Find] under a caller-held guard.
func FindLocked[T any](h Holder, g *Guard) (T, bool, error) {
	r := h.registry()
	if err := g.ensure(r); err != nil {
		var zero T
		return zero, false, err
	}
	v, ok := find[T](r)
	return v, ok, nil
}

// CountLocked is [Count] under a caller-held guard.
func CountLocked[T any](h Holder, g *Guard) (int, error) {
	_, ok, err := FindLocked[T](h, g)
	if err != nil || !ok {
		return 0, err
	}
	return 1, nil
}

// InsertLocked is [Insert] under a caller-held guard.
func InsertLocked[T any](h Holder, v T, g *Guard) (T, bool, error) {
	r := h.registry()
	if err := g.ensure(r); err != nil {
		var zero T
		return zero, false, err
	}
	prev, ok := insert(r, v)
	return prev, ok, nil
}

// ExchangeLocked is [Exchange] under a caller-held guard.
func ExchangeLocked[T any](h Holder, v T, g *Guard) (T, bool, error) {
	r := h.registry()
	if err := g.ensure(r); err != nil {
		var zero T
		return zero, false, err
	}
	prev, ok := exchange(r, v)
	return prev, ok, nil
}

// EraseLocked is [Erase] under a caller-held guard.
func EraseLocked[T any](h Holder, g *Guard) (T, bool, error) {
	r := h.registry()
	if err := g.ensure(r); err != nil {
		var zero T
		return zero, false, err
	}
	prev, ok := erase[T](r)
	return prev, ok, nil
}

// ReduceLocked is [Reduce] under a caller-held guard. combine runs exactly
// once, with the lock held, so it must not use the plain registry calls.
func ReduceLocked[T any](h Holder, v T, combine func(old, v T) T, g *Guard) (T, bool, error) {
	r := h.registry()
	var zero T
	if err := g.ensure(r); err != nil {
		return zero, false, err
	}
	key := keyOf[T]()
	e, ok := r.entries[key]
	if !ok {
		r.put(key, v)
		return zero, false, nil
	}
	old, _ := e.value.(T)
	r.put(key, combine(old, v))
	return old, true, nil
}

// ///////////////////////////////////////////////
// Helpers (caller holds r.mu)
// ///////////////////////////////////////////////

func find[T any](r *Registry) (T, bool) {
	e, ok := r.entries[keyOf[T]()]
	if !ok {
		var zero T
		return zero, false
	}
	// A nil stored under an interface type fails the assertion; it is
	// still present and reads back as the zero value.
	v, _ := e.value.(T)
	return v, true
}

func insert[T any](r *Registry, v T) (T, bool) {
	if prev, ok := find[T](r); ok {
		return prev, true
	}
	r.put(keyOf[T](), v)
	var zero T
	return zero, false
}

func exchange[T any](r *Registry, v T) (T, bool) {
	prev, ok := find[T](r)
	r.put(keyOf[T](), v)
	return prev, ok
}

func erase[T any](r *Registry) (T, bool) {
	prev, ok := find[T](r)
	if ok {
		delete(r.entries, keyOf[T]())
	}
	return prev, ok
}
