package property

import (
	"sort"
	"sync"
)

// Reader gives read access to a set of property values.
type Reader interface {
	// Get returns the named value and whether it is present.
	Get(name string) (Value, bool)

	// All returns every value, ordered by name.
	All() []Value
}

// Map is a Reader that also accepts writes.
type Map interface {
	Reader

	// Put stores v and reports whether it was accepted.
	Put(v Value) bool
}

// Basic is the committed store of a device's properties.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Basic struct {
	mu     sync.RWMutex
	values map[string]Value
}

// NewBasic creates a Basic holding values.
func NewBasic(values ...Value) *Basic {
	b := &Basic{values: make(map[string]Value, len(values))}
	for _, v := range values {
		if v.IsValid() {
			b.values[v.name] = v
		}
	}
	return b
}

// Get returns the named value.
func (b *Basic) Get(name string) (Value, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.values[name]
	return v, ok
}

// All returns a snapshot of every value ordered by name.
func (b *Basic) All() []Value {
	b.mu.RLock()
	out := make([]Value, 0, len(b.values))
	for _, v := range b.values {
		out = append(out, v)
	}
	b.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Put stores v unconditionally. It reports false only for unnamed values.
func (b *Basic) Put(v Value) bool {
	if !v.IsValid() {
		return false
	}
	b.mu.Lock()
	b.values[v.name] = v
	b.mu.Unlock()
	return true
}

// Len returns the number of stored values.
func (b *Basic) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.values)
}

// apply stores values under one lock and returns those that differ from
// what was stored before, in input order.
func (b *Basic) apply(values []Value) []Value {
	b.mu.Lock()
	defer b.mu.Unlock()

	changed := make([]Value, 0, len(values))
	for _, v := range values {
		old, ok := b.values[v.name]
		if ok && old.Equal(v) {
			continue
		}
		b.values[v.name] = v
		changed = append(changed, v)
	}
	return changed
}

// PutAll stores each value through m.Put.
func PutAll(m Map, values ...Value) {
	for _, v := range values {
		m.Put(v)
	}
}

// Bool returns the named bool, false when missing.
func Bool(r Reader, name string) bool {
	v, _ := r.Get(name)
	return v.Bool()
}

// Int returns the named int, 0 when missing.
func Int(r Reader, name string) int {
	v, _ := r.Get(name)
	return v.Int()
}

// Int64 returns the named int64, 0 when missing.
func Int64(r Reader, name string) int64 {
	v, _ := r.Get(name)
	return v.Int64()
}

// Text returns the named string, "" when missing.
func Text(r Reader, name string) string {
	v, _ := r.Get(name)
	return v.Text()
}

// PutBit sets or clears bits in the int64 property name and stores the
// result through m.
func PutBit(m Map, name string, bits int64, set bool) bool {
	cur := Int64(m, name)
	if set {
		cur |= bits
	} else {
		cur &^= bits
	}
	return m.Put(New(name, cur))
}
