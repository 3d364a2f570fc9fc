package property

import (
	"sort"
	"sync"
)

// Change pairs a staged value with the committed value it would replace.
// Original is the zero Value when the property did not exist before.
type Change struct {
	Original Value
	Staged   Value
}

// Staged records would-be values over a Basic until Commit.
//
// By default a Put that equals the currently visible value is dropped; a view
// created with allowSame stages it anyway, which setters need so that a task
// sees every requested name even when nothing changes.
type Staged struct {
	base      *Basic
	allowSame bool

	mu     sync.Mutex
	staged map[string]Value
	order  []string
}

// NewStaged creates a staged view over base.
func NewStaged(base *Basic, allowSame bool) *Staged {
	return &Staged{
		base:      base,
		allowSame: allowSame,
		staged:    make(map[string]Value),
	}
}

// Base returns the committed store underneath this view.
func (s *Staged) Base() *Basic { return s.base }

// Get returns the staged value if one exists, the committed one otherwise.
func (s *Staged) Get(name string) (Value, bool) {
	s.mu.Lock()
	v, ok := s.staged[name]
	s.mu.Unlock()
	if ok {
		return v, true
	}
	return s.base.Get(name)
}

// All returns committed values overlaid with staged ones, ordered by name.
func (s *Staged) All() []Value {
	merged := make(map[string]Value)
	for _, v := range s.base.All() {
		merged[v.name] = v
	}
	s.mu.Lock()
	for name, v := range s.staged {
		merged[name] = v
	}
	s.mu.Unlock()

	out := make([]Value, 0, len(merged))
	for _, v := range merged {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Put stages v. A value whose type differs from the visible value of the
// same name is rejected.
func (s *Staged) Put(v Value) bool {
	if !v.IsValid() {
		return false
	}
	cur, ok := s.Get(v.name)
	if ok && cur.value != nil && v.value != nil && !sameType(cur, v) {
		return false
	}
	if !s.allowSame && ok && cur.Equal(v) {
		return false
	}

	s.mu.Lock()
	if _, exists := s.staged[v.name]; !exists {
		s.order = append(s.order, v.name)
	}
	s.staged[v.name] = v
	s.mu.Unlock()
	return true
}

// IsStaging reports whether any value is staged.
func (s *Staged) IsStaging() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.staged) > 0
}

// Staging returns the staged values in staging order.
func (s *Staged) Staging() []Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Value, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.staged[name])
	}
	return out
}

// Changes returns the staged values that differ from their committed
// originals, in staging order.
func (s *Staged) Changes() []Change {
	staged := s.Staging()
	out := make([]Change, 0, len(staged))
	for _, v := range staged {
		orig, ok := s.base.Get(v.name)
		if ok && orig.Equal(v) {
			continue
		}
		out = append(out, Change{Original: orig, Staged: v})
	}
	return out
}

// Commit applies every staged value to the base and clears the staging
// area. It returns the values that actually differ from what was committed
// before, in staging order.
func (s *Staged) Commit() []Value {
	s.mu.Lock()
	pending := make([]Value, 0, len(s.order))
	for _, name := range s.order {
		pending = append(pending, s.staged[name])
	}
	s.staged = make(map[string]Value)
	s.order = nil
	s.mu.Unlock()

	if len(pending) == 0 {
		return nil
	}
	return s.base.apply(pending)
}

// ClearStaged drops every staged value without committing.
func (s *Staged) ClearStaged() {
	s.mu.Lock()
	s.staged = make(map[string]Value)
	s.order = nil
	s.mu.Unlock()
}
