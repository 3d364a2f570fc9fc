package eventloop

import (
	"sort"
	"sync"
	"time"
)

// Manual is a Queue driven explicitly by the caller, with a fake clock.
//
// Thread Safety:
//   - Post and AfterFunc may be called from any goroutine; RunPending and
//     Advance must be called from one goroutine only.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	pending []func()
	timers  []*manualTimer
	seq     int
}

// NewManual creates a Manual queue whose clock starts at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Post queues fn until the next RunPending or Advance.
func (m *Manual) Post(fn func()) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.pending = append(m.pending, fn)
	m.mu.Unlock()
}

// AfterFunc schedules fn at Now()+d.
func (m *Manual) AfterFunc(d time.Duration, fn func()) Timer {
	if d < 0 {
		d = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &manualTimer{q: m, at: m.now.Add(d), seq: m.seq, fn: fn}
	m.timers = append(m.timers, t)
	return t
}

// Now returns the fake clock.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// RunPending runs queued tasks, including tasks they queue, until none are
// left. It does not move the clock.
func (m *Manual) RunPending() int {
	ran := 0
	for {
		m.mu.Lock()
		batch := m.pending
		m.pending = nil
		m.mu.Unlock()
		if len(batch) == 0 {
			return ran
		}
		for _, fn := range batch {
			fn()
			ran++
		}
	}
}

// Advance moves the clock forward by d, firing due timers in time order and
// draining the queue after each one.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	m.RunPending()
	for {
		t := m.nextDue(target)
		if t == nil {
			break
		}
		m.mu.Lock()
		if t.at.After(m.now) {
			m.now = t.at
		}
		m.mu.Unlock()
		t.fn()
		m.RunPending()
	}

	m.mu.Lock()
	m.now = target
	m.mu.Unlock()
}

// PendingTimers returns how many timers are armed.
func (m *Manual) PendingTimers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// nextDue removes and returns the earliest timer due at or before target.
func (m *Manual) nextDue(target time.Time) *manualTimer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.timers) == 0 {
		return nil
	}
	sort.Slice(m.timers, func(i, j int) bool {
		if m.timers[i].at.Equal(m.timers[j].at) {
			return m.timers[i].seq < m.timers[j].seq
		}
		return m.timers[i].at.Before(m.timers[j].at)
	})
	t := m.timers[0]
	if t.at.After(target) {
		return nil
	}
	m.timers = m.timers[1:]
	return t
}

type manualTimer struct {
	q   *Manual
	at  time.Time
	seq int
	fn  func()
}

func (t *manualTimer) Stop() bool {
	t.q.mu.Lock()
	defer t.q.mu.Unlock()
	for i, other := range t.q.timers {
		if other == t {
			t.q.timers = append(t.q.timers[:i], t.q.timers[i+1:]...)
			return true
		}
	}
	return false
}
