package discovery

import (
	"time"

	"github.com/nerrad567/gray-logic-homenet/internal/eventloop"
)

const (
	// ScanInterval is the minimum spacing between two pings.
	ScanInterval = 200 * time.Millisecond

	// FinishDelay is the grace period between the last ping and the
	// finished event.
	FinishDelay = time.Second
)

// Candidate is a device that may or may not be present.
type Candidate interface {
	// UpdateTime returns the zero time until the device has reported.
	UpdateTime() time.Time

	// RequestUpdate pings the device.
	RequestUpdate()
}

// Callbacks receive scan events. Nil fields are ignored.
type Callbacks[C Candidate] struct {
	Started    func()
	Discovered func(c C)
	Finished   func()
}

// PingFilter decides whether next should be pinged given the key of the
// previous ping. hasPrev is false before the first ping of a scan.
type PingFilter[K comparable] func(prev K, hasPrev bool, next K) bool

// Scanner runs one discovery scan at a time.
type Scanner[K comparable, C Candidate] struct {
	queue  eventloop.Queue
	keyOf  func(C) K
	filter PingFilter[K]
	cb     Callbacks[C]

	pending  map[K]C
	staging  []C
	stopTime time.Time

	running  bool
	started  bool
	lastKey  K
	hasLast  bool
	lastPing time.Time

	runTimer   eventloop.Timer
	cleanTimer eventloop.Timer
}

// New creates a Scanner.
//
// Parameters:
//   - queue: Event loop driving the scan
//   - keyOf: Identity of a candidate, used to match responses
func New[K comparable, C Candidate](queue eventloop.Queue, keyOf func(C) K) *Scanner[K, C] {
	return &Scanner[K, C]{
		queue:   queue,
		keyOf:   keyOf,
		pending: make(map[K]C),
	}
}

// SetCallbacks replaces the event callbacks.
func (s *Scanner[K, C]) SetCallbacks(cb Callbacks[C]) { s.cb = cb }

// SetPingFilter installs a filter that can skip redundant pings.
func (s *Scanner[K, C]) SetPingFilter(f PingFilter[K]) { s.filter = f }

// Start begins a scan over candidates, ending any scan in progress.
//
// Parameters:
//   - timeout: Deadline for the scan; <= 0 walks the candidates once
//   - candidates: Devices to look for, pinged in order
//
// Returns:
//   - error: ErrNoCandidates if candidates is empty
func (s *Scanner[K, C]) Start(timeout time.Duration, candidates []C) error {
	if len(candidates) == 0 {
		return ErrNoCandidates
	}
	s.cleanUp()

	for _, c := range candidates {
		s.pending[s.keyOf(c)] = c
	}
	s.staging = append(s.staging[:0], candidates...)

	if timeout > 0 {
		s.stopTime = s.queue.Now().Add(timeout)
	} else {
		s.stopTime = time.Time{}
	}
	s.hasLast = false

	s.reschedule()
	s.running = true
	return nil
}

// Stop ends the scan now. The finished event fires if the scan had
// started.
func (s *Scanner[K, C]) Stop() { s.cleanUp() }

// Running reports whether a scan is in progress.
func (s *Scanner[K, C]) Running() bool { return s.running }

// Pending returns the candidate registered under k, if it has not been
// discovered yet.
func (s *Scanner[K, C]) Pending(k K) (C, bool) {
	c, ok := s.pending[k]
	return c, ok
}

// Observe records a characteristic response parsed by candidate k. The
// candidate leaves the pending set whatever the outcome, since the peer
// has answered; only a detected peer fires the discovered event.
func (s *Scanner[K, C]) Observe(k K, detected bool) {
	c, ok := s.pending[k]
	if !ok {
		return
	}
	delete(s.pending, k)
	if !detected {
		return
	}
	if fn := s.cb.Discovered; fn != nil {
		s.queue.Post(func() { fn(c) })
	}
}

func (s *Scanner[K, C]) run() {
	s.runTimer = nil

	if len(s.staging) > 0 {
		c := s.staging[0]
		s.staging = s.staging[1:]

		_, stillPending := s.pending[s.keyOf(c)]
		if stillPending && c.UpdateTime().IsZero() {
			s.ping(c)
			if !s.stopTime.IsZero() {
				s.staging = append(s.staging, c)
			}
		}
	}

	if s.shouldRun() {
		s.reschedule()
		return
	}
	s.cleanTimer = s.queue.AfterFunc(FinishDelay, s.cleanUp)
}

func (s *Scanner[K, C]) shouldRun() bool {
	if len(s.staging) == 0 || len(s.pending) == 0 {
		return false
	}
	if !s.stopTime.IsZero() && !s.queue.Now().Before(s.stopTime) {
		return false
	}
	return true
}

func (s *Scanner[K, C]) ping(c C) {
	k := s.keyOf(c)
	if s.filter != nil && !s.filter(s.lastKey, s.hasLast, k) {
		return
	}
	c.RequestUpdate()
	s.lastKey, s.hasLast = k, true
	s.lastPing = s.queue.Now()
}

func (s *Scanner[K, C]) reschedule() {
	if !s.started {
		s.started = true
		if fn := s.cb.Started; fn != nil {
			s.queue.Post(fn)
		}
	}

	var delay time.Duration
	if !s.lastPing.IsZero() {
		elapsed := s.queue.Now().Sub(s.lastPing)
		if elapsed < 0 {
			elapsed = -elapsed
		}
		delay = min(ScanInterval-elapsed, ScanInterval)
	}
	delay = max(delay, 0)

	s.runTimer = s.queue.AfterFunc(delay, s.run)
}

func (s *Scanner[K, C]) cleanUp() {
	if s.runTimer != nil {
		s.runTimer.Stop()
		s.runTimer = nil
	}
	if s.cleanTimer != nil {
		s.cleanTimer.Stop()
		s.cleanTimer = nil
	}
	clear(s.pending)
	s.staging = s.staging[:0]
	s.lastPing = time.Time{}

	if s.started {
		s.started = false
		if fn := s.cb.Finished; fn != nil {
			s.queue.Post(fn)
		}
	}
	s.running = false
}
