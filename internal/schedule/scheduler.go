package schedule

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/nerrad567/gray-logic-homenet/internal/eventloop"
)

// Infinite as RepeatCount repeats a schedule until it is cancelled.
const Infinite = 0

// Schedule is one frame plus its repeat policy.
//
// Fields must not be changed after the schedule is installed.
type Schedule struct {
	// Frame is written verbatim on every send.
	Frame []byte

	// RepeatCount is the number of repeats after the first send, or
	// Infinite.
	RepeatCount int

	// RepeatInterval is the delay between sends.
	RepeatInterval time.Duration

	// AllowSameRx lets identical responses through FilterRx.
	AllowSameRx bool

	// MatchRx reports whether a received frame answers this schedule.
	// Nil matches nothing.
	MatchRx func(rx []byte) bool

	// OnExit fires once when the schedule ends for any reason.
	OnExit func(s *Schedule)

	// OnError fires when a send fails, before OnExit.
	OnError func(s *Schedule, code ErrorCode)
}

type entry struct {
	timer  eventloop.Timer
	sent   int
	lastRx []byte
}

// Logger interface for optional logging support.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Scheduler owns every active Schedule on one stream.
type Scheduler struct {
	queue  eventloop.Queue
	w      io.Writer
	active map[*Schedule]*entry
	logger Logger
}

// New creates a Scheduler. Attach a writer before scheduling.
func New(queue eventloop.Queue) *Scheduler {
	return &Scheduler{
		queue:  queue,
		active: make(map[*Schedule]*entry),
	}
}

// SetLogger sets the logger for write failures.
func (s *Scheduler) SetLogger(l Logger) { s.logger = l }

// Attach sets the stream frames are written to.
func (s *Scheduler) Attach(w io.Writer) { s.w = w }

// Detach removes the stream. Every active schedule is torn down with
// ErrorDetached followed by its exit callback.
func (s *Scheduler) Detach() {
	s.w = nil
	for _, sc := range s.installed() {
		s.teardown(sc, ErrorDetached)
	}
}

// Attached reports whether a stream is attached.
func (s *Scheduler) Attached() bool { return s.w != nil }

// Send writes frame once, outside any schedule.
func (s *Scheduler) Send(frame []byte) error {
	if s.w == nil {
		return ErrNotAttached
	}
	if _, err := s.w.Write(frame); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// Schedule installs sc. The first send happens on the next loop turn.
//
// Parameters:
//   - sc: Schedule to install; the pointer is its identity
//
// Returns:
//   - error: ErrNotAttached, ErrAlreadyScheduled or ErrInvalidSchedule
func (s *Scheduler) Schedule(sc *Schedule) error {
	if s.w == nil {
		return ErrNotAttached
	}
	if sc == nil || len(sc.Frame) == 0 || sc.RepeatCount < 0 {
		return ErrInvalidSchedule
	}
	if sc.RepeatCount == Infinite && sc.RepeatInterval <= 0 {
		return fmt.Errorf("%w: infinite repeat needs an interval", ErrInvalidSchedule)
	}
	if _, ok := s.active[sc]; ok {
		return ErrAlreadyScheduled
	}

	e := &entry{}
	s.active[sc] = e
	e.timer = s.queue.AfterFunc(0, func() { s.fire(sc) })
	return nil
}

// Cancel ends sc and fires its exit callback. Cancelling a schedule that is
// not active is a no-op.
func (s *Scheduler) Cancel(sc *Schedule) {
	e, ok := s.active[sc]
	if !ok {
		return
	}
	s.finish(sc, e)
}

// CancelAll ends every schedule active at the time of the call. Schedules
// installed by the exit callbacks it triggers stay active.
func (s *Scheduler) CancelAll() {
	for _, sc := range s.installed() {
		s.Cancel(sc)
	}
}

// installed snapshots the active schedules, since callbacks run during a
// sweep may add or remove entries.
func (s *Scheduler) installed() []*Schedule {
	out := make([]*Schedule, 0, len(s.active))
	for sc := range s.active {
		out = append(out, sc)
	}
	return out
}

// Active reports whether sc is installed.
func (s *Scheduler) Active(sc *Schedule) bool {
	_, ok := s.active[sc]
	return ok
}

// Len returns the number of active schedules.
func (s *Scheduler) Len() int { return len(s.active) }

// FilterRx reports whether a received frame should be processed. A frame
// matching an active schedule is suppressed when it repeats that
// schedule's previous response and the schedule does not allow same
// responses.
func (s *Scheduler) FilterRx(rx []byte) bool {
	deliver := true
	for sc, e := range s.active {
		if sc.MatchRx == nil || !sc.MatchRx(rx) {
			continue
		}
		if !sc.AllowSameRx && e.lastRx != nil && bytes.Equal(e.lastRx, rx) {
			deliver = false
			continue
		}
		e.lastRx = bytes.Clone(rx)
	}
	return deliver
}

func (s *Scheduler) fire(sc *Schedule) {
	e, ok := s.active[sc]
	if !ok {
		return
	}

	if s.w == nil {
		s.teardown(sc, ErrorDetached)
		return
	}
	if _, err := s.w.Write(sc.Frame); err != nil {
		if s.logger != nil {
			s.logger.Warn("scheduled write failed", "error", err)
		}
		s.teardown(sc, ErrorWriteFailed)
		return
	}

	e.sent++
	if sc.RepeatCount != Infinite && e.sent > sc.RepeatCount {
		s.finish(sc, e)
		return
	}
	e.timer = s.queue.AfterFunc(sc.RepeatInterval, func() { s.fire(sc) })
}

func (s *Scheduler) teardown(sc *Schedule, code ErrorCode) {
	e, ok := s.active[sc]
	if !ok {
		return
	}
	if sc.OnError != nil {
		sc.OnError(sc, code)
		// The callback may already have cancelled sc.
		if _, still := s.active[sc]; !still {
			return
		}
	}
	s.finish(sc, e)
}

// finish removes sc before calling OnExit so the callback may install a
// replacement.
func (s *Scheduler) finish(sc *Schedule, e *entry) {
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(s.active, sc)
	if sc.OnExit != nil {
		sc.OnExit(sc)
	}
}
