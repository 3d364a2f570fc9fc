package discovery

import (
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-homenet/internal/eventloop"
)

type fakeCandidate struct {
	id      int
	group   int
	pings   int
	updated time.Time
}

func (f *fakeCandidate) UpdateTime() time.Time { return f.updated }
func (f *fakeCandidate) RequestUpdate()        { f.pings++ }

type recorder struct {
	started, finished int
	discovered        []int
}

func newTestScanner(r *recorder) (*Scanner[int, *fakeCandidate], *eventloop.Manual) {
	q := eventloop.NewManual(time.Unix(0, 0))
	s := New[int, *fakeCandidate](q, func(c *fakeCandidate) int { return c.id })
	s.SetCallbacks(Callbacks[*fakeCandidate]{
		Started:    func() { r.started++ },
		Discovered: func(c *fakeCandidate) { r.discovered = append(r.discovered, c.id) },
		Finished:   func() { r.finished++ },
	})
	return s, q
}

func TestSinglePassPingsEachCandidateOnce(t *testing.T) {
	r := &recorder{}
	s, q := newTestScanner(r)
	cands := []*fakeCandidate{{id: 1}, {id: 2}, {id: 3}}

	if err := s.Start(0, cands); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	q.Advance(ScanInterval)
	if cands[0].pings != 1 || cands[1].pings != 1 || cands[2].pings != 0 {
		t.Errorf("pings after one interval = %d %d %d, want 1 1 0", cands[0].pings, cands[1].pings, cands[2].pings)
	}

	q.Advance(ScanInterval)
	if !s.Running() {
		t.Error("Running() = false before the finish delay")
	}

	q.Advance(FinishDelay)
	for _, c := range cands {
		if c.pings != 1 {
			t.Errorf("candidate %d pinged %d times, want 1", c.id, c.pings)
		}
	}
	if r.started != 1 || r.finished != 1 {
		t.Errorf("started = %d, finished = %d, want 1 each", r.started, r.finished)
	}
	if s.Running() {
		t.Error("Running() = true after finish")
	}
}

func TestTimedScanRepeatsUntilDiscovered(t *testing.T) {
	r := &recorder{}
	s, q := newTestScanner(r)
	a, b := &fakeCandidate{id: 1}, &fakeCandidate{id: 2}

	if err := s.Start(10*time.Second, []*fakeCandidate{a, b}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	q.Advance(time.Second)
	if a.pings < 2 || b.pings < 2 {
		t.Fatalf("pings = %d %d, want repeats", a.pings, b.pings)
	}

	// a answers its characteristic request.
	a.updated = q.Now()
	s.Observe(1, true)
	q.RunPending()
	if len(r.discovered) != 1 || r.discovered[0] != 1 {
		t.Fatalf("discovered = %v, want [1]", r.discovered)
	}
	if _, ok := s.Pending(1); ok {
		t.Error("discovered candidate still pending")
	}

	before := a.pings
	q.Advance(time.Second)
	if a.pings != before {
		t.Errorf("discovered candidate pinged again")
	}

	b.updated = q.Now()
	s.Observe(2, true)
	q.Advance(ScanInterval + FinishDelay)
	if r.finished != 1 {
		t.Errorf("finished = %d after every candidate was found, want 1", r.finished)
	}
}

func TestScanStopsAtDeadline(t *testing.T) {
	r := &recorder{}
	s, q := newTestScanner(r)
	c := &fakeCandidate{id: 7}

	if err := s.Start(time.Second, []*fakeCandidate{c}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	q.Advance(5 * time.Second)

	if r.finished != 1 {
		t.Errorf("finished = %d, want 1", r.finished)
	}
	if c.pings > 6 {
		t.Errorf("pings = %d, scan kept running past its deadline", c.pings)
	}
}

func TestObserveUndetectedResponseEndsCandidate(t *testing.T) {
	r := &recorder{}
	s, q := newTestScanner(r)
	a, b := &fakeCandidate{id: 1}, &fakeCandidate{id: 2}
	if err := s.Start(10*time.Second, []*fakeCandidate{a, b}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	q.Advance(ScanInterval)

	// a answered with a characteristic response it could not use.
	s.Observe(1, false)
	s.Observe(99, true)
	q.RunPending()

	if len(r.discovered) != 0 {
		t.Errorf("discovered = %v, want none", r.discovered)
	}
	if _, ok := s.Pending(1); ok {
		t.Error("answered candidate still pending")
	}
	if _, ok := s.Pending(2); !ok {
		t.Error("unanswered candidate dropped")
	}

	before := a.pings
	q.Advance(time.Second)
	if a.pings != before {
		t.Errorf("answered candidate pinged %d more times", a.pings-before)
	}
	if b.pings < 2 {
		t.Errorf("unanswered candidate pings = %d, want repeats", b.pings)
	}
}

func TestPingFilterSkipsSameGroup(t *testing.T) {
	r := &recorder{}
	q := eventloop.NewManual(time.Unix(0, 0))
	s := New[int, *fakeCandidate](q, func(c *fakeCandidate) int { return c.id })
	s.SetCallbacks(Callbacks[*fakeCandidate]{Finished: func() { r.finished++ }})

	groups := map[int]int{1: 1, 2: 1, 3: 2}
	s.SetPingFilter(func(prev int, hasPrev bool, next int) bool {
		return !hasPrev || groups[prev] != groups[next]
	})

	cands := []*fakeCandidate{{id: 1}, {id: 2}, {id: 3}}
	if err := s.Start(0, cands); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	q.Advance(2 * time.Second)

	got := []int{cands[0].pings, cands[1].pings, cands[2].pings}
	want := []int{1, 0, 1}
	for i := range got {
		if got[i] != want[i] {
			t.Errorf("pings = %v, want %v", got, want)
			break
		}
	}
}

func TestStartWithoutCandidates(t *testing.T) {
	s, _ := newTestScanner(&recorder{})
	if err := s.Start(time.Second, nil); !errors.Is(err, ErrNoCandidates) {
		t.Errorf("Start(nil) error = %v, want ErrNoCandidates", err)
	}
}

func TestStopFiresFinished(t *testing.T) {
	r := &recorder{}
	s, q := newTestScanner(r)
	if err := s.Start(time.Minute, []*fakeCandidate{{id: 1}}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	s.Stop()
	s.Stop()
	q.RunPending()

	if r.started != 1 || r.finished != 1 {
		t.Errorf("started = %d, finished = %d, want 1 each", r.started, r.finished)
	}
	if q.PendingTimers() != 0 {
		t.Errorf("PendingTimers() = %d, want 0", q.PendingTimers())
	}
}
