package poller

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-homenet/internal/eventloop"
)

// never stands in for the elapsed time since an event that did not happen.
const never = time.Duration(math.MaxInt64)

// Pollee is a device the poller drives.
type Pollee interface {
	// SetPollPhase is called on the event loop when the phase changes.
	SetPollPhase(phase Phase, interval time.Duration)

	// RequestUpdate is called on the event loop to ask for fresh state.
	RequestUpdate()

	// UpdateTime returns when the device last reported state, or the zero
	// time if it never has. It is called from the poller goroutine.
	UpdateTime() time.Time
}

type info struct {
	pollee    Pollee
	phase     Phase
	phaseTime time.Time
	interval  time.Duration
	lastPoll  time.Time
	disposed  bool
}

// Poller runs the round-robin polling worker.
type Poller struct {
	queue     eventloop.Queue
	repeating bool

	mu           sync.Mutex
	entries      []*info
	byPollee     map[Pollee]*info
	baseInterval time.Duration

	wake     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a Poller.
//
// Parameters:
//   - queue: Event loop that receives RequestUpdate and SetPollPhase calls
//   - repeating: False for one-shot mode, where an entry is dropped as soon
//     as its device has reported once
func New(queue eventloop.Queue, repeating bool) *Poller {
	return &Poller{
		queue:        queue,
		repeating:    repeating,
		byPollee:     make(map[Pollee]*info),
		baseInterval: DefaultBaseInterval,
		wake:         make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
}

// Start launches the worker goroutine.
func (p *Poller) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.run(ctx)
}

// Stop ends the worker and waits for it. Safe to call multiple times.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
	})
	p.wg.Wait()
}

// Add registers pollee in the INITIAL phase, replacing a previous entry.
func (p *Poller) Add(pollee Pollee) {
	p.mu.Lock()
	if old, ok := p.byPollee[pollee]; ok {
		old.disposed = true
	}
	in := &info{
		pollee:    pollee,
		phase:     PhaseInitial,
		phaseTime: p.queue.Now(),
		interval:  PhaseInitial.Interval(),
	}
	p.byPollee[pollee] = in
	p.entries = append(p.entries, in)
	p.mu.Unlock()

	p.signal()
}

// Remove unregisters pollee. The entry leaves the queue on its next turn.
func (p *Poller) Remove(pollee Pollee) {
	p.mu.Lock()
	if in, ok := p.byPollee[pollee]; ok {
		in.disposed = true
		delete(p.byPollee, pollee)
	}
	p.mu.Unlock()
	p.signal()
}

// Len returns the number of registered pollees.
func (p *Poller) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byPollee)
}

// Phase returns the current phase of pollee.
func (p *Poller) Phase(pollee Pollee) (Phase, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	in, ok := p.byPollee[pollee]
	if !ok {
		return PhaseInitial, false
	}
	return in.phase, true
}

// BaseInterval returns the pause between two entries.
func (p *Poller) BaseInterval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.baseInterval
}

// SetBaseInterval changes the pause between two entries and wakes the
// worker. A value <= 0 makes the worker wait until the next wake.
func (p *Poller) SetBaseInterval(d time.Duration) {
	p.mu.Lock()
	if d <= 0 {
		d = never
	}
	p.baseInterval = d
	p.mu.Unlock()
	p.signal()
}

// signal wakes the worker; a pending signal is enough.
func (p *Poller) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Poller) run(ctx context.Context) {
	defer p.wg.Done()

	for {
		in, ok := p.next(ctx)
		if !ok {
			return
		}
		if in == nil {
			continue
		}

		p.process(in, p.queue.Now())

		p.mu.Lock()
		if !in.disposed {
			p.entries = append(p.entries, in)
		}
		wait := p.baseInterval
		p.mu.Unlock()

		if !p.sleep(ctx, wait) {
			return
		}
	}
}

// next pops the head entry, blocking while the queue is empty. It returns
// nil for a disposed entry and false on shutdown.
func (p *Poller) next(ctx context.Context) (*info, bool) {
	for {
		p.mu.Lock()
		if len(p.entries) > 0 {
			in := p.entries[0]
			p.entries = p.entries[1:]
			disposed := in.disposed
			p.mu.Unlock()
			if disposed {
				return nil, true
			}
			return in, true
		}
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, false
		case <-p.done:
			return nil, false
		case <-p.wake:
		}
	}
}

func (p *Poller) sleep(ctx context.Context, d time.Duration) bool {
	var timeout <-chan time.Time
	if d != never {
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-ctx.Done():
		return false
	case <-p.done:
		return false
	case <-p.wake:
	case <-timeout:
	}
	return true
}

// process advances one entry's state machine at now.
func (p *Poller) process(in *info, now time.Time) {
	lastUpdate := in.pollee.UpdateTime()
	updateElapsed := since(now, lastUpdate)
	phaseElapsed := since(now, in.phaseTime)
	pollElapsed := since(now, in.lastPoll)

	switch in.phase {
	case PhaseInitial:
		p.transit(in, PhaseWaiting, now)
	case PhaseWaiting:
		if updateElapsed < ActivityWindow {
			p.transit(in, PhaseWorking, now)
		} else if phaseElapsed > ActivityWindow {
			p.transit(in, PhaseNapping, now)
		}
	case PhaseWorking:
		if updateElapsed > ActivityWindow {
			p.transit(in, PhaseWaiting, now)
		}
	case PhaseNapping:
		if updateElapsed < ActivityWindow {
			p.transit(in, PhaseWorking, now)
		}
	}

	if pollElapsed > in.interval && updateElapsed > in.interval {
		pollee := in.pollee
		p.queue.Post(pollee.RequestUpdate)
		in.lastPoll = now
	}

	if !lastUpdate.IsZero() && !p.repeating {
		p.mu.Lock()
		in.disposed = true
		if p.byPollee[in.pollee] == in {
			delete(p.byPollee, in.pollee)
		}
		p.mu.Unlock()
	}
}

func (p *Poller) transit(in *info, phase Phase, now time.Time) {
	interval := phase.Interval()

	p.mu.Lock()
	in.phase = phase
	in.phaseTime = now
	in.interval = interval
	p.mu.Unlock()

	pollee := in.pollee
	p.queue.Post(func() { pollee.SetPollPhase(phase, interval) })
}

func since(now, t time.Time) time.Duration {
	if t.IsZero() {
		return never
	}
	return now.Sub(t)
}
