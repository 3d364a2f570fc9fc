package eventloop

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Queue is the surface protocol components schedule work through.
type Queue interface {
	// Post queues fn to run on the loop goroutine.
	Post(fn func())

	// AfterFunc queues fn to run on the loop goroutine after d.
	AfterFunc(d time.Duration, fn func()) Timer

	// Now returns the loop's notion of the current time.
	Now() time.Time
}

// Timer is a cancellable delayed task.
type Timer interface {
	// Stop cancels the task. It reports whether the call cancelled a task
	// that had not run yet; repeated calls return false.
	Stop() bool
}

// Logger interface for optional logging support.
type Logger interface {
	Error(msg string, args ...any)
}

// Loop runs queued functions on one goroutine.
//
// Thread Safety:
//   - Post and AfterFunc are safe for concurrent use, including from tasks
//     running on the loop itself.
type Loop struct {
	mu      sync.Mutex
	pending []func()
	wake    chan struct{}

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a Loop. Call Start to begin running tasks.
func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// SetLogger sets the logger used to report recovered task panics.
func (l *Loop) SetLogger(logger Logger) {
	l.loggerMu.Lock()
	l.logger = logger
	l.loggerMu.Unlock()
}

// Start runs the loop until ctx is cancelled or Stop is called.
func (l *Loop) Start(ctx context.Context) {
	l.wg.Add(1)
	go l.run(ctx)
}

// Stop ends the loop and waits for the running task to return. Tasks still
// queued are dropped. Safe to call multiple times.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.done)
	})
	l.wg.Wait()
}

// Post queues fn. Posting after Stop is a no-op.
func (l *Loop) Post(fn func()) {
	if fn == nil {
		return
	}
	select {
	case <-l.done:
		return
	default:
	}

	l.mu.Lock()
	l.pending = append(l.pending, fn)
	l.mu.Unlock()

	// Drop-if-full: one pending signal is enough to drain everything.
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// AfterFunc queues fn after d.
func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	t := &loopTimer{}
	t.timer = time.AfterFunc(d, func() {
		l.Post(func() {
			if t.fired.CompareAndSwap(false, true) {
				fn()
			}
		})
	})
	return t
}

// Now returns time.Now.
func (l *Loop) Now() time.Time { return time.Now() }

func (l *Loop) run(ctx context.Context) {
	defer l.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case <-l.wake:
		}

		for {
			l.mu.Lock()
			batch := l.pending
			l.pending = nil
			l.mu.Unlock()

			if len(batch) == 0 {
				break
			}
			for _, fn := range batch {
				select {
				case <-l.done:
					return
				default:
				}
				l.runTask(fn)
			}
		}
	}
}

// runTask runs fn with panic recovery so one bad task cannot kill the loop.
func (l *Loop) runTask(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.loggerMu.RLock()
			logger := l.logger
			l.loggerMu.RUnlock()
			if logger != nil {
				logger.Error("event loop task panic recovered", "panic", r)
			}
		}
	}()
	fn()
}

type loopTimer struct {
	timer *time.Timer
	fired atomic.Bool
}

func (t *loopTimer) Stop() bool {
	t.timer.Stop()
	// Claiming the fired flag here keeps an already posted run from executing.
	return t.fired.CompareAndSwap(false, true)
}
