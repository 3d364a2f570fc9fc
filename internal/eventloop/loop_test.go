package eventloop

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestLoopRunsTasksInOrder(t *testing.T) {
	l := New()
	l.Start(context.Background())
	defer l.Stop()

	var mu sync.Mutex
	var got []int
	done := make(chan struct{})

	for i := 0; i < 5; i++ {
		i := i
		l.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			if i == 4 {
				close(done)
			}
		})
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tasks did not run")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		if v != i {
			t.Fatalf("order = %v, want ascending", got)
		}
	}
}

func TestLoopPostFromTask(t *testing.T) {
	l := New()
	l.Start(context.Background())
	defer l.Stop()

	done := make(chan struct{})
	l.Post(func() {
		l.Post(func() { close(done) })
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("nested post did not run")
	}
}

func TestLoopTimerStop(t *testing.T) {
	l := New()
	l.Start(context.Background())
	defer l.Stop()

	fired := make(chan struct{}, 1)
	timer := l.AfterFunc(50*time.Millisecond, func() { fired <- struct{}{} })
	if !timer.Stop() {
		t.Fatal("Stop() = false on armed timer")
	}
	if timer.Stop() {
		t.Error("second Stop() = true, want false")
	}

	select {
	case <-fired:
		t.Fatal("stopped timer fired")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestLoopRecoversPanic(t *testing.T) {
	l := New()
	l.Start(context.Background())
	defer l.Stop()

	done := make(chan struct{})
	l.Post(func() { panic("boom") })
	l.Post(func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop died after panic")
	}
}

func TestManualAdvance(t *testing.T) {
	start := time.Unix(1000, 0)
	m := NewManual(start)

	var order []string
	m.AfterFunc(200*time.Millisecond, func() { order = append(order, "b") })
	m.AfterFunc(100*time.Millisecond, func() {
		order = append(order, "a")
		m.Post(func() { order = append(order, "a-post") })
	})
	stopped := m.AfterFunc(150*time.Millisecond, func() { order = append(order, "never") })
	stopped.Stop()

	m.Advance(150 * time.Millisecond)
	if len(order) != 2 || order[0] != "a" || order[1] != "a-post" {
		t.Fatalf("after 150ms order = %v", order)
	}
	if got := m.Now().Sub(start); got != 150*time.Millisecond {
		t.Errorf("Now() advanced %v, want 150ms", got)
	}

	m.Advance(100 * time.Millisecond)
	if len(order) != 3 || order[2] != "b" {
		t.Fatalf("after 250ms order = %v", order)
	}
	if m.PendingTimers() != 0 {
		t.Errorf("PendingTimers() = %d, want 0", m.PendingTimers())
	}
}
