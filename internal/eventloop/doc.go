// Package eventloop provides the single-consumer task queue that serialises
// every protocol and property mutation.
//
// Producers on any goroutine call Post or AfterFunc; exactly one goroutine
// runs the queued functions in order. Delayed functions are posted back onto
// the same queue when their timer fires, so a cancelled timer never runs its
// function once Stop has returned on the loop goroutine.
//
// Manual is a deterministic Queue for tests: nothing runs until the test
// calls RunPending or Advance.
package eventloop
