// Package schedule sends frames repeatedly on a shared byte stream.
//
// A Schedule describes one frame and its repeat policy: N-shot (the first
// send plus RepeatCount repeats) or infinite (RepeatCount == Infinite). The
// Scheduler drives repeats with delayed tasks on an event loop, reports
// exactly one exit per schedule and surfaces write failures through the
// schedule's error callback before tearing it down.
//
// The Scheduler also filters received frames: a response that matches an
// active schedule and is byte-identical to the previous one is suppressed
// unless the schedule allows same responses.
//
// Thread Safety:
//   - Every method must be called on the event loop the Scheduler was
//     created with. Callbacks run on that loop.
package schedule
