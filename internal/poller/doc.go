// Package poller decides when each device should be asked for fresh state.
//
// Every registered Pollee cycles through four phases whose nominal poll
// intervals reflect how responsive the device has been recently:
//
//	INITIAL  ->  WAITING   first tick
//	WAITING  ->  WORKING   an update arrived within the activity window
//	WAITING  ->  NAPPING   the phase lasted longer than the window, no update
//	WORKING  ->  WAITING   the last update aged past the window
//	NAPPING  ->  WORKING   an update arrived within the window
//
// A device is polled only when both the time since the last poll and the
// time since its last update exceed the phase interval, so a device that
// reports on its own is not polled again.
//
// Thread Safety:
//   - One worker goroutine owns the round-robin queue. It never touches
//     protocol state: RequestUpdate and SetPollPhase are posted onto the
//     event loop. Pollee.UpdateTime is called from the worker and must be
//     safe for concurrent use.
//   - Add, Remove and SetBaseInterval are safe from any goroutine.
package poller
