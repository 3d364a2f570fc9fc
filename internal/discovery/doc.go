// Package discovery finds which candidate devices are present on the bus.
//
// A Scanner walks a queue of candidates, pinging every candidate that has
// not reported yet, one per scan interval. The owner feeds parse outcomes
// back through Observe; a candidate whose characteristic response was
// accepted is reported as discovered and leaves the pending set. The scan
// ends when the queue or the pending set is empty, or when the deadline
// passes, and the finished event follows after a short grace delay so that
// late responses still land.
//
// Thread Safety:
//   - Every method must be called on the event loop the Scanner was built
//     with. Callbacks are posted to the same loop.
package discovery
