// Package property provides the typed key/value store that device contexts
// keep their state in.
//
// Three flavours are layered by composition:
//
//   - Basic: the committed, mutex-guarded map of values
//   - Staged: a view over a Basic that records would-be values until Commit
//   - ReadOnly: a projection over any Reader
//
// A value staged on a Staged view is visible through that view at once but
// never through the Basic underneath until Commit. Commit applies every staged
// value under one lock, so readers of the Basic see either all of a commit or
// none of it, and it reports exactly the values that differ from what was
// committed before.
//
// # Thread Safety
//
// Basic is safe for concurrent use. Staged guards its own staging area, but a
// single Staged view is meant to be driven from one goroutine (the protocol
// event loop); concurrent readers should read the Basic.
package property
