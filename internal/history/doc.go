// Package history keeps a local log of KS X 4506 property changes in
// SQLite.
//
// Each row records one property of one device at the moment the protocol
// engine committed it. The log survives restarts and stays available when
// the time-series database is not configured. Rows older than the
// configured retention are removed by Prune, which RunPruner calls on a
// ticker.
package history
