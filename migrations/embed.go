// Package migrations holds the SQL schema of the state history database.
package migrations

import "embed"

// FS contains every *.up.sql / *.down.sql file at its root.
//
//go:embed *.sql
var FS embed.FS
