package database

import "errors"

var (
	// ErrMigrationName is returned for a .sql file whose name does not
	// follow YYYYMMDD_HHMMSS_description.up.sql / .down.sql.
	ErrMigrationName = errors.New("database: malformed migration filename")

	// ErrNoDownMigration is returned by Rollback when the latest applied
	// migration has no .down.sql file.
	ErrNoDownMigration = errors.New("database: migration has no down script")

	// ErrUnknownMigration is returned by Rollback when the latest applied
	// version is missing from the migration source.
	ErrUnknownMigration = errors.New("database: applied migration not found in source")
)
