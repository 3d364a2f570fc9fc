// Package database opens the SQLite file that backs the state history.
//
// It owns the connection settings (WAL journal, busy timeout, file
// permissions) and a small forward-only migration runner. Schema files
// live in the top-level migrations package and are passed in as an
// fs.FS:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if _, err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql. Each step commits together with its
// schema_migrations row.
package database
