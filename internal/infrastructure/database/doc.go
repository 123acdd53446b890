// Package database provides SQLite connectivity for the serial bus service.
//
// The service keeps two things in SQLite: the last reported state of every
// serial device and a bounded history of state changes. This package owns the
// connection and the schema; the statestore package owns the queries.
//
// Connection handling:
//   - WAL mode so readers never block on history writes
//   - A single open connection (SQLite has one writer)
//   - Database file permissions are 0600
//   - Path ":memory:" opens a private in-memory database for tests
//
// Usage:
//
//	db, err := database.Open(ctx, database.ConfigFrom(cfg.Database))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.Source); err != nil {
//	    return err
//	}
//
// Migrations are read from a MigrationSource, normally the embed.FS exported
// by the top-level migrations package. Files are named
// YYYYMMDD_HHMMSS_description.up.sql with an optional matching .down.sql.
// Migrations are additive: new columns must be nullable or have defaults.
package database
