// Package database provides SQLite connectivity for Experiment Core.
//
// It manages:
//   - the connection, with WAL mode and a busy timeout
//   - versioned, embedded schema migrations (schema_migrations table)
//   - small transaction helpers for the repositories built on top
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns are nullable or have defaults, and
// each .up.sql may have a matching .down.sql for development rollbacks.
package database
