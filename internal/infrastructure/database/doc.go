// Package database provides SQLite connectivity for the console bridge.
//
// This package manages:
//   - Opening the database with WAL mode and foreign keys enabled
//   - Versioned schema migrations read from any fs.FS
//   - Connection lifecycle and health checks
//
// The bridge stores console device info, the console state history and the
// command audit trail here. Everything else is ephemeral session state.
//
// Security Considerations:
//   - All queries use parameterised statements
//   - The database file is restricted to 0600
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql. New columns must be nullable or carry a
// default so older binaries keep working against a migrated file.
package database
