// Package database provides SQLite connectivity for meinHeim Core.
//
// It opens the database with WAL mode and a busy timeout, and applies
// embedded schema migrations at startup. The schema is small: the desired
// on/off state of each rule and the audit trail of socket and rule
// commands.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: "./data/meinheim.db", WALMode: true, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
