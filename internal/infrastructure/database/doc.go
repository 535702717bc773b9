// Package database provides SQLite connection management for Ember Core.
//
// It wraps database/sql with:
//   - Connection setup (WAL mode, busy timeout, foreign keys)
//   - Embedded schema migrations (see the migrations package)
//   - Health checks for startup verification
//
// SQLite is used for the entity registry: entity identity must survive
// restarts, and a single-file embedded database fits an always-on hub
// with no external dependencies.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: "./data/ember.db", WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
