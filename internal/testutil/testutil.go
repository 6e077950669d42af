// Package testutil provides a migrated SQLite store for package tests.
package testutil

import (
	"path/filepath"
	"testing"

	"carpulse/pkg/database"
	"carpulse/pkg/logger"
)

// DB opens a fresh, migrated SQLite database in t.TempDir and closes it
// when the test ends.
func DB(t *testing.T) *database.DB {
	t.Helper()
	cfg := database.Config{
		Driver: string(database.DialectSQLite),
		DSN:    filepath.Join(t.TempDir(), "test.db"),
	}
	db, err := database.Open(cfg)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func Logger(t *testing.T) *logger.Logger {
	t.Helper()
	return logger.Nop()
}
