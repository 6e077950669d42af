package database

import (
	"embed"
	"fmt"
)

//go:embed schema/*.sql
var schemaFS embed.FS

func Migrate(db *DB) error {
	b, err := schemaFS.ReadFile("schema/" + string(db.Dialect) + ".sql")
	if err != nil {
		return fmt.Errorf("read schema for %s: %w", db.Dialect, err)
	}

	if _, err := db.Exec(string(b)); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
