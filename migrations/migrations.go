// Package migrations holds the SQL schema and applies it with goose
package migrations

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed *.sql
var files embed.FS

// Up applies every pending migration to db
func Up(db *sql.DB) error {
	goose.SetBaseFS(files)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Version returns the current schema version
func Version(db *sql.DB) (int64, error) {
	goose.SetBaseFS(files)
	if err := goose.SetDialect("postgres"); err != nil {
		return 0, fmt.Errorf("failed to set migration dialect: %w", err)
	}
	return goose.GetDBVersion(db)
}
