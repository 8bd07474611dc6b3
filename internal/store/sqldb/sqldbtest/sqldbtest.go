// Package sqldbtest provides throwaway databases for package tests.
package sqldbtest

import (
	"context"
	"database/sql"
	"testing"

	"stexcore.dev/hub/internal/migrate"
	"stexcore.dev/hub/internal/store/sqldb"
)

// NewSQLite returns a private in-memory SQLite database with the schema and
// catalog seeds applied. It is closed when the test ends.
func NewSQLite(t testing.TB) *sqldb.DB {
	t.Helper()

	raw, err := sql.Open("sqlite", "file::memory:?_pragma=foreign_keys(1)")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	raw.SetMaxOpenConns(1)
	raw.SetConnMaxLifetime(0)
	raw.SetConnMaxIdleTime(0)
	t.Cleanup(func() { _ = raw.Close() })

	db := sqldb.New(raw, sqldb.SQLite)
	Sync(t, db)
	return db
}

// Sync applies migrations and seeds to db.
func Sync(t testing.TB, db *sqldb.DB) {
	t.Helper()
	mgr, err := migrate.NewManager(db)
	if err != nil {
		t.Fatalf("migrate.NewManager: %v", err)
	}
	if err := mgr.Sync(context.Background()); err != nil {
		t.Fatalf("schema sync: %v", err)
	}
}
