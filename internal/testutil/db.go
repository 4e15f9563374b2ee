package testutil

import (
	"testing"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/joestump/spindle/internal/db"
)

// NewTestDB opens an in-memory SQLite DB and runs all goose migrations.
func NewTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	// A shared-cache file URI lets every pool connection see the same
	// in-memory database; the test name keeps databases isolated. The busy
	// timeout covers concurrent writers from fan-out tests.
	dsn := "file:" + t.Name() + "?mode=memory&cache=shared&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	conn, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open in-memory sqlite: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	if err := db.Up(conn, "sqlite3"); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	return conn
}
