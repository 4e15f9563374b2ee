// Package migrations contains dialect-aware Go database migrations. Every
// schema change lives here because column types (timestamps, booleans) and
// partial indexes differ between SQLite, PostgreSQL and MySQL.
package migrations

import (
	"context"
	"database/sql"
)

// dialect is set by the parent db package before migrations are applied.
var dialect string

// SetDialect configures the SQL dialect for Go migrations.
// Must be called before goose.Up. Valid values: "sqlite3", "postgres", "mysql".
func SetDialect(d string) {
	dialect = d
}

// execAll runs stmts in order inside the migration transaction.
func execAll(ctx context.Context, tx *sql.Tx, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
