package migrations

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upCreateCollectionExclusions, downCreateCollectionExclusions)
}

func upCreateCollectionExclusions(ctx context.Context, tx *sql.Tx) error {
	var ddl string
	switch dialect {
	case "postgres":
		ddl = `CREATE TABLE IF NOT EXISTS collection_exclusions (
    user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    release_id BIGINT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (user_id, release_id)
)`
	case "mysql":
		ddl = `CREATE TABLE IF NOT EXISTS collection_exclusions (
    user_id    VARCHAR(36) NOT NULL,
    release_id BIGINT NOT NULL,
    created_at DATETIME(6) NOT NULL,
    PRIMARY KEY (user_id, release_id),
    CONSTRAINT collection_exclusions_user_fk FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
)`
	default: // sqlite3
		ddl = `CREATE TABLE IF NOT EXISTS collection_exclusions (
    user_id    TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    release_id INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (user_id, release_id)
)`
	}
	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create collection_exclusions table: %w", err)
	}
	return nil
}

func downCreateCollectionExclusions(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS collection_exclusions`)
	return err
}
