package migrations

// access_token and access_secret only ever hold vault blobs.
// Writers lock the owner's users row before touching these rows. The partial
// unique index on primary rows is a second guard where the dialect supports
// it (SQLite, PostgreSQL).

import (
	"context"
	"database/sql"

	"github.com/pressly/goose/v3"
)

func init() {
	goose.AddMigrationContext(upCreateDiscogsConnections, downCreateDiscogsConnections)
}

func upCreateDiscogsConnections(ctx context.Context, tx *sql.Tx) error {
	return execAll(ctx, tx, discogsConnectionsUpStmts())
}

func downCreateDiscogsConnections(ctx context.Context, tx *sql.Tx) error {
	return execAll(ctx, tx, []string{`DROP TABLE IF EXISTS discogs_connections`})
}

func discogsConnectionsUpStmts() []string {
	switch dialect {
	case "postgres":
		return []string{
			`CREATE TABLE IF NOT EXISTS discogs_connections (
    id               TEXT PRIMARY KEY,
    user_id          TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    display_name     TEXT NOT NULL DEFAULT '',
    discogs_username TEXT NOT NULL,
    access_token     TEXT NOT NULL,
    access_secret    TEXT NOT NULL,
    is_primary       BOOLEAN NOT NULL DEFAULT FALSE,
    connected_at     TIMESTAMPTZ NOT NULL,
    updated_at       TIMESTAMPTZ NOT NULL,
    UNIQUE (user_id, discogs_username)
)`,
			`CREATE INDEX IF NOT EXISTS discogs_connections_user_idx ON discogs_connections (user_id, connected_at)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS discogs_connections_primary_idx ON discogs_connections (user_id) WHERE is_primary`,
		}
	case "mysql":
		return []string{
			`CREATE TABLE IF NOT EXISTS discogs_connections (
    id               VARCHAR(36) PRIMARY KEY,
    user_id          VARCHAR(36) NOT NULL,
    display_name     VARCHAR(255) NOT NULL DEFAULT '',
    discogs_username VARCHAR(255) NOT NULL,
    access_token     TEXT NOT NULL,
    access_secret    TEXT NOT NULL,
    is_primary       BOOLEAN NOT NULL DEFAULT FALSE,
    connected_at     DATETIME(6) NOT NULL,
    updated_at       DATETIME(6) NOT NULL,
    UNIQUE KEY discogs_connections_user_username (user_id, discogs_username),
    KEY discogs_connections_user_idx (user_id, connected_at),
    CONSTRAINT discogs_connections_user_fk FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
)`,
		}
	default: // sqlite3
		return []string{
			`CREATE TABLE IF NOT EXISTS discogs_connections (
    id               TEXT PRIMARY KEY,
    user_id          TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    display_name     TEXT NOT NULL DEFAULT '',
    discogs_username TEXT NOT NULL,
    access_token     TEXT NOT NULL,
    access_secret    TEXT NOT NULL,
    is_primary       INTEGER NOT NULL DEFAULT 0,
    connected_at     TIMESTAMP NOT NULL,
    updated_at       TIMESTAMP NOT NULL,
    UNIQUE (user_id, discogs_username)
)`,
			`CREATE INDEX IF NOT EXISTS discogs_connections_user_idx ON discogs_connections (user_id, connected_at)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS discogs_connections_primary_idx ON discogs_connections (user_id) WHERE is_primary = 1`,
		}
	}
}
