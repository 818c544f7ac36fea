// Package store provides the SQLite-backed note store, term index and
// similarity link graph.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS notes (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	slug       TEXT NOT NULL UNIQUE,
	title      TEXT NOT NULL DEFAULT '',
	content    TEXT NOT NULL DEFAULT '',
	tags       TEXT NOT NULL DEFAULT '',
	is_public  INTEGER NOT NULL DEFAULT 0,
	version    INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_notes_updated_at ON notes(updated_at);

CREATE TABLE IF NOT EXISTS note_terms (
	note_id INTEGER NOT NULL REFERENCES notes(id) ON DELETE CASCADE,
	term    TEXT NOT NULL,
	tf      REAL NOT NULL,
	PRIMARY KEY (note_id, term)
);

CREATE INDEX IF NOT EXISTS idx_note_terms_term ON note_terms(term);

CREATE TABLE IF NOT EXISTS note_links (
	src_id INTEGER NOT NULL REFERENCES notes(id) ON DELETE CASCADE,
	dst_id INTEGER NOT NULL REFERENCES notes(id) ON DELETE CASCADE,
	score  REAL NOT NULL,
	PRIMARY KEY (src_id, dst_id),
	CHECK (src_id <> dst_id)
);

CREATE INDEX IF NOT EXISTS idx_note_links_dst ON note_links(dst_id);
`

// DB wraps a sql.DB with note, term and link operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
// Write transactions start with BEGIN IMMEDIATE so concurrent writers queue
// on the busy timeout instead of failing on lock upgrade.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("store: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := conn.Exec(coreSchemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply core schema: %w", err)
	}
	if err := initFTS(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: apply fts schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Ping verifies the database is reachable.
func (db *DB) Ping() error {
	return db.conn.Ping()
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
