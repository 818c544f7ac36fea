// Package outbox keeps note writes made while the server is unreachable in a
// durable FIFO log and replays them once connectivity returns.
package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/starford/flowstate/internal/apperr"
	"github.com/starford/flowstate/internal/models"
)

// Kind is the operation an entry replays.
type Kind string

const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
)

// Status records what the last replay attempt did with an entry.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRejected Status = "rejected"
)

// Entry is one queued write.
type Entry struct {
	Seq        int64            `json:"seq"`
	Key        string           `json:"key"`
	Kind       Kind             `json:"kind"`
	Payload    models.NoteInput `json:"payload"`
	NoteID     int64            `json:"note_id,omitempty"`
	ETag       string           `json:"etag,omitempty"`
	Status     Status           `json:"status"`
	Attempts   int              `json:"attempts"`
	LastError  string           `json:"last_error,omitempty"`
	EnqueuedAt time.Time        `json:"enqueued_at"`
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS outbox (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	key         TEXT NOT NULL UNIQUE,
	kind        TEXT NOT NULL CHECK (kind IN ('create', 'update')),
	payload     TEXT NOT NULL,
	note_id     INTEGER NOT NULL DEFAULT 0,
	etag        TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'pending',
	attempts    INTEGER NOT NULL DEFAULT 0,
	last_error  TEXT NOT NULL DEFAULT '',
	enqueued_at DATETIME NOT NULL
);
`

// Log is the durable, ordered outbox stored in a SQLite file.
type Log struct {
	conn *sql.DB
	path string
}

// Open opens (or creates) the outbox at path.
func Open(path string) (*Log, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("outbox: open: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("outbox: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("outbox: apply schema: %w", err)
	}
	return &Log{conn: conn, path: path}, nil
}

// Path returns the file the log lives in.
func (l *Log) Path() string { return l.path }

// Close closes the underlying database.
func (l *Log) Close() error { return l.conn.Close() }

// Enqueue appends e. Seq, Status and EnqueuedAt are assigned here, and so
// is Key unless the caller already chose one.
func (l *Log) Enqueue(ctx context.Context, e Entry) (Entry, error) {
	switch e.Kind {
	case KindCreate:
	case KindUpdate:
		if e.NoteID <= 0 {
			return Entry{}, apperr.Validation("invalid_id")
		}
		if _, ok := models.ParseETag(e.ETag); !ok {
			return Entry{}, apperr.Validation("missing_if_match")
		}
	default:
		return Entry{}, apperr.Validation("invalid_kind")
	}

	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return Entry{}, fmt.Errorf("outbox: encode payload: %w", err)
	}
	if e.Key == "" {
		e.Key = uuid.NewString()
	}
	e.Status = StatusPending
	e.Attempts = 0
	e.LastError = ""
	e.EnqueuedAt = time.Now().UTC()

	res, err := l.conn.ExecContext(ctx, `
		INSERT INTO outbox (key, kind, payload, note_id, etag, status, enqueued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Key, string(e.Kind), string(payload), e.NoteID, e.ETag, string(e.Status), e.EnqueuedAt)
	if err != nil {
		return Entry{}, fmt.Errorf("outbox: enqueue: %w", err)
	}
	if e.Seq, err = res.LastInsertId(); err != nil {
		return Entry{}, fmt.Errorf("outbox: enqueue: %w", err)
	}
	return e, nil
}

// Entries returns every queued entry, oldest first.
func (l *Log) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := l.conn.QueryContext(ctx, `
		SELECT seq, key, kind, payload, note_id, etag, status, attempts, last_error, enqueued_at
		FROM outbox ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("outbox: list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			kind    string
			status  string
			payload string
		)
		if err := rows.Scan(&e.Seq, &e.Key, &kind, &payload, &e.NoteID, &e.ETag,
			&status, &e.Attempts, &e.LastError, &e.EnqueuedAt); err != nil {
			return nil, fmt.Errorf("outbox: scan: %w", err)
		}
		e.Kind, e.Status = Kind(kind), Status(status)
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			return nil, fmt.Errorf("outbox: decode payload of %d: %w", e.Seq, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Len returns the number of queued entries.
func (l *Log) Len(ctx context.Context) (int, error) {
	var n int
	if err := l.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox`).Scan(&n); err != nil {
		return 0, fmt.Errorf("outbox: count: %w", err)
	}
	return n, nil
}

// LastSeq returns the highest sequence number currently queued, or 0.
func (l *Log) LastSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := l.conn.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM outbox`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("outbox: last seq: %w", err)
	}
	return seq, nil
}

// Remove deletes an applied entry. Removing an unknown seq is not an error.
func (l *Log) Remove(ctx context.Context, seq int64) error {
	if _, err := l.conn.ExecContext(ctx, `DELETE FROM outbox WHERE seq = ?`, seq); err != nil {
		return fmt.Errorf("outbox: remove %d: %w", seq, err)
	}
	return nil
}

// MarkRejected keeps the entry but records why the server refused it.
func (l *Log) MarkRejected(ctx context.Context, seq int64, reason string) error {
	res, err := l.conn.ExecContext(ctx, `
		UPDATE outbox SET status = ?, attempts = attempts + 1, last_error = ?
		WHERE seq = ?`, string(StatusRejected), reason, seq)
	if err != nil {
		return fmt.Errorf("outbox: mark %d: %w", seq, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("outbox: mark %d: %w", seq, apperr.ErrNotFound)
	}
	return nil
}

// Discard removes an entry on operator request.
func (l *Log) Discard(ctx context.Context, seq int64) error {
	res, err := l.conn.ExecContext(ctx, `DELETE FROM outbox WHERE seq = ?`, seq)
	if err != nil {
		return fmt.Errorf("outbox: discard %d: %w", seq, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("outbox: discard %d: %w", seq, apperr.ErrNotFound)
	}
	return nil
}
