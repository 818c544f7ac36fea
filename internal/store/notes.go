package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/flowstate/internal/apperr"
	"github.com/starford/flowstate/internal/models"
)

const noteColumns = `id, slug, title, content, tags, is_public, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNote(r rowScanner) (*models.Note, error) {
	var n models.Note
	if err := r.Scan(&n.ID, &n.Slug, &n.Title, &n.Content, &n.Tags, &n.IsPublic, &n.Version, &n.CreatedAt, &n.UpdatedAt); err != nil {
		return nil, err
	}
	return &n, nil
}

// CreateNote inserts a note at version 1 under a unique slug derived from
// in.Slug, or from the title when no slug is given.
func (db *DB) CreateNote(ctx context.Context, in models.NoteInput) (*models.Note, error) {
	base := in.Slug
	if base == "" {
		base = in.Title
	}
	base = Slugify(base)

	for attempt := 1; ; attempt++ {
		n, err := db.insertNote(ctx, base, in)
		if err == nil {
			return n, nil
		}
		if !isUniqueViolation(err) || attempt == maxSlugAttempts {
			return nil, err
		}
	}
}

func (db *DB) insertNote(ctx context.Context, base string, in models.NoteInput) (*models.Note, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	slug, err := uniqueSlug(ctx, tx, base, 0)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO notes (slug, title, content, tags, is_public, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, 1, ?, ?)
	`, slug, in.Title, in.Content, in.Tags, now, now)
	if err != nil {
		return nil, fmt.Errorf("store: insert note: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("store: insert note id: %w", err)
	}
	if err := ftsUpsert(tx, id, in.Title, in.Content, in.Tags); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit insert: %w", err)
	}
	return &models.Note{
		ID:        id,
		Slug:      slug,
		Title:     in.Title,
		Content:   in.Content,
		Tags:      in.Tags,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// UpdateNote applies in to the note only if its stored version equals
// expectedVersion, bumping the version by one. The check and increment are a
// single conditional UPDATE, so of two writers presenting the same version
// exactly one succeeds. A non-empty in.Slug renames the note afterwards in the
// same transaction.
func (db *DB) UpdateNote(ctx context.Context, id int64, in models.NoteInput, expectedVersion int) (*models.Note, error) {
	for attempt := 1; ; attempt++ {
		n, err := db.updateNote(ctx, id, in, expectedVersion)
		if err == nil {
			return n, nil
		}
		if !isUniqueViolation(err) || attempt == maxSlugAttempts {
			return nil, err
		}
	}
}

func (db *DB) updateNote(ctx context.Context, id int64, in models.NoteInput, expectedVersion int) (*models.Note, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `
		UPDATE notes
		SET title = ?, content = ?, tags = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?
	`, in.Title, in.Content, in.Tags, time.Now().UTC(), id, expectedVersion)
	if err != nil {
		return nil, fmt.Errorf("store: update note: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("store: update note rows: %w", err)
	}
	if affected == 0 {
		var current int
		err := tx.QueryRowContext(ctx, `SELECT version FROM notes WHERE id = ?`, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("store: read version: %w", err)
		}
		return nil, &apperr.VersionConflictError{Current: current}
	}

	if in.Slug != "" {
		slug, err := uniqueSlug(ctx, tx, Slugify(in.Slug), id)
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE notes SET slug = ? WHERE id = ?`, slug, id); err != nil {
			return nil, fmt.Errorf("store: rename slug: %w", err)
		}
	}

	if err := ftsUpsert(tx, id, in.Title, in.Content, in.Tags); err != nil {
		return nil, err
	}

	n, err := scanNote(tx.QueryRowContext(ctx, `SELECT `+noteColumns+` FROM notes WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("store: reload note: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit update: %w", err)
	}
	return n, nil
}

// SetPublic toggles visibility. Version, timestamps and the index are untouched.
func (db *DB) SetPublic(ctx context.Context, id int64, public bool) error {
	res, err := db.conn.ExecContext(ctx, `UPDATE notes SET is_public = ? WHERE id = ?`, public, id)
	if err != nil {
		return fmt.Errorf("store: set public: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// DeleteNote removes a note. Its terms and both directions of links go with
// it through ON DELETE CASCADE.
func (db *DB) DeleteNote(ctx context.Context, id int64) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ftsDelete(tx, id)
	res, err := tx.ExecContext(ctx, `DELETE FROM notes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete note: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	return tx.Commit()
}

// GetNote loads a note by id. With publicOnly, private notes are reported
// as not found.
func (db *DB) GetNote(ctx context.Context, id int64, publicOnly bool) (*models.Note, error) {
	return db.getNote(ctx, `id = ?`, id, publicOnly)
}

// GetNoteBySlug loads a note by slug.
func (db *DB) GetNoteBySlug(ctx context.Context, slug string, publicOnly bool) (*models.Note, error) {
	return db.getNote(ctx, `slug = ?`, slug, publicOnly)
}

func (db *DB) getNote(ctx context.Context, where string, arg any, publicOnly bool) (*models.Note, error) {
	q := `SELECT ` + noteColumns + ` FROM notes WHERE ` + where
	if publicOnly {
		q += ` AND is_public = 1`
	}
	n, err := scanNote(db.conn.QueryRowContext(ctx, q, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get note: %w", err)
	}
	return n, nil
}

// ListNotes returns a page of note summaries, most recently updated first,
// together with the total number of matching notes. A zero limit means 50;
// a negative limit means no limit.
func (db *DB) ListNotes(ctx context.Context, q ListQuery) ([]models.NoteSummary, int, error) {
	if q.Limit == 0 {
		q.Limit = 50
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	where := `WHERE 1 = 1`
	var args []any
	if q.Tag != "" {
		where += ` AND tags LIKE ?`
		args = append(args, "%"+q.Tag+"%")
	}
	if q.PublicOnly {
		where += ` AND is_public = 1`
	}

	var total int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM notes `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("store: count notes: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, slug, title, tags, is_public, version, updated_at
		FROM notes `+where+`
		ORDER BY updated_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, append(args, q.Limit, q.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("store: list notes: %w", err)
	}
	defer rows.Close()

	out := []models.NoteSummary{}
	for rows.Next() {
		var s models.NoteSummary
		if err := rows.Scan(&s.ID, &s.Slug, &s.Title, &s.Tags, &s.IsPublic, &s.Version, &s.UpdatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

// Graph returns every note as a node and every similarity edge whose
// endpoints are both visible.
func (db *DB) Graph(ctx context.Context, publicOnly bool) ([]models.NoteSummary, []models.Link, error) {
	nodes, _, err := db.ListNotes(ctx, ListQuery{Limit: -1, PublicOnly: publicOnly})
	if err != nil {
		return nil, nil, err
	}

	q := `
		SELECT l.src_id, l.dst_id, l.score
		FROM note_links l
		JOIN notes s ON s.id = l.src_id
		JOIN notes d ON d.id = l.dst_id`
	if publicOnly {
		q += ` WHERE s.is_public = 1 AND d.is_public = 1`
	}
	q += ` ORDER BY l.src_id, l.score DESC, l.dst_id`

	rows, err := db.conn.QueryContext(ctx, q)
	if err != nil {
		return nil, nil, fmt.Errorf("store: graph links: %w", err)
	}
	defer rows.Close()

	links := []models.Link{}
	for rows.Next() {
		var l models.Link
		if err := rows.Scan(&l.SrcID, &l.DstID, &l.Score); err != nil {
			return nil, nil, err
		}
		links = append(links, l)
	}
	return nodes, links, rows.Err()
}
