package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/starford/flowstate/internal/models"
	"github.com/starford/flowstate/internal/similarity"
	"github.com/starford/flowstate/internal/terms"
)

// termChunk keeps IN (...) lists well below SQLite's bound-parameter limit.
const termChunk = 500

// ReplaceTerms swaps the note's stored term vector for v in one transaction.
func (db *DB) ReplaceTerms(ctx context.Context, noteID int64, v terms.Vector) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM note_terms WHERE note_id = ?`, noteID); err != nil {
		return fmt.Errorf("store: clear terms: %w", err)
	}
	if len(v) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO note_terms (note_id, term, tf) VALUES (?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("store: prepare term insert: %w", err)
		}
		defer stmt.Close()
		for _, t := range v.Terms() {
			if _, err := stmt.ExecContext(ctx, noteID, t, v[t]); err != nil {
				return fmt.Errorf("store: insert term: %w", err)
			}
		}
	}
	return tx.Commit()
}

// TermVector returns the stored vector of a note; empty if never indexed.
func (db *DB) TermVector(ctx context.Context, noteID int64) (terms.Vector, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT term, tf FROM note_terms WHERE note_id = ?`, noteID)
	if err != nil {
		return nil, fmt.Errorf("store: term vector: %w", err)
	}
	defer rows.Close()

	v := terms.Vector{}
	for rows.Next() {
		var (
			t  string
			tf float64
		)
		if err := rows.Scan(&t, &tf); err != nil {
			return nil, err
		}
		v[t] = tf
	}
	return v, rows.Err()
}

// CandidateVectors looks up every other note sharing a term with termList via
// the term index and returns their weights restricted to termList.
func (db *DB) CandidateVectors(ctx context.Context, noteID int64, termList []string) (map[int64]terms.Vector, error) {
	out := make(map[int64]terms.Vector)
	for _, chunk := range chunks(termList, termChunk) {
		args := make([]any, 0, len(chunk)+1)
		args = append(args, noteID)
		for _, t := range chunk {
			args = append(args, t)
		}
		rows, err := db.conn.QueryContext(ctx, `
			SELECT note_id, term, tf
			FROM note_terms
			WHERE note_id <> ? AND term IN (`+placeholders(len(chunk))+`)
		`, args...)
		if err != nil {
			return nil, fmt.Errorf("store: candidates: %w", err)
		}
		for rows.Next() {
			var (
				id int64
				t  string
				tf float64
			)
			if err := rows.Scan(&id, &t, &tf); err != nil {
				rows.Close()
				return nil, err
			}
			if out[id] == nil {
				out[id] = terms.Vector{}
			}
			out[id][t] = tf
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// DocumentFrequencies counts, for each term, how many notes contain it.
// Terms no note contains are absent from the result.
func (db *DB) DocumentFrequencies(ctx context.Context, termList []string) (map[string]int, error) {
	out := make(map[string]int, len(termList))
	for _, chunk := range chunks(termList, termChunk) {
		args := make([]any, len(chunk))
		for i, t := range chunk {
			args[i] = t
		}
		rows, err := db.conn.QueryContext(ctx, `
			SELECT term, COUNT(*)
			FROM note_terms
			WHERE term IN (`+placeholders(len(chunk))+`)
			GROUP BY term
		`, args...)
		if err != nil {
			return nil, fmt.Errorf("store: document frequencies: %w", err)
		}
		for rows.Next() {
			var (
				t  string
				df int
			)
			if err := rows.Scan(&t, &df); err != nil {
				rows.Close()
				return nil, err
			}
			out[t] = df
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// CountNotes returns the corpus size.
func (db *DB) CountNotes(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM notes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count notes: %w", err)
	}
	return n, nil
}

// ReplaceEdges swaps the outbound edge set of srcID in one transaction, so
// readers see either the old set or the new one.
func (db *DB) ReplaceEdges(ctx context.Context, srcID int64, links []models.Link) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM note_links WHERE src_id = ?`, srcID); err != nil {
		return fmt.Errorf("store: clear links: %w", err)
	}
	if len(links) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO note_links (src_id, dst_id, score) VALUES (?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("store: prepare link insert: %w", err)
		}
		defer stmt.Close()
		for _, l := range links {
			if _, err := stmt.ExecContext(ctx, srcID, l.DstID, l.Score); err != nil {
				return fmt.Errorf("store: insert link: %w", err)
			}
		}
	}
	return tx.Commit()
}

// Documents returns the indexable text of every note in ascending id order.
func (db *DB) Documents(ctx context.Context) ([]similarity.Document, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, title, content FROM notes ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: documents: %w", err)
	}
	defer rows.Close()

	var out []similarity.Document
	for rows.Next() {
		var d similarity.Document
		if err := rows.Scan(&d.ID, &d.Title, &d.Content); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Related returns the note's outbound edges, best first.
func (db *DB) Related(ctx context.Context, id int64, limit int, publicOnly bool) ([]models.LinkedNote, error) {
	if limit <= 0 {
		limit = 10
	}
	q := `
		SELECT n.id, n.slug, n.title, l.score
		FROM note_links l
		JOIN notes n ON n.id = l.dst_id
		WHERE l.src_id = ?`
	if publicOnly {
		q += ` AND n.is_public = 1`
	}
	q += ` ORDER BY l.score DESC, l.dst_id ASC LIMIT ?`
	return db.linkedNotes(ctx, q, id, limit)
}

// Backlinks returns the notes whose top edges point at id, best first.
func (db *DB) Backlinks(ctx context.Context, id int64, publicOnly bool) ([]models.LinkedNote, error) {
	q := `
		SELECT n.id, n.slug, n.title, l.score
		FROM note_links l
		JOIN notes n ON n.id = l.src_id
		WHERE l.dst_id = ?`
	if publicOnly {
		q += ` AND n.is_public = 1`
	}
	q += ` ORDER BY l.score DESC, l.src_id ASC`
	return db.linkedNotes(ctx, q, id)
}

func (db *DB) linkedNotes(ctx context.Context, q string, args ...any) ([]models.LinkedNote, error) {
	rows, err := db.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: linked notes: %w", err)
	}
	defer rows.Close()

	out := []models.LinkedNote{}
	for rows.Next() {
		var n models.LinkedNote
		if err := rows.Scan(&n.ID, &n.Slug, &n.Title, &n.Score); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

// chunks splits a sorted copy of list into slices of at most size elements.
func chunks(list []string, size int) [][]string {
	sorted := append([]string(nil), list...)
	sort.Strings(sorted)
	var out [][]string
	for len(sorted) > size {
		out = append(out, sorted[:size])
		sorted = sorted[size:]
	}
	if len(sorted) > 0 {
		out = append(out, sorted)
	}
	return out
}
