//go:build sqlite_fts5

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/starford/flowstate/internal/models"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS notes_fts USING fts5(
			note_id UNINDEXED,
			title,
			content,
			tags,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsUpsert(tx *sql.Tx, id int64, title, content, tags string) error {
	_, _ = tx.Exec(`DELETE FROM notes_fts WHERE note_id = ?`, id)
	_, err := tx.Exec(`INSERT INTO notes_fts (note_id, title, content, tags) VALUES (?, ?, ?, ?)`,
		id, title, content, tags)
	if err != nil {
		return fmt.Errorf("store: upsert fts: %w", err)
	}
	return nil
}

func ftsDelete(tx *sql.Tx, id int64) {
	_, _ = tx.Exec(`DELETE FROM notes_fts WHERE note_id = ?`, id)
}

// Search ranks notes by bm25 relevance. A query FTS5 cannot parse falls back
// to the recency-ordered LIKE search.
func (db *DB) Search(ctx context.Context, query string, limit int) ([]models.SearchHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []models.SearchHit{}, nil
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	hits, err := db.ftsSearch(ctx, matchExpr(query), limit)
	if err != nil {
		return db.likeSearch(ctx, query, limit)
	}
	return hits, nil
}

func (db *DB) ftsSearch(ctx context.Context, match string, limit int) ([]models.SearchHit, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT n.id, n.slug, n.title, -bm25(notes_fts) AS score
		FROM notes_fts f
		JOIN notes n ON n.id = f.note_id
		WHERE notes_fts MATCH ?
		ORDER BY bm25(notes_fts)
		LIMIT ?
	`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("store: search: %w", err)
	}
	defer rows.Close()

	out := []models.SearchHit{}
	for rows.Next() {
		var h models.SearchHit
		if err := rows.Scan(&h.ID, &h.Slug, &h.Title, &h.Score); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// matchExpr quotes each word so user input is never parsed as FTS5 syntax.
func matchExpr(query string) string {
	words := strings.Fields(query)
	for i, w := range words {
		words[i] = `"` + strings.ReplaceAll(w, `"`, `""`) + `"`
	}
	return strings.Join(words, " ")
}
