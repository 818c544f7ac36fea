//go:build !sqlite_fts5

package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/starford/flowstate/internal/models"
)

func initFTS(_ *sql.DB) error {
	// FTS5 not available; search uses LIKE over the notes table.
	return nil
}

func ftsUpsert(_ *sql.Tx, _ int64, _, _, _ string) error { return nil }

func ftsDelete(_ *sql.Tx, _ int64) {}

// Search performs a LIKE-based search ordered by recency.
func (db *DB) Search(ctx context.Context, query string, limit int) ([]models.SearchHit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []models.SearchHit{}, nil
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	return db.likeSearch(ctx, query, limit)
}
