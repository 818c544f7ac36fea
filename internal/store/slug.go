package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/mattn/go-sqlite3"
)

// DefaultSlug is used when a title has no slug-safe characters.
const DefaultSlug = "note"

// maxSlugAttempts bounds retries when a concurrent writer takes the same slug.
const maxSlugAttempts = 5

var nonSlugRe = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases s, collapses runs of non-alphanumerics to a single
// hyphen and trims hyphens from both ends.
func Slugify(s string) string {
	out := strings.Trim(nonSlugRe.ReplaceAllString(strings.ToLower(s), "-"), "-")
	if out == "" {
		return DefaultSlug
	}
	return out
}

// uniqueSlug returns base, or base-2, base-3, ... whichever is first unused.
// A slug already owned by selfID counts as free.
func uniqueSlug(ctx context.Context, tx *sql.Tx, base string, selfID int64) (string, error) {
	for n := 1; ; n++ {
		candidate := base
		if n > 1 {
			candidate = fmt.Sprintf("%s-%d", base, n)
		}
		var owner int64
		err := tx.QueryRowContext(ctx, `SELECT id FROM notes WHERE slug = ?`, candidate).Scan(&owner)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return candidate, nil
		case err != nil:
			return "", fmt.Errorf("store: check slug: %w", err)
		case owner == selfID:
			return candidate, nil
		}
	}
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}
