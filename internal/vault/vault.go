// Package vault moves notes between the store and a directory of Markdown files.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/starford/flowstate/internal/apperr"
	"github.com/starford/flowstate/internal/models"
	"github.com/starford/flowstate/internal/noteservice"
	"github.com/starford/flowstate/internal/parser"
	"github.com/starford/flowstate/internal/storage"
	"github.com/starford/flowstate/internal/store"
)

// Notes is the slice of the note service that import and export need.
type Notes interface {
	CreateNote(ctx context.Context, in models.NoteInput) (*models.Note, error)
	SetPublic(ctx context.Context, id int64, public bool) (*models.Note, error)
	GetNote(ctx context.Context, ref noteservice.Ref, publicOnly bool) (*noteservice.NoteDetail, error)
	ListNotes(ctx context.Context, q store.ListQuery) ([]models.NoteSummary, int, error)
	ReindexAll(ctx context.Context) (int, error)
}

var _ Notes = (*noteservice.Service)(nil)

// ImportReport summarises an import run.
type ImportReport struct {
	Created    int
	Duplicates int
	Invalid    int
}

// ExportReport summarises an export run.
type ExportReport struct {
	Written   int
	Unchanged int
}

// Import creates a note for every Markdown file under src. Files whose
// content repeats an earlier file are skipped, and files without a title
// or body are logged and skipped. The corpus is reindexed afterwards so
// early notes link to later ones.
func Import(ctx context.Context, src storage.Provider, notes Notes, logger *slog.Logger) (ImportReport, error) {
	var rep ImportReport
	files, err := src.List("")
	if err != nil {
		return rep, fmt.Errorf("vault: import: %w", err)
	}

	seen := make(map[string]string, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if first, dup := seen[f.Checksum]; dup {
			logger.Info("vault: duplicate skipped", slog.String("path", f.Path), slog.String("same_as", first))
			rep.Duplicates++
			continue
		}
		seen[f.Checksum] = f.Path

		data, err := src.Read(f.Path)
		if err != nil {
			return rep, fmt.Errorf("vault: import: %w", err)
		}
		doc := parser.ParseFile(f.Path, data)
		n, err := notes.CreateNote(ctx, doc.Input())
		if errors.Is(err, apperr.ErrValidation) {
			logger.Warn("vault: invalid note skipped", slog.String("path", f.Path), slog.String("error", err.Error()))
			rep.Invalid++
			continue
		}
		if err != nil {
			return rep, fmt.Errorf("vault: import %s: %w", f.Path, err)
		}
		if doc.Public {
			if _, err := notes.SetPublic(ctx, n.ID, true); err != nil {
				return rep, fmt.Errorf("vault: publish %s: %w", f.Path, err)
			}
		}
		rep.Created++
		logger.Debug("vault: imported", slog.String("path", f.Path), slog.String("slug", n.Slug))
	}

	if rep.Created > 0 {
		if _, err := notes.ReindexAll(ctx); err != nil {
			return rep, fmt.Errorf("vault: reindex after import: %w", err)
		}
	}
	return rep, nil
}

// Export writes every note to dst as <slug>.md with frontmatter.
func Export(ctx context.Context, dst storage.Provider, notes Notes) (ExportReport, error) {
	var rep ExportReport
	items, _, err := notes.ListNotes(ctx, store.ListQuery{Limit: -1})
	if err != nil {
		return rep, fmt.Errorf("vault: export: %w", err)
	}
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		detail, err := notes.GetNote(ctx, noteservice.Ref{ID: item.ID}, false)
		if errors.Is(err, apperr.ErrNotFound) {
			continue // deleted since listing
		}
		if err != nil {
			return rep, fmt.Errorf("vault: export %s: %w", item.Slug, err)
		}
		data, err := parser.Format(detail.Note)
		if err != nil {
			return rep, err
		}
		written, err := dst.Write(item.Slug+".md", data)
		if err != nil {
			return rep, fmt.Errorf("vault: export %s: %w", item.Slug, err)
		}
		if written {
			rep.Written++
		} else {
			rep.Unchanged++
		}
	}
	return rep, nil
}
