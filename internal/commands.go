package internal

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/starford/flowstate/internal/mcpserver"
	"github.com/starford/flowstate/internal/noteservice"
	"github.com/starford/flowstate/internal/storage"
	"github.com/starford/flowstate/internal/store"
	"github.com/starford/flowstate/internal/vault"
)

// withService opens the configured store and runs fn against a service
// without an event broker.
func withService(opts []Option, fn func(app *application, svc *noteservice.Service, logger *slog.Logger) error) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := app.logger()

	db, err := store.Open(app.config.SQLite.Path)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()

	return fn(app, noteservice.NewService(db, nil, logger), logger)
}

// Reindex recomputes the similarity links of every note.
func Reindex(ctx context.Context, opts ...Option) (int, error) {
	var count int
	err := withService(opts, func(_ *application, svc *noteservice.Service, logger *slog.Logger) error {
		n, err := svc.ReindexAll(ctx)
		if err != nil {
			return fmt.Errorf("reindex: %w", err)
		}
		count = n
		logger.Info("reindex complete", slog.Int("notes", n))
		return nil
	})
	return count, err
}

// ImportVault creates a note for every Markdown file under dir.
func ImportVault(ctx context.Context, dir string, opts ...Option) (vault.ImportReport, error) {
	var rep vault.ImportReport
	err := withService(opts, func(_ *application, svc *noteservice.Service, logger *slog.Logger) error {
		src, err := storage.NewFS(dir)
		if err != nil {
			return fmt.Errorf("import: %w", err)
		}
		rep, err = vault.Import(ctx, src, svc, logger)
		return err
	})
	return rep, err
}

// ExportVault writes every note to dir as <slug>.md with YAML frontmatter.
func ExportVault(ctx context.Context, dir string, opts ...Option) (vault.ExportReport, error) {
	var rep vault.ExportReport
	err := withService(opts, func(_ *application, svc *noteservice.Service, logger *slog.Logger) error {
		dst, err := storage.CreateFS(dir)
		if err != nil {
			return fmt.Errorf("export: %w", err)
		}
		rep, err = vault.Export(ctx, dst, svc)
		if err == nil {
			logger.Info("export complete",
				slog.String("dir", dst.Root()),
				slog.Int("written", rep.Written),
				slog.Int("unchanged", rep.Unchanged))
		}
		return err
	})
	return rep, err
}

// ServeMCP serves the note tools over stdio until the client disconnects.
// Logs must not go to stdout here; pass WithLogOutput(os.Stderr).
func ServeMCP(_ context.Context, opts ...Option) error {
	return withService(opts, func(app *application, svc *noteservice.Service, logger *slog.Logger) error {
		logger.Info("MCP server starting", slog.String("version", app.version))
		return mcpserver.New(svc, app.version).ServeStdio()
	})
}
