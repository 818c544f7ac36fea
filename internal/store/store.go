package store

import (
	"context"

	"github.com/starford/flowstate/internal/models"
	"github.com/starford/flowstate/internal/similarity"
)

// NoteStore defines the persistence operations used by the note service.
// Consumers should depend on this interface rather than the concrete *DB type.
type NoteStore interface {
	similarity.Index

	CreateNote(ctx context.Context, in models.NoteInput) (*models.Note, error)
	UpdateNote(ctx context.Context, id int64, in models.NoteInput, expectedVersion int) (*models.Note, error)
	SetPublic(ctx context.Context, id int64, public bool) error
	DeleteNote(ctx context.Context, id int64) error
	GetNote(ctx context.Context, id int64, publicOnly bool) (*models.Note, error)
	GetNoteBySlug(ctx context.Context, slug string, publicOnly bool) (*models.Note, error)
	ListNotes(ctx context.Context, q ListQuery) ([]models.NoteSummary, int, error)
	Related(ctx context.Context, id int64, limit int, publicOnly bool) ([]models.LinkedNote, error)
	Backlinks(ctx context.Context, id int64, publicOnly bool) ([]models.LinkedNote, error)
	Graph(ctx context.Context, publicOnly bool) ([]models.NoteSummary, []models.Link, error)
	Search(ctx context.Context, query string, limit int) ([]models.SearchHit, error)
	Ping() error
	Close() error
}

// ListQuery filters and paginates ListNotes.
type ListQuery struct {
	Limit      int
	Offset     int
	Tag        string
	PublicOnly bool
}

// Verify *DB satisfies NoteStore at compile time.
var _ NoteStore = (*DB)(nil)
