// Package noteservice coordinates the note store, the similarity linker and
// change notifications.
package noteservice

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/starford/flowstate/internal/apperr"
	"github.com/starford/flowstate/internal/metrics"
	"github.com/starford/flowstate/internal/models"
	"github.com/starford/flowstate/internal/parser"
	"github.com/starford/flowstate/internal/similarity"
	"github.com/starford/flowstate/internal/sse"
	"github.com/starford/flowstate/internal/store"
)

// DefaultRelatedLimit is the number of related notes returned with a note.
const DefaultRelatedLimit = 10

// Notifier receives note change events. *sse.Broker implements it.
type Notifier interface {
	NoteChanged(kind sse.Kind, id int64, slug string)
	Publish(e sse.Event)
}

type nopNotifier struct{}

func (nopNotifier) NoteChanged(sse.Kind, int64, string) {}
func (nopNotifier) Publish(sse.Event)                   {}

// NoteDetail is a note together with its state token and precomputed neighbours.
type NoteDetail struct {
	Note      *models.Note        `json:"note"`
	ETag      string              `json:"etag"`
	Related   []models.LinkedNote `json:"related"`
	Backlinks []models.LinkedNote `json:"backlinks"`
	WikiLinks []string            `json:"wikilinks"`
}

// Ref addresses a note by id or, when ID is zero, by slug.
type Ref struct {
	ID   int64
	Slug string
}

// relinkStripes bounds the per-note relink locks.
const relinkStripes = 64

// Service coordinates store, linker and notifications.
type Service struct {
	db     store.NoteStore
	linker *similarity.Linker
	notify Notifier
	logger *slog.Logger

	// relinks of one note run one at a time (striped by id).
	relinkMu [relinkStripes]sync.Mutex
}

// NewService creates a note service. notify may be nil.
func NewService(db store.NoteStore, notify Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if notify == nil {
		notify = nopNotifier{}
	}
	return &Service{
		db:     db,
		linker: similarity.NewLinker(db, logger),
		notify: notify,
		logger: logger,
	}
}

// ValidateInput rejects notes without a title or content.
func ValidateInput(in models.NoteInput) error {
	trimmed := struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	}{strings.TrimSpace(in.Title), strings.TrimSpace(in.Content)}

	err := validation.ValidateStruct(&trimmed,
		validation.Field(&trimmed.Title, validation.Required),
		validation.Field(&trimmed.Content, validation.Required),
	)
	if err == nil {
		return nil
	}
	verr := &apperr.ValidationError{Reason: "missing_fields", Fields: map[string]string{}}
	var fields validation.Errors
	if errors.As(err, &fields) {
		for name, ferr := range fields {
			verr.Fields[name] = ferr.Error()
		}
	}
	return verr
}

// CreateNote stores a new note at version 1 and links it into the graph.
func (s *Service) CreateNote(ctx context.Context, in models.NoteInput) (*models.Note, error) {
	if err := ValidateInput(in); err != nil {
		metrics.NoteWritesTotal.WithLabelValues("create", "invalid").Inc()
		return nil, err
	}
	n, err := s.db.CreateNote(ctx, in)
	if err != nil {
		metrics.NoteWritesTotal.WithLabelValues("create", "error").Inc()
		return nil, err
	}
	metrics.NoteWritesTotal.WithLabelValues("create", "ok").Inc()
	s.relink(ctx, n)
	s.notify.NoteChanged(sse.NoteCreated, n.ID, n.Slug)
	return n, nil
}

// UpdateNote applies in if expectedVersion is current and relinks the note.
func (s *Service) UpdateNote(ctx context.Context, id int64, in models.NoteInput, expectedVersion int) (*models.Note, error) {
	if err := ValidateInput(in); err != nil {
		metrics.NoteWritesTotal.WithLabelValues("update", "invalid").Inc()
		return nil, err
	}
	n, err := s.db.UpdateNote(ctx, id, in, expectedVersion)
	if err != nil {
		metrics.NoteWritesTotal.WithLabelValues("update", outcome(err)).Inc()
		return nil, err
	}
	metrics.NoteWritesTotal.WithLabelValues("update", "ok").Inc()
	s.relink(ctx, n)
	s.notify.NoteChanged(sse.NoteUpdated, n.ID, n.Slug)
	return n, nil
}

// SetPublic toggles visibility without touching version or index.
func (s *Service) SetPublic(ctx context.Context, id int64, public bool) (*models.Note, error) {
	if err := s.db.SetPublic(ctx, id, public); err != nil {
		metrics.NoteWritesTotal.WithLabelValues("publish", outcome(err)).Inc()
		return nil, err
	}
	metrics.NoteWritesTotal.WithLabelValues("publish", "ok").Inc()
	n, err := s.db.GetNote(ctx, id, false)
	if err != nil {
		return nil, err
	}
	s.notify.NoteChanged(sse.NotePublished, n.ID, n.Slug)
	return n, nil
}

// DeleteNote removes a note along with its terms and edges.
func (s *Service) DeleteNote(ctx context.Context, id int64) error {
	n, err := s.db.GetNote(ctx, id, false)
	if err != nil {
		metrics.NoteWritesTotal.WithLabelValues("delete", outcome(err)).Inc()
		return err
	}
	if err := s.db.DeleteNote(ctx, id); err != nil {
		metrics.NoteWritesTotal.WithLabelValues("delete", outcome(err)).Inc()
		return err
	}
	metrics.NoteWritesTotal.WithLabelValues("delete", "ok").Inc()
	s.notify.NoteChanged(sse.NoteDeleted, n.ID, n.Slug)
	return nil
}

// GetNote loads a note with its related notes, backlinks and wiki links.
func (s *Service) GetNote(ctx context.Context, ref Ref, publicOnly bool) (*NoteDetail, error) {
	n, err := s.resolve(ctx, ref, publicOnly)
	if err != nil {
		return nil, err
	}
	related, err := s.db.Related(ctx, n.ID, DefaultRelatedLimit, publicOnly)
	if err != nil {
		return nil, err
	}
	backlinks, err := s.db.Backlinks(ctx, n.ID, publicOnly)
	if err != nil {
		return nil, err
	}
	return &NoteDetail{
		Note:      n,
		ETag:      models.ETag(n.Version),
		Related:   related,
		Backlinks: backlinks,
		WikiLinks: parser.WikiLinks(n.Content),
	}, nil
}

// CurrentVersion returns the stored version, for conditional reads.
func (s *Service) CurrentVersion(ctx context.Context, ref Ref, publicOnly bool) (int, error) {
	n, err := s.resolve(ctx, ref, publicOnly)
	if err != nil {
		return 0, err
	}
	return n.Version, nil
}

// Related returns up to limit outbound neighbours of the note, best first.
func (s *Service) Related(ctx context.Context, ref Ref, limit int, publicOnly bool) ([]models.LinkedNote, error) {
	n, err := s.resolve(ctx, ref, publicOnly)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultRelatedLimit
	}
	return s.db.Related(ctx, n.ID, limit, publicOnly)
}

// Backlinks returns the notes whose top edges point at the note.
func (s *Service) Backlinks(ctx context.Context, ref Ref, publicOnly bool) ([]models.LinkedNote, error) {
	n, err := s.resolve(ctx, ref, publicOnly)
	if err != nil {
		return nil, err
	}
	return s.db.Backlinks(ctx, n.ID, publicOnly)
}

// ListNotes returns a page of summaries and the total count. A negative
// limit lists everything.
func (s *Service) ListNotes(ctx context.Context, q store.ListQuery) ([]models.NoteSummary, int, error) {
	return s.db.ListNotes(ctx, q)
}

// Search runs a full-text query, best first.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]models.SearchHit, error) {
	return s.db.Search(ctx, query, limit)
}

// Graph returns nodes and similarity edges.
func (s *Service) Graph(ctx context.Context, publicOnly bool) ([]models.NoteSummary, []models.Link, error) {
	return s.db.Graph(ctx, publicOnly)
}

// ReindexAll rebuilds every term vector and edge set in ascending id order
// and returns the number of notes processed.
func (s *Service) ReindexAll(ctx context.Context) (int, error) {
	count, err := s.linker.ReindexAll(ctx)
	metrics.NotesReindexed.Add(float64(count))
	if err != nil {
		return count, err
	}
	s.notify.Publish(sse.Event{Type: "graph.updated", Data: map[string]int{"reindexed": count}})
	return count, nil
}

// Ping reports whether the store is reachable.
func (s *Service) Ping() error {
	return s.db.Ping()
}

func (s *Service) resolve(ctx context.Context, ref Ref, publicOnly bool) (*models.Note, error) {
	if ref.ID != 0 {
		return s.db.GetNote(ctx, ref.ID, publicOnly)
	}
	if ref.Slug == "" {
		return nil, apperr.Validation("invalid_id")
	}
	return s.db.GetNoteBySlug(ctx, ref.Slug, publicOnly)
}

// relink recomputes the note's vector and outbound edges. The write it
// follows is already committed, so a failure only leaves derived state
// stale until the next reindex. A relink for a version that has since been
// superseded is skipped: the newer write relinks after it.
func (s *Service) relink(ctx context.Context, n *models.Note) {
	mu := &s.relinkMu[uint64(n.ID)%relinkStripes]
	mu.Lock()
	defer mu.Unlock()

	current, err := s.db.GetNote(ctx, n.ID, false)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return
	case err != nil:
		s.logger.Warn("noteservice: relink failed",
			slog.Int64("note_id", n.ID),
			slog.String("error", err.Error()))
		return
	case current.Version > n.Version:
		s.logger.Debug("noteservice: relink skipped, superseded",
			slog.Int64("note_id", n.ID),
			slog.Int("version", n.Version),
			slog.Int("current", current.Version))
		return
	}

	timer := prometheus.NewTimer(metrics.LinkDuration)
	defer timer.ObserveDuration()

	edges, err := s.linker.Reindex(ctx, similarity.Document{ID: current.ID, Title: current.Title, Content: current.Content})
	if err != nil {
		s.logger.Warn("noteservice: relink failed",
			slog.Int64("note_id", n.ID),
			slog.String("error", err.Error()))
		return
	}
	s.logger.Debug("noteservice: relinked",
		slog.Int64("note_id", n.ID),
		slog.Int("edges", edges))
}

func outcome(err error) string {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		return "not_found"
	case errors.Is(err, apperr.ErrConflict):
		return "conflict"
	case errors.Is(err, apperr.ErrValidation):
		return "invalid"
	default:
		return "error"
	}
}
