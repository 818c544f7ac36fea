package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/flowstate/internal/noteservice"
)

// NewRouter creates a chi router with all API routes mounted.
// auth guards every route; nil disables authentication. Read routes accept
// ?public=1 without credentials and then only see public notes.
// sseHandler, if non-nil, is mounted at GET /events.
func NewRouter(svc *noteservice.Service, auth Authenticator, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(Metrics)

	// Reads that may be served publicly.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(auth, true))
		r.Get("/notes", h.ListNotes)
		r.Get("/notes/slug/{slug}", h.GetNoteBySlug)
		r.Get("/notes/slug/{slug}/related", h.Related)
		r.Get("/notes/slug/{slug}/backlinks", h.Backlinks)
		r.Get("/notes/{id}", h.GetNote)
		r.Get("/graph", h.Graph)
	})

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(auth, false))
		r.Post("/notes", h.CreateNote)
		r.Put("/notes/{id}", h.UpdateNote)
		r.Delete("/notes/{id}", h.DeleteNote)
		r.Post("/notes/{id}/publish", h.Publish)
		r.Get("/search", h.Search)
		r.Post("/reindex", h.Reindex)

		if sseHandler != nil {
			r.Get("/events", sseHandler.ServeHTTP)
		}
	})

	return r
}
