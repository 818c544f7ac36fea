package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/flowstate/internal/apperr"
	"github.com/starford/flowstate/internal/models"
	"github.com/starford/flowstate/internal/noteservice"
	"github.com/starford/flowstate/internal/store"
)

const maxBodyBytes = 10 << 20

// Handler holds API route handlers.
type Handler struct {
	svc *noteservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *noteservice.Service) *Handler {
	return &Handler{svc: svc}
}

func noteID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("invalid_id")
	}
	return id, nil
}

func slugRef(r *http.Request) noteservice.Ref {
	return noteservice.Ref{Slug: chi.URLParam(r, "slug")}
}

func decodeNote(w http.ResponseWriter, r *http.Request) (models.NoteInput, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req NoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return models.NoteInput{}, apperr.Validation("invalid_json")
	}
	return req.input(), nil
}

// ListNotes handles GET /api/notes.
//
//	@Summary		List notes with optional pagination and tag filter
//	@Tags			notes
//	@Produce		json
//	@Param			limit	query		int		false	"Page size"
//	@Param			offset	query		int		false	"Page offset"
//	@Param			tag		query		string	false	"Filter by tag"
//	@Param			public	query		int		false	"1 for public notes only"
//	@Success		200		{object}	NoteListResponse
//	@Router			/notes [get]
func (h *Handler) ListNotes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	if limit < 0 {
		limit = 0
	}

	items, total, err := h.svc.ListNotes(r.Context(), store.ListQuery{
		Limit:      limit,
		Offset:     offset,
		Tag:        q.Get("tag"),
		PublicOnly: isPublicRead(r),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if items == nil {
		items = []models.NoteSummary{}
	}
	writeJSON(w, http.StatusOK, NoteListResponse{Notes: items, Total: total})
}

// GetNote handles GET /api/notes/{id}.
//
//	@Summary		Get a note with related notes and backlinks
//	@Tags			notes
//	@Produce		json
//	@Param			id				path		int		true	"Note id"
//	@Param			If-None-Match	header		string	false	"ETag from a previous read"
//	@Success		200				{object}	NoteDetail
//	@Success		304				"Not modified"
//	@Failure		404				{object}	errResponse
//	@Router			/notes/{id} [get]
func (h *Handler) GetNote(w http.ResponseWriter, r *http.Request) {
	id, err := noteID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.writeDetail(w, r, noteservice.Ref{ID: id})
}

// GetNoteBySlug handles GET /api/notes/slug/{slug}.
func (h *Handler) GetNoteBySlug(w http.ResponseWriter, r *http.Request) {
	h.writeDetail(w, r, slugRef(r))
}

func (h *Handler) writeDetail(w http.ResponseWriter, r *http.Request, ref noteservice.Ref) {
	publicOnly := isPublicRead(r)

	if inm := r.Header.Get("If-None-Match"); inm != "" {
		current, err := h.svc.CurrentVersion(r.Context(), ref, publicOnly)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if v, ok := models.ParseETag(inm); ok && v == current {
			w.Header().Set("ETag", models.ETag(current))
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}

	detail, err := h.svc.GetNote(r.Context(), ref, publicOnly)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("ETag", detail.ETag)
	writeJSON(w, http.StatusOK, detail)
}

// Related handles GET /api/notes/slug/{slug}/related.
func (h *Handler) Related(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	notes, err := h.svc.Related(r.Context(), slugRef(r), limit, isPublicRead(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if notes == nil {
		notes = []models.LinkedNote{}
	}
	writeJSON(w, http.StatusOK, LinkedNotesResponse{Notes: notes})
}

// Backlinks handles GET /api/notes/slug/{slug}/backlinks.
func (h *Handler) Backlinks(w http.ResponseWriter, r *http.Request) {
	notes, err := h.svc.Backlinks(r.Context(), slugRef(r), isPublicRead(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if notes == nil {
		notes = []models.LinkedNote{}
	}
	writeJSON(w, http.StatusOK, LinkedNotesResponse{Notes: notes})
}

// CreateNote handles POST /api/notes.
//
//	@Summary		Create a new note at version 1
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			body	body		NoteRequest	true	"Note to create"
//	@Success		201		{object}	CreateNoteResponse
//	@Failure		422		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes [post]
func (h *Handler) CreateNote(w http.ResponseWriter, r *http.Request) {
	in, err := decodeNote(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	note, err := h.svc.CreateNote(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("ETag", models.ETag(note.Version))
	writeJSON(w, http.StatusCreated, CreateNoteResponse{
		OK:      true,
		ID:      note.ID,
		Version: note.Version,
		Slug:    note.Slug,
	})
}

// UpdateNote handles PUT /api/notes/{id}.
//
//	@Summary		Update a note with optimistic concurrency
//	@Tags			notes
//	@Accept			json
//	@Produce		json
//	@Param			id			path		int			true	"Note id"
//	@Param			If-Match	header		string		true	"ETag of the version being edited"
//	@Param			body		body		NoteRequest	true	"Updated note"
//	@Success		200			{object}	UpdateNoteResponse
//	@Failure		400			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Failure		422			{object}	errResponse
//	@Failure		428			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id} [put]
func (h *Handler) UpdateNote(w http.ResponseWriter, r *http.Request) {
	id, err := noteID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	expected, ok := models.ParseETag(r.Header.Get("If-Match"))
	if !ok {
		writeError(w, r, apperr.Validation("missing_if_match"))
		return
	}
	in, err := decodeNote(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	note, err := h.svc.UpdateNote(r.Context(), id, in, expected)
	if err != nil {
		writeError(w, r, err)
		return
	}
	etag := models.ETag(note.Version)
	w.Header().Set("ETag", etag)
	writeJSON(w, http.StatusOK, UpdateNoteResponse{
		OK:      true,
		Version: note.Version,
		ETag:    etag,
		Slug:    note.Slug,
	})
}

// DeleteNote handles DELETE /api/notes/{id}.
//
//	@Summary		Delete a note
//	@Tags			notes
//	@Param			id	path	int	true	"Note id"
//	@Success		204	"Note deleted"
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/notes/{id} [delete]
func (h *Handler) DeleteNote(w http.ResponseWriter, r *http.Request) {
	id, err := noteID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.svc.DeleteNote(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Publish handles POST /api/notes/{id}/publish?public=1|0.
func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	id, err := noteID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	public, err := strconv.ParseBool(strings.TrimSpace(r.URL.Query().Get("public")))
	if err != nil {
		writeError(w, r, apperr.Validation("invalid_public"))
		return
	}
	note, err := h.svc.SetPublic(r.Context(), id, public)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PublishResponse{OK: true, Public: note.IsPublic})
}

// Search handles GET /api/search.
//
//	@Summary		Full-text search across notes
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, r, apperr.Validation("missing_query"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if results == nil {
		results = []models.SearchHit{}
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

// Graph handles GET /api/graph.
//
//	@Summary		Get the similarity graph
//	@Tags			graph
//	@Produce		json
//	@Param			public	query		int	false	"1 for public notes only"
//	@Success		200		{object}	GraphResponse
//	@Router			/graph [get]
func (h *Handler) Graph(w http.ResponseWriter, r *http.Request) {
	nodes, links, err := h.svc.Graph(r.Context(), isPublicRead(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if nodes == nil {
		nodes = []models.NoteSummary{}
	}
	if links == nil {
		links = []models.Link{}
	}
	writeJSON(w, http.StatusOK, GraphResponse{Nodes: nodes, Links: links})
}

// Reindex handles POST /api/reindex.
func (h *Handler) Reindex(w http.ResponseWriter, r *http.Request) {
	count, err := h.svc.ReindexAll(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ReindexResponse{OK: true, Count: count})
}
