package api

import (
	"github.com/starford/flowstate/internal/models"
	"github.com/starford/flowstate/internal/noteservice"
)

// NoteRequest is the body of the create and update contracts.
type NoteRequest struct {
	Title   string `json:"title" example:"Hello"`
	Content string `json:"content" example:"# Hello\nWorld"`
	Tags    string `json:"tags" example:"go, notes"`
	Slug    string `json:"slug,omitempty" example:"hello"`
}

func (r NoteRequest) input() models.NoteInput {
	return models.NoteInput{Title: r.Title, Content: r.Content, Tags: r.Tags, Slug: r.Slug}
}

// CreateNoteResponse is returned with 201 Created.
type CreateNoteResponse struct {
	OK      bool   `json:"ok"`
	ID      int64  `json:"id" example:"7"`
	Version int    `json:"version" example:"1"`
	Slug    string `json:"slug" example:"hello"`
}

// UpdateNoteResponse is returned after an accepted update.
type UpdateNoteResponse struct {
	OK      bool   `json:"ok"`
	Version int    `json:"version" example:"2"`
	ETag    string `json:"etag" example:"\"v2\""`
	Slug    string `json:"slug" example:"hello"`
}

// NoteDetail is the full note response (aliased from the domain layer).
type NoteDetail = noteservice.NoteDetail

// NoteListResponse wraps paginated note listings.
type NoteListResponse struct {
	Notes []models.NoteSummary `json:"notes"`
	Total int                  `json:"total" example:"42"`
}

// LinkedNotesResponse wraps related notes or backlinks.
type LinkedNotesResponse struct {
	Notes []models.LinkedNote `json:"notes"`
}

// PublishResponse reports the new visibility.
type PublishResponse struct {
	OK     bool `json:"ok"`
	Public bool `json:"public"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []models.SearchHit `json:"results"`
}

// GraphResponse wraps the similarity graph.
type GraphResponse struct {
	Nodes []models.NoteSummary `json:"nodes"`
	Links []models.Link        `json:"links"`
}

// ReindexResponse reports how many notes were processed.
type ReindexResponse struct {
	OK    bool `json:"ok"`
	Count int  `json:"count"`
}
