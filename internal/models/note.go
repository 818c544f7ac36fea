// Package models defines the domain types for FlowState.
package models

import "time"

// Note is a stored note. Version starts at 1 and grows by one per accepted update.
type Note struct {
	ID        int64     `json:"id"`
	Slug      string    `json:"slug"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Tags      string    `json:"tags"`
	IsPublic  bool      `json:"is_public"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NoteInput carries the mutable fields of the create and update contracts.
type NoteInput struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Tags    string `json:"tags"`
	Slug    string `json:"slug,omitempty"`
}

// Link is a directed similarity edge.
type Link struct {
	SrcID int64   `json:"src_id"`
	DstID int64   `json:"dst_id"`
	Score float64 `json:"score"`
}

// LinkedNote is a note reached through a similarity edge (related or backlink).
type LinkedNote struct {
	ID    int64   `json:"id"`
	Slug  string  `json:"slug"`
	Title string  `json:"title"`
	Score float64 `json:"score"`
}

// NoteSummary is a lightweight node used by listings and the graph.
type NoteSummary struct {
	ID        int64     `json:"id"`
	Slug      string    `json:"slug"`
	Title     string    `json:"title"`
	Tags      string    `json:"tags"`
	IsPublic  bool      `json:"is_public"`
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SearchHit is one search result, best first.
type SearchHit struct {
	ID    int64   `json:"id"`
	Slug  string  `json:"slug"`
	Title string  `json:"title"`
	Score float64 `json:"score"`
}
