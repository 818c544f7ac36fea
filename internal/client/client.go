// Package client talks to a FlowState server over HTTP and classifies every
// outcome into the error taxonomy the outbox acts on.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/starford/flowstate/internal/apperr"
	"github.com/starford/flowstate/internal/models"
)

// DefaultTimeout bounds a single request; a timeout counts as a network failure.
const DefaultTimeout = 10 * time.Second

// RejectedError is a server answer that is neither success nor one of the
// classified failures, e.g. a 500.
type RejectedError struct {
	Status int
	Reason string
}

func (e *RejectedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("rejected: HTTP %d", e.Status)
	}
	return fmt.Sprintf("rejected: HTTP %d: %s", e.Status, e.Reason)
}

// Created is the server's answer to a create.
type Created struct {
	ID      int64  `json:"id"`
	Version int    `json:"version"`
	Slug    string `json:"slug"`
}

// Updated is the server's answer to an accepted update.
type Updated struct {
	Version int    `json:"version"`
	ETag    string `json:"etag"`
	Slug    string `json:"slug"`
}

// Detail is a note as returned by GET /api/notes/{id}.
type Detail struct {
	Note      models.Note         `json:"note"`
	ETag      string              `json:"etag"`
	Related   []models.LinkedNote `json:"related"`
	Backlinks []models.LinkedNote `json:"backlinks"`
}

// Client is a FlowState API client.
type Client struct {
	base   *url.URL
	token  string
	http   *http.Client
	logger *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the client's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client for the server at baseURL. token may be empty.
func New(baseURL, token string, timeout time.Duration, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("client: invalid server url %q", baseURL)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		base:   u,
		token:  token,
		http:   &http.Client{Timeout: timeout},
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Create posts a new note.
func (c *Client) Create(ctx context.Context, in models.NoteInput) (*Created, error) {
	var out Created
	if _, err := c.do(ctx, http.MethodPost, "/api/notes", in, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Update replaces note id, gated on etag ("v<N>" with or without quotes).
func (c *Client) Update(ctx context.Context, id int64, in models.NoteInput, etag string) (*Updated, error) {
	v, ok := models.ParseETag(etag)
	if !ok {
		return nil, apperr.Validation("missing_if_match")
	}
	hdr := http.Header{"If-Match": []string{models.ETag(v)}}
	var out Updated
	if _, err := c.do(ctx, http.MethodPut, "/api/notes/"+strconv.FormatInt(id, 10), in, hdr, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Get fetches a note with its current etag.
func (c *Client) Get(ctx context.Context, id int64) (*Detail, error) {
	var out Detail
	if _, err := c.do(ctx, http.MethodGet, "/api/notes/"+strconv.FormatInt(id, 10), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Ping reports whether the server is up and its store reachable. Any
// failure is ErrTransient.
func (c *Client) Ping(ctx context.Context) error {
	status, err := c.do(ctx, http.MethodGet, "/health/ready", nil, nil, nil)
	if err != nil {
		if errors.Is(err, apperr.ErrTransient) {
			return err
		}
		return fmt.Errorf("%w: readiness HTTP %d", apperr.ErrTransient, status)
	}
	return nil
}

type requestIDKey struct{}

// WithRequestID makes every request sent with ctx carry id as X-Request-Id.
// Replays of one queued write reuse its key so the server sees one id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

type errorBody struct {
	Error         string            `json:"error"`
	ServerVersion int               `json:"serverVersion"`
	Fields        map[string]string `json:"fields"`
}

func (c *Client) do(ctx context.Context, method, path string, body any, hdr http.Header, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("client: encode body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, reader)
	if err != nil {
		return 0, fmt.Errorf("client: build request: %w", err)
	}
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	reqID := requestID(ctx)
	req.Header.Set("X-Request-Id", reqID)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return 0, ctx.Err()
		}
		c.logger.Debug("client: transport error",
			slog.String("request_id", reqID),
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()))
		return 0, fmt.Errorf("%w: %s %s: %v", apperr.ErrTransient, method, path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("%w: read response: %v", apperr.ErrTransient, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out != nil && len(payload) > 0 {
			if err := json.Unmarshal(payload, out); err != nil {
				return resp.StatusCode, fmt.Errorf("client: decode response: %w", err)
			}
		}
		return resp.StatusCode, nil
	}
	return resp.StatusCode, classify(resp.StatusCode, payload)
}

// classify maps a non-2xx response onto the shared error taxonomy.
func classify(status int, payload []byte) error {
	var eb errorBody
	_ = json.Unmarshal(payload, &eb)

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return apperr.ErrUnauthorized
	case http.StatusConflict:
		return &apperr.VersionConflictError{Current: eb.ServerVersion}
	case http.StatusNotFound:
		return apperr.ErrNotFound
	case http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusPreconditionRequired:
		reason := eb.Error
		if reason == "" {
			reason = strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
		}
		return &apperr.ValidationError{Reason: reason, Fields: eb.Fields}
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return fmt.Errorf("%w: HTTP %d", apperr.ErrTransient, status)
	default:
		return &RejectedError{Status: status, Reason: eb.Error}
	}
}
