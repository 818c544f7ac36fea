package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/starford/flowstate/internal/apperr"
	"github.com/starford/flowstate/internal/client"
	"github.com/starford/flowstate/internal/models"
	"github.com/starford/flowstate/internal/noteservice"
	"github.com/starford/flowstate/internal/outbox"
)

// ClientApp is the offline-capable writer: writes go to the server when it
// is reachable and to the local outbox when it is not.
type ClientApp struct {
	cfg    *Config
	logger *slog.Logger
	remote *client.Client
	sync   *outbox.Synchronizer
}

// Submitted describes where a write ended up.
type Submitted struct {
	// Queued is set when the write went to the outbox instead of the server.
	Queued  bool
	Entry   outbox.Entry
	Created *client.Created
	Updated *client.Updated
}

// OpenClient connects the configured outbox and API client. Close it when done.
func OpenClient(opts ...Option) (*ClientApp, error) {
	app, err := newApplication(opts)
	if err != nil {
		return nil, err
	}
	cfg := app.config
	logger := app.logger()

	remote, err := client.New(cfg.Client.ServerURL, cfg.Client.Token, cfg.Client.Timeout, client.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("init client: %w", err)
	}
	log, err := outbox.Open(cfg.Client.OutboxPath)
	if err != nil {
		return nil, fmt.Errorf("init outbox: %w", err)
	}

	c := &ClientApp{cfg: cfg, logger: logger, remote: remote}
	c.sync = outbox.NewSynchronizer(log, remote, logger, outbox.OnSynced(func(rep outbox.Report) {
		logger.Info("client: in sync with server",
			slog.Int("applied", rep.Applied),
			slog.Int("rejected", rep.Rejected),
			slog.Int("remaining", rep.Remaining))
	}))
	return c, nil
}

// Close closes the outbox.
func (c *ClientApp) Close() error { return c.sync.Log().Close() }

// Create sends a new note, or queues it when the server is unreachable.
func (c *ClientApp) Create(ctx context.Context, in models.NoteInput) (Submitted, error) {
	return c.submit(ctx, outbox.Entry{Kind: outbox.KindCreate, Payload: in}, func(ctx context.Context) (Submitted, error) {
		created, err := c.remote.Create(ctx, in)
		return Submitted{Created: created}, err
	})
}

// Update sends an update guarded by etag, or queues it when the server is
// unreachable. Conflicts are returned, never queued.
func (c *ClientApp) Update(ctx context.Context, id int64, in models.NoteInput, etag string) (Submitted, error) {
	e := outbox.Entry{Kind: outbox.KindUpdate, Payload: in, NoteID: id, ETag: etag}
	return c.submit(ctx, e, func(ctx context.Context) (Submitted, error) {
		updated, err := c.remote.Update(ctx, id, in, etag)
		return Submitted{Updated: updated}, err
	})
}

// submit keeps writes in order: with entries already queued the new write
// joins the queue and a drain is attempted, otherwise it goes straight out.
// Invalid input is refused up front and never queued. A write keeps one
// request id whether it is sent directly, queued, or replayed later.
func (c *ClientApp) submit(ctx context.Context, e outbox.Entry, send func(context.Context) (Submitted, error)) (Submitted, error) {
	if err := noteservice.ValidateInput(e.Payload); err != nil {
		return Submitted{}, err
	}
	pending, err := c.sync.Log().Len(ctx)
	if err != nil {
		return Submitted{}, err
	}
	e.Key = uuid.NewString()
	if pending == 0 {
		res, err := send(client.WithRequestID(ctx, e.Key))
		if !errors.Is(err, apperr.ErrTransient) {
			return res, err
		}
		c.logger.Info("client: server unreachable, queueing write", slog.String("error", err.Error()))
	}

	queued, err := c.sync.Log().Enqueue(ctx, e)
	if err != nil {
		return Submitted{}, err
	}
	if pending > 0 {
		if _, err := c.sync.Drain(ctx); err != nil {
			c.logger.Info("client: queued write not yet synced", slog.String("error", err.Error()))
		}
	}
	return Submitted{Queued: true, Entry: queued}, nil
}

// Get fetches a note from the server.
func (c *ClientApp) Get(ctx context.Context, id int64) (*client.Detail, error) {
	return c.remote.Get(ctx, id)
}

// Sync runs one drain pass.
func (c *ClientApp) Sync(ctx context.Context) (outbox.Report, error) {
	return c.sync.Drain(ctx)
}

// Watch keeps the outbox drained until ctx is cancelled.
func (c *ClientApp) Watch(ctx context.Context) error {
	return outbox.Watch(ctx, c.sync, c.cfg.Client.ProbeInterval, c.logger)
}

// Pending lists queued writes, oldest first.
func (c *ClientApp) Pending(ctx context.Context) ([]outbox.Entry, error) {
	return c.sync.Log().Entries(ctx)
}

// Discard drops a queued write.
func (c *ClientApp) Discard(ctx context.Context, seq int64) error {
	return c.sync.Log().Discard(ctx, seq)
}
