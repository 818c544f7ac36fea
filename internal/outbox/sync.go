package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/starford/flowstate/internal/apperr"
	"github.com/starford/flowstate/internal/client"
	"github.com/starford/flowstate/internal/metrics"
	"github.com/starford/flowstate/internal/models"
)

// Remote is the server the outbox replays into. *client.Client implements it.
type Remote interface {
	Create(ctx context.Context, in models.NoteInput) (*client.Created, error)
	Update(ctx context.Context, id int64, in models.NoteInput, etag string) (*client.Updated, error)
	Ping(ctx context.Context) error
}

var _ Remote = (*client.Client)(nil)

// Report summarises one drain pass.
type Report struct {
	Applied  int
	Rejected int
	// Remaining is the queue length when the pass ended, including entries
	// enqueued while it ran.
	Remaining int
}

// Synchronizer drains a Log into a Remote.
type Synchronizer struct {
	log      *Log
	remote   Remote
	logger   *slog.Logger
	onSynced func(Report)
	group    singleflight.Group
}

// SyncOption configures a Synchronizer.
type SyncOption func(*Synchronizer)

// OnSynced registers a hook run after every pass that completes without
// aborting, so callers can refresh derived views.
func OnSynced(fn func(Report)) SyncOption {
	return func(s *Synchronizer) { s.onSynced = fn }
}

// NewSynchronizer creates a Synchronizer.
func NewSynchronizer(log *Log, remote Remote, logger *slog.Logger, opts ...SyncOption) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Synchronizer{log: log, remote: remote, logger: logger}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Log returns the underlying outbox.
func (s *Synchronizer) Log() *Log { return s.log }

// Drain replays every queued entry oldest first. Calls that overlap a
// running pass wait for it and share its result; entries enqueued meanwhile
// are left for the next pass.
//
// The pass aborts on ErrUnauthorized or ErrTransient (queue left as is from
// that entry on) and on context cancellation. Any other refusal marks the
// entry rejected, keeps it, and moves on.
func (s *Synchronizer) Drain(ctx context.Context) (Report, error) {
	v, err, shared := s.group.Do("drain", func() (any, error) {
		return s.drain(ctx)
	})
	if shared {
		s.logger.Debug("outbox: joined running drain")
	}
	rep, _ := v.(Report)
	return rep, err
}

func (s *Synchronizer) drain(ctx context.Context) (Report, error) {
	var rep Report
	entries, err := s.log.Entries(ctx)
	if err != nil {
		metrics.OutboxDrainsTotal.WithLabelValues("error").Inc()
		return rep, err
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return s.finish(ctx, rep, "cancelled", err)
		}

		applyErr := s.apply(ctx, e)
		switch {
		case applyErr == nil:
			if err := s.log.Remove(ctx, e.Seq); err != nil {
				return s.finish(ctx, rep, "error", err)
			}
			rep.Applied++
			metrics.OutboxEntriesTotal.WithLabelValues("applied").Inc()
			s.logger.Debug("outbox: applied", slog.Int64("seq", e.Seq), slog.String("kind", string(e.Kind)))

		case errors.Is(applyErr, apperr.ErrUnauthorized):
			s.logger.Warn("outbox: unauthorized, drain stopped", slog.Int64("seq", e.Seq))
			return s.finish(ctx, rep, "unauthorized", fmt.Errorf("outbox: drain: %w", applyErr))

		case errors.Is(applyErr, apperr.ErrTransient),
			errors.Is(applyErr, context.Canceled),
			errors.Is(applyErr, context.DeadlineExceeded):
			s.logger.Info("outbox: server unreachable, drain stopped",
				slog.Int64("seq", e.Seq),
				slog.String("error", applyErr.Error()))
			return s.finish(ctx, rep, "transient", fmt.Errorf("outbox: drain: %w", applyErr))

		default:
			s.logger.Warn("outbox: entry rejected",
				slog.Int64("seq", e.Seq),
				slog.String("kind", string(e.Kind)),
				slog.Int64("note_id", e.NoteID),
				slog.String("error", applyErr.Error()))
			if err := s.log.MarkRejected(ctx, e.Seq, applyErr.Error()); err != nil {
				return s.finish(ctx, rep, "error", err)
			}
			rep.Rejected++
			metrics.OutboxEntriesTotal.WithLabelValues("rejected").Inc()
		}
	}

	rep, err = s.finish(ctx, rep, "ok", nil)
	if err == nil && s.onSynced != nil {
		s.onSynced(rep)
	}
	return rep, err
}

// finish records the pass outcome and the remaining queue length.
func (s *Synchronizer) finish(ctx context.Context, rep Report, result string, cause error) (Report, error) {
	metrics.OutboxDrainsTotal.WithLabelValues(result).Inc()
	n, err := s.log.Len(context.WithoutCancel(ctx))
	if err == nil {
		rep.Remaining = n
		metrics.OutboxPending.Set(float64(n))
	}
	if cause != nil {
		return rep, cause
	}
	if err != nil {
		return rep, err
	}
	s.logger.Info("outbox: drained",
		slog.Int("applied", rep.Applied),
		slog.Int("rejected", rep.Rejected),
		slog.Int("remaining", rep.Remaining))
	return rep, nil
}

func (s *Synchronizer) apply(ctx context.Context, e Entry) error {
	ctx = client.WithRequestID(ctx, e.Key)
	switch e.Kind {
	case KindCreate:
		_, err := s.remote.Create(ctx, e.Payload)
		return err
	case KindUpdate:
		_, err := s.remote.Update(ctx, e.NoteID, e.Payload, e.ETag)
		return err
	default:
		return apperr.Validation("invalid_kind")
	}
}
