package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/starford/flowstate/internal/apperr"
)

const debounce = 200 * time.Millisecond

// Watch drains s until ctx is cancelled. A pass runs at start, whenever the
// outbox file gains entries (from this or another process), and whenever a
// probe finds the server reachable again after it was not. Passes stopped by
// a network failure are retried with exponential backoff capped at probeEvery.
func Watch(ctx context.Context, s *Synchronizer, probeEvery time.Duration, logger *slog.Logger) error {
	if probeEvery <= 0 {
		probeEvery = 15 * time.Second
	}
	path, err := filepath.Abs(s.log.Path())
	if err != nil {
		return fmt.Errorf("outbox: watch: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("outbox: watch: %w", err)
	}
	defer w.Close()

	// SQLite writes through -wal and -journal siblings, so watch the directory.
	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("outbox: watch %s: %w", filepath.Dir(path), err)
	}
	base := filepath.Base(path)

	logger.Info("outbox watcher: started",
		slog.String("path", path),
		slog.Duration("probe_every", probeEvery))

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = probeEvery
	bo.MaxElapsedTime = 0
	bo.Reset()

	probe := time.NewTicker(probeEvery)
	defer probe.Stop()

	var (
		debounceTimer *time.Timer
		debounceCh    <-chan time.Time
		retryTimer    *time.Timer
		retryCh       <-chan time.Time
		lastSeq       int64
		online        = true
	)

	scheduleDebounce := func() {
		if debounceTimer == nil {
			debounceTimer = time.NewTimer(debounce)
			debounceCh = debounceTimer.C
		} else {
			debounceTimer.Reset(debounce)
		}
	}
	scheduleRetry := func(d time.Duration) {
		if retryTimer == nil {
			retryTimer = time.NewTimer(d)
			retryCh = retryTimer.C
		} else {
			retryTimer.Reset(d)
		}
	}
	cancelRetry := func() {
		if retryTimer != nil {
			retryTimer.Stop()
		}
	}

	drainNow := func(reason string) {
		seq, err := s.log.LastSeq(ctx)
		if err != nil {
			logger.Warn("outbox watcher: read last seq", slog.String("error", err.Error()))
		}
		rep, err := s.Drain(ctx)
		if seq > lastSeq {
			lastSeq = seq
		}
		switch {
		case err == nil:
			online = true
			bo.Reset()
			cancelRetry()
			logger.Debug("outbox watcher: pass done",
				slog.String("reason", reason),
				slog.Int("applied", rep.Applied),
				slog.Int("remaining", rep.Remaining))
		case errors.Is(err, apperr.ErrTransient):
			online = false
			wait := bo.NextBackOff()
			logger.Info("outbox watcher: offline, will retry",
				slog.String("reason", reason),
				slog.Duration("retry_in", wait))
			scheduleRetry(wait)
		case errors.Is(err, apperr.ErrUnauthorized):
			cancelRetry()
			logger.Error("outbox watcher: server refused credentials; fix the client token and enqueue again",
				slog.Int("remaining", rep.Remaining))
		case ctx.Err() != nil:
		default:
			logger.Error("outbox watcher: drain failed", slog.String("error", err.Error()))
		}
	}

	drainNow("start")

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			cancelRetry()
			logger.Info("outbox watcher: stopped")
			return nil

		case <-debounceCh:
			seq, err := s.log.LastSeq(ctx)
			if err != nil {
				logger.Warn("outbox watcher: read last seq", slog.String("error", err.Error()))
				continue
			}
			// Our own removals and status updates also touch the file.
			if seq > lastSeq {
				drainNow("enqueued")
			}

		case <-retryCh:
			drainNow("retry")

		case <-probe.C:
			if err := s.remote.Ping(ctx); err != nil {
				if online {
					logger.Info("outbox watcher: server unreachable", slog.String("error", err.Error()))
				}
				online = false
				continue
			}
			if !online {
				logger.Info("outbox watcher: server reachable again")
				drainNow("reconnected")
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !strings.HasPrefix(filepath.Base(ev.Name), base) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				scheduleDebounce()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("outbox watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}
