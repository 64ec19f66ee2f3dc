package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/five82/segcache/internal/store"
)

const maxBackoff = 30 * time.Second

// StartRefresher reloads every watched query at a fixed cadence, backing off
// while fetches keep failing. A non-positive interval disables it. It
// returns immediately.
func StartRefresher(ctx context.Context, s *store.Store, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	go func() {
		timer := time.NewTimer(interval)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
			failures := refreshOnce(ctx, s, logger)
			timer.Reset(calculateBackoff(failures, interval))
		}
	}()
}

// refreshOnce reloads watched queries and reports how many pieces failed.
func refreshOnce(ctx context.Context, s *store.Store, logger *slog.Logger) int {
	dispatched := s.Refresh(ctx)
	if err := s.Wait(ctx); err != nil {
		return 0
	}
	failures := s.Failures()
	if failures > 0 {
		logger.Warn("refresh finished with failures",
			slog.Int("dispatched", dispatched),
			slog.Int("failures", failures),
		)
	} else {
		logger.Debug("refresh finished", slog.Int("dispatched", dispatched))
	}
	return failures
}

// calculateBackoff doubles base once per consecutive failure, capped at
// maxBackoff (or base, if that is larger).
func calculateBackoff(failures int, base time.Duration) time.Duration {
	if failures <= 0 {
		return base
	}
	limit := max(maxBackoff, base)
	backoff := base
	for range failures {
		backoff *= 2
		if backoff >= limit {
			return limit
		}
	}
	return backoff
}
