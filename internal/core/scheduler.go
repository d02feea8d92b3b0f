package core

// scheduler.go runs background maintenance for the service.
//
// The only job today is sweeping expired upload sessions so abandoned
// uploads do not pin their lookup index in memory. The loop is
// context-aware and stops on shutdown.

import (
	"context"
	"log/slog"
	"time"
)

// StartSessionSweeper removes expired upload sessions every interval until
// ctx is cancelled. Run it in its own goroutine.
func (s *Service) StartSessionSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	slog.Info("session sweeper started", "interval", interval, "ttl", s.sessions.ttl)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("session sweeper stopped")
			return
		case <-ticker.C:
			s.runSweep()
		}
	}
}

// runSweep performs one sweep.
func (s *Service) runSweep() {
	start := time.Now()
	dropped := s.sessions.Sweep()
	if dropped > 0 {
		slog.Info("expired upload sessions removed",
			"removed", dropped,
			"open", s.sessions.Len(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return
	}
	slog.Debug("session sweep found nothing to remove", "open", s.sessions.Len())
}
