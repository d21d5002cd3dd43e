package storage

import (
	"context"
	"log/slog"
	"time"
)

// Purger removes files that are past their expiry grace period.
type Purger interface {
	PurgeExpired(ctx context.Context) (cleaned, failed int, err error)
}

// CleanupService periodically purges expired files from both the metadata
// store and blob storage.
type CleanupService struct {
	purger   Purger
	interval time.Duration
	done     chan struct{}
}

// NewCleanupService creates a new cleanup service.
func NewCleanupService(purger Purger, interval time.Duration) *CleanupService {
	return &CleanupService{
		purger:   purger,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start begins the cleanup loop in a background goroutine. A non-positive
// interval disables the loop.
func (cs *CleanupService) Start(ctx context.Context) {
	if cs.interval <= 0 {
		slog.Warn("cleanup service disabled", "interval", cs.interval)
		close(cs.done)
		return
	}
	slog.Info("cleanup service started", "interval", cs.interval)

	go func() {
		ticker := time.NewTicker(cs.interval)
		defer ticker.Stop()

		// Run once immediately on start
		cs.runCleanup(ctx)

		for {
			select {
			case <-ticker.C:
				cs.runCleanup(ctx)
			case <-ctx.Done():
				slog.Info("cleanup service stopping")
				close(cs.done)
				return
			}
		}
	}()
}

// Wait blocks until the cleanup service has fully stopped.
func (cs *CleanupService) Wait() {
	<-cs.done
}

func (cs *CleanupService) runCleanup(ctx context.Context) {
	start := time.Now()

	cleaned, failed, err := cs.purger.PurgeExpired(ctx)
	if err != nil {
		slog.Error("cleanup cycle failed", "error", err)
		return
	}
	if cleaned == 0 && failed == 0 {
		slog.Debug("no expired files to clean up")
		return
	}

	slog.Info("cleanup cycle complete",
		"cleaned", cleaned,
		"failed", failed,
		"duration", time.Since(start),
	)
}
