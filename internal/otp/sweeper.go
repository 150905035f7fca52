package otp

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashureev/healthconnect/internal/store"
)

const (
	sweepInterval = 15 * time.Minute
	// sweepRetention keeps expired rows around for a day so late verify calls
	// still report "expired" rather than "not found".
	sweepRetention = 24 * time.Hour
)

// StartSweeper runs a background goroutine that periodically deletes long-expired codes.
func StartSweeper(ctx context.Context, repo store.Repository) {
	startSweeper(ctx, repo, sweepInterval, sweepRetention)
}

func startSweeper(ctx context.Context, repo store.Repository, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("OTP sweeper started", "interval", interval, "retention", retention)

		for {
			select {
			case <-ticker.C:
				sweep(ctx, repo, retention)
			case <-ctx.Done():
				slog.Info("OTP sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweep(ctx context.Context, repo store.Repository, retention time.Duration) {
	deleted, err := repo.DeleteExpiredOTPs(ctx, time.Now().Add(-retention))
	if err != nil {
		slog.Error("OTP sweeper failed to delete expired codes", "error", err)
		return
	}
	if deleted > 0 {
		slog.Info("OTP sweeper removed expired codes", "count", deleted)
	}
}
