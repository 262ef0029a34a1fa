package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/e7canasta/risa/internal/receiver"
)

// reportStats periodically logs the Receiver's loss/forwarded counters,
// the only runtime statistics this pipeline exposes. Mirrors
// framesupplier/internal/stats.go's periodic-log idiom.
func reportStats(ctx context.Context, recv *receiver.Receiver, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Info("receiver stats",
				"forwarded", recv.Forwarded(),
				"loss", recv.Loss())
		}
	}
}
