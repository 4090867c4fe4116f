package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BuzzLyutic/shortlink/internal/clock"
	"github.com/BuzzLyutic/shortlink/internal/storage"
)

// Sweeper периодически удаляет ссылки, истекшие раньше now - retention.
// Для корректности чтения не нужен: истекшие ссылки отсекаются при Resolve.
type Sweeper struct {
	storage   storage.Storage
	clock     clock.Clock
	interval  time.Duration
	retention time.Duration
	logger    *slog.Logger
}

func NewSweeper(store storage.Storage, clk clock.Clock, interval, retention time.Duration, logger *slog.Logger) *Sweeper {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Sweeper{
		storage:   store,
		clock:     clk,
		interval:  interval,
		retention: retention,
		logger:    logger,
	}
}

// Run чистит хранилище каждые interval до отмены ctx
func (w *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := w.SweepOnce(ctx)
			if err != nil {
				w.logger.Error("sweeping expired links failed", slog.Any("error", err))
				continue
			}
			if deleted > 0 {
				w.logger.Info("expired links deleted", slog.Int64("count", deleted))
			}
		}
	}
}

// SweepOnce выполняет один проход очистки
func (w *Sweeper) SweepOnce(ctx context.Context) (int64, error) {
	before := w.clock.Now().Add(-w.retention)
	deleted, err := w.storage.DeleteExpired(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("deleting expired links: %w", err)
	}
	return deleted, nil
}
