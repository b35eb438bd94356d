package worker

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// spawnPollers starts one poller goroutine per configured concurrency slot
func (w *Worker) spawnPollers(ctx context.Context, g *errgroup.Group) {
	w.logger.Info("Spawning pollers",
		slog.Int("concurrency", w.concurrency),
	)

	for _, p := range w.pollers {
		g.Go(func() error {
			p.run(ctx)
			return nil
		})
	}
}
