package sync

import (
	"context"
	"log"
	"time"
)

// DefaultSyncInterval is how often the periodic safety-net sync
// runs while watching. Full syncs also catch deletions, which the
// event watcher does not reconcile.
const DefaultSyncInterval = 15 * time.Minute

// RunPeriodic runs full syncs on a fixed interval until ctx is
// cancelled. Blocks; run in a goroutine.
func RunPeriodic(
	ctx context.Context, engine *Engine, interval time.Duration,
) {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := engine.Sync(ctx, nil)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("periodic sync: %v", err)
				continue
			}
			if n := report.Imported + report.Updated + report.Deleted; n > 0 {
				log.Printf(
					"periodic sync: %d imported, %d updated, %d deleted",
					report.Imported, report.Updated, report.Deleted,
				)
			}
		}
	}
}
