package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentmesh/trustgate/internal/registry"
)

// PersistWorker flushes dirty client records to the durable store on a fixed
// interval. Persistence is write-behind: request handling never waits on it.
type PersistWorker struct {
	reg      *registry.Registry
	interval time.Duration
}

// NewPersistWorker constructs a PersistWorker.
func NewPersistWorker(reg *registry.Registry, interval time.Duration) *PersistWorker {
	return &PersistWorker{
		reg:      reg,
		interval: interval,
	}
}

// Start begins the flush loop and listens for context cancellation. A final
// flush runs on shutdown so recent changes are not lost.
func (w *PersistWorker) Start(ctx context.Context) {
	log.Info().Dur("interval", w.interval).Msg("Starting persist worker")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.reg.FlushDirty(ctx)
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			w.reg.FlushDirty(flushCtx)
			cancel()
			log.Info().Msg("Persist worker stopped")
			return
		}
	}
}
