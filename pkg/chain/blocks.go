package chain

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// BlockNumberer is the part of a Backend the block watcher needs
type BlockNumberer interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// BlockWatcher turns polled block numbers into a strictly increasing height signal
type BlockWatcher struct {
	backend  BlockNumberer
	interval time.Duration
	log      *zap.Logger
}

// NewBlockWatcher creates a watcher that polls every interval
func NewBlockWatcher(backend BlockNumberer, interval time.Duration, log *zap.Logger) *BlockWatcher {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = 12 * time.Second
	}
	return &BlockWatcher{backend: backend, interval: interval, log: log}
}

// Watch emits each new height once. The channel closes when ctx is done.
func (w *BlockWatcher) Watch(ctx context.Context) <-chan uint64 {
	out := make(chan uint64, 1)

	go func() {
		defer close(out)

		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		var last uint64
		for {
			height, err := w.backend.BlockNumber(ctx)
			if err != nil {
				w.log.Warn("block number poll failed", zap.Error(err))
			} else if height > last {
				last = height
				select {
				case out <- height:
				case <-ctx.Done():
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	return out
}
