package statecache

import (
	"context"
	"sync"
	"time"

	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/logger"
)

// Refresher rebuilds the snapshot in the background so API reads stay warm
type Refresher struct {
	cache    *Cache
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex
}

// NewRefresher creates a refresher; interval defaults to the cache TTL
func NewRefresher(cache *Cache, interval time.Duration) *Refresher {
	if interval <= 0 {
		interval = cache.TTL()
	}
	return &Refresher{cache: cache, interval: interval}
}

// Start rebuilds immediately and then on every tick until Stop or ctx ends
func (r *Refresher) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}

	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		r.refresh(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.refresh(ctx)
			}
		}
	}()
}

// Stop stops the background refresh and waits for it to finish
func (r *Refresher) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel = nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (r *Refresher) refresh(ctx context.Context) {
	if _, err := r.cache.Get(ctx, true); err != nil {
		logger.Warnf("Background state refresh failed: %v", err)
	}
}
