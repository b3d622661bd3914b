package statecache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/zh3nl/Spotify-Clone-Database-Agent-sub000/internal/logger"
)

// DefaultTTL is how long a stored snapshot is served without rebuilding
const DefaultTTL = 5 * time.Minute

// SnapshotBuilder produces a fresh snapshot
type SnapshotBuilder interface {
	Build(ctx context.Context) (*Snapshot, error)
}

// TableChecker answers table existence against the live database
type TableChecker interface {
	TableExists(ctx context.Context, table string) (bool, error)
}

// Cache serves snapshots from a Store until they are older than the TTL
type Cache struct {
	builder SnapshotBuilder
	store   Store
	checker TableChecker
	ttl     time.Duration
	now     func() time.Time
	mu      sync.Mutex
}

// NewCache creates a cache. A zero ttl uses DefaultTTL and a nil store keeps
// snapshots in memory.
func NewCache(builder SnapshotBuilder, store Store, checker TableChecker, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if store == nil {
		store = NewMemoryStore()
	}
	return &Cache{
		builder: builder,
		store:   store,
		checker: checker,
		ttl:     ttl,
		now:     time.Now,
	}
}

// TTL returns the snapshot validity window
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Get returns the stored snapshot while it is fresh, otherwise builds, stores
// and returns a new one. force always rebuilds. Unreadable or corrupt stored
// state counts as a miss.
func (c *Cache) Get(ctx context.Context, force bool) (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !force {
		snapshot, err := c.store.Load(ctx)
		switch {
		case err == nil && c.fresh(snapshot):
			logger.Debugf("Using cached system state from %s", snapshot.Timestamp.Format(time.RFC3339))
			return snapshot, nil
		case err == nil:
			logger.Debug("Cached system state expired")
		case !errors.Is(err, ErrNotCached):
			logger.Warnf("Ignoring unreadable system state cache: %v", err)
		}
	}

	snapshot, err := c.builder.Build(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to build system state: %w", err)
	}
	if fp, err := Fingerprint(snapshot); err != nil {
		logger.Warnf("Could not fingerprint system state: %v", err)
	} else {
		snapshot.Fingerprint = fp
	}

	if err := c.store.Save(ctx, snapshot); err != nil {
		logger.Warnf("Could not save system state cache: %v", err)
	}
	return snapshot, nil
}

// fresh reports whether snapshot is younger than the TTL. A snapshot stamped
// in the future came from a skewed clock and counts as expired.
func (c *Cache) fresh(snapshot *Snapshot) bool {
	age := snapshot.Age(c.now())
	return age >= 0 && age < c.ttl
}

// Invalidate drops the stored snapshot so the next Get rebuilds
func (c *Cache) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Invalidate(ctx)
}

// TableExists always asks the live database
func (c *Cache) TableExists(ctx context.Context, table string) (bool, error) {
	if c.checker == nil {
		return false, errors.New("no live table checker configured")
	}
	return c.checker.TableExists(ctx, table)
}
