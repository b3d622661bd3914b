package statecache

import (
	"context"
	"errors"
	"testing"
	"time"
)

type countingBuilder struct {
	calls  int
	tables []string
	err    error
	now    func() time.Time
}

func (b *countingBuilder) Build(context.Context) (*Snapshot, error) {
	b.calls++
	if b.err != nil {
		return nil, b.err
	}
	return &Snapshot{
		Database:  DatabaseState{Tables: append([]string{}, b.tables...)},
		Features:  map[string]FeatureState{},
		Timestamp: b.now(),
	}, nil
}

type stubChecker struct {
	tables map[string]bool
	calls  int
}

func (s *stubChecker) TableExists(_ context.Context, table string) (bool, error) {
	s.calls++
	return s.tables[table], nil
}

type corruptStore struct{ saved int }

func (c *corruptStore) Load(context.Context) (*Snapshot, error) {
	return nil, errors.New("invalid character 'x' looking for beginning of value")
}
func (c *corruptStore) Save(context.Context, *Snapshot) error { c.saved++; return nil }
func (c *corruptStore) Invalidate(context.Context) error      { return nil }

func newTestCache(store Store) (*Cache, *countingBuilder, *time.Time) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := &now
	builder := &countingBuilder{tables: []string{"tracks"}, now: func() time.Time { return *clock }}
	c := NewCache(builder, store, nil, 0)
	c.now = func() time.Time { return *clock }
	return c, builder, clock
}

func TestCacheServesFreshSnapshot(t *testing.T) {
	c, builder, clock := newTestCache(NewMemoryStore())
	ctx := context.Background()

	first, err := c.Get(ctx, false)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if first.Fingerprint == "" {
		t.Error("snapshot was not fingerprinted")
	}

	*clock = clock.Add(4 * time.Minute)
	builder.tables = []string{"tracks", "albums"}
	second, err := c.Get(ctx, false)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if builder.calls != 1 {
		t.Errorf("builder called %d times within TTL, want 1", builder.calls)
	}
	if !second.Timestamp.Equal(first.Timestamp) || len(second.Database.Tables) != 1 {
		t.Errorf("cached snapshot changed: %+v", second.Database)
	}
}

func TestCacheExpires(t *testing.T) {
	c, builder, clock := newTestCache(NewMemoryStore())
	ctx := context.Background()

	if _, err := c.Get(ctx, false); err != nil {
		t.Fatal(err)
	}
	*clock = clock.Add(DefaultTTL)
	if _, err := c.Get(ctx, false); err != nil {
		t.Fatal(err)
	}
	if builder.calls != 2 {
		t.Errorf("builder called %d times, want 2 after expiry", builder.calls)
	}
}

func TestCacheFutureSnapshotIsExpired(t *testing.T) {
	store := NewMemoryStore()
	c, builder, clock := newTestCache(store)
	ctx := context.Background()

	skewed := &Snapshot{Timestamp: clock.Add(10 * time.Minute), Features: map[string]FeatureState{}}
	if err := store.Save(ctx, skewed); err != nil {
		t.Fatal(err)
	}

	got, err := c.Get(ctx, false)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if builder.calls != 1 {
		t.Errorf("builder called %d times, want a rebuild for a snapshot from the future", builder.calls)
	}
	if !got.Timestamp.Equal(*clock) {
		t.Errorf("Get() timestamp = %v, want %v", got.Timestamp, *clock)
	}
}

func TestCacheForceRefresh(t *testing.T) {
	c, builder, _ := newTestCache(NewMemoryStore())
	ctx := context.Background()

	if _, err := c.Get(ctx, false); err != nil {
		t.Fatal(err)
	}
	builder.tables = []string{"tracks", "albums"}
	snapshot, err := c.Get(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if builder.calls != 2 || !snapshot.HasTable("albums") {
		t.Errorf("force refresh did not rebuild: calls=%d tables=%v", builder.calls, snapshot.Database.Tables)
	}
}

func TestCacheCorruptStoreIsMiss(t *testing.T) {
	store := &corruptStore{}
	c, builder, _ := newTestCache(store)

	snapshot, err := c.Get(context.Background(), false)
	if err != nil {
		t.Fatalf("Get() error = %v, corrupt cache must be a miss", err)
	}
	if snapshot == nil || builder.calls != 1 || store.saved != 1 {
		t.Errorf("calls=%d saved=%d", builder.calls, store.saved)
	}
}

func TestCacheBuildError(t *testing.T) {
	c, builder, _ := newTestCache(NewMemoryStore())
	builder.err = errors.New("connection refused")
	if _, err := c.Get(context.Background(), false); err == nil {
		t.Fatal("Get() expected error when build fails")
	}
}

func TestCacheInvalidate(t *testing.T) {
	c, builder, _ := newTestCache(NewMemoryStore())
	ctx := context.Background()

	if _, err := c.Get(ctx, false); err != nil {
		t.Fatal(err)
	}
	if err := c.Invalidate(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get(ctx, false); err != nil {
		t.Fatal(err)
	}
	if builder.calls != 2 {
		t.Errorf("builder called %d times, want 2 after invalidate", builder.calls)
	}
}

func TestCacheTableExistsIsLive(t *testing.T) {
	checker := &stubChecker{tables: map[string]bool{"albums": true}}
	builder := &countingBuilder{tables: []string{"tracks"}, now: time.Now}
	c := NewCache(builder, nil, checker, time.Hour)
	ctx := context.Background()

	if _, err := c.Get(ctx, false); err != nil {
		t.Fatal(err)
	}
	exists, err := c.TableExists(ctx, "albums")
	if err != nil || !exists {
		t.Errorf("TableExists(albums) = %v, %v; want live answer true", exists, err)
	}
	exists, _ = c.TableExists(ctx, "tracks")
	if exists {
		t.Error("TableExists(tracks) must not trust the cached snapshot")
	}
	if checker.calls != 2 {
		t.Errorf("checker called %d times, want 2", checker.calls)
	}
}

func TestRefresher(t *testing.T) {
	builder := &countingBuilder{tables: []string{"tracks"}, now: time.Now}
	c := NewCache(builder, nil, nil, time.Hour)

	r := NewRefresher(c, time.Hour)
	r.Start(context.Background())
	r.Start(context.Background())

	deadline := time.Now().Add(5 * time.Second)
	for {
		c.mu.Lock()
		calls := builder.calls
		c.mu.Unlock()
		if calls >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("refresher never built a snapshot")
		}
		time.Sleep(10 * time.Millisecond)
	}
	r.Stop()
	r.Stop()
}
