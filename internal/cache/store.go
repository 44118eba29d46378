// Package cache keeps provider results for a bounded time and collapses concurrent
// identical requests into one producer call.
package cache

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/looplj/reportflow/internal/events"
	"github.com/looplj/reportflow/internal/log"
	"github.com/looplj/reportflow/internal/pkg/xcache"
	"github.com/looplj/reportflow/internal/pkg/xcontext"
)

// Entry is a cached value with its bookkeeping.
type Entry[T any] struct {
	Value     T
	CreatedAt time.Time
	ExpiresAt time.Time
	HitCount  int

	seq uint64
}

func (e *Entry[T]) expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// sharedEntry is the representation written to the shared tier.
type sharedEntry[T any] struct {
	Value     T         `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Stats is a snapshot of the store counters.
type Stats struct {
	Size       int    `json:"size"`
	MaxSize    int    `json:"max_size"`
	Pending    int    `json:"pending"`
	Hits       uint64 `json:"hits"`
	Misses     uint64 `json:"misses"`
	Dedups     uint64 `json:"dedups"`
	Evictions  uint64 `json:"evictions"`
	SharedMode string `json:"shared_mode,omitempty"`
}

type flight struct {
	startedAt time.Time
	waiters   int
	ctx       context.Context
	cancel    context.CancelFunc
}

// Store is a TTL cache bounded by MaxSize with FIFO eviction by creation order.
type Store[T any] struct {
	// Guards compound operations on items, seq and pending.
	mu    sync.Mutex
	items *gocache.Cache
	seq   uint64

	group   singleflight.Group
	pending map[string]*flight

	cfg    Config
	now    func() time.Time
	sink   events.Sink
	shared *xcache.Tier[sharedEntry[T]]

	hits      atomic.Uint64
	misses    atomic.Uint64
	dedups    atomic.Uint64
	evictions atomic.Uint64

	stop     chan struct{}
	stopOnce sync.Once
}

type Option[T any] func(*Store[T])

// WithClock overrides the time source used for expiry.
func WithClock[T any](now func() time.Time) Option[T] {
	return func(s *Store[T]) {
		s.now = now
	}
}

func WithEventSink[T any](sink events.Sink) Option[T] {
	return func(s *Store[T]) {
		s.sink = sink
	}
}

// WithShared puts a shared tier behind the local store.
func WithShared[T any](tier *xcache.Tier[sharedEntry[T]]) Option[T] {
	return func(s *Store[T]) {
		s.shared = tier
	}
}

// NewSharedTier builds the shared tier matching the value type of a store.
func NewSharedTier[T any](ctx context.Context, cfg xcache.Config) (*xcache.Tier[sharedEntry[T]], error) {
	return xcache.NewFromConfig[sharedEntry[T]](ctx, cfg)
}

// NewStore creates a store and starts its sweeper when CleanupInterval is set.
// Zero config fields take the defaults.
func NewStore[T any](cfg Config, opts ...Option[T]) *Store[T] {
	def := DefaultConfig()
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = def.MaxSize
	}

	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = def.DefaultTTL
	}

	if cfg.PendingTimeout <= 0 {
		cfg.PendingTimeout = def.PendingTimeout
	}

	s := &Store[T]{
		items:   gocache.New(gocache.NoExpiration, 0),
		pending: make(map[string]*flight),
		cfg:     cfg,
		now:     time.Now,
		stop:    make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	if cfg.CleanupInterval > 0 {
		go s.sweep(cfg.CleanupInterval)
	}

	return s
}

func (s *Store[T]) sweep(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.Cleanup(context.Background())
		}
	}
}

// Close stops the sweeper and releases the shared tier.
func (s *Store[T]) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })

	if s.shared != nil {
		return s.shared.Close()
	}

	return nil
}

func (s *Store[T]) Config() Config {
	return s.cfg
}

// Get returns a live entry value and counts the hit. Expired entries are removed.
func (s *Store[T]) Get(ctx context.Context, key string) (T, bool) {
	s.mu.Lock()
	value, ok := s.getLocked(key)
	s.mu.Unlock()

	if ok {
		s.hits.Add(1)
		events.Emit(ctx, s.sink, events.CacheHit, events.Data{"key": key})
	} else {
		s.misses.Add(1)
	}

	return value, ok
}

func (s *Store[T]) getLocked(key string) (T, bool) {
	var zero T

	raw, ok := s.items.Get(key)
	if !ok {
		return zero, false
	}

	e := raw.(*Entry[T])
	if e.expired(s.now()) {
		s.items.Delete(key)
		return zero, false
	}

	e.HitCount++

	return e.Value, true
}

// Peek returns a copy of the entry without counting a hit.
func (s *Store[T]) Peek(key string) (Entry[T], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok := s.items.Get(key)
	if !ok {
		return Entry[T]{}, false
	}

	e := raw.(*Entry[T])
	if e.expired(s.now()) {
		return Entry[T]{}, false
	}

	return *e, true
}

// Set stores value for ttl, or the default TTL when ttl is not positive, and writes it
// through to the shared tier.
func (s *Store[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.cfg.DefaultTTL
	}

	now := s.now()
	e := s.setLocal(ctx, key, value, now, now.Add(ttl))

	events.Emit(ctx, s.sink, events.CacheSet, events.Data{"key": key, "ttl_ms": ttl.Milliseconds()})

	if s.shared.Enabled() {
		s.writeShared(ctx, key, sharedEntry[T]{Value: value, CreatedAt: e.CreatedAt, ExpiresAt: e.ExpiresAt}, ttl)
	}
}

func (s *Store[T]) setLocal(ctx context.Context, key string, value T, createdAt, expiresAt time.Time) *Entry[T] {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	e := &Entry[T]{
		Value:     value,
		CreatedAt: createdAt,
		ExpiresAt: expiresAt,
		seq:       s.seq,
	}
	s.items.Set(key, e, gocache.NoExpiration)

	for s.items.ItemCount() > s.cfg.MaxSize {
		s.evictOldestLocked(ctx)
	}

	return e
}

func (s *Store[T]) evictOldestLocked(ctx context.Context) {
	var (
		oldestKey string
		oldestSeq uint64
	)

	for key, item := range s.items.Items() {
		e := item.Object.(*Entry[T])
		if oldestKey == "" || e.seq < oldestSeq {
			oldestKey, oldestSeq = key, e.seq
		}
	}

	if oldestKey == "" {
		return
	}

	s.items.Delete(oldestKey)
	s.evictions.Add(1)

	events.Emit(ctx, s.sink, events.CacheEvict, events.Data{"key": oldestKey, "max_size": s.cfg.MaxSize})
}

func (s *Store[T]) writeShared(ctx context.Context, key string, e sharedEntry[T], ttl time.Duration) {
	go func() {
		ctx, cancel := xcontext.DetachWithTimeout(ctx, 5*time.Second)
		defer cancel()

		if err := s.shared.Set(ctx, key, e, ttl); err != nil {
			log.Warn(ctx, "failed to write shared cache entry", log.String("key", key), log.Cause(err))
		}
	}()
}

// getShared consults the shared tier and promotes a live hit into the local store with its
// remaining lifetime.
func (s *Store[T]) getShared(ctx context.Context, key string) (T, bool) {
	var zero T

	if !s.shared.Enabled() {
		return zero, false
	}

	e, err := s.shared.Get(ctx, key)
	if err != nil {
		if !xcache.IsNotFound(err) {
			log.Warn(ctx, "failed to read shared cache entry", log.String("key", key), log.Cause(err))
		}

		return zero, false
	}

	if !s.now().Before(e.ExpiresAt) {
		return zero, false
	}

	s.setLocal(ctx, key, e.Value, e.CreatedAt, e.ExpiresAt)
	s.hits.Add(1)

	events.Emit(ctx, s.sink, events.CacheHit, events.Data{"key": key, "tier": "shared"})

	return e.Value, true
}

// Delete removes a single key from every tier.
func (s *Store[T]) Delete(ctx context.Context, key string) {
	s.items.Delete(key)

	if s.shared.Enabled() {
		if err := s.shared.Delete(ctx, key); err != nil {
			log.Warn(ctx, "failed to delete shared cache entry", log.String("key", key), log.Cause(err))
		}
	}
}

// Invalidate removes every entry whose key contains pattern; an empty pattern clears the
// store. It returns the number of removed entries.
func (s *Store[T]) Invalidate(ctx context.Context, pattern string) int {
	removed := s.invalidateLocal(pattern)

	if s.shared.Enabled() {
		n, err := s.shared.DeleteContaining(ctx, pattern)
		if err != nil {
			log.Warn(ctx, "failed to invalidate shared cache", log.String("pattern", pattern), log.Cause(err))
		}

		removed = max(removed, n)
	}

	events.Emit(ctx, s.sink, events.CacheInvalidate, events.Data{"pattern": pattern, "removed": removed})

	return removed
}

func (s *Store[T]) invalidateLocal(pattern string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int

	for key := range s.items.Items() {
		if strings.Contains(key, pattern) {
			s.items.Delete(key)
			removed++
		}
	}

	return removed
}

// Cleanup removes expired entries and returns how many were dropped.
func (s *Store[T]) Cleanup(ctx context.Context) int {
	s.mu.Lock()

	now := s.now()

	var removed int

	for key, item := range s.items.Items() {
		if item.Object.(*Entry[T]).expired(now) {
			s.items.Delete(key)
			removed++
		}
	}

	s.mu.Unlock()

	if removed > 0 {
		events.Emit(ctx, s.sink, events.CacheCleanup, events.Data{"removed": removed})
	}

	return removed
}

func (s *Store[T]) Len() int {
	return s.items.ItemCount()
}

func (s *Store[T]) Stats() Stats {
	s.mu.Lock()
	pending := len(s.pending)
	s.mu.Unlock()

	stats := Stats{
		Size:      s.items.ItemCount(),
		MaxSize:   s.cfg.MaxSize,
		Pending:   pending,
		Hits:      s.hits.Load(),
		Misses:    s.misses.Load(),
		Dedups:    s.dedups.Load(),
		Evictions: s.evictions.Load(),
	}

	if s.shared.Enabled() {
		stats.SharedMode = s.shared.Mode()
	}

	return stats
}
