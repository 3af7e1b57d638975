package storage

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/service"
)

// CacheConfig sizes the rule cache.
type CacheConfig struct {
	TTL     time.Duration
	MaxCost int64
}

// CachedStore fronts a Storage with a bounded cache of the read-mostly rule
// and category sets. Every rule or category write clears the cache,
// including usage increments, since usage orders equal-priority rules.
type CachedStore struct {
	service.Storage
	cache      *ristretto.Cache
	ttl        time.Duration
	generation atomic.Uint64
	mu         sync.Mutex
}

var _ service.Storage = (*CachedStore)(nil)

// NewCachedStore wraps store with a ristretto cache.
func NewCachedStore(store service.Storage, cfg CacheConfig) (*CachedStore, error) {
	if cfg.MaxCost <= 0 {
		cfg.MaxCost = 1000
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        cfg.MaxCost * 10,
		MaxCost:            cfg.MaxCost,
		BufferItems:        64,
		// Costs count cached entries, not bytes.
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize rule cache: %w", err)
	}

	return &CachedStore{Storage: store, cache: cache, ttl: cfg.TTL}, nil
}

func rulesKey(userID string) string      { return "rules:" + userID }
func categoriesKey(userID string) string { return "categories:" + userID }

// ListActiveRules serves the rule set from cache when possible.
func (c *CachedStore) ListActiveRules(ctx context.Context, scope model.Scope) ([]model.CategorizationRule, error) {
	key := rulesKey(scope.UserID)
	if v, ok := c.cache.Get(key); ok {
		if rules, ok := v.([]model.CategorizationRule); ok {
			return slices.Clone(rules), nil
		}
	}

	gen := c.generation.Load()
	rules, err := c.Storage.ListActiveRules(ctx, scope)
	if err != nil {
		return nil, err
	}
	c.store(gen, key, slices.Clone(rules), int64(len(rules))+1)
	return rules, nil
}

// ListCategories serves the taxonomy from cache when possible.
func (c *CachedStore) ListCategories(ctx context.Context, scope model.Scope) ([]model.Category, error) {
	key := categoriesKey(scope.UserID)
	if v, ok := c.cache.Get(key); ok {
		if cats, ok := v.([]model.Category); ok {
			return slices.Clone(cats), nil
		}
	}

	gen := c.generation.Load()
	cats, err := c.Storage.ListCategories(ctx, scope)
	if err != nil {
		return nil, err
	}
	c.store(gen, key, slices.Clone(cats), 1)
	return cats, nil
}

// store caches value unless an invalidation happened since gen was read.
func (c *CachedStore) store(gen uint64, key string, value any, cost int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation.Load() != gen {
		return
	}
	c.cache.SetWithTTL(key, value, cost, c.ttl)
	c.cache.Wait()
}

// Invalidate drops every cached entry.
func (c *CachedStore) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation.Add(1)
	c.cache.Clear()
}

// CreateRule writes through and invalidates.
func (c *CachedStore) CreateRule(ctx context.Context, rule *model.CategorizationRule) error {
	defer c.Invalidate()
	return c.Storage.CreateRule(ctx, rule)
}

// UpdateRule writes through and invalidates.
func (c *CachedStore) UpdateRule(ctx context.Context, id int64, patch model.RulePatch) (*model.CategorizationRule, error) {
	defer c.Invalidate()
	return c.Storage.UpdateRule(ctx, id, patch)
}

// IncrementRuleUsage writes through and invalidates.
func (c *CachedStore) IncrementRuleUsage(ctx context.Context, id int64, usedAt time.Time) error {
	defer c.Invalidate()
	return c.Storage.IncrementRuleUsage(ctx, id, usedAt)
}

// UpsertLearnedRule writes through and invalidates.
func (c *CachedStore) UpsertLearnedRule(ctx context.Context, rule *model.CategorizationRule) (bool, error) {
	defer c.Invalidate()
	return c.Storage.UpsertLearnedRule(ctx, rule)
}

// CreateCategory writes through and invalidates.
func (c *CachedStore) CreateCategory(ctx context.Context, category *model.Category) error {
	defer c.Invalidate()
	return c.Storage.CreateCategory(ctx, category)
}

// Close releases the cache and the underlying store.
func (c *CachedStore) Close() error {
	c.cache.Close()
	return c.Storage.Close()
}
