package llm

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/dgraph-io/ristretto"
)

// suggestionCache remembers classifier answers per prompt.
type suggestionCache struct {
	cache *ristretto.Cache
	ttl   time.Duration
}

// newSuggestionCache creates a cache holding up to maxEntries suggestions.
func newSuggestionCache(ttl time.Duration, maxEntries int64) (*suggestionCache, error) {
	if ttl == 0 {
		ttl = 15 * time.Minute
	}
	if maxEntries <= 0 {
		maxEntries = 10_000
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        maxEntries * 10,
		MaxCost:            maxEntries,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, err
	}

	return &suggestionCache{cache: cache, ttl: ttl}, nil
}

func cacheKey(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

// get retrieves a suggestion if present and unexpired.
func (c *suggestionCache) get(key string) (Suggestion, bool) {
	v, ok := c.cache.Get(key)
	if !ok {
		return Suggestion{}, false
	}
	s, ok := v.(Suggestion)
	return s, ok
}

// set stores a suggestion and waits for it to become visible.
func (c *suggestionCache) set(key string, s Suggestion) {
	c.cache.SetWithTTL(key, s, 1, c.ttl)
	c.cache.Wait()
}

// clear removes all entries.
func (c *suggestionCache) clear() {
	c.cache.Clear()
}

// Close releases the cache's goroutines.
func (c *suggestionCache) Close() {
	c.cache.Close()
}
