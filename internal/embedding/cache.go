package embedding

import (
	"container/list"
	"context"
	"sync"
)

// Cache is an LRU cache keyed by text, wrapped around another Embedder.
// Re-ingesting unchanged documents and repeated queries skip the remote call.
type Cache struct {
	inner    Embedder
	capacity int

	mu    sync.Mutex
	items map[string]*list.Element
	lru   *list.List
}

type cacheEntry struct {
	key   string
	value []float32
}

// WithCache wraps inner with an LRU cache of the given capacity.
// A capacity of zero or less returns inner unwrapped.
func WithCache(inner Embedder, capacity int) Embedder {
	if capacity <= 0 {
		return inner
	}
	return &Cache{
		inner:    inner,
		capacity: capacity,
		items:    make(map[string]*list.Element),
		lru:      list.New(),
	}
}

// Embed returns the cached embedding for text or delegates to the inner embedder.
func (c *Cache) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := c.get(text); ok {
		return vec, nil
	}
	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.set(text, vec)
	return vec, nil
}

// EmbedBatch serves cached entries and embeds only the misses in one inner call.
func (c *Cache) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vecs := make([][]float32, len(texts))
	var misses []string
	var missIdx []int
	for i, text := range texts {
		if vec, ok := c.get(text); ok {
			vecs[i] = vec
			continue
		}
		misses = append(misses, text)
		missIdx = append(missIdx, i)
	}
	if len(misses) == 0 {
		return vecs, nil
	}
	fresh, err := c.inner.EmbedBatch(ctx, misses)
	if err != nil {
		return nil, err
	}
	for j, vec := range fresh {
		c.set(misses[j], vec)
		vecs[missIdx[j]] = vec
	}
	return vecs, nil
}

// Dimensions returns the inner embedder's dimension.
func (c *Cache) Dimensions() int {
	return c.inner.Dimensions()
}

// Close closes the inner embedder.
func (c *Cache) Close() error {
	return c.inner.Close()
}

func (c *Cache) get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		c.lru.MoveToFront(elem)
		return elem.Value.(*cacheEntry).value, true
	}
	return nil, false
}

func (c *Cache) set(key string, value []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.items[key]; ok {
		c.lru.MoveToFront(elem)
		elem.Value.(*cacheEntry).value = value
		return
	}
	c.items[key] = c.lru.PushFront(&cacheEntry{key: key, value: value})
	if c.lru.Len() > c.capacity {
		if oldest := c.lru.Back(); oldest != nil {
			c.lru.Remove(oldest)
			delete(c.items, oldest.Value.(*cacheEntry).key)
		}
	}
}
