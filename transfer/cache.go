package transfer

import (
	"sync"
	"time"

	"github.com/scobru/shogun-kunai/internal/metrics"
)

// cacheEntry retains every chunk of one outbound transfer for
// retransmission.
type cacheEntry struct {
	chunks    map[int]string
	metadata  Metadata
	createdAt time.Time
}

// senderCache is the time-bounded store of outbound chunks, keyed by
// transfer id. Entries live for at least the TTL unless the receiver
// confirms completion first.
type senderCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	ttl     time.Duration
}

func newSenderCache(ttl time.Duration) *senderCache {
	return &senderCache{
		entries: make(map[string]*cacheEntry),
		ttl:     ttl,
	}
}

func (c *senderCache) put(fileID string, chunks map[int]string, meta Metadata) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[fileID] = &cacheEntry{
		chunks:    chunks,
		metadata:  meta,
		createdAt: time.Now(),
	}
	metrics.CacheEntries.Set(float64(len(c.entries)))
}

// collect returns the requested (index, data) pairs that exist in the
// cache for fileID. ok is false when the transfer is not cached at all.
func (c *senderCache) collect(fileID string, indices []int) (pairs []Chunk, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[fileID]
	if !ok {
		return nil, false
	}
	for _, idx := range indices {
		if data, have := entry.chunks[idx]; have {
			pairs = append(pairs, Chunk{Index: idx, Data: data})
		}
	}
	return pairs, true
}

func (c *senderCache) remove(fileID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[fileID]
	delete(c.entries, fileID)
	metrics.CacheEntries.Set(float64(len(c.entries)))
	return ok
}

func (c *senderCache) has(fileID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[fileID]
	return ok
}

func (c *senderCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// sweep evicts entries older than the TTL.
func (c *senderCache) sweep(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, entry := range c.entries {
		if entry.createdAt.Add(c.ttl).Before(now) {
			delete(c.entries, id)
		}
	}
	metrics.CacheEntries.Set(float64(len(c.entries)))
}
