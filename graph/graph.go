// Package graph abstracts the gossip-replicated key-value store the stack
// is layered over. The store is an external collaborator: a keyed map with
// put, prefix subscriptions that replay current entries and then stream
// future ones, one-shot scans, and tombstone deletes. Delivery is
// best-effort, at-least-once, and unordered; consumers must tolerate
// repeats and track processed keys themselves.
package graph

import "context"

// Handler receives one (key, value) update. A nil value signals a
// tombstone.
type Handler func(key string, value []byte)

// CancelFunc detaches a subscription. Calling it more than once is safe.
type CancelFunc func()

// Store is the keyed gossip map every component writes through.
type Store interface {
	// Put writes a value under key. Writes are fire-and-forget with
	// respect to replication; an error only reports local failure.
	Put(ctx context.Context, key string, value []byte) error

	// Delete overwrites key with a tombstone, removing it from the
	// gossip view.
	Delete(ctx context.Context, key string) error

	// Subscribe registers fn for every present and future entry whose
	// key starts with prefix. The same (key, value) pair may be
	// delivered more than once.
	Subscribe(prefix string, fn Handler) CancelFunc

	// Once performs a one-shot scan over the entries currently visible
	// under prefix.
	Once(ctx context.Context, prefix string, fn Handler) error

	// Close releases the store and detaches all subscriptions.
	Close() error
}
