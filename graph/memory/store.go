// Package memory provides the in-process reference implementation of the
// graph store. Stores can be connected into a mesh; entries gossip between
// connected stores with at-least-once delivery and no ordering guarantees.
// A per-link drop filter lets tests simulate lossy propagation.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/scobru/shogun-kunai/graph"
)

// Store implements graph.Store with in-memory state.
type Store struct {
	mu      sync.RWMutex
	entries map[string][]byte
	applied map[string]struct{} // revision ids already gossiped through us
	subs    map[int]*subscription
	nextSub int
	links   []*link
	closed  bool
}

type subscription struct {
	prefix string
	fn     graph.Handler
}

type link struct {
	peer *Store
	drop func(key string, value []byte) bool
}

// NewStore creates an empty, unconnected store.
func NewStore() *Store {
	return &Store{
		entries: make(map[string][]byte),
		applied: make(map[string]struct{}),
		subs:    make(map[int]*subscription),
	}
}

// Connect links two stores bidirectionally so entries replicate both ways.
// Entries already present on either side are exchanged immediately.
func (s *Store) Connect(other *Store) {
	s.addLink(other)
	other.addLink(s)
	s.pushAll(other)
	other.pushAll(s)
}

func (s *Store) addLink(peer *Store) {
	s.mu.Lock()
	s.links = append(s.links, &link{peer: peer})
	s.mu.Unlock()
}

// DropTo installs a filter on the link toward peer. Entries for which fn
// returns true are not replicated to that peer. Used by tests to simulate
// loss.
func (s *Store) DropTo(peer *Store, fn func(key string, value []byte) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.links {
		if l.peer == peer {
			l.drop = fn
		}
	}
}

// pushAll replays every current entry to peer, as a fresh gossip round.
func (s *Store) pushAll(peer *Store) {
	s.mu.RLock()
	snapshot := make(map[string][]byte, len(s.entries))
	for k, v := range s.entries {
		snapshot[k] = v
	}
	s.mu.RUnlock()

	for k, v := range snapshot {
		peer.receive(k, v, uuid.NewString(), false)
	}
}

// Put implements graph.Store.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.apply(key, value, uuid.NewString(), false)
	return nil
}

// Delete implements graph.Store. The tombstone gossips like any write.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.apply(key, nil, uuid.NewString(), true)
	return nil
}

// receive is the gossip entry point from a connected store.
func (s *Store) receive(key string, value []byte, rev string, tombstone bool) {
	s.apply(key, value, rev, tombstone)
}

func (s *Store) apply(key string, value []byte, rev string, tombstone bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if _, seen := s.applied[rev]; seen {
		s.mu.Unlock()
		return
	}
	s.applied[rev] = struct{}{}

	if tombstone {
		delete(s.entries, key)
	} else {
		s.entries[key] = value
	}

	var handlers []graph.Handler
	for _, sub := range s.subs {
		if strings.HasPrefix(key, sub.prefix) {
			handlers = append(handlers, sub.fn)
		}
	}
	links := make([]*link, len(s.links))
	copy(links, s.links)
	s.mu.Unlock()

	for _, fn := range handlers {
		fn(key, value)
	}

	// Forward to peers off the caller's goroutine; gossip is asynchronous
	// and unordered by contract.
	for _, l := range links {
		if l.drop != nil && l.drop(key, value) {
			continue
		}
		go l.peer.receive(key, value, rev, tombstone)
	}
}

// Subscribe implements graph.Store. The handler is registered first and the
// current entries are replayed afterwards, so an entry may be delivered
// twice but never missed.
func (s *Store) Subscribe(prefix string, fn graph.Handler) graph.CancelFunc {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = &subscription{prefix: prefix, fn: fn}
	snapshot := s.snapshotLocked(prefix)
	s.mu.Unlock()

	for k, v := range snapshot {
		fn(k, v)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

// Once implements graph.Store.
func (s *Store) Once(ctx context.Context, prefix string, fn graph.Handler) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	snapshot := s.snapshotLocked(prefix)
	s.mu.RUnlock()

	for k, v := range snapshot {
		fn(k, v)
	}
	return nil
}

func (s *Store) snapshotLocked(prefix string) map[string][]byte {
	snapshot := make(map[string][]byte)
	for k, v := range s.entries {
		if strings.HasPrefix(k, prefix) {
			snapshot[k] = v
		}
	}
	return snapshot
}

// Len returns the number of live entries. Useful for tests.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close implements graph.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.subs = make(map[int]*subscription)
	s.links = nil
	return nil
}
