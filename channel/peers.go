package channel

import (
	"crypto/ed25519"
	"sync"
	"time"
)

// Peer is one entry in the channel's presence table. Keys are only ever
// stored after validation.
type Peer struct {
	Address    string
	SigningPub ed25519.PublicKey
	BoxPub     []byte
	LastSeen   time.Time
}

// peerTable tracks currently known peers by address.
type peerTable struct {
	mu    sync.RWMutex
	peers map[string]*Peer
}

func newPeerTable() *peerTable {
	return &peerTable{peers: make(map[string]*Peer)}
}

// upsert inserts or refreshes a peer and reports whether it was new.
func (pt *peerTable) upsert(address string, signingPub ed25519.PublicKey, boxPub []byte, seenAt time.Time) bool {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	p, ok := pt.peers[address]
	if !ok {
		pt.peers[address] = &Peer{
			Address:    address,
			SigningPub: signingPub,
			BoxPub:     boxPub,
			LastSeen:   seenAt,
		}
		return true
	}
	p.SigningPub = signingPub
	p.BoxPub = boxPub
	if seenAt.After(p.LastSeen) {
		p.LastSeen = seenAt
	}
	return false
}

// touch refreshes last-seen without changing keys. Reports whether the
// peer exists.
func (pt *peerTable) touch(address string, seenAt time.Time) bool {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	p, ok := pt.peers[address]
	if !ok {
		return false
	}
	if seenAt.After(p.LastSeen) {
		p.LastSeen = seenAt
	}
	return true
}

// get returns a copy of the peer entry.
func (pt *peerTable) get(address string) (Peer, bool) {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	p, ok := pt.peers[address]
	if !ok {
		return Peer{}, false
	}
	return *p, true
}

// remove deletes a peer and reports whether it existed.
func (pt *peerTable) remove(address string) bool {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	if _, ok := pt.peers[address]; !ok {
		return false
	}
	delete(pt.peers, address)
	return true
}

// count returns the number of known peers.
func (pt *peerTable) count() int {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return len(pt.peers)
}

// addresses returns the current peer addresses.
func (pt *peerTable) addresses() []string {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	out := make([]string, 0, len(pt.peers))
	for addr := range pt.peers {
		out = append(out, addr)
	}
	return out
}

// expired returns the addresses whose last_seen + timeout is in the past.
func (pt *peerTable) expired(timeout time.Duration, now time.Time) []string {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	var out []string
	for addr, p := range pt.peers {
		if p.LastSeen.Add(timeout).Before(now) {
			out = append(out, addr)
		}
	}
	return out
}
