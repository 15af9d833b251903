// Package channel implements the signed transport: identity announcement,
// packet signing and verification, presence, deduplication, and the
// request/response layer. Packets ride the graph store under the channel's
// messages/ prefix; presence records live under presence/.
package channel

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mr-tron/base58"

	"github.com/scobru/shogun-kunai/crypto/keys"
	"github.com/scobru/shogun-kunai/graph"
	"github.com/scobru/shogun-kunai/identity"
	"github.com/scobru/shogun-kunai/internal/logger"
	"github.com/scobru/shogun-kunai/internal/metrics"
)

var (
	// ErrUnknownPeer is returned by directed sends and RPC calls naming a
	// peer whose keys are not in the peer table.
	ErrUnknownPeer = errors.New("unknown peer")
	// ErrDestroyed is returned by operations on a destroyed channel.
	ErrDestroyed = errors.New("channel destroyed")
)

// Config holds the channel timing and dedup parameters.
type Config struct {
	Heartbeat     time.Duration
	PeerTimeout   time.Duration
	SeenThreshold int
	SeenKeep      int
}

func (c Config) withDefaults() Config {
	if c.Heartbeat == 0 {
		c.Heartbeat = 30 * time.Second
	}
	if c.PeerTimeout == 0 {
		c.PeerTimeout = 5 * time.Minute
	}
	if c.SeenThreshold == 0 {
		c.SeenThreshold = 1000
	}
	if c.SeenKeep == 0 {
		c.SeenKeep = 500
	}
	return c
}

// presenceRecord is the graph-store value under presence/<address>.
type presenceRecord struct {
	PK string `json:"pk"`
	EK string `json:"ek"`
	T  int64  `json:"t"`
}

// Channel is the signed transport bound to one identity, one graph store,
// and one channel identifier.
type Channel struct {
	name  string
	ident *identity.Identity
	store graph.Store
	cfg   Config
	log   logger.Logger

	peers    *peerTable
	seen     *seenSet
	handlers *handlerRegistry
	pending  *pendingCalls
	events   Events

	cancelMessages graph.CancelFunc
	cancelPresence graph.CancelFunc
	stopHeartbeat  chan struct{}

	started   atomic.Bool
	destroyed atomic.Bool
	destroy   sync.Once
}

// New creates a channel. Register event callbacks and RPC handlers, then
// call Start.
func New(ident *identity.Identity, store graph.Store, name string, cfg Config) *Channel {
	cfg = cfg.withDefaults()
	return &Channel{
		name:  name,
		ident: ident,
		store: store,
		cfg:   cfg,
		log: logger.GetDefaultLogger().WithFields(
			logger.String("component", "channel"),
			logger.String("channel", name),
		),
		peers:         newPeerTable(),
		seen:          newSeenSet(cfg.SeenThreshold, cfg.SeenKeep),
		handlers:      newHandlerRegistry(),
		pending:       newPendingCalls(),
		stopHeartbeat: make(chan struct{}),
	}
}

// Start subscribes to the graph store, announces presence, and begins the
// heartbeat. It emits the ready event once subscriptions are live.
func (c *Channel) Start() error {
	if c.destroyed.Load() {
		return ErrDestroyed
	}
	if !c.started.CompareAndSwap(false, true) {
		return nil
	}

	c.cancelMessages = c.store.Subscribe(c.GraphKey("messages/"), c.handleMessageEntry)
	c.cancelPresence = c.store.Subscribe(c.GraphKey("presence/"), c.handlePresenceEntry)
	c.announcePresence()

	go c.heartbeatLoop()

	c.events.emitReady()
	c.log.Info("channel ready", logger.String("address", c.Address()))
	return nil
}

// Events exposes event registration.
func (c *Channel) Events() *Events {
	return &c.events
}

// Name returns the channel identifier.
func (c *Channel) Name() string {
	return c.name
}

// Address returns the local peer address.
func (c *Channel) Address() string {
	return c.ident.Address()
}

// Identity returns the channel's identity.
func (c *Channel) Identity() *identity.Identity {
	return c.ident
}

// Store returns the underlying graph store.
func (c *Channel) Store() graph.Store {
	return c.store
}

// GraphKey prefixes a key with the channel namespace, so channels sharing
// one store never collide.
func (c *Channel) GraphKey(suffix string) string {
	return c.name + "/" + suffix
}

// Connections returns the number of currently known peers.
func (c *Channel) Connections() int {
	return c.peers.count()
}

// Peers returns the addresses of currently known peers.
func (c *Channel) Peers() []string {
	return c.peers.addresses()
}

// Peer returns a copy of the peer table entry for address.
func (c *Channel) Peer(address string) (Peer, bool) {
	return c.peers.get(address)
}

// Send broadcasts a JSON-serializable value to the channel.
func (c *Channel) Send(value interface{}) error {
	if c.destroyed.Load() {
		return ErrDestroyed
	}
	v, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value: %w", err)
	}
	p := c.newPayload(TypeMessage)
	p.V = v
	return c.publish(p, nil)
}

// SendTo sends a value to a single peer inside a box envelope. It fails
// with ErrUnknownPeer when the recipient's box key is not known.
func (c *Channel) SendTo(address string, value interface{}) error {
	if c.destroyed.Load() {
		return ErrDestroyed
	}
	peer, ok := c.peers.get(address)
	if !ok {
		return ErrUnknownPeer
	}
	v, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value: %w", err)
	}
	p := c.newPayload(TypeMessage)
	p.V = v
	return c.publish(p, &peer)
}

// Register installs an RPC handler under name, overwriting any previous
// one. An optional docstring describes the call.
func (c *Channel) Register(name string, handler Handler, doc ...string) {
	d := ""
	if len(doc) > 0 {
		d = doc[0]
	}
	c.handlers.register(name, handler, d)
}

// HandlerDoc returns the docstring registered for name.
func (c *Channel) HandlerDoc(name string) string {
	return c.handlers.doc(name)
}

// RPC invokes a named handler on a peer. The callback fires when the
// response arrives; it is dropped, never invoked, if the channel is
// destroyed first.
func (c *Channel) RPC(address, name string, args interface{}, cb ResponseCallback) error {
	if c.destroyed.Load() {
		return ErrDestroyed
	}
	peer, ok := c.peers.get(address)
	if !ok {
		return ErrUnknownPeer
	}
	a, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("marshal args: %w", err)
	}

	p := c.newPayload(TypeRequest)
	p.C = name
	p.A = a
	p.RN = randomNonce()

	if cb != nil {
		c.pending.put(p.RN, cb)
	}
	metrics.RPCCalls.WithLabelValues("outgoing", "ok").Inc()
	return c.publish(p, &peer)
}

// Ping broadcasts a ping packet.
func (c *Channel) Ping() error {
	if c.destroyed.Load() {
		return ErrDestroyed
	}
	return c.publish(c.newPayload(TypePing), nil)
}

// Destroy broadcasts a leave packet, detaches subscriptions, cancels the
// heartbeat, and drops pending RPC callbacks. It is idempotent.
func (c *Channel) Destroy() error {
	c.destroy.Do(func() {
		if c.started.Load() {
			if err := c.publish(c.newPayload(TypeLeave), nil); err != nil {
				c.log.Debug("leave publish failed", logger.Error(err))
			}
		}
		c.destroyed.Store(true)
		close(c.stopHeartbeat)
		if c.cancelMessages != nil {
			c.cancelMessages()
		}
		if c.cancelPresence != nil {
			c.cancelPresence()
		}
		c.pending.drop()
		c.log.Info("channel destroyed")
	})
	return nil
}

// newPayload fills the common fields of an outgoing packet.
func (c *Channel) newPayload(y string) *Payload {
	return &Payload{
		T:  time.Now().UnixMilli(),
		I:  c.name,
		PK: base58.Encode(c.ident.SigningPublicKey()),
		EK: base58.Encode(c.ident.BoxPublicKey()),
		N:  randomNonce(),
		Y:  y,
	}
}

func randomNonce() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// publish signs, optionally box-wraps, and writes a packet to the graph
// store. The packet hash lands in the seen set first so the local
// subscription never re-delivers our own packets.
func (c *Channel) publish(p *Payload, to *Peer) error {
	inner, err := sealEnvelope(p, c.ident.Signing)
	if err != nil {
		return err
	}
	outer := inner
	kind := "broadcast"
	if to != nil {
		outer, err = sealBox(inner, to.BoxPub, c.ident.Box)
		if err != nil {
			return err
		}
		kind = "directed"
	}

	h := PacketHash(outer)
	record := messageRecord{
		M: base64.StdEncoding.EncodeToString(outer),
		T: time.Now().UnixMilli(),
		K: h,
	}
	data, err := json.Marshal(&record)
	if err != nil {
		return err
	}

	c.seen.Add(h)
	if err := c.store.Put(context.Background(), c.GraphKey("messages/")+h, data); err != nil {
		return fmt.Errorf("graph write: %w", err)
	}
	metrics.PacketsSent.WithLabelValues(kind).Inc()
	return nil
}

// handleMessageEntry processes one messages/ entry from the graph store.
// Malformed, duplicate, foreign, or stale packets drop silently.
func (c *Channel) handleMessageEntry(key string, value []byte) {
	if c.destroyed.Load() || value == nil {
		return
	}

	var rec messageRecord
	if err := json.Unmarshal(value, &rec); err != nil {
		metrics.PacketsDropped.WithLabelValues("decode").Inc()
		return
	}
	outer, err := base64.StdEncoding.DecodeString(rec.M)
	if err != nil {
		metrics.PacketsDropped.WithLabelValues("decode").Inc()
		return
	}

	h := PacketHash(outer)
	if !c.seen.Add(h) {
		metrics.PacketsDropped.WithLabelValues("duplicate").Inc()
		return
	}

	inner, err := openBox(outer, c.ident.Box)
	switch {
	case errors.Is(err, errNotBoxEnvelope):
		inner = outer
	case err != nil:
		// Addressed to someone else, or tampered with.
		metrics.PacketsDropped.WithLabelValues("decrypt").Inc()
		return
	}

	p, err := openEnvelope(inner)
	if err != nil {
		metrics.PacketsDropped.WithLabelValues("signature").Inc()
		c.log.Debug("envelope rejected", logger.Error(err))
		return
	}
	if p.I != c.name {
		metrics.PacketsDropped.WithLabelValues("channel").Inc()
		return
	}
	now := time.Now()
	if time.UnixMilli(p.T).Add(c.cfg.PeerTimeout).Before(now) {
		metrics.PacketsDropped.WithLabelValues("stale").Inc()
		return
	}

	pk, _ := base58.Decode(p.PK) // validated in openEnvelope
	ek, err := base58.Decode(p.EK)
	if err != nil || len(ek) != keys.BoxKeySize {
		metrics.PacketsDropped.WithLabelValues("decode").Inc()
		return
	}

	from := identity.AddressFromPublicKey(pk)
	if from == c.Address() {
		return
	}

	if c.peers.upsert(from, pk, ek, now) {
		metrics.PeersKnown.Set(float64(c.peers.count()))
		c.events.emitSeen(from)
	}

	c.dispatch(from, h, p)
}

// dispatch routes a verified payload by type.
func (c *Channel) dispatch(from, packetHash string, p *Payload) {
	metrics.PacketsProcessed.WithLabelValues(p.Y).Inc()

	switch p.Y {
	case TypeMessage:
		c.events.emitMessage(from, p.V, &Packet{ID: packetHash, From: from, Payload: p})

	case TypeRequest:
		c.serveRequest(from, p)

	case TypeResponse:
		if cb, ok := c.pending.take(p.RN); ok && json.Valid(p.RR) {
			cb(p.RR)
		}
		c.events.emitResponse(from, p.RN, p.RR)

	case TypePing:
		c.events.emitPing(from)

	case TypeLeave:
		if c.peers.remove(from) {
			metrics.PeersKnown.Set(float64(c.peers.count()))
			c.events.emitLeft(from)
		}
	}
}

// serveRequest invokes the registered handler, or replies with the
// missing-handler error.
func (c *Channel) serveRequest(from string, p *Payload) {
	reply := func(result interface{}) {
		rr, err := json.Marshal(result)
		if err != nil {
			c.log.Warn("reply marshal failed", logger.String("call", p.C), logger.Error(err))
			return
		}
		peer, ok := c.peers.get(from)
		if !ok {
			return
		}
		resp := c.newPayload(TypeResponse)
		resp.RN = p.RN
		resp.RR = rr
		if err := c.publish(resp, &peer); err != nil {
			c.log.Warn("reply publish failed", logger.String("call", p.C), logger.Error(err))
		}
	}

	if handler, ok := c.handlers.get(p.C); ok {
		metrics.RPCCalls.WithLabelValues("incoming", "ok").Inc()
		handler(from, p.A, reply)
	} else {
		metrics.RPCCalls.WithLabelValues("incoming", "missing_handler").Inc()
		reply(map[string]string{"error": "No such API call."})
	}
	c.events.emitRequest(from, p.C, p.A, p.RN)
}

// handlePresenceEntry processes one presence/ record.
func (c *Channel) handlePresenceEntry(key string, value []byte) {
	if c.destroyed.Load() || value == nil {
		return
	}

	var rec presenceRecord
	if err := json.Unmarshal(value, &rec); err != nil {
		return
	}
	pk, err := base58.Decode(rec.PK)
	if err != nil || keys.ValidateEd25519PublicKey(pk) != nil {
		return
	}
	ek, err := base58.Decode(rec.EK)
	if err != nil || len(ek) != keys.BoxKeySize {
		return
	}

	from := identity.AddressFromPublicKey(pk)
	if from == c.Address() {
		return
	}
	// The record key must match the key-derived address.
	if key != c.GraphKey("presence/")+from {
		return
	}

	if c.peers.upsert(from, pk, ek, time.Now()) {
		metrics.PeersKnown.Set(float64(c.peers.count()))
		c.events.emitSeen(from)
	}
}

// announcePresence writes the local presence record.
func (c *Channel) announcePresence() {
	rec := presenceRecord{
		PK: base58.Encode(c.ident.SigningPublicKey()),
		EK: base58.Encode(c.ident.BoxPublicKey()),
		T:  time.Now().UnixMilli(),
	}
	data, err := json.Marshal(&rec)
	if err != nil {
		return
	}
	if err := c.store.Put(context.Background(), c.GraphKey("presence/")+c.Address(), data); err != nil {
		c.log.Debug("presence write failed", logger.Error(err))
	}
}

// heartbeatLoop re-announces presence, evicts stale peers, and trims the
// seen set until Destroy.
func (c *Channel) heartbeatLoop() {
	ticker := time.NewTicker(c.cfg.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.heartbeat()
		case <-c.stopHeartbeat:
			return
		}
	}
}

// heartbeat runs one presence-and-eviction cycle.
func (c *Channel) heartbeat() {
	c.announcePresence()

	now := time.Now()
	for _, addr := range c.peers.expired(c.cfg.PeerTimeout, now) {
		if c.peers.remove(addr) {
			c.events.emitTimeout(addr)
			c.events.emitLeft(addr)
		}
	}
	metrics.PeersKnown.Set(float64(c.peers.count()))
	c.seen.Trim()
}
