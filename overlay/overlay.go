// Package overlay layers end-to-end encryption over a channel. Each
// overlay derives its own key material, exchanges it with peers through a
// registered "peer" RPC handler, and encrypts application payloads with a
// per-pair shared secret. Inbound traffic is deduplicated across the raw
// and decrypted delivery paths by the channel packet hash.
package overlay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"

	"github.com/scobru/shogun-kunai/channel"
	"github.com/scobru/shogun-kunai/crypto/keys"
	"github.com/scobru/shogun-kunai/internal/logger"
	"github.com/scobru/shogun-kunai/internal/metrics"
)

// ErrUnknownPeer mirrors the channel error for peers missing from the
// overlay table.
var ErrUnknownPeer = channel.ErrUnknownPeer

// PeerKeys is the key material exchanged in the "peer" handshake.
type PeerKeys struct {
	Pub  string `json:"pub"`  // base58 signing public key
	EPub string `json:"epub"` // base58 X25519 public key
}

// Config holds the overlay dedup-trim parameters.
type Config struct {
	TrimInterval  time.Duration
	TrimThreshold int
	TrimKeep      int
}

func (c Config) withDefaults() Config {
	if c.TrimInterval == 0 {
		c.TrimInterval = 5 * time.Minute
	}
	if c.TrimThreshold == 0 {
		c.TrimThreshold = 1000
	}
	if c.TrimKeep == 0 {
		c.TrimKeep = 500
	}
	return c
}

// DecryptedHandler receives a successfully decrypted payload.
type DecryptedHandler func(address string, peer PeerKeys, plain json.RawMessage, messageID string)

// Overlay wraps a channel with automatic key agreement and payload
// encryption. It owns the channel: Destroy tears both down.
type Overlay struct {
	ch  *channel.Channel
	cfg Config
	log logger.Logger

	signing *keys.Ed25519KeyPair
	enc     *keys.X25519KeyPair

	mu        sync.RWMutex
	peers     map[string]PeerKeys
	sessions  map[string]*pairSession
	decrypted []DecryptedHandler

	seen      *seenIDs
	firstPeer chan struct{}
	firstOnce sync.Once

	stopTrim    chan struct{}
	destroyOnce sync.Once
}

// New wraps a channel. The overlay's key material is freshly generated
// and independent of the channel identity.
func New(ch *channel.Channel, cfg Config) (*Overlay, error) {
	signing, err := keys.GenerateEd25519KeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate overlay signing key: %w", err)
	}
	enc, err := keys.GenerateX25519KeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate overlay encryption key: %w", err)
	}

	o := &Overlay{
		ch:  ch,
		cfg: cfg.withDefaults(),
		log: logger.GetDefaultLogger().WithFields(
			logger.String("component", "overlay"),
			logger.String("channel", ch.Name()),
		),
		signing:   signing,
		enc:       enc,
		peers:     make(map[string]PeerKeys),
		sessions:  make(map[string]*pairSession),
		firstPeer: make(chan struct{}),
		stopTrim:  make(chan struct{}),
	}
	o.seen = newSeenIDs(o.cfg.TrimThreshold, o.cfg.TrimKeep)

	ch.Register("peer", o.handlePeerExchange, "exchange overlay public keys")
	ch.Events().OnSeen(o.handshake)
	ch.Events().OnMessage(o.handleMessage)

	go o.trimLoop()
	return o, nil
}

// Channel returns the wrapped channel.
func (o *Overlay) Channel() *channel.Channel {
	return o.ch
}

// Keys returns the overlay's own public key material.
func (o *Overlay) Keys() PeerKeys {
	return PeerKeys{
		Pub:  base58.Encode(o.signing.PublicKeyBytes()),
		EPub: base58.Encode(o.enc.PublicKeyBytes()),
	}
}

// PeerCount returns the number of peers that completed the handshake.
func (o *Overlay) PeerCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.peers)
}

// OnDecrypted registers a handler for decrypted payloads.
func (o *Overlay) OnDecrypted(fn DecryptedHandler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.decrypted = append(o.decrypted, fn)
}

// handlePeerExchange is the "peer" RPC handler: it stores the caller's
// key material and derives the pair session.
func (o *Overlay) handlePeerExchange(caller string, args json.RawMessage, reply channel.ReplyFunc) {
	var pk PeerKeys
	if err := json.Unmarshal(args, &pk); err != nil {
		reply(map[string]interface{}{"success": false, "error": "malformed keys"})
		return
	}
	epub, err := base58.Decode(pk.EPub)
	if err != nil {
		reply(map[string]interface{}{"success": false, "error": "malformed keys"})
		return
	}
	shared, err := o.enc.DeriveSharedSecret(epub)
	if err != nil {
		reply(map[string]interface{}{"success": false, "error": "key agreement failed"})
		return
	}
	sess, err := newPairSession(shared)
	if err != nil {
		reply(map[string]interface{}{"success": false, "error": "key agreement failed"})
		return
	}

	o.mu.Lock()
	o.peers[caller] = pk
	o.sessions[caller] = sess
	o.mu.Unlock()

	o.firstOnce.Do(func() { close(o.firstPeer) })
	metrics.HandshakesCompleted.Inc()
	o.log.Debug("peer keys stored", logger.String("peer", caller))
	reply(map[string]interface{}{"success": true})
}

// handshake pushes our key material to a newly seen peer.
func (o *Overlay) handshake(address string) {
	err := o.ch.RPC(address, "peer", o.Keys(), func(result json.RawMessage) {
		o.log.Debug("handshake acknowledged", logger.String("peer", address))
	})
	if err != nil {
		o.log.Warn("handshake failed", logger.String("peer", address), logger.Error(err))
	}
}

// Broadcast encrypts value once per peer and sends it to each of them.
// With an empty peer table it blocks until the first handshake completes
// or the context expires. Per-peer failures are logged, not fatal.
func (o *Overlay) Broadcast(ctx context.Context, value interface{}) error {
	select {
	case <-o.firstPeer:
	case <-ctx.Done():
		return ctx.Err()
	}

	plain, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value: %w", err)
	}

	o.mu.RLock()
	targets := make(map[string]*pairSession, len(o.sessions))
	for addr, sess := range o.sessions {
		targets[addr] = sess
	}
	o.mu.RUnlock()

	for addr, sess := range targets {
		if err := o.sendEncrypted(addr, sess, plain); err != nil {
			o.log.Warn("broadcast peer failed", logger.String("peer", addr), logger.Error(err))
		}
	}
	return nil
}

// Direct encrypts value for a single peer.
func (o *Overlay) Direct(address string, value interface{}) error {
	o.mu.RLock()
	sess, ok := o.sessions[address]
	o.mu.RUnlock()
	if !ok {
		return ErrUnknownPeer
	}
	plain, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value: %w", err)
	}
	return o.sendEncrypted(address, sess, plain)
}

func (o *Overlay) sendEncrypted(address string, sess *pairSession, plain []byte) error {
	ct, err := sess.Encrypt(plain)
	if err != nil {
		return err
	}
	metrics.MessagesEncrypted.Inc()
	return o.ch.SendTo(address, base64.StdEncoding.EncodeToString(ct))
}

// handleMessage consumes the channel's message stream, deduplicates by
// packet hash, and attempts decryption for senders we hold keys for.
func (o *Overlay) handleMessage(address string, value json.RawMessage, packet *channel.Packet) {
	id := ""
	if packet != nil {
		id = packet.ID
	}
	if id == "" {
		// No stable id from the transport; synthesize one.
		id = fmt.Sprintf("%d|%s|%s", time.Now().UnixMilli(), address, uuid.NewString())
	}
	if !o.seen.Add(id) {
		return
	}
	metrics.SeenIDsTracked.Set(float64(o.seen.Len()))

	// Overlay payloads are base64 ciphertext strings; anything else is
	// plain channel traffic and not ours to decode.
	var encoded string
	if err := json.Unmarshal(value, &encoded); err != nil {
		return
	}
	ct, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return
	}

	o.mu.RLock()
	sess := o.sessions[address]
	pk, known := o.peers[address]
	o.mu.RUnlock()
	if !known || sess == nil {
		return
	}

	plain, err := sess.Decrypt(ct)
	if err != nil {
		metrics.MessagesDecrypted.WithLabelValues("failure").Inc()
		o.log.Debug("decryption failed", logger.String("peer", address), logger.Error(err))
		return
	}
	metrics.MessagesDecrypted.WithLabelValues("success").Inc()

	o.mu.RLock()
	handlers := o.decrypted
	o.mu.RUnlock()
	for _, fn := range handlers {
		fn(address, pk, plain, id)
	}
}

// trimLoop periodically trims the seen-id set.
func (o *Overlay) trimLoop() {
	ticker := time.NewTicker(o.cfg.TrimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			o.seen.Trim()
			metrics.SeenIDsTracked.Set(float64(o.seen.Len()))
		case <-o.stopTrim:
			return
		}
	}
}

// Destroy cancels the trimmer, clears the seen set, and destroys the
// underlying channel. It is idempotent.
func (o *Overlay) Destroy() error {
	o.destroyOnce.Do(func() {
		close(o.stopTrim)
		o.seen.Clear()
	})
	return o.ch.Destroy()
}
