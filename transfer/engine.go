// Package transfer implements the chunked file-transfer engine: files are
// published as metadata (the offer) plus a paced chunk stream in the graph
// store, while the signed channel carries only coordination traffic —
// retransmission requests and completion confirmations. Receivers
// reassemble from a chunk subscription, recover losses with bounded
// sweeps, and fall back to an RPC retransmission served from a
// time-bounded sender cache.
package transfer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/scobru/shogun-kunai/channel"
	"github.com/scobru/shogun-kunai/graph"
	"github.com/scobru/shogun-kunai/internal/logger"
	"github.com/scobru/shogun-kunai/internal/metrics"
	"github.com/scobru/shogun-kunai/overlay"
)

var (
	// ErrSendTimeout reports that the file-offer publish exceeded its
	// deadline. The transfer code is still returned alongside it.
	ErrSendTimeout = errors.New("file offer publish timed out")
	// ErrDestroyed is returned by operations on a destroyed engine.
	ErrDestroyed = errors.New("transfer engine destroyed")
	// ErrTransferIncomplete reports that sweeps and retransmission were
	// exhausted without full reassembly.
	ErrTransferIncomplete = errors.New("transfer incomplete")
)

// Engine drives file transfers over a channel, optionally messaging
// through an encrypted overlay.
type Engine struct {
	ch  *channel.Channel
	ov  *overlay.Overlay
	cfg Config
	log logger.Logger

	cache *senderCache

	mu         sync.Mutex
	receivers  map[string]*receiverState
	processing map[string]bool

	onComplete []func(fileID string)
	onProgress []func(Progress)
	onReceived []func(File)
	onFailed   []func(fileID string, err error)
	onMessage  []func(address string, value json.RawMessage)

	cancelFiles  graph.CancelFunc
	sweeperOnce  sync.Once
	stopSweeper  chan struct{}
	destroyOnce  sync.Once
	destroyed    bool
}

// New creates a transfer engine on a bare channel.
func New(ch *channel.Channel, cfg Config) *Engine {
	return newEngine(ch, nil, cfg)
}

// NewEncrypted creates a transfer engine whose messaging surface routes
// through the encrypted overlay. The transfer protocol itself is
// unchanged.
func NewEncrypted(ov *overlay.Overlay, cfg Config) *Engine {
	return newEngine(ov.Channel(), ov, cfg)
}

func newEngine(ch *channel.Channel, ov *overlay.Overlay, cfg Config) *Engine {
	e := &Engine{
		ch:  ch,
		ov:  ov,
		cfg: cfg.withDefaults(),
		log: logger.GetDefaultLogger().WithFields(
			logger.String("component", "transfer"),
			logger.String("channel", ch.Name()),
		),
		receivers:   make(map[string]*receiverState),
		processing:  make(map[string]bool),
		stopSweeper: make(chan struct{}),
	}
	e.cache = newSenderCache(e.cfg.CacheTTL)

	ch.Register("request-chunks", e.handleRequestChunks, "serve cached chunks for retransmission")
	ch.Register("transfer-confirmed", e.handleTransferConfirmed, "drop a confirmed transfer from the cache")

	if ov != nil {
		ov.OnDecrypted(func(address string, peer overlay.PeerKeys, plain json.RawMessage, id string) {
			e.emitMessage(address, plain)
		})
	} else {
		ch.Events().OnMessage(func(address string, value json.RawMessage, packet *channel.Packet) {
			e.emitMessage(address, value)
		})
	}
	return e
}

// Start subscribes to incoming file offers. The subscription replays
// current entries synchronously, so no engine lock may be held across it.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.cancelFiles != nil || e.destroyed {
		e.mu.Unlock()
		return
	}
	e.cancelFiles = func() {} // claim the slot
	e.mu.Unlock()

	cancel := e.ch.Store().Subscribe(e.ch.GraphKey("files/"), e.handleMetadataEntry)

	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		cancel()
		return
	}
	e.cancelFiles = cancel
	e.mu.Unlock()
}

// Channel returns the underlying channel.
func (e *Engine) Channel() *channel.Channel {
	return e.ch
}

// Encrypted reports whether messaging routes through the overlay.
func (e *Engine) Encrypted() bool {
	return e.ov != nil
}

// OnTransferComplete registers a callback for finished uploads.
func (e *Engine) OnTransferComplete(fn func(fileID string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onComplete = append(e.onComplete, fn)
}

// OnReceiveProgress registers a callback for receive progress.
func (e *Engine) OnReceiveProgress(fn func(Progress)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onProgress = append(e.onProgress, fn)
}

// OnFileReceived registers a callback for reassembled files.
func (e *Engine) OnFileReceived(fn func(File)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onReceived = append(e.onReceived, fn)
}

// OnTransferFailed registers a callback for abandoned transfers.
func (e *Engine) OnTransferFailed(fn func(fileID string, err error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onFailed = append(e.onFailed, fn)
}

// OnMessage registers a callback on the unified messaging surface:
// decrypted overlay payloads when encryption is enabled, plain channel
// messages otherwise.
func (e *Engine) OnMessage(fn func(address string, value json.RawMessage)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onMessage = append(e.onMessage, fn)
}

// Send broadcasts a value over the messaging surface.
func (e *Engine) Send(ctx context.Context, value interface{}) error {
	if e.ov != nil {
		return e.ov.Broadcast(ctx, value)
	}
	return e.ch.Send(value)
}

// SendTo sends a value to one peer over the messaging surface.
func (e *Engine) SendTo(address string, value interface{}) error {
	if e.ov != nil {
		return e.ov.Direct(address, value)
	}
	return e.ch.SendTo(address, value)
}

// SendFile publishes a file and returns its transfer code. The metadata
// publish is bounded by the configured deadline; on overrun the code is
// returned together with ErrSendTimeout so the sender can retry out of
// band. Chunk writes are paced — the delay is the transport's only
// backpressure and must stay.
func (e *Engine) SendFile(ctx context.Context, name, mimeType string, data []byte) (string, error) {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return "", ErrDestroyed
	}
	e.mu.Unlock()

	code := NewCode()
	encoded := base64.StdEncoding.EncodeToString(data)
	totalChunks := (len(encoded) + e.cfg.ChunkSize - 1) / e.cfg.ChunkSize
	if totalChunks == 0 {
		totalChunks = 1
	}

	meta := Metadata{
		Name:        name,
		Type:        mimeType,
		Size:        int64(len(data)),
		TotalChunks: totalChunks,
		Timestamp:   time.Now().UnixMilli(),
		Sender:      e.ch.Address(),
	}
	metaBytes, err := json.Marshal(&meta)
	if err != nil {
		return "", err
	}

	offerCtx, cancel := context.WithTimeout(ctx, e.cfg.MetadataTimeout)
	err = e.ch.Store().Put(offerCtx, e.ch.GraphKey("files/")+code, metaBytes)
	cancel()
	if err != nil {
		e.log.Error("file offer publish failed", logger.String("fileId", code), logger.Error(err))
		return code, ErrSendTimeout
	}

	chunks := make(map[int]string, totalChunks)
	for i := 0; i < totalChunks; i++ {
		start := i * e.cfg.ChunkSize
		end := start + e.cfg.ChunkSize
		if end > len(encoded) {
			end = len(encoded)
		}
		fragment := encoded[start:end]
		chunks[i] = fragment

		rec := chunkRecord{
			Index:     i,
			Data:      fragment,
			Timestamp: time.Now().UnixMilli(),
			FileID:    code,
		}
		recBytes, err := json.Marshal(&rec)
		if err != nil {
			return code, err
		}
		key := e.ch.GraphKey("chunks/") + code + "/" + uuid.NewString()
		if err := e.ch.Store().Put(ctx, key, recBytes); err != nil {
			return code, fmt.Errorf("chunk %d write: %w", i, err)
		}
		metrics.ChunksSent.Inc()

		select {
		case <-time.After(e.cfg.ChunkDelay):
		case <-ctx.Done():
			return code, ctx.Err()
		}
	}

	e.cache.put(code, chunks, meta)
	e.startSweeper()

	e.log.Info("transfer published",
		logger.String("fileId", code),
		logger.String("name", name),
		logger.Int("chunks", totalChunks),
	)
	e.emitComplete(code)
	return code, nil
}

// CachedTransfers returns the number of transfers in the sender cache.
func (e *Engine) CachedTransfers() int {
	return e.cache.len()
}

// handleRequestChunks serves the retransmission RPC from the sender
// cache.
func (e *Engine) handleRequestChunks(caller string, args json.RawMessage, reply channel.ReplyFunc) {
	var req requestChunksArgs
	if err := json.Unmarshal(args, &req); err != nil {
		reply(requestChunksReply{Success: false, Error: "malformed request"})
		return
	}
	pairs, ok := e.cache.collect(req.FileID, req.MissingChunks)
	if !ok {
		reply(requestChunksReply{Success: false, Error: "File not in cache"})
		return
	}
	e.log.Debug("serving retransmission",
		logger.String("fileId", req.FileID),
		logger.String("peer", caller),
		logger.Int("chunks", len(pairs)),
	)
	reply(requestChunksReply{Success: true, FileID: req.FileID, Chunks: pairs})
}

// handleTransferConfirmed drops a confirmed transfer from the cache.
func (e *Engine) handleTransferConfirmed(caller string, args json.RawMessage, reply channel.ReplyFunc) {
	var req confirmArgs
	if err := json.Unmarshal(args, &req); err != nil {
		reply(map[string]interface{}{"success": false})
		return
	}
	e.cache.remove(req.FileID)
	reply(map[string]interface{}{"success": true})
}

func (e *Engine) startSweeper() {
	e.sweeperOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(e.cfg.CacheSweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					e.cache.sweep(time.Now())
				case <-e.stopSweeper:
					return
				}
			}
		}()
	})
}

func (e *Engine) emitComplete(fileID string) {
	e.mu.Lock()
	fns := e.onComplete
	e.mu.Unlock()
	for _, fn := range fns {
		fn(fileID)
	}
}

func (e *Engine) emitProgress(p Progress) {
	e.mu.Lock()
	fns := e.onProgress
	e.mu.Unlock()
	for _, fn := range fns {
		fn(p)
	}
}

func (e *Engine) emitReceived(f File) {
	e.mu.Lock()
	fns := e.onReceived
	e.mu.Unlock()
	for _, fn := range fns {
		fn(f)
	}
}

func (e *Engine) emitFailed(fileID string, err error) {
	e.mu.Lock()
	fns := e.onFailed
	e.mu.Unlock()
	for _, fn := range fns {
		fn(fileID, err)
	}
}

func (e *Engine) emitMessage(address string, value json.RawMessage) {
	e.mu.Lock()
	fns := e.onMessage
	e.mu.Unlock()
	for _, fn := range fns {
		fn(address, value)
	}
}

// fileIDFromKey strips the files/ prefix from a graph key.
func (e *Engine) fileIDFromKey(key string) string {
	return strings.TrimPrefix(key, e.ch.GraphKey("files/"))
}

// Destroy cancels every timer and subscription, clears receiver state,
// and destroys the wrapped overlay or channel. It is idempotent.
func (e *Engine) Destroy() error {
	e.destroyOnce.Do(func() {
		e.mu.Lock()
		e.destroyed = true
		cancelFiles := e.cancelFiles
		e.cancelFiles = nil
		states := make([]*receiverState, 0, len(e.receivers))
		for _, rs := range e.receivers {
			states = append(states, rs)
		}
		e.receivers = make(map[string]*receiverState)
		e.processing = make(map[string]bool)
		e.mu.Unlock()

		close(e.stopSweeper)
		if cancelFiles != nil {
			cancelFiles()
		}
		for _, rs := range states {
			rs.teardown()
		}
	})
	if e.ov != nil {
		return e.ov.Destroy()
	}
	return e.ch.Destroy()
}
