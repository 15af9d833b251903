package transfer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/scobru/shogun-kunai/graph"
	"github.com/scobru/shogun-kunai/internal/logger"
	"github.com/scobru/shogun-kunai/internal/metrics"
)

// receiverState tracks one incoming transfer: the sparse chunk map, the
// processed-entry set that absorbs the store's repeat deliveries, and the
// sweep/processing flags.
type receiverState struct {
	engine *Engine
	fileID string
	meta   Metadata

	mu           sync.Mutex
	chunks       map[int]string
	processedIDs map[string]struct{}
	received     int
	lastPercent  int
	sweeping     bool
	done         bool

	cancelChunks graph.CancelFunc
	timer        *time.Timer
}

// handleMetadataEntry activates a receiver for a new file offer.
func (e *Engine) handleMetadataEntry(key string, value []byte) {
	if value == nil {
		return
	}
	var meta Metadata
	if err := json.Unmarshal(value, &meta); err != nil {
		return
	}
	fileID := e.fileIDFromKey(key)
	if fileID == "" || meta.TotalChunks <= 0 {
		return
	}
	if meta.Sender == e.ch.Address() {
		return
	}

	e.mu.Lock()
	if e.destroyed || e.processing[fileID] {
		e.mu.Unlock()
		return
	}
	e.processing[fileID] = true

	rs := &receiverState{
		engine:       e,
		fileID:       fileID,
		meta:         meta,
		chunks:       make(map[int]string),
		processedIDs: make(map[string]struct{}),
	}
	e.receivers[fileID] = rs
	e.mu.Unlock()

	e.log.Info("incoming transfer",
		logger.String("fileId", fileID),
		logger.String("name", meta.Name),
		logger.String("sender", meta.Sender),
		logger.Int("chunks", meta.TotalChunks),
	)

	rs.cancelChunks = e.ch.Store().Subscribe(e.chunksPrefix(fileID), rs.handleChunkEntry)
	rs.timer = time.AfterFunc(e.cfg.receiveTimeout(meta.TotalChunks), func() {
		e.timeoutSweep(rs)
	})
}

func (e *Engine) chunksPrefix(fileID string) string {
	return e.ch.GraphKey("chunks/") + fileID + "/"
}

// handleChunkEntry stores one chunk from the live subscription.
func (rs *receiverState) handleChunkEntry(key string, value []byte) {
	if value == nil {
		return
	}
	var rec chunkRecord
	if err := json.Unmarshal(value, &rec); err != nil {
		return
	}
	if rec.Data == "" || rec.Index < 0 || rec.Index >= rs.meta.TotalChunks {
		return
	}
	if rec.FileID != "" && rec.FileID != rs.fileID {
		return
	}

	rs.mu.Lock()
	if rs.done {
		rs.mu.Unlock()
		return
	}
	if _, seen := rs.processedIDs[key]; seen {
		rs.mu.Unlock()
		return
	}
	rs.processedIDs[key] = struct{}{}

	stored := false
	if _, have := rs.chunks[rec.Index]; !have {
		rs.chunks[rec.Index] = rec.Data
		rs.received++
		stored = true
	}
	received := rs.received
	total := rs.meta.TotalChunks
	progress, emit := rs.progressLocked()
	complete := received >= total && !rs.sweeping
	if complete {
		rs.sweeping = true
	}
	rs.mu.Unlock()

	if stored {
		metrics.ChunksReceived.Inc()
	}
	if emit {
		rs.engine.emitProgress(progress)
	}
	if complete {
		rs.detachChunks()
		rs.stopTimer()
		go rs.engine.finalSweep(rs)
	}
}

// progressLocked decides whether to report progress: every 10% step and
// every 100 chunks.
func (rs *receiverState) progressLocked() (Progress, bool) {
	total := rs.meta.TotalChunks
	percent := rs.received * 100 / total
	emit := rs.received%100 == 0 || percent/10 > rs.lastPercent/10 || rs.received == total
	rs.lastPercent = percent
	return Progress{
		FileID:   rs.fileID,
		Received: rs.received,
		Total:    total,
		Percent:  percent,
	}, emit
}

// insertChunk adds a chunk found by a sweep or retransmission, skipping
// out-of-range and already-present indices.
func (rs *receiverState) insertChunk(index int, data string) {
	if data == "" || index < 0 || index >= rs.meta.TotalChunks {
		return
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.done {
		return
	}
	if _, have := rs.chunks[index]; !have {
		rs.chunks[index] = data
		rs.received++
	}
}

// missing returns the absent indices in ascending order.
func (rs *receiverState) missing() []int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	var out []int
	for i := 0; i < rs.meta.TotalChunks; i++ {
		if _, have := rs.chunks[i]; !have {
			out = append(out, i)
		}
	}
	sort.Ints(out)
	return out
}

func (rs *receiverState) detachChunks() {
	if rs.cancelChunks != nil {
		rs.cancelChunks()
	}
}

func (rs *receiverState) stopTimer() {
	if rs.timer != nil {
		rs.timer.Stop()
	}
}

// teardown releases every resource the receiver holds.
func (rs *receiverState) teardown() {
	rs.detachChunks()
	rs.stopTimer()
	rs.mu.Lock()
	rs.done = true
	rs.chunks = nil
	rs.processedIDs = nil
	rs.mu.Unlock()
}

// finalSweep runs after the live subscription saw every index count; it
// re-scans for any chunk the subscription may have missed and assembles.
func (e *Engine) finalSweep(rs *receiverState) {
	if e.runSweeps(rs, "final") {
		e.finish(rs)
		return
	}
	// Leave the state behind for a later trigger; just clear the flag.
	rs.mu.Lock()
	rs.sweeping = false
	rs.mu.Unlock()
	e.log.Warn("transfer still incomplete after final sweeps", logger.String("fileId", rs.fileID))
}

// timeoutSweep fires when the receive timeout elapses before the final
// sweep began: sweep, then fall back to the retransmission RPC.
func (e *Engine) timeoutSweep(rs *receiverState) {
	rs.mu.Lock()
	if rs.sweeping || rs.done {
		rs.mu.Unlock()
		return
	}
	rs.sweeping = true
	rs.mu.Unlock()

	rs.detachChunks()

	if e.runSweeps(rs, "timeout") {
		e.finish(rs)
		return
	}

	missing := rs.missing()
	sender := rs.meta.Sender
	if _, known := e.ch.Peer(sender); !known {
		e.fail(rs, fmt.Errorf("%w: sender %s not reachable, %d chunks missing",
			ErrTransferIncomplete, sender, len(missing)))
		return
	}

	e.log.Info("requesting retransmission",
		logger.String("fileId", rs.fileID),
		logger.Int("missing", len(missing)),
	)
	metrics.RetransmissionRequests.Inc()

	err := e.ch.RPC(sender, "request-chunks", requestChunksArgs{
		FileID:        rs.fileID,
		MissingChunks: missing,
	}, func(result json.RawMessage) {
		e.handleRetransmission(rs, sender, result)
	})
	if err != nil {
		e.fail(rs, fmt.Errorf("%w: retransmission request failed: %v", ErrTransferIncomplete, err))
	}
}

// handleRetransmission applies a request-chunks reply.
func (e *Engine) handleRetransmission(rs *receiverState, sender string, result json.RawMessage) {
	var reply requestChunksReply
	if err := json.Unmarshal(result, &reply); err != nil || !reply.Success {
		e.fail(rs, fmt.Errorf("%w: sender cache miss", ErrTransferIncomplete))
		return
	}
	for _, c := range reply.Chunks {
		rs.insertChunk(c.Index, c.Data)
	}
	if len(rs.missing()) > 0 {
		e.fail(rs, fmt.Errorf("%w: %d chunks unrecoverable", ErrTransferIncomplete, len(rs.missing())))
		return
	}
	e.finish(rs)
	if err := e.ch.RPC(sender, "transfer-confirmed", confirmArgs{FileID: rs.fileID}, nil); err != nil {
		e.log.Debug("transfer confirmation failed", logger.String("fileId", rs.fileID), logger.Error(err))
	}
}

// runSweeps performs up to MaxSweeps one-shot scans with the configured
// pause, returning true once every index is present.
func (e *Engine) runSweeps(rs *receiverState, kind string) bool {
	for i := 0; i < e.cfg.MaxSweeps; i++ {
		metrics.SweepsRun.WithLabelValues(kind).Inc()
		_ = e.ch.Store().Once(context.Background(), e.chunksPrefix(rs.fileID), func(key string, value []byte) {
			if value == nil {
				return
			}
			var rec chunkRecord
			if err := json.Unmarshal(value, &rec); err != nil {
				return
			}
			if rec.FileID != "" && rec.FileID != rs.fileID {
				return
			}
			rs.insertChunk(rec.Index, rec.Data)
		})

		time.Sleep(e.cfg.SweepDelay)

		if len(rs.missing()) == 0 {
			return true
		}
	}
	return false
}

// finish reassembles and emits the file, then releases the receiver.
func (e *Engine) finish(rs *receiverState) {
	rs.mu.Lock()
	if rs.done {
		rs.mu.Unlock()
		return
	}
	var sb strings.Builder
	for i := 0; i < rs.meta.TotalChunks; i++ {
		sb.WriteString(rs.chunks[i])
	}
	rs.mu.Unlock()

	data, err := base64.StdEncoding.DecodeString(sb.String())
	if err != nil {
		e.fail(rs, fmt.Errorf("%w: corrupt chunk data: %v", ErrTransferIncomplete, err))
		return
	}

	rs.teardown()
	e.mu.Lock()
	delete(e.receivers, rs.fileID)
	e.mu.Unlock()

	metrics.TransfersCompleted.WithLabelValues("received").Inc()
	e.log.Info("transfer received",
		logger.String("fileId", rs.fileID),
		logger.String("name", rs.meta.Name),
		logger.Int("bytes", len(data)),
	)
	e.emitReceived(File{
		FileID:   rs.fileID,
		Filename: rs.meta.Name,
		Type:     rs.meta.Type,
		Size:     rs.meta.Size,
		Data:     data,
		Sender:   rs.meta.Sender,
	})
}

// fail logs and emits a non-fatal failure. The receiver state stays
// behind — detached but reclaimable — so a later event may retry.
func (e *Engine) fail(rs *receiverState, err error) {
	rs.mu.Lock()
	rs.sweeping = false
	rs.mu.Unlock()

	metrics.TransfersCompleted.WithLabelValues("incomplete").Inc()
	e.log.Warn("transfer failed", logger.String("fileId", rs.fileID), logger.Error(err))
	e.emitFailed(rs.fileID, err)
}
