package transfer

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scobru/shogun-kunai/channel"
	"github.com/scobru/shogun-kunai/graph/memory"
	"github.com/scobru/shogun-kunai/identity"
)

// fastConfig keeps every transfer timer short enough for tests.
func fastConfig() Config {
	return Config{
		ChunkSize:         16,
		CacheTTL:          5 * time.Minute,
		MaxSweeps:         2,
		SweepDelay:        20 * time.Millisecond,
		MinReceiveTimeout: 300 * time.Millisecond,
	}
}

func newTestEngine(t *testing.T, store *memory.Store, room string, cfg Config) *Engine {
	t.Helper()
	ident, err := identity.New()
	require.NoError(t, err)
	ch := channel.New(ident, store, room, channel.Config{})
	e := New(ch, cfg)
	t.Cleanup(func() { e.Destroy() })
	require.NoError(t, ch.Start())
	e.Start()
	return e
}

// startEnginePair returns sender and receiver engines that have
// discovered each other, on separate but connected stores.
func startEnginePair(t *testing.T, cfg Config) (*Engine, *Engine, *memory.Store, *memory.Store) {
	t.Helper()
	sStore := memory.NewStore()
	rStore := memory.NewStore()
	t.Cleanup(func() { sStore.Close(); rStore.Close() })
	sStore.Connect(rStore)

	sender := newTestEngine(t, sStore, "room", cfg)
	receiver := newTestEngine(t, rStore, "room", cfg)

	require.Eventually(t, func() bool {
		return sender.Channel().Connections() == 1 && receiver.Channel().Connections() == 1
	}, 3*time.Second, 10*time.Millisecond)
	return sender, receiver, sStore, rStore
}

func TestCodeGrammar(t *testing.T) {
	for i := 0; i < 50; i++ {
		code := NewCode()
		assert.True(t, ValidCode(code), code)
		parts := strings.Split(code, "-")
		require.Len(t, parts, 3)
	}
	assert.False(t, ValidCode("no-UPPER-case"))
	assert.False(t, ValidCode("missing-word"))
	assert.False(t, ValidCode("1-two-3"))
}

func TestSenderCacheTTL(t *testing.T) {
	c := newSenderCache(50 * time.Millisecond)
	c.put("id", map[int]string{0: "aaaa"}, Metadata{TotalChunks: 1})

	pairs, ok := c.collect("id", []int{0})
	require.True(t, ok)
	require.Len(t, pairs, 1)

	// Not yet expired.
	c.sweep(time.Now())
	assert.True(t, c.has("id"))

	// Past the TTL.
	c.sweep(time.Now().Add(100 * time.Millisecond))
	assert.False(t, c.has("id"))

	_, ok = c.collect("id", []int{0})
	assert.False(t, ok)
}

func TestSenderCacheCollectsOnlyExistingIndices(t *testing.T) {
	c := newSenderCache(time.Minute)
	c.put("id", map[int]string{0: "a", 2: "c"}, Metadata{TotalChunks: 3})

	pairs, ok := c.collect("id", []int{0, 1, 2})
	require.True(t, ok)
	assert.Len(t, pairs, 2)
}

func TestReceiveTimeoutFormula(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, 15*time.Second, cfg.receiveTimeout(1))
	assert.Equal(t, 15*time.Second, cfg.receiveTimeout(999))
	// 3 x 2000 x 5ms = 30s > floor
	assert.Equal(t, 30*time.Second, cfg.receiveTimeout(2000))
}

func TestSmallFileTransfer(t *testing.T) {
	sender, receiver, _, _ := startEnginePair(t, fastConfig())

	var mu sync.Mutex
	var got *File
	receiver.OnFileReceived(func(f File) {
		mu.Lock()
		got = &f
		mu.Unlock()
	})

	var completed string
	sender.OnTransferComplete(func(fileID string) { completed = fileID })

	payload := []byte("hello world!")
	code, err := sender.SendFile(context.Background(), "h.txt", "text/plain", payload)
	require.NoError(t, err)
	require.True(t, ValidCode(code))
	assert.Equal(t, code, completed)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got != nil
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "h.txt", got.Filename)
	assert.Equal(t, code, got.FileID)
	assert.Equal(t, int64(len(payload)), got.Size)
	assert.True(t, bytes.Equal(payload, got.Data))
	assert.Equal(t, sender.Channel().Address(), got.Sender)
}

func TestSingleByteFileTransfer(t *testing.T) {
	sender, receiver, _, _ := startEnginePair(t, fastConfig())

	var mu sync.Mutex
	var got *File
	receiver.OnFileReceived(func(f File) {
		mu.Lock()
		got = &f
		mu.Unlock()
	})

	_, err := sender.SendFile(context.Background(), "one.bin", "", []byte{0x42})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got != nil
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []byte{0x42}, got.Data)
	assert.Equal(t, int64(1), got.Size)
}

func TestExactMultipleChunking(t *testing.T) {
	cfg := fastConfig()
	cfg.ChunkSize = 8

	sender, receiver, _, _ := startEnginePair(t, cfg)

	// 12 raw bytes encode to exactly 16 base64 chars = 2 full chunks.
	payload := []byte("0123456789ab")

	var mu sync.Mutex
	var got *File
	var progress []Progress
	receiver.OnFileReceived(func(f File) {
		mu.Lock()
		got = &f
		mu.Unlock()
	})
	receiver.OnReceiveProgress(func(p Progress) {
		mu.Lock()
		progress = append(progress, p)
		mu.Unlock()
	})

	code, err := sender.SendFile(context.Background(), "even.bin", "", payload)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got != nil
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, bytes.Equal(payload, got.Data))
	require.NotEmpty(t, progress)
	last := progress[len(progress)-1]
	assert.Equal(t, 2, last.Total, "no short final chunk expected")
	assert.Equal(t, code, last.FileID)
}

func TestLossyTransferRecoversViaRetransmission(t *testing.T) {
	cfg := fastConfig()
	sender, receiver, sStore, rStore := startEnginePair(t, cfg)

	// Drop the chunks with indices 1 and 3 on the way to the receiver.
	dropped := map[int]bool{1: true, 3: true}
	sStore.DropTo(rStore, func(key string, value []byte) bool {
		if !strings.Contains(key, "/chunks/") {
			return false
		}
		var rec chunkRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return false
		}
		return dropped[rec.Index]
	})

	var mu sync.Mutex
	var got *File
	receiver.OnFileReceived(func(f File) {
		mu.Lock()
		got = &f
		mu.Unlock()
	})

	payload := make([]byte, 60) // 80 base64 chars -> 5 chunks of 16
	_, err := rand.Read(payload)
	require.NoError(t, err)

	code, err := sender.SendFile(context.Background(), "lossy.bin", "", payload)
	require.NoError(t, err)
	require.Equal(t, 1, sender.CachedTransfers())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got != nil
	}, 10*time.Second, 20*time.Millisecond)

	mu.Lock()
	data := got.Data
	mu.Unlock()
	assert.True(t, bytes.Equal(payload, data))

	// The completion confirmation empties the sender cache for this id.
	require.Eventually(t, func() bool {
		return sender.CachedTransfers() == 0
	}, 5*time.Second, 20*time.Millisecond)
	_ = code
}

func TestLossyTransferWithoutCacheFails(t *testing.T) {
	cfg := fastConfig()
	sender, receiver, sStore, rStore := startEnginePair(t, cfg)

	sStore.DropTo(rStore, func(key string, value []byte) bool {
		if !strings.Contains(key, "/chunks/") {
			return false
		}
		var rec chunkRecord
		if err := json.Unmarshal(value, &rec); err != nil {
			return false
		}
		return rec.Index == 0
	})

	var mu sync.Mutex
	var received bool
	var failedErr error
	receiver.OnFileReceived(func(f File) {
		mu.Lock()
		received = true
		mu.Unlock()
	})
	receiver.OnTransferFailed(func(fileID string, err error) {
		mu.Lock()
		failedErr = err
		mu.Unlock()
	})

	payload := make([]byte, 60)
	code, err := sender.SendFile(context.Background(), "gone.bin", "", payload)
	require.NoError(t, err)

	// Evict the cache before the receiver can ask for retransmission.
	sender.cache.remove(code)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return failedErr != nil
	}, 10*time.Second, 20*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.False(t, received)
	assert.ErrorIs(t, failedErr, ErrTransferIncomplete)

	// The engine must still tear down cleanly.
	require.NoError(t, receiver.Destroy())
}

func TestRequestChunksCacheMissReply(t *testing.T) {
	sender, receiver, _, _ := startEnginePair(t, fastConfig())

	var mu sync.Mutex
	var result string
	require.NoError(t, receiver.Channel().RPC(
		sender.Channel().Address(),
		"request-chunks",
		requestChunksArgs{FileID: "0-no-where", MissingChunks: []int{0}},
		func(res json.RawMessage) {
			mu.Lock()
			result = string(res)
			mu.Unlock()
		},
	))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return result != ""
	}, 3*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, result, "File not in cache")
}

func TestTransferConfirmedDropsCacheEntry(t *testing.T) {
	sender, receiver, _, _ := startEnginePair(t, fastConfig())

	code, err := sender.SendFile(context.Background(), "f.bin", "", []byte("data"))
	require.NoError(t, err)
	require.Equal(t, 1, sender.CachedTransfers())

	var mu sync.Mutex
	var result string
	require.NoError(t, receiver.Channel().RPC(
		sender.Channel().Address(),
		"transfer-confirmed",
		confirmArgs{FileID: code},
		func(res json.RawMessage) {
			mu.Lock()
			result = string(res)
			mu.Unlock()
		},
	))

	require.Eventually(t, func() bool {
		return sender.CachedTransfers() == 0
	}, 3*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.JSONEq(t, `{"success":true}`, result)
}

func TestDuplicateMetadataActivatesOnce(t *testing.T) {
	sender, receiver, sStore, _ := startEnginePair(t, fastConfig())

	var mu sync.Mutex
	var files int
	receiver.OnFileReceived(func(f File) {
		mu.Lock()
		files++
		mu.Unlock()
	})

	code, err := sender.SendFile(context.Background(), "dup.bin", "", []byte("payload"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return files == 1
	}, 5*time.Second, 20*time.Millisecond)

	// Re-publish the same metadata; the processing set suppresses it.
	meta := Metadata{
		Name:        "dup.bin",
		Size:        7,
		TotalChunks: 1,
		Timestamp:   time.Now().UnixMilli(),
		Sender:      sender.Channel().Address(),
	}
	metaBytes, err := json.Marshal(&meta)
	require.NoError(t, err)
	require.NoError(t, sStore.Put(context.Background(),
		sender.Channel().GraphKey("files/")+code, metaBytes))

	time.Sleep(200 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, files)
}

func TestSenderIgnoresOwnOffer(t *testing.T) {
	store := memory.NewStore()
	defer store.Close()
	e := newTestEngine(t, store, "room", fastConfig())

	var mu sync.Mutex
	var received int
	e.OnFileReceived(func(f File) {
		mu.Lock()
		received++
		mu.Unlock()
	})

	_, err := e.SendFile(context.Background(), "self.bin", "", []byte("mine"))
	require.NoError(t, err)

	time.Sleep(200 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, received)
}

func TestUnifiedMessagingPlain(t *testing.T) {
	sender, receiver, _, _ := startEnginePair(t, fastConfig())

	var mu sync.Mutex
	var got string
	receiver.OnMessage(func(address string, value json.RawMessage) {
		mu.Lock()
		got = string(value)
		mu.Unlock()
	})

	require.NoError(t, sender.Send(context.Background(), map[string]string{"chat": "hello"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got != ""
	}, 3*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.JSONEq(t, `{"chat":"hello"}`, got)
}

func TestDestroyIdempotent(t *testing.T) {
	store := memory.NewStore()
	defer store.Close()
	e := newTestEngine(t, store, "room", fastConfig())

	require.NoError(t, e.Destroy())
	require.NoError(t, e.Destroy())

	_, err := e.SendFile(context.Background(), "late.bin", "", []byte("x"))
	assert.ErrorIs(t, err, ErrDestroyed)
}
