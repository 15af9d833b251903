package memory

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestPutAndSubscribeReplaysExisting(t *testing.T) {
	s := NewStore()
	defer s.Close()

	require.NoError(t, s.Put(context.Background(), "messages/a", []byte(`1`)))

	var mu sync.Mutex
	got := map[string]string{}
	cancel := s.Subscribe("messages/", func(key string, value []byte) {
		mu.Lock()
		got[key] = string(value)
		mu.Unlock()
	})
	defer cancel()

	require.NoError(t, s.Put(context.Background(), "messages/b", []byte(`2`)))
	require.NoError(t, s.Put(context.Background(), "presence/x", []byte(`3`)))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "1", got["messages/a"])
	assert.Equal(t, "2", got["messages/b"])
	assert.NotContains(t, got, "presence/x")
}

func TestConnectReplicatesBothWays(t *testing.T) {
	a := NewStore()
	b := NewStore()
	defer a.Close()
	defer b.Close()

	require.NoError(t, a.Put(context.Background(), "files/pre", []byte(`old`)))
	a.Connect(b)

	waitFor(t, func() bool { return b.Len() == 1 })

	require.NoError(t, b.Put(context.Background(), "files/new", []byte(`new`)))
	waitFor(t, func() bool { return a.Len() == 2 })
}

func TestGossipThroughIntermediate(t *testing.T) {
	a := NewStore()
	mid := NewStore()
	c := NewStore()
	defer a.Close()
	defer mid.Close()
	defer c.Close()

	a.Connect(mid)
	mid.Connect(c)

	require.NoError(t, a.Put(context.Background(), "messages/m", []byte(`v`)))
	waitFor(t, func() bool { return c.Len() == 1 })
}

func TestDropFilterBlocksReplication(t *testing.T) {
	a := NewStore()
	b := NewStore()
	defer a.Close()
	defer b.Close()

	a.Connect(b)
	a.DropTo(b, func(key string, value []byte) bool {
		return strings.HasPrefix(key, "chunks/")
	})

	require.NoError(t, a.Put(context.Background(), "chunks/t/1", []byte(`x`)))
	require.NoError(t, a.Put(context.Background(), "files/t", []byte(`meta`)))

	waitFor(t, func() bool { return b.Len() == 1 })
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, b.Len())
}

func TestDeleteTombstones(t *testing.T) {
	a := NewStore()
	b := NewStore()
	defer a.Close()
	defer b.Close()

	a.Connect(b)
	require.NoError(t, a.Put(context.Background(), "files/t", []byte(`meta`)))
	waitFor(t, func() bool { return b.Len() == 1 })

	require.NoError(t, a.Delete(context.Background(), "files/t"))
	waitFor(t, func() bool { return b.Len() == 0 })
	assert.Equal(t, 0, a.Len())
}

func TestOnceScansCurrentEntries(t *testing.T) {
	s := NewStore()
	defer s.Close()

	require.NoError(t, s.Put(context.Background(), "chunks/t/1", []byte(`a`)))
	require.NoError(t, s.Put(context.Background(), "chunks/t/2", []byte(`b`)))

	seen := 0
	require.NoError(t, s.Once(context.Background(), "chunks/t/", func(key string, value []byte) {
		seen++
	}))
	assert.Equal(t, 2, seen)
}

func TestSubscribeCancelDetaches(t *testing.T) {
	s := NewStore()
	defer s.Close()

	count := 0
	cancel := s.Subscribe("k/", func(key string, value []byte) { count++ })
	require.NoError(t, s.Put(context.Background(), "k/1", []byte(`1`)))
	cancel()
	cancel() // idempotent
	require.NoError(t, s.Put(context.Background(), "k/2", []byte(`2`)))

	assert.Equal(t, 1, count)
}
