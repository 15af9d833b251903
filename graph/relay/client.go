// Package relay connects a node to a shared relay over WebSocket. The
// relay is nothing more than a hosted graph store: clients mirror puts to
// it and receive prefix subscriptions back, so nodes behind NAT can gossip
// through one reachable point.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/scobru/shogun-kunai/graph"
	"github.com/scobru/shogun-kunai/internal/logger"
)

// Client implements graph.Store against a relay server.
type Client struct {
	url          string
	conn         *websocket.Conn
	writeMu      sync.Mutex
	writeTimeout time.Duration

	mu    sync.RWMutex
	subs  map[string]graph.Handler
	waits map[string]*onceWait
	done  chan struct{}
	log   logger.Logger
}

type onceWait struct {
	fn   graph.Handler
	eof  chan struct{}
	once sync.Once
}

// Dial connects to a relay and starts the read pump.
func Dial(ctx context.Context, url string) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 30 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("relay dial %s: %w", url, err)
	}

	c := &Client{
		url:          url,
		conn:         conn,
		writeTimeout: 30 * time.Second,
		subs:         make(map[string]graph.Handler),
		waits:        make(map[string]*onceWait),
		done:         make(chan struct{}),
		log:          logger.GetDefaultLogger().WithFields(logger.String("component", "relay-client")),
	}
	go c.readPump()
	return c, nil
}

func (c *Client) readPump() {
	defer close(c.done)
	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			c.log.Debug("read pump stopped", logger.Error(err))
			return
		}
		switch f.Op {
		case opEvent:
			c.dispatch(&f)
		case opEOF:
			c.mu.RLock()
			w := c.waits[f.ID]
			c.mu.RUnlock()
			if w != nil {
				w.once.Do(func() { close(w.eof) })
			}
		}
	}
}

func (c *Client) dispatch(f *frame) {
	var value []byte
	if !f.Tombstone {
		value = f.Value
	}

	c.mu.RLock()
	sub := c.subs[f.ID]
	w := c.waits[f.ID]
	c.mu.RUnlock()

	if sub != nil {
		sub(f.Key, value)
	}
	if w != nil {
		w.fn(f.Key, value)
	}
}

func (c *Client) send(f *frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.conn.WriteJSON(f)
}

// Put implements graph.Store.
func (c *Client) Put(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.send(&frame{Op: opPut, Key: key, Value: json.RawMessage(value)})
}

// Delete implements graph.Store.
func (c *Client) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.send(&frame{Op: opDel, Key: key})
}

// Subscribe implements graph.Store.
func (c *Client) Subscribe(prefix string, fn graph.Handler) graph.CancelFunc {
	id := uuid.NewString()

	c.mu.Lock()
	c.subs[id] = fn
	c.mu.Unlock()

	if err := c.send(&frame{Op: opSub, ID: id, Prefix: prefix}); err != nil {
		c.log.Warn("subscribe send failed", logger.Error(err))
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
			_ = c.send(&frame{Op: opUnsub, ID: id})
		})
	}
}

// Once implements graph.Store. It scans the relay's current view and
// returns when the relay signals end of scan or the context expires.
func (c *Client) Once(ctx context.Context, prefix string, fn graph.Handler) error {
	id := uuid.NewString()
	w := &onceWait{fn: fn, eof: make(chan struct{})}

	c.mu.Lock()
	c.waits[id] = w
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.waits, id)
		c.mu.Unlock()
	}()

	if err := c.send(&frame{Op: opOnce, ID: id, Prefix: prefix}); err != nil {
		return err
	}

	select {
	case <-w.eof:
		return nil
	case <-c.done:
		return fmt.Errorf("relay connection closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements graph.Store.
func (c *Client) Close() error {
	c.writeMu.Lock()
	c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	return c.conn.Close()
}
