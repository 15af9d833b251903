package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/scobru/shogun-kunai/graph"
	"github.com/scobru/shogun-kunai/graph/memory"
	"github.com/scobru/shogun-kunai/internal/logger"
)

// Server hosts a relay: a memory-backed graph store exposed to WebSocket
// clients. Every client put lands in the store and fans out to every
// subscribed client, making the relay one big gossip hub.
type Server struct {
	store    *memory.Store
	upgrader websocket.Upgrader
	log      logger.Logger

	mu    sync.Mutex
	conns map[*clientConn]struct{}

	httpServer *http.Server
}

type clientConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu   sync.Mutex
	subs map[string]graph.CancelFunc
}

// NewServer creates a relay server around a fresh memory store.
func NewServer() *Server {
	return &Server{
		store: memory.NewStore(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log:   logger.GetDefaultLogger().WithFields(logger.String("component", "relay-server")),
		conns: make(map[*clientConn]struct{}),
	}
}

// Store exposes the backing store, e.g. for a co-located node or tests.
func (s *Server) Store() *memory.Store {
	return s.store
}

// ServeHTTP upgrades the request and runs the client session.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade failed", logger.Error(err))
		return
	}

	cc := &clientConn{conn: conn, subs: make(map[string]graph.CancelFunc)}
	s.mu.Lock()
	s.conns[cc] = struct{}{}
	s.mu.Unlock()

	s.log.Debug("client connected", logger.String("remote", conn.RemoteAddr().String()))
	s.readLoop(cc)

	cc.detachAll()
	s.mu.Lock()
	delete(s.conns, cc)
	s.mu.Unlock()
	conn.Close()
}

func (s *Server) readLoop(cc *clientConn) {
	for {
		var f frame
		if err := cc.conn.ReadJSON(&f); err != nil {
			return
		}
		switch f.Op {
		case opPut:
			if err := s.store.Put(context.Background(), f.Key, f.Value); err != nil {
				s.log.Warn("put failed", logger.String("key", f.Key), logger.Error(err))
			}
		case opDel:
			if err := s.store.Delete(context.Background(), f.Key); err != nil {
				s.log.Warn("delete failed", logger.String("key", f.Key), logger.Error(err))
			}
		case opSub:
			s.subscribe(cc, f.ID, f.Prefix)
		case opUnsub:
			cc.detach(f.ID)
		case opOnce:
			s.scan(cc, f.ID, f.Prefix)
		}
	}
}

func (s *Server) subscribe(cc *clientConn, id, prefix string) {
	cancel := s.store.Subscribe(prefix, func(key string, value []byte) {
		cc.write(&frame{Op: opEvent, ID: id, Key: key, Value: json.RawMessage(value), Tombstone: value == nil})
	})
	cc.mu.Lock()
	if old, ok := cc.subs[id]; ok {
		old()
	}
	cc.subs[id] = cancel
	cc.mu.Unlock()
}

func (s *Server) scan(cc *clientConn, id, prefix string) {
	_ = s.store.Once(context.Background(), prefix, func(key string, value []byte) {
		cc.write(&frame{Op: opEvent, ID: id, Key: key, Value: json.RawMessage(value)})
	})
	cc.write(&frame{Op: opEOF, ID: id})
}

func (cc *clientConn) write(f *frame) {
	cc.writeMu.Lock()
	defer cc.writeMu.Unlock()
	cc.conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
	if err := cc.conn.WriteJSON(f); err != nil {
		// The read loop will observe the broken connection and clean up.
		return
	}
}

func (cc *clientConn) detach(id string) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cancel, ok := cc.subs[id]; ok {
		cancel()
		delete(cc.subs, id)
	}
}

func (cc *clientConn) detachAll() {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	for id, cancel := range cc.subs {
		cancel()
		delete(cc.subs, id)
	}
}

// ListenAndServe serves the relay at addr until the context is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/gun", s)
	mux.Handle("/", s)

	s.httpServer = &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
