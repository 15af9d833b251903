package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scobru/shogun-kunai/channel"
	"github.com/scobru/shogun-kunai/config"
	"github.com/scobru/shogun-kunai/graph"
	"github.com/scobru/shogun-kunai/graph/memory"
	"github.com/scobru/shogun-kunai/graph/relay"
	"github.com/scobru/shogun-kunai/health"
	"github.com/scobru/shogun-kunai/identity"
	"github.com/scobru/shogun-kunai/internal/logger"
	"github.com/scobru/shogun-kunai/internal/metrics"
	"github.com/scobru/shogun-kunai/overlay"
	"github.com/scobru/shogun-kunai/transfer"
)

// node bundles everything one running peer needs.
type node struct {
	cfg     *config.Config
	store   graph.Store
	engine  *transfer.Engine
	checker *health.HealthChecker
}

// loadConfig loads the file/env configuration and applies CLI overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.LoaderOptions{ConfigDir: flagConfigDir})
	if err != nil {
		return nil, err
	}
	if flagChannel != "" {
		cfg.Channel.Name = flagChannel
	}
	if flagSeed != "" {
		cfg.Channel.Seed = flagSeed
	}
	if flagRelayURL != "" {
		if cfg.Relay == nil {
			cfg.Relay = &config.RelayConfig{}
		}
		cfg.Relay.URL = flagRelayURL
	}
	if cfg.Logging != nil {
		logger.GetDefaultLogger().SetLevel(logger.ParseLevel(cfg.Logging.Level))
	}
	return cfg, nil
}

// buildNode connects the graph store, derives the identity, and stacks
// channel, optional overlay, and transfer engine.
func buildNode(ctx context.Context) (*node, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	var store graph.Store
	if cfg.Relay != nil && cfg.Relay.URL != "" {
		dialCtx, cancel := context.WithTimeout(ctx, cfg.Relay.DialTimeout.Std())
		store, err = relay.Dial(dialCtx, cfg.Relay.URL)
		cancel()
		if err != nil {
			return nil, err
		}
		logger.Info("connected to relay", logger.String("url", cfg.Relay.URL))
	} else {
		// No relay: a process-local store. Useful for loopback testing;
		// peers in other processes will not be reachable.
		store = memory.NewStore()
		logger.Warn("no relay configured, running with an in-process store")
	}

	var ident *identity.Identity
	if cfg.Channel.Seed != "" {
		ident, err = identity.FromSeed(cfg.Channel.Seed)
	} else {
		ident, err = identity.New()
	}
	if err != nil {
		return nil, fmt.Errorf("identity: %w", err)
	}

	ch := channel.New(ident, store, cfg.Channel.Name, channel.Config{
		Heartbeat:   cfg.Channel.Heartbeat.Std(),
		PeerTimeout: cfg.Channel.PeerTimeout.Std(),
	})

	transferCfg := transfer.Config{}
	if cfg.Transfer != nil {
		transferCfg = transfer.Config{
			ChunkSize:          cfg.Transfer.ChunkSize,
			ChunkDelay:         cfg.Transfer.ChunkDelay.Std(),
			CacheTTL:           cfg.Transfer.CacheTTL.Std(),
			CacheSweepInterval: cfg.Transfer.CacheSweepInterval.Std(),
			MaxSweeps:          cfg.Transfer.MaxSweeps,
			SweepDelay:         cfg.Transfer.SweepDelay.Std(),
		}
	}

	var engine *transfer.Engine
	if flagEncrypt || (cfg.Overlay != nil && cfg.Overlay.Enabled) {
		overlayCfg := overlay.Config{}
		if cfg.Overlay != nil {
			overlayCfg = overlay.Config{
				TrimInterval:  cfg.Overlay.TrimInterval.Std(),
				TrimThreshold: cfg.Overlay.TrimThreshold,
				TrimKeep:      cfg.Overlay.TrimKeep,
			}
		}
		ov, err := overlay.New(ch, overlayCfg)
		if err != nil {
			return nil, err
		}
		engine = transfer.NewEncrypted(ov, transferCfg)
	} else {
		engine = transfer.New(ch, transferCfg)
	}

	if err := ch.Start(); err != nil {
		return nil, err
	}
	engine.Start()

	checker := health.NewHealthChecker(5 * time.Second)
	checker.RegisterCheck("graph", health.GraphStoreHealthCheck(func(ctx context.Context) error {
		return store.Once(ctx, ch.GraphKey("presence/"), func(string, []byte) {})
	}))
	checker.RegisterCheck("channel", health.ChannelHealthCheck(ch.Connections))

	fmt.Printf("channel: %s\naddress: %s\n", ch.Name(), ch.Address())
	return &node{cfg: cfg, store: store, engine: engine, checker: checker}, nil
}

// close tears the node down: engine, channel/overlay, store.
func (n *node) close() {
	_ = n.engine.Destroy()
	_ = n.store.Close()
}

// serveSidecars runs the metrics and health endpoints until ctx ends.
func (n *node) serveSidecars(ctx context.Context, g *errgroup.Group) {
	if n.cfg.Metrics != nil && n.cfg.Metrics.Enabled {
		serveHTTP(ctx, g, n.cfg.Metrics.Addr, n.cfg.Metrics.Path, metrics.Handler())
	}
	if n.cfg.Health != nil && n.cfg.Health.Enabled {
		serveHTTP(ctx, g, n.cfg.Health.Addr, n.cfg.Health.Path, health.Handler(n.checker))
	}
}

func serveHTTP(ctx context.Context, g *errgroup.Group, addr, path string, handler http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(path, handler)
	srv := &http.Server{Addr: addr, Handler: mux}

	g.Go(func() error {
		err := srv.ListenAndServe()
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
