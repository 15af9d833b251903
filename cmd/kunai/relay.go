package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/scobru/shogun-kunai/graph/relay"
	"github.com/scobru/shogun-kunai/health"
	"github.com/scobru/shogun-kunai/internal/metrics"
)

var relayListenAddr string

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run a websocket relay for peers to gossip through",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		addr := relayListenAddr
		if addr == "" && cfg.Relay != nil && cfg.Relay.ListenAddr != "" {
			addr = cfg.Relay.ListenAddr
		}
		if addr == "" {
			addr = ":8765"
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		srv := relay.NewServer()
		g, ctx := errgroup.WithContext(ctx)

		if cfg.Metrics != nil && cfg.Metrics.Enabled {
			serveHTTP(ctx, g, cfg.Metrics.Addr, cfg.Metrics.Path, metrics.Handler())
		}
		if cfg.Health != nil && cfg.Health.Enabled {
			checker := health.NewHealthChecker(0)
			checker.RegisterCheck("graph", health.GraphStoreHealthCheck(func(ctx context.Context) error {
				return srv.Store().Once(ctx, "", func(string, []byte) {})
			}))
			serveHTTP(ctx, g, cfg.Health.Addr, cfg.Health.Path, health.Handler(checker))
		}

		g.Go(func() error {
			fmt.Printf("relay listening on %s\n", addr)
			return srv.ListenAndServe(ctx, addr)
		})
		return g.Wait()
	},
}

func init() {
	relayCmd.Flags().StringVar(&relayListenAddr, "listen", "", "listen address (default :8765)")
	rootCmd.AddCommand(relayCmd)
}
