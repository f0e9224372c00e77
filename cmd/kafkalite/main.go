// =============================================================================
// KAFKALITE BROKER - MAIN ENTRY POINT
// =============================================================================
//
// Starts one broker: storage, retention janitor, replication supervisor (when
// following) and the HTTP API, then waits for SIGINT/SIGTERM.
//
// USAGE:
//   kafkalite --config broker.yaml
//   KAFKALITE_IS_LEADER=false KAFKALITE_LEADER_HOST=10.0.0.1 kafkalite
//
// STARTUP ORDER:
//   ┌─────────────────────────────────────────────────────────────────────────┐
//   │ 1. Load YAML, apply KAFKALITE_* overrides, validate                     │
//   │ 2. Open the data dir and every topic log (broker.Start)                 │
//   │ 3. Serve HTTP on listen_address                                         │
//   │ 4. On signal: stop HTTP first, then the broker (fetchers, janitor, logs)│
//   └─────────────────────────────────────────────────────────────────────────┘
//
// =============================================================================

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/andrewc773/kafka-lite/internal/api"
	"github.com/andrewc773/kafka-lite/internal/broker"
	"github.com/andrewc773/kafka-lite/internal/cluster"
	"github.com/andrewc773/kafka-lite/internal/config"
	"github.com/andrewc773/kafka-lite/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

var configPath string

var rootCmd = &cobra.Command{
	Use:          "kafkalite",
	Short:        "Run a kafka-lite broker",
	Args:         cobra.NoArgs,
	RunE:         run,
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "",
		"Path to broker YAML config (env overrides: KAFKALITE_*)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadBrokerConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	brokerCfg, err := brokerConfig(cfg)
	if err != nil {
		return err
	}

	b, err := broker.NewBroker(brokerCfg, metrics.NewRegistry(metrics.DefaultConfig()), logger)
	if err != nil {
		return fmt.Errorf("failed to create broker: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("failed to start broker: %w", err)
	}

	serverCfg := api.DefaultServerConfig()
	serverCfg.Addr = cfg.ListenAddress
	server := api.NewServer(b, serverCfg, logger)

	logger.Info("broker running",
		"node_id", cfg.NodeID,
		"listen", cfg.ListenAddress,
		"data_dir", cfg.DataDir,
		"role", b.Role().String())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Stop(shutdownCtx); err != nil {
			logger.Error("http server shutdown failed", "error", err)
		}
		return b.Stop()
	})

	return g.Wait()
}

// brokerConfig maps the file config onto the broker's runtime config.
func brokerConfig(cfg config.BrokerConfig) (broker.Config, error) {
	out := broker.DefaultConfig()
	out.NodeID = cfg.NodeID
	out.DataDir = cfg.DataDir
	out.Log = cfg.LogConfig()
	out.CleanupInterval = cfg.CleanupInterval()
	out.IsLeader = cfg.Replication.IsLeader
	out.DiscoveryInterval = cfg.DiscoveryInterval()
	if cfg.Replication.FetchBatchSize > 0 {
		out.FetchBatchSize = cfg.Replication.FetchBatchSize
	}

	if !cfg.Replication.IsLeader {
		leader, err := cluster.ParseBrokerAddress(cfg.LeaderAddress())
		if err != nil {
			return out, fmt.Errorf("invalid leader address: %w", err)
		}
		out.Leader = leader
	}
	return out, nil
}
