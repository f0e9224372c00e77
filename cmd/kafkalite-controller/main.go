// =============================================================================
// KAFKALITE CONTROLLER - MAIN ENTRY POINT
// =============================================================================
//
// Runs the external cluster controller: probes every broker, elects a new
// leader after FailureThreshold missed probes and fences a returning zombie.
//
// USAGE:
//   kafkalite-controller --config controller.yaml
//
//   # controller.yaml
//   leader: 10.0.0.1:9092
//   followers: [10.0.0.2:9092, 10.0.0.3:9092]
//   poll_interval: 2s
//   failure_threshold: 3
//   metrics_address: :9100
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

	"github.com/andrewc773/kafka-lite/internal/cluster"
	"github.com/andrewc773/kafka-lite/internal/config"
	"github.com/andrewc773/kafka-lite/internal/metrics"
	"github.com/andrewc773/kafka-lite/pkg/client"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "kafkalite-controller",
	Short:        "Monitor kafka-lite brokers and fail over the leader",
	Args:         cobra.NoArgs,
	RunE:         run,
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to controller YAML config")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadControllerConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: config.ParseLogLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	ctrlCfg, err := controllerConfig(cfg)
	if err != nil {
		return err
	}

	registry := metrics.NewRegistry(metrics.DefaultConfig())
	clients := func(addr cluster.BrokerAddress) cluster.BrokerClient {
		clientCfg := client.DefaultConfig(addr.String())
		clientCfg.Timeout = cfg.ProbeTimeout
		return client.New(clientCfg)
	}

	ctrl, err := cluster.NewController(ctrlCfg, cluster.TCPProber{Timeout: cfg.ProbeTimeout},
		clients, registry.Controller, logger)
	if err != nil {
		return err
	}

	logger.Info("failure detection latency", "max", cfg.DetectionLatency())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ctrl.Run(gctx) })

	if cfg.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", registry.Handler())
		srv := &http.Server{Addr: cfg.MetricsAddress, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// controllerConfig parses the configured addresses.
func controllerConfig(cfg config.ControllerConfig) (cluster.ControllerConfig, error) {
	leader, err := cluster.ParseBrokerAddress(cfg.Leader)
	if err != nil {
		return cluster.ControllerConfig{}, fmt.Errorf("invalid leader: %w", err)
	}

	followers := make([]cluster.BrokerAddress, 0, len(cfg.Followers))
	for _, f := range cfg.Followers {
		addr, err := cluster.ParseBrokerAddress(f)
		if err != nil {
			return cluster.ControllerConfig{}, fmt.Errorf("invalid follower: %w", err)
		}
		followers = append(followers, addr)
	}

	out := cluster.DefaultControllerConfig(leader, followers...)
	out.PollInterval = cfg.PollInterval
	out.FailureThreshold = cfg.FailureThreshold
	out.ProbeTimeout = cfg.ProbeTimeout
	if cfg.ReferenceTopic != "" {
		out.ReferenceTopic = cfg.ReferenceTopic
	}
	return out, nil
}
