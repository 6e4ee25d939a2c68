package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/yairfalse/fuse/pkg/correlation"
	"github.com/yairfalse/fuse/pkg/correlation/cache"
	"github.com/yairfalse/fuse/pkg/storage"
	"github.com/yairfalse/fuse/pkg/transport"
)

const version = "1.0.0"

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "fuse-composite",
		Short: "Composite alert correlation processor",
		Long: `fuse-composite consumes normalized alerts, evaluates composite
strategy expressions over sliding alert windows, and emits derived
composite alerts and gated actions.`,
		Version: version,
		RunE:    run,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file")

	viper.SetEnvPrefix("FUSE_COMPOSITE")
	viper.AutomaticEnv()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("nats.url", "nats://localhost:4222")
	viper.SetDefault("strategy.dir", "/etc/fuse/strategies")
	viper.SetDefault("metrics.addr", ":9090")

	if configPath != "" {
		viper.SetConfigFile(configPath)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config %s: %w", configPath, err)
		}
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Shared coordination store
	redisConfig := storage.DefaultRedisConfig()
	redisConfig.Addr = viper.GetString("redis.addr")
	redisConfig.Password = viper.GetString("redis.password")
	redisConfig.DB = viper.GetInt("redis.db")

	store := storage.NewRedisStore(logger, redisConfig)
	defer store.Close()
	if err := store.Ping(ctx); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	// 2. Strategy cache
	loader := &cache.FileLoader{Dir: viper.GetString("strategy.dir")}
	strategies, err := cache.NewSnapshotCache(ctx, logger, cache.DefaultSnapshotConfig(), loader)
	if err != nil {
		return fmt.Errorf("failed to load strategies: %w", err)
	}
	strategies.Start(ctx)
	defer strategies.Stop()

	// 3. NATS publisher (events, actions, delayed retries)
	natsConfig := transport.DefaultConfig()
	natsConfig.URL = viper.GetString("nats.url")

	publisher, err := transport.NewPublisher(logger, natsConfig)
	if err != nil {
		return fmt.Errorf("failed to create publisher: %w", err)
	}
	defer publisher.Close()

	// 4. Correlation processor
	processor, err := correlation.NewProcessor(logger, correlation.DefaultConfig(), correlation.Deps{
		Store:   store,
		Cache:   strategies,
		Events:  publisher,
		Actions: publisher,
		Delay:   publisher,
	})
	if err != nil {
		return fmt.Errorf("failed to create processor: %w", err)
	}

	// 5. Work intake
	snapshots := storage.NewAlertSnapshots(store)
	subscriber, err := transport.NewSubscriber(logger, natsConfig, processor, snapshots)
	if err != nil {
		return fmt.Errorf("failed to create subscriber: %w", err)
	}
	if err := subscriber.Start(ctx); err != nil {
		return fmt.Errorf("failed to start subscriber: %w", err)
	}

	// 6. Metrics endpoint
	metricsAddr := viper.GetString("metrics.addr")
	metricsSrv := &http.Server{Addr: metricsAddr, Handler: promhttp.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	logger.Info("composite processor started",
		zap.String("nats_url", natsConfig.URL),
		zap.String("redis_addr", redisConfig.Addr),
		zap.String("strategy_dir", loader.Dir),
		zap.String("metrics_addr", metricsAddr),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down composite processor...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to stop metrics server", zap.Error(err))
	}

	subscriber.Stop()
	cancel()

	logger.Info("Composite processor stopped")
	return nil
}
