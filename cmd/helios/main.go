package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/heliosrun/helios/pkg/config"
	"github.com/heliosrun/helios/pkg/fanout"
	"github.com/heliosrun/helios/pkg/httpapi"
	"github.com/heliosrun/helios/pkg/log"
	"github.com/heliosrun/helios/pkg/manager"
	"github.com/heliosrun/helios/pkg/queue"
	"github.com/heliosrun/helios/pkg/runtime"
	"github.com/heliosrun/helios/pkg/status"
	"github.com/heliosrun/helios/pkg/worker"
	"github.com/heliosrun/helios/pkg/wsapi"
)

var (
	// Version is set via ldflags during build.
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "helios",
	Short:   "Helios is a minimal remote-execution platform",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("helios version %s (%s)\n", Version, Commit))
	rootCmd.AddCommand(managerCmd, workerCmd)
}

var managerCmd = &cobra.Command{
	Use:   "manager",
	Short: "Run the Helios manager: HTTP ingress, status query, and log egress",
	RunE:  runManager,
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run a Helios worker: lease jobs and execute them in containers",
	RunE:  runWorker,
}

func init() {
	workerCmd.Flags().String("worker-id", "", "Unique worker ID (defaults to hostname)")
}

func loadConfigAndLogger() (*config.Settings, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})
	if cfg.NodeLabel != "" {
		log.Logger = log.Logger.With().Str("node_label", cfg.NodeLabel).Logger()
	}
	return cfg, nil
}

func newRedisClient(cfg *config.Settings) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		DB:       cfg.RedisDB,
		Password: cfg.RedisPassword,
	})
}

func runManager(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigAndLogger()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := log.WithComponent("manager")

	rdb := newRedisClient(cfg)
	defer rdb.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	broker, err := queue.NewRedisBroker(ctx, rdb, "manager")
	if err != nil {
		return fmt.Errorf("connect queue broker: %w", err)
	}
	defer broker.Close()

	grace := time.Duration(cfg.StatusGraceSeconds) * time.Second
	statusStore := status.NewRedisStore(rdb, grace)

	if err := os.MkdirAll(cfg.StoragePath, 0o755); err != nil {
		return fmt.Errorf("create storage path: %w", err)
	}
	mgr := manager.New(manager.Config{StoragePath: cfg.StoragePath}, broker, statusStore)

	hub := fanout.NewHub(fanout.NewRedisSource(rdb))
	api := httpapi.New(mgr, rdb)
	ws := wsapi.New(hub)

	mux := http.NewServeMux()
	mux.Handle("/ws/", ws.Handler())
	mux.Handle("/", api.Handler())

	addr := fmt.Sprintf("%s:%d", cfg.APIHost, cfg.APIPort)
	server := &http.Server{Addr: addr, Handler: mux}

	logger.Info().Str("addr", addr).Msg("manager listening")

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info().Msg("manager shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	}
	return nil
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigAndLogger()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := log.WithComponent("worker")

	workerID, _ := cmd.Flags().GetString("worker-id")
	if workerID == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "worker"
		}
		workerID = hostname
	}

	rdb := newRedisClient(cfg)
	defer rdb.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	broker, err := queue.NewRedisBroker(ctx, rdb, workerID)
	if err != nil {
		return fmt.Errorf("connect queue broker: %w", err)
	}
	defer broker.Close()

	grace := time.Duration(cfg.StatusGraceSeconds) * time.Second
	statusStore := status.NewRedisStore(rdb, grace)

	rt, err := runtime.NewContainerdRuntime(cfg.ContainerdSocket)
	if err != nil {
		return fmt.Errorf("connect containerd: %w", err)
	}
	defer rt.Close()

	w := worker.New(worker.Config{
		WorkerID:     workerID,
		RuntimeImage: cfg.RuntimeImage,
		JobTimeout:   time.Duration(cfg.JobTimeoutSeconds) * time.Second,
	}, broker, statusStore, rt, rdb)

	logger.Info().Str("worker_id", workerID).Msg("worker starting")

	go func() {
		<-ctx.Done()
		logger.Info().Msg("worker shutting down")
		w.Stop()
	}()

	return w.Run(ctx)
}
