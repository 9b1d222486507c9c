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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tendant/chi-demo/middleware"
	"github.com/tendant/simple-transfer/pkg/simpletransfer"
	"github.com/tendant/simple-transfer/pkg/simpletransfer/api"
	"github.com/tendant/simple-transfer/pkg/simpletransfer/config"
	"github.com/tendant/simple-transfer/pkg/simpletransfer/metrics"
)

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "-h" || os.Args[1] == "--help") {
		fmt.Println("simple-transfer server, configured through environment variables:")
		if err := config.EnvUsage(os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Load configuration from environment
	serverConfig, err := config.Load(config.WithEnv())
	if err != nil {
		slog.Error("Failed to load server configuration", "err", err)
		os.Exit(1)
	}

	logger := newLogger(serverConfig.Environment)
	slog.SetDefault(logger)

	if err := run(serverConfig, logger); err != nil {
		logger.Error("Server error", "err", err)
		os.Exit(1)
	}
}

func newLogger(environment string) *slog.Logger {
	if environment == "production" {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func run(serverConfig *config.ServerConfig, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		serviceOptions []simpletransfer.Option
		metricsHandler http.Handler
	)
	if serverConfig.MetricsEnabled {
		registry := prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		observer, err := metrics.NewPrometheusObserver(metrics.DefaultNamespace, registry)
		if err != nil {
			return fmt.Errorf("failed to register metrics: %w", err)
		}
		serviceOptions = append(serviceOptions,
			simpletransfer.WithObserver(observer),
			simpletransfer.WithHooks(observer.Hooks()),
		)
		metricsHandler = promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	}
	serviceOptions = append(serviceOptions, simpletransfer.WithHooks(simpletransfer.LoggingHook(logger)))

	runtime, err := serverConfig.BuildService(ctx, logger, serviceOptions...)
	if err != nil {
		return err
	}
	defer runtime.Close()

	routerConfig := api.RouterConfig{
		Service:    runtime.Service,
		Logger:     logger,
		Ready:      runtime.Ready,
		CORSOrigin: serverConfig.CORSOrigin,
		Metrics:    metricsHandler,
		Objects:    runtime.ObjectHandler,
	}
	if serverConfig.APIKeySHA256 != "" {
		apiKeyMiddleware, err := middleware.ApiKeyMiddleware(middleware.ApiKeyConfig{
			APIKeys: map[string]string{
				"key1": serverConfig.APIKeySHA256,
			},
		})
		if err != nil {
			return fmt.Errorf("failed to initialize API key middleware: %w", err)
		}
		routerConfig.Auth = func(next http.Handler) http.Handler {
			return apiKeyMiddleware(next)
		}
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", serverConfig.Port),
		Handler:           api.NewRouter(routerConfig),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Simple Transfer Server starting",
			"port", serverConfig.Port,
			"env", serverConfig.Environment,
			"mapping_store", serverConfig.MappingStore,
			"mapping_cache", serverConfig.MappingCache,
			"storage_backend", serverConfig.StorageBackend,
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("Server exiting")
	return nil
}
