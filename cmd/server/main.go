package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"route-replay/internal/jobs"
	"route-replay/internal/loader"
	"route-replay/internal/platform/config"
	"route-replay/internal/platform/logger"
	"route-replay/internal/platform/metrics"
	"route-replay/internal/replay"
	"route-replay/internal/route"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	shutdownTimeout = 10 * time.Second
	userAgent       = "route-replay/1.0"
)

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	logLevel := config.GetEnv("LOG_LEVEL", "info")
	logFormat := config.GetEnv("LOG_FORMAT", "json")
	logFile := config.ExpandPath(config.GetEnv("LOG_FILE", ""))
	indexURL := config.GetEnv("ROUTE_INDEX_URL", route.DefaultIndexURL)
	indexToken := config.GetEnv("ROUTE_INDEX_TOKEN", "")
	indexTimeout := config.GetEnvDuration("ROUTE_INDEX_TIMEOUT", route.DefaultIndexTimeout)
	dataDir := config.ExpandPath(config.GetEnv("DATA_DIR", ""))
	poolSize := config.GetEnvInt("WORKER_POOL_SIZE", jobs.DefaultPoolSize)
	blobCacheEntries := config.GetEnvInt("BLOB_CACHE_ENTRIES", loader.DefaultCacheEntries)
	routeCacheSize := config.GetEnvInt("ROUTE_CACHE_SIZE", replay.DefaultRouteCacheSize)

	var out io.Writer = os.Stdout
	if logFile != "" {
		fw := logger.FileWriter(logFile)
		defer fw.Close()
		out = io.MultiWriter(os.Stdout, fw)
	}
	log := logger.NewWithWriter(out, logLevel, logFormat)

	resolver := route.NewResolver(
		route.WithIndexURL(indexURL),
		route.WithAuthToken(indexToken),
		route.WithTimeout(indexTimeout),
		route.WithLogger(log),
	)
	factory, err := loader.NewFactory(
		loader.WithCacheEntries(blobCacheEntries),
		loader.WithUserAgent(userAgent),
		loader.WithLogger(log),
	)
	if err != nil {
		log.Error("loader setup failed", "error", err)
		os.Exit(1)
	}
	repo, err := replay.NewInMemoryRepository(routeCacheSize)
	if err != nil {
		log.Error("repository setup failed", "error", err)
		os.Exit(1)
	}
	met := metrics.New()
	svc := replay.NewService(repo, resolver, factory, jobs.NewPool(poolSize),
		replay.WithDataDir(dataDir),
		replay.WithLogger(log),
		replay.WithMetrics(met),
	)
	h := replay.NewHandler(svc, log, met)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	h.Routes(r)

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	source := "remote"
	if dataDir != "" {
		source = dataDir
	}
	log.Info("server starting",
		"port", port,
		"source", source,
		"worker_pool_size", poolSize,
		"route_cache_size", routeCacheSize,
		"log_level", logLevel,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	// Cancels and waits for outstanding segment loads.
	svc.Close()
	log.Info("server stopped")
}
