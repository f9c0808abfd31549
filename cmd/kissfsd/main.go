// kissfsd serves a hierarchical text-file store over HTTP.
//
// Backends: in-memory, local disk (with change reconciliation against
// external edits) and Redis. Change events stream to clients over SSE.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/wix/kiss-fs/internal/api"
	"github.com/wix/kiss-fs/internal/config"
	"github.com/wix/kiss-fs/internal/localstore"
	"github.com/wix/kiss-fs/internal/logging"
	"github.com/wix/kiss-fs/internal/metrics"
	"github.com/wix/kiss-fs/internal/redisstore"
	"github.com/wix/kiss-fs/pkg/memstore"
	"github.com/wix/kiss-fs/pkg/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Structured logging is not up yet.
		panic("configuration error: " + err.Error())
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()
	log := logging.L()

	log.Info("kissfsd starting",
		zap.String("backend", cfg.Backend),
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := newStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("store init failed", zap.Error(err))
	}
	defer st.Close()

	srv := api.NewServer(st, api.Options{
		JWTSecret: cfg.JWTSecret,
		Logger:    log,
	})

	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metrics.Handler()}
	go func() {
		log.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Error("metrics server error", zap.Error(err))
		}
	}()

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: srv.Handler()}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down")
		cancel()
		httpServer.Close()
		metricsServer.Close()
	}()

	log.Info("server listening", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal("server error", zap.Error(err))
	}
}

// newStore builds the configured backend.
func newStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (store.Store, error) {
	switch cfg.Backend {
	case config.BackendLocal:
		return localstore.New(cfg.Root, localstore.Options{
			Retries:           cfg.ReadRetries,
			RetryInterval:     cfg.ReadRetryInterval,
			NoiseWindow:       cfg.NoiseWindow,
			CorrelationWindow: cfg.CorrelationWindow,
			Logger:            log,
		})
	case config.BackendRedis:
		return redisstore.New(ctx, redisstore.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Volume:   cfg.RedisVolume,
			Logger:   log,
		})
	default:
		return memstore.New(), nil
	}
}
