// Package main wires together the relay queue service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/relayq/relayq/internal/api"
	"github.com/relayq/relayq/internal/batch"
	"github.com/relayq/relayq/internal/classify"
	"github.com/relayq/relayq/internal/clock/system"
	"github.com/relayq/relayq/internal/config"
	"github.com/relayq/relayq/internal/dedup"
	"github.com/relayq/relayq/internal/id/uuid"
	"github.com/relayq/relayq/internal/ledger"
	"github.com/relayq/relayq/internal/logging"
	"github.com/relayq/relayq/internal/manager"
	"github.com/relayq/relayq/internal/notify"
	queueMemory "github.com/relayq/relayq/internal/queue/memory"
	"github.com/relayq/relayq/internal/runner"
	"github.com/relayq/relayq/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := ledger.New(cfg.Store.Dir)
	if err != nil {
		logger.Fatal("ledger init failed", zap.Error(err))
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr: cfg.Redis.Addr,
			DB:   cfg.Redis.DB,
		})
		defer func() {
			if closeErr := rdb.Close(); closeErr != nil {
				logger.Warn("redis close failed", zap.Error(closeErr))
			}
		}()
	}

	index := dedup.New(rdb, store, logger.Named("dedup")).WithKey(cfg.Redis.Key)
	if rdb != nil {
		if err := index.Warm(ctx); err != nil {
			logger.Warn("dedup warm-up failed", zap.Error(err))
		}
	}

	queue := queueMemory.NewQueue()
	clock := system.New()
	idGen := uuid.New()
	batches := batch.NewTracker(idGen)
	notifier := notify.NewLogNotifier(logger.Named("notify"))

	mgr := manager.New(store, queue, index, batches, idGen,
		manager.Config{RangeLimit: cfg.Range.Limit},
		logger.Named("manager"),
	)
	if err := mgr.Recover(ctx); err != nil {
		logger.Fatal("recovery failed", zap.Error(err))
	}

	run := runner.New(runner.Config{
		Path:      cfg.Tool.Path,
		ExtraArgs: cfg.Tool.ExtraArgs,
	}, classify.New(), clock, logger.Named("runner"))

	fwd := worker.New(queue, store, index, run, notifier, mgr, mgr, clock,
		worker.Config{Cooldown: cfg.Cooldown()},
		logger.Named("worker"),
	)

	apiServer := api.NewServer(mgr, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("worker started")
		if err := fwd.Run(ctx); err != nil {
			logger.Error("worker stopped", zap.Error(err))
			stop()
		}
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	queue.Close()
	logger.Info("shutdown complete")
}
