// cmd/api/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tebi01/stock-market-e18-jobmaster/internal/config"
	"github.com/tebi01/stock-market-e18-jobmaster/internal/db"
	"github.com/tebi01/stock-market-e18-jobmaster/internal/logger"
	"github.com/tebi01/stock-market-e18-jobmaster/internal/service"
	httptransport "github.com/tebi01/stock-market-e18-jobmaster/internal/transport/http"
)

// @title JobMaster API
// @version 1.0
// @description Asynchronous portfolio gains estimation jobs.
// @BasePath /
func main() {
	cfg, err := config.LoadAPI()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	lg, err := logger.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	lg = lg.Named("api")
	if err := run(cfg, lg); err != nil {
		lg.Fatal("api stopped with error", zap.Error(err))
	}
}

func run(cfg config.API, lg *zap.Logger) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := db.OpenJobStore(ctx, cfg.Common)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, closeStore()) }()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, rdb.Close()) }()

	queue := service.NewRedisQueue(rdb, cfg.QueuePrefix)
	jobSvc := service.NewJobService(store, queue, cfg.QueueTopic, service.EnqueueOptions{
		MaxAttempts: cfg.MaxAttempts,
		Backoff:     service.Backoff{Type: cfg.BackoffType, Delay: cfg.BackoffDelay},
	}, lg.Named("jobs"))

	h := httptransport.NewHandler(jobSvc, cfg.ServiceName, lg)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           httptransport.Routes(h, lg.Named("http")),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		lg.Info("api listening",
			zap.String("addr", srv.Addr),
			zap.String("store", cfg.StoreDriver),
			zap.String("topic", cfg.QueueTopic),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	lg.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
