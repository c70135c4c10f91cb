// cmd/worker/main.go
package main

import (
	"context"
	"log"
	"net"
	"os"
	"os/signal"
	"regexp"
	"syscall"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tebi01/stock-market-e18-jobmaster/internal/config"
	"github.com/tebi01/stock-market-e18-jobmaster/internal/db"
	"github.com/tebi01/stock-market-e18-jobmaster/internal/estimation"
	"github.com/tebi01/stock-market-e18-jobmaster/internal/logger"
	"github.com/tebi01/stock-market-e18-jobmaster/internal/notify"
	"github.com/tebi01/stock-market-e18-jobmaster/internal/service"
	grpctransport "github.com/tebi01/stock-market-e18-jobmaster/internal/transport/grpc"
	"github.com/tebi01/stock-market-e18-jobmaster/internal/upstream"
	"github.com/tebi01/stock-market-e18-jobmaster/internal/worker"
)

const serviceName = "jobmaster-worker"

func main() {
	cfg, err := config.LoadWorker()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	lg, err := logger.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	lg = lg.Named("worker")
	if err := run(cfg, lg); err != nil {
		lg.Fatal("worker stopped with error", zap.Error(err))
	}
}

func run(cfg config.Worker, lg *zap.Logger) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lg.Info("worker config",
		zap.String("store", cfg.StoreDriver),
		zap.String("postgres_dsn", redactDSN(cfg.PostgresDSN)),
		zap.String("redis_url", redactDSN(cfg.RedisURL)),
		zap.String("topic", cfg.QueueTopic),
		zap.Int("max_attempts", cfg.MaxAttempts),
		zap.String("main_api_url", cfg.MainAPIURL),
	)

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

	market := upstream.New(upstream.Config{
		BaseURL:         cfg.MainAPIURL,
		TokenURL:        cfg.AuthTokenURL,
		ClientID:        cfg.AuthClientID,
		ClientSecret:    cfg.AuthClientSecret,
		Audience:        cfg.AuthAudience,
		FetchTimeout:    cfg.FetchTimeout,
		CallbackTimeout: cfg.CallbackTimeout,
		HistoryDays:     cfg.HistoryDays,
	}, nil)

	notifiers := notify.Multi{notify.NewHTTPCallback(market)}
	if cfg.NATSURL != "" {
		nc, err := notify.Connect(cfg.NATSURL, serviceName)
		if err != nil {
			return err
		}
		defer nc.Close()
		notifiers = append(notifiers, notify.NewNATSPublisher(nc, cfg.NATSSubject))
	}

	processor := worker.NewProcessor(store, market, estimation.New(), notifiers, lg.Named("processor"))
	consumer := worker.NewConsumer(queue, processor, cfg.QueueTopic, cfg.ClaimTimeout, lg.Named("consumer"))
	scheduler := worker.NewScheduler(queue, jobSvc, worker.SchedulerConfig{
		Topic:                    cfg.QueueTopic,
		PromoteSpec:              cfg.PromoteSpec,
		ReconcileSpec:            cfg.ReconcileSpec,
		ReconcileAfter:           cfg.ReconcileAfter,
		ReconcileProcessingAfter: cfg.ReconcileProcessingAfter,
	}, lg.Named("scheduler"))

	lis, err := net.Listen("tcp", cfg.HealthGRPCAddr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", cfg.HealthGRPCAddr)
	}
	health := grpctransport.NewHealthServer(serviceName, lg.Named("health"))

	if err := scheduler.Start(ctx); err != nil {
		_ = lis.Close()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return health.Serve(lis) })

	g.Go(func() error {
		health.SetServing(true)
		defer health.SetServing(false)
		return consumer.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		lg.Info("shutting down")
		scheduler.Stop()
		health.Stop()
		return nil
	})

	err = g.Wait()
	lg.Info("worker stopped")
	return err
}

var dsnPassword = regexp.MustCompile(`://([^:/?#]*):([^@/]+)@`)

// redactDSN masks the password of a URL-style DSN: user:pass@ -> user:****@.
func redactDSN(dsn string) string {
	return dsnPassword.ReplaceAllString(dsn, `://$1:****@`)
}
