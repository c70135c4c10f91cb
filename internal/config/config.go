// Package config loads process configuration from the environment.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pkg/errors"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Common is shared by the api and worker processes: both must agree on the
// record store and on the queue layout.
type Common struct {
	AppEnv   string `env:"APP_ENV" envDefault:"development"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`
	PostgresDSN string `env:"POSTGRES_DSN"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"jobmaster.db"`

	RedisURL     string        `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	QueueTopic   string        `env:"QUEUE_TOPIC" envDefault:"estimation"`
	QueuePrefix  string        `env:"QUEUE_KEY_PREFIX" envDefault:"jobmaster"`
	MaxAttempts  int           `env:"QUEUE_MAX_ATTEMPTS" envDefault:"3"`
	BackoffType  string        `env:"QUEUE_BACKOFF_TYPE" envDefault:"exponential"`
	BackoffDelay time.Duration `env:"QUEUE_BACKOFF_DELAY" envDefault:"2s"`
}

type API struct {
	Common

	Port        int    `env:"PORT" envDefault:"4000"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"JobMaster"`
}

type Worker struct {
	Common

	MainAPIURL       string `env:"MAIN_API_URL,notEmpty"`
	AuthTokenURL     string `env:"AUTH_TOKEN_URL,notEmpty"`
	AuthClientID     string `env:"AUTH_CLIENT_ID"`
	AuthClientSecret string `env:"AUTH_CLIENT_SECRET"`
	AuthAudience     string `env:"AUTH_AUDIENCE"`

	FetchTimeout    time.Duration `env:"FETCH_TIMEOUT" envDefault:"10s"`
	CallbackTimeout time.Duration `env:"CALLBACK_TIMEOUT" envDefault:"5s"`
	HistoryDays     int           `env:"HISTORY_DAYS" envDefault:"30"`

	ClaimTimeout             time.Duration `env:"CLAIM_TIMEOUT" envDefault:"5s"`
	PromoteSpec              string        `env:"PROMOTE_SPEC" envDefault:"@every 1s"`
	ReconcileSpec            string        `env:"RECONCILE_SPEC" envDefault:"@every 1m"`
	ReconcileAfter           time.Duration `env:"RECONCILE_AFTER" envDefault:"5m"`
	ReconcileProcessingAfter time.Duration `env:"RECONCILE_PROCESSING_AFTER" envDefault:"30m"`

	NATSURL     string `env:"NATS_URL"`
	NATSSubject string `env:"NATS_SUBJECT" envDefault:"jobs.complete"`

	HealthGRPCAddr string `env:"HEALTH_GRPC_ADDR" envDefault:":4001"`
}

func LoadAPI() (API, error) {
	var c API
	if err := env.Parse(&c); err != nil {
		return c, errors.Wrap(err, "parse api config")
	}
	if err := c.Common.validate(); err != nil {
		return c, err
	}
	if c.Port <= 0 {
		return c, errors.Errorf("PORT must be positive, got %d", c.Port)
	}
	return c, nil
}

func LoadWorker() (Worker, error) {
	var c Worker
	if err := env.Parse(&c); err != nil {
		return c, errors.Wrap(err, "parse worker config")
	}
	if err := c.Common.validate(); err != nil {
		return c, err
	}
	if c.HistoryDays <= 0 {
		return c, errors.Errorf("HISTORY_DAYS must be positive, got %d", c.HistoryDays)
	}
	return c, nil
}

func (c Common) validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.PostgresDSN == "" {
			return errors.New("POSTGRES_DSN is required when STORE_DRIVER=postgres")
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			return errors.New("SQLITE_PATH is required when STORE_DRIVER=sqlite")
		}
	default:
		return errors.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	if c.MaxAttempts < 1 {
		return errors.Errorf("QUEUE_MAX_ATTEMPTS must be at least 1, got %d", c.MaxAttempts)
	}
	if c.BackoffType != "exponential" && c.BackoffType != "fixed" {
		return errors.Errorf("unknown QUEUE_BACKOFF_TYPE %q", c.BackoffType)
	}
	return nil
}

func (c Common) IsProduction() bool { return c.AppEnv == "production" }
