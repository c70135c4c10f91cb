package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/tebi01/stock-market-e18-jobmaster/internal/config"
	"github.com/tebi01/stock-market-e18-jobmaster/internal/entity"
	"github.com/tebi01/stock-market-e18-jobmaster/internal/repository/postgresql"
	"github.com/tebi01/stock-market-e18-jobmaster/internal/repository/sqlite"
)

// JobStore is the full record store; both adapters implement it.
type JobStore interface {
	Create(ctx context.Context, job *entity.Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	MarkProcessing(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	SetResultDone(ctx context.Context, id uuid.UUID, result *entity.JobResult, completedAt time.Time) error
	SetResultError(ctx context.Context, id uuid.UUID, errText string, completedAt time.Time) error
	ListStale(ctx context.Context, status entity.JobStatus, before time.Time, limit int) ([]uuid.UUID, error)
	MarkRequeued(ctx context.Context, id uuid.UUID, status entity.JobStatus, before time.Time) (bool, error)
}

// OpenJobStore opens the record store selected by STORE_DRIVER. The returned
// func releases it.
func OpenJobStore(ctx context.Context, cfg config.Common) (JobStore, func() error, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := postgresql.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return postgresql.NewJobRepository(pool), func() error { pool.Close(); return nil }, nil
	case config.DriverSQLite:
		sdb, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return sqlite.NewJobRepository(sdb.DB), sdb.Close, nil
	default:
		return nil, nil, errors.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
