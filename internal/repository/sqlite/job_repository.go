// Package sqlite is the embedded job record store, used for local runs and
// single-host deployments where both processes share one database file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/tebi01/stock-market-e18-jobmaster/internal/entity"
	"github.com/tebi01/stock-market-e18-jobmaster/internal/repository"
)

// fixed width so that timestamps sort lexicographically
const timeFormat = "2006-01-02T15:04:05.000000000Z"

const jobColumns = `id, type, status, data, result, error, created_at, updated_at, completed_at`

type JobRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewJobRepository(db *sql.DB) *JobRepository {
	return &JobRepository{db: db, now: time.Now}
}

func (r *JobRepository) Create(ctx context.Context, job *entity.Job) error {
	data, err := json.Marshal(job.Data)
	if err != nil {
		return errors.Wrap(err, "marshal job data")
	}

	now := r.now().UTC()
	const q = `INSERT INTO jobs (id, type, status, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	if _, err := r.db.ExecContext(ctx, q,
		job.ID.String(), string(job.Type), string(job.Status), string(data),
		now.Format(timeFormat), now.Format(timeFormat),
	); err != nil {
		return errors.Wrap(err, "insert job")
	}

	job.CreatedAt = now
	job.UpdatedAt = now
	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	return r.get(ctx, r.db, id)
}

func (r *JobRepository) MarkProcessing(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	var job *entity.Job
	err := r.transition(ctx, id, entity.StatusProcessing, func(tx *sql.Tx, now string) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`,
			string(entity.StatusProcessing), now, id.String(),
		); err != nil {
			return errors.Wrap(err, "mark processing")
		}
		var err error
		job, err = r.get(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (r *JobRepository) SetResultDone(ctx context.Context, id uuid.UUID, result *entity.JobResult, completedAt time.Time) error {
	out, err := json.Marshal(result)
	if err != nil {
		return errors.Wrap(err, "marshal job result")
	}

	return r.transition(ctx, id, entity.StatusCompleted, func(tx *sql.Tx, now string) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE jobs SET status = ?, result = ?, error = NULL,
				completed_at = COALESCE(completed_at, ?), updated_at = ?
			 WHERE id = ?`,
			string(entity.StatusCompleted), string(out), completedAt.UTC().Format(timeFormat), now, id.String(),
		)
		return errors.Wrap(err, "set result done")
	})
}

func (r *JobRepository) SetResultError(ctx context.Context, id uuid.UUID, errText string, completedAt time.Time) error {
	return r.transition(ctx, id, entity.StatusFailed, func(tx *sql.Tx, now string) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE jobs SET status = ?, error = ?, result = NULL,
				completed_at = COALESCE(completed_at, ?), updated_at = ?
			 WHERE id = ?`,
			string(entity.StatusFailed), errText, completedAt.UTC().Format(timeFormat), now, id.String(),
		)
		return errors.Wrap(err, "set result error")
	})
}

// ListStale returns ids of jobs in status whose record has not changed since
// before, oldest first.
func (r *JobRepository) ListStale(ctx context.Context, status entity.JobStatus, before time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM jobs WHERE status = ? AND updated_at < ? ORDER BY updated_at ASC LIMIT ?`,
		string(status), before.UTC().Format(timeFormat), limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "list stale jobs")
	}
	defer func() { _ = rows.Close() }()

	var ids []uuid.UUID
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, errors.Wrap(err, "scan stale job")
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, errors.Wrapf(err, "parse job id %q", s)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkRequeued bumps updated_at of a job that is still in status and still
// untouched since before. It reports false when the job moved on meanwhile.
func (r *JobRepository) MarkRequeued(ctx context.Context, id uuid.UUID, status entity.JobStatus, before time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE jobs SET updated_at = ? WHERE id = ? AND status = ? AND updated_at < ?`,
		r.now().UTC().Format(timeFormat), id.String(), string(status), before.UTC().Format(timeFormat),
	)
	if err != nil {
		return false, errors.Wrap(err, "mark requeued")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "mark requeued")
	}
	return n == 1, nil
}

// transition checks the current status against the state machine inside a
// transaction and runs apply only when moving to next is allowed.
func (r *JobRepository) transition(ctx context.Context, id uuid.UUID, next entity.JobStatus, apply func(tx *sql.Tx, now string) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, id.String()).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrNotFound
	}
	if err != nil {
		return errors.Wrap(err, "lookup job status")
	}

	if !entity.CanTransition(entity.JobStatus(current), next) {
		return errors.Wrapf(repository.ErrTerminal, "job %s is %s", id, current)
	}

	if err := apply(tx, r.now().UTC().Format(timeFormat)); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "commit")
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *JobRepository) get(ctx context.Context, q queryRower, id uuid.UUID) (*entity.Job, error) {
	var (
		job                          entity.Job
		idStr, typ, status, data     string
		result, errText, completedAt sql.NullString
		createdAt, updatedAt         string
	)

	err := q.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id.String()).Scan(
		&idStr, &typ, &status, &data, &result, &errText, &createdAt, &updatedAt, &completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get job")
	}

	job.ID = id
	job.Type = entity.JobType(typ)
	if job.Status, err = entity.ParseStatus(status); err != nil {
		return nil, errors.Wrapf(err, "job %s", id)
	}
	if err := json.Unmarshal([]byte(data), &job.Data); err != nil {
		return nil, errors.Wrap(err, "decode job data")
	}
	if result.Valid {
		job.Result = &entity.JobResult{}
		if err := json.Unmarshal([]byte(result.String), job.Result); err != nil {
			return nil, errors.Wrap(err, "decode job result")
		}
	}
	if errText.Valid {
		job.Error = &errText.String
	}
	if job.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return nil, err
	}
	if job.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t, err := parseTime("completed_at", completedAt.String)
		if err != nil {
			return nil, err
		}
		job.CompletedAt = &t
	}
	return &job, nil
}

func parseTime(column, v string) (time.Time, error) {
	t, err := time.Parse(timeFormat, v)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "decode %s %q", column, v)
	}
	return t, nil
}
