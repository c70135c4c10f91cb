package postgresql

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/tebi01/stock-market-e18-jobmaster/internal/entity"
	"github.com/tebi01/stock-market-e18-jobmaster/internal/repository"
)

const jobColumns = `id, type, status, data, result, error, created_at, updated_at, completed_at`

type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

func (r *JobRepository) Create(ctx context.Context, job *entity.Job) error {
	data, err := json.Marshal(job.Data)
	if err != nil {
		return errors.Wrap(err, "marshal job data")
	}

	const q = `
INSERT INTO jobs (id, type, status, data)
VALUES ($1, $2, $3, $4)
RETURNING created_at, updated_at;
`
	if err := r.pool.QueryRow(ctx, q, job.ID, string(job.Type), string(job.Status), json.RawMessage(data)).
		Scan(&job.CreatedAt, &job.UpdatedAt); err != nil {
		return errors.Wrap(err, "insert job")
	}
	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1;`

	job, err := scanJob(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, errors.Wrap(err, "get job")
	}
	return job, nil
}

// MarkProcessing moves a PENDING or PROCESSING job to PROCESSING and returns
// the updated record.
func (r *JobRepository) MarkProcessing(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	q := `
UPDATE jobs SET status = $2, updated_at = now()
WHERE id = $1 AND status = ANY($3)
RETURNING ` + jobColumns + `;`

	job, err := scanJob(r.pool.QueryRow(ctx, q, id, string(entity.StatusProcessing), entity.ActiveStatusStrings()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, r.missingOrTerminal(ctx, id)
		}
		return nil, errors.Wrap(err, "mark processing")
	}
	return job, nil
}

func (r *JobRepository) SetResultDone(ctx context.Context, id uuid.UUID, result *entity.JobResult, completedAt time.Time) error {
	out, err := json.Marshal(result)
	if err != nil {
		return errors.Wrap(err, "marshal job result")
	}

	const q = `
UPDATE jobs
SET status = $2, result = $3, error = NULL,
    completed_at = COALESCE(completed_at, $4), updated_at = now()
WHERE id = $1 AND status = $5;`

	tag, err := r.pool.Exec(ctx, q, id, string(entity.StatusCompleted), json.RawMessage(out), completedAt, string(entity.StatusProcessing))
	if err != nil {
		return errors.Wrap(err, "set result done")
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrTerminal(ctx, id)
	}
	return nil
}

func (r *JobRepository) SetResultError(ctx context.Context, id uuid.UUID, errText string, completedAt time.Time) error {
	const q = `
UPDATE jobs
SET status = $2, error = $3, result = NULL,
    completed_at = COALESCE(completed_at, $4), updated_at = now()
WHERE id = $1 AND status = ANY($5);`

	tag, err := r.pool.Exec(ctx, q, id, string(entity.StatusFailed), errText, completedAt, entity.ActiveStatusStrings())
	if err != nil {
		return errors.Wrap(err, "set result error")
	}
	if tag.RowsAffected() == 0 {
		return r.missingOrTerminal(ctx, id)
	}
	return nil
}

// ListStale returns ids of jobs in status whose record has not changed since
// before, oldest first.
func (r *JobRepository) ListStale(ctx context.Context, status entity.JobStatus, before time.Time, limit int) ([]uuid.UUID, error) {
	const q = `
SELECT id FROM jobs
WHERE status = $1 AND updated_at < $2
ORDER BY updated_at ASC
LIMIT $3;`

	rows, err := r.pool.Query(ctx, q, string(status), before, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list stale jobs")
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan stale job")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// MarkRequeued bumps updated_at of a job that is still in status and still
// untouched since before. It reports false when the job moved on meanwhile.
func (r *JobRepository) MarkRequeued(ctx context.Context, id uuid.UUID, status entity.JobStatus, before time.Time) (bool, error) {
	const q = `
UPDATE jobs SET updated_at = now()
WHERE id = $1 AND status = $2 AND updated_at < $3;`

	tag, err := r.pool.Exec(ctx, q, id, string(status), before)
	if err != nil {
		return false, errors.Wrap(err, "mark requeued")
	}
	return tag.RowsAffected() == 1, nil
}

func (r *JobRepository) missingOrTerminal(ctx context.Context, id uuid.UUID) error {
	var status string
	err := r.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1;`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	if err != nil {
		return errors.Wrap(err, "lookup job status")
	}
	if !entity.IsTerminal(entity.JobStatus(status)) {
		return errors.Wrapf(repository.ErrTerminal, "job %s is %s, not PROCESSING", id, status)
	}
	return errors.Wrapf(repository.ErrTerminal, "job %s is %s", id, status)
}

func scanJob(row pgx.Row) (*entity.Job, error) {
	var (
		job         entity.Job
		typ         string
		statusText  string
		dataBytes   []byte
		resultBytes []byte
	)

	if err := row.Scan(
		&job.ID,
		&typ,
		&statusText,
		&dataBytes,
		&resultBytes, // NULL => nil
		&job.Error,   // NULL => nil
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.CompletedAt,
	); err != nil {
		return nil, err
	}

	status, err := entity.ParseStatus(statusText)
	if err != nil {
		return nil, errors.Wrapf(err, "job %s", job.ID)
	}
	job.Type = entity.JobType(typ)
	job.Status = status
	if len(dataBytes) > 0 {
		if err := json.Unmarshal(dataBytes, &job.Data); err != nil {
			return nil, errors.Wrap(err, "decode job data")
		}
	}
	if resultBytes != nil {
		job.Result = &entity.JobResult{}
		if err := json.Unmarshal(resultBytes, job.Result); err != nil {
			return nil, errors.Wrap(err, "decode job result")
		}
	}
	return &job, nil
}
