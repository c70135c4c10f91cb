package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/tebi01/stock-market-e18-jobmaster/internal/apperror"
	"github.com/tebi01/stock-market-e18-jobmaster/internal/entity"
	"github.com/tebi01/stock-market-e18-jobmaster/internal/repository"
)

// JobRepository is the slice of the record store the api side needs
// (implemented by postgresql.JobRepository and sqlite.JobRepository).
type JobRepository interface {
	Create(ctx context.Context, job *entity.Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	ListStale(ctx context.Context, status entity.JobStatus, before time.Time, limit int) ([]uuid.UUID, error)
	MarkRequeued(ctx context.Context, id uuid.UUID, status entity.JobStatus, before time.Time) (bool, error)
}

// JobQueue only enqueues; the worker owns the rest of Queue.
type JobQueue interface {
	Enqueue(ctx context.Context, topic string, payload any, opts EnqueueOptions) (string, error)
}

type JobService struct {
	repo  JobRepository
	queue JobQueue
	topic string
	opts  EnqueueOptions
	log   *zap.Logger

	newID func() uuid.UUID
	now   func() time.Time
}

func NewJobService(repo JobRepository, queue JobQueue, topic string, opts EnqueueOptions, log *zap.Logger) *JobService {
	return &JobService{
		repo:  repo,
		queue: queue,
		topic: topic,
		opts:  opts,
		log:   log,
		newID: uuid.New,
		now:   time.Now,
	}
}

type CreateJobRequest struct {
	Type string
	Data *entity.JobData
}

// CreateJob validates the request, persists a PENDING job and enqueues it.
// If enqueue fails the record stays PENDING; RequeueStale picks it up.
func (s *JobService) CreateJob(ctx context.Context, req CreateJobRequest) (*entity.Job, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	job := &entity.Job{
		ID:     s.newID(),
		Type:   entity.TypeEstimateGains,
		Status: entity.StatusPending,
		Data:   entity.JobData{UserEmail: strings.TrimSpace(req.Data.UserEmail)},
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, apperror.Wrap(apperror.Internal, "failed to create job", err)
	}

	if err := s.enqueue(ctx, job.ID, job.Data); err != nil {
		s.log.Error("enqueue failed, job left pending",
			zap.String("job_id", job.ID.String()), zap.Error(err))
		return nil, apperror.Wrap(apperror.Internal, "failed to enqueue job", err)
	}

	s.log.Info("job created",
		zap.String("job_id", job.ID.String()),
		zap.String("type", string(job.Type)),
		zap.String("user_email", job.Data.UserEmail),
	)
	return job, nil
}

// GetJob returns the stored record. Ids that do not parse cannot exist, so
// they are reported as not found.
func (s *JobService) GetJob(ctx context.Context, rawID string) (*entity.Job, error) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, apperror.New(apperror.NotFound, "job not found")
	}

	job, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperror.New(apperror.NotFound, "job not found")
	}
	if err != nil {
		return nil, apperror.Wrap(apperror.Internal, "failed to load job", err)
	}
	return job, nil
}

// RequeueStale enqueues again jobs that have sat in status for longer than
// olderThan: PENDING jobs that never reached the queue and PROCESSING jobs
// whose message was lost. Each requeue bumps updated_at, so a job waiting in
// a backlog is sent again at most once per olderThan. The worker ignores
// duplicates of jobs that already finished.
func (s *JobService) RequeueStale(ctx context.Context, status entity.JobStatus, olderThan time.Duration, limit int) (int, error) {
	if entity.IsTerminal(status) {
		return 0, errors.Errorf("%s jobs cannot be requeued", status)
	}

	cutoff := s.now().Add(-olderThan)
	ids, err := s.repo.ListStale(ctx, status, cutoff, limit)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, id := range ids {
		log := s.log.With(zap.String("job_id", id.String()), zap.String("status", string(status)))

		ok, err := s.repo.MarkRequeued(ctx, id, status, cutoff)
		if err != nil {
			log.Warn("reconcile: mark requeued", zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		job, err := s.repo.GetByID(ctx, id)
		if err != nil {
			log.Warn("reconcile: load job", zap.Error(err))
			continue
		}
		if err := s.enqueue(ctx, id, job.Data); err != nil {
			return requeued, err
		}
		requeued++
	}
	return requeued, nil
}

func (s *JobService) enqueue(ctx context.Context, id uuid.UUID, data entity.JobData) error {
	task := entity.EstimationTask{JobID: id.String(), UserEmail: data.UserEmail}
	_, err := s.queue.Enqueue(ctx, s.topic, task, s.opts)
	return err
}

func validate(req CreateJobRequest) error {
	if req.Type == "" {
		return apperror.Validation("type is required")
	}
	if entity.JobType(req.Type) != entity.TypeEstimateGains {
		return apperror.Validation("unsupported job type: " + req.Type)
	}
	if req.Data == nil {
		return apperror.Validation("data is required")
	}
	if strings.TrimSpace(req.Data.UserEmail) == "" {
		return apperror.Validation("data.userEmail is required")
	}
	return nil
}
