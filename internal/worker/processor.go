package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/tebi01/stock-market-e18-jobmaster/internal/entity"
	"github.com/tebi01/stock-market-e18-jobmaster/internal/estimation"
	"github.com/tebi01/stock-market-e18-jobmaster/internal/notify"
	"github.com/tebi01/stock-market-e18-jobmaster/internal/repository"
	"github.com/tebi01/stock-market-e18-jobmaster/internal/service"
)

var (
	ErrEmptyPortfolio          = errors.New("portfolio is empty")
	ErrNoSuccessfulEstimations = errors.New("no estimation could be calculated for any holding")
)

type JobRepo interface {
	MarkProcessing(ctx context.Context, id uuid.UUID) (*entity.Job, error)
	SetResultDone(ctx context.Context, id uuid.UUID, result *entity.JobResult, completedAt time.Time) error
	SetResultError(ctx context.Context, id uuid.UUID, errText string, completedAt time.Time) error
}

// MarketData is implemented by upstream.Client.
type MarketData interface {
	Token(ctx context.Context) (string, error)
	Portfolio(ctx context.Context, token, userEmail string) ([]entity.Holding, error)
	PriceHistory(ctx context.Context, token, symbol string) ([]entity.PriceSample, error)
}

type Estimator interface {
	Estimate(samples []entity.PriceSample) (estimation.Result, error)
}

type Processor struct {
	repo     JobRepo
	market   MarketData
	est      Estimator
	notifier notify.Notifier
	log      *zap.Logger
	now      func() time.Time
}

// NewProcessor wires a processor. notifier may be nil.
func NewProcessor(repo JobRepo, market MarketData, est Estimator, notifier notify.Notifier, log *zap.Logger) *Processor {
	return &Processor{
		repo:     repo,
		market:   market,
		est:      est,
		notifier: notifier,
		log:      log,
		now:      time.Now,
	}
}

// Process runs one delivery of an estimation task. A returned error leaves
// the job PROCESSING and lets the queue decide about another attempt; the
// FAILED write happens in Fail once attempts are exhausted.
func (p *Processor) Process(ctx context.Context, msg *service.Message) error {
	start := p.now()

	id, task, err := decodeTask(msg)
	if err != nil {
		return service.Permanent(err)
	}
	log := p.log.With(
		zap.String("job_id", id.String()),
		zap.String("user_email", task.UserEmail),
		zap.Int("attempt", msg.Attempt),
	)

	job, err := p.repo.MarkProcessing(ctx, id)
	switch {
	case errors.Is(err, repository.ErrTerminal):
		log.Info("job already finished, skipping redelivery")
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return service.Permanent(errors.Wrapf(err, "job %s", id))
	case err != nil:
		return errors.Wrap(err, "mark processing")
	}
	log.Info("job processing", zap.String("status", string(job.Status)))

	token, err := p.market.Token(ctx)
	if err != nil {
		return err
	}

	holdings, err := p.market.Portfolio(ctx, token, job.Data.UserEmail)
	if err != nil {
		return err
	}
	if len(holdings) == 0 {
		return errors.Wrapf(ErrEmptyPortfolio, "user %s has no holdings", job.Data.UserEmail)
	}

	outcomes := p.estimateAll(ctx, log, token, holdings)
	completedAt := p.now().UTC()
	result, err := aggregate(job.Data.UserEmail, outcomes, completedAt)
	if err != nil {
		return err
	}

	if err := p.repo.SetResultDone(ctx, id, result, completedAt); err != nil {
		if errors.Is(err, repository.ErrTerminal) {
			log.Warn("job finished by another delivery, result discarded")
			return nil
		}
		return errors.Wrap(err, "set result done")
	}

	log.Info("job completed",
		zap.String("status", string(entity.StatusCompleted)),
		zap.Int("stocks_analyzed", result.Summary.StocksAnalyzed),
		zap.Int("stocks_skipped", len(result.SkippedSymbols)),
		zap.Float64("total_estimated_gains", result.Summary.TotalEstimatedGains),
		zap.Int64("duration_ms", p.now().Sub(start).Milliseconds()),
	)

	if p.notifier != nil {
		err := p.notifier.Notify(ctx, notify.Completion{
			JobID:       id,
			UserEmail:   job.Data.UserEmail,
			Result:      result,
			CompletedAt: completedAt,
			Token:       token,
		})
		if err != nil {
			log.Warn("completion notification failed", zap.Error(err))
		}
	}
	return nil
}

// Fail records the final failure of a job whose attempts are used up.
func (p *Processor) Fail(ctx context.Context, msg *service.Message, cause error) error {
	id, _, err := decodeTask(msg)
	if err != nil {
		// nothing to attach the failure to
		p.log.Error("dropping undecodable task", zap.String("message_id", msg.ID), zap.Error(err))
		return nil
	}
	log := p.log.With(zap.String("job_id", id.String()), zap.Int("attempt", msg.Attempt))

	err = p.repo.SetResultError(ctx, id, cause.Error(), p.now().UTC())
	switch {
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, repository.ErrTerminal):
		log.Info("final failure not recorded", zap.Error(err))
		return nil
	case err != nil:
		return errors.Wrap(err, "set result error")
	}

	log.Error("job failed", zap.String("status", string(entity.StatusFailed)), zap.Error(cause))
	return nil
}

// symbolOutcome is the result of one holding: either an estimation or the
// reason it was skipped.
type symbolOutcome struct {
	holding    entity.Holding
	estimation entity.StockEstimation
	err        error
}

// estimateAll handles holdings strictly in portfolio order.
func (p *Processor) estimateAll(ctx context.Context, log *zap.Logger, token string, holdings []entity.Holding) []symbolOutcome {
	out := make([]symbolOutcome, 0, len(holdings))
	for _, h := range holdings {
		est, err := p.estimateOne(ctx, token, h)
		if err != nil {
			log.Warn("symbol skipped", zap.String("symbol", h.Symbol), zap.Error(err))
		}
		out = append(out, symbolOutcome{holding: h, estimation: est, err: err})
	}
	return out
}

func (p *Processor) estimateOne(ctx context.Context, token string, h entity.Holding) (entity.StockEstimation, error) {
	samples, err := p.market.PriceHistory(ctx, token, h.Symbol)
	if err != nil {
		return entity.StockEstimation{}, err
	}
	if len(samples) == 0 {
		return entity.StockEstimation{}, errors.Wrap(estimation.ErrInsufficientData, "no price history")
	}

	r, err := p.est.Estimate(samples)
	if err != nil {
		return entity.StockEstimation{}, err
	}

	currentValue := r.CurrentPrice * h.Quantity
	estimatedValue := r.EstimatedPrice * h.Quantity
	return entity.StockEstimation{
		Symbol:                 h.Symbol,
		Quantity:               h.Quantity,
		CurrentPrice:           r.CurrentPrice,
		EstimatedPrice:         r.EstimatedPrice,
		CurrentValue:           currentValue,
		EstimatedValue:         estimatedValue,
		EstimatedGains:         estimatedValue - currentValue,
		EstimatedGrowthPercent: r.EstimatedGrowth,
		Confidence:             r.Confidence,
		RSquared:               r.RSquared,
		OriginalDataPoints:     r.OriginalDataPoints,
	}, nil
}

func aggregate(userEmail string, outcomes []symbolOutcome, at time.Time) (*entity.JobResult, error) {
	result := &entity.JobResult{
		UserEmail:    userEmail,
		Estimations:  make([]entity.StockEstimation, 0, len(outcomes)),
		CalculatedAt: at,
	}

	var s entity.Summary
	for _, o := range outcomes {
		if o.err != nil {
			result.SkippedSymbols = append(result.SkippedSymbols, entity.SkippedSymbol{
				Symbol: o.holding.Symbol,
				Reason: o.err.Error(),
			})
			continue
		}
		result.Estimations = append(result.Estimations, o.estimation)
		s.TotalCurrentValue += o.estimation.CurrentValue
		s.TotalEstimatedValue += o.estimation.EstimatedValue
	}

	if len(result.Estimations) == 0 {
		return nil, errors.Wrapf(ErrNoSuccessfulEstimations, "%d holdings tried", len(outcomes))
	}

	s.TotalEstimatedGains = s.TotalEstimatedValue - s.TotalCurrentValue
	if s.TotalCurrentValue > 0 {
		s.TotalGrowthPercent = s.TotalEstimatedGains / s.TotalCurrentValue * 100
	}
	s.StocksAnalyzed = len(result.Estimations)
	result.Summary = s
	return result, nil
}

func decodeTask(msg *service.Message) (uuid.UUID, entity.EstimationTask, error) {
	var task entity.EstimationTask
	if err := json.Unmarshal(msg.Payload, &task); err != nil {
		return uuid.Nil, task, errors.Wrap(err, "decode estimation task")
	}
	id, err := uuid.Parse(task.JobID)
	if err != nil {
		return uuid.Nil, task, errors.Wrapf(err, "parse job id %q", task.JobID)
	}
	return id, task, nil
}
