package worker

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tebi01/stock-market-e18-jobmaster/internal/entity"
	"github.com/tebi01/stock-market-e18-jobmaster/internal/estimation"
	"github.com/tebi01/stock-market-e18-jobmaster/internal/notify"
	"github.com/tebi01/stock-market-e18-jobmaster/internal/repository"
	"github.com/tebi01/stock-market-e18-jobmaster/internal/service"
	"github.com/tebi01/stock-market-e18-jobmaster/internal/upstream"
)

var (
	testJobID = uuid.MustParse("66666666-6666-6666-6666-666666666666")
	day0      = time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
)

// fakeRepo enforces the same transitions as the real stores.
type fakeRepo struct {
	jobs map[uuid.UUID]*entity.Job
}

func newFakeRepo(jobs ...*entity.Job) *fakeRepo {
	r := &fakeRepo{jobs: map[uuid.UUID]*entity.Job{}}
	for _, j := range jobs {
		r.jobs[j.ID] = j
	}
	return r
}

func (r *fakeRepo) move(id uuid.UUID, to entity.JobStatus) (*entity.Job, error) {
	job, ok := r.jobs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if !entity.CanTransition(job.Status, to) {
		return nil, repository.ErrTerminal
	}
	job.Status = to
	return job, nil
}

func (r *fakeRepo) MarkProcessing(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	job, err := r.move(id, entity.StatusProcessing)
	if err != nil {
		return nil, err
	}
	cp := *job
	return &cp, nil
}

func (r *fakeRepo) SetResultDone(ctx context.Context, id uuid.UUID, result *entity.JobResult, completedAt time.Time) error {
	job, err := r.move(id, entity.StatusCompleted)
	if err != nil {
		return err
	}
	job.Result = result
	job.CompletedAt = &completedAt
	return nil
}

func (r *fakeRepo) SetResultError(ctx context.Context, id uuid.UUID, errText string, completedAt time.Time) error {
	job, err := r.move(id, entity.StatusFailed)
	if err != nil {
		return err
	}
	job.Error = &errText
	job.CompletedAt = &completedAt
	return nil
}

type fakeMarket struct {
	tokenErr     error
	portfolio    []entity.Holding
	portfolioErr error
	history      map[string][]entity.PriceSample
	historyErr   map[string]error

	tokenCalls     int
	portfolioCalls int
	historyOrder   []string
}

func (m *fakeMarket) Token(ctx context.Context) (string, error) {
	m.tokenCalls++
	if m.tokenErr != nil {
		return "", m.tokenErr
	}
	return "tok-1", nil
}

func (m *fakeMarket) Portfolio(ctx context.Context, token, userEmail string) ([]entity.Holding, error) {
	m.portfolioCalls++
	return m.portfolio, m.portfolioErr
}

func (m *fakeMarket) PriceHistory(ctx context.Context, token, symbol string) ([]entity.PriceSample, error) {
	m.historyOrder = append(m.historyOrder, symbol)
	if err := m.historyErr[symbol]; err != nil {
		return nil, err
	}
	return m.history[symbol], nil
}

type fakeNotifier struct {
	calls []notify.Completion
	err   error
}

func (n *fakeNotifier) Notify(ctx context.Context, c notify.Completion) error {
	n.calls = append(n.calls, c)
	return n.err
}

func pendingJob() *entity.Job {
	return &entity.Job{
		ID:     testJobID,
		Type:   entity.TypeEstimateGains,
		Status: entity.StatusPending,
		Data:   entity.JobData{UserEmail: "ana@example.com"},
	}
}

func taskMessage(id uuid.UUID) *service.Message {
	payload, _ := json.Marshal(entity.EstimationTask{JobID: id.String(), UserEmail: "ana@example.com"})
	return &service.Message{ID: "msg-1", Topic: "estimation", Payload: payload, Attempt: 1, MaxAttempts: 3}
}

func linear() []entity.PriceSample {
	return []entity.PriceSample{
		{Timestamp: day0, Price: 100},
		{Timestamp: day0.AddDate(0, 0, 10), Price: 110},
		{Timestamp: day0.AddDate(0, 0, 20), Price: 120},
	}
}

func newTestProcessor(repo JobRepo, market MarketData, n notify.Notifier) *Processor {
	p := NewProcessor(repo, market, estimation.New(), n, zap.NewNop())
	p.now = func() time.Time { return day0.AddDate(0, 1, 0) }
	return p
}

func TestProcess_PartialFailureStillCompletes(t *testing.T) {
	repo := newFakeRepo(pendingJob())
	market := &fakeMarket{
		portfolio: []entity.Holding{{Symbol: "DOWN", Quantity: 5}, {Symbol: "AAPL", Quantity: 2}},
		history:   map[string][]entity.PriceSample{"AAPL": linear()},
		historyErr: map[string]error{
			"DOWN": &upstream.UnavailableError{Op: "price history", Err: errors.New("status 502")},
		},
	}
	n := &fakeNotifier{}

	if err := newTestProcessor(repo, market, n).Process(context.Background(), taskMessage(testJobID)); err != nil {
		t.Fatalf("process: %v", err)
	}

	job := repo.jobs[testJobID]
	if job.Status != entity.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", job.Status)
	}
	if job.CompletedAt == nil {
		t.Fatal("expected completedAt to be set")
	}
	res := job.Result
	if res.Summary.StocksAnalyzed != 1 || len(res.Estimations) != 1 || res.Estimations[0].Symbol != "AAPL" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.SkippedSymbols) != 1 || res.SkippedSymbols[0].Symbol != "DOWN" {
		t.Fatalf("expected DOWN to be reported as skipped, got %+v", res.SkippedSymbols)
	}
	if strings.Join(market.historyOrder, ",") != "DOWN,AAPL" {
		t.Fatalf("holdings must be processed in portfolio order, got %v", market.historyOrder)
	}
	if len(n.calls) != 1 || n.calls[0].Token != "tok-1" || n.calls[0].JobID != testJobID {
		t.Fatalf("expected one completion notification, got %+v", n.calls)
	}
}

func TestProcess_ScalesByQuantity(t *testing.T) {
	repo := newFakeRepo(pendingJob())
	market := &fakeMarket{
		portfolio: []entity.Holding{{Symbol: "AAPL", Quantity: 2}},
		history:   map[string][]entity.PriceSample{"AAPL": linear()},
	}

	if err := newTestProcessor(repo, market, nil).Process(context.Background(), taskMessage(testJobID)); err != nil {
		t.Fatalf("process: %v", err)
	}

	est := repo.jobs[testJobID].Result.Estimations[0]
	sum := repo.jobs[testJobID].Result.Summary
	near := func(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

	if !near(est.CurrentValue, 240) || !near(est.EstimatedValue, 300) || !near(est.EstimatedGains, 60) {
		t.Fatalf("unexpected values: %+v", est)
	}
	if !near(est.EstimatedGrowthPercent, 25) || est.Confidence != entity.ConfidenceLow || est.OriginalDataPoints != 3 {
		t.Fatalf("unexpected estimation: %+v", est)
	}
	if !near(sum.TotalCurrentValue, 240) || !near(sum.TotalEstimatedGains, 60) || !near(sum.TotalGrowthPercent, 25) {
		t.Fatalf("unexpected summary: %+v", sum)
	}
}

func TestProcess_EmptyPortfolio(t *testing.T) {
	repo := newFakeRepo(pendingJob())
	market := &fakeMarket{}
	p := newTestProcessor(repo, market, nil)
	msg := taskMessage(testJobID)

	err := p.Process(context.Background(), msg)
	if !errors.Is(err, ErrEmptyPortfolio) {
		t.Fatalf("expected ErrEmptyPortfolio, got %v", err)
	}
	// not final yet: the queue may retry
	if got := repo.jobs[testJobID].Status; got != entity.StatusProcessing {
		t.Fatalf("expected PROCESSING before the final failure, got %s", got)
	}

	if err := p.Fail(context.Background(), msg, err); err != nil {
		t.Fatalf("fail: %v", err)
	}
	job := repo.jobs[testJobID]
	if job.Status != entity.StatusFailed {
		t.Fatalf("expected FAILED, got %s", job.Status)
	}
	if job.Error == nil || !strings.Contains(*job.Error, "ana@example.com has no holdings") {
		t.Fatalf("unexpected error text: %v", job.Error)
	}
	if job.Result != nil || job.CompletedAt == nil {
		t.Fatalf("failed job must have completedAt and no result: %+v", job)
	}
}

func TestProcess_NoSuccessfulEstimations(t *testing.T) {
	repo := newFakeRepo(pendingJob())
	market := &fakeMarket{
		portfolio: []entity.Holding{{Symbol: "AAPL", Quantity: 1}, {Symbol: "MSFT", Quantity: 1}},
		history:   map[string][]entity.PriceSample{"AAPL": nil},
		historyErr: map[string]error{
			"MSFT": errors.New("timeout"),
		},
	}

	err := newTestProcessor(repo, market, nil).Process(context.Background(), taskMessage(testJobID))
	if !errors.Is(err, ErrNoSuccessfulEstimations) {
		t.Fatalf("expected ErrNoSuccessfulEstimations, got %v", err)
	}
	if repo.jobs[testJobID].Result != nil {
		t.Fatal("no result may be stored")
	}
}

func TestProcess_TokenFailureFailsWholeJob(t *testing.T) {
	repo := newFakeRepo(pendingJob())
	market := &fakeMarket{tokenErr: &upstream.UnavailableError{Op: "auth token", Err: errors.New("refused")}}

	err := newTestProcessor(repo, market, nil).Process(context.Background(), taskMessage(testJobID))
	var ue *upstream.UnavailableError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UnavailableError, got %v", err)
	}
	if market.portfolioCalls != 0 {
		t.Fatal("portfolio must not be fetched without a token")
	}
	if got := repo.jobs[testJobID].Status; got != entity.StatusProcessing {
		t.Fatalf("expected PROCESSING, got %s", got)
	}
}

func TestProcess_RedeliveryOfFinishedJobIsNoop(t *testing.T) {
	job := pendingJob()
	job.Status = entity.StatusCompleted
	repo := newFakeRepo(job)
	market := &fakeMarket{}

	if err := newTestProcessor(repo, market, nil).Process(context.Background(), taskMessage(testJobID)); err != nil {
		t.Fatalf("expected nil for redelivery, got %v", err)
	}
	if market.tokenCalls != 0 {
		t.Fatal("a finished job must not be processed again")
	}
	if repo.jobs[testJobID].Status != entity.StatusCompleted {
		t.Fatal("status must not change")
	}
}

func TestProcess_MissingRecordIsPermanent(t *testing.T) {
	err := newTestProcessor(newFakeRepo(), &fakeMarket{}, nil).Process(context.Background(), taskMessage(testJobID))
	if !errors.Is(err, repository.ErrNotFound) || !service.IsPermanent(err) {
		t.Fatalf("expected permanent not found, got %v", err)
	}
}

func TestProcess_MalformedPayloadIsPermanent(t *testing.T) {
	msg := &service.Message{ID: "msg-1", Payload: json.RawMessage(`{"jobId":"nope"}`), Attempt: 1, MaxAttempts: 3}

	err := newTestProcessor(newFakeRepo(), &fakeMarket{}, nil).Process(context.Background(), msg)
	if !service.IsPermanent(err) {
		t.Fatalf("expected permanent error, got %v", err)
	}
}

func TestProcess_NotifierFailureKeepsCompleted(t *testing.T) {
	repo := newFakeRepo(pendingJob())
	market := &fakeMarket{
		portfolio: []entity.Holding{{Symbol: "AAPL", Quantity: 1}},
		history:   map[string][]entity.PriceSample{"AAPL": linear()},
	}
	n := &fakeNotifier{err: errors.New("callback down")}

	if err := newTestProcessor(repo, market, n).Process(context.Background(), taskMessage(testJobID)); err != nil {
		t.Fatalf("notifier failure must not fail the job: %v", err)
	}
	if repo.jobs[testJobID].Status != entity.StatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", repo.jobs[testJobID].Status)
	}
}

func TestFail_AlreadyTerminal(t *testing.T) {
	job := pendingJob()
	job.Status = entity.StatusCompleted
	repo := newFakeRepo(job)

	if err := newTestProcessor(repo, &fakeMarket{}, nil).Fail(context.Background(), taskMessage(testJobID), errors.New("late")); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if repo.jobs[testJobID].Status != entity.StatusCompleted || repo.jobs[testJobID].Error != nil {
		t.Fatal("a completed job must never become FAILED")
	}
}
