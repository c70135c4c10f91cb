package httptransport_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tebi01/stock-market-e18-jobmaster/internal/entity"
	"github.com/tebi01/stock-market-e18-jobmaster/internal/repository"
	"github.com/tebi01/stock-market-e18-jobmaster/internal/service"
	httptransport "github.com/tebi01/stock-market-e18-jobmaster/internal/transport/http"
)

type memRepo struct {
	jobs map[uuid.UUID]*entity.Job
}

func (r *memRepo) Create(ctx context.Context, job *entity.Job) error {
	cp := *job
	r.jobs[job.ID] = &cp
	return nil
}

func (r *memRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	j, ok := r.jobs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return j, nil
}

func (r *memRepo) ListStale(ctx context.Context, status entity.JobStatus, before time.Time, limit int) ([]uuid.UUID, error) {
	return nil, nil
}

func (r *memRepo) MarkRequeued(ctx context.Context, id uuid.UUID, status entity.JobStatus, before time.Time) (bool, error) {
	return false, nil
}

type queueStub struct {
	tasks []entity.EstimationTask
}

func (q *queueStub) Enqueue(ctx context.Context, topic string, payload any, opts service.EnqueueOptions) (string, error) {
	q.tasks = append(q.tasks, payload.(entity.EstimationTask))
	return "msg-1", nil
}

func newTestRouter(repo *memRepo, queue *queueStub) http.Handler {
	svc := service.NewJobService(repo, queue, "estimation", service.EnqueueOptions{MaxAttempts: 3}, zap.NewNop())
	h := httptransport.NewHandler(svc, "jobmaster", zap.NewNop())
	return httptransport.Routes(h, zap.NewNop())
}

func do(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestHTTP_CreateJob_201_AndEnqueued(t *testing.T) {
	repo := &memRepo{jobs: map[uuid.UUID]*entity.Job{}}
	queue := &queueStub{}
	router := newTestRouter(repo, queue)

	rr := do(router, http.MethodPost, "/job", `{"type":"ESTIMATE_GAINS","data":{"userEmail":"ana@example.com"}}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d, body=%s", rr.Code, rr.Body.String())
	}

	var resp struct {
		JobID   string `json:"jobId"`
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json response: %v, body=%s", err, rr.Body.String())
	}
	if resp.Status != "PENDING" || resp.Message != "Job created successfully" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	id, err := uuid.Parse(resp.JobID)
	if err != nil {
		t.Fatalf("jobId is not a uuid: %q", resp.JobID)
	}
	if _, ok := repo.jobs[id]; !ok {
		t.Fatal("expected the job to be stored")
	}
	if len(queue.tasks) != 1 || queue.tasks[0].JobID != resp.JobID || queue.tasks[0].UserEmail != "ana@example.com" {
		t.Fatalf("unexpected enqueued tasks: %+v", queue.tasks)
	}

	rr = do(router, http.MethodGet, "/job/"+resp.JobID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body=%s", rr.Code, rr.Body.String())
	}
	var got map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid json: %v, body=%s", err, rr.Body.String())
	}
	if got["status"] != "PENDING" || got["type"] != "ESTIMATE_GAINS" {
		t.Fatalf("unexpected job: %v", got)
	}
}

func TestHTTP_CreateJob_400(t *testing.T) {
	cases := map[string]string{
		"invalid json":      `{"type":`,
		"missing userEmail": `{"type":"ESTIMATE_GAINS","data":{}}`,
		"missing data":      `{"type":"ESTIMATE_GAINS"}`,
		"unsupported type":  `{"type":"echo","data":{"userEmail":"ana@example.com"}}`,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			repo := &memRepo{jobs: map[uuid.UUID]*entity.Job{}}
			queue := &queueStub{}
			router := newTestRouter(repo, queue)

			rr := do(router, http.MethodPost, "/job", body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d, body=%s", rr.Code, rr.Body.String())
			}
			if len(repo.jobs) != 0 || len(queue.tasks) != 0 {
				t.Fatal("rejected request must not create or enqueue anything")
			}
		})
	}
}

func TestHTTP_GetJob_404(t *testing.T) {
	router := newTestRouter(&memRepo{jobs: map[uuid.UUID]*entity.Job{}}, &queueStub{})

	for _, id := range []string{"77777777-7777-7777-7777-777777777777", "not-a-uuid"} {
		rr := do(router, http.MethodGet, "/job/"+id, "")
		if rr.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", id, rr.Code)
		}
	}
}

func TestHTTP_GetJobResult_409_WhenNotCompleted(t *testing.T) {
	id := uuid.MustParse("55555555-5555-5555-5555-555555555555")
	repo := &memRepo{jobs: map[uuid.UUID]*entity.Job{
		id: {ID: id, Type: entity.TypeEstimateGains, Status: entity.StatusProcessing},
	}}
	router := newTestRouter(repo, &queueStub{})

	rr := do(router, http.MethodGet, "/job/"+id.String()+"/result", "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d, body=%s", rr.Code, rr.Body.String())
	}
}

func TestHTTP_GetJobResult_200_WhenCompleted(t *testing.T) {
	id := uuid.MustParse("66666666-6666-6666-6666-666666666666")
	repo := &memRepo{jobs: map[uuid.UUID]*entity.Job{
		id: {
			ID:     id,
			Type:   entity.TypeEstimateGains,
			Status: entity.StatusCompleted,
			Result: &entity.JobResult{
				UserEmail:   "ana@example.com",
				Estimations: []entity.StockEstimation{{Symbol: "AAPL", Quantity: 3}},
				Summary:     entity.Summary{StocksAnalyzed: 1},
			},
		},
	}}
	router := newTestRouter(repo, &queueStub{})

	rr := do(router, http.MethodGet, "/job/"+id.String()+"/result", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body=%s", rr.Code, rr.Body.String())
	}
	var res entity.JobResult
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if res.UserEmail != "ana@example.com" || res.Summary.StocksAnalyzed != 1 || res.Estimations[0].Symbol != "AAPL" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestHTTP_Heartbeat(t *testing.T) {
	router := newTestRouter(&memRepo{jobs: map[uuid.UUID]*entity.Job{}}, &queueStub{})

	rr := do(router, http.MethodGet, "/heartbeat", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp struct {
		Status  bool   `json:"status"`
		Service string `json:"service"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if !resp.Status || resp.Service != "jobmaster" {
		t.Fatalf("unexpected heartbeat: %+v", resp)
	}
}
