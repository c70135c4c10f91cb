package httptransport

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tebi01/stock-market-e18-jobmaster/internal/apperror"
	"github.com/tebi01/stock-market-e18-jobmaster/internal/entity"
	"github.com/tebi01/stock-market-e18-jobmaster/internal/service"
)

type Handler struct {
	jobSvc      *service.JobService
	serviceName string
	log         *zap.Logger
	now         func() time.Time
}

func NewHandler(jobSvc *service.JobService, serviceName string, log *zap.Logger) *Handler {
	return &Handler{jobSvc: jobSvc, serviceName: serviceName, log: log, now: time.Now}
}

type createJobDTO struct {
	Type string          `json:"type" example:"ESTIMATE_GAINS"`
	Data *entity.JobData `json:"data"`
}

type createJobResp struct {
	JobID   string           `json:"jobId"`
	Status  entity.JobStatus `json:"status"`
	Message string           `json:"message"`
}

type heartbeatResp struct {
	Status    bool      `json:"status"`
	Service   string    `json:"service"`
	Timestamp time.Time `json:"timestamp"`
}

// CreateJob godoc
// @Summary Create an estimation job
// @Description Stores the job as PENDING and enqueues it for the estimation worker.
// @Tags jobs
// @Accept json
// @Produce json
// @Param request body createJobDTO true "job payload"
// @Success 201 {object} createJobResp
// @Failure 400 {object} apiError
// @Failure 500 {object} apiError
// @Router /job [post]
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var dto createJobDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	job, err := h.jobSvc.CreateJob(r.Context(), service.CreateJobRequest{
		Type: dto.Type,
		Data: dto.Data,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, createJobResp{
		JobID:   job.ID.String(),
		Status:  job.Status,
		Message: "Job created successfully",
	})
}

// GetJob godoc
// @Summary Get job by id
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 200 {object} entity.Job
// @Failure 404 {object} apiError
// @Router /job/{id} [get]
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobSvc.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// GetJobResult godoc
// @Summary Get the result of a completed job
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 200 {object} entity.JobResult
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Router /job/{id}/result [get]
func (h *Handler) GetJobResult(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobSvc.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if job.Status != entity.StatusCompleted || job.Result == nil {
		writeAppErr(w, apperror.New(apperror.Conflict, "job is "+string(job.Status)))
		return
	}
	writeJSON(w, http.StatusOK, job.Result)
}

// Heartbeat godoc
// @Summary Liveness check
// @Tags health
// @Produce json
// @Success 200 {object} heartbeatResp
// @Router /heartbeat [get]
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, heartbeatResp{
		Status:    true,
		Service:   h.serviceName,
		Timestamp: h.now().UTC(),
	})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if !apperror.IsCode(err, apperror.BadRequest) && !apperror.IsCode(err, apperror.NotFound) {
		h.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeAppErr(w, err)
}
