package entity

import (
	"time"

	"github.com/google/uuid"
)

type JobType string

// TypeEstimateGains is the only job kind the service accepts.
const TypeEstimateGains JobType = "ESTIMATE_GAINS"

type JobData struct {
	UserEmail string `json:"userEmail"`
}

type Job struct {
	ID          uuid.UUID  `json:"jobId"`
	Type        JobType    `json:"type"`
	Status      JobStatus  `json:"status"`
	Data        JobData    `json:"data"`
	Result      *JobResult `json:"result,omitempty"`
	Error       *string    `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// EstimationTask is the queue payload for a gains estimation: the job id
// plus the job data, flattened.
type EstimationTask struct {
	JobID     string `json:"jobId"`
	UserEmail string `json:"userEmail"`
}
