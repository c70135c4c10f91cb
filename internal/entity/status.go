package entity

import "fmt"

// JobStatus values as stored in the jobs table.
//
//	PENDING ──► PROCESSING ──► COMPLETED
//	   │             │
//	   │             └──────► FAILED
//	   └────────────────────► FAILED
//
// PROCESSING ──► PROCESSING is allowed: a retried delivery re-enters the
// same state. COMPLETED and FAILED are terminal.
type JobStatus string

const (
	StatusPending    JobStatus = "PENDING"
	StatusProcessing JobStatus = "PROCESSING"
	StatusCompleted  JobStatus = "COMPLETED"
	StatusFailed     JobStatus = "FAILED"
)

var validTransitions = map[JobStatus][]JobStatus{
	StatusPending:    {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusProcessing, StatusCompleted, StatusFailed},
}

// ActiveStatuses are the states a job can still leave.
var ActiveStatuses = []JobStatus{StatusPending, StatusProcessing}

func ParseStatus(s string) (JobStatus, error) {
	st := JobStatus(s)
	switch st {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return st, nil
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// CanTransition reports whether moving from → to keeps the status monotonic.
func CanTransition(from, to JobStatus) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func IsTerminal(s JobStatus) bool {
	return s == StatusCompleted || s == StatusFailed
}

func ActiveStatusStrings() []string {
	out := make([]string, 0, len(ActiveStatuses))
	for _, s := range ActiveStatuses {
		out = append(out, string(s))
	}
	return out
}
