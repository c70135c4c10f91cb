// Package notify tells the outside world that a job completed. Every
// notifier is best effort: the job record is already final when they run.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/tebi01/stock-market-e18-jobmaster/internal/entity"
	"github.com/tebi01/stock-market-e18-jobmaster/internal/upstream"
)

// Completion describes a job that just reached COMPLETED.
type Completion struct {
	JobID       uuid.UUID
	UserEmail   string
	Result      *entity.JobResult
	CompletedAt time.Time
	// bearer token of the run, reused for the callback
	Token string
}

type Notifier interface {
	Notify(ctx context.Context, c Completion) error
}

// Multi fans out to every notifier and returns all their errors combined.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, c Completion) error {
	var err error
	for _, n := range m {
		err = multierr.Append(err, n.Notify(ctx, c))
	}
	return err
}

type CallbackClient interface {
	Callback(ctx context.Context, token string, payload upstream.CallbackPayload) error
}

// HTTPCallback posts the estimations to the main API.
type HTTPCallback struct {
	client CallbackClient
}

func NewHTTPCallback(client CallbackClient) *HTTPCallback {
	return &HTTPCallback{client: client}
}

func (h *HTTPCallback) Notify(ctx context.Context, c Completion) error {
	if c.Result == nil {
		return errors.Errorf("job %s has no result to report", c.JobID)
	}
	return h.client.Callback(ctx, c.Token, upstream.CallbackPayload{
		JobID:       c.JobID.String(),
		UserEmail:   c.UserEmail,
		Estimations: c.Result.Estimations,
		Summary:     c.Result.Summary,
	})
}

// CompletionEvent is published on the completion subject.
type CompletionEvent struct {
	JobID       string           `json:"jobId"`
	Status      entity.JobStatus `json:"status"`
	UserEmail   string           `json:"userEmail"`
	Summary     *entity.Summary  `json:"summary,omitempty"`
	CompletedAt time.Time        `json:"completedAt"`
}

// Publisher is the part of *nats.Conn the notifier uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

type NATSPublisher struct {
	pub     Publisher
	subject string
}

func NewNATSPublisher(pub Publisher, subject string) *NATSPublisher {
	return &NATSPublisher{pub: pub, subject: subject}
}

// Connect dials NATS with reconnects enabled for the lifetime of the worker.
func Connect(url, name string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "connect to nats at %s", url)
	}
	return nc, nil
}

func (p *NATSPublisher) Notify(_ context.Context, c Completion) error {
	ev := CompletionEvent{
		JobID:       c.JobID.String(),
		Status:      entity.StatusCompleted,
		UserEmail:   c.UserEmail,
		CompletedAt: c.CompletedAt,
	}
	if c.Result != nil {
		ev.Summary = &c.Result.Summary
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal completion event")
	}
	return errors.Wrapf(p.pub.Publish(p.subject, data), "publish %s", p.subject)
}
