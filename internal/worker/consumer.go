package worker

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/tebi01/stock-market-e18-jobmaster/internal/service"
)

// Handler processes one delivery. Fail receives the final-failure event
// once the queue gives up on a message.
type Handler interface {
	Process(ctx context.Context, msg *service.Message) error
	Fail(ctx context.Context, msg *service.Message, cause error) error
}

// Consumer is the single sequential subscriber of a topic: at most one
// message is in flight at any time.
type Consumer struct {
	queue        service.Queue
	handler      Handler
	topic        string
	claimTimeout time.Duration
	errorPause   time.Duration
	log          *zap.Logger

	// set when a message could not be acked or rescheduled and is still
	// sitting in processing
	stranded bool
}

func NewConsumer(queue service.Queue, handler Handler, topic string, claimTimeout time.Duration, log *zap.Logger) *Consumer {
	if claimTimeout <= 0 {
		claimTimeout = 5 * time.Second
	}
	return &Consumer{
		queue:        queue,
		handler:      handler,
		topic:        topic,
		claimTimeout: claimTimeout,
		errorPause:   time.Second,
		log:          log,
	}
}

// Run claims and handles messages until ctx is cancelled. A message already
// being handled when that happens is finished first.
func (c *Consumer) Run(ctx context.Context) error {
	// left over from a crash mid-job; safe because this is the only consumer
	n, err := c.queue.RequeueStale(ctx, c.topic)
	if err != nil {
		return errors.Wrap(err, "requeue stale messages")
	}
	if n > 0 {
		c.log.Info("requeued messages from processing", zap.Int64("count", n))
	}

	c.log.Info("consumer started", zap.String("topic", c.topic))
	for {
		if ctx.Err() != nil {
			c.log.Info("consumer stopped")
			return nil
		}
		if c.stranded && !c.recoverStranded(ctx) {
			continue
		}

		msg, err := c.queue.Claim(ctx, c.topic, c.claimTimeout)
		switch {
		case err == nil:
		case errors.Is(err, service.ErrQueueEmpty):
			continue
		case errors.Is(err, service.ErrMalformedMessage):
			c.log.Warn("malformed message moved to dead list", zap.Error(err))
			continue
		case ctx.Err() != nil:
			continue
		default:
			c.log.Error("claim failed", zap.Error(err))
			c.pause(ctx)
			continue
		}

		c.handle(context.WithoutCancel(ctx), msg)
	}
}

func (c *Consumer) handle(ctx context.Context, msg *service.Message) {
	log := c.log.With(zap.String("message_id", msg.ID), zap.Int("attempt", msg.Attempt))

	procErr := c.handler.Process(ctx, msg)
	if procErr == nil {
		if err := c.queue.Ack(ctx, msg); err != nil {
			log.Error("ack failed", zap.Error(err))
			c.stranded = true
		}
		return
	}

	exhausted, err := c.queue.Retry(ctx, msg, procErr)
	if err != nil {
		log.Error("retry scheduling failed", zap.Error(err), zap.NamedError("cause", procErr))
		c.stranded = true
		return
	}
	if !exhausted {
		log.Warn("attempt failed, retry scheduled",
			zap.Int("max_attempts", msg.MaxAttempts),
			zap.Duration("backoff", msg.Backoff.After(msg.Attempt)),
			zap.Error(procErr),
		)
		return
	}

	if err := c.handler.Fail(ctx, msg, procErr); err != nil {
		log.Error("recording final failure failed", zap.Error(err), zap.NamedError("cause", procErr))
	}
}

// recoverStranded puts messages left in processing back on the queue. Nothing
// is in flight between two claims, so everything there is stranded.
func (c *Consumer) recoverStranded(ctx context.Context) bool {
	n, err := c.queue.RequeueStale(ctx, c.topic)
	if err != nil {
		c.log.Error("requeue stranded messages failed", zap.Error(err))
		c.pause(ctx)
		return false
	}
	c.stranded = false
	c.log.Warn("requeued stranded messages", zap.Int64("count", n))
	return true
}

func (c *Consumer) pause(ctx context.Context) {
	t := time.NewTimer(c.errorPause)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
