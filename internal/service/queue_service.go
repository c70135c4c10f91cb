package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrQueueEmpty is returned by Claim when nothing arrived before the timeout.
	ErrQueueEmpty = errors.New("queue empty")
	// ErrMalformedMessage is returned by Claim for an entry that is not a
	// valid envelope. The entry has already been moved to the dead list.
	ErrMalformedMessage = errors.New("malformed queue message")
)

const (
	BackoffExponential = "exponential"
	BackoffFixed       = "fixed"
)

type Backoff struct {
	Type  string        `json:"type"`
	Delay time.Duration `json:"delay"`
}

// After returns the wait before the next attempt once attempt has failed.
// Attempts are counted from 1.
func (b Backoff) After(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if b.Type == BackoffFixed {
		return b.Delay
	}
	// cap the shift so a misconfigured attempt count cannot overflow
	if attempt > 31 {
		attempt = 31
	}
	return b.Delay * time.Duration(1<<(attempt-1))
}

type EnqueueOptions struct {
	MaxAttempts int
	Backoff     Backoff
}

// Message is the envelope stored in Redis around every payload.
type Message struct {
	ID          string          `json:"id"`
	Topic       string          `json:"topic"`
	Payload     json.RawMessage `json:"payload"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"maxAttempts"`
	Backoff     Backoff         `json:"backoff"`
	EnqueuedAt  time.Time       `json:"enqueuedAt"`
	LastError   string          `json:"lastError,omitempty"`

	// exact bytes as claimed, needed to LREM the entry from processing
	raw string
}

type QueueStats struct {
	Queued     int64
	Processing int64
	Delayed    int64
	Dead       int64
}

type Queue interface {
	Enqueue(ctx context.Context, topic string, payload any, opts EnqueueOptions) (string, error)
	Claim(ctx context.Context, topic string, timeout time.Duration) (*Message, error)
	Ack(ctx context.Context, msg *Message) error
	Retry(ctx context.Context, msg *Message, cause error) (exhausted bool, err error)
	PromoteDue(ctx context.Context, topic string, limit int64) (int64, error)
	RequeueStale(ctx context.Context, topic string) (int64, error)
	Stats(ctx context.Context, topic string) (QueueStats, error)
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// RedisQueue is a reliable queue over Redis lists, one set of keys per topic:
//
//	<prefix>:<topic>:queue       pending envelopes (LPUSH / BRPOPLPUSH)
//	<prefix>:<topic>:processing  claimed, not yet acked
//	<prefix>:<topic>:delayed     ZSET of retries scored by due time (unix ms)
//	<prefix>:<topic>:dead        exhausted or malformed envelopes
type RedisQueue struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedisQueue(rdb *redis.Client, prefix string) *RedisQueue {
	return &RedisQueue{rdb: rdb, prefix: prefix, now: time.Now}
}

func (q *RedisQueue) key(topic, kind string) string {
	return fmt.Sprintf("%s:%s:%s", q.prefix, topic, kind)
}

func (q *RedisQueue) Enqueue(ctx context.Context, topic string, payload any, opts EnqueueOptions) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Wrap(err, "marshal payload")
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}

	msg := Message{
		ID:          uuid.NewString(),
		Topic:       topic,
		Payload:     body,
		Attempt:     1,
		MaxAttempts: opts.MaxAttempts,
		Backoff:     opts.Backoff,
		EnqueuedAt:  q.now().UTC(),
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return "", errors.Wrap(err, "marshal envelope")
	}

	if err := q.rdb.LPush(ctx, q.key(topic, "queue"), raw).Err(); err != nil {
		return "", errors.Wrap(err, "lpush")
	}
	return msg.ID, nil
}

// Claim blocks up to timeout for the next message and moves it to the
// processing list. A zero timeout blocks until ctx is done.
func (q *RedisQueue) Claim(ctx context.Context, topic string, timeout time.Duration) (*Message, error) {
	raw, err := q.rdb.BRPopLPush(ctx, q.key(topic, "queue"), q.key(topic, "processing"), timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrQueueEmpty
	}
	if err != nil {
		return nil, errors.Wrap(err, "brpoplpush")
	}

	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		_, txErr := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.LRem(ctx, q.key(topic, "processing"), 1, raw)
			p.LPush(ctx, q.key(topic, "dead"), raw)
			return nil
		})
		if txErr != nil {
			return nil, errors.Wrap(txErr, "bury malformed message")
		}
		return nil, errors.Wrap(ErrMalformedMessage, err.Error())
	}
	msg.raw = raw
	return &msg, nil
}

func (q *RedisQueue) Ack(ctx context.Context, msg *Message) error {
	return errors.Wrap(q.rdb.LRem(ctx, q.key(msg.Topic, "processing"), 1, msg.raw).Err(), "lrem")
}

// Retry takes msg out of processing and either schedules the next attempt
// or moves it to the dead list. exhausted reports the latter.
func (q *RedisQueue) Retry(ctx context.Context, msg *Message, cause error) (bool, error) {
	next := *msg
	if cause != nil {
		next.LastError = cause.Error()
	}

	exhausted := IsPermanent(cause) || msg.Attempt >= msg.MaxAttempts
	if !exhausted {
		next.Attempt++
	}

	raw, err := json.Marshal(next)
	if err != nil {
		return false, errors.Wrap(err, "marshal envelope")
	}

	_, err = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, q.key(msg.Topic, "processing"), 1, msg.raw)
		if exhausted {
			p.LPush(ctx, q.key(msg.Topic, "dead"), raw)
			return nil
		}
		due := q.now().Add(msg.Backoff.After(msg.Attempt))
		p.ZAdd(ctx, q.key(msg.Topic, "delayed"), redis.Z{Score: float64(due.UnixMilli()), Member: string(raw)})
		return nil
	})
	if err != nil {
		return false, errors.Wrap(err, "reschedule message")
	}
	return exhausted, nil
}

// promoteScript moves due members of the delayed set KEYS[1] onto the queue
// KEYS[2]. Running server side, a member is never out of both at once.
// ARGV: max score (unix ms), batch size.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, raw in ipairs(due) do
	redis.call('ZREM', KEYS[1], raw)
	redis.call('LPUSH', KEYS[2], raw)
end
return #due
`)

// PromoteDue moves up to limit delayed messages whose time has come back
// onto the queue.
func (q *RedisQueue) PromoteDue(ctx context.Context, topic string, limit int64) (int64, error) {
	keys := []string{q.key(topic, "delayed"), q.key(topic, "queue")}
	n, err := promoteScript.Run(ctx, q.rdb, keys, q.now().UnixMilli(), limit).Int64()
	if err != nil {
		return 0, errors.Wrap(err, "promote due")
	}
	return n, nil
}

// RequeueStale moves everything left in processing back to the queue.
// Only safe while no message of topic is in flight.
func (q *RedisQueue) RequeueStale(ctx context.Context, topic string) (int64, error) {
	var moved int64
	for {
		_, err := q.rdb.RPopLPush(ctx, q.key(topic, "processing"), q.key(topic, "queue")).Result()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, errors.Wrap(err, "rpoplpush")
		}
		moved++
	}
}

func (q *RedisQueue) Stats(ctx context.Context, topic string) (QueueStats, error) {
	var queued, processing, delayed, dead *redis.IntCmd
	_, err := q.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		queued = p.LLen(ctx, q.key(topic, "queue"))
		processing = p.LLen(ctx, q.key(topic, "processing"))
		delayed = p.ZCard(ctx, q.key(topic, "delayed"))
		dead = p.LLen(ctx, q.key(topic, "dead"))
		return nil
	})
	if err != nil {
		return QueueStats{}, errors.Wrap(err, "queue stats")
	}
	return QueueStats{
		Queued:     queued.Val(),
		Processing: processing.Val(),
		Delayed:    delayed.Val(),
		Dead:       dead.Val(),
	}, nil
}
