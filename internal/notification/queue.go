package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	KindVerification  = "verification"
	KindPasswordReset = "password_reset"
	KindWelcome       = "welcome"
)

const (
	queueKey        = "email:queue"
	delayedQueueKey = "email:queue:delayed"
	failedQueueKey  = "email:queue:failed"

	failedQueueCap = 1000
)

// Job is one queued email. It is stored as JSON so a restart does not lose it.
type Job struct {
	ID        string        `json:"id"`
	Kind      string        `json:"kind"`
	To        Recipient     `json:"to"`
	Token     string        `json:"token,omitempty"`
	Link      string        `json:"link"`
	TTL       time.Duration `json:"ttl,omitempty"`
	Attempts  int           `json:"attempts"`
	LastError string        `json:"last_error,omitempty"`
}

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	// Dequeue blocks up to timeout and returns nil when nothing arrived.
	Dequeue(ctx context.Context, timeout time.Duration) (*Job, error)
	Retry(ctx context.Context, job Job, at time.Time) error
	DeadLetter(ctx context.Context, job Job) error
	// PromoteDue moves delayed jobs whose retry time has passed back onto the queue.
	PromoteDue(ctx context.Context, now time.Time) (int, error)
}

type RedisQueue struct {
	client *redis.Client
}

func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode email job: %w", err)
	}
	if err := q.client.LPush(ctx, queueKey, payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue email job: %w", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Job, error) {
	res, err := q.client.BRPop(ctx, timeout, queueKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue email job: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP reply of length %d", len(res))
	}

	var job Job
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to decode email job: %w", err)
	}
	return &job, nil
}

func (q *RedisQueue) Retry(ctx context.Context, job Job, at time.Time) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode email job: %w", err)
	}
	return q.client.ZAdd(ctx, delayedQueueKey, redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: payload,
	}).Err()
}

func (q *RedisQueue) DeadLetter(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode email job: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.LPush(ctx, failedQueueKey, payload)
	pipe.LTrim(ctx, failedQueueKey, 0, failedQueueCap-1)
	_, err = pipe.Exec(ctx)
	return err
}

func (q *RedisQueue) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	due, err := q.client.ZRangeByScore(ctx, delayedQueueKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read delayed email jobs: %w", err)
	}

	moved := 0
	for _, payload := range due {
		// ZREM decides which worker owns the job when several poll at once.
		removed, err := q.client.ZRem(ctx, delayedQueueKey, payload).Result()
		if err != nil {
			return moved, err
		}
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, queueKey, payload).Err(); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}

// QueuedSender turns each send into a job for the Worker.
type QueuedSender struct {
	queue      Queue
	configured bool
}

func NewQueuedSender(queue Queue, configured bool) *QueuedSender {
	return &QueuedSender{queue: queue, configured: configured}
}

func (s *QueuedSender) Configured() bool {
	return s.configured
}

func (s *QueuedSender) SendVerification(ctx context.Context, to Recipient, token, link string, ttl time.Duration) error {
	return s.enqueue(ctx, Job{Kind: KindVerification, To: to, Token: token, Link: link, TTL: ttl})
}

func (s *QueuedSender) SendPasswordReset(ctx context.Context, to Recipient, link string, ttl time.Duration) error {
	return s.enqueue(ctx, Job{Kind: KindPasswordReset, To: to, Link: link, TTL: ttl})
}

func (s *QueuedSender) SendWelcome(ctx context.Context, to Recipient, dashboardLink string) error {
	return s.enqueue(ctx, Job{Kind: KindWelcome, To: to, Link: dashboardLink})
}

func (s *QueuedSender) enqueue(ctx context.Context, job Job) error {
	job.ID = uuid.NewString()
	return s.queue.Enqueue(ctx, job)
}
