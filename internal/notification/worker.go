package notification

import (
	"context"
	"time"

	"github.com/prperemyshlev/identity-service/pkg/observability"
	"go.uber.org/zap"
)

const (
	defaultPollTimeout = 2 * time.Second
	defaultMaxAttempts = 3
	defaultBackoff     = 3 * time.Second
)

// Deliverer performs the actual send for a dequeued job.
type Deliverer interface {
	Deliver(ctx context.Context, job Job) error
}

type WorkerConfig struct {
	MaxAttempts int
	// Backoff grows linearly: the n-th retry waits n*Backoff.
	Backoff     time.Duration
	PollTimeout time.Duration
}

// Worker drains the email queue until its context is cancelled.
type Worker struct {
	queue   Queue
	deliver Deliverer
	metrics *observability.AuthMetrics
	logger  *zap.Logger
	cfg     WorkerConfig
	now     func() time.Time
}

func NewWorker(queue Queue, deliver Deliverer, metrics *observability.AuthMetrics, cfg WorkerConfig, logger *zap.Logger) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	return &Worker{
		queue:   queue,
		deliver: deliver,
		metrics: metrics,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
	}
}

func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Email worker started", zap.Int("max_attempts", w.cfg.MaxAttempts))

	for {
		if ctx.Err() != nil {
			w.logger.Info("Email worker stopped")
			return nil
		}

		if err := w.processOnce(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("Email queue iteration failed", zap.Error(err))

			select {
			case <-ctx.Done():
			case <-time.After(w.cfg.PollTimeout):
			}
		}
	}
}

func (w *Worker) processOnce(ctx context.Context) error {
	if moved, err := w.queue.PromoteDue(ctx, w.now()); err != nil {
		return err
	} else if moved > 0 {
		w.logger.Debug("Delayed emails requeued", zap.Int("count", moved))
	}

	job, err := w.queue.Dequeue(ctx, w.cfg.PollTimeout)
	if err != nil || job == nil {
		return err
	}

	return w.handle(ctx, *job)
}

func (w *Worker) handle(ctx context.Context, job Job) error {
	job.Attempts++

	err := w.deliver.Deliver(ctx, job)
	if err == nil {
		w.metrics.Email(ctx, job.Kind, "sent")
		w.logger.Info("Email sent",
			zap.String("job_id", job.ID),
			zap.String("kind", job.Kind),
			zap.Int("attempt", job.Attempts),
		)
		return nil
	}

	job.LastError = err.Error()
	fields := []zap.Field{
		zap.String("job_id", job.ID),
		zap.String("kind", job.Kind),
		zap.Int("attempt", job.Attempts),
		zap.Error(err),
	}

	if job.Attempts >= w.cfg.MaxAttempts {
		w.metrics.Email(ctx, job.Kind, "dead_lettered")
		w.logger.Error("Email moved to dead letter queue", fields...)
		return w.queue.DeadLetter(ctx, job)
	}

	retryAt := w.now().Add(time.Duration(job.Attempts) * w.cfg.Backoff)
	w.metrics.Email(ctx, job.Kind, "retry")
	w.logger.Warn("Email send failed; retry scheduled", append(fields, zap.Time("retry_at", retryAt))...)
	return w.queue.Retry(ctx, job, retryAt)
}
