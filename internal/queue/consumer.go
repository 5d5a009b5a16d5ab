package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/lead-enricher/internal/resilience"
)

// Handler processes one message. A nil return acknowledges it.
type Handler func(ctx context.Context, m *Message) error

// DeadLetterer stores messages that will not be retried.
type DeadLetterer interface {
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
}

// ConsumerConfig tunes a Consumer.
type ConsumerConfig struct {
	// Workers is the number of concurrent receivers. Default 2.
	Workers int
	// MaxAttempts counts the first delivery. Default 3.
	MaxAttempts int
	// Retryable decides whether a handler error earns another attempt.
	// Default resilience.IsTransient.
	Retryable func(error) bool
	// Kind labels a dead-lettered error. Optional.
	Kind func(error) string
	// ErrorPause is the wait after a failed receive. Default 1s.
	ErrorPause time.Duration
}

func (c ConsumerConfig) withDefaults() ConsumerConfig {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Retryable == nil {
		c.Retryable = resilience.IsTransient
	}
	if c.ErrorPause <= 0 {
		c.ErrorPause = time.Second
	}
	return c
}

// Consumer runs a pool of workers over a Queue.
type Consumer struct {
	q       *Queue
	dlq     DeadLetterer
	handler Handler
	cfg     ConsumerConfig
}

// NewConsumer creates a Consumer.
func NewConsumer(q *Queue, dlq DeadLetterer, handler Handler, cfg ConsumerConfig) *Consumer {
	return &Consumer{q: q, dlq: dlq, handler: handler, cfg: cfg.withDefaults()}
}

// Run receives and handles messages until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	zap.L().Info("queue: consumer started", zap.Int("workers", c.cfg.Workers), zap.Int("max_attempts", c.cfg.MaxAttempts))
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < c.cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			c.loop(gctx, worker)
			return nil
		})
	}
	err := g.Wait()
	zap.L().Info("queue: consumer stopped")
	return err
}

func (c *Consumer) loop(ctx context.Context, worker int) {
	log := zap.L().With(zap.Int("worker", worker))
	for ctx.Err() == nil {
		d, err := c.q.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("queue: receive failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.cfg.ErrorPause):
			}
			continue
		}
		if d == nil {
			continue
		}
		c.Handle(ctx, d)
	}
}

// Handle runs the handler for one delivery and settles it: ack on success,
// retry on a retryable error with attempts left, dead letter otherwise. A
// delivery interrupted by shutdown is left leased for recovery.
func (c *Consumer) Handle(ctx context.Context, d *Delivery) {
	m := &d.Message
	log := zap.L().With(zap.String("message_id", m.ID), zap.String("job_id", m.JobID), zap.Int("attempt", m.Attempt+1))

	err := c.handler(ctx, m)
	if ctx.Err() != nil {
		log.Warn("queue: shutdown during handling, leaving message leased", zap.Error(err))
		return
	}
	// Settling runs even if ctx ends now.
	sctx := context.WithoutCancel(ctx)

	if err == nil {
		if aerr := c.q.Ack(sctx, d); aerr != nil {
			log.Error("queue: ack failed", zap.Error(aerr))
		}
		return
	}

	attempts := m.Attempt + 1
	retryable := c.cfg.Retryable(err)
	if retryable && attempts < c.cfg.MaxAttempts {
		log.Warn("queue: handler failed, retrying", zap.Int("max_attempts", c.cfg.MaxAttempts), zap.Error(err))
		if rerr := c.q.Retry(sctx, d); rerr != nil {
			log.Error("queue: retry failed", zap.Error(rerr))
		}
		return
	}

	if derr := c.deadLetter(sctx, d, err, retryable, attempts); derr != nil {
		// Left unacknowledged, the lease expiry redelivers it.
		log.Error("queue: dead letter failed", zap.Error(derr))
		return
	}
	log.Error("queue: message dead-lettered", zap.Bool("retryable", retryable), zap.Error(err))
	if aerr := c.q.Ack(sctx, d); aerr != nil {
		log.Error("queue: ack after dead letter failed", zap.Error(aerr))
	}
}

func (c *Consumer) deadLetter(ctx context.Context, d *Delivery, cause error, retryable bool, attempts int) error {
	errType := resilience.ErrorTypePermanent
	if retryable {
		errType = resilience.ErrorTypeTransient
	}
	var kind string
	if c.cfg.Kind != nil {
		kind = c.cfg.Kind(cause)
	}
	now := c.q.now().UTC()
	entry := resilience.DLQEntry{
		ID:           uuid.New().String(),
		JobID:        d.Message.JobID,
		Payload:      []byte(d.Raw),
		Error:        cause.Error(),
		ErrorType:    errType,
		ErrorKind:    kind,
		Attempts:     attempts,
		MaxAttempts:  c.cfg.MaxAttempts,
		CreatedAt:    d.Message.EnqueuedAt,
		LastFailedAt: now,
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	return eris.Wrapf(c.dlq.EnqueueDLQ(ctx, entry), "queue: dead letter job %s", d.Message.JobID)
}
