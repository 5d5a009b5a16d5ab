package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-enricher/internal/resilience"
)

// ErrMalformed is returned by Receive for a message that cannot be decoded.
// The message is dropped from the processing list.
var ErrMalformed = eris.New("queue: malformed message")

// Config names the queue and sets its timing.
type Config struct {
	// Name prefixes every key. Default "leads:jobs".
	Name string
	// Visibility is how long a received message stays leased before
	// RecoverExpired hands it to another worker. It must exceed the job
	// timeout. Default 35m.
	Visibility time.Duration
	// BlockTimeout bounds each blocking pop. Default 5s.
	BlockTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "leads:jobs"
	}
	if c.Visibility <= 0 {
		c.Visibility = 35 * time.Minute
	}
	if c.BlockTimeout <= 0 {
		c.BlockTimeout = 5 * time.Second
	}
	return c
}

// Delivery is a received message. Raw is the exact list entry, needed to
// remove it from the processing list.
type Delivery struct {
	Message Message
	Raw     string
}

// Queue is a reliable Redis list queue. Producers LPUSH onto the pending
// list; consumers BRPOPLPUSH onto the processing list and hold a lease key
// until they acknowledge.
type Queue struct {
	rdb *redis.Client
	cfg Config
	now func() time.Time

	mu       sync.Mutex
	suspects map[string]bool
}

// NewRedisClient parses redisURL and verifies connectivity.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, eris.Wrapf(err, "queue: parse redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "queue: redis ping")
	}
	return client, nil
}

// New creates a Queue on rdb.
func New(rdb *redis.Client, cfg Config) *Queue {
	return &Queue{
		rdb:      rdb,
		cfg:      cfg.withDefaults(),
		now:      time.Now,
		suspects: make(map[string]bool),
	}
}

func (q *Queue) pendingKey() string    { return q.cfg.Name + ":pending" }
func (q *Queue) processingKey() string { return q.cfg.Name + ":processing" }
func (q *Queue) leaseKey(id string) string {
	return q.cfg.Name + ":lease:" + id
}

// Enqueue publishes m. A missing message id and timestamp are filled in.
func (q *Queue) Enqueue(ctx context.Context, m Message) error {
	m.prepare(q.now())
	raw, err := m.encode()
	if err != nil {
		return err
	}
	if err := q.rdb.LPush(ctx, q.pendingKey(), raw).Err(); err != nil {
		return eris.Wrapf(err, "queue: enqueue job %s", m.JobID)
	}
	zap.L().Debug("queue: enqueued", zap.String("message_id", m.ID), zap.String("job_id", m.JobID), zap.Int("attempt", m.Attempt))
	return nil
}

// Receive blocks up to BlockTimeout for the next message. It returns nil
// with no error when the wait times out.
func (q *Queue) Receive(ctx context.Context) (*Delivery, error) {
	raw, err := q.rdb.BRPopLPush(ctx, q.pendingKey(), q.processingKey(), q.cfg.BlockTimeout).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "queue: receive")
	}

	m, err := Decode([]byte(raw))
	if err != nil {
		if rerr := q.rdb.LRem(ctx, q.processingKey(), 1, raw).Err(); rerr != nil {
			zap.L().Error("queue: drop malformed message", zap.Error(rerr))
		}
		return nil, eris.Wrapf(ErrMalformed, "queue: %v", err)
	}

	if err := q.rdb.Set(ctx, q.leaseKey(m.ID), q.now().UTC().Format(time.RFC3339Nano), q.cfg.Visibility).Err(); err != nil {
		// Without a lease the message is recovered later; delivery is
		// at-least-once either way.
		zap.L().Warn("queue: take lease", zap.String("message_id", m.ID), zap.Error(err))
	}
	return &Delivery{Message: *m, Raw: raw}, nil
}

// Ack removes a processed message for good.
func (q *Queue) Ack(ctx context.Context, d *Delivery) error {
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processingKey(), 1, d.Raw)
		pipe.Del(ctx, q.leaseKey(d.Message.ID))
		return nil
	})
	return eris.Wrapf(err, "queue: ack message %s", d.Message.ID)
}

// Retry re-queues a message with its attempt count incremented.
func (q *Queue) Retry(ctx context.Context, d *Delivery) error {
	next := d.Message
	next.Attempt++
	raw, err := next.encode()
	if err != nil {
		return err
	}
	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, q.processingKey(), 1, d.Raw)
		pipe.Del(ctx, q.leaseKey(d.Message.ID))
		pipe.LPush(ctx, q.pendingKey(), raw)
		return nil
	})
	return eris.Wrapf(err, "queue: retry message %s", d.Message.ID)
}

// Replay re-enqueues a dead-lettered message as a fresh first attempt.
func (q *Queue) Replay(ctx context.Context, entry *resilience.DLQEntry) (*Message, error) {
	m, err := Decode(entry.Payload)
	if err != nil {
		return nil, eris.Wrapf(err, "queue: replay dlq entry %s", entry.ID)
	}
	m.ID = ""
	m.Attempt = 0
	m.EnqueuedAt = time.Time{}
	if err := q.Enqueue(ctx, *m); err != nil {
		return nil, err
	}
	return m, nil
}

// RecoverExpired re-queues processing messages whose lease has expired. A
// message must be seen without a lease on two consecutive scans, which
// covers the gap between a pop and its lease write. Recovered messages go
// to the head of the line. It returns how many were re-queued.
func (q *Queue) RecoverExpired(ctx context.Context) (int, error) {
	raws, err := q.rdb.LRange(ctx, q.processingKey(), 0, -1).Result()
	if err != nil {
		return 0, eris.Wrap(err, "queue: list processing")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	seen := make(map[string]bool, len(raws))
	recovered := 0
	for _, raw := range raws {
		m, err := Decode([]byte(raw))
		if err != nil {
			zap.L().Error("queue: dropping malformed processing entry", zap.Error(err))
			if err := q.rdb.LRem(ctx, q.processingKey(), 1, raw).Err(); err != nil {
				return recovered, eris.Wrap(err, "queue: drop malformed entry")
			}
			continue
		}

		n, err := q.rdb.Exists(ctx, q.leaseKey(m.ID)).Result()
		if err != nil {
			return recovered, eris.Wrapf(err, "queue: check lease %s", m.ID)
		}
		if n > 0 {
			continue
		}
		if !q.suspects[m.ID] {
			seen[m.ID] = true
			continue
		}

		_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, q.processingKey(), 1, raw)
			pipe.RPush(ctx, q.pendingKey(), raw)
			return nil
		})
		if err != nil {
			return recovered, eris.Wrapf(err, "queue: recover message %s", m.ID)
		}
		recovered++
		zap.L().Warn("queue: lease expired, message re-queued",
			zap.String("message_id", m.ID),
			zap.String("job_id", m.JobID),
			zap.Int("attempt", m.Attempt),
		)
	}
	q.suspects = seen
	return recovered, nil
}

// Depth reports the pending and processing list lengths.
func (q *Queue) Depth(ctx context.Context) (pending, processing int64, err error) {
	pipe := q.rdb.Pipeline()
	p := pipe.LLen(ctx, q.pendingKey())
	r := pipe.LLen(ctx, q.processingKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, eris.Wrap(err, "queue: depth")
	}
	return p.Val(), r.Val(), nil
}

// Ping checks the Redis connection.
func (q *Queue) Ping(ctx context.Context) error {
	return eris.Wrap(q.rdb.Ping(ctx).Err(), "queue: ping")
}
