package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-enricher/internal/resilience"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() }) //nolint:errcheck
	q := New(rdb, Config{Name: "test", Visibility: time.Minute, BlockTimeout: 100 * time.Millisecond})
	return q, mr
}

func testMessage(jobID string) Message {
	qid := int64(4)
	return Message{
		JobID:           jobID,
		ProfileIDs:      []int64{1, 2},
		URLs:            []string{"https://linkedin.com/in/a", "https://linkedin.com/in/b"},
		QualificationID: &qid,
		OrganizationID:  "org-1",
	}
}

func TestQueue_EnqueueReceiveAck(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, testMessage("job-1")))
	require.NoError(t, q.Enqueue(ctx, testMessage("job-2")))

	d, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "job-1", d.Message.JobID, "first in, first out")
	assert.NotEmpty(t, d.Message.ID)
	assert.False(t, d.Message.EnqueuedAt.IsZero())
	assert.Equal(t, []int64{1, 2}, d.Message.ProfileIDs)
	require.NotNil(t, d.Message.QualificationID)
	assert.True(t, mr.Exists("test:lease:"+d.Message.ID))

	pending, processing, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)
	assert.Equal(t, int64(1), processing)

	require.NoError(t, q.Ack(ctx, d))
	_, processing, err = q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), processing)
	assert.False(t, mr.Exists("test:lease:"+d.Message.ID))
}

func TestQueue_ReceiveEmpty(t *testing.T) {
	q, _ := newTestQueue(t)
	d, err := q.Receive(context.Background())
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestQueue_Retry(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, testMessage("job-1")))

	d, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Retry(ctx, d))

	again, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, d.Message.ID, again.Message.ID)
	assert.Equal(t, 1, again.Message.Attempt)

	_, processing, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), processing, "old entry removed from processing")
}

func TestQueue_MalformedMessageDropped(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()
	_, err := mr.Lpush("test:pending", "{not json")
	require.NoError(t, err)

	d, err := q.Receive(ctx)
	assert.Nil(t, d)
	assert.ErrorIs(t, err, ErrMalformed)

	pending, processing, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)
	assert.Zero(t, processing)
}

func TestQueue_RecoverExpired(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, testMessage("job-crashed")))
	require.NoError(t, q.Enqueue(ctx, testMessage("job-alive")))

	crashed, err := q.Receive(ctx)
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)
	alive, err := q.Receive(ctx)
	require.NoError(t, err)

	n, err := q.RecoverExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "first sighting only marks the message")

	n, err = q.RecoverExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	redelivered, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, redelivered)
	assert.Equal(t, crashed.Message.ID, redelivered.Message.ID)
	assert.Equal(t, 0, redelivered.Message.Attempt, "recovery is not a retry")

	require.NoError(t, q.Ack(ctx, alive))
	require.NoError(t, q.Ack(ctx, redelivered))
	n, err = q.RecoverExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestQueue_RecoverSkipsLeased(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, testMessage("job-1")))
	_, err := q.Receive(ctx)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		n, err := q.RecoverExpired(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	}
}

func TestQueue_Replay(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	m := testMessage("job-dead")
	m.ID = "msg-1"
	m.Attempt = 2
	raw, err := m.encode()
	require.NoError(t, err)

	replayed, err := q.Replay(ctx, &resilience.DLQEntry{ID: "dlq-1", Payload: []byte(raw)})
	require.NoError(t, err)
	assert.NotEqual(t, "msg-1", replayed.ID)
	assert.Zero(t, replayed.Attempt)

	d, err := q.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "job-dead", d.Message.JobID)
	assert.Zero(t, d.Message.Attempt)

	_, err = q.Replay(ctx, &resilience.DLQEntry{ID: "dlq-2", Payload: []byte(`{}`)})
	assert.Error(t, err)
}

func TestDecode(t *testing.T) {
	_, err := Decode([]byte(`{"id":"m1"}`))
	assert.Error(t, err, "job id required")
	m, err := Decode([]byte(`{"id":"m1","job_id":"j1","profile_urls":["u"],"profile_ids":[3]}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"u"}, m.URLs)
}

type memDLQ struct {
	mu      sync.Mutex
	entries []resilience.DLQEntry
	err     error
}

func (d *memDLQ) EnqueueDLQ(_ context.Context, e resilience.DLQEntry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.entries = append(d.entries, e)
	return nil
}

func receiveOne(t *testing.T, q *Queue, m Message) *Delivery {
	t.Helper()
	require.NoError(t, q.Enqueue(context.Background(), m))
	d, err := q.Receive(context.Background())
	require.NoError(t, err)
	require.NotNil(t, d)
	return d
}

var errPermanent = errors.New("vendor rejected the request")

func TestConsumer_Handle(t *testing.T) {
	transient := resilience.NewTransientError(errors.New("poller: timed out"), 0)

	tests := []struct {
		name           string
		attempt        int
		handlerErr     error
		dlqErr         error
		wantPending    int64
		wantProcessing int64
		wantDLQ        int
		wantType       string
	}{
		{name: "success acks", handlerErr: nil},
		{name: "transient retries", handlerErr: transient, wantPending: 1},
		{name: "transient on last attempt dead-letters", attempt: 2, handlerErr: transient, wantDLQ: 1, wantType: resilience.ErrorTypeTransient},
		{name: "permanent dead-letters at once", handlerErr: errPermanent, wantDLQ: 1, wantType: resilience.ErrorTypePermanent},
		{name: "dead letter failure leaves message leased", handlerErr: errPermanent, dlqErr: errors.New("db down"), wantProcessing: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, _ := newTestQueue(t)
			dlq := &memDLQ{err: tt.dlqErr}
			c := NewConsumer(q, dlq, func(context.Context, *Message) error { return tt.handlerErr }, ConsumerConfig{
				Kind: func(err error) string {
					if errors.Is(err, errPermanent) {
						return "vendor_rejected"
					}
					return "timeout"
				},
			})

			m := testMessage("job-1")
			m.Attempt = tt.attempt
			d := receiveOne(t, q, m)
			c.Handle(context.Background(), d)

			pending, processing, err := q.Depth(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.wantPending, pending)
			assert.Equal(t, tt.wantProcessing, processing)
			require.Len(t, dlq.entries, tt.wantDLQ)
			if tt.wantDLQ > 0 {
				e := dlq.entries[0]
				assert.Equal(t, tt.wantType, e.ErrorType)
				assert.Equal(t, "job-1", e.JobID)
				assert.Equal(t, tt.attempt+1, e.Attempts)
				assert.Equal(t, 3, e.MaxAttempts)
				assert.JSONEq(t, d.Raw, string(e.Payload))
				assert.NotEmpty(t, e.ErrorKind)
			}
		})
	}
}

func TestConsumer_ShutdownLeavesMessageLeased(t *testing.T) {
	q, _ := newTestQueue(t)
	dlq := &memDLQ{}
	ctx, cancel := context.WithCancel(context.Background())
	c := NewConsumer(q, dlq, func(ctx context.Context, _ *Message) error {
		cancel()
		return ctx.Err()
	}, ConsumerConfig{})

	d := receiveOne(t, q, testMessage("job-1"))
	c.Handle(ctx, d)

	_, processing, err := q.Depth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), processing)
	assert.Empty(t, dlq.entries)
}

func TestConsumer_Run(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	seen := map[string]int{}
	done := make(chan struct{})
	c := NewConsumer(q, &memDLQ{}, func(_ context.Context, m *Message) error {
		mu.Lock()
		defer mu.Unlock()
		seen[m.JobID]++
		if len(seen) == 3 {
			select {
			case <-done:
			default:
				close(done)
			}
		}
		return nil
	}, ConsumerConfig{Workers: 2})

	for _, id := range []string{"job-1", "job-2", "job-3"} {
		require.NoError(t, q.Enqueue(ctx, testMessage(id)))
	}

	errCh := make(chan error, 1)
	go func() { errCh <- c.Run(ctx) }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("messages not consumed")
	}
	cancel()
	require.NoError(t, <-errCh)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, map[string]int{"job-1": 1, "job-2": 1, "job-3": 1}, seen)
}
