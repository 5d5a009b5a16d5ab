package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-enricher/internal/model"
	"github.com/sells-group/lead-enricher/internal/store"
)

// mockStore implements JobSource for testing.
type mockStore struct {
	jobs     []model.Job
	dlqCount int
	listErr  error
	dlqErr   error
}

func (m *mockStore) ListJobs(_ context.Context, filter store.JobFilter) ([]model.Job, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var filtered []model.Job
	for _, j := range m.jobs {
		if !filter.CreatedAfter.IsZero() && j.CreatedAt.Before(filter.CreatedAfter) {
			continue
		}
		if filter.State != "" && j.State != filter.State {
			continue
		}
		filtered = append(filtered, j)
	}
	return filtered, nil
}

func (m *mockStore) CountDLQ(_ context.Context) (int, error) {
	return m.dlqCount, m.dlqErr
}

type mockQueue struct {
	pending, processing int64
	err                 error
}

func (q *mockQueue) Depth(context.Context) (int64, int64, error) {
	return q.pending, q.processing, q.err
}

func job(state model.JobState, age time.Duration, summary *model.JobSummary) model.Job {
	return model.Job{
		ID:        string(state),
		State:     state,
		Summary:   summary,
		CreatedAt: time.Now().UTC().Add(-age),
	}
}

func TestCollector_Collect(t *testing.T) {
	timedOut := job(model.JobStateFailed, time.Hour, nil)
	timedOut.ErrorKind = "timeout"

	st := &mockStore{
		jobs: []model.Job{
			job(model.JobStateCompleted, time.Hour, &model.JobSummary{Requested: 50, Enriched: 41, Qualified: 30, QualifyFailed: 2}),
			job(model.JobStateCompleted, 2*time.Hour, &model.JobSummary{Requested: 10, Enriched: 10}),
			job(model.JobStateCompleted, 3*time.Hour, nil),
			timedOut,
			job(model.JobStateFailed, time.Hour, nil),
			job(model.JobStateScraping, time.Minute, nil),
			job(model.JobStatePending, time.Minute, nil),
			// Outside the window.
			job(model.JobStateFailed, 48*time.Hour, nil),
		},
		dlqCount: 4,
	}
	c := NewCollector(st, &mockQueue{pending: 7, processing: 2})

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 7, snap.JobsTotal)
	assert.Equal(t, 3, snap.JobsCompleted)
	assert.Equal(t, 2, snap.JobsFailed)
	assert.Equal(t, 1, snap.JobsTimedOut)
	assert.Equal(t, 2, snap.JobsInProgress)
	assert.InDelta(t, 0.4, snap.JobFailRate, 0.001)
	assert.InDelta(t, 0.2, snap.JobTimeoutRate, 0.001)
	assert.Equal(t, 60, snap.ProfilesRequested)
	assert.Equal(t, 51, snap.ProfilesEnriched)
	assert.InDelta(t, 0.85, snap.Coverage, 0.001)
	assert.Equal(t, 30, snap.Qualified)
	assert.Equal(t, 2, snap.QualifyFailed)
	assert.Equal(t, int64(7), snap.QueuePending)
	assert.Equal(t, int64(2), snap.QueueProcessing)
	assert.Equal(t, 4, snap.DLQDepth)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.False(t, snap.CollectedAt.IsZero())
}

func TestCollector_Empty(t *testing.T) {
	c := NewCollector(&mockStore{}, nil)

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Zero(t, snap.JobsTotal)
	assert.Zero(t, snap.JobFailRate)
	assert.Zero(t, snap.Coverage)
}

func TestCollector_Errors(t *testing.T) {
	tests := []struct {
		name  string
		store *mockStore
		queue QueueDepther
		want  string
	}{
		{"list jobs", &mockStore{listErr: errors.New("db down")}, nil, "list jobs"},
		{"dlq", &mockStore{dlqErr: errors.New("db down")}, nil, "count dlq"},
		{"queue", &mockStore{}, &mockQueue{err: errors.New("redis down")}, "queue depth"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCollector(tt.store, tt.queue).Collect(context.Background(), 24)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
