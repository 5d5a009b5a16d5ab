package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-enricher/internal/model"
	"github.com/sells-group/lead-enricher/internal/store"
)

// MetricsSnapshot holds a point-in-time view of system health.
type MetricsSnapshot struct {
	// Job metrics (within lookback window).
	JobsTotal      int     `json:"jobs_total"`
	JobsCompleted  int     `json:"jobs_completed"`
	JobsFailed     int     `json:"jobs_failed"`
	JobsTimedOut   int     `json:"jobs_timed_out"`
	JobsInProgress int     `json:"jobs_in_progress"`
	JobFailRate    float64 `json:"job_fail_rate"`
	JobTimeoutRate float64 `json:"job_timeout_rate"`

	// Coverage across completed jobs.
	ProfilesRequested int     `json:"profiles_requested"`
	ProfilesEnriched  int     `json:"profiles_enriched"`
	Coverage          float64 `json:"coverage"`
	Qualified         int     `json:"qualified"`
	QualifyFailed     int     `json:"qualify_failed"`

	// Queue and DLQ depth.
	QueuePending    int64 `json:"queue_pending"`
	QueueProcessing int64 `json:"queue_processing"`
	DLQDepth        int   `json:"dlq_depth"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// JobSource is the slice of the store the collector reads.
type JobSource interface {
	ListJobs(ctx context.Context, filter store.JobFilter) ([]model.Job, error)
	CountDLQ(ctx context.Context) (int, error)
}

// QueueDepther reports queue backlog.
type QueueDepther interface {
	Depth(ctx context.Context) (pending, processing int64, err error)
}

// Collector gathers metrics from the store and the job queue.
type Collector struct {
	store JobSource
	queue QueueDepther
}

// NewCollector creates a new metrics collector. queue may be nil.
func NewCollector(st JobSource, queue QueueDepther) *Collector {
	return &Collector{store: st, queue: queue}
}

// Collect gathers a snapshot of system metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}

	cutoff := time.Now().UTC().Add(-time.Duration(lookbackHours) * time.Hour)

	jobs, err := c.store.ListJobs(ctx, store.JobFilter{
		CreatedAfter: cutoff,
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list jobs")
	}

	snap.JobsTotal = len(jobs)
	for _, j := range jobs {
		switch j.State {
		case model.JobStateCompleted:
			snap.JobsCompleted++
			if j.Summary != nil {
				snap.ProfilesRequested += j.Summary.Requested
				snap.ProfilesEnriched += j.Summary.Enriched
				snap.Qualified += j.Summary.Qualified
				snap.QualifyFailed += j.Summary.QualifyFailed
			}
		case model.JobStateFailed:
			snap.JobsFailed++
			if j.ErrorKind == "timeout" {
				snap.JobsTimedOut++
			}
		default:
			snap.JobsInProgress++
		}
	}

	if finished := snap.JobsCompleted + snap.JobsFailed; finished > 0 {
		snap.JobFailRate = float64(snap.JobsFailed) / float64(finished)
		snap.JobTimeoutRate = float64(snap.JobsTimedOut) / float64(finished)
	}
	if snap.ProfilesRequested > 0 {
		snap.Coverage = float64(snap.ProfilesEnriched) / float64(snap.ProfilesRequested)
	}

	if c.queue != nil {
		pending, processing, err := c.queue.Depth(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: queue depth")
		}
		snap.QueuePending = pending
		snap.QueueProcessing = processing
	}

	dlqCount, err := c.store.CountDLQ(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count dlq")
	}
	snap.DLQDepth = dlqCount

	return snap, nil
}
