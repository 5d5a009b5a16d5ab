package jobstate

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-enricher/internal/model"
)

// ErrAlreadyCompleted is returned when restarting a completed job.
var ErrAlreadyCompleted = eris.New("jobstate: job already completed")

// Writer persists a job transition. Implementations apply the update and
// record the matching event as one idempotent write.
type Writer interface {
	UpdateJob(ctx context.Context, jobID string, u *model.JobUpdate) error
}

// Option customizes a single transition.
type Option func(*model.JobUpdate)

// WithSnapshot attaches the vendor snapshot id.
func WithSnapshot(id string) Option {
	return func(u *model.JobUpdate) { u.SnapshotID = id }
}

// WithError records the failure message and its classification.
func WithError(msg, kind string) Option {
	return func(u *model.JobUpdate) {
		u.Error = msg
		u.ErrorKind = kind
	}
}

// WithSummary records the per-record counters.
func WithSummary(s model.JobSummary) Option {
	return func(u *model.JobUpdate) { u.Summary = &s }
}

// Machine validates and persists job transitions.
type Machine struct {
	w   Writer
	now func() time.Time
}

// NewMachine creates a Machine backed by w.
func NewMachine(w Writer) *Machine {
	return &Machine{w: w, now: time.Now}
}

// Transition moves job to state to. The job is mutated only after the write
// succeeds.
func (m *Machine) Transition(ctx context.Context, job *model.Job, to model.JobState, opts ...Option) error {
	if !CanTransition(job.State, to) {
		return eris.Wrapf(ErrIllegalTransition, "jobstate: %s -> %s (job %s)", job.State, to, job.ID)
	}

	u := &model.JobUpdate{
		State:      to,
		Attempt:    job.Attempt,
		SnapshotID: job.SnapshotID,
		Error:      job.Error,
		ErrorKind:  job.ErrorKind,
		Summary:    job.Summary,
		UpdatedAt:  m.now().UTC(),
	}
	for _, opt := range opts {
		opt(u)
	}
	if IsTerminal(to) {
		at := u.UpdatedAt
		u.CompletedAt = &at
	}

	if err := m.w.UpdateJob(ctx, job.ID, u); err != nil {
		return eris.Wrapf(err, "jobstate: persist %s -> %s", job.State, to)
	}

	zap.L().Debug("jobstate: transition",
		zap.String("job_id", job.ID),
		zap.Int("attempt", u.Attempt),
		zap.String("from", string(job.State)),
		zap.String("to", string(to)),
	)
	apply(job, u)
	return nil
}

// Restart begins a new attempt for a job that has not completed. A freshly
// created job at attempt 0 is restarted into attempt 1.
func (m *Machine) Restart(ctx context.Context, job *model.Job) error {
	if job.State == model.JobStateCompleted {
		return eris.Wrapf(ErrAlreadyCompleted, "jobstate: restart job %s", job.ID)
	}

	u := &model.JobUpdate{
		State:     model.JobStatePending,
		Attempt:   job.Attempt + 1,
		UpdatedAt: m.now().UTC(),
	}
	if err := m.w.UpdateJob(ctx, job.ID, u); err != nil {
		return eris.Wrap(err, "jobstate: persist restart")
	}
	apply(job, u)
	return nil
}

func apply(job *model.Job, u *model.JobUpdate) {
	job.State = u.State
	job.Attempt = u.Attempt
	job.SnapshotID = u.SnapshotID
	job.Error = u.Error
	job.ErrorKind = u.ErrorKind
	job.Summary = u.Summary
	job.UpdatedAt = u.UpdatedAt
	job.CompletedAt = u.CompletedAt
}
