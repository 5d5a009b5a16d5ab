// Package pipeline drives enrichment jobs from vendor trigger to scoring and
// processes vendor deliveries that arrive outside any job.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-enricher/internal/jobstate"
	"github.com/sells-group/lead-enricher/internal/model"
	"github.com/sells-group/lead-enricher/internal/poller"
	"github.com/sells-group/lead-enricher/internal/reconcile"
	"github.com/sells-group/lead-enricher/internal/scorer"
	"github.com/sells-group/lead-enricher/internal/store"
	"github.com/sells-group/lead-enricher/pkg/brightdata"
	"github.com/sells-group/lead-enricher/pkg/objstore"
)

// ErrRubricNotFound is returned when a job names a rubric that does not exist
// or belongs to another organization.
var ErrRubricNotFound = eris.New("pipeline: rubric not found")

// finalWriteTimeout bounds the failure write made after the job context is
// already done.
const finalWriteTimeout = 10 * time.Second

// Poller waits for a snapshot delivery.
type Poller interface {
	Poll(ctx context.Context, snapshotID string) ([]brightdata.Record, error)
}

// Config tunes job execution.
type Config struct {
	// Concurrency bounds per-record reconcile, store and score work.
	Concurrency int
	// JobTimeout bounds one attempt end to end.
	JobTimeout time.Duration
	// DeliveryDirectory is the bucket prefix the vendor delivers into.
	DeliveryDirectory string
}

// DefaultJobTimeout is the default poll budget plus a minute of margin for
// the trigger and the per-record work.
func DefaultJobTimeout() time.Duration {
	return poller.Budget(poller.DefaultConfig()) + time.Minute
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = DefaultJobTimeout()
	}
	return c
}

// Pipeline runs enrichment jobs and delivery sweeps.
type Pipeline struct {
	cfg       Config
	store     store.Store
	vendor    brightdata.Client
	poller    Poller
	objects   objstore.Store
	qualifier *scorer.Qualifier
	machine   *jobstate.Machine
	resolver  *reconcile.HandleResolver
	now       func() time.Time
}

// New creates a Pipeline with all dependencies.
func New(
	cfg Config,
	st store.Store,
	vendor brightdata.Client,
	poll Poller,
	objects objstore.Store,
	qualifier *scorer.Qualifier,
) *Pipeline {
	return &Pipeline{
		cfg:       cfg.withDefaults(),
		store:     st,
		vendor:    vendor,
		poller:    poll,
		objects:   objects,
		qualifier: qualifier,
		machine:   jobstate.NewMachine(st),
		resolver:  reconcile.NewHandleResolver(st),
		now:       time.Now,
	}
}

// RunJob drives one job through scraping, enrichment and optional
// qualification, persisting a transition after each stage. A redelivered
// completed job is a no-op. Any other redelivery starts a new attempt.
//
// Per-record failures are counted in the summary. A stage failure moves the
// job to failed and returns a *StageError.
func (p *Pipeline) RunJob(ctx context.Context, req Request) (*model.JobSummary, error) {
	if err := req.Validate(); err != nil {
		return nil, configError("validate", err)
	}
	log := zap.L().With(zap.String("job_id", req.JobID))

	job, err := p.loadOrCreate(ctx, req)
	if err != nil {
		return nil, storeError("load", err)
	}
	if job.State == model.JobStateCompleted {
		log.Info("pipeline: job already completed, ignoring redelivery")
		if job.Summary == nil {
			return &model.JobSummary{Requested: len(job.URLs)}, nil
		}
		return job.Summary, nil
	}

	if err := p.machine.Restart(ctx, job); err != nil {
		return nil, storeError("restart", err)
	}
	log = log.With(zap.Int("attempt", job.Attempt))
	log.Info("pipeline: job started", zap.Int("urls", len(job.URLs)))

	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, p.cfg.JobTimeout)
	defer cancel()

	summary := model.JobSummary{Requested: len(job.URLs)}

	var rubric *model.Rubric
	if job.HasRubric() {
		rubric, err = p.loadRubric(ctx, job)
		if err != nil {
			return p.fail(ctx, job, summary, classifyRubric(err))
		}
	}

	if err := p.machine.Transition(ctx, job, model.JobStateScraping); err != nil {
		return p.fail(ctx, job, summary, storeError("scraping", err))
	}

	snapshotID, err := p.vendor.Trigger(ctx, job.URLs)
	if err != nil {
		return p.fail(ctx, job, summary, classifyTrigger(err))
	}
	log = log.With(zap.String("snapshot_id", snapshotID))
	if err := p.machine.Transition(ctx, job, model.JobStateScraping, jobstate.WithSnapshot(snapshotID)); err != nil {
		return p.fail(ctx, job, summary, storeError("scraping", err))
	}
	log.Info("pipeline: scrape triggered")

	records, err := p.poller.Poll(ctx, snapshotID)
	if err != nil {
		if parent.Err() != nil {
			// Shutdown. The job stays where it is and the queue lease
			// hands the message to another worker.
			log.Warn("pipeline: job interrupted", zap.Error(err))
			return &summary, eris.Wrapf(parent.Err(), "pipeline: job %s interrupted", job.ID)
		}
		return p.fail(ctx, job, summary, classifyPoll(err))
	}
	summary.Delivered = len(records)

	if err := p.machine.Transition(ctx, job, model.JobStateEnriching, jobstate.WithSummary(summary)); err != nil {
		return p.fail(ctx, job, summary, storeError("enriching", err))
	}
	enriched, err := p.enrichJob(ctx, job, records, &summary)
	if err != nil {
		return p.fail(ctx, job, summary, configError("enriching", err))
	}

	if rubric != nil && len(enriched) > 0 {
		if err := p.machine.Transition(ctx, job, model.JobStateQualifying, jobstate.WithSummary(summary)); err != nil {
			return p.fail(ctx, job, summary, storeError("qualifying", err))
		}
		p.qualifyJob(ctx, enriched, rubric, &summary)
	}

	if err := p.machine.Transition(ctx, job, model.JobStateCompleted, jobstate.WithSummary(summary)); err != nil {
		return p.fail(ctx, job, summary, storeError("completed", err))
	}

	if err := p.objects.Delete(ctx, brightdata.DeliveryKey(p.cfg.DeliveryDirectory, snapshotID)); err != nil {
		log.Warn("pipeline: delete delivery object", zap.Error(err))
	}

	log.Info("pipeline: job completed",
		zap.Stringer("coverage", summary),
		zap.Int("delivered", summary.Delivered),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("qualified", summary.Qualified),
		zap.Int("qualify_failed", summary.QualifyFailed),
	)
	return &summary, nil
}

func (p *Pipeline) loadOrCreate(ctx context.Context, req Request) (*model.Job, error) {
	job := req.job()
	created, err := p.store.CreateJob(ctx, job)
	if err != nil {
		return nil, err
	}
	if created {
		return job, nil
	}
	existing, err := p.store.GetJob(ctx, req.JobID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, eris.Errorf("pipeline: job %s vanished after create", req.JobID)
	}
	return existing, nil
}

// loadRubric fails fast, before the vendor is paid for a scrape, when the
// requested rubric cannot be scored.
func (p *Pipeline) loadRubric(ctx context.Context, job *model.Job) (*model.Rubric, error) {
	if p.qualifier == nil || !p.qualifier.Configured() {
		return nil, scorer.ErrJudgeNotConfigured
	}
	r, err := p.store.GetRubric(ctx, *job.QualificationID)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: load rubric %d", *job.QualificationID)
	}
	if r == nil || r.OrganizationID != job.OrganizationID {
		return nil, eris.Wrapf(ErrRubricNotFound, "pipeline: rubric %d", *job.QualificationID)
	}
	return r, nil
}

func (p *Pipeline) fail(ctx context.Context, job *model.Job, summary model.JobSummary, serr *StageError) (*model.JobSummary, error) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalWriteTimeout)
	defer cancel()

	log := zap.L().With(zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt))
	if err := p.machine.Transition(wctx, job, model.JobStateFailed,
		jobstate.WithError(serr.Error(), string(serr.Kind)),
		jobstate.WithSummary(summary),
	); err != nil {
		if errors.Is(err, jobstate.ErrIllegalTransition) {
			log.Warn("pipeline: job already terminal", zap.String("state", string(job.State)))
		} else {
			log.Error("pipeline: record failure", zap.Error(err))
		}
	}

	log.Error("pipeline: job failed",
		zap.String("stage", serr.Stage),
		zap.String("kind", string(serr.Kind)),
		zap.Bool("retryable", serr.Retryable),
		zap.Error(serr.Err),
	)
	return &summary, serr
}
