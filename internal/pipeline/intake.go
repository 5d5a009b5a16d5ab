package pipeline

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-enricher/internal/model"
	"github.com/sells-group/lead-enricher/internal/queue"
	"github.com/sells-group/lead-enricher/internal/reconcile"
	"github.com/sells-group/lead-enricher/internal/store"
)

// ErrInvalidRequest wraps every validation failure at intake.
var ErrInvalidRequest = eris.New("pipeline: invalid request")

// Enqueuer publishes job messages.
type Enqueuer interface {
	Enqueue(ctx context.Context, m queue.Message) error
}

// Intake accepts job requests and raw captures and enqueues jobs.
type Intake struct {
	store store.Store
	queue Enqueuer
}

// NewIntake creates an Intake.
func NewIntake(st store.Store, q Enqueuer) *Intake {
	return &Intake{store: st, queue: q}
}

// Submit records a pending job and enqueues it. A missing job id is
// generated. Submitting an existing job id enqueues it again; the worker
// ignores jobs that already completed.
func (in *Intake) Submit(ctx context.Context, req Request) (string, error) {
	if req.JobID == "" {
		req.JobID = uuid.New().String()
	}
	if err := req.Validate(); err != nil {
		return "", eris.Wrap(ErrInvalidRequest, err.Error())
	}

	created, err := in.store.CreateJob(ctx, req.job())
	if err != nil {
		return "", eris.Wrapf(err, "pipeline: create job %s", req.JobID)
	}
	if err := in.queue.Enqueue(ctx, req.Message()); err != nil {
		return "", eris.Wrapf(err, "pipeline: enqueue job %s", req.JobID)
	}

	zap.L().Info("pipeline: job submitted",
		zap.String("job_id", req.JobID),
		zap.String("organization_id", req.OrganizationID),
		zap.Int("urls", len(req.URLs)),
		zap.Bool("new", created),
	)
	return req.JobID, nil
}

// Capture is one raw lead handed over by the capture producer.
type Capture struct {
	URL           string          `json:"url"`
	DisplayName   string          `json:"display_name,omitempty"`
	RawAttributes json.RawMessage `json:"raw_attributes,omitempty"`
}

// CaptureRequest is a batch of captures for one organization.
type CaptureRequest struct {
	OrganizationID  string    `json:"organization_id"`
	QualificationID *int64    `json:"qualification_id,omitempty"`
	Captures        []Capture `json:"captures"`
}

// CaptureResult lists the profiles written and the job enqueued for them.
type CaptureResult struct {
	JobID      string   `json:"job_id"`
	ProfileIDs []int64  `json:"profile_ids"`
	Rejected   []string `json:"rejected,omitempty"`
}

// Capture upserts one profile per capture, keyed by organization and
// normalized URL, and enqueues a single enrichment job for all of them.
// Captures whose URL cannot be normalized are rejected and reported.
func (in *Intake) Capture(ctx context.Context, req CaptureRequest) (*CaptureResult, error) {
	if req.OrganizationID == "" {
		return nil, eris.Wrap(ErrInvalidRequest, "organization id is required")
	}

	res := &CaptureResult{}
	var urls []string
	seen := make(map[string]bool)
	for _, c := range req.Captures {
		norm, err := reconcile.NormalizeURL(c.URL)
		if err != nil {
			res.Rejected = append(res.Rejected, c.URL)
			continue
		}
		if seen[norm] {
			continue
		}
		seen[norm] = true

		p := &model.Profile{
			OrganizationID: req.OrganizationID,
			URL:            "https://" + norm,
			DisplayName:    c.DisplayName,
			RawAttributes:  c.RawAttributes,
		}
		if h, err := reconcile.Handle(c.URL); err == nil {
			p.Handle = h
		}
		if err := in.store.UpsertProfile(ctx, p); err != nil {
			return nil, eris.Wrapf(err, "pipeline: capture profile %s", c.URL)
		}
		res.ProfileIDs = append(res.ProfileIDs, p.ID)
		urls = append(urls, p.URL)
	}
	if len(urls) == 0 {
		return res, eris.Wrap(ErrInvalidRequest, "no capture has a usable url")
	}

	jobID, err := in.Submit(ctx, Request{
		ProfileIDs:      res.ProfileIDs,
		URLs:            urls,
		QualificationID: req.QualificationID,
		OrganizationID:  req.OrganizationID,
	})
	if err != nil {
		return res, err
	}
	res.JobID = jobID
	return res, nil
}
