package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-enricher/internal/model"
	"github.com/sells-group/lead-enricher/internal/resilience"
)

// ErrNotFound is returned by writes that target a missing row.
var ErrNotFound = eris.New("store: not found")

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	State          model.JobState `json:"state,omitempty"`
	OrganizationID string         `json:"organization_id,omitempty"`
	CreatedAfter   time.Time      `json:"created_after,omitempty"`
	Limit          int            `json:"limit,omitempty"`
	Offset         int            `json:"offset,omitempty"`
}

// Store defines persistence for jobs, profiles, enrichments, rubrics,
// qualification results, and dead-lettered messages. Reads of a single
// missing row return (nil, nil).
type Store interface {
	// Jobs
	CreateJob(ctx context.Context, job *model.Job) (bool, error)
	GetJob(ctx context.Context, id string) (*model.Job, error)
	UpdateJob(ctx context.Context, id string, u *model.JobUpdate) error
	ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error)
	ListJobEvents(ctx context.Context, id string) ([]model.JobEvent, error)
	FindJobBySnapshot(ctx context.Context, snapshotID string) (*model.Job, error)

	// Profiles
	UpsertProfile(ctx context.Context, p *model.Profile) error
	GetProfile(ctx context.Context, id int64) (*model.Profile, error)
	FindProfilesByHandle(ctx context.Context, handle string) ([]model.Profile, error)

	// Enrichment
	UpsertEnrichment(ctx context.Context, e *model.Enrichment) error
	GetEnrichment(ctx context.Context, profileID int64) (*model.Enrichment, error)

	// Rubrics
	SaveRubric(ctx context.Context, r *model.Rubric) error
	GetRubric(ctx context.Context, id int64) (*model.Rubric, error)
	ListRubrics(ctx context.Context, organizationID string) ([]model.Rubric, error)

	// Qualification results
	UpsertQualification(ctx context.Context, q *model.QualificationResult) error
	ListQualifications(ctx context.Context, profileID int64) ([]model.QualificationResult, error)

	// Dead letter queue
	EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error
	ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	GetDLQ(ctx context.Context, id string) (*resilience.DLQEntry, error)
	RemoveDLQ(ctx context.Context, id string) error
	CountDLQ(ctx context.Context) (int, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
