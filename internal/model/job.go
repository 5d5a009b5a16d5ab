package model

import (
	"fmt"
	"time"
)

// JobState represents the lifecycle position of an enrichment job.
type JobState string

const (
	JobStatePending    JobState = "pending"
	JobStateScraping   JobState = "scraping"
	JobStateEnriching  JobState = "enriching"
	JobStateQualifying JobState = "qualifying"
	JobStateCompleted  JobState = "completed"
	JobStateFailed     JobState = "failed"
)

// Job is one batch enrichment request tracked from enqueue to a terminal state.
// ProfileIDs[i] was captured from URLs[i].
type Job struct {
	ID              string      `json:"id"`
	ProfileIDs      []int64     `json:"profile_ids"`
	URLs            []string    `json:"urls"`
	QualificationID *int64      `json:"qualification_id,omitempty"`
	OrganizationID  string      `json:"organization_id"`
	State           JobState    `json:"state"`
	Attempt         int         `json:"attempt"`
	SnapshotID      string      `json:"snapshot_id,omitempty"`
	Error           string      `json:"error,omitempty"`
	ErrorKind       string      `json:"error_kind,omitempty"`
	Summary         *JobSummary `json:"summary,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
	CompletedAt     *time.Time  `json:"completed_at,omitempty"`
}

// HasRubric reports whether the job asked for qualification scoring.
func (j *Job) HasRubric() bool {
	return j.QualificationID != nil && *j.QualificationID > 0
}

// JobUpdate is the single row write applied on every state transition.
type JobUpdate struct {
	State       JobState
	Attempt     int
	SnapshotID  string
	Error       string
	ErrorKind   string
	Summary     *JobSummary
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// JobEvent records one transition for the audit trail.
type JobEvent struct {
	JobID      string    `json:"job_id"`
	Attempt    int       `json:"attempt"`
	State      JobState  `json:"state"`
	SnapshotID string    `json:"snapshot_id,omitempty"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

// JobSummary tallies per-record outcomes. Per-record failures never fail the
// job; they only show up here.
type JobSummary struct {
	Requested     int `json:"requested"`
	Delivered     int `json:"delivered"`
	Enriched      int `json:"enriched"`
	Failed        int `json:"failed"`
	Skipped       int `json:"skipped"`
	Qualified     int `json:"qualified"`
	QualifyFailed int `json:"qualify_failed"`
}

// String renders the coverage line shown in the UI, e.g. "41 of 50 enriched".
func (s JobSummary) String() string {
	return fmt.Sprintf("%d of %d enriched", s.Enriched, s.Requested)
}

// SweepSummary reports what one out-of-band delivery sweep did.
type SweepSummary struct {
	Objects       int `json:"objects"`
	Processed     int `json:"processed"`
	Retained      int `json:"retained"`
	InFlight      int `json:"in_flight"`
	Enriched      int `json:"enriched"`
	Failed        int `json:"failed"`
	Skipped       int `json:"skipped"`
	Discarded     int `json:"discarded"`
	Qualified     int `json:"qualified"`
	QualifyFailed int `json:"qualify_failed"`
}

// FanOutSummary counts the auto-scoring triggered by one enrichment write.
type FanOutSummary struct {
	Qualified int `json:"qualified"`
	Failed    int `json:"failed"`
}
