package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-enricher/internal/model"
	"github.com/sells-group/lead-enricher/internal/resilience"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func intPtr(v int) *int { return &v }

// --- Jobs ---

func TestSQLite_CreateJob_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	rubric := int64(9)

	job := &model.Job{
		ID:              "job-1",
		OrganizationID:  "org-1",
		ProfileIDs:      []int64{1, 2},
		URLs:            []string{"https://example.com/in/a", "https://example.com/in/b"},
		QualificationID: &rubric,
	}
	created, err := st.CreateJob(ctx, job)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = st.CreateJob(ctx, &model.Job{ID: "job-1", OrganizationID: "org-other"})
	require.NoError(t, err)
	assert.False(t, created, "second insert with same id is a no-op")

	got, err := st.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "org-1", got.OrganizationID)
	assert.Equal(t, []int64{1, 2}, got.ProfileIDs)
	assert.Equal(t, job.URLs, got.URLs)
	require.NotNil(t, got.QualificationID)
	assert.Equal(t, int64(9), *got.QualificationID)
	assert.Equal(t, model.JobStatePending, got.State)
	assert.Nil(t, got.Summary)
	assert.Nil(t, got.CompletedAt)
}

func TestSQLite_GetJob_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)
	got, err := st.GetJob(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLite_UpdateJob_RecordsEvents(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.CreateJob(ctx, &model.Job{ID: "job-1", OrganizationID: "org", ProfileIDs: []int64{1}, URLs: []string{"u"}})
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, st.UpdateJob(ctx, "job-1", &model.JobUpdate{State: model.JobStatePending, Attempt: 1, UpdatedAt: now}))
	require.NoError(t, st.UpdateJob(ctx, "job-1", &model.JobUpdate{State: model.JobStateScraping, Attempt: 1, SnapshotID: "s_1", UpdatedAt: now}))

	done := now.Add(time.Second)
	require.NoError(t, st.UpdateJob(ctx, "job-1", &model.JobUpdate{
		State:       model.JobStateCompleted,
		Attempt:     1,
		SnapshotID:  "s_1",
		Summary:     &model.JobSummary{Requested: 1, Delivered: 1, Enriched: 1},
		UpdatedAt:   done,
		CompletedAt: &done,
	}))

	got, err := st.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobStateCompleted, got.State)
	assert.Equal(t, "s_1", got.SnapshotID)
	require.NotNil(t, got.Summary)
	assert.Equal(t, "1 of 1 enriched", got.Summary.String())
	require.NotNil(t, got.CompletedAt)

	events, err := st.ListJobEvents(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, model.JobStatePending, events[0].State)
	assert.Equal(t, model.JobStateScraping, events[1].State)
	assert.Equal(t, "s_1", events[1].SnapshotID)
	assert.Equal(t, model.JobStateCompleted, events[2].State)
}

func TestSQLite_UpdateJob_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	err := st.UpdateJob(context.Background(), "ghost", &model.JobUpdate{State: model.JobStateFailed, UpdatedAt: time.Now().UTC()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_FindJobBySnapshot(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.CreateJob(ctx, &model.Job{ID: "job-1", OrganizationID: "org", ProfileIDs: []int64{1}, URLs: []string{"u"}})
	require.NoError(t, err)
	require.NoError(t, st.UpdateJob(ctx, "job-1", &model.JobUpdate{State: model.JobStateScraping, Attempt: 1, SnapshotID: "s_abc", UpdatedAt: time.Now().UTC()}))

	got, err := st.FindJobBySnapshot(ctx, "s_abc")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "job-1", got.ID)

	got, err = st.FindJobBySnapshot(ctx, "s_unknown")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLite_ListJobs_Filters(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	for i, org := range []string{"a", "a", "b"} {
		_, err := st.CreateJob(ctx, &model.Job{
			ID:             "job-" + string(rune('1'+i)),
			OrganizationID: org,
			ProfileIDs:     []int64{int64(i)},
			URLs:           []string{"u"},
		})
		require.NoError(t, err)
	}
	require.NoError(t, st.UpdateJob(ctx, "job-1", &model.JobUpdate{State: model.JobStateFailed, Attempt: 1, UpdatedAt: time.Now().UTC()}))

	all, err := st.ListJobs(ctx, JobFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	orgA, err := st.ListJobs(ctx, JobFilter{OrganizationID: "a"})
	require.NoError(t, err)
	assert.Len(t, orgA, 2)

	failed, err := st.ListJobs(ctx, JobFilter{State: model.JobStateFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "job-1", failed[0].ID)

	limited, err := st.ListJobs(ctx, JobFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	future, err := st.ListJobs(ctx, JobFilter{CreatedAfter: time.Now().UTC().Add(time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, future)
}

// --- Profiles ---

func TestSQLite_UpsertProfile_SameKeySameID(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	p := &model.Profile{OrganizationID: "org", URL: "https://example.com/in/jane", Handle: "jane", DisplayName: "Jane"}
	require.NoError(t, st.UpsertProfile(ctx, p))
	require.NotZero(t, p.ID)

	again := &model.Profile{OrganizationID: "org", URL: "https://example.com/in/jane", Handle: "jane", DisplayName: "Jane D."}
	require.NoError(t, st.UpsertProfile(ctx, again))
	assert.Equal(t, p.ID, again.ID)

	got, err := st.GetProfile(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Jane D.", got.DisplayName)

	missing, err := st.GetProfile(ctx, 9999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLite_FindProfilesByHandle_CaseInsensitiveAcrossOrgs(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	a := &model.Profile{OrganizationID: "org-a", URL: "https://example.com/in/jane-doe-123", Handle: "jane-doe-123"}
	b := &model.Profile{OrganizationID: "org-b", URL: "https://www.example.com/in/Jane-Doe-123/", Handle: "Jane-Doe-123"}
	c := &model.Profile{OrganizationID: "org-a", URL: "https://example.com/in/someone-else", Handle: "someone-else"}
	for _, p := range []*model.Profile{a, b, c} {
		require.NoError(t, st.UpsertProfile(ctx, p))
	}

	got, err := st.FindProfilesByHandle(ctx, "jane-doe-123")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, a.ID, got[0].ID)
	assert.Equal(t, b.ID, got[1].ID)

	none, err := st.FindProfilesByHandle(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

// --- Enrichment ---

func TestSQLite_UpsertEnrichment_LastWriteWins(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	first := &model.Enrichment{
		ProfileID:   7,
		Handle:      "jane",
		Connections: intPtr(500),
		Skills:      []string{"go", "sql"},
		Experience:  []model.Experience{{Title: "Engineer", Company: "Acme"}},
		Raw:         json.RawMessage(`{"name":"Jane","connections":500}`),
		SnapshotID:  "s_1",
	}
	require.NoError(t, st.UpsertEnrichment(ctx, first))
	require.NoError(t, st.UpsertEnrichment(ctx, first), "replaying the same write is safe")

	second := &model.Enrichment{
		ProfileID:  7,
		Handle:     "jane",
		About:      "updated",
		Raw:        json.RawMessage(`{"name":"Jane","about":"updated"}`),
		SnapshotID: "s_2",
	}
	require.NoError(t, st.UpsertEnrichment(ctx, second))

	got, err := st.GetEnrichment(ctx, 7)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "updated", got.About)
	assert.Nil(t, got.Connections, "columns are replaced, not merged")
	assert.Empty(t, got.Skills)
	assert.Equal(t, "s_2", got.SnapshotID)
	assert.JSONEq(t, `{"name":"Jane","about":"updated"}`, string(got.Raw))

	var count int
	require.NoError(t, st.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM enrichments WHERE profile_id = 7`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestSQLite_GetEnrichment_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)
	got, err := st.GetEnrichment(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, got)
}

// --- Rubrics and qualifications ---

func TestSQLite_Rubrics(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	r := &model.Rubric{
		OrganizationID: "org",
		Name:           "Senior engineers",
		Criteria: model.RubricCriteria{
			MinConnections: intPtr(300),
			RequiredSkills: []string{"go"},
		},
	}
	require.NoError(t, st.SaveRubric(ctx, r))
	require.NotZero(t, r.ID)

	fixed := &model.Rubric{ID: 100, OrganizationID: "org", Name: "Imported"}
	require.NoError(t, st.SaveRubric(ctx, fixed))
	fixed.Name = "Imported v2"
	require.NoError(t, st.SaveRubric(ctx, fixed))

	got, err := st.GetRubric(ctx, r.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 300, *got.Criteria.MinConnections)
	assert.Equal(t, []string{"go"}, got.Criteria.RequiredSkills)

	list, err := st.ListRubrics(ctx, "org")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Imported v2", list[1].Name)

	other, err := st.ListRubrics(ctx, "other-org")
	require.NoError(t, err)
	assert.Empty(t, other)

	missing, err := st.GetRubric(ctx, 12345)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLite_UpsertQualification(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.UpsertQualification(ctx, &model.QualificationResult{ProfileID: 1, RubricID: 2, Score: 40, Reasoning: "thin", Passed: false}))
	require.NoError(t, st.UpsertQualification(ctx, &model.QualificationResult{ProfileID: 1, RubricID: 2, Score: 85, Reasoning: "strong", Passed: true}))
	require.NoError(t, st.UpsertQualification(ctx, &model.QualificationResult{ProfileID: 1, RubricID: 3, Score: 70, Reasoning: "ok", Passed: true}))

	got, err := st.ListQualifications(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(2), got[0].RubricID)
	assert.Equal(t, 85, got[0].Score)
	assert.True(t, got[0].Passed)
	assert.Equal(t, "strong", got[0].Reasoning)
}

// --- Dead letter queue ---

func TestSQLite_DLQ(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.EnqueueDLQ(ctx, resilience.DLQEntry{
		ID:          "dlq-1",
		JobID:       "job-1",
		Payload:     json.RawMessage(`{"job_id":"job-1"}`),
		Error:       "poller: timed out",
		ErrorType:   resilience.ErrorTypeTransient,
		ErrorKind:   "timeout",
		Attempts:    3,
		MaxAttempts: 3,
	}))
	require.NoError(t, st.EnqueueDLQ(ctx, resilience.DLQEntry{
		JobID:     "job-2",
		Error:     "brightdata: 401",
		ErrorType: resilience.ErrorTypePermanent,
	}))

	n, err := st.CountDLQ(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	transient, err := st.ListDLQ(ctx, resilience.DLQFilter{ErrorType: resilience.ErrorTypeTransient})
	require.NoError(t, err)
	require.Len(t, transient, 1)
	assert.Equal(t, "job-1", transient[0].JobID)
	assert.Equal(t, "timeout", transient[0].ErrorKind)
	assert.JSONEq(t, `{"job_id":"job-1"}`, string(transient[0].Payload))

	got, err := st.GetDLQ(ctx, "dlq-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 3, got.Attempts)

	require.NoError(t, st.RemoveDLQ(ctx, "dlq-1"))
	got, err = st.GetDLQ(ctx, "dlq-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	n, err = st.CountDLQ(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLite_Ping(t *testing.T) {
	st := newTestSQLiteStore(t)
	assert.NoError(t, st.Ping(context.Background()))
}
