package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-enricher/internal/model"
	"github.com/sells-group/lead-enricher/internal/resilience"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

var jobCols = []string{"id", "organization_id", "profile_ids", "urls", "qualification_id", "state", "attempt",
	"snapshot_id", "error", "error_kind", "summary", "created_at", "updated_at", "completed_at"}

func TestPostgresStore_CreateJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`(?s)INSERT INTO jobs .* ON CONFLICT \(id\) DO NOTHING`).
		WithArgs("job-1", "org-1", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			"pending", 0, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO jobs`).
		WithArgs("job-1", "org-1", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			"pending", 0, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	job := &model.Job{ID: "job-1", OrganizationID: "org-1", ProfileIDs: []int64{1}, URLs: []string{"u"}}
	created, err := s.CreateJob(context.Background(), job)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.CreateJob(context.Background(), job)
	require.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetJob(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	snapshot := "s_1"
	rubric := int64(4)

	mock.ExpectQuery(`(?s)SELECT id, organization_id, profile_ids, .* FROM jobs WHERE id = \$1`).
		WithArgs("job-1").
		WillReturnRows(pgxmock.NewRows(jobCols).AddRow(
			"job-1", "org-1", []byte(`[1,2]`), []byte(`["a","b"]`), &rubric, "enriching", 1,
			&snapshot, nil, nil, []byte(`{"requested":2,"enriched":1}`), now, now, nil,
		))

	got, err := s.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.JobStateEnriching, got.State)
	assert.Equal(t, []int64{1, 2}, got.ProfileIDs)
	assert.Equal(t, "s_1", got.SnapshotID)
	assert.Empty(t, got.Error)
	require.NotNil(t, got.Summary)
	assert.Equal(t, 2, got.Summary.Requested)
	require.NotNil(t, got.QualificationID)
	assert.Equal(t, int64(4), *got.QualificationID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetJob_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM jobs WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	got, err := s.GetJob(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetJob_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM jobs WHERE id = \$1`).
		WithArgs("job-1").
		WillReturnError(errors.New("connection refused"))

	_, err := s.GetJob(context.Background(), "job-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get job")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateJob_WritesEventInTx(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE jobs SET state = \$1`).
		WithArgs("scraping", 1, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), now, pgxmock.AnyArg(), "job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`INSERT INTO job_events`).
		WithArgs("job-1", 1, "scraping", pgxmock.AnyArg(), pgxmock.AnyArg(), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := s.UpdateJob(context.Background(), "job-1", &model.JobUpdate{
		State: model.JobStateScraping, Attempt: 1, SnapshotID: "s_1", UpdatedAt: now,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateJob_NotFoundRollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE jobs SET state = \$1`).
		WithArgs("failed", 0, pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "ghost").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := s.UpdateJob(context.Background(), "ghost", &model.JobUpdate{State: model.JobStateFailed, UpdatedAt: time.Now().UTC()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertEnrichment(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO "enrichments" .* ON CONFLICT \("profile_id"\) DO UPDATE SET "handle" = EXCLUDED."handle"`).
		WithArgs(int64(7), pgxmock.AnyArg(), pgxmock.AnyArg(), []byte(`{"name":"Jane"}`), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.UpsertEnrichment(context.Background(), &model.Enrichment{
		ProfileID: 7,
		Handle:    "jane",
		Raw:       json.RawMessage(`{"name":"Jane"}`),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetEnrichment_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM enrichments WHERE profile_id = \$1`).
		WithArgs(int64(7)).
		WillReturnError(pgx.ErrNoRows)

	got, err := s.GetEnrichment(context.Background(), 7)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertProfile_ReturnsID(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	created := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`INSERT INTO "profiles" .* ON CONFLICT \("organization_id", "url"\) .* RETURNING "id", "created_at"`).
		WithArgs("org", "https://example.com/in/jane", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at"}).AddRow(int64(42), created))

	p := &model.Profile{OrganizationID: "org", URL: "https://example.com/in/jane", Handle: "jane"}
	require.NoError(t, s.UpsertProfile(context.Background(), p))
	assert.Equal(t, int64(42), p.ID)
	assert.Equal(t, created, p.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FindProfilesByHandle(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()
	handle := "jane-doe-123"

	mock.ExpectQuery(`FROM profiles WHERE lower\(handle\) = lower\(\$1\)`).
		WithArgs("jane-doe-123").
		WillReturnRows(pgxmock.NewRows([]string{"id", "organization_id", "url", "handle", "display_name", "raw_attributes", "created_at", "updated_at"}).
			AddRow(int64(1), "org-a", "https://example.com/in/jane-doe-123", &handle, nil, nil, now, now).
			AddRow(int64(2), "org-b", "https://example.com/in/Jane-Doe-123", &handle, nil, nil, now, now))

	got, err := s.FindProfilesByHandle(context.Background(), "jane-doe-123")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "org-b", got[1].OrganizationID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertQualification(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO "qualification_results" .* ON CONFLICT \("profile_id", "rubric_id"\)`).
		WithArgs(int64(1), int64(2), 85, "strong", true, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.UpsertQualification(context.Background(), &model.QualificationResult{
		ProfileID: 1, RubricID: 2, Score: 85, Reasoning: "strong", Passed: true,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRubrics(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`FROM rubrics WHERE organization_id = \$1`).
		WithArgs("org").
		WillReturnRows(pgxmock.NewRows([]string{"id", "organization_id", "name", "description", "criteria", "created_at", "updated_at"}).
			AddRow(int64(1), "org", "Execs", nil, []byte(`{"required_titles":["CEO"]}`), now, now))

	got, err := s.ListRubrics(context.Background(), "org")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"CEO"}, got[0].Criteria.RequiredTitles)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_EnqueueDLQ_GeneratesID(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO "dead_letter_queue"`).
		WithArgs(pgxmock.AnyArg(), "job-1", []byte(`{"job_id":"job-1"}`), "boom", "permanent",
			pgxmock.AnyArg(), 1, 3, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.EnqueueDLQ(context.Background(), resilience.DLQEntry{
		JobID:       "job-1",
		Payload:     json.RawMessage(`{"job_id":"job-1"}`),
		Error:       "boom",
		ErrorType:   resilience.ErrorTypePermanent,
		Attempts:    1,
		MaxAttempts: 3,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CountDLQ(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM dead_letter_queue`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(5))

	n, err := s.CountDLQ(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS jobs`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
