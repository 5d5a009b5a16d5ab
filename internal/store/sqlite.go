package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/lead-enricher/internal/db"
	"github.com/sells-group/lead-enricher/internal/model"
	"github.com/sells-group/lead-enricher/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Pragmas are per connection; one connection serializes writers.
	sqlDB.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: sqlDB}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id               TEXT PRIMARY KEY,
	organization_id  TEXT NOT NULL,
	profile_ids      TEXT NOT NULL,
	urls             TEXT NOT NULL,
	qualification_id INTEGER,
	state            TEXT NOT NULL DEFAULT 'pending',
	attempt          INTEGER NOT NULL DEFAULT 0,
	snapshot_id      TEXT,
	error            TEXT,
	error_kind       TEXT,
	summary          TEXT,
	created_at       DATETIME NOT NULL,
	updated_at       DATETIME NOT NULL,
	completed_at     DATETIME
);

CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state);
CREATE INDEX IF NOT EXISTS idx_jobs_snapshot ON jobs(snapshot_id);

CREATE TABLE IF NOT EXISTS job_events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id      TEXT NOT NULL REFERENCES jobs(id),
	attempt     INTEGER NOT NULL,
	state       TEXT NOT NULL,
	snapshot_id TEXT,
	error       TEXT,
	at          DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_job_events_job ON job_events(job_id, id);

CREATE TABLE IF NOT EXISTS profiles (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	organization_id TEXT NOT NULL,
	url             TEXT NOT NULL,
	handle          TEXT,
	display_name    TEXT,
	raw_attributes  TEXT,
	created_at      DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL,
	UNIQUE (organization_id, url)
);

CREATE INDEX IF NOT EXISTS idx_profiles_handle ON profiles(lower(handle));

CREATE TABLE IF NOT EXISTS enrichments (
	profile_id  INTEGER PRIMARY KEY,
	handle      TEXT,
	data        TEXT NOT NULL,
	raw         TEXT NOT NULL,
	snapshot_id TEXT,
	enriched_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS rubrics (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	organization_id TEXT NOT NULL,
	name            TEXT NOT NULL,
	description     TEXT,
	criteria        TEXT NOT NULL,
	created_at      DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rubrics_org ON rubrics(organization_id);

CREATE TABLE IF NOT EXISTS qualification_results (
	profile_id   INTEGER NOT NULL,
	rubric_id    INTEGER NOT NULL,
	score        INTEGER NOT NULL,
	reasoning    TEXT NOT NULL,
	passed       INTEGER NOT NULL,
	evaluated_at DATETIME NOT NULL,
	PRIMARY KEY (profile_id, rubric_id)
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY,
	job_id         TEXT NOT NULL,
	payload        TEXT NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'permanent',
	error_kind     TEXT,
	attempts       INTEGER NOT NULL DEFAULT 0,
	max_attempts   INTEGER NOT NULL DEFAULT 3,
	created_at     DATETIME NOT NULL,
	last_failed_at DATETIME NOT NULL
);
`

var (
	liteUpsertProfile = db.MustBuildUpsert(db.UpsertConfig{
		Table:        "profiles",
		Columns:      []string{"organization_id", "url", "handle", "display_name", "raw_attributes", "created_at", "updated_at"},
		ConflictKeys: []string{"organization_id", "url"},
		UpdateCols:   []string{"handle", "display_name", "raw_attributes", "updated_at"},
		Returning:    []string{"id"},
	}, db.Question)

	liteUpsertEnrichment = db.MustBuildUpsert(db.UpsertConfig{
		Table:        "enrichments",
		Columns:      []string{"profile_id", "handle", "data", "raw", "snapshot_id", "enriched_at"},
		ConflictKeys: []string{"profile_id"},
	}, db.Question)

	liteUpsertRubric = db.MustBuildUpsert(db.UpsertConfig{
		Table:        "rubrics",
		Columns:      []string{"id", "organization_id", "name", "description", "criteria", "created_at", "updated_at"},
		ConflictKeys: []string{"id"},
		UpdateCols:   []string{"organization_id", "name", "description", "criteria", "updated_at"},
	}, db.Question)

	liteUpsertQualification = db.MustBuildUpsert(db.UpsertConfig{
		Table:        "qualification_results",
		Columns:      []string{"profile_id", "rubric_id", "score", "reasoning", "passed", "evaluated_at"},
		ConflictKeys: []string{"profile_id", "rubric_id"},
	}, db.Question)

	liteUpsertDLQ = db.MustBuildUpsert(db.UpsertConfig{
		Table:        "dead_letter_queue",
		Columns:      []string{"id", "job_id", "payload", "error", "error_type", "error_kind", "attempts", "max_attempts", "created_at", "last_failed_at"},
		ConflictKeys: []string{"id"},
		UpdateCols:   []string{"error", "error_type", "error_kind", "attempts", "last_failed_at"},
	}, db.Question)
)

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scannable interface {
	Scan(dest ...any) error
}

// --- Jobs ---

func (s *SQLiteStore) CreateJob(ctx context.Context, job *model.Job) (bool, error) {
	cols, err := encodeJob(job)
	if err != nil {
		return false, err
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}
	if job.State == "" {
		job.State = model.JobStatePending
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, organization_id, profile_ids, urls, qualification_id, state, attempt, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		job.ID, job.OrganizationID, string(cols.profileIDs), string(cols.urls), job.QualificationID,
		string(job.State), job.Attempt, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert job %s", job.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

const liteJobSelect = `SELECT id, organization_id, profile_ids, urls, qualification_id, state, attempt,
	snapshot_id, error, error_kind, summary, created_at, updated_at, completed_at FROM jobs`

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	j, err := scanLiteJob(s.db.QueryRowContext(ctx, liteJobSelect+` WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get job %s", id)
	}
	return j, nil
}

func (s *SQLiteStore) FindJobBySnapshot(ctx context.Context, snapshotID string) (*model.Job, error) {
	j, err := scanLiteJob(s.db.QueryRowContext(ctx,
		liteJobSelect+` WHERE snapshot_id = ? ORDER BY updated_at DESC LIMIT 1`, snapshotID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: find job by snapshot %s", snapshotID)
	}
	return j, nil
}

func (s *SQLiteStore) UpdateJob(ctx context.Context, id string, u *model.JobUpdate) error {
	summary, err := encodeSummary(u.Summary)
	if err != nil {
		return err
	}
	var summaryText *string
	if summary != nil {
		str := string(summary)
		summaryText = &str
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`UPDATE jobs SET state = ?, attempt = ?, snapshot_id = ?, error = ?, error_kind = ?,
		 summary = ?, updated_at = ?, completed_at = ? WHERE id = ?`,
		string(u.State), u.Attempt, nullIfEmpty(u.SnapshotID), nullIfEmpty(u.Error),
		nullIfEmpty(u.ErrorKind), summaryText, u.UpdatedAt, u.CompletedAt, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job %s", id)
	}
	if err := checkRowsAffected(res, "job", id); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO job_events (job_id, attempt, state, snapshot_id, error, at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, u.Attempt, string(u.State), nullIfEmpty(u.SnapshotID), nullIfEmpty(u.Error), u.UpdatedAt,
	); err != nil {
		return eris.Wrapf(err, "sqlite: insert job event %s", id)
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit job update")
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := liteJobSelect + ` WHERE 1=1`
	var args []any

	if filter.State != "" {
		query += ` AND state = ?`
		args = append(args, string(filter.State))
	}
	if filter.OrganizationID != "" {
		query += ` AND organization_id = ?`
		args = append(args, filter.OrganizationID)
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.CreatedAfter.UTC())
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close() //nolint:errcheck

	var jobs []model.Job
	for rows.Next() {
		j, err := scanLiteJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job")
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

func (s *SQLiteStore) ListJobEvents(ctx context.Context, id string) ([]model.JobEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, attempt, state, snapshot_id, error, at FROM job_events WHERE job_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list job events %s", id)
	}
	defer rows.Close() //nolint:errcheck

	var events []model.JobEvent
	for rows.Next() {
		var e model.JobEvent
		var state string
		var snapshot, msg *string
		if err := rows.Scan(&e.JobID, &e.Attempt, &state, &snapshot, &msg, &e.At); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan job event")
		}
		e.State = model.JobState(state)
		e.SnapshotID = deref(snapshot)
		e.Error = deref(msg)
		events = append(events, e)
	}
	return events, eris.Wrap(rows.Err(), "sqlite: list job events iterate")
}

func scanLiteJob(row scannable) (*model.Job, error) {
	var j model.Job
	var state, profileIDs, urls string
	var snapshot, msg, kind, summary *string
	if err := row.Scan(&j.ID, &j.OrganizationID, &profileIDs, &urls, &j.QualificationID,
		&state, &j.Attempt, &snapshot, &msg, &kind, &summary,
		&j.CreatedAt, &j.UpdatedAt, &j.CompletedAt); err != nil {
		return nil, err
	}
	j.State = model.JobState(state)
	j.SnapshotID = deref(snapshot)
	j.Error = deref(msg)
	j.ErrorKind = deref(kind)

	cols := jobColumns{profileIDs: []byte(profileIDs), urls: []byte(urls)}
	if summary != nil {
		cols.summary = []byte(*summary)
	}
	if err := decodeJob(&j, cols); err != nil {
		return nil, err
	}
	return &j, nil
}

// --- Profiles ---

func (s *SQLiteStore) UpsertProfile(ctx context.Context, p *model.Profile) error {
	now := time.Now().UTC()
	var attrs *string
	if len(p.RawAttributes) > 0 {
		str := string(p.RawAttributes)
		attrs = &str
	}
	err := s.db.QueryRowContext(ctx, liteUpsertProfile,
		p.OrganizationID, p.URL, nullIfEmpty(p.Handle), nullIfEmpty(p.DisplayName), attrs, now, now,
	).Scan(&p.ID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: upsert profile %s", p.URL)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	return nil
}

const liteProfileSelect = `SELECT id, organization_id, url, handle, display_name, raw_attributes, created_at, updated_at FROM profiles`

func (s *SQLiteStore) GetProfile(ctx context.Context, id int64) (*model.Profile, error) {
	p, err := scanLiteProfile(s.db.QueryRowContext(ctx, liteProfileSelect+` WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get profile %d", id)
	}
	return p, nil
}

func (s *SQLiteStore) FindProfilesByHandle(ctx context.Context, handle string) ([]model.Profile, error) {
	rows, err := s.db.QueryContext(ctx, liteProfileSelect+` WHERE lower(handle) = lower(?) ORDER BY id`, handle)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: find profiles by handle %s", handle)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Profile
	for rows.Next() {
		p, err := scanLiteProfile(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan profile")
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: find profiles iterate")
}

func scanLiteProfile(row scannable) (*model.Profile, error) {
	var p model.Profile
	var handle, name, attrs *string
	if err := row.Scan(&p.ID, &p.OrganizationID, &p.URL, &handle, &name, &attrs, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Handle = deref(handle)
	p.DisplayName = deref(name)
	if attrs != nil {
		p.RawAttributes = json.RawMessage(*attrs)
	}
	return &p, nil
}

// --- Enrichment ---

func (s *SQLiteStore) UpsertEnrichment(ctx context.Context, e *model.Enrichment) error {
	data, raw, err := encodeEnrichment(e)
	if err != nil {
		return err
	}
	if e.EnrichedAt.IsZero() {
		e.EnrichedAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, liteUpsertEnrichment,
		e.ProfileID, nullIfEmpty(e.Handle), string(data), string(raw), nullIfEmpty(e.SnapshotID), e.EnrichedAt,
	)
	return eris.Wrapf(err, "sqlite: upsert enrichment %d", e.ProfileID)
}

func (s *SQLiteStore) GetEnrichment(ctx context.Context, profileID int64) (*model.Enrichment, error) {
	var e model.Enrichment
	var handle, snapshot *string
	var data, raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT profile_id, handle, data, raw, snapshot_id, enriched_at FROM enrichments WHERE profile_id = ?`,
		profileID,
	).Scan(&e.ProfileID, &handle, &data, &raw, &snapshot, &e.EnrichedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get enrichment %d", profileID)
	}
	e.Handle = deref(handle)
	e.SnapshotID = deref(snapshot)
	if err := decodeEnrichment(&e, []byte(data), []byte(raw)); err != nil {
		return nil, err
	}
	return &e, nil
}

// --- Rubrics ---

func (s *SQLiteStore) SaveRubric(ctx context.Context, r *model.Rubric) error {
	criteria, err := json.Marshal(r.Criteria)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal criteria")
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	if r.ID == 0 {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO rubrics (organization_id, name, description, criteria, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
			r.OrganizationID, r.Name, r.Description, string(criteria), r.CreatedAt, r.UpdatedAt,
		)
		if err != nil {
			return eris.Wrap(err, "sqlite: insert rubric")
		}
		r.ID, err = res.LastInsertId()
		return eris.Wrap(err, "sqlite: rubric id")
	}

	_, err = s.db.ExecContext(ctx, liteUpsertRubric,
		r.ID, r.OrganizationID, r.Name, r.Description, string(criteria), r.CreatedAt, r.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: upsert rubric %d", r.ID)
}

const liteRubricSelect = `SELECT id, organization_id, name, description, criteria, created_at, updated_at FROM rubrics`

func (s *SQLiteStore) GetRubric(ctx context.Context, id int64) (*model.Rubric, error) {
	r, err := scanLiteRubric(s.db.QueryRowContext(ctx, liteRubricSelect+` WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get rubric %d", id)
	}
	return r, nil
}

func (s *SQLiteStore) ListRubrics(ctx context.Context, organizationID string) ([]model.Rubric, error) {
	rows, err := s.db.QueryContext(ctx, liteRubricSelect+` WHERE organization_id = ? ORDER BY id`, organizationID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list rubrics %s", organizationID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Rubric
	for rows.Next() {
		r, err := scanLiteRubric(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan rubric")
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list rubrics iterate")
}

func scanLiteRubric(row scannable) (*model.Rubric, error) {
	var r model.Rubric
	var desc *string
	var criteria string
	if err := row.Scan(&r.ID, &r.OrganizationID, &r.Name, &desc, &criteria, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Description = deref(desc)
	if err := json.Unmarshal([]byte(criteria), &r.Criteria); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal criteria")
	}
	return &r, nil
}

// --- Qualification results ---

func (s *SQLiteStore) UpsertQualification(ctx context.Context, q *model.QualificationResult) error {
	if q.EvaluatedAt.IsZero() {
		q.EvaluatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, liteUpsertQualification,
		q.ProfileID, q.RubricID, q.Score, q.Reasoning, q.Passed, q.EvaluatedAt,
	)
	return eris.Wrapf(err, "sqlite: upsert qualification %d/%d", q.ProfileID, q.RubricID)
}

func (s *SQLiteStore) ListQualifications(ctx context.Context, profileID int64) ([]model.QualificationResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT profile_id, rubric_id, score, reasoning, passed, evaluated_at
		 FROM qualification_results WHERE profile_id = ? ORDER BY rubric_id`, profileID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list qualifications %d", profileID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.QualificationResult
	for rows.Next() {
		var q model.QualificationResult
		if err := rows.Scan(&q.ProfileID, &q.RubricID, &q.Score, &q.Reasoning, &q.Passed, &q.EvaluatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan qualification")
		}
		out = append(out, q)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list qualifications iterate")
}

// --- Dead letter queue ---

func (s *SQLiteStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.LastFailedAt.IsZero() {
		entry.LastFailedAt = now
	}
	payload := string(entry.Payload)
	if payload == "" {
		payload = "{}"
	}

	_, err := s.db.ExecContext(ctx, liteUpsertDLQ,
		entry.ID, entry.JobID, payload, entry.Error, entry.ErrorType, nullIfEmpty(entry.ErrorKind),
		entry.Attempts, entry.MaxAttempts, entry.CreatedAt, entry.LastFailedAt,
	)
	return eris.Wrap(err, "sqlite: enqueue dlq")
}

const liteDLQSelect = `SELECT id, job_id, payload, error, error_type, error_kind, attempts, max_attempts, created_at, last_failed_at FROM dead_letter_queue`

func (s *SQLiteStore) ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := liteDLQSelect
	var args []any
	if filter.ErrorType != "" {
		query += ` WHERE error_type = ?`
		args = append(args, filter.ErrorType)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` ORDER BY last_failed_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list dlq")
	}
	defer rows.Close() //nolint:errcheck

	var entries []resilience.DLQEntry
	for rows.Next() {
		e, err := scanLiteDLQ(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dlq entry")
		}
		entries = append(entries, *e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list dlq iterate")
}

func (s *SQLiteStore) GetDLQ(ctx context.Context, id string) (*resilience.DLQEntry, error) {
	e, err := scanLiteDLQ(s.db.QueryRowContext(ctx, liteDLQSelect+` WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get dlq %s", id)
	}
	return e, nil
}

func scanLiteDLQ(row scannable) (*resilience.DLQEntry, error) {
	var e resilience.DLQEntry
	var payload string
	var kind *string
	if err := row.Scan(&e.ID, &e.JobID, &payload, &e.Error, &e.ErrorType, &kind,
		&e.Attempts, &e.MaxAttempts, &e.CreatedAt, &e.LastFailedAt); err != nil {
		return nil, err
	}
	e.Payload = json.RawMessage(payload)
	e.ErrorKind = deref(kind)
	return &e, nil
}

func (s *SQLiteStore) RemoveDLQ(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dead_letter_queue WHERE id = ?`, id)
	return eris.Wrap(err, "sqlite: remove dlq")
}

func (s *SQLiteStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count dlq")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrapf(err, "sqlite: rows affected for %s %s", entity, id)
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: %s %s", entity, id)
	}
	return nil
}
