package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-enricher/internal/db"
	"github.com/sells-group/lead-enricher/internal/model"
	"github.com/sells-group/lead-enricher/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id               TEXT PRIMARY KEY,
	organization_id  TEXT NOT NULL,
	profile_ids      JSONB NOT NULL,
	urls             JSONB NOT NULL,
	qualification_id BIGINT,
	state            TEXT NOT NULL DEFAULT 'pending',
	attempt          INTEGER NOT NULL DEFAULT 0,
	snapshot_id      TEXT,
	error            TEXT,
	error_kind       TEXT,
	summary          JSONB,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at     TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state);
CREATE INDEX IF NOT EXISTS idx_jobs_snapshot ON jobs(snapshot_id);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at DESC);

CREATE TABLE IF NOT EXISTS job_events (
	id          BIGSERIAL PRIMARY KEY,
	job_id      TEXT NOT NULL REFERENCES jobs(id),
	attempt     INTEGER NOT NULL,
	state       TEXT NOT NULL,
	snapshot_id TEXT,
	error       TEXT,
	at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_job_events_job ON job_events(job_id, id);

CREATE TABLE IF NOT EXISTS profiles (
	id              BIGSERIAL PRIMARY KEY,
	organization_id TEXT NOT NULL,
	url             TEXT NOT NULL,
	handle          TEXT,
	display_name    TEXT,
	raw_attributes  JSONB,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (organization_id, url)
);

CREATE INDEX IF NOT EXISTS idx_profiles_handle ON profiles(lower(handle));

CREATE TABLE IF NOT EXISTS enrichments (
	profile_id  BIGINT PRIMARY KEY,
	handle      TEXT,
	data        JSONB NOT NULL,
	raw         JSONB NOT NULL,
	snapshot_id TEXT,
	enriched_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS rubrics (
	id              BIGSERIAL PRIMARY KEY,
	organization_id TEXT NOT NULL,
	name            TEXT NOT NULL,
	description     TEXT,
	criteria        JSONB NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_rubrics_org ON rubrics(organization_id);

CREATE TABLE IF NOT EXISTS qualification_results (
	profile_id   BIGINT NOT NULL,
	rubric_id    BIGINT NOT NULL,
	score        INTEGER NOT NULL,
	reasoning    TEXT NOT NULL,
	passed       BOOLEAN NOT NULL,
	evaluated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (profile_id, rubric_id)
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY,
	job_id         TEXT NOT NULL,
	payload        JSONB NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'permanent',
	error_kind     TEXT,
	attempts       INTEGER NOT NULL DEFAULT 0,
	max_attempts   INTEGER NOT NULL DEFAULT 3,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_failed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_dlq_error_type ON dead_letter_queue(error_type);
`

var (
	pgUpsertProfile = db.MustBuildUpsert(db.UpsertConfig{
		Table:        "profiles",
		Columns:      []string{"organization_id", "url", "handle", "display_name", "raw_attributes", "created_at", "updated_at"},
		ConflictKeys: []string{"organization_id", "url"},
		UpdateCols:   []string{"handle", "display_name", "raw_attributes", "updated_at"},
		Returning:    []string{"id", "created_at"},
	}, db.Dollar)

	pgUpsertEnrichment = db.MustBuildUpsert(db.UpsertConfig{
		Table:        "enrichments",
		Columns:      []string{"profile_id", "handle", "data", "raw", "snapshot_id", "enriched_at"},
		ConflictKeys: []string{"profile_id"},
	}, db.Dollar)

	pgUpsertRubric = db.MustBuildUpsert(db.UpsertConfig{
		Table:        "rubrics",
		Columns:      []string{"id", "organization_id", "name", "description", "criteria", "created_at", "updated_at"},
		ConflictKeys: []string{"id"},
		UpdateCols:   []string{"organization_id", "name", "description", "criteria", "updated_at"},
	}, db.Dollar)

	pgUpsertQualification = db.MustBuildUpsert(db.UpsertConfig{
		Table:        "qualification_results",
		Columns:      []string{"profile_id", "rubric_id", "score", "reasoning", "passed", "evaluated_at"},
		ConflictKeys: []string{"profile_id", "rubric_id"},
	}, db.Dollar)

	pgUpsertDLQ = db.MustBuildUpsert(db.UpsertConfig{
		Table:        "dead_letter_queue",
		Columns:      []string{"id", "job_id", "payload", "error", "error_type", "error_kind", "attempts", "max_attempts", "created_at", "last_failed_at"},
		ConflictKeys: []string{"id"},
		UpdateCols:   []string{"error", "error_type", "error_kind", "attempts", "last_failed_at"},
	}, db.Dollar)
)

const jobSelect = `SELECT id, organization_id, profile_ids, urls, qualification_id, state, attempt,
	snapshot_id, error, error_kind, summary, created_at, updated_at, completed_at FROM jobs`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Jobs ---

func (s *PostgresStore) CreateJob(ctx context.Context, job *model.Job) (bool, error) {
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

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, organization_id, profile_ids, urls, qualification_id, state, attempt, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO NOTHING`,
		job.ID, job.OrganizationID, cols.profileIDs, cols.urls, job.QualificationID,
		string(job.State), job.Attempt, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: insert job %s", job.ID)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	job, err := scanPgJob(s.pool.QueryRow(ctx, jobSelect+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get job %s", id)
	}
	return job, nil
}

func (s *PostgresStore) FindJobBySnapshot(ctx context.Context, snapshotID string) (*model.Job, error) {
	job, err := scanPgJob(s.pool.QueryRow(ctx,
		jobSelect+` WHERE snapshot_id = $1 ORDER BY updated_at DESC LIMIT 1`, snapshotID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: find job by snapshot %s", snapshotID)
	}
	return job, nil
}

func (s *PostgresStore) UpdateJob(ctx context.Context, id string, u *model.JobUpdate) error {
	summary, err := encodeSummary(u.Summary)
	if err != nil {
		return err
	}

	err = db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE jobs SET state = $1, attempt = $2, snapshot_id = $3, error = $4, error_kind = $5,
			 summary = $6, updated_at = $7, completed_at = $8 WHERE id = $9`,
			string(u.State), u.Attempt, nullIfEmpty(u.SnapshotID), nullIfEmpty(u.Error),
			nullIfEmpty(u.ErrorKind), summary, u.UpdatedAt, u.CompletedAt, id,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: update job %s", id)
		}
		if tag.RowsAffected() == 0 {
			return eris.Wrapf(ErrNotFound, "postgres: job %s", id)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO job_events (job_id, attempt, state, snapshot_id, error, at) VALUES ($1, $2, $3, $4, $5, $6)`,
			id, u.Attempt, string(u.State), nullIfEmpty(u.SnapshotID), nullIfEmpty(u.Error), u.UpdatedAt,
		)
		return eris.Wrapf(err, "postgres: insert job event %s", id)
	})
	return err
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.Job, error) {
	query := jobSelect + ` WHERE true`
	args := []any{}
	argIdx := 1

	if filter.State != "" {
		query += fmt.Sprintf(` AND state = $%d`, argIdx)
		args = append(args, string(filter.State))
		argIdx++
	}
	if filter.OrganizationID != "" {
		query += fmt.Sprintf(` AND organization_id = $%d`, argIdx)
		args = append(args, filter.OrganizationID)
		argIdx++
	}
	if !filter.CreatedAfter.IsZero() {
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, filter.CreatedAfter)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanPgJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

func (s *PostgresStore) ListJobEvents(ctx context.Context, id string) ([]model.JobEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT job_id, attempt, state, snapshot_id, error, at FROM job_events WHERE job_id = $1 ORDER BY id`,
		id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list job events %s", id)
	}
	defer rows.Close()

	var events []model.JobEvent
	for rows.Next() {
		var e model.JobEvent
		var state string
		var snapshot, msg *string
		if err := rows.Scan(&e.JobID, &e.Attempt, &state, &snapshot, &msg, &e.At); err != nil {
			return nil, eris.Wrap(err, "postgres: scan job event")
		}
		e.State = model.JobState(state)
		e.SnapshotID = deref(snapshot)
		e.Error = deref(msg)
		events = append(events, e)
	}
	return events, eris.Wrap(rows.Err(), "postgres: list job events iterate")
}

func scanPgJob(row pgx.Row) (*model.Job, error) {
	var j model.Job
	var cols jobColumns
	var state string
	var snapshot, msg, kind *string
	if err := row.Scan(&j.ID, &j.OrganizationID, &cols.profileIDs, &cols.urls, &j.QualificationID,
		&state, &j.Attempt, &snapshot, &msg, &kind, &cols.summary,
		&j.CreatedAt, &j.UpdatedAt, &j.CompletedAt); err != nil {
		return nil, err
	}
	j.State = model.JobState(state)
	j.SnapshotID = deref(snapshot)
	j.Error = deref(msg)
	j.ErrorKind = deref(kind)
	if err := decodeJob(&j, cols); err != nil {
		return nil, err
	}
	return &j, nil
}

// --- Profiles ---

func (s *PostgresStore) UpsertProfile(ctx context.Context, p *model.Profile) error {
	now := time.Now().UTC()
	var attrs []byte
	if len(p.RawAttributes) > 0 {
		attrs = p.RawAttributes
	}
	err := s.pool.QueryRow(ctx, pgUpsertProfile,
		p.OrganizationID, p.URL, nullIfEmpty(p.Handle), nullIfEmpty(p.DisplayName), attrs, now, now,
	).Scan(&p.ID, &p.CreatedAt)
	if err != nil {
		return eris.Wrapf(err, "postgres: upsert profile %s", p.URL)
	}
	p.UpdatedAt = now
	return nil
}

const profileSelect = `SELECT id, organization_id, url, handle, display_name, raw_attributes, created_at, updated_at FROM profiles`

func (s *PostgresStore) GetProfile(ctx context.Context, id int64) (*model.Profile, error) {
	p, err := scanPgProfile(s.pool.QueryRow(ctx, profileSelect+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get profile %d", id)
	}
	return p, nil
}

func (s *PostgresStore) FindProfilesByHandle(ctx context.Context, handle string) ([]model.Profile, error) {
	rows, err := s.pool.Query(ctx, profileSelect+` WHERE lower(handle) = lower($1) ORDER BY id`, handle)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: find profiles by handle %s", handle)
	}
	defer rows.Close()

	var out []model.Profile
	for rows.Next() {
		p, err := scanPgProfile(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan profile")
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: find profiles iterate")
}

func scanPgProfile(row pgx.Row) (*model.Profile, error) {
	var p model.Profile
	var handle, name *string
	var attrs []byte
	if err := row.Scan(&p.ID, &p.OrganizationID, &p.URL, &handle, &name, &attrs, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Handle = deref(handle)
	p.DisplayName = deref(name)
	if len(attrs) > 0 {
		p.RawAttributes = json.RawMessage(attrs)
	}
	return &p, nil
}

// --- Enrichment ---

func (s *PostgresStore) UpsertEnrichment(ctx context.Context, e *model.Enrichment) error {
	data, raw, err := encodeEnrichment(e)
	if err != nil {
		return err
	}
	if e.EnrichedAt.IsZero() {
		e.EnrichedAt = time.Now().UTC()
	}
	_, err = s.pool.Exec(ctx, pgUpsertEnrichment,
		e.ProfileID, nullIfEmpty(e.Handle), data, raw, nullIfEmpty(e.SnapshotID), e.EnrichedAt,
	)
	return eris.Wrapf(err, "postgres: upsert enrichment %d", e.ProfileID)
}

func (s *PostgresStore) GetEnrichment(ctx context.Context, profileID int64) (*model.Enrichment, error) {
	var e model.Enrichment
	var handle, snapshot *string
	var data, raw []byte
	err := s.pool.QueryRow(ctx,
		`SELECT profile_id, handle, data, raw, snapshot_id, enriched_at FROM enrichments WHERE profile_id = $1`,
		profileID,
	).Scan(&e.ProfileID, &handle, &data, &raw, &snapshot, &e.EnrichedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get enrichment %d", profileID)
	}
	e.Handle = deref(handle)
	e.SnapshotID = deref(snapshot)
	if err := decodeEnrichment(&e, data, raw); err != nil {
		return nil, err
	}
	return &e, nil
}

// --- Rubrics ---

func (s *PostgresStore) SaveRubric(ctx context.Context, r *model.Rubric) error {
	criteria, err := json.Marshal(r.Criteria)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal criteria")
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	if r.ID == 0 {
		err = s.pool.QueryRow(ctx,
			`INSERT INTO rubrics (organization_id, name, description, criteria, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`,
			r.OrganizationID, r.Name, r.Description, criteria, r.CreatedAt, r.UpdatedAt,
		).Scan(&r.ID)
		return eris.Wrap(err, "postgres: insert rubric")
	}

	_, err = s.pool.Exec(ctx, pgUpsertRubric,
		r.ID, r.OrganizationID, r.Name, r.Description, criteria, r.CreatedAt, r.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: upsert rubric %d", r.ID)
}

const rubricSelect = `SELECT id, organization_id, name, description, criteria, created_at, updated_at FROM rubrics`

func (s *PostgresStore) GetRubric(ctx context.Context, id int64) (*model.Rubric, error) {
	r, err := scanPgRubric(s.pool.QueryRow(ctx, rubricSelect+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get rubric %d", id)
	}
	return r, nil
}

func (s *PostgresStore) ListRubrics(ctx context.Context, organizationID string) ([]model.Rubric, error) {
	rows, err := s.pool.Query(ctx, rubricSelect+` WHERE organization_id = $1 ORDER BY id`, organizationID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list rubrics %s", organizationID)
	}
	defer rows.Close()

	var out []model.Rubric
	for rows.Next() {
		r, err := scanPgRubric(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan rubric")
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list rubrics iterate")
}

func scanPgRubric(row pgx.Row) (*model.Rubric, error) {
	var r model.Rubric
	var desc *string
	var criteria []byte
	if err := row.Scan(&r.ID, &r.OrganizationID, &r.Name, &desc, &criteria, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Description = deref(desc)
	if err := json.Unmarshal(criteria, &r.Criteria); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal criteria")
	}
	return &r, nil
}

// --- Qualification results ---

func (s *PostgresStore) UpsertQualification(ctx context.Context, q *model.QualificationResult) error {
	if q.EvaluatedAt.IsZero() {
		q.EvaluatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, pgUpsertQualification,
		q.ProfileID, q.RubricID, q.Score, q.Reasoning, q.Passed, q.EvaluatedAt,
	)
	return eris.Wrapf(err, "postgres: upsert qualification %d/%d", q.ProfileID, q.RubricID)
}

func (s *PostgresStore) ListQualifications(ctx context.Context, profileID int64) ([]model.QualificationResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT profile_id, rubric_id, score, reasoning, passed, evaluated_at
		 FROM qualification_results WHERE profile_id = $1 ORDER BY rubric_id`,
		profileID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list qualifications %d", profileID)
	}
	defer rows.Close()

	var out []model.QualificationResult
	for rows.Next() {
		var q model.QualificationResult
		if err := rows.Scan(&q.ProfileID, &q.RubricID, &q.Score, &q.Reasoning, &q.Passed, &q.EvaluatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan qualification")
		}
		out = append(out, q)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list qualifications iterate")
}

// --- Dead letter queue ---

func (s *PostgresStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
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
	payload := []byte(entry.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	_, err := s.pool.Exec(ctx, pgUpsertDLQ,
		entry.ID, entry.JobID, payload, entry.Error, entry.ErrorType, nullIfEmpty(entry.ErrorKind),
		entry.Attempts, entry.MaxAttempts, entry.CreatedAt, entry.LastFailedAt,
	)
	return eris.Wrap(err, "postgres: enqueue dlq")
}

const dlqSelect = `SELECT id, job_id, payload, error, error_type, error_kind, attempts, max_attempts, created_at, last_failed_at FROM dead_letter_queue`

func (s *PostgresStore) ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := dlqSelect
	args := []any{}
	argIdx := 1

	if filter.ErrorType != "" {
		query += fmt.Sprintf(` WHERE error_type = $%d`, argIdx)
		args = append(args, filter.ErrorType)
		argIdx++
	}
	query += ` ORDER BY last_failed_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list dlq")
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		e, err := scanPgDLQ(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan dlq entry")
		}
		entries = append(entries, *e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list dlq iterate")
}

func (s *PostgresStore) GetDLQ(ctx context.Context, id string) (*resilience.DLQEntry, error) {
	e, err := scanPgDLQ(s.pool.QueryRow(ctx, dlqSelect+` WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get dlq %s", id)
	}
	return e, nil
}

func scanPgDLQ(row pgx.Row) (*resilience.DLQEntry, error) {
	var e resilience.DLQEntry
	var payload []byte
	var kind *string
	if err := row.Scan(&e.ID, &e.JobID, &payload, &e.Error, &e.ErrorType, &kind,
		&e.Attempts, &e.MaxAttempts, &e.CreatedAt, &e.LastFailedAt); err != nil {
		return nil, err
	}
	e.Payload = json.RawMessage(payload)
	e.ErrorKind = deref(kind)
	return &e, nil
}

func (s *PostgresStore) RemoveDLQ(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM dead_letter_queue WHERE id = $1`, id)
	return eris.Wrap(err, "postgres: remove dlq")
}

func (s *PostgresStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "postgres: count dlq")
}
