package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildUpsert_Postgres(t *testing.T) {
	sql, err := BuildUpsert(UpsertConfig{
		Table:        "enrichments",
		Columns:      []string{"profile_id", "handle", "data"},
		ConflictKeys: []string{"profile_id"},
	}, Dollar)
	require.NoError(t, err)
	assert.Equal(t,
		`INSERT INTO "enrichments" ("profile_id", "handle", "data") VALUES ($1, $2, $3) ON CONFLICT ("profile_id") DO UPDATE SET "handle" = EXCLUDED."handle", "data" = EXCLUDED."data"`,
		sql)
}

func TestBuildUpsert_SQLiteReturning(t *testing.T) {
	sql, err := BuildUpsert(UpsertConfig{
		Table:        "profiles",
		Columns:      []string{"organization_id", "url", "handle"},
		ConflictKeys: []string{"organization_id", "url"},
		UpdateCols:   []string{"handle"},
		Returning:    []string{"id"},
	}, Question)
	require.NoError(t, err)
	assert.Equal(t,
		`INSERT INTO "profiles" ("organization_id", "url", "handle") VALUES (?, ?, ?) ON CONFLICT ("organization_id", "url") DO UPDATE SET "handle" = EXCLUDED."handle" RETURNING "id"`,
		sql)
}

func TestBuildUpsert_OnlyKeysDoesNothing(t *testing.T) {
	sql, err := BuildUpsert(UpsertConfig{
		Table:        "jobs",
		Columns:      []string{"id"},
		ConflictKeys: []string{"id"},
	}, Dollar)
	require.NoError(t, err)
	assert.Contains(t, sql, "DO NOTHING")
}

func TestBuildUpsert_Validation(t *testing.T) {
	_, err := BuildUpsert(UpsertConfig{Table: "t", ConflictKeys: []string{"id"}}, Dollar)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")

	_, err = BuildUpsert(UpsertConfig{Table: "t", Columns: []string{"id"}}, Dollar)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")

	assert.Panics(t, func() { MustBuildUpsert(UpsertConfig{Table: "t"}, Dollar) })
}

func TestSanitizeTable(t *testing.T) {
	assert.Equal(t, `"jobs"`, sanitizeTable("jobs"))
	assert.Equal(t, `"leads"."jobs"`, sanitizeTable("leads.jobs"))
}

func TestWithTx(t *testing.T) {
	ctx := context.Background()

	t.Run("commit", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE jobs").WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectCommit()

		err = WithTx(ctx, mock, func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx, "UPDATE jobs SET state = 'scraping'")
			return err
		})
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rollback", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectBegin()
		mock.ExpectRollback()

		boom := errors.New("boom")
		err = WithTx(ctx, mock, func(pgx.Tx) error { return boom })
		assert.ErrorIs(t, err, boom)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}
