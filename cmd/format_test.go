package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-enricher/internal/model"
	"github.com/sells-group/lead-enricher/internal/resilience"
)

func TestComputeJobStats(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	done := created.Add(90 * time.Second)

	jobs := []model.Job{
		{State: model.JobStateCompleted, CreatedAt: created, CompletedAt: &done,
			Summary: &model.JobSummary{Requested: 10, Enriched: 8}},
		{State: model.JobStateCompleted, CreatedAt: created,
			Summary: &model.JobSummary{Requested: 2, Enriched: 2}},
		{State: model.JobStateFailed, ErrorKind: "timeout"},
		{State: model.JobStateFailed, ErrorKind: "timeout"},
		{State: model.JobStateFailed},
		{State: model.JobStateScraping},
	}

	s := computeJobStats(jobs)
	assert.Equal(t, 6, s.Total)
	assert.Equal(t, 2, s.Completed)
	assert.Equal(t, 3, s.Failed)
	assert.Equal(t, 1, s.InProgress)
	assert.Equal(t, map[string]int{"timeout": 2, "unclassified": 1}, s.ByKind)
	assert.Equal(t, 12, s.Requested)
	assert.Equal(t, 10, s.Enriched)
	assert.InDelta(t, 90.0, s.AvgDurSecs, 0.001)
}

func TestFormatJobStats(t *testing.T) {
	var buf bytes.Buffer
	formatJobStats(&buf, jobStats{
		Total: 4, Completed: 2, Failed: 2,
		ByKind:    map[string]int{"vendor_rejected": 1, "timeout": 1},
		Requested: 20, Enriched: 15, AvgDurSecs: 42,
	})

	out := buf.String()
	assert.Contains(t, out, "Total jobs:")
	assert.Contains(t, out, "15 of 20 (75.0%)")
	assert.Contains(t, out, "42.0s")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("timeout")), bytes.Index(buf.Bytes(), []byte("vendor_rejected")))
}

func TestFormatJobsList(t *testing.T) {
	var buf bytes.Buffer
	formatJobsList(&buf, []model.Job{
		{ID: "0d6f7a52-4c4b-4b9e-8f0a-1d2c3b4a5e6f", OrganizationID: "org-1", State: model.JobStateCompleted,
			Attempt: 1, URLs: []string{"a", "b"}, Summary: &model.JobSummary{Requested: 2, Enriched: 1}},
		{ID: "short", OrganizationID: "org-2", State: model.JobStatePending, URLs: []string{"a", "b", "c"}},
	})

	out := buf.String()
	assert.Contains(t, out, "0d6f7a52")
	assert.NotContains(t, out, "0d6f7a52-4c4b")
	assert.Contains(t, out, "1 of 2 enriched")
	assert.Contains(t, out, "3 requested")
}

func TestFormatDLQList(t *testing.T) {
	var buf bytes.Buffer
	formatDLQList(&buf, []resilience.DLQEntry{{
		ID:          "9f1e2d3c-0000-0000-0000-000000000000",
		JobID:       "job-1",
		ErrorType:   resilience.ErrorTypePermanent,
		ErrorKind:   "vendor_rejected",
		Attempts:    1,
		MaxAttempts: 3,
		Error:       "brightdata: HTTP 401: " + string(bytes.Repeat([]byte("x"), 100)),
	}})

	out := buf.String()
	assert.Contains(t, out, "9f1e2d3c")
	assert.Contains(t, out, "1/3")
	assert.Contains(t, out, "...")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc", truncateID("abc"))
	assert.Equal(t, "12345678", truncateID("1234567890"))
}

func TestLoadCaptures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "captures.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"url": "https://www.linkedin.com/in/jane-doe-123", "display_name": "Jane Doe"},
		{"url": "https://www.linkedin.com/in/john-roe", "raw_attributes": {"title": "CTO"}}
	]`), 0o644))

	captures, err := loadCaptures(path)
	require.NoError(t, err)
	require.Len(t, captures, 2)
	assert.Equal(t, "Jane Doe", captures[0].DisplayName)
	assert.JSONEq(t, `{"title": "CTO"}`, string(captures[1].RawAttributes))

	_, err = loadCaptures(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestPickRubric(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rubrics.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`rubrics:
  - organization_id: org-1
    name: Senior Go Engineer
  - organization_id: org-1
    name: Account Executive
`), 0o644))

	r, err := pickRubric(path, "account executive")
	require.NoError(t, err)
	assert.Equal(t, "Account Executive", r.Name)

	_, err = pickRubric(path, "")
	assert.ErrorContains(t, err, "pass --rubric-name")

	_, err = pickRubric(path, "Recruiter")
	assert.ErrorContains(t, err, `rubric "Recruiter" not in`)
}
