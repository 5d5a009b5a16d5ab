package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-enricher/internal/jobstate"
	"github.com/sells-group/lead-enricher/internal/model"
	"github.com/sells-group/lead-enricher/internal/poller"
	"github.com/sells-group/lead-enricher/internal/scorer"
	"github.com/sells-group/lead-enricher/internal/store"
	"github.com/sells-group/lead-enricher/pkg/anthropic"
	anthropicmocks "github.com/sells-group/lead-enricher/pkg/anthropic/mocks"
	"github.com/sells-group/lead-enricher/pkg/brightdata"
	brightdatamocks "github.com/sells-group/lead-enricher/pkg/brightdata/mocks"
	"github.com/sells-group/lead-enricher/pkg/objstore"
)

const testOrg = "org-1"

// fakeClock advances virtual time by exactly the requested wait.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

// countingPoller records how often the pipeline asked for a delivery.
type countingPoller struct {
	inner Poller
	mu    sync.Mutex
	calls int
}

func (c *countingPoller) Poll(ctx context.Context, snapshotID string) ([]brightdata.Record, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.inner.Poll(ctx, snapshotID)
}

func (c *countingPoller) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// testPollConfig waits 1s, 2s, 4s, 4s, 4s.
var testPollConfig = poller.Config{
	InitialDelay: time.Second,
	Multiplier:   2,
	MaxDelay:     4 * time.Second,
	MaxAttempts:  5,
	Directory:    "deliveries",
}

type harness struct {
	st      *store.SQLiteStore
	objects *objstore.LocalStore
	vendor  *brightdatamocks.MockClient
	judge   *anthropicmocks.MockClient
	clock   *fakeClock
	poller  *countingPoller
	p       *Pipeline
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	vendor   brightdata.Client
	noJudge  bool
	judgeCfg scorer.JudgeConfig
}

func withVendor(c brightdata.Client) harnessOption {
	return func(h *harnessConfig) { h.vendor = c }
}

func withoutJudge() harnessOption {
	return func(h *harnessConfig) { h.noJudge = true }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	cfg := harnessConfig{judgeCfg: scorer.JudgeConfig{RatePerSecond: 1000, Burst: 100}}
	for _, opt := range opts {
		opt(&cfg)
	}

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	objects, err := objstore.NewLocal(t.TempDir())
	require.NoError(t, err)

	h := &harness{
		st:      st,
		objects: objects,
		vendor:  brightdatamocks.NewMockClient(t),
		judge:   anthropicmocks.NewMockClient(t),
		clock:   newFakeClock(),
	}
	h.poller = &countingPoller{inner: poller.New(objects, testPollConfig, poller.WithClock(h.clock))}

	var vendor brightdata.Client = h.vendor
	if cfg.vendor != nil {
		vendor = cfg.vendor
	}

	var judge scorer.Judge
	if !cfg.noJudge {
		j, err := scorer.NewAnthropicJudge(h.judge, cfg.judgeCfg)
		require.NoError(t, err)
		judge = j
	}
	qualifier := scorer.NewQualifier(judge, st, 2)

	h.p = New(Config{
		Concurrency:       2,
		JobTimeout:        time.Minute,
		DeliveryDirectory: testPollConfig.Directory,
	}, st, vendor, h.poller, objects, qualifier)
	return h
}

// profile seeds a captured profile and returns its id.
func (h *harness) profile(t *testing.T, org, url, handle string) int64 {
	t.Helper()
	p := &model.Profile{OrganizationID: org, URL: url, Handle: handle}
	require.NoError(t, h.st.UpsertProfile(context.Background(), p))
	return p.ID
}

func (h *harness) rubric(t *testing.T, org, name string) *model.Rubric {
	t.Helper()
	minConn := 100
	r := &model.Rubric{
		OrganizationID: org,
		Name:           name,
		Criteria:       model.RubricCriteria{MinConnections: &minConn, RequiredSkills: []string{"Go"}},
	}
	require.NoError(t, h.st.SaveRubric(context.Background(), r))
	return r
}

// deliver writes a gzipped delivery for snapshotID.
func (h *harness) deliver(t *testing.T, snapshotID string, records ...string) string {
	t.Helper()
	key := brightdata.DeliveryKey(testPollConfig.Directory, snapshotID)
	require.NoError(t, h.objects.Put(context.Background(), key, gzipped(t, "["+strings.Join(records, ",")+"]")))
	return key
}

func (h *harness) exists(t *testing.T, key string) bool {
	t.Helper()
	_, err := h.objects.Get(context.Background(), key)
	if err == nil {
		return true
	}
	require.ErrorIs(t, err, objstore.ErrNotExist)
	return false
}

// judgeReplies makes every judge call answer text.
func (h *harness) judgeReplies(text string) {
	h.judge.On("CreateMessage", mock.Anything, mock.Anything).Return(&anthropic.MessageResponse{
		Model:   "claude-sonnet-4-5-20250929",
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
		Usage:   anthropic.TokenUsage{InputTokens: 1200, OutputTokens: 60},
	}, nil)
}

// states returns the recorded states of one attempt in write order.
func (h *harness) states(t *testing.T, jobID string, attempt int) []model.JobState {
	t.Helper()
	events, err := h.st.ListJobEvents(context.Background(), jobID)
	require.NoError(t, err)
	var out []model.JobState
	for _, e := range events {
		if e.Attempt == attempt {
			out = append(out, e.State)
		}
	}
	return out
}

// scrapingJob seeds a job parked in scraping with snapshotID.
func (h *harness) scrapingJob(t *testing.T, id, snapshotID string) *model.Job {
	t.Helper()
	ctx := context.Background()
	job := &model.Job{ID: id, OrganizationID: testOrg, ProfileIDs: []int64{1}, URLs: []string{"https://linkedin.com/in/x"}}
	_, err := h.st.CreateJob(ctx, job)
	require.NoError(t, err)
	m := jobstate.NewMachine(h.st)
	require.NoError(t, m.Restart(ctx, job))
	require.NoError(t, m.Transition(ctx, job, model.JobStateScraping))
	require.NoError(t, m.Transition(ctx, job, model.JobStateScraping, jobstate.WithSnapshot(snapshotID)))
	return job
}

func gzipped(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func successRecord(inputURL, id, name string) string {
	return fmt.Sprintf(`{"id":%q,"name":%q,"position":"Staff Engineer","connections":"500+","skills":["Go"],"input":{"url":%q},"url":"https://www.linkedin.com/in/%s"}`,
		id, name, inputURL, id)
}

func errorRecord(inputURL string) string {
	return fmt.Sprintf(`{"input":{"url":%q},"error":"Profile not found","error_code":"dead_page"}`, inputURL)
}

func int64Ptr(v int64) *int64 { return &v }
