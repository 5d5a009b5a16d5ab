package scorer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-enricher/internal/model"
)

type mockResultStore struct {
	mock.Mock
}

func (m *mockResultStore) UpsertQualification(ctx context.Context, q *model.QualificationResult) error {
	return m.Called(ctx, q).Error(0)
}

// funcJudge returns a verdict chosen per rubric.
type funcJudge struct {
	mu    sync.Mutex
	calls int
	fn    func(r *model.Rubric) (*Verdict, error)
}

func (j *funcJudge) Score(_ context.Context, _ json.RawMessage, r *model.Rubric) (*Verdict, error) {
	j.mu.Lock()
	j.calls++
	j.mu.Unlock()
	return j.fn(r)
}

func fixedQualifier(j Judge, s ResultStore) *Qualifier {
	q := NewQualifier(j, s, 2)
	q.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return q
}

func testEnrichment() *model.Enrichment {
	return &model.Enrichment{ProfileID: 11, Raw: json.RawMessage(`{"name":"Jane"}`)}
}

func TestQualifier_Qualify(t *testing.T) {
	claimed := false
	j := &funcJudge{fn: func(*model.Rubric) (*Verdict, error) {
		return &Verdict{Score: 86, RawScore: 85.7, Reasoning: "fit", Passed: true, ClaimedPassed: &claimed}, nil
	}}
	st := new(mockResultStore)
	st.On("UpsertQualification", mock.Anything, mock.MatchedBy(func(q *model.QualificationResult) bool {
		return q.ProfileID == 11 && q.RubricID == 3 && q.Score == 86 && q.Passed
	})).Return(nil).Once()

	res, err := fixedQualifier(j, st).Qualify(context.Background(), 11, testEnrichment(), testRubric())
	require.NoError(t, err)
	assert.Equal(t, 86, res.Score)
	assert.True(t, res.Passed)
	assert.Equal(t, "fit", res.Reasoning)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), res.EvaluatedAt)
	st.AssertExpectations(t)
}

func TestQualifier_JudgeErrorSkipsStore(t *testing.T) {
	j := &funcJudge{fn: func(*model.Rubric) (*Verdict, error) { return nil, ErrNoJSON }}
	st := new(mockResultStore)

	_, err := fixedQualifier(j, st).Qualify(context.Background(), 11, testEnrichment(), testRubric())
	assert.ErrorIs(t, err, ErrNoJSON)
	st.AssertNotCalled(t, "UpsertQualification", mock.Anything, mock.Anything)
}

func TestQualifier_NoJudge(t *testing.T) {
	q := fixedQualifier(nil, new(mockResultStore))
	assert.False(t, q.Configured())
	_, err := q.Qualify(context.Background(), 1, testEnrichment(), testRubric())
	assert.ErrorIs(t, err, ErrJudgeNotConfigured)
}

func TestQualifier_Record(t *testing.T) {
	tests := []struct {
		raw        float64
		wantScore  int
		wantPassed bool
	}{
		{85.7, 86, true},
		{69.4, 69, false},
		{69.5, 70, true},
		{-5, 0, false},
		{1000, 100, true},
	}
	for _, tt := range tests {
		st := new(mockResultStore)
		st.On("UpsertQualification", mock.Anything, mock.Anything).Return(nil)
		res, err := fixedQualifier(nil, st).Record(context.Background(), 1, 2, tt.raw, "")
		require.NoError(t, err)
		assert.Equal(t, tt.wantScore, res.Score)
		assert.Equal(t, tt.wantPassed, res.Passed)
	}
}

func TestQualifier_RecordStoreError(t *testing.T) {
	st := new(mockResultStore)
	st.On("UpsertQualification", mock.Anything, mock.Anything).Return(errors.New("db down"))
	_, err := fixedQualifier(nil, st).Record(context.Background(), 1, 2, 50, "")
	assert.Error(t, err)
}

func TestQualifier_FanOutCountsPerPair(t *testing.T) {
	j := &funcJudge{fn: func(r *model.Rubric) (*Verdict, error) {
		if r.ID == 2 {
			return nil, ErrBadVerdict
		}
		return &Verdict{Score: 75, RawScore: 75, Passed: true}, nil
	}}
	st := new(mockResultStore)
	st.On("UpsertQualification", mock.Anything, mock.Anything).Return(nil)

	rubrics := []model.Rubric{{ID: 1}, {ID: 2}, {ID: 3}, {ID: 4}}
	sum := fixedQualifier(j, st).FanOut(context.Background(), 11, testEnrichment(), rubrics)
	assert.Equal(t, model.FanOutSummary{Qualified: 3, Failed: 1}, sum)
	assert.Equal(t, 4, j.calls)
	st.AssertNumberOfCalls(t, "UpsertQualification", 3)
}

func TestQualifier_FanOutEmpty(t *testing.T) {
	sum := fixedQualifier(&funcJudge{}, new(mockResultStore)).FanOut(context.Background(), 1, testEnrichment(), nil)
	assert.Equal(t, model.FanOutSummary{}, sum)
}
