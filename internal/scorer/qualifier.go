package scorer

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/lead-enricher/internal/model"
)

// ResultStore persists qualification results.
type ResultStore interface {
	UpsertQualification(ctx context.Context, q *model.QualificationResult) error
}

// Qualifier scores a profile against rubrics and stores each result.
type Qualifier struct {
	judge       Judge
	store       ResultStore
	concurrency int
	now         func() time.Time
}

// NewQualifier creates a Qualifier. judge may be nil, in which case every
// call fails with ErrJudgeNotConfigured. concurrency bounds FanOut.
func NewQualifier(judge Judge, store ResultStore, concurrency int) *Qualifier {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Qualifier{judge: judge, store: store, concurrency: concurrency, now: time.Now}
}

// Configured reports whether a judge is available.
func (q *Qualifier) Configured() bool {
	return q.judge != nil
}

// Qualify scores one (profile, rubric) pair and upserts the result.
func (q *Qualifier) Qualify(ctx context.Context, profileID int64, e *model.Enrichment, r *model.Rubric) (*model.QualificationResult, error) {
	if q.judge == nil {
		return nil, ErrJudgeNotConfigured
	}
	payload, err := e.Payload()
	if err != nil {
		return nil, eris.Wrapf(err, "scorer: payload for profile %d", profileID)
	}
	v, err := q.judge.Score(ctx, payload, r)
	if err != nil {
		return nil, err
	}
	if v.ClaimedPassed != nil && *v.ClaimedPassed != v.Passed {
		zap.L().Debug("scorer: judge pass flag overridden",
			zap.Int64("profile_id", profileID),
			zap.Int64("rubric_id", r.ID),
			zap.Float64("raw_score", v.RawScore),
			zap.Bool("claimed", *v.ClaimedPassed),
		)
	}
	return q.Record(ctx, profileID, r.ID, v.RawScore, v.Reasoning)
}

// Record normalizes score, derives the pass flag and upserts the result.
// It serves results computed outside this process as well.
func (q *Qualifier) Record(ctx context.Context, profileID, rubricID int64, score float64, reasoning string) (*model.QualificationResult, error) {
	n := Normalize(score)
	res := &model.QualificationResult{
		ProfileID:   profileID,
		RubricID:    rubricID,
		Score:       n,
		Reasoning:   reasoning,
		Passed:      Passed(n),
		EvaluatedAt: q.now().UTC(),
	}
	if err := q.store.UpsertQualification(ctx, res); err != nil {
		return nil, eris.Wrapf(err, "scorer: store result profile %d rubric %d", profileID, rubricID)
	}
	return res, nil
}

// FanOut qualifies one profile against every rubric with bounded
// concurrency. Failures are counted per pair and never cancel siblings.
func (q *Qualifier) FanOut(ctx context.Context, profileID int64, e *model.Enrichment, rubrics []model.Rubric) model.FanOutSummary {
	var ok, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(q.concurrency)
	for i := range rubrics {
		r := &rubrics[i]
		g.Go(func() error {
			if _, err := q.Qualify(gctx, profileID, e, r); err != nil {
				failed.Add(1)
				zap.L().Warn("scorer: qualification failed",
					zap.Int64("profile_id", profileID),
					zap.Int64("rubric_id", r.ID),
					zap.Error(err),
				)
				return nil
			}
			ok.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return model.FanOutSummary{Qualified: int(ok.Load()), Failed: int(failed.Load())}
}
