package pipeline

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/lead-enricher/internal/model"
	"github.com/sells-group/lead-enricher/internal/reconcile"
	"github.com/sells-group/lead-enricher/pkg/brightdata"
)

// ErrProfileNotFound is returned when an enrichment targets an unknown
// profile.
var ErrProfileNotFound = eris.New("pipeline: profile not found")

// enrichJob reconciles each delivered record against the job's own
// profiles and upserts the enrichment. It returns the enrichments stored,
// keyed by profile id.
func (p *Pipeline) enrichJob(ctx context.Context, job *model.Job, records []brightdata.Record, s *model.JobSummary) (map[int64]*model.Enrichment, error) {
	idx, err := reconcile.NewJobIndex(job.ProfileIDs, job.URLs)
	if err != nil {
		return nil, err
	}
	log := zap.L().With(zap.String("job_id", job.ID), zap.String("snapshot_id", job.SnapshotID))
	if idx.Skipped > 0 {
		log.Warn("pipeline: job urls could not be normalized", zap.Int("count", idx.Skipped))
	}

	var (
		mu       sync.Mutex
		enriched = make(map[int64]*model.Enrichment)
		g        errgroup.Group
	)
	g.SetLimit(p.cfg.Concurrency)

	for i := range records {
		rec := records[i]
		g.Go(func() error {
			if rec.Failed() {
				log.Info("pipeline: vendor record failed", zap.String("url", rec.URL()), zap.String("error", rec.Err()))
				mu.Lock()
				s.Failed++
				mu.Unlock()
				return nil
			}

			ids := idx.Resolve(rec.URLs()...)
			if len(ids) == 0 {
				log.Warn("pipeline: record matches no job profile", zap.Strings("urls", rec.URLs()))
				mu.Lock()
				s.Skipped++
				mu.Unlock()
				return nil
			}

			handle, _ := reconcile.HandleOf(rec.URLs(), rec.Handle())
			for _, id := range ids {
				e := rec.Enrichment()
				e.ProfileID = id
				e.Handle = handle
				e.SnapshotID = job.SnapshotID
				e.EnrichedAt = p.now().UTC()

				if err := p.store.UpsertEnrichment(ctx, e); err != nil {
					log.Error("pipeline: store enrichment", zap.Int64("profile_id", id), zap.Error(err))
					mu.Lock()
					s.Failed++
					mu.Unlock()
					continue
				}
				mu.Lock()
				enriched[id] = e
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	s.Enriched = len(enriched)
	return enriched, nil
}

// qualifyJob scores every enriched profile against the job's rubric.
func (p *Pipeline) qualifyJob(ctx context.Context, enriched map[int64]*model.Enrichment, r *model.Rubric, s *model.JobSummary) {
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(p.cfg.Concurrency)

	for id, e := range enriched {
		g.Go(func() error {
			_, err := p.qualifier.Qualify(ctx, id, e, r)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				zap.L().Warn("pipeline: qualification failed",
					zap.Int64("profile_id", id),
					zap.Int64("rubric_id", r.ID),
					zap.Error(err),
				)
				s.QualifyFailed++
				return nil
			}
			s.Qualified++
			return nil
		})
	}
	_ = g.Wait()
}

// HandleResult reports what one by-handle enrichment did.
type HandleResult struct {
	Handle   string              `json:"handle"`
	Profiles int                 `json:"profiles"`
	Scoring  model.FanOutSummary `json:"scoring"`
}

// EnrichProfile stores e for one profile. It does not score.
func (p *Pipeline) EnrichProfile(ctx context.Context, profileID int64, e *model.Enrichment) error {
	prof, err := p.store.GetProfile(ctx, profileID)
	if err != nil {
		return eris.Wrapf(err, "pipeline: load profile %d", profileID)
	}
	if prof == nil {
		return eris.Wrapf(ErrProfileNotFound, "pipeline: profile %d", profileID)
	}
	e.ProfileID = profileID
	if e.EnrichedAt.IsZero() {
		e.EnrichedAt = p.now().UTC()
	}
	return eris.Wrapf(p.store.UpsertEnrichment(ctx, e), "pipeline: store enrichment for profile %d", profileID)
}

// EnrichByHandle stores e for every profile sharing handle, across
// organizations, then scores each profile against all of its
// organization's rubrics.
func (p *Pipeline) EnrichByHandle(ctx context.Context, handle string, e *model.Enrichment) (*HandleResult, error) {
	h := reconcile.NormalizeHandle(handle)
	if h == "" {
		return nil, reconcile.ErrNoHandle
	}
	profiles, err := p.store.FindProfilesByHandle(ctx, h)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: find profiles for %s", h)
	}
	n, fan, err := p.applyToProfiles(ctx, h, profiles, e)
	res := &HandleResult{Handle: h, Profiles: n, Scoring: fan}
	if err != nil {
		return res, err
	}
	zap.L().Info("pipeline: enriched by handle",
		zap.String("handle", h),
		zap.Int("profiles", n),
		zap.Int("qualified", fan.Qualified),
		zap.Int("qualify_failed", fan.Failed),
	)
	return res, nil
}

// applyToProfiles upserts a copy of src for each profile and fans out
// scoring. It stops at the first store failure and returns what it did so
// far.
func (p *Pipeline) applyToProfiles(ctx context.Context, handle string, profiles []model.Profile, src *model.Enrichment) (int, model.FanOutSummary, error) {
	var (
		n   int
		fan model.FanOutSummary
	)
	for _, prof := range profiles {
		e := *src
		e.ProfileID = prof.ID
		e.Handle = handle
		if e.EnrichedAt.IsZero() {
			e.EnrichedAt = p.now().UTC()
		}
		if err := p.store.UpsertEnrichment(ctx, &e); err != nil {
			return n, fan, eris.Wrapf(err, "pipeline: store enrichment for profile %d", prof.ID)
		}
		n++

		if p.qualifier == nil || !p.qualifier.Configured() {
			continue
		}
		rubrics, err := p.store.ListRubrics(ctx, prof.OrganizationID)
		if err != nil {
			return n, fan, eris.Wrapf(err, "pipeline: list rubrics for %s", prof.OrganizationID)
		}
		f := p.qualifier.FanOut(ctx, prof.ID, &e, rubrics)
		fan.Qualified += f.Qualified
		fan.Failed += f.Failed
	}
	return n, fan, nil
}
