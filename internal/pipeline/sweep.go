package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/lead-enricher/internal/jobstate"
	"github.com/sells-group/lead-enricher/internal/model"
	"github.com/sells-group/lead-enricher/internal/poller"
	"github.com/sells-group/lead-enricher/internal/reconcile"
	"github.com/sells-group/lead-enricher/pkg/brightdata"
	"github.com/sells-group/lead-enricher/pkg/objstore"
)

// Sweep processes delivery objects that no running job will consume. Each
// record is reconciled by public handle across all organizations and every
// matched profile is scored against its organization's rubrics. Objects are
// deleted once processed and kept for the next sweep when a write fails.
func (p *Pipeline) Sweep(ctx context.Context) (*model.SweepSummary, error) {
	prefix := brightdata.DeliveryPrefix(p.cfg.DeliveryDirectory)
	objects, err := p.objects.List(ctx, prefix)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: list deliveries under %q", prefix)
	}

	var s model.SweepSummary
	for _, obj := range objects {
		if err := ctx.Err(); err != nil {
			return &s, eris.Wrap(err, "pipeline: sweep interrupted")
		}
		snapshotID, ok := brightdata.SnapshotFromKey(obj.Key)
		if !ok {
			continue
		}
		s.Objects++
		p.sweepObject(ctx, obj.Key, snapshotID, &s)
	}

	zap.L().Info("pipeline: sweep complete",
		zap.Int("objects", s.Objects),
		zap.Int("processed", s.Processed),
		zap.Int("retained", s.Retained),
		zap.Int("in_flight", s.InFlight),
		zap.Int("enriched", s.Enriched),
		zap.Int("failed", s.Failed),
		zap.Int("skipped", s.Skipped),
		zap.Int("discarded", s.Discarded),
		zap.Int("qualified", s.Qualified),
		zap.Int("qualify_failed", s.QualifyFailed),
	)
	return &s, nil
}

func (p *Pipeline) sweepObject(ctx context.Context, key, snapshotID string, s *model.SweepSummary) {
	log := zap.L().With(zap.String("snapshot_id", snapshotID), zap.String("key", key))

	job, err := p.store.FindJobBySnapshot(ctx, snapshotID)
	if err != nil {
		log.Error("pipeline: sweep job lookup", zap.Error(err))
		s.Retained++
		return
	}
	if job != nil {
		switch {
		case !jobstate.IsTerminal(job.State):
			log.Debug("pipeline: sweep skipping in-flight snapshot", zap.String("job_id", job.ID))
			s.InFlight++
			return
		case job.State == model.JobStateCompleted:
			// The job already stored this delivery; its own delete failed.
			if err := p.objects.Delete(ctx, key); err != nil {
				log.Warn("pipeline: sweep delete consumed delivery", zap.Error(err))
				s.Retained++
				return
			}
			s.Processed++
			return
		}
	}

	data, err := p.objects.Get(ctx, key)
	if err != nil {
		if errors.Is(err, objstore.ErrNotExist) {
			log.Debug("pipeline: sweep object gone")
			return
		}
		log.Error("pipeline: sweep read", zap.Error(err))
		s.Retained++
		return
	}

	records, err := poller.Decode(data)
	if err != nil {
		log.Error("pipeline: sweep delivery is not parseable", zap.Int("bytes", len(data)), zap.Error(err))
		s.Retained++
		return
	}

	if !p.sweepRecords(ctx, snapshotID, records, s) {
		s.Retained++
		return
	}
	if err := p.objects.Delete(ctx, key); err != nil {
		log.Warn("pipeline: sweep delete processed delivery", zap.Error(err))
	}
	s.Processed++
}

// sweepRecords applies each record and reports whether every write
// succeeded.
func (p *Pipeline) sweepRecords(ctx context.Context, snapshotID string, records []brightdata.Record, s *model.SweepSummary) bool {
	var (
		mu     sync.Mutex
		failed atomic.Bool
		g      errgroup.Group
	)
	g.SetLimit(p.cfg.Concurrency)

	for i := range records {
		rec := records[i]
		g.Go(func() error {
			if rec.Failed() {
				mu.Lock()
				s.Failed++
				mu.Unlock()
				return nil
			}

			handle, profiles, err := p.resolver.Resolve(ctx, rec.URLs(), rec.Handle())
			if err != nil {
				if errors.Is(err, reconcile.ErrNoHandle) {
					zap.L().Warn("pipeline: sweep record has no handle",
						zap.String("snapshot_id", snapshotID),
						zap.Strings("urls", rec.URLs()),
					)
					mu.Lock()
					s.Discarded++
					mu.Unlock()
					return nil
				}
				zap.L().Error("pipeline: sweep resolve", zap.String("snapshot_id", snapshotID), zap.Error(err))
				failed.Store(true)
				return nil
			}
			if len(profiles) == 0 {
				mu.Lock()
				s.Skipped++
				mu.Unlock()
				return nil
			}

			e := rec.Enrichment()
			e.SnapshotID = snapshotID
			e.EnrichedAt = p.now().UTC()
			n, fan, err := p.applyToProfiles(ctx, handle, profiles, e)

			mu.Lock()
			s.Enriched += n
			s.Qualified += fan.Qualified
			s.QualifyFailed += fan.Failed
			mu.Unlock()

			if err != nil {
				zap.L().Error("pipeline: sweep store", zap.String("snapshot_id", snapshotID), zap.String("handle", handle), zap.Error(err))
				failed.Store(true)
			}
			return nil
		})
	}
	_ = g.Wait()
	return !failed.Load()
}
