package reconcile

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-enricher/internal/model"
)

// JobIndex resolves delivered URLs to the profile ids of one job.
type JobIndex struct {
	byURL    map[string][]int64
	byHandle map[string][]int64
	// Skipped counts requested URLs that could not be normalized.
	Skipped int
}

// NewJobIndex builds the index from a job's parallel id and URL lists.
func NewJobIndex(profileIDs []int64, urls []string) (*JobIndex, error) {
	if len(profileIDs) != len(urls) {
		return nil, eris.Errorf("reconcile: %d profile ids for %d urls", len(profileIDs), len(urls))
	}
	idx := &JobIndex{
		byURL:    make(map[string][]int64, len(urls)),
		byHandle: make(map[string][]int64, len(urls)),
	}
	for i, raw := range urls {
		key, err := NormalizeURL(raw)
		if err != nil {
			zap.L().Warn("reconcile: skipping requested url", zap.String("url", raw), zap.Error(err))
			idx.Skipped++
			continue
		}
		idx.byURL[key] = appendUnique(idx.byURL[key], profileIDs[i])
		if h, err := Handle(raw); err == nil {
			idx.byHandle[h] = appendUnique(idx.byHandle[h], profileIDs[i])
		}
	}
	return idx, nil
}

// Resolve returns the profile ids matching any of the candidate URLs. Exact
// normalized matches win; a shared handle is the fallback. It returns nil
// when nothing matches.
func (idx *JobIndex) Resolve(candidates ...string) []int64 {
	for _, raw := range candidates {
		key, err := NormalizeURL(raw)
		if err != nil {
			continue
		}
		if ids := idx.byURL[key]; len(ids) > 0 {
			return ids
		}
	}
	for _, raw := range candidates {
		h, err := Handle(raw)
		if err != nil {
			continue
		}
		if ids := idx.byHandle[h]; len(ids) > 0 {
			return ids
		}
	}
	return nil
}

func appendUnique(ids []int64, id int64) []int64 {
	for _, x := range ids {
		if x == id {
			return ids
		}
	}
	return append(ids, id)
}

// ProfileFinder looks profiles up by handle, case-insensitively.
type ProfileFinder interface {
	FindProfilesByHandle(ctx context.Context, handle string) ([]model.Profile, error)
}

// HandleResolver resolves records with no job context by public handle
// across every organization.
type HandleResolver struct {
	finder ProfileFinder
}

// NewHandleResolver creates a HandleResolver.
func NewHandleResolver(f ProfileFinder) *HandleResolver {
	return &HandleResolver{finder: f}
}

// HandleOf picks the handle from the first candidate URL that has one,
// falling back to the vendor-reported handle.
func HandleOf(candidates []string, vendorHandle string) (string, error) {
	for _, raw := range candidates {
		if h, err := Handle(raw); err == nil {
			return h, nil
		}
	}
	if h := NormalizeHandle(vendorHandle); h != "" {
		return h, nil
	}
	return "", ErrNoHandle
}

// Resolve returns the handle and every profile that shares it. A record
// with no usable handle returns ErrNoHandle; no match returns an empty
// slice.
func (r *HandleResolver) Resolve(ctx context.Context, candidates []string, vendorHandle string) (string, []model.Profile, error) {
	h, err := HandleOf(candidates, vendorHandle)
	if err != nil {
		return "", nil, err
	}
	profiles, err := r.finder.FindProfilesByHandle(ctx, h)
	if err != nil {
		return h, nil, eris.Wrapf(err, "reconcile: find profiles for %s", h)
	}
	return h, profiles, nil
}
