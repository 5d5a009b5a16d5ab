package registry

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-enricher/internal/model"
)

// ErrInvalidRubric wraps every rubric validation failure.
var ErrInvalidRubric = eris.New("registry: invalid rubric")

// RubricStore is the slice of the store rubric import needs.
type RubricStore interface {
	SaveRubric(ctx context.Context, r *model.Rubric) error
	ListRubrics(ctx context.Context, organizationID string) ([]model.Rubric, error)
}

// ImportSummary counts what Import did.
type ImportSummary struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}

// Validate checks the fields a judge prompt depends on.
func Validate(r *model.Rubric) error {
	r.Name = strings.TrimSpace(r.Name)
	switch {
	case r.Name == "":
		return eris.Wrap(ErrInvalidRubric, "name is required")
	case r.OrganizationID == "":
		return eris.Wrapf(ErrInvalidRubric, "%s: organization_id is required", r.Name)
	}
	c := r.Criteria
	if c.MinConnections != nil && *c.MinConnections < 0 {
		return eris.Wrapf(ErrInvalidRubric, "%s: min_connections is negative", r.Name)
	}
	if c.MinFollowers != nil && *c.MinFollowers < 0 {
		return eris.Wrapf(ErrInvalidRubric, "%s: min_followers is negative", r.Name)
	}
	if c.MinYearsExperience != nil && *c.MinYearsExperience < 0 {
		return eris.Wrapf(ErrInvalidRubric, "%s: min_years_experience is negative", r.Name)
	}
	return nil
}

// Import saves rubrics, matching existing ones by organization and
// case-insensitive name so a fixture can be re-applied. A non-empty
// organizationID overrides the one in each rubric.
func Import(ctx context.Context, st RubricStore, rubrics []model.Rubric, organizationID string) (ImportSummary, error) {
	var sum ImportSummary
	existing := make(map[string]map[string]int64)

	for i := range rubrics {
		r := rubrics[i]
		if organizationID != "" {
			r.OrganizationID = organizationID
		}
		if err := Validate(&r); err != nil {
			return sum, err
		}

		byName, ok := existing[r.OrganizationID]
		if !ok {
			list, err := st.ListRubrics(ctx, r.OrganizationID)
			if err != nil {
				return sum, eris.Wrapf(err, "registry: list rubrics for %s", r.OrganizationID)
			}
			byName = make(map[string]int64, len(list))
			for _, e := range list {
				byName[strings.ToLower(e.Name)] = e.ID
			}
			existing[r.OrganizationID] = byName
		}

		key := strings.ToLower(r.Name)
		r.ID = byName[key]
		update := r.ID != 0
		if err := st.SaveRubric(ctx, &r); err != nil {
			return sum, eris.Wrapf(err, "registry: save rubric %q", r.Name)
		}
		byName[key] = r.ID
		rubrics[i].ID = r.ID

		if update {
			sum.Updated++
		} else {
			sum.Created++
		}
		zap.L().Debug("registry: rubric saved",
			zap.Int64("rubric_id", r.ID),
			zap.String("organization_id", r.OrganizationID),
			zap.String("name", r.Name),
			zap.Bool("updated", update),
		)
	}
	return sum, nil
}
