// Package registry loads qualification rubrics from fixture files and
// imports them into the store.
package registry

import (
	"bytes"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/lead-enricher/internal/model"
)

// rubricFile accepts either a bare list or a document with a rubrics key.
type rubricFile struct {
	Rubrics []model.Rubric `yaml:"rubrics"`
}

// LoadRubricsFromFile reads rubrics from a YAML (or JSON) fixture.
func LoadRubricsFromFile(path string) ([]model.Rubric, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "registry: read rubric fixture")
	}
	return ParseRubrics(data)
}

// ParseRubrics decodes a rubric fixture. Every rubric is validated.
func ParseRubrics(data []byte) ([]model.Rubric, error) {
	return ParseRubricsFor(data, "")
}

// ParseRubricsFor is ParseRubrics with every rubric's organization set to
// organizationID, when non-empty, before validation.
func ParseRubricsFor(data []byte, organizationID string) ([]model.Rubric, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, eris.New("registry: empty rubric fixture")
	}

	var rubrics []model.Rubric
	if trimmed[0] == '[' || trimmed[0] == '-' {
		if err := yaml.Unmarshal(data, &rubrics); err != nil {
			return nil, eris.Wrap(err, "registry: unmarshal rubric fixture")
		}
	} else {
		var f rubricFile
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, eris.Wrap(err, "registry: unmarshal rubric fixture")
		}
		rubrics = f.Rubrics
	}

	for i := range rubrics {
		if organizationID != "" {
			rubrics[i].OrganizationID = organizationID
		}
		if err := Validate(&rubrics[i]); err != nil {
			return nil, eris.Wrapf(err, "registry: rubric %d", i)
		}
	}
	return rubrics, nil
}
