package store

import (
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-enricher/internal/model"
)

// enrichmentData is the typed part of an enrichment, stored in one JSON
// column next to the raw vendor payload.
type enrichmentData struct {
	FullName       string                `json:"full_name,omitempty"`
	Headline       string                `json:"headline,omitempty"`
	Location       string                `json:"location,omitempty"`
	Connections    *int                  `json:"connections,omitempty"`
	Followers      *int                  `json:"followers,omitempty"`
	About          string                `json:"about,omitempty"`
	CurrentCompany string                `json:"current_company,omitempty"`
	Experience     []model.Experience    `json:"experience,omitempty"`
	Education      []model.Education     `json:"education,omitempty"`
	Skills         []string              `json:"skills,omitempty"`
	Certifications []model.Certification `json:"certifications,omitempty"`
	Languages      []model.Language      `json:"languages,omitempty"`
}

func encodeEnrichment(e *model.Enrichment) (data, raw []byte, err error) {
	data, err = json.Marshal(enrichmentData{
		FullName:       e.FullName,
		Headline:       e.Headline,
		Location:       e.Location,
		Connections:    e.Connections,
		Followers:      e.Followers,
		About:          e.About,
		CurrentCompany: e.CurrentCompany,
		Experience:     e.Experience,
		Education:      e.Education,
		Skills:         e.Skills,
		Certifications: e.Certifications,
		Languages:      e.Languages,
	})
	if err != nil {
		return nil, nil, eris.Wrap(err, "store: marshal enrichment")
	}
	raw = e.Raw
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	return data, raw, nil
}

func decodeEnrichment(e *model.Enrichment, data, raw []byte) error {
	var d enrichmentData
	if len(data) > 0 {
		if err := json.Unmarshal(data, &d); err != nil {
			return eris.Wrap(err, "store: unmarshal enrichment")
		}
	}
	e.FullName = d.FullName
	e.Headline = d.Headline
	e.Location = d.Location
	e.Connections = d.Connections
	e.Followers = d.Followers
	e.About = d.About
	e.CurrentCompany = d.CurrentCompany
	e.Experience = d.Experience
	e.Education = d.Education
	e.Skills = d.Skills
	e.Certifications = d.Certifications
	e.Languages = d.Languages
	if len(raw) > 0 {
		e.Raw = json.RawMessage(raw)
	}
	return nil
}

type jobColumns struct {
	profileIDs []byte
	urls       []byte
	summary    []byte
}

func encodeJob(j *model.Job) (jobColumns, error) {
	var c jobColumns
	var err error
	if c.profileIDs, err = json.Marshal(j.ProfileIDs); err != nil {
		return c, eris.Wrap(err, "store: marshal profile ids")
	}
	if c.urls, err = json.Marshal(j.URLs); err != nil {
		return c, eris.Wrap(err, "store: marshal urls")
	}
	if c.summary, err = encodeSummary(j.Summary); err != nil {
		return c, err
	}
	return c, nil
}

func encodeSummary(s *model.JobSummary) ([]byte, error) {
	if s == nil {
		return nil, nil
	}
	b, err := json.Marshal(s)
	return b, eris.Wrap(err, "store: marshal summary")
}

func decodeJob(j *model.Job, c jobColumns) error {
	if err := json.Unmarshal(c.profileIDs, &j.ProfileIDs); err != nil {
		return eris.Wrap(err, "store: unmarshal profile ids")
	}
	if err := json.Unmarshal(c.urls, &j.URLs); err != nil {
		return eris.Wrap(err, "store: unmarshal urls")
	}
	if len(c.summary) > 0 {
		j.Summary = &model.JobSummary{}
		if err := json.Unmarshal(c.summary, j.Summary); err != nil {
			return eris.Wrap(err, "store: unmarshal summary")
		}
	}
	return nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
