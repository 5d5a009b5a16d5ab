package model

import (
	"encoding/json"
	"time"
)

// Enrichment is the vendor profile data stored for one internal profile.
// There is at most one per profile; a newer write replaces it wholesale.
type Enrichment struct {
	ProfileID      int64           `json:"profile_id"`
	Handle         string          `json:"handle,omitempty"`
	FullName       string          `json:"full_name,omitempty"`
	Headline       string          `json:"headline,omitempty"`
	Location       string          `json:"location,omitempty"`
	Connections    *int            `json:"connections,omitempty"`
	Followers      *int            `json:"followers,omitempty"`
	About          string          `json:"about,omitempty"`
	CurrentCompany string          `json:"current_company,omitempty"`
	Experience     []Experience    `json:"experience,omitempty"`
	Education      []Education     `json:"education,omitempty"`
	Skills         []string        `json:"skills,omitempty"`
	Certifications []Certification `json:"certifications,omitempty"`
	Languages      []Language      `json:"languages,omitempty"`
	Raw            json.RawMessage `json:"raw"`
	SnapshotID     string          `json:"snapshot_id,omitempty"`
	EnrichedAt     time.Time       `json:"enriched_at"`
}

// Experience is one position held.
type Experience struct {
	Title       string `json:"title,omitempty"`
	Company     string `json:"company,omitempty"`
	Location    string `json:"location,omitempty"`
	StartDate   string `json:"start_date,omitempty"`
	EndDate     string `json:"end_date,omitempty"`
	Description string `json:"description,omitempty"`
}

// Education is one school entry.
type Education struct {
	School    string `json:"school,omitempty"`
	Degree    string `json:"degree,omitempty"`
	Field     string `json:"field,omitempty"`
	StartYear string `json:"start_year,omitempty"`
	EndYear   string `json:"end_year,omitempty"`
}

// Certification is a credential listed on the profile.
type Certification struct {
	Name   string `json:"name,omitempty"`
	Issuer string `json:"issuer,omitempty"`
	Date   string `json:"date,omitempty"`
}

// Language is a spoken language with optional proficiency.
type Language struct {
	Name        string `json:"name,omitempty"`
	Proficiency string `json:"proficiency,omitempty"`
}

// Payload returns the JSON handed to the qualification judge: the raw vendor
// record when present, otherwise the typed fields.
func (e *Enrichment) Payload() (json.RawMessage, error) {
	if len(e.Raw) > 0 {
		return e.Raw, nil
	}
	type typed Enrichment
	t := typed(*e)
	t.Raw = nil
	return json.Marshal(t)
}
