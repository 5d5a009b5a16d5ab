package model

import "time"

// PassThreshold is the minimum normalized score that counts as qualified.
const PassThreshold = 70

// Rubric is an organization's user-defined qualification criteria.
type Rubric struct {
	ID             int64          `json:"id" yaml:"id"`
	OrganizationID string         `json:"organization_id" yaml:"organization_id"`
	Name           string         `json:"name" yaml:"name"`
	Description    string         `json:"description,omitempty" yaml:"description"`
	Criteria       RubricCriteria `json:"criteria" yaml:"criteria"`
	CreatedAt      time.Time      `json:"created_at" yaml:"-"`
	UpdatedAt      time.Time      `json:"updated_at" yaml:"-"`
}

// RubricCriteria is the structured part of a rubric. Every field is optional.
type RubricCriteria struct {
	MinConnections     *int     `json:"min_connections,omitempty" yaml:"min_connections"`
	MinFollowers       *int     `json:"min_followers,omitempty" yaml:"min_followers"`
	RequiredSkills     []string `json:"required_skills,omitempty" yaml:"required_skills"`
	PreferredSkills    []string `json:"preferred_skills,omitempty" yaml:"preferred_skills"`
	RequiredTitles     []string `json:"required_titles,omitempty" yaml:"required_titles"`
	PreferredTitles    []string `json:"preferred_titles,omitempty" yaml:"preferred_titles"`
	RequiredCompanies  []string `json:"required_companies,omitempty" yaml:"required_companies"`
	PreferredCompanies []string `json:"preferred_companies,omitempty" yaml:"preferred_companies"`
	RequiredEducation  []string `json:"required_education,omitempty" yaml:"required_education"`
	MinYearsExperience *float64 `json:"min_years_experience,omitempty" yaml:"min_years_experience"`
	CustomInstructions string   `json:"custom_instructions,omitempty" yaml:"custom_instructions"`
}

// QualificationResult is the judge's verdict for one (profile, rubric) pair.
type QualificationResult struct {
	ProfileID   int64     `json:"profile_id"`
	RubricID    int64     `json:"rubric_id"`
	Score       int       `json:"score"`
	Reasoning   string    `json:"reasoning"`
	Passed      bool      `json:"passed"`
	EvaluatedAt time.Time `json:"evaluated_at"`
}
