package model

import (
	"encoding/json"
	"time"
)

// Profile is a captured lead record. The CRUD app owns these; the pipeline
// reads them and writes only through capture intake.
type Profile struct {
	ID             int64           `json:"id"`
	OrganizationID string          `json:"organization_id"`
	URL            string          `json:"url"`
	Handle         string          `json:"handle,omitempty"`
	DisplayName    string          `json:"display_name,omitempty"`
	RawAttributes  json.RawMessage `json:"raw_attributes,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
