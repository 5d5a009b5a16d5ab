package resilience

import (
	"encoding/json"
	"time"
)

// Error classes recorded on dead-lettered work.
const (
	ErrorTypeTransient = "transient"
	ErrorTypePermanent = "permanent"
)

// DLQEntry is a queue message that exhausted its attempts or failed
// permanently. Payload is the original message, replayable as-is.
type DLQEntry struct {
	ID           string          `json:"id"`
	JobID        string          `json:"job_id"`
	Payload      json.RawMessage `json:"payload"`
	Error        string          `json:"error"`
	ErrorType    string          `json:"error_type"`
	ErrorKind    string          `json:"error_kind,omitempty"`
	Attempts     int             `json:"attempts"`
	MaxAttempts  int             `json:"max_attempts"`
	CreatedAt    time.Time       `json:"created_at"`
	LastFailedAt time.Time       `json:"last_failed_at"`
}

// DLQFilter narrows a dead letter listing.
type DLQFilter struct {
	ErrorType string `json:"error_type,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// Replayable reports whether a manual replay could plausibly succeed.
func (e *DLQEntry) Replayable() bool {
	return e.ErrorType == ErrorTypeTransient
}

// ClassifyError returns ErrorTypeTransient or ErrorTypePermanent.
func ClassifyError(err error) string {
	if IsTransient(err) {
		return ErrorTypeTransient
	}
	return ErrorTypePermanent
}
