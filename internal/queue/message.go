// Package queue carries enrichment job messages between intake and workers
// on Redis lists. Delivery is at-least-once: a received message stays on a
// processing list under a lease until it is acknowledged, and messages whose
// lease expires are re-queued.
package queue

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// Message is one enqueued enrichment job.
type Message struct {
	ID              string    `json:"id"`
	JobID           string    `json:"job_id"`
	ProfileIDs      []int64   `json:"profile_ids"`
	URLs            []string  `json:"profile_urls"`
	QualificationID *int64    `json:"qualification_id,omitempty"`
	OrganizationID  string    `json:"organization_id"`
	Attempt         int       `json:"attempt"`
	EnqueuedAt      time.Time `json:"enqueued_at"`
}

func (m *Message) encode() (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", eris.Wrapf(err, "queue: marshal message %s", m.ID)
	}
	return string(b), nil
}

// Decode parses a raw message as stored on the queue or in a dead letter
// payload.
func Decode(raw []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, eris.Wrap(err, "queue: unmarshal message")
	}
	if m.ID == "" || m.JobID == "" {
		return nil, eris.New("queue: message missing id or job_id")
	}
	return &m, nil
}

func (m *Message) prepare(now time.Time) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.EnqueuedAt.IsZero() {
		m.EnqueuedAt = now.UTC()
	}
}
