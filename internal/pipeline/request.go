package pipeline

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-enricher/internal/model"
	"github.com/sells-group/lead-enricher/internal/queue"
)

// Request is the job payload handed to RunJob. ProfileIDs[i] was captured
// from URLs[i].
type Request struct {
	JobID           string   `json:"job_id"`
	ProfileIDs      []int64  `json:"profile_ids"`
	URLs            []string `json:"profile_urls"`
	QualificationID *int64   `json:"qualification_id,omitempty"`
	OrganizationID  string   `json:"organization_id"`
}

// RequestFromMessage converts a queue message into a job request.
func RequestFromMessage(m *queue.Message) Request {
	return Request{
		JobID:           m.JobID,
		ProfileIDs:      m.ProfileIDs,
		URLs:            m.URLs,
		QualificationID: m.QualificationID,
		OrganizationID:  m.OrganizationID,
	}
}

// Message converts the request into a queue message.
func (r Request) Message() queue.Message {
	return queue.Message{
		JobID:           r.JobID,
		ProfileIDs:      r.ProfileIDs,
		URLs:            r.URLs,
		QualificationID: r.QualificationID,
		OrganizationID:  r.OrganizationID,
	}
}

// Validate checks the request shape before any job row is written.
func (r Request) Validate() error {
	switch {
	case r.JobID == "":
		return eris.New("pipeline: job id is required")
	case r.OrganizationID == "":
		return eris.New("pipeline: organization id is required")
	case len(r.URLs) == 0:
		return eris.New("pipeline: at least one profile url is required")
	case len(r.URLs) != len(r.ProfileIDs):
		return eris.Errorf("pipeline: %d profile ids for %d urls", len(r.ProfileIDs), len(r.URLs))
	}
	for i, u := range r.URLs {
		if u == "" {
			return eris.Errorf("pipeline: url %d is empty", i)
		}
	}
	return nil
}

func (r Request) job() *model.Job {
	return &model.Job{
		ID:              r.JobID,
		ProfileIDs:      r.ProfileIDs,
		URLs:            r.URLs,
		QualificationID: r.QualificationID,
		OrganizationID:  r.OrganizationID,
		State:           model.JobStatePending,
	}
}
