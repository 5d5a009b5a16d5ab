package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-enricher/internal/model"
	"github.com/sells-group/lead-enricher/internal/pipeline"
)

type createJobRequest struct {
	JobID           string   `json:"jobId"`
	ProfileIDs      []int64  `json:"profileIds"`
	ProfileURLs     []string `json:"profileUrls"`
	QualificationID *int64   `json:"qualificationId"`
	OrganizationID  string   `json:"organizationId"`
}

type jobView struct {
	ID              string            `json:"id"`
	State           model.JobState    `json:"state"`
	Attempt         int               `json:"attempt"`
	OrganizationID  string            `json:"organizationId"`
	QualificationID *int64            `json:"qualificationId,omitempty"`
	SnapshotID      string            `json:"snapshotId,omitempty"`
	Error           string            `json:"error,omitempty"`
	ErrorKind       string            `json:"errorKind,omitempty"`
	Summary         *model.JobSummary `json:"summary"`
	Coverage        string            `json:"coverage,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
	CompletedAt     *time.Time        `json:"completedAt,omitempty"`
}

func newJobView(j *model.Job) jobView {
	v := jobView{
		ID:              j.ID,
		State:           j.State,
		Attempt:         j.Attempt,
		OrganizationID:  j.OrganizationID,
		QualificationID: j.QualificationID,
		SnapshotID:      j.SnapshotID,
		Error:           j.Error,
		ErrorKind:       j.ErrorKind,
		Summary:         j.Summary,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
		CompletedAt:     j.CompletedAt,
	}
	if j.Summary != nil {
		v.Coverage = j.Summary.String()
	}
	return v
}

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var body createJobRequest
	if !decodeBody(w, r, &body) {
		return
	}
	id, err := s.d.Submitter.Submit(r.Context(), pipeline.Request{
		JobID:           body.JobID,
		ProfileIDs:      body.ProfileIDs,
		URLs:            body.ProfileURLs,
		QualificationID: body.QualificationID,
		OrganizationID:  body.OrganizationID,
	})
	if err != nil {
		if eris.Is(err, pipeline.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"jobId": id})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.d.Store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		internalError(w, r, err)
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, newJobView(job))
}

// getEnrichment returns null for a profile that has not been enriched yet.
func (s *Server) getEnrichment(w http.ResponseWriter, r *http.Request) {
	id, ok := int64Param(w, r, "id")
	if !ok {
		return
	}
	e, err := s.d.Store.GetEnrichment(r.Context(), id)
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) listQualifications(w http.ResponseWriter, r *http.Request) {
	id, ok := int64Param(w, r, "id")
	if !ok {
		return
	}
	results, err := s.d.Store.ListQualifications(r.Context(), id)
	if err != nil {
		internalError(w, r, err)
		return
	}
	if results == nil {
		results = []model.QualificationResult{}
	}
	writeJSON(w, http.StatusOK, results)
}
