package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-enricher/internal/jobstate"
	"github.com/sells-group/lead-enricher/internal/model"
	"github.com/sells-group/lead-enricher/internal/pipeline"
	"github.com/sells-group/lead-enricher/internal/reconcile"
)

type statusRequest struct {
	State      string            `json:"state"`
	SnapshotID string            `json:"snapshotId"`
	Error      string            `json:"error"`
	ErrorKind  string            `json:"errorKind"`
	Summary    *model.JobSummary `json:"summary"`
}

// updateJobStatus applies a trusted state update through the state machine.
func (s *Server) updateJobStatus(w http.ResponseWriter, r *http.Request) {
	var body statusRequest
	if !decodeBody(w, r, &body) {
		return
	}
	to, err := jobstate.ParseState(body.State)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()
	job, err := s.d.Store.GetJob(ctx, chi.URLParam(r, "id"))
	if err != nil {
		internalError(w, r, err)
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	var opts []jobstate.Option
	if body.SnapshotID != "" {
		opts = append(opts, jobstate.WithSnapshot(body.SnapshotID))
	}
	if body.Error != "" {
		opts = append(opts, jobstate.WithError(body.Error, body.ErrorKind))
	}
	if body.Summary != nil {
		opts = append(opts, jobstate.WithSummary(*body.Summary))
	}
	if err := jobstate.NewMachine(s.d.Store).Transition(ctx, job, to, opts...); err != nil {
		if eris.Is(err, jobstate.ErrIllegalTransition) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newJobView(job))
}

func (s *Server) putProfileEnrichment(w http.ResponseWriter, r *http.Request) {
	id, ok := int64Param(w, r, "id")
	if !ok {
		return
	}
	var e model.Enrichment
	if !decodeBody(w, r, &e) {
		return
	}
	if err := s.d.Enricher.EnrichProfile(r.Context(), id, &e); err != nil {
		if eris.Is(err, pipeline.ErrProfileNotFound) {
			writeError(w, http.StatusNotFound, "profile not found")
			return
		}
		internalError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// putHandleEnrichment fans one enrichment out to every profile sharing the
// handle, in any organization.
func (s *Server) putHandleEnrichment(w http.ResponseWriter, r *http.Request) {
	var e model.Enrichment
	if !decodeBody(w, r, &e) {
		return
	}
	res, err := s.d.Enricher.EnrichByHandle(r.Context(), chi.URLParam(r, "handle"), &e)
	if err != nil {
		if eris.Is(err, reconcile.ErrNoHandle) {
			writeError(w, http.StatusBadRequest, "invalid handle")
			return
		}
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type qualificationRequest struct {
	Score     *float64 `json:"score"`
	Reasoning string   `json:"reasoning"`
}

func (s *Server) putQualification(w http.ResponseWriter, r *http.Request) {
	profileID, ok := int64Param(w, r, "id")
	if !ok {
		return
	}
	rubricID, ok := int64Param(w, r, "rubricID")
	if !ok {
		return
	}
	var body qualificationRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Score == nil {
		writeError(w, http.StatusBadRequest, "score is required")
		return
	}

	ctx := r.Context()
	profile, err := s.d.Store.GetProfile(ctx, profileID)
	if err != nil {
		internalError(w, r, err)
		return
	}
	if profile == nil {
		writeError(w, http.StatusNotFound, "profile not found")
		return
	}
	rubric, err := s.d.Store.GetRubric(ctx, rubricID)
	if err != nil {
		internalError(w, r, err)
		return
	}
	if rubric == nil || rubric.OrganizationID != profile.OrganizationID {
		writeError(w, http.StatusNotFound, "rubric not found")
		return
	}

	res, err := s.d.Recorder.Record(ctx, profileID, rubricID, *body.Score, body.Reasoning)
	if err != nil {
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type captureRequest struct {
	OrganizationID  string `json:"organizationId"`
	QualificationID *int64 `json:"qualificationId"`
	Captures        []struct {
		URL           string          `json:"url"`
		DisplayName   string          `json:"displayName"`
		RawAttributes json.RawMessage `json:"rawAttributes"`
	} `json:"captures"`
}

func (s *Server) createCapture(w http.ResponseWriter, r *http.Request) {
	var body captureRequest
	if !decodeBody(w, r, &body) {
		return
	}
	req := pipeline.CaptureRequest{
		OrganizationID:  body.OrganizationID,
		QualificationID: body.QualificationID,
		Captures:        make([]pipeline.Capture, 0, len(body.Captures)),
	}
	for _, c := range body.Captures {
		req.Captures = append(req.Captures, pipeline.Capture{
			URL:           c.URL,
			DisplayName:   c.DisplayName,
			RawAttributes: c.RawAttributes,
		})
	}
	res, err := s.d.Submitter.Capture(r.Context(), req)
	if err != nil {
		if eris.Is(err, pipeline.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"jobId":      res.JobID,
		"profileIds": res.ProfileIDs,
		"rejected":   res.Rejected,
	})
}
