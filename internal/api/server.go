// Package api exposes job status, enrichment and qualification reads to the
// CRUD app and the trusted internal callbacks used by collaborators.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/lead-enricher/internal/model"
	"github.com/sells-group/lead-enricher/internal/pipeline"
	"github.com/sells-group/lead-enricher/internal/store"
)

// SecretHeader carries the pre-shared secret on internal routes.
const SecretHeader = "X-Internal-Secret"

// maxBodyBytes bounds request bodies. Raw vendor payloads can be large.
const maxBodyBytes = 10 << 20

// Submitter accepts new jobs and captures.
type Submitter interface {
	Submit(ctx context.Context, req pipeline.Request) (string, error)
	Capture(ctx context.Context, req pipeline.CaptureRequest) (*pipeline.CaptureResult, error)
}

// Enricher stores enrichment delivered outside a job.
type Enricher interface {
	EnrichProfile(ctx context.Context, profileID int64, e *model.Enrichment) error
	EnrichByHandle(ctx context.Context, handle string, e *model.Enrichment) (*pipeline.HandleResult, error)
}

// Recorder stores a qualification result computed elsewhere.
type Recorder interface {
	Record(ctx context.Context, profileID, rubricID int64, score float64, reasoning string) (*model.QualificationResult, error)
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps wires the server.
type Deps struct {
	Store     store.Store
	Submitter Submitter
	Enricher  Enricher
	Recorder  Recorder
	Queue     Pinger
	// Breakers reports circuit breaker states on /health. Optional.
	Breakers func() map[string]string
	// InternalSecret guards /internal. Empty disables those routes.
	InternalSecret string
	// AllowedOrigins for CORS on /v1.
	AllowedOrigins []string
}

// Server holds the handlers.
type Server struct {
	d Deps
}

// NewRouter builds the HTTP handler.
func NewRouter(d Deps) http.Handler {
	s := &Server{d: d}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.health)

	r.Route("/v1", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: d.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
		r.Post("/jobs", s.createJob)
		r.Get("/jobs/{id}", s.getJob)
		r.Get("/profiles/{id}/enrichment", s.getEnrichment)
		r.Get("/profiles/{id}/qualifications", s.listQualifications)
	})

	if d.InternalSecret == "" {
		zap.L().Warn("api: internal secret not set, internal routes disabled")
	}
	r.Route("/internal", func(r chi.Router) {
		r.Use(requireSecret(d.InternalSecret))
		r.Post("/jobs/{id}/status", s.updateJobStatus)
		r.Put("/profiles/{id}/enrichment", s.putProfileEnrichment)
		r.Put("/handles/{handle}/enrichment", s.putHandleEnrichment)
		r.Put("/profiles/{id}/qualifications/{rubricID}", s.putQualification)
		r.Post("/captures", s.createCapture)
	})

	return r
}

// requireSecret compares the header in constant time. An empty configured
// secret rejects everything.
func requireSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(SecretHeader)
			if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	body := map[string]any{"status": "ok"}
	checks := map[string]string{}

	if err := s.d.Store.Ping(ctx); err != nil {
		checks["store"] = err.Error()
		status = http.StatusServiceUnavailable
	} else {
		checks["store"] = "ok"
	}
	if s.d.Queue != nil {
		if err := s.d.Queue.Ping(ctx); err != nil {
			checks["queue"] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			checks["queue"] = "ok"
		}
	}
	body["checks"] = checks
	if s.d.Breakers != nil {
		body["breakers"] = s.d.Breakers()
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// internalError logs err and hides it from the caller.
func internalError(w http.ResponseWriter, r *http.Request, err error) {
	zap.L().Error("api: request failed",
		zap.String("path", r.URL.Path),
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func int64Param(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || v <= 0 {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return v, true
}
