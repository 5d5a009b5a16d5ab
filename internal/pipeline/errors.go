package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sells-group/lead-enricher/internal/poller"
	"github.com/sells-group/lead-enricher/internal/resilience"
	"github.com/sells-group/lead-enricher/internal/scorer"
	"github.com/sells-group/lead-enricher/pkg/brightdata"
	"github.com/sells-group/lead-enricher/pkg/objstore"
)

// ErrorKind classifies a stage-level failure.
type ErrorKind string

const (
	KindConfig         ErrorKind = "config"
	KindVendorRejected ErrorKind = "vendor_rejected"
	KindTimeout        ErrorKind = "timeout"
	KindParse          ErrorKind = "parse"
	KindStore          ErrorKind = "store"
)

// StageError is returned by RunJob when a stage fails the whole job.
type StageError struct {
	Kind      ErrorKind
	Stage     string
	Retryable bool
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline: %s failed (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether a failed job is worth another attempt. Stage
// errors carry their own verdict; anything else falls back to transient
// classification.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var se *StageError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return resilience.IsTransient(err)
}

// Kind returns the classification of err, or "" when err is not a
// StageError.
func Kind(err error) ErrorKind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

func configError(stage string, err error) *StageError {
	return &StageError{Kind: KindConfig, Stage: stage, Err: err}
}

func storeError(stage string, err error) *StageError {
	return &StageError{Kind: KindStore, Stage: stage, Retryable: true, Err: err}
}

// classifyTrigger maps a vendor trigger failure. Throttling and server
// errors are retryable rejections; missing credentials never are.
func classifyTrigger(err error) *StageError {
	if errors.Is(err, brightdata.ErrMissingCredentials) {
		return configError("trigger", err)
	}
	var apiErr *brightdata.APIError
	if errors.As(err, &apiErr) {
		return &StageError{
			Kind:      KindVendorRejected,
			Stage:     "trigger",
			Retryable: resilience.IsTransientHTTPStatus(apiErr.StatusCode) || apiErr.StatusCode >= http.StatusInternalServerError,
			Err:       err,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &StageError{Kind: KindTimeout, Stage: "trigger", Retryable: true, Err: err}
	}
	return &StageError{Kind: KindVendorRejected, Stage: "trigger", Retryable: resilience.IsTransient(err), Err: err}
}

func classifyPoll(err error) *StageError {
	var pe *poller.ParseError
	if errors.As(err, &pe) {
		return &StageError{Kind: KindParse, Stage: "poll", Err: err}
	}
	if errors.Is(err, objstore.ErrBucketNotExist) {
		return configError("poll", err)
	}
	return &StageError{Kind: KindTimeout, Stage: "poll", Retryable: true, Err: err}
}

func classifyRubric(err error) *StageError {
	if errors.Is(err, scorer.ErrJudgeNotConfigured) || errors.Is(err, ErrRubricNotFound) {
		return configError("rubric", err)
	}
	return storeError("rubric", err)
}
