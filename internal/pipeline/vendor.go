package pipeline

import (
	"context"
	"errors"
	"net/http"

	"github.com/sells-group/lead-enricher/internal/resilience"
	"github.com/sells-group/lead-enricher/pkg/brightdata"
)

// guardedVendor runs triggers through a circuit breaker.
type guardedVendor struct {
	next brightdata.Client
	cb   *resilience.CircuitBreaker
}

// GuardVendor wraps a vendor client with cb. While the circuit is open
// triggers fail fast with a transient error, so the job is retried later
// instead of dead-lettered.
func GuardVendor(next brightdata.Client, cb *resilience.CircuitBreaker) brightdata.Client {
	return &guardedVendor{next: next, cb: cb}
}

// VendorTrips reports whether a trigger error says the vendor itself is
// unhealthy. Rejections of the request do not count.
func VendorTrips(err error) bool {
	if err == nil || errors.Is(err, brightdata.ErrMissingCredentials) {
		return false
	}
	var apiErr *brightdata.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= http.StatusInternalServerError || apiErr.StatusCode == http.StatusTooManyRequests
	}
	return !errors.Is(err, context.Canceled)
}

func (g *guardedVendor) Trigger(ctx context.Context, urls []string) (string, error) {
	id, err := resilience.ExecuteVal(ctx, g.cb, func(ctx context.Context) (string, error) {
		return g.next.Trigger(ctx, urls)
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return "", resilience.NewTransientError(err, http.StatusServiceUnavailable)
	}
	return id, err
}
