package pipeline

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-enricher/internal/resilience"
	"github.com/sells-group/lead-enricher/pkg/brightdata"
	brightdatamocks "github.com/sells-group/lead-enricher/pkg/brightdata/mocks"
)

func TestVendorTrips(t *testing.T) {
	assert.False(t, VendorTrips(nil))
	assert.False(t, VendorTrips(brightdata.ErrMissingCredentials))
	assert.False(t, VendorTrips(&brightdata.APIError{StatusCode: http.StatusUnauthorized}))
	assert.False(t, VendorTrips(context.Canceled))
	assert.True(t, VendorTrips(&brightdata.APIError{StatusCode: http.StatusBadGateway}))
	assert.True(t, VendorTrips(&brightdata.APIError{StatusCode: http.StatusTooManyRequests}))
	assert.True(t, VendorTrips(errors.New("connection reset by peer")))
}

func TestGuardVendor_OpensAndFailsFast(t *testing.T) {
	inner := brightdatamocks.NewMockClient(t)
	inner.On("Trigger", mock.Anything, mock.Anything).
		Return("", &brightdata.APIError{StatusCode: http.StatusBadGateway}).Twice()

	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Hour,
		ShouldTrip:       VendorTrips,
	})
	vendor := GuardVendor(inner, cb)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := vendor.Trigger(ctx, []string{janeURL})
		require.Error(t, err)
	}
	assert.Equal(t, resilience.CircuitOpen, cb.State())

	_, err := vendor.Trigger(ctx, []string{janeURL})
	require.Error(t, err)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.True(t, resilience.IsTransient(err))
	assert.True(t, classifyTrigger(err).Retryable)
}

func TestGuardVendor_PassesThrough(t *testing.T) {
	inner := brightdatamocks.NewMockClient(t)
	inner.On("Trigger", mock.Anything, []string{janeURL}).Return("s_1", nil).Once()

	vendor := GuardVendor(inner, resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig()))
	id, err := vendor.Trigger(context.Background(), []string{janeURL})
	require.NoError(t, err)
	assert.Equal(t, "s_1", id)
}
