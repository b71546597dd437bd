package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	checkoutdomain "github.com/snapvend/snapvend/internal/checkout/domain"
	eventdomain "github.com/snapvend/snapvend/internal/event/domain"
	"github.com/snapvend/snapvend/internal/gateway"
	idemdomain "github.com/snapvend/snapvend/internal/idempotency/domain"
	plandomain "github.com/snapvend/snapvend/internal/plan/domain"
	providerdomain "github.com/snapvend/snapvend/internal/providers/domain"
	subdomain "github.com/snapvend/snapvend/internal/subscription/domain"
)

func perform(t *testing.T, err error) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	writeError(c, err)
	return rec
}

func TestWriteErrorStatusCodes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"missing idempotency key", checkoutdomain.ErrMissingIdempotencyKey, http.StatusBadRequest},
		{"missing email", checkoutdomain.ErrMissingCustomerEmail, http.StatusBadRequest},
		{"empty basket", checkoutdomain.ErrNothingToPurchase, http.StatusBadRequest},
		{"no payment method", checkoutdomain.ErrNoPaymentMethod, http.StatusBadRequest},
		{"event not found", eventdomain.ErrEventNotFound, http.StatusNotFound},
		{"plan not found", plandomain.ErrPlanNotFound, http.StatusNotFound},
		{"creator plan required", checkoutdomain.ErrCreatorPlanRequired, http.StatusForbidden},
		{"owner mismatch", subdomain.ErrOwnerMismatch, http.StatusForbidden},
		{"key reused", idemdomain.ErrKeyReused, http.StatusConflict},
		{"in flight", idemdomain.ErrInFlight, http.StatusConflict},
		{"bad signature", providerdomain.ErrInvalidSignature, http.StatusUnauthorized},
		{"unknown provider", providerdomain.ErrProviderNotFound, http.StatusNotFound},
		{"missing plan mapping", subdomain.ErrMissingPlanMapping, http.StatusServiceUnavailable},
		{"provider outage", errors.New("stripe: 500"), http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := perform(t, tc.err)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestWriteErrorRateLimited(t *testing.T) {
	rec := perform(t, &checkoutdomain.RateLimitedError{RetryAfter: 30 * time.Second})

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "31", rec.Header().Get("Retry-After"))
}

func TestWriteErrorAlreadyOwnedListsMedia(t *testing.T) {
	rec := perform(t, &checkoutdomain.AlreadyOwnedError{MediaIDs: []string{"m1", "m7"}})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"alreadyOwned":["m1","m7"]`)
}

func TestWriteErrorRetryWithGateway(t *testing.T) {
	rec := perform(t, &checkoutdomain.RetryWithGatewayError{Selected: "paystack", Suggested: "stripe"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"suggestedGateway":"stripe"`)
}

func TestWriteErrorSelectionFailClosed(t *testing.T) {
	rec := perform(t, &gateway.SelectionError{
		Code:       gateway.CodeNoEligibleGateway,
		FailClosed: true,
		Message:    "payee has no active account on any configured gateway",
	})

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), gateway.CodeNoEligibleGateway)
}

func TestWriteErrorNeverLeaksProviderBody(t *testing.T) {
	rec := perform(t, errors.New(`stripe: {"error":{"message":"No such customer: cus_123"}}`))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.NotContains(t, rec.Body.String(), "cus_123")
}
