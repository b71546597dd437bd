package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	checkoutdomain "github.com/snapvend/snapvend/internal/checkout/domain"
	eventdomain "github.com/snapvend/snapvend/internal/event/domain"
	"github.com/snapvend/snapvend/internal/fees"
	"github.com/snapvend/snapvend/internal/gateway"
	idemdomain "github.com/snapvend/snapvend/internal/idempotency/domain"
	plandomain "github.com/snapvend/snapvend/internal/plan/domain"
	providerdomain "github.com/snapvend/snapvend/internal/providers/domain"
	subdomain "github.com/snapvend/snapvend/internal/subscription/domain"
)

// writeError maps a domain error to its HTTP shape. Configuration errors
// fail closed, concurrency conflicts are 409, and anything unrecognized is
// a generic 502 so provider error strings never leak to clients.
func writeError(c *gin.Context, err error) {
	var rateLimited *checkoutdomain.RateLimitedError
	if errors.As(err, &rateLimited) {
		c.Header("Retry-After", strconv.Itoa(int(rateLimited.RetryAfter.Seconds())+1))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited"})
		return
	}

	var alreadyOwned *checkoutdomain.AlreadyOwnedError
	if errors.As(err, &alreadyOwned) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":        "already_owned",
			"alreadyOwned": alreadyOwned.MediaIDs,
		})
		return
	}

	var retryWith *checkoutdomain.RetryWithGatewayError
	if errors.As(err, &retryWith) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":            "no_payee_account_for_gateway",
			"selectedGateway":  retryWith.Selected,
			"suggestedGateway": retryWith.Suggested,
		})
		return
	}

	var selection *gateway.SelectionError
	if errors.As(err, &selection) {
		status := http.StatusBadRequest
		if selection.FailClosed {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"error":      selection.Message,
			"code":       selection.Code,
			"failClosed": selection.FailClosed,
		})
		return
	}

	switch {
	case errors.Is(err, checkoutdomain.ErrMissingIdempotencyKey),
		errors.Is(err, checkoutdomain.ErrMissingCustomerEmail),
		errors.Is(err, checkoutdomain.ErrNothingToPurchase),
		errors.Is(err, checkoutdomain.ErrNoPaymentMethod),
		errors.Is(err, subdomain.ErrMissingIdempotency),
		errors.Is(err, fees.ErrNoTierForCount),
		errors.Is(err, fees.ErrInvalidAmount),
		errors.Is(err, fees.ErrNoExchangeRate),
		errors.Is(err, fees.ErrUnknownProvider),
		errors.Is(err, plandomain.ErrPriceNotFound):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

	case errors.Is(err, providerdomain.ErrInvalidSignature):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_signature"})

	case errors.Is(err, checkoutdomain.ErrCreatorPlanRequired):
		c.JSON(http.StatusForbidden, gin.H{
			"error": "creator must have an active paid subscription to accept payments",
		})

	case errors.Is(err, subdomain.ErrOwnerMismatch):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})

	case errors.Is(err, eventdomain.ErrEventNotFound),
		errors.Is(err, plandomain.ErrPlanNotFound),
		errors.Is(err, providerdomain.ErrProviderNotFound),
		errors.Is(err, providerdomain.ErrSessionNotFound),
		errors.Is(err, subdomain.ErrSubscriptionNotFound),
		errors.Is(err, checkoutdomain.ErrTransactionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})

	case errors.Is(err, idemdomain.ErrKeyReused):
		c.JSON(http.StatusConflict, gin.H{"error": "idempotency key reused with different payload"})

	case errors.Is(err, idemdomain.ErrInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": "request with this idempotency key is in flight"})

	case errors.Is(err, subdomain.ErrMissingPlanMapping):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":      "no provider plan mapping configured for this plan",
			"code":       "missing_provider_plan_mapping",
			"failClosed": true,
		})

	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": "payment_provider_error"})
	}
}

// errorClass buckets an error for request logging without leaking payloads.
func errorClass(err error) (string, string) {
	switch {
	case err == nil:
		return "", ""
	case errors.Is(err, idemdomain.ErrKeyReused), errors.Is(err, idemdomain.ErrInFlight):
		return "conflict", err.Error()
	case errors.Is(err, providerdomain.ErrInvalidSignature):
		return "auth", "invalid_signature"
	default:
		return "domain", err.Error()
	}
}
