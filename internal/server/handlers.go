package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	checkoutdomain "github.com/snapvend/snapvend/internal/checkout/domain"
	plandomain "github.com/snapvend/snapvend/internal/plan/domain"
	subdomain "github.com/snapvend/snapvend/internal/subscription/domain"
	webhookdomain "github.com/snapvend/snapvend/internal/webhook/domain"
)

type handlers struct {
	checkout      checkoutdomain.Service
	subscriptions subdomain.Service
	webhooks      webhookdomain.Service
	log           *zap.Logger
}

// idempotencyKey reads the Idempotency-Key header, falling back to the
// body field for older clients. The fallback is deprecated and flagged
// with a Warning header so clients can migrate.
func idempotencyKey(c *gin.Context, bodyKey string) string {
	if key := strings.TrimSpace(c.GetHeader("Idempotency-Key")); key != "" {
		return key
	}
	if bodyKey != "" {
		c.Header("Warning", `299 snapvend "idempotencyKey in request body is deprecated; use the Idempotency-Key header"`)
	}
	return strings.TrimSpace(bodyKey)
}

// actorID parses the authenticated user injected by the upstream auth
// proxy. Zero means anonymous.
func actorID(c *gin.Context) snowflake.ID {
	raw := strings.TrimSpace(c.GetHeader("X-User-ID"))
	if raw == "" {
		return 0
	}
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return 0
	}
	return id
}

type checkoutRequest struct {
	EventID        string   `json:"eventId" binding:"required"`
	MediaIDs       []string `json:"mediaIds"`
	UnlockAll      bool     `json:"unlockAll"`
	Provider       string   `json:"provider"`
	Currency       string   `json:"currency"`
	CustomerEmail  string   `json:"customerEmail"`
	IdempotencyKey string   `json:"idempotencyKey"`
}

func (h *handlers) createCheckout(c *gin.Context) {
	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	eventID, err := snowflake.ParseString(req.EventID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event id"})
		return
	}

	outcome, err := h.checkout.CreateSession(c.Request.Context(), checkoutdomain.CreateSessionInput{
		EventID:        eventID,
		BuyerID:        actorID(c),
		CustomerEmail:  req.CustomerEmail,
		MediaIDs:       req.MediaIDs,
		UnlockAll:      req.UnlockAll,
		Provider:       req.Provider,
		Currency:       req.Currency,
		IdempotencyKey: idempotencyKey(c, req.IdempotencyKey),
		ClientIP:       c.ClientIP(),
	})
	if err != nil {
		_ = c.Error(err)
		writeError(c, err)
		return
	}
	if outcome.Replayed {
		c.Header("Idempotency-Replayed", "true")
	}
	c.Data(outcome.Code, "application/json", outcome.Body)
}

type subscriptionCheckoutRequest struct {
	Scope          string `json:"scope"`
	PlanCode       string `json:"planCode" binding:"required"`
	BillingCycle   string `json:"billingCycle"`
	Currency       string `json:"currency"`
	CountryCode    string `json:"countryCode"`
	Provider       string `json:"provider"`
	CustomerEmail  string `json:"customerEmail"`
	IdempotencyKey string `json:"idempotencyKey"`
}

func (h *handlers) createSubscriptionCheckout(c *gin.Context) {
	var req subscriptionCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	owner := actorID(c)
	if owner == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	scope := req.Scope
	if scope == "" {
		scope = plandomain.ScopeCreator
	}

	outcome, err := h.subscriptions.Checkout(c.Request.Context(), subdomain.CheckoutInput{
		OwnerID:        owner,
		Scope:          scope,
		PlanCode:       req.PlanCode,
		BillingCycle:   req.BillingCycle,
		Currency:       req.Currency,
		CountryCode:    req.CountryCode,
		Provider:       req.Provider,
		CustomerEmail:  req.CustomerEmail,
		IdempotencyKey: idempotencyKey(c, req.IdempotencyKey),
	})
	if err != nil {
		_ = c.Error(err)
		writeError(c, err)
		return
	}
	if outcome.Replayed {
		c.Header("Idempotency-Replayed", "true")
	}
	c.Data(outcome.Code, "application/json", outcome.Body)
}

type verifyRequest struct {
	Scope     string `json:"scope"`
	Provider  string `json:"provider" binding:"required"`
	Reference string `json:"reference" binding:"required"`
}

// verifySubscription is the manual fallback for clients whose redirect
// landed before the provider webhook. forceScope pins the vault route to
// its scope regardless of what the body says.
func (h *handlers) verifySubscription(forceScope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req verifyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		owner := actorID(c)
		if owner == 0 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		scope := forceScope
		if scope == "" {
			scope = req.Scope
		}
		if scope == "" {
			scope = plandomain.ScopeAttendee
		}

		sub, err := h.subscriptions.Verify(c.Request.Context(), subdomain.VerifyInput{
			OwnerID:   owner,
			Scope:     scope,
			Provider:  req.Provider,
			Reference: req.Reference,
		})
		if err != nil {
			_ = c.Error(err)
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"subscriptionId":   sub.ID.String(),
			"status":           sub.Status,
			"planCode":         sub.PlanCode,
			"currentPeriodEnd": sub.CurrentPeriodEnd,
		})
	}
}

func (h *handlers) handleWebhook(c *gin.Context) {
	payload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable payload"})
		return
	}

	result, err := h.webhooks.Handle(c.Request.Context(), c.Param("provider"), payload, c.Request.Header)
	if err != nil {
		_ = c.Error(err)
		writeError(c, err)
		return
	}
	if result.Duplicate {
		c.JSON(result.Code, gin.H{"status": "duplicate"})
		return
	}
	c.JSON(result.Code, gin.H{"status": "ok"})
}
