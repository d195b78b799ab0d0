// Package billing receives Stripe checkout webhooks and records them as
// conversions, so storefronts using Stripe Checkout don't need to call
// /api/convert from their own backend.
//
// The storefront snippet sets the ExitGuard session id as the checkout
// session's client_reference_id; that is the join key back to the tracked
// session.
package billing

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"

	"github.com/exitguard/exitguard/internal/logging"
	"github.com/exitguard/exitguard/internal/session"
	"github.com/exitguard/exitguard/internal/tracker"
	"github.com/exitguard/exitguard/internal/validation"
)

// maxWebhookBody caps the Stripe payload size.
const maxWebhookBody = 64 * 1024

// Handler processes inbound Stripe webhooks.
type Handler struct {
	tracker       *tracker.Service
	signingSecret string
}

// NewHandler creates a Stripe webhook handler. signingSecret comes from the
// Stripe dashboard's webhook endpoint settings.
func NewHandler(tracker *tracker.Service, signingSecret string) *Handler {
	return &Handler{tracker: tracker, signingSecret: signingSecret}
}

// RegisterRoutes sets up the webhook route. Stripe signs requests itself,
// so the route carries no API-key middleware.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/stripe", h.HandleWebhook)
}

// HandleWebhook handles POST /api/webhooks/stripe
func (h *Handler) HandleWebhook(c *gin.Context) {
	ctx := c.Request.Context()

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
		return
	}

	event, err := webhook.ConstructEvent(payload, c.GetHeader("Stripe-Signature"), h.signingSecret)
	if err != nil {
		logging.L(ctx).Warn("stripe signature verification failed", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_signature"})
		return
	}

	if event.Type != "checkout.session.completed" {
		// Acknowledge everything else so Stripe stops retrying
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	var checkout stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &checkout); err != nil {
		logging.L(ctx).Error("stripe event decode failed", "error", err, "event_id", event.ID)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_event"})
		return
	}

	sessionID := checkout.ClientReferenceID
	if !validation.IsValidSessionID(sessionID) {
		// Checkout not initiated by a tracked visit; nothing to attribute
		logging.L(ctx).Info("stripe checkout without tracked session", "event_id", event.ID)
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	orderValue := float64(checkout.AmountTotal) / 100

	result, err := h.tracker.RecordConversion(ctx, sessionID, orderValue, time.Now().UnixMilli())
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			// Session already expired; acknowledge so Stripe stops retrying
			logging.L(ctx).Info("stripe conversion for expired session",
				"session_id", sessionID, "event_id", event.ID)
			c.JSON(http.StatusOK, gin.H{"received": true})
			return
		}
		logging.L(ctx).Error("stripe conversion failed", "error", err, "session_id", sessionID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	logging.L(ctx).Info("stripe conversion recorded",
		"session_id", sessionID,
		"order_value", orderValue,
		"salvaged", result.Salvaged)

	c.JSON(http.StatusOK, gin.H{
		"received":          true,
		"salvaged":          result.Salvaged,
		"conversion_status": result.ConversionStatus,
	})
}
