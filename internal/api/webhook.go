package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"restaurant-service/internal/apperr"
	"restaurant-service/internal/billing"
	"restaurant-service/internal/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

// billingWebhook verifies a provider callback and confirms the checkout it
// names. When the store cannot take the write, the confirmation is queued
// for the billing worker instead.
func (h *Handler) billingWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		writeBindError(c, err)
		return
	}

	tolerance := h.opts.WebhookTolerance
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	if err := billing.VerifySignature(payload, c.GetHeader("Stripe-Signature"), h.opts.WebhookSecret, tolerance, time.Now()); err != nil {
		h.logger.Warn("Rejected billing webhook", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid signature",
			"code":  "invalid_signature",
		})
		return
	}

	event, err := billing.ParseCheckoutCompleted(payload)
	if errors.Is(err, billing.ErrEventIgnored) {
		c.JSON(http.StatusOK, gin.H{"received": true, "ignored": true})
		return
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid payload",
			"code":  "invalid_payload",
		})
		return
	}

	result, err := h.subscriptions.ConfirmCheckout(c.Request.Context(), event.RestaurantSlug, event.ExternalID)
	if err != nil {
		if retryable(err) && h.deferCheckout(c, event) {
			c.JSON(http.StatusAccepted, gin.H{"received": true, "queued": true})
			return
		}
		h.writeError(c, err)
		return
	}

	if result.Confirmed {
		h.publishActivated(c, event.RestaurantSlug, result)
	}

	c.JSON(http.StatusOK, gin.H{
		"received":  true,
		"confirmed": result.Confirmed,
		"message":   result.Message,
	})
}

func (h *Handler) deferCheckout(c *gin.Context, event *billing.CheckoutCompleted) bool {
	if h.opts.Deferred == nil {
		return false
	}

	deferred := &models.CheckoutCompletedEvent{
		BaseEvent:      newBaseEvent(models.EventTypeCheckoutCompleted),
		RestaurantSlug: event.RestaurantSlug,
		ExternalID:     event.ExternalID,
		SessionID:      event.SessionID,
	}
	deferred.EventID = event.EventID

	if err := h.opts.Deferred.PublishCheckoutCompleted(c.Request.Context(), deferred); err != nil {
		h.logger.Error("Failed to queue checkout confirmation",
			zap.String("restaurant", event.RestaurantSlug),
			zap.String("external_id", event.ExternalID),
			zap.Error(err))
		return false
	}

	h.logger.Info("Queued checkout confirmation",
		zap.String("restaurant", event.RestaurantSlug),
		zap.String("external_id", event.ExternalID))
	return true
}

func retryable(err error) bool {
	if errors.Is(err, apperr.ErrTenantBusy) {
		return true
	}
	e, ok := apperr.As(err)
	return ok && e.Kind == apperr.KindStoreUnavailable
}
