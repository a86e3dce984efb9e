package api

import (
	"errors"
	"io"
	"net/http"

	"restaurant-service/internal/models"
	"restaurant-service/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// StartCheckoutRequest selects the plan to pay for
type StartCheckoutRequest struct {
	PlanID string `json:"planId" binding:"required"`
}

// ConfirmCheckoutRequest optionally names the session being confirmed
type ConfirmCheckoutRequest struct {
	ExternalID string `json:"externalId"`
}

// SetPlanActiveRequest toggles a plan
type SetPlanActiveRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// getPlans returns offered plans and the restaurant's subscription state
func (h *Handler) getPlans(c *gin.Context) {
	overview, err := h.subscriptions.Overview(c.Request.Context(), c.Param("slug"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, overview)
}

// startCheckout opens a checkout session for the chosen plan
func (h *Handler) startCheckout(c *gin.Context) {
	var req StartCheckoutRequest

	if err := bindJSON(c, &req); err != nil {
		writeBindError(c, err)
		return
	}

	slug := c.Param("slug")
	result, err := h.subscriptions.StartCheckout(c.Request.Context(), slug, req.PlanID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	if h.events != nil {
		event := &models.CheckoutStartedEvent{
			BaseEvent:      newBaseEvent(models.EventTypeCheckoutStarted),
			RestaurantSlug: slug,
			PlanID:         req.PlanID,
			ExternalID:     result.ExternalID,
			CheckoutURL:    result.CheckoutURL,
		}
		if err := h.events.PublishCheckoutStarted(c.Request.Context(), event); err != nil {
			h.logger.Error("Failed to publish CheckoutStarted event", zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"checkoutUrl": result.CheckoutURL,
		"sessionId":   result.SessionID,
		"provider":    result.Provider,
		"externalId":  result.ExternalID,
		"message":     "checkout session created",
	})
}

// confirmCheckout reconciles a completed checkout; the body is optional
func (h *Handler) confirmCheckout(c *gin.Context) {
	var req ConfirmCheckoutRequest

	if err := bindJSON(c, &req); err != nil && !errors.Is(err, io.EOF) {
		writeBindError(c, err)
		return
	}

	slug := c.Param("slug")
	result, err := h.subscriptions.ConfirmCheckout(c.Request.Context(), slug, req.ExternalID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	if result.Confirmed {
		h.publishActivated(c, slug, result)
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": result.Message,
	})
}

// cancelSubscription cancels an active or pending subscription
func (h *Handler) cancelSubscription(c *gin.Context) {
	slug := c.Param("slug")
	view, err := h.subscriptions.Cancel(c.Request.Context(), slug)
	if err != nil {
		h.writeError(c, err)
		return
	}

	if h.events != nil {
		event := &models.SubscriptionCanceledEvent{
			BaseEvent:      newBaseEvent(models.EventTypeSubscriptionCanceled),
			RestaurantSlug: slug,
		}
		if err := h.events.PublishSubscriptionCanceled(c.Request.Context(), event); err != nil {
			h.logger.Error("Failed to publish SubscriptionCanceled event", zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, gin.H{"subscription": view})
}

// listInvoices lists a restaurant's invoices, newest first
func (h *Handler) listInvoices(c *gin.Context) {
	invoices, err := h.subscriptions.ListInvoices(c.Request.Context(), c.Param("slug"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"invoices": invoices})
}

// savePlan creates or edits a plan
func (h *Handler) savePlan(c *gin.Context) {
	var req service.SavePlanRequest

	if err := bindJSON(c, &req); err != nil {
		writeBindError(c, err)
		return
	}

	plan, err := h.subscriptions.SavePlan(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, plan)
}

// setPlanActive toggles whether a plan is offered
func (h *Handler) setPlanActive(c *gin.Context) {
	var req SetPlanActiveRequest

	if err := bindJSON(c, &req); err != nil {
		writeBindError(c, err)
		return
	}

	plan, err := h.subscriptions.SetPlanActive(c.Request.Context(), c.Param("id"), *req.Active)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, plan)
}

func (h *Handler) publishActivated(c *gin.Context, slug string, result *service.ConfirmResult) {
	if h.events == nil {
		return
	}
	event := &models.SubscriptionActivatedEvent{
		BaseEvent:      newBaseEvent(models.EventTypeSubscriptionActivated),
		RestaurantSlug: slug,
		PlanID:         result.PlanID,
		ExternalID:     result.ExternalID,
	}
	if err := h.events.PublishSubscriptionActivated(c.Request.Context(), event); err != nil {
		h.logger.Error("Failed to publish SubscriptionActivated event", zap.Error(err))
	}
}
