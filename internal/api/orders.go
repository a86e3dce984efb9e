package api

import (
	"net/http"
	"time"

	"restaurant-service/internal/models"
	"restaurant-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AdvanceOrderRequest moves an order to the next status
type AdvanceOrderRequest struct {
	Status models.OrderStatus `json:"status" binding:"required"`
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest

	if err := bindJSON(c, &req); err != nil {
		writeBindError(c, err)
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	order, created, err := h.orders.Create(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.respondCreatedOrder(c, order, created)
}

// createManualOrder records a staff-entered order
func (h *Handler) createManualOrder(c *gin.Context) {
	var req service.ManualOrderRequest

	if err := bindJSON(c, &req); err != nil {
		writeBindError(c, err)
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}

	order, created, err := h.orders.CreateManual(c.Request.Context(), c.Param("slug"), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.respondCreatedOrder(c, order, created)
}

func (h *Handler) respondCreatedOrder(c *gin.Context, order *models.Order, created bool) {
	if !created {
		c.JSON(http.StatusOK, order)
		return
	}

	if h.events != nil {
		items := make([]models.OrderItemData, 0, len(order.Items))
		for _, item := range order.Items {
			items = append(items, models.OrderItemData{
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
				UnitPrice: item.Price,
			})
		}

		event := &models.OrderCreatedEvent{
			BaseEvent:      newBaseEvent(models.EventTypeOrderCreated),
			OrderID:        order.ID,
			RestaurantSlug: order.RestaurantSlug,
			Total:          order.Total,
			PaymentMethod:  order.PaymentMethod,
			Items:          items,
		}
		if err := h.events.PublishOrderCreated(c.Request.Context(), event); err != nil {
			h.logger.Error("Failed to publish OrderCreated event", zap.Error(err))
		}
	}

	c.JSON(http.StatusCreated, order)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	order, err := h.orders.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

// advanceOrder moves an order forward. Customer notification is left to
// consumers of the status event.
func (h *Handler) advanceOrder(c *gin.Context) {
	var req AdvanceOrderRequest

	if err := bindJSON(c, &req); err != nil {
		writeBindError(c, err)
		return
	}

	order, from, err := h.orders.Advance(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		h.writeError(c, err)
		return
	}

	if h.events != nil {
		event := &models.OrderStatusChangedEvent{
			BaseEvent:      newBaseEvent(models.EventTypeOrderStatusChanged),
			OrderID:        order.ID,
			RestaurantSlug: order.RestaurantSlug,
			From:           from,
			To:             order.Status,
			CustomerPhone:  order.Customer.Phone,
		}
		if err := h.events.PublishOrderStatusChanged(c.Request.Context(), event); err != nil {
			h.logger.Error("Failed to publish OrderStatusChanged event", zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, order)
}

// listOrders lists a restaurant's orders, optionally filtered by ?status=
func (h *Handler) listOrders(c *gin.Context) {
	orders, err := h.orders.ListByRestaurant(c.Request.Context(), c.Param("slug"), models.OrderStatus(c.Query("status")))
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}
