package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderCreated          = "ORDER_CREATED"
	EventTypeOrderStatusChanged    = "ORDER_STATUS_CHANGED"
	EventTypeCheckoutStarted       = "CHECKOUT_STARTED"
	EventTypeCheckoutCompleted     = "CHECKOUT_COMPLETED"
	EventTypeSubscriptionActivated = "SUBSCRIPTION_ACTIVATED"
	EventTypeSubscriptionCanceled  = "SUBSCRIPTION_CANCELED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published when an order is accepted
type OrderCreatedEvent struct {
	BaseEvent
	OrderID        string          `json:"order_id"`
	RestaurantSlug string          `json:"restaurant_slug"`
	Total          decimal.Decimal `json:"total"`
	PaymentMethod  PaymentMethod   `json:"payment_method"`
	Items          []OrderItemData `json:"items"`
}

// OrderStatusChangedEvent published after a forward transition
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID        string      `json:"order_id"`
	RestaurantSlug string      `json:"restaurant_slug"`
	From           OrderStatus `json:"from"`
	To             OrderStatus `json:"to"`
	CustomerPhone  string      `json:"customer_phone,omitempty"`
}

// CheckoutStartedEvent published when a checkout session is opened
type CheckoutStartedEvent struct {
	BaseEvent
	RestaurantSlug string `json:"restaurant_slug"`
	PlanID         string `json:"plan_id"`
	ExternalID     string `json:"external_id"`
	CheckoutURL    string `json:"checkout_url"`
}

// CheckoutCompletedEvent is consumed from the billing topic; it carries a
// gateway confirmation that arrived out of band
type CheckoutCompletedEvent struct {
	BaseEvent
	RestaurantSlug string `json:"restaurant_slug"`
	ExternalID     string `json:"external_id"`
	SessionID      string `json:"session_id,omitempty"`
}

// SubscriptionActivatedEvent published when a checkout is reconciled
type SubscriptionActivatedEvent struct {
	BaseEvent
	RestaurantSlug string `json:"restaurant_slug"`
	PlanID         string `json:"plan_id"`
	ExternalID     string `json:"external_id"`
}

// SubscriptionCanceledEvent published when a restaurant cancels
type SubscriptionCanceledEvent struct {
	BaseEvent
	RestaurantSlug string `json:"restaurant_slug"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}
