package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SubscriptionStatus is the stored billing state of a restaurant.
type SubscriptionStatus string

// Subscription statuses
const (
	SubscriptionTrial          SubscriptionStatus = "trial"
	SubscriptionPendingPayment SubscriptionStatus = "pending_payment"
	SubscriptionActive         SubscriptionStatus = "active"
	SubscriptionExpired        SubscriptionStatus = "expired"
	SubscriptionCanceled       SubscriptionStatus = "canceled"
)

// InvoiceStatus is the settlement state of an invoice.
type InvoiceStatus string

// Invoice statuses
const (
	InvoicePending  InvoiceStatus = "Pendente"
	InvoicePaid     InvoiceStatus = "Pago"
	InvoiceOverdue  InvoiceStatus = "Vencido"
	InvoiceRefunded InvoiceStatus = "Estornado"
)

// OrderStatus is the kitchen progress of an order.
type OrderStatus string

// Order statuses
const (
	OrderReceived  OrderStatus = "Recebido"
	OrderPreparing OrderStatus = "Em preparo"
	OrderCompleted OrderStatus = "Concluido"
)

// Next returns the only status an order may move to from s.
func (s OrderStatus) Next() (OrderStatus, bool) {
	switch s {
	case OrderReceived:
		return OrderPreparing, true
	case OrderPreparing:
		return OrderCompleted, true
	case OrderCompleted:
		return "", false
	}
	return "", false
}

// CanAdvanceTo reports whether s -> target is a legal forward step.
func (s OrderStatus) CanAdvanceTo(target OrderStatus) bool {
	next, ok := s.Next()
	return ok && next == target
}

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderReceived, OrderPreparing, OrderCompleted:
		return true
	}
	return false
}

// PaymentMethod is how the customer pays for an order.
type PaymentMethod string

// Payment methods
const (
	PaymentMoney PaymentMethod = "money"
	PaymentCard  PaymentMethod = "card"
	PaymentPix   PaymentMethod = "pix"
)

// Valid reports whether m is a supported payment method.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMoney, PaymentCard, PaymentPix:
		return true
	}
	return false
}

// ProductKind selects the pricing rule for a product.
type ProductKind string

// Product kinds
const (
	KindPlain ProductKind = "plain"
	KindPizza ProductKind = "pizza"
	KindDrink ProductKind = "drink"
	KindAcai  ProductKind = "acai"
)

// Valid reports whether k is a known product kind.
func (k ProductKind) Valid() bool {
	switch k {
	case KindPlain, KindPizza, KindDrink, KindAcai:
		return true
	}
	return false
}

// MinOrderBasis selects which amount is compared against a restaurant minimum.
type MinOrderBasis string

// Minimum order bases
const (
	MinOrderOnSubtotal MinOrderBasis = "subtotal"
	MinOrderOnTotal    MinOrderBasis = "total"
)

// Restaurant is a tenant of the platform
type Restaurant struct {
	Slug                      string             `json:"slug"`
	Name                      string             `json:"name"`
	Plan                      string             `json:"plan"`
	SubscribedPlanID          *string            `json:"subscribedPlanId"`
	SubscriptionStatus        SubscriptionStatus `json:"subscriptionStatus"`
	TrialEndsAt               *time.Time         `json:"trialEndsAt"`
	PendingPlanID             *string            `json:"pendingPlanId"`
	PendingCheckoutExternalID *string            `json:"pendingCheckoutExternalId"`
	LastCheckoutURL           string             `json:"lastCheckoutUrl"`
	NextBillingAt             *time.Time         `json:"nextBillingAt"`
	SubscriptionStartedAt     *time.Time         `json:"subscriptionStartedAt"`
	SubscriptionEndsAt        *time.Time         `json:"subscriptionEndsAt"`
	DeliveryFee               decimal.Decimal    `json:"deliveryFee"`
	MinOrderValue             decimal.Decimal    `json:"minOrderValue"`
	MinOrderBasis             MinOrderBasis      `json:"minOrderBasis"`
	AcceptingOrders           bool               `json:"acceptingOrders"`
	Products                  []Product          `json:"products"`
	CreatedAt                 time.Time          `json:"createdAt"`
	UpdatedAt                 time.Time          `json:"updatedAt"`
}

// HasPendingCheckout reports whether a checkout session is awaiting confirmation.
func (r *Restaurant) HasPendingCheckout() bool {
	return r.PendingCheckoutExternalID != nil && *r.PendingCheckoutExternalID != ""
}

// ClearPendingCheckout drops the pending plan and session together.
func (r *Restaurant) ClearPendingCheckout() {
	r.PendingPlanID = nil
	r.PendingCheckoutExternalID = nil
}

// Product looks up a catalog entry by id
func (r *Restaurant) Product(id string) (*Product, bool) {
	for i := range r.Products {
		if r.Products[i].ID == id {
			return &r.Products[i], true
		}
	}
	return nil, false
}

// Product is a catalog definition consumed by the pricing engine
type Product struct {
	ID               string            `json:"id"`
	Name             string            `json:"name"`
	Kind             ProductKind       `json:"kind"`
	Price            decimal.Decimal   `json:"price"`
	Flavors          []Flavor          `json:"flavors,omitempty"`
	Crusts           []Crust           `json:"crusts,omitempty"`
	Complements      []Complement      `json:"complements,omitempty"`
	ComplementGroups []ComplementGroup `json:"complementGroups,omitempty"`
}

// Flavor is one pizza flavor
type Flavor struct {
	Name        string          `json:"name"`
	Ingredients []string        `json:"ingredients,omitempty"`
	Price       decimal.Decimal `json:"price"`
}

// Crust is a stuffed-crust option for a pizza
type Crust struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// Complement is a priced add-on for plain and drink products
type Complement struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// ComplementGroup constrains how many items of an açaí group may be picked
type ComplementGroup struct {
	Name      string      `json:"name"`
	MinSelect int         `json:"minSelect"`
	MaxSelect int         `json:"maxSelect"`
	Items     []GroupItem `json:"items"`
}

// GroupItem is one pickable item inside a complement group
type GroupItem struct {
	Name   string          `json:"name"`
	Price  decimal.Decimal `json:"price"`
	MaxQty int             `json:"maxQty"`
}

// Plan is a platform subscription offering
type Plan struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Description string          `json:"description"`
	Features    []string        `json:"features"`
	Active      bool            `json:"active"`
}

// Invoice is one billing record for a restaurant subscription
type Invoice struct {
	ID             string          `json:"id"`
	RestaurantSlug string          `json:"restaurantSlug"`
	RestaurantName string          `json:"restaurantName"`
	PlanID         string          `json:"planId"`
	Plan           string          `json:"plan"`
	Value          decimal.Decimal `json:"value"`
	DueDate        time.Time       `json:"dueDate"`
	Status         InvoiceStatus   `json:"status"`
	Method         string          `json:"method"`
	CreatedAt      time.Time       `json:"createdAt"`
	PaidAt         *time.Time      `json:"paidAt"`
	ExternalID     string          `json:"externalId,omitempty"`
}

// Customer holds the contact fields of whoever placed an order
type Customer struct {
	Name    string `json:"name"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
}

// Order represents a customer order
type Order struct {
	ID             string          `json:"id"`
	RestaurantSlug string          `json:"restaurantSlug"`
	Customer       Customer        `json:"customer"`
	PaymentMethod  PaymentMethod   `json:"paymentMethod"`
	Items          []OrderItem     `json:"items"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DeliveryFee    decimal.Decimal `json:"deliveryFee"`
	Total          decimal.Decimal `json:"total"`
	Status         OrderStatus     `json:"status"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// OrderItem is one priced line of an order
type OrderItem struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
	Total     decimal.Decimal `json:"total"`
	Notes     string          `json:"notes,omitempty"`
}
