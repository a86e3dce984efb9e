package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"restaurant-service/internal/apperr"
	"restaurant-service/internal/clock"
	"restaurant-service/internal/models"
	"restaurant-service/internal/pricing"
	"restaurant-service/internal/store"
	"restaurant-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CounterCustomerName is the synthetic customer on staff-entered orders
const CounterCustomerName = "Cliente balcão"

// OrderService handles order business logic
type OrderService struct {
	tenants *store.Tenants
	clock   clock.Clock
	logger  *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(tenants *store.Tenants, clk clock.Clock) *OrderService {
	return &OrderService{
		tenants: tenants,
		clock:   clk,
		logger:  util.GetLogger(),
	}
}

// CustomerRequest carries the customer's contact fields
type CustomerRequest struct {
	Name    string `json:"name" binding:"required"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

// OrderItemRequest represents an item in an order
type OrderItemRequest struct {
	ProductID string            `json:"productId" binding:"required"`
	Quantity  int               `json:"quantity" binding:"required,min=1"`
	Selection pricing.Selection `json:"selection"`
	Notes     string            `json:"notes"`
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	RestaurantSlug string               `json:"restaurantSlug" binding:"required"`
	Customer       CustomerRequest      `json:"customer"`
	Items          []OrderItemRequest   `json:"items" binding:"required,min=1,dive"`
	PaymentMethod  models.PaymentMethod `json:"paymentMethod" binding:"required"`
	IdempotencyKey string               `json:"idempotencyKey,omitempty"`
}

// ManualOrderRequest is a staff-entered order for the restaurant in the path
type ManualOrderRequest struct {
	CustomerName   string               `json:"customerName"`
	CustomerPhone  string               `json:"customerPhone"`
	Items          []OrderItemRequest   `json:"items" binding:"required,min=1,dive"`
	PaymentMethod  models.PaymentMethod `json:"paymentMethod" binding:"required"`
	IdempotencyKey string               `json:"idempotencyKey,omitempty"`
}

// Create prices and persists a new order. The second return value is false
// when the idempotency key matched an earlier order, which is returned as-is.
func (s *OrderService) Create(ctx context.Context, req *CreateOrderRequest) (*models.Order, bool, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Create")
	defer span.End()

	if !req.PaymentMethod.Valid() {
		util.OrdersFailedTotal.WithLabelValues(apperr.ErrInvalidRequest.Code).Inc()
		return nil, false, apperr.ErrInvalidRequest.WithMessage("unsupported payment method %q", req.PaymentMethod)
	}
	if strings.TrimSpace(req.Customer.Name) == "" {
		util.OrdersFailedTotal.WithLabelValues(apperr.ErrInvalidRequest.Code).Inc()
		return nil, false, apperr.ErrInvalidRequest.WithMessage("customer name is required")
	}

	var (
		order   models.Order
		created bool
	)
	_, err := s.tenants.Mutate(ctx, req.RestaurantSlug, func(doc *models.Document) error {
		created = false

		r := doc.Restaurant(req.RestaurantSlug)
		if r == nil {
			return apperr.ErrRestaurantNotFound
		}

		if existing := doc.OrderByIdempotencyKey(r.Slug, req.IdempotencyKey); existing != nil {
			order = *existing
			return store.ErrNoChange
		}

		now := s.clock.Now()
		if !acceptingOrders(r, now) {
			return apperr.ErrNotAcceptingOrders
		}

		items, subtotal, err := priceItems(r, req.Items)
		if err != nil {
			return err
		}

		total := subtotal.Add(r.DeliveryFee)
		basis := total
		if r.MinOrderBasis == models.MinOrderOnSubtotal {
			basis = subtotal
		}
		if basis.LessThan(r.MinOrderValue) {
			return apperr.ErrBelowMinimumOrder.WithMessage("minimum order is %s", r.MinOrderValue.StringFixed(2))
		}

		order = models.Order{
			ID:             uuid.New().String(),
			RestaurantSlug: r.Slug,
			Customer: models.Customer{
				Name:    strings.TrimSpace(req.Customer.Name),
				Phone:   strings.TrimSpace(req.Customer.Phone),
				Address: strings.TrimSpace(req.Customer.Address),
			},
			PaymentMethod:  req.PaymentMethod,
			Items:          items,
			Subtotal:       subtotal,
			DeliveryFee:    r.DeliveryFee,
			Total:          total,
			Status:         models.OrderReceived,
			IdempotencyKey: req.IdempotencyKey,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		doc.Orders = append(doc.Orders, order)
		created = true
		return nil
	})
	if err != nil {
		util.OrdersFailedTotal.WithLabelValues(failureReason(err)).Inc()
		return nil, false, err
	}

	if !created {
		s.logger.Info("Duplicate order request detected",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.String("order_id", order.ID))
		return &order, false, nil
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.String("order_id", order.ID),
		zap.String("restaurant", order.RestaurantSlug),
		zap.String("total", order.Total.StringFixed(2)))

	return &order, true, nil
}

// CreateManual records a staff-entered order through the regular create path
func (s *OrderService) CreateManual(ctx context.Context, slug string, req *ManualOrderRequest) (*models.Order, bool, error) {
	name := strings.TrimSpace(req.CustomerName)
	if name == "" {
		name = CounterCustomerName
	}

	return s.Create(ctx, &CreateOrderRequest{
		RestaurantSlug: slug,
		Customer:       CustomerRequest{Name: name, Phone: req.CustomerPhone},
		Items:          req.Items,
		PaymentMethod:  req.PaymentMethod,
		IdempotencyKey: req.IdempotencyKey,
	})
}

// Advance moves an order one step forward. It returns the updated order and
// the status it left.
func (s *OrderService) Advance(ctx context.Context, orderID string, target models.OrderStatus) (*models.Order, models.OrderStatus, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Advance")
	defer span.End()

	doc, err := s.tenants.Read(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load document: %w", err)
	}
	current := doc.Order(orderID)
	if current == nil {
		return nil, "", apperr.ErrOrderNotFound
	}

	var (
		order models.Order
		from  models.OrderStatus
	)
	_, err = s.tenants.Mutate(ctx, current.RestaurantSlug, func(doc *models.Document) error {
		o := doc.Order(orderID)
		if o == nil {
			return apperr.ErrOrderNotFound
		}
		if !target.Valid() {
			return apperr.ErrInvalidTransition.WithMessage("unknown order status %q", target)
		}
		if !o.Status.CanAdvanceTo(target) {
			return apperr.ErrInvalidTransition.WithMessage("cannot move order from %q to %q", o.Status, target)
		}

		from = o.Status
		o.Status = target
		o.UpdatedAt = s.clock.Now()
		order = *o
		return nil
	})
	if err != nil {
		return nil, "", err
	}

	util.OrderTransitionsTotal.WithLabelValues(string(target)).Inc()
	s.logger.Info("Order status updated",
		zap.String("order_id", orderID),
		zap.String("from", string(from)),
		zap.String("to", string(target)))

	return &order, from, nil
}

// Get retrieves an order by ID
func (s *OrderService) Get(ctx context.Context, orderID string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Get")
	defer span.End()

	doc, err := s.tenants.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	o := doc.Order(orderID)
	if o == nil {
		return nil, apperr.ErrOrderNotFound
	}
	order := *o
	return &order, nil
}

// ListByRestaurant returns the restaurant's orders, newest first, optionally
// filtered by status
func (s *OrderService) ListByRestaurant(ctx context.Context, slug string, status models.OrderStatus) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListByRestaurant")
	defer span.End()

	if status != "" && !status.Valid() {
		return nil, apperr.ErrInvalidRequest.WithMessage("unknown order status %q", status)
	}

	doc, err := s.tenants.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	if doc.Restaurant(slug) == nil {
		return nil, apperr.ErrRestaurantNotFound
	}

	orders := make([]models.Order, 0)
	for _, o := range doc.Orders {
		if o.RestaurantSlug != slug {
			continue
		}
		if status != "" && o.Status != status {
			continue
		}
		orders = append(orders, o)
	}
	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})
	return orders, nil
}

// priceItems quotes every requested line against the restaurant catalog
func priceItems(r *models.Restaurant, reqs []OrderItemRequest) ([]models.OrderItem, decimal.Decimal, error) {
	subtotal := decimal.Zero
	items := make([]models.OrderItem, 0, len(reqs))

	for _, item := range reqs {
		product, ok := r.Product(item.ProductID)
		if !ok {
			return nil, decimal.Zero, apperr.ErrProductNotFound.WithMessage("product %q not found", item.ProductID)
		}
		if product.Kind == models.KindPizza && len(item.Selection.Flavors) == 0 {
			return nil, decimal.Zero, apperr.ErrInvalidSelection.WithMessage("choose at least one flavor for %q", product.Name)
		}

		line, err := pricing.Quote(*product, item.Selection, item.Quantity)
		if err != nil {
			return nil, decimal.Zero, err
		}

		items = append(items, models.OrderItem{
			ProductID: product.ID,
			Name:      product.Name,
			Price:     line.UnitPrice,
			Quantity:  item.Quantity,
			Total:     line.LineTotal,
			Notes:     joinNotes(line.Description, item.Notes),
		})
		subtotal = subtotal.Add(line.LineTotal)
	}

	return items, subtotal, nil
}

// acceptingOrders reports whether the restaurant takes orders at now. A
// checkout left unpaid after the trial ran out does not extend the trial.
func acceptingOrders(r *models.Restaurant, now time.Time) bool {
	if !r.AcceptingOrders {
		return false
	}
	switch DeriveStatus(r, now).Status {
	case models.SubscriptionExpired, models.SubscriptionCanceled:
		return false
	case models.SubscriptionPendingPayment:
		if r.SubscribedPlanID == nil && r.TrialEndsAt != nil && r.TrialEndsAt.Before(now) {
			return false
		}
	}
	return true
}

func joinNotes(description, notes string) string {
	description = strings.TrimSpace(description)
	notes = strings.TrimSpace(notes)
	switch {
	case description == "":
		return notes
	case notes == "":
		return description
	}
	return description + " | " + notes
}

func failureReason(err error) string {
	if e, ok := apperr.As(err); ok {
		return e.Code
	}
	return "internal"
}
