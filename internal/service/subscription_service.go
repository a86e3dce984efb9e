package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"restaurant-service/internal/apperr"
	"restaurant-service/internal/billing"
	"restaurant-service/internal/clock"
	"restaurant-service/internal/models"
	"restaurant-service/internal/store"
	"restaurant-service/internal/util"

	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"go.uber.org/zap"
)

// CheckoutGateway is the external provider that hosts checkout sessions
type CheckoutGateway interface {
	Provider() string
	Configured() bool
	CreateCheckoutSession(ctx context.Context, req billing.CheckoutSessionRequest) (*billing.CheckoutSession, error)
}

// plansLockKey serializes writes to the shared plan catalog
const plansLockKey = "_plans"

// SubscriptionService drives the subscription lifecycle of a restaurant
type SubscriptionService struct {
	tenants *store.Tenants
	gateway CheckoutGateway
	clock   clock.Clock
	logger  *zap.Logger
}

// NewSubscriptionService creates a new subscription service
func NewSubscriptionService(tenants *store.Tenants, gateway CheckoutGateway, clk clock.Clock) *SubscriptionService {
	return &SubscriptionService{
		tenants: tenants,
		gateway: gateway,
		clock:   clk,
		logger:  util.GetLogger(),
	}
}

// SubscriptionView is the subscription state as reported to callers
type SubscriptionView struct {
	Status           models.SubscriptionStatus `json:"status"`
	SubscribedPlanID *string                   `json:"subscribedPlanId"`
	PendingPlanID    *string                   `json:"pendingPlanId"`
	TrialEndsAt      *time.Time                `json:"trialEndsAt"`
	TrialDaysLeft    int                       `json:"trialDaysLeft"`
	NextBillingAt    *time.Time                `json:"nextBillingAt"`
	LastCheckoutURL  string                    `json:"lastCheckoutUrl"`
}

// PlanView is a plan with its computed subscriber count
type PlanView struct {
	models.Plan
	Subscribers int `json:"subscribers"`
}

// Overview is the plans page payload for one restaurant
type Overview struct {
	Plans        []PlanView       `json:"plans"`
	Subscription SubscriptionView `json:"subscription"`
}

// CheckoutResult is returned after a checkout session is opened
type CheckoutResult struct {
	CheckoutURL string         `json:"checkoutUrl"`
	SessionID   string         `json:"sessionId"`
	Provider    string         `json:"provider"`
	ExternalID  string         `json:"externalId"`
	Invoice     models.Invoice `json:"invoice"`
}

// ConfirmResult reports what a confirmation did
type ConfirmResult struct {
	Confirmed  bool   `json:"confirmed"`
	PlanID     string `json:"planId,omitempty"`
	ExternalID string `json:"externalId,omitempty"`
	Message    string `json:"message"`
}

// SavePlanRequest creates or edits a plan
type SavePlanRequest struct {
	ID          string   `json:"id"`
	Name        string   `json:"name" binding:"required"`
	Price       string   `json:"price" binding:"required"`
	Description string   `json:"description"`
	Features    []string `json:"features"`
	Active      *bool    `json:"active"`
}

// DeriveStatus normalizes the stored status for display. An expired trial
// is reported as expired while the stored field stays trial.
func DeriveStatus(r *models.Restaurant, now time.Time) SubscriptionView {
	view := SubscriptionView{
		Status:           r.SubscriptionStatus,
		SubscribedPlanID: r.SubscribedPlanID,
		PendingPlanID:    r.PendingPlanID,
		TrialEndsAt:      r.TrialEndsAt,
		NextBillingAt:    r.NextBillingAt,
		LastCheckoutURL:  r.LastCheckoutURL,
	}

	if r.TrialEndsAt != nil {
		left := r.TrialEndsAt.Sub(now)
		if left > 0 {
			view.TrialDaysLeft = int(math.Ceil(float64(left) / float64(24*time.Hour)))
		}
		if r.SubscriptionStatus == models.SubscriptionTrial && r.TrialEndsAt.Before(now) {
			view.Status = models.SubscriptionExpired
		}
	}

	return view
}

// Overview lists offered plans and the restaurant's subscription state
func (s *SubscriptionService) Overview(ctx context.Context, slug string) (*Overview, error) {
	ctx, span := util.StartSpan(ctx, "SubscriptionService.Overview")
	defer span.End()

	doc, err := s.tenants.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}

	r := doc.Restaurant(slug)
	if r == nil {
		return nil, apperr.ErrRestaurantNotFound
	}

	plans := make([]PlanView, 0, len(doc.Plans))
	for _, p := range doc.Plans {
		subscribed := r.SubscribedPlanID != nil && *r.SubscribedPlanID == p.ID
		if !p.Active && !subscribed {
			continue
		}
		plans = append(plans, PlanView{Plan: p, Subscribers: doc.SubscriberCount(p.ID)})
	}

	return &Overview{
		Plans:        plans,
		Subscription: DeriveStatus(r, s.clock.Now()),
	}, nil
}

// StartCheckout opens a checkout session for planID and records it as the
// pending checkout. The tenant lock is held across the gateway call; the
// document is written only after the gateway succeeds.
func (s *SubscriptionService) StartCheckout(ctx context.Context, slug, planID string) (*CheckoutResult, error) {
	ctx, span := util.StartSpan(ctx, "SubscriptionService.StartCheckout")
	defer span.End()

	unlock, err := s.tenants.Lock(ctx, slug)
	if err != nil {
		return nil, err
	}
	defer unlock()

	doc, err := s.tenants.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}

	r := doc.Restaurant(slug)
	if r == nil {
		return nil, apperr.ErrRestaurantNotFound
	}
	plan := doc.Plan(planID)
	if plan == nil || !plan.Active {
		return nil, apperr.ErrPlanNotFound.WithMessage("plan %q is not available", planID)
	}
	if s.gateway == nil || !s.gateway.Configured() {
		util.CheckoutsFailedTotal.WithLabelValues("not_configured").Inc()
		return nil, apperr.ErrGatewayNotConfigured
	}

	now := s.clock.Now()
	externalID := newExternalID(slug, now)

	start := time.Now()
	session, err := s.gateway.CreateCheckoutSession(ctx, billing.CheckoutSessionRequest{
		ExternalID:     externalID,
		RestaurantSlug: slug,
		PlanID:         plan.ID,
		PlanName:       plan.Name,
		Amount:         plan.Price,
	})
	util.BillingGatewayLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		s.logger.Error("Checkout session creation failed",
			zap.String("restaurant", slug),
			zap.String("plan_id", planID),
			zap.String("external_id", externalID),
			zap.Error(err))
		return nil, gatewayError(err)
	}

	var invoice models.Invoice
	_, err = s.tenants.UpdateLocked(ctx, func(doc *models.Document) error {
		r := doc.Restaurant(slug)
		if r == nil {
			return apperr.ErrRestaurantNotFound
		}
		plan := doc.Plan(planID)
		if plan == nil {
			return apperr.ErrPlanNotFound
		}

		nextBilling := addMonth(now)
		pendingPlan := plan.ID
		pendingExternal := externalID
		r.PendingPlanID = &pendingPlan
		r.PendingCheckoutExternalID = &pendingExternal
		r.LastCheckoutURL = session.URL
		r.NextBillingAt = &nextBilling
		r.SubscriptionStatus = models.SubscriptionPendingPayment
		r.UpdatedAt = now

		invoice = *upsertInvoice(doc, r, plan, externalID, models.InvoicePending, s.gateway.Provider(), now)
		return nil
	})
	if err != nil {
		util.CheckoutsFailedTotal.WithLabelValues("store").Inc()
		return nil, err
	}

	util.CheckoutsStartedTotal.Inc()
	s.logger.Info("Checkout started",
		zap.String("restaurant", slug),
		zap.String("plan_id", planID),
		zap.String("external_id", externalID),
		zap.String("session_id", session.ID))

	return &CheckoutResult{
		CheckoutURL: session.URL,
		SessionID:   session.ID,
		Provider:    s.gateway.Provider(),
		ExternalID:  externalID,
		Invoice:     invoice,
	}, nil
}

// ConfirmCheckout activates the pending plan. With no pending checkout it
// does nothing; a supplied externalID must match the pending one.
func (s *SubscriptionService) ConfirmCheckout(ctx context.Context, slug, externalID string) (*ConfirmResult, error) {
	ctx, span := util.StartSpan(ctx, "SubscriptionService.ConfirmCheckout")
	defer span.End()

	result := &ConfirmResult{}
	_, err := s.tenants.Mutate(ctx, slug, func(doc *models.Document) error {
		*result = ConfirmResult{}

		r := doc.Restaurant(slug)
		if r == nil {
			return apperr.ErrRestaurantNotFound
		}
		if !r.HasPendingCheckout() {
			result.Message = "nothing to confirm"
			return store.ErrNoChange
		}

		pending := *r.PendingCheckoutExternalID
		if externalID != "" && externalID != pending {
			return apperr.ErrCheckoutMismatch.WithMessage("checkout %q does not match the pending session", externalID)
		}

		var planID string
		switch {
		case r.PendingPlanID != nil && *r.PendingPlanID != "":
			planID = *r.PendingPlanID
		case r.SubscribedPlanID != nil && *r.SubscribedPlanID != "":
			planID = *r.SubscribedPlanID
		default:
			return apperr.ErrPlanNotFound.WithMessage("no plan to activate")
		}
		plan := doc.Plan(planID)
		if plan == nil {
			return apperr.ErrPlanNotFound.WithMessage("plan %q not found", planID)
		}

		now := s.clock.Now()
		nextBilling := addMonth(now)
		endsAt := nextBilling
		subscribed := plan.ID

		r.SubscribedPlanID = &subscribed
		r.Plan = plan.Name
		r.SubscriptionStatus = models.SubscriptionActive
		if r.SubscriptionStartedAt == nil {
			started := now
			r.SubscriptionStartedAt = &started
		}
		r.TrialEndsAt = nil
		r.ClearPendingCheckout()
		r.NextBillingAt = &nextBilling
		r.SubscriptionEndsAt = &endsAt
		r.UpdatedAt = now

		upsertInvoice(doc, r, plan, pending, models.InvoicePaid, s.provider(), now)

		result.Confirmed = true
		result.PlanID = plan.ID
		result.ExternalID = pending
		result.Message = "subscription activated"
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Confirmed {
		util.CheckoutsConfirmedTotal.Inc()
		s.logger.Info("Checkout confirmed",
			zap.String("restaurant", slug),
			zap.String("plan_id", result.PlanID),
			zap.String("external_id", result.ExternalID))
	}
	return result, nil
}

// Cancel ends an active or pending subscription
func (s *SubscriptionService) Cancel(ctx context.Context, slug string) (*SubscriptionView, error) {
	ctx, span := util.StartSpan(ctx, "SubscriptionService.Cancel")
	defer span.End()

	var view SubscriptionView
	_, err := s.tenants.Mutate(ctx, slug, func(doc *models.Document) error {
		r := doc.Restaurant(slug)
		if r == nil {
			return apperr.ErrRestaurantNotFound
		}

		switch r.SubscriptionStatus {
		case models.SubscriptionActive, models.SubscriptionPendingPayment:
		case models.SubscriptionTrial, models.SubscriptionExpired, models.SubscriptionCanceled:
			return apperr.ErrInvalidTransition.WithMessage("cannot cancel a subscription in status %q", r.SubscriptionStatus)
		default:
			return apperr.ErrInvalidTransition.WithMessage("unknown subscription status %q", r.SubscriptionStatus)
		}

		now := s.clock.Now()
		r.SubscriptionStatus = models.SubscriptionCanceled
		r.ClearPendingCheckout()
		r.UpdatedAt = now
		view = DeriveStatus(r, now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Subscription canceled", zap.String("restaurant", slug))
	return &view, nil
}

// ListInvoices returns the restaurant's invoices, newest first
func (s *SubscriptionService) ListInvoices(ctx context.Context, slug string) ([]models.Invoice, error) {
	ctx, span := util.StartSpan(ctx, "SubscriptionService.ListInvoices")
	defer span.End()

	doc, err := s.tenants.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	if doc.Restaurant(slug) == nil {
		return nil, apperr.ErrRestaurantNotFound
	}

	invoices := make([]models.Invoice, 0)
	for _, inv := range doc.Invoices {
		if inv.RestaurantSlug == slug {
			invoices = append(invoices, inv)
		}
	}
	sort.SliceStable(invoices, func(i, j int) bool {
		return invoices[i].CreatedAt.After(invoices[j].CreatedAt)
	})
	return invoices, nil
}

// SavePlan inserts or edits a plan. A plan referenced by a paid invoice
// only accepts changes to its active flag.
func (s *SubscriptionService) SavePlan(ctx context.Context, req SavePlanRequest) (*PlanView, error) {
	ctx, span := util.StartSpan(ctx, "SubscriptionService.SavePlan")
	defer span.End()

	price, err := parseAmount(req.Price)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperr.ErrInvalidRequest.WithMessage("plan name is required")
	}

	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = "plan_" + strings.ReplaceAll(slug.Make(name), "-", "_")
	}

	var view PlanView
	_, err = s.tenants.Mutate(ctx, plansLockKey, func(doc *models.Document) error {
		next := models.Plan{
			ID:          id,
			Name:        name,
			Price:       price,
			Description: req.Description,
			Features:    req.Features,
			Active:      true,
		}

		existing := doc.Plan(id)
		if existing != nil {
			next.Active = existing.Active
		}
		if req.Active != nil {
			next.Active = *req.Active
		}

		if existing == nil {
			doc.Plans = append(doc.Plans, next)
		} else {
			if doc.PlanHasPaidInvoice(id) && !samePlanTerms(*existing, next) {
				return apperr.ErrPlanLocked.WithMessage("plan %q has paid invoices; only its active flag may change", id)
			}
			*existing = next
		}

		view = PlanView{Plan: next, Subscribers: doc.SubscriberCount(id)}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Plan saved", zap.String("plan_id", id), zap.Bool("active", view.Active))
	return &view, nil
}

// SetPlanActive toggles whether a plan is offered
func (s *SubscriptionService) SetPlanActive(ctx context.Context, id string, active bool) (*PlanView, error) {
	ctx, span := util.StartSpan(ctx, "SubscriptionService.SetPlanActive")
	defer span.End()

	var view PlanView
	_, err := s.tenants.Mutate(ctx, plansLockKey, func(doc *models.Document) error {
		plan := doc.Plan(id)
		if plan == nil {
			return apperr.ErrPlanNotFound
		}
		plan.Active = active
		view = PlanView{Plan: *plan, Subscribers: doc.SubscriberCount(id)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &view, nil
}

func (s *SubscriptionService) provider() string {
	if s.gateway == nil {
		return billing.ProviderStripe
	}
	return s.gateway.Provider()
}

// upsertInvoice finds the invoice for externalID or appends one. A paid
// invoice is never moved back to another status.
func upsertInvoice(doc *models.Document, r *models.Restaurant, plan *models.Plan, externalID string, status models.InvoiceStatus, method string, now time.Time) *models.Invoice {
	inv := doc.InvoiceByExternalID(externalID)
	if inv == nil {
		doc.Invoices = append(doc.Invoices, models.Invoice{
			ID:             uuid.New().String(),
			RestaurantSlug: r.Slug,
			RestaurantName: r.Name,
			PlanID:         plan.ID,
			Plan:           plan.Name,
			Value:          plan.Price,
			DueDate:        now,
			Status:         models.InvoicePending,
			Method:         method,
			CreatedAt:      now,
			ExternalID:     externalID,
		})
		inv = &doc.Invoices[len(doc.Invoices)-1]
	}

	if inv.Status == models.InvoicePaid {
		return inv
	}
	inv.Status = status
	if status == models.InvoicePaid {
		paidAt := now
		inv.PaidAt = &paidAt
	}
	return inv
}

func gatewayError(err error) error {
	var gwErr *billing.GatewayError
	switch {
	case errors.Is(err, billing.ErrNotConfigured):
		util.CheckoutsFailedTotal.WithLabelValues("not_configured").Inc()
		return apperr.ErrGatewayNotConfigured
	case errors.As(err, &gwErr):
		util.CheckoutsFailedTotal.WithLabelValues("upstream_status").Inc()
		return apperr.ErrCheckoutCreationFailed.WithStatus(gwErr.Status).WithMessage("%s", gwErr.Message).Wrap(err)
	case errors.Is(err, billing.ErrInvalidResponse):
		util.CheckoutsFailedTotal.WithLabelValues("invalid_response").Inc()
		return apperr.ErrCheckoutCreationFailed.WithMessage("billing gateway returned an invalid checkout session").Wrap(err)
	default:
		util.CheckoutsFailedTotal.WithLabelValues("transport").Inc()
		return apperr.ErrCheckoutCreationFailed.Wrap(err)
	}
}

// newExternalID builds a unique id per checkout attempt
func newExternalID(slug string, now time.Time) string {
	return fmt.Sprintf("plan_%s_%d_%s", slug, now.UnixMilli(), uuid.New().String()[:8])
}

func addMonth(t time.Time) time.Time {
	return t.AddDate(0, 1, 0)
}

func samePlanTerms(a, b models.Plan) bool {
	if a.Name != b.Name || !a.Price.Equal(b.Price) || a.Description != b.Description {
		return false
	}
	if len(a.Features) != len(b.Features) {
		return false
	}
	for i := range a.Features {
		if a.Features[i] != b.Features[i] {
			return false
		}
	}
	return true
}
