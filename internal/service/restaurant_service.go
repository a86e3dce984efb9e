package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"restaurant-service/internal/apperr"
	"restaurant-service/internal/clock"
	"restaurant-service/internal/models"
	"restaurant-service/internal/pricing"
	"restaurant-service/internal/store"
	"restaurant-service/internal/util"

	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TrialPlanName is the plan label shown while a restaurant is on trial
const TrialPlanName = "Trial"

// RestaurantService handles tenant onboarding and settings
type RestaurantService struct {
	tenants   *store.Tenants
	clock     clock.Clock
	trialDays int
	logger    *zap.Logger
}

// NewRestaurantService creates a new restaurant service
func NewRestaurantService(tenants *store.Tenants, clk clock.Clock, trialDays int) *RestaurantService {
	return &RestaurantService{
		tenants:   tenants,
		clock:     clk,
		trialDays: trialDays,
		logger:    util.GetLogger(),
	}
}

// OnboardRequest registers a new restaurant
type OnboardRequest struct {
	Name string `json:"name" binding:"required"`
	SettingsRequest
}

// SettingsRequest edits restaurant settings. Nil fields are left unchanged.
type SettingsRequest struct {
	DeliveryFee     *decimal.Decimal      `json:"deliveryFee"`
	MinOrderValue   *decimal.Decimal      `json:"minOrderValue"`
	MinOrderBasis   *models.MinOrderBasis `json:"minOrderBasis"`
	AcceptingOrders *bool                 `json:"acceptingOrders"`
	Products        *[]models.Product     `json:"products"`
}

// RestaurantView is a restaurant with its derived subscription state
type RestaurantView struct {
	models.Restaurant
	Subscription SubscriptionView `json:"subscription"`
}

// Onboard creates a restaurant on trial. The slug is derived from the name.
func (s *RestaurantService) Onboard(ctx context.Context, req *OnboardRequest) (*RestaurantView, error) {
	ctx, span := util.StartSpan(ctx, "RestaurantService.Onboard")
	defer span.End()

	name := strings.TrimSpace(req.Name)
	key := slug.Make(name)
	if key == "" {
		return nil, apperr.ErrInvalidRequest.WithMessage("restaurant name must contain letters or digits")
	}

	var view RestaurantView
	_, err := s.tenants.Mutate(ctx, key, func(doc *models.Document) error {
		if doc.Restaurant(key) != nil {
			return apperr.ErrRestaurantExists.WithMessage("restaurant %q already exists", key)
		}

		now := s.clock.Now()
		trialEnds := now.Add(time.Duration(s.trialDays) * 24 * time.Hour)
		r := models.Restaurant{
			Slug:               key,
			Name:               name,
			Plan:               TrialPlanName,
			SubscriptionStatus: models.SubscriptionTrial,
			TrialEndsAt:        &trialEnds,
			MinOrderBasis:      models.MinOrderOnTotal,
			AcceptingOrders:    true,
			Products:           []models.Product{},
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		if err := applySettings(&r, &req.SettingsRequest); err != nil {
			return err
		}

		doc.Restaurants = append(doc.Restaurants, r)
		view = RestaurantView{Restaurant: r, Subscription: DeriveStatus(&r, now)}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Restaurant onboarded",
		zap.String("restaurant", key),
		zap.Int("trial_days", s.trialDays))
	return &view, nil
}

// Get retrieves a restaurant by slug
func (s *RestaurantService) Get(ctx context.Context, key string) (*RestaurantView, error) {
	ctx, span := util.StartSpan(ctx, "RestaurantService.Get")
	defer span.End()

	doc, err := s.tenants.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load document: %w", err)
	}
	r := doc.Restaurant(key)
	if r == nil {
		return nil, apperr.ErrRestaurantNotFound
	}
	return &RestaurantView{Restaurant: *r, Subscription: DeriveStatus(r, s.clock.Now())}, nil
}

// UpdateSettings applies a staff settings edit
func (s *RestaurantService) UpdateSettings(ctx context.Context, key string, req *SettingsRequest) (*RestaurantView, error) {
	ctx, span := util.StartSpan(ctx, "RestaurantService.UpdateSettings")
	defer span.End()

	var view RestaurantView
	_, err := s.tenants.Mutate(ctx, key, func(doc *models.Document) error {
		r := doc.Restaurant(key)
		if r == nil {
			return apperr.ErrRestaurantNotFound
		}
		if err := applySettings(r, req); err != nil {
			return err
		}

		now := s.clock.Now()
		r.UpdatedAt = now
		view = RestaurantView{Restaurant: *r, Subscription: DeriveStatus(r, now)}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Restaurant settings updated", zap.String("restaurant", key))
	return &view, nil
}

func applySettings(r *models.Restaurant, req *SettingsRequest) error {
	if req.DeliveryFee != nil {
		if req.DeliveryFee.IsNegative() {
			return apperr.ErrInvalidRequest.WithMessage("delivery fee cannot be negative")
		}
		r.DeliveryFee = *req.DeliveryFee
	}
	if req.MinOrderValue != nil {
		if req.MinOrderValue.IsNegative() {
			return apperr.ErrInvalidRequest.WithMessage("minimum order value cannot be negative")
		}
		r.MinOrderValue = *req.MinOrderValue
	}
	if req.MinOrderBasis != nil {
		switch *req.MinOrderBasis {
		case models.MinOrderOnSubtotal, models.MinOrderOnTotal:
			r.MinOrderBasis = *req.MinOrderBasis
		default:
			return apperr.ErrInvalidRequest.WithMessage("minimum order basis must be subtotal or total")
		}
	}
	if req.AcceptingOrders != nil {
		r.AcceptingOrders = *req.AcceptingOrders
	}
	if req.Products != nil {
		seen := make(map[string]bool, len(*req.Products))
		for _, p := range *req.Products {
			if err := pricing.ValidateProduct(p); err != nil {
				return err
			}
			if seen[p.ID] {
				return apperr.ErrInvalidRequest.WithMessage("duplicate product id %q", p.ID)
			}
			seen[p.ID] = true
		}
		r.Products = append([]models.Product{}, *req.Products...)
	}
	return nil
}

// parseAmount reads a non-negative decimal currency amount
func parseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, apperr.ErrInvalidRequest.WithMessage("invalid amount %q", raw)
	}
	if amount.IsNegative() {
		return decimal.Zero, apperr.ErrInvalidRequest.WithMessage("amount cannot be negative")
	}
	return amount, nil
}
