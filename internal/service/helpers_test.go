package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"restaurant-service/internal/billing"
	"restaurant-service/internal/clock"
	"restaurant-service/internal/models"
	"restaurant-service/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC)

const time24h = 24 * time.Hour

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

type fakeGateway struct {
	mu         sync.Mutex
	configured bool
	err        error
	requests   []billing.CheckoutSessionRequest
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{configured: true}
}

func (g *fakeGateway) Provider() string { return billing.ProviderStripe }

func (g *fakeGateway) Configured() bool { return g.configured }

func (g *fakeGateway) CreateCheckoutSession(ctx context.Context, req billing.CheckoutSessionRequest) (*billing.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	if g.err != nil {
		return nil, g.err
	}
	return &billing.CheckoutSession{
		ID:  "cs_test_" + req.ExternalID,
		URL: "https://checkout.stripe.com/c/pay/" + req.ExternalID,
	}, nil
}

type testEnv struct {
	mem           *store.MemoryStore
	clock         *clock.FakeClock
	gateway       *fakeGateway
	orders        *OrderService
	subscriptions *SubscriptionService
	restaurants   *RestaurantService
}

func seedDocument() *models.Document {
	trialEnds := testNow.Add(5 * 24 * time.Hour)
	return &models.Document{
		Restaurants: []models.Restaurant{
			{
				Slug:               "acme",
				Name:               "Acme Pizzaria",
				Plan:               TrialPlanName,
				SubscriptionStatus: models.SubscriptionTrial,
				TrialEndsAt:        &trialEnds,
				DeliveryFee:        money("5.00"),
				MinOrderValue:      money("20.00"),
				MinOrderBasis:      models.MinOrderOnTotal,
				AcceptingOrders:    true,
				Products:           catalog(),
			},
		},
		Plans: []models.Plan{
			{ID: "plan_basic", Name: "Basic", Price: money("149.90"), Features: []string{"Cardápio digital"}, Active: true},
			{ID: "plan_pro", Name: "Pro", Price: money("249.90"), Active: true},
			{ID: "plan_legacy", Name: "Legacy", Price: money("99.90"), Active: false},
		},
	}
}

func catalog() []models.Product {
	return []models.Product{
		{
			ID: "burger", Name: "X-Burger", Kind: models.KindPlain, Price: money("25.00"),
			Complements: []models.Complement{{Name: "Bacon", Price: money("4.00")}},
		},
		{ID: "soda", Name: "Refrigerante", Kind: models.KindDrink, Price: money("6.00")},
		{
			ID: "pizza", Name: "Pizza Grande", Kind: models.KindPizza,
			Flavors: []models.Flavor{
				{Name: "Calabresa", Price: money("45.90")},
				{Name: "Portuguesa", Price: money("49.90")},
				{Name: "Marguerita", Price: money("42.00")},
			},
		},
		{
			ID: "acai", Name: "Açaí 500ml", Kind: models.KindAcai, Price: money("18.00"),
			ComplementGroups: []models.ComplementGroup{
				{
					Name: "Frutas", MinSelect: 1, MaxSelect: 2,
					Items: []models.GroupItem{
						{Name: "Morango", Price: money("2.50"), MaxQty: 2},
						{Name: "Banana", Price: money("1.50"), MaxQty: 1},
					},
				},
			},
		},
	}
}

func newTestEnv(t *testing.T, doc *models.Document) *testEnv {
	t.Helper()
	mem, err := store.NewMemoryStore(doc)
	require.NoError(t, err)

	tenants := store.NewTenants(mem, store.NewLocalLocker(), 5)
	clk := clock.NewFakeClock(testNow)
	gw := newFakeGateway()

	return &testEnv{
		mem:           mem,
		clock:         clk,
		gateway:       gw,
		orders:        NewOrderService(tenants, clk),
		subscriptions: NewSubscriptionService(tenants, gw, clk),
		restaurants:   NewRestaurantService(tenants, clk, 14),
	}
}

func (e *testEnv) load(t *testing.T) *models.Document {
	t.Helper()
	doc, err := e.mem.Load(context.Background())
	require.NoError(t, err)
	return doc
}
