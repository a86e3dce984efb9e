package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"restaurant-service/internal/billing"
	"restaurant-service/internal/clock"
	"restaurant-service/internal/models"
	"restaurant-service/internal/service"
	"restaurant-service/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWebhookSecret = "whsec_test"

type recordedEvents struct {
	mu       sync.Mutex
	types    []string
	deferred []*models.CheckoutCompletedEvent
	fail     bool
}

func (r *recordedEvents) record(t string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, t)
	return nil
}

func (r *recordedEvents) PublishOrderCreated(ctx context.Context, e *models.OrderCreatedEvent) error {
	return r.record(e.EventType)
}

func (r *recordedEvents) PublishOrderStatusChanged(ctx context.Context, e *models.OrderStatusChangedEvent) error {
	return r.record(e.EventType)
}

func (r *recordedEvents) PublishCheckoutStarted(ctx context.Context, e *models.CheckoutStartedEvent) error {
	return r.record(e.EventType)
}

func (r *recordedEvents) PublishSubscriptionActivated(ctx context.Context, e *models.SubscriptionActivatedEvent) error {
	return r.record(e.EventType)
}

func (r *recordedEvents) PublishSubscriptionCanceled(ctx context.Context, e *models.SubscriptionCanceledEvent) error {
	return r.record(e.EventType)
}

func (r *recordedEvents) PublishCheckoutCompleted(ctx context.Context, e *models.CheckoutCompletedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("broker down")
	}
	r.deferred = append(r.deferred, e)
	return nil
}

type testServer struct {
	router *gin.Engine
	mem    *store.MemoryStore
	events *recordedEvents
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func seedDocument() *models.Document {
	trialEnds := time.Now().Add(7 * 24 * time.Hour)
	return &models.Document{
		Restaurants: []models.Restaurant{{
			Slug:               "acme",
			Name:               "Acme",
			SubscriptionStatus: models.SubscriptionTrial,
			TrialEndsAt:        &trialEnds,
			DeliveryFee:        money("5.00"),
			MinOrderValue:      money("20.00"),
			MinOrderBasis:      models.MinOrderOnTotal,
			AcceptingOrders:    true,
			Products: []models.Product{
				{ID: "burger", Name: "X-Burger", Kind: models.KindPlain, Price: money("25.00")},
				{
					ID: "acai", Name: "Açaí", Kind: models.KindAcai, Price: money("18.00"),
					ComplementGroups: []models.ComplementGroup{{
						Name: "Frutas", MinSelect: 1, MaxSelect: 2,
						Items: []models.GroupItem{{Name: "Morango", Price: money("2.50"), MaxQty: 2}},
					}},
				},
			},
		}},
		Plans: []models.Plan{
			{ID: "plan_basic", Name: "Basic", Price: money("149.90"), Active: true},
		},
	}
}

func setupTestServer(t *testing.T, gatewayHandler http.HandlerFunc) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mem, err := store.NewMemoryStore(seedDocument())
	require.NoError(t, err)
	tenants := store.NewTenants(mem, store.NewLocalLocker(), 3)
	clk := clock.New()

	cfg := billing.Config{SuccessURL: "https://app.example.com/ok", CancelURL: "https://app.example.com/cancel"}
	if gatewayHandler != nil {
		srv := httptest.NewServer(gatewayHandler)
		t.Cleanup(srv.Close)
		cfg.SecretKey = "sk_test"
		cfg.BaseURL = srv.URL
	}
	gateway := billing.NewStripeClient(cfg)

	events := &recordedEvents{}
	handler := NewHandler(
		service.NewOrderService(tenants, clk),
		service.NewSubscriptionService(tenants, gateway, clk),
		service.NewRestaurantService(tenants, clk, 14),
		events,
		Options{WebhookSecret: testWebhookSecret, Deferred: events},
	)

	router := gin.New()
	handler.SetupRoutes(router)
	return &testServer{router: router, mem: mem, events: events}
}

func stripeOK(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	id := r.PostForm.Get("metadata[external_id]")
	fmt.Fprintf(w, `{"id":"cs_test_1","url":"https://checkout.stripe.com/c/pay/%s"}`, id)
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestHealth(t *testing.T) {
	s := setupTestServer(t, nil)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/ready", nil).Code)
}

func TestGetPlans(t *testing.T) {
	s := setupTestServer(t, nil)

	w := s.do(t, http.MethodGet, "/api/v1/plans/acme", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Plans []struct {
			ID          string `json:"id"`
			Subscribers int    `json:"subscribers"`
		} `json:"plans"`
		Subscription struct {
			Status        string `json:"status"`
			TrialDaysLeft int    `json:"trialDaysLeft"`
		} `json:"subscription"`
	}
	decode(t, w, &body)
	require.Len(t, body.Plans, 1)
	assert.Equal(t, "plan_basic", body.Plans[0].ID)
	assert.Equal(t, "trial", body.Subscription.Status)
	assert.Equal(t, 7, body.Subscription.TrialDaysLeft)

	w = s.do(t, http.MethodGet, "/api/v1/plans/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStartAndConfirmCheckout(t *testing.T) {
	s := setupTestServer(t, stripeOK)

	w := s.do(t, http.MethodPost, "/api/v1/plans/acme", gin.H{"planId": "plan_basic"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var started struct {
		CheckoutURL string `json:"checkoutUrl"`
		SessionID   string `json:"sessionId"`
		Provider    string `json:"provider"`
		ExternalID  string `json:"externalId"`
		Message     string `json:"message"`
	}
	decode(t, w, &started)
	assert.Equal(t, "cs_test_1", started.SessionID)
	assert.Equal(t, "stripe", started.Provider)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/"+started.ExternalID, started.CheckoutURL)

	w = s.do(t, http.MethodPatch, "/api/v1/plans/acme", gin.H{"externalId": "plan_acme_stale"})
	assert.Equal(t, http.StatusConflict, w.Code)
	var failure map[string]string
	decode(t, w, &failure)
	assert.Equal(t, "checkout_mismatch", failure["code"])

	w = s.do(t, http.MethodPatch, "/api/v1/plans/acme", gin.H{"externalId": started.ExternalID})
	require.Equal(t, http.StatusOK, w.Code)
	var confirmed map[string]interface{}
	decode(t, w, &confirmed)
	assert.Equal(t, true, confirmed["success"])

	w = s.do(t, http.MethodPatch, "/api/v1/plans/acme", nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &confirmed)
	assert.Equal(t, "nothing to confirm", confirmed["message"])

	assert.Equal(t, []string{models.EventTypeCheckoutStarted, models.EventTypeSubscriptionActivated}, s.events.types)

	w = s.do(t, http.MethodGet, "/api/v1/restaurants/acme/invoices", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var invoices struct {
		Invoices []models.Invoice `json:"invoices"`
	}
	decode(t, w, &invoices)
	require.Len(t, invoices.Invoices, 1)
	assert.Equal(t, models.InvoicePaid, invoices.Invoices[0].Status)
}

func TestStartCheckout_Errors(t *testing.T) {
	t.Run("malformed body", func(t *testing.T) {
		s := setupTestServer(t, stripeOK)
		assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/v1/plans/acme", "{").Code)
		assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/v1/plans/acme", gin.H{}).Code)
		assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/v1/plans/acme", gin.H{"planId": "plan_basic", "extra": 1}).Code)
	})

	t.Run("unknown plan", func(t *testing.T) {
		s := setupTestServer(t, stripeOK)
		assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/api/v1/plans/acme", gin.H{"planId": "plan_gold"}).Code)
	})

	t.Run("gateway not configured", func(t *testing.T) {
		s := setupTestServer(t, nil)
		w := s.do(t, http.MethodPost, "/api/v1/plans/acme", gin.H{"planId": "plan_basic"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		var body map[string]string
		decode(t, w, &body)
		assert.Equal(t, "gateway_not_configured", body["code"])
	})

	t.Run("gateway status forwarded", func(t *testing.T) {
		s := setupTestServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusPaymentRequired)
			fmt.Fprint(w, `{"error":{"message":"Your card was declined."}}`)
		})
		w := s.do(t, http.MethodPost, "/api/v1/plans/acme", gin.H{"planId": "plan_basic"})
		assert.Equal(t, http.StatusPaymentRequired, w.Code)
		var body map[string]string
		decode(t, w, &body)
		assert.Equal(t, "Your card was declined.", body["error"])

		doc, err := s.mem.Load(context.Background())
		require.NoError(t, err)
		assert.Empty(t, doc.Invoices)
		assert.Equal(t, models.SubscriptionTrial, doc.Restaurant("acme").SubscriptionStatus)
	})
}

func TestCreateOrderAndAdvance(t *testing.T) {
	s := setupTestServer(t, nil)

	w := s.do(t, http.MethodPost, "/api/v1/orders", gin.H{
		"restaurantSlug": "acme",
		"customer":       gin.H{"name": "Maria", "phone": "11999990000"},
		"items":          []gin.H{{"productId": "burger", "quantity": 2}},
		"paymentMethod":  "pix",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var order models.Order
	decode(t, w, &order)
	assert.True(t, money("50.00").Equal(order.Subtotal))
	assert.True(t, money("55.00").Equal(order.Total))
	assert.Equal(t, models.OrderReceived, order.Status)

	w = s.do(t, http.MethodPatch, "/api/v1/orders/"+order.ID+"/status", gin.H{"status": "Concluido"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPatch, "/api/v1/orders/"+order.ID+"/status", gin.H{"status": "Em preparo"})
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &order)
	assert.Equal(t, models.OrderPreparing, order.Status)

	w = s.do(t, http.MethodGet, "/api/v1/orders/"+order.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/orders/missing", nil).Code)

	w = s.do(t, http.MethodGet, "/api/v1/restaurants/acme/orders?status=Em%20preparo", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Orders []models.Order `json:"orders"`
	}
	decode(t, w, &listed)
	assert.Len(t, listed.Orders, 1)

	assert.Equal(t, []string{models.EventTypeOrderCreated, models.EventTypeOrderStatusChanged}, s.events.types)
}

func TestCreateOrder_Rejections(t *testing.T) {
	s := setupTestServer(t, nil)

	w := s.do(t, http.MethodPost, "/api/v1/orders", gin.H{
		"restaurantSlug": "acme",
		"customer":       gin.H{"name": "Maria"},
		"items":          []gin.H{{"productId": "acai", "quantity": 1}},
		"paymentMethod":  "card",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	var body map[string]string
	decode(t, w, &body)
	assert.Equal(t, "invalid_selection", body["code"])

	w = s.do(t, http.MethodPost, "/api/v1/orders", gin.H{
		"restaurantSlug": "acme",
		"customer":       gin.H{"name": "Maria"},
		"items":          []gin.H{},
		"paymentMethod":  "card",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/orders", gin.H{
		"restaurantSlug": "acme",
		"customer":       gin.H{"name": "Maria"},
		"items":          []gin.H{{"productId": "pastel", "quantity": 1}},
		"paymentMethod":  "card",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)

	assert.Empty(t, s.events.types)
}

func TestManualOrderIdempotency(t *testing.T) {
	s := setupTestServer(t, nil)
	payload := gin.H{
		"items":         []gin.H{{"productId": "burger", "quantity": 1}},
		"paymentMethod": "money",
	}

	req := func() *httptest.ResponseRecorder {
		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(payload))
		r := httptest.NewRequest(http.MethodPost, "/api/v1/restaurants/acme/orders/manual", &buf)
		r.Header.Set("Content-Type", "application/json")
		r.Header.Set("Idempotency-Key", "ticket-42")
		w := httptest.NewRecorder()
		s.router.ServeHTTP(w, r)
		return w
	}

	first := req()
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	second := req()
	require.Equal(t, http.StatusOK, second.Code)

	var a, b models.Order
	decode(t, first, &a)
	decode(t, second, &b)
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, service.CounterCustomerName, a.Customer.Name)
	assert.Equal(t, []string{models.EventTypeOrderCreated}, s.events.types)
}

func TestRestaurantRoutes(t *testing.T) {
	s := setupTestServer(t, nil)

	w := s.do(t, http.MethodPost, "/api/v1/restaurants", gin.H{"name": "Burger Place", "deliveryFee": "4.00"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created models.Restaurant
	decode(t, w, &created)
	assert.Equal(t, "burger-place", created.Slug)

	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, "/api/v1/restaurants", gin.H{"name": "Burger Place"}).Code)

	w = s.do(t, http.MethodPut, "/api/v1/restaurants/burger-place/settings", gin.H{"acceptingOrders": false})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/restaurants/burger-place", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got models.Restaurant
	decode(t, w, &got)
	assert.False(t, got.AcceptingOrders)

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/v1/restaurants/ghost", nil).Code)
}

func TestAdminPlans(t *testing.T) {
	s := setupTestServer(t, nil)

	w := s.do(t, http.MethodPost, "/api/v1/admin/plans", gin.H{"name": "Pro", "price": "249.90", "features": []string{"Relatórios"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var plan struct {
		ID     string `json:"id"`
		Active bool   `json:"active"`
	}
	decode(t, w, &plan)
	assert.Equal(t, "plan_pro", plan.ID)
	assert.True(t, plan.Active)

	w = s.do(t, http.MethodPatch, "/api/v1/admin/plans/plan_pro", gin.H{"active": false})
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &plan)
	assert.False(t, plan.Active)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPatch, "/api/v1/admin/plans/plan_pro", gin.H{}).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPatch, "/api/v1/admin/plans/plan_x", gin.H{"active": true}).Code)
}

func TestCancelSubscription(t *testing.T) {
	s := setupTestServer(t, stripeOK)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodDelete, "/api/v1/plans/acme", nil).Code)

	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/v1/plans/acme", gin.H{"planId": "plan_basic"}).Code)
	require.Equal(t, http.StatusOK, s.do(t, http.MethodDelete, "/api/v1/plans/acme", nil).Code)
	assert.Contains(t, s.events.types, models.EventTypeSubscriptionCanceled)
}

func signedWebhook(t *testing.T, s *testServer, payload []byte, secret string) *httptest.ResponseRecorder {
	t.Helper()
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/webhook", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", fmt.Sprintf("t=%s,v1=%s", ts, billing.SignPayload(payload, secret, ts)))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func completedPayload(externalID string) []byte {
	return []byte(fmt.Sprintf(`{"id":"evt_1","type":"checkout.session.completed","data":{"object":{
		"id":"cs_test_1","client_reference_id":%q,
		"metadata":{"restaurant_slug":"acme","plan_id":"plan_basic","external_id":%q}}}}`, externalID, externalID))
}

func startCheckout(t *testing.T, s *testServer) string {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/v1/plans/acme", gin.H{"planId": "plan_basic"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var started struct {
		ExternalID string `json:"externalId"`
	}
	decode(t, w, &started)
	return started.ExternalID
}

func TestBillingWebhook_ConfirmsCheckout(t *testing.T) {
	s := setupTestServer(t, stripeOK)
	externalID := startCheckout(t, s)

	w := signedWebhook(t, s, completedPayload(externalID), testWebhookSecret)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	doc, err := s.mem.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionActive, doc.Restaurant("acme").SubscriptionStatus)
	assert.Equal(t, models.InvoicePaid, doc.InvoiceByExternalID(externalID).Status)

	w = signedWebhook(t, s, completedPayload(externalID), testWebhookSecret)
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	decode(t, w, &body)
	assert.Equal(t, false, body["confirmed"])
}

func TestBillingWebhook_Rejections(t *testing.T) {
	s := setupTestServer(t, stripeOK)
	externalID := startCheckout(t, s)

	assert.Equal(t, http.StatusBadRequest, signedWebhook(t, s, completedPayload(externalID), "whsec_wrong").Code)
	assert.Equal(t, http.StatusConflict, signedWebhook(t, s, completedPayload("plan_acme_other"), testWebhookSecret).Code)

	ignored := signedWebhook(t, s, []byte(`{"id":"evt_9","type":"invoice.paid","data":{"object":{}}}`), testWebhookSecret)
	assert.Equal(t, http.StatusOK, ignored.Code)
}

func TestBillingWebhook_QueuesWhenStoreUnavailable(t *testing.T) {
	s := setupTestServer(t, stripeOK)
	externalID := startCheckout(t, s)

	s.mem.SetUnavailable(errors.New("db down"))
	w := signedWebhook(t, s, completedPayload(externalID), testWebhookSecret)
	assert.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, s.events.deferred, 1)
	assert.Equal(t, "evt_1", s.events.deferred[0].EventID)
	assert.Equal(t, externalID, s.events.deferred[0].ExternalID)

	s.events.fail = true
	w = signedWebhook(t, s, completedPayload(externalID), testWebhookSecret)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestUnknownFieldsRejectedWithoutGlobalDecoderFlag(t *testing.T) {
	s := setupTestServer(t, nil)
	assert.False(t, binding.EnableDecoderDisallowUnknownFields)

	w := s.do(t, http.MethodPost, "/api/v1/restaurants", gin.H{"name": "Burger Place", "color": "red"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var other struct {
		Name string `json:"name" binding:"required"`
	}
	plain := gin.New()
	plain.POST("/echo", func(c *gin.Context) {
		if err := c.ShouldBindJSON(&other); err != nil {
			c.Status(http.StatusBadRequest)
			return
		}
		c.Status(http.StatusOK)
	})
	req := httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString(`{"name":"x","color":"red"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	plain.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
