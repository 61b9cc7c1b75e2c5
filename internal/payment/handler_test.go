package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
	"go.uber.org/zap"

	"github.com/vnmchuo/llm-meter/internal/ledger"
	"github.com/vnmchuo/llm-meter/internal/tier"
)

// Mock payment provider; webhook verification is delegated to a real
// StripeProvider so signatures are checked for real.
type mockProvider struct {
	*StripeProvider
	createCustomerFunc func(ctx context.Context, p CustomerParams) (*Customer, error)
	checkoutFunc       func(ctx context.Context, p CheckoutParams) (*CheckoutSession, error)
	paymentIntentFunc  func(ctx context.Context, p PaymentIntentParams) (*PaymentIntent, error)
	productsFunc       func(ctx context.Context) ([]Product, error)
}

func (m *mockProvider) CreateCustomer(ctx context.Context, p CustomerParams) (*Customer, error) {
	return m.createCustomerFunc(ctx, p)
}

func (m *mockProvider) CreateSubscription(ctx context.Context, customerID, priceID string) (*Subscription, error) {
	return &Subscription{ID: "sub_1", Status: "incomplete", ClientSecret: "secret"}, nil
}

func (m *mockProvider) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*CheckoutSession, error) {
	return m.checkoutFunc(ctx, p)
}

func (m *mockProvider) CreatePaymentIntent(ctx context.Context, p PaymentIntentParams) (*PaymentIntent, error) {
	return m.paymentIntentFunc(ctx, p)
}

func (m *mockProvider) ListProducts(ctx context.Context) ([]Product, error) {
	return m.productsFunc(ctx)
}

func setupHandler(t *testing.T, mp *mockProvider) (http.Handler, *ledger.Ledger) {
	t.Helper()
	mp.StripeProvider = NewStripeProvider(StripeConfig{PublishableKey: "pk_test_123", WebhookSecret: testWebhookSecret}, nil)

	catalog := tier.DefaultCatalog()
	l := ledger.New(ledger.NewMemoryStore(), catalog)
	processor := NewWebhookProcessor(l, catalog, testTierPrices, nil, zap.NewNop())
	h := NewHandler(mp, processor, l, testTierPrices, zap.NewNop())

	r := chi.NewRouter()
	r.Route("/api/stripe", h.Routes)
	return r, l
}

func post(h http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("POST", path, bytes.NewReader(raw)))
	return w
}

func TestHandleConfig(t *testing.T) {
	h, _ := setupHandler(t, &mockProvider{})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/api/stripe/config", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"publishable_key":"pk_test_123"}`, w.Body.String())
}

func TestHandleCreateCustomer_LinksAccount(t *testing.T) {
	mp := &mockProvider{createCustomerFunc: func(ctx context.Context, p CustomerParams) (*Customer, error) {
		assert.Equal(t, "alice", p.UserID)
		return &Customer{ID: "cus_1", Email: p.Email}, nil
	}}
	h, l := setupHandler(t, mp)

	w := post(h, "/api/stripe/create-customer", map[string]string{"email": "a@example.com", "user_id": "alice"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"customer_id":"cus_1"`)

	acct, err := l.FindByCustomer(context.Background(), "cus_1")
	require.NoError(t, err)
	assert.Equal(t, "alice", acct.UserID)
}

func TestHandleCreateCustomer_Validation(t *testing.T) {
	h, _ := setupHandler(t, &mockProvider{})
	w := post(h, "/api/stripe/create-customer", map[string]string{"name": "no email"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleCreateCustomer_ProviderError(t *testing.T) {
	mp := &mockProvider{createCustomerFunc: func(ctx context.Context, p CustomerParams) (*Customer, error) {
		return nil, &ProviderError{Op: "create customer", Err: errors.New("stripe down")}
	}}
	h, _ := setupHandler(t, mp)

	w := post(h, "/api/stripe/create-customer", map[string]string{"email": "a@example.com"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "stripe down")
}

func TestHandleCreateSubscription(t *testing.T) {
	h, _ := setupHandler(t, &mockProvider{})

	w := post(h, "/api/stripe/create-subscription", map[string]string{"customer_id": "cus_1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = post(h, "/api/stripe/create-subscription", map[string]string{"customer_id": "cus_1", "price_id": "price_pro"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"subscription_id":"sub_1","status":"incomplete","client_secret":"secret"}`, w.Body.String())
}

func TestHandleCreateCheckoutSession_Defaults(t *testing.T) {
	var got CheckoutParams
	mp := &mockProvider{checkoutFunc: func(ctx context.Context, p CheckoutParams) (*CheckoutSession, error) {
		got = p
		return &CheckoutSession{ID: "cs_1", URL: "https://checkout.test/cs_1"}, nil
	}}
	h, _ := setupHandler(t, mp)

	w := post(h, "/api/stripe/create-checkout-session", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = post(h, "/api/stripe/create-checkout-session", map[string]interface{}{"price_id": "price_ent", "user_id": "bob"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://example.com/success", got.SuccessURL)
	assert.Equal(t, "http://example.com/cancel", got.CancelURL)
	assert.Equal(t, tier.Enterprise, got.Tier)
	assert.JSONEq(t, `{"session_id":"cs_1","url":"https://checkout.test/cs_1"}`, w.Body.String())
}

func TestHandleCreatePaymentIntent(t *testing.T) {
	var got PaymentIntentParams
	mp := &mockProvider{paymentIntentFunc: func(ctx context.Context, p PaymentIntentParams) (*PaymentIntent, error) {
		got = p
		return &PaymentIntent{ID: "pi_1", ClientSecret: "pi_1_secret"}, nil
	}}
	h, _ := setupHandler(t, mp)

	w := post(h, "/api/stripe/create-payment-intent", map[string]interface{}{"amount": 9.99})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = post(h, "/api/stripe/create-payment-intent", map[string]interface{}{"amount": 9.99, "customer_id": "cus_1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(999), got.Amount)
	assert.JSONEq(t, `{"payment_intent_id":"pi_1","client_secret":"pi_1_secret"}`, w.Body.String())

	w = post(h, "/api/stripe/create-payment-intent", map[string]interface{}{"amount": "0.295", "customer_id": "cus_1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(30), got.Amount)

	w = post(h, "/api/stripe/create-payment-intent", map[string]interface{}{"amount": 1.005, "customer_id": "cus_1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(101), got.Amount)

	w = post(h, "/api/stripe/create-payment-intent", map[string]interface{}{"amount": 0.001, "customer_id": "cus_1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleProducts(t *testing.T) {
	mp := &mockProvider{productsFunc: func(ctx context.Context) ([]Product, error) { return nil, nil }}
	h, _ := setupHandler(t, mp)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/api/stripe/products", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"products":[]}`, w.Body.String())
}

func TestHandleWebhook(t *testing.T) {
	h, l := setupHandler(t, &mockProvider{})
	ctx := context.Background()
	_, err := l.GetOrCreate(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, l.LinkCustomer(ctx, "alice", "cus_1"))

	sub := subscription("sub_1", "cus_1", "active", "price_pro")
	payload, _ := json.Marshal(map[string]interface{}{
		"id":          "evt_web_1",
		"object":      "event",
		"type":        "customer.subscription.created",
		"api_version": stripe.APIVersion,
		"data":        map[string]interface{}{"object": sub},
	})

	tests := []struct {
		name           string
		signature      string
		expectedStatus int
	}{
		{name: "No signature", signature: "", expectedStatus: http.StatusBadRequest},
		{name: "Invalid signature", signature: "t=123,v1=invalid", expectedStatus: http.StatusBadRequest},
		{name: "Valid signature", signature: generateSignature(t, payload, testWebhookSecret), expectedStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/stripe/webhook", bytes.NewReader(payload))
			if tt.signature != "" {
				req.Header.Set("Stripe-Signature", tt.signature)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}

	acct, err := l.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, tier.Pro, acct.Tier)
}
