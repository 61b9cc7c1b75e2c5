package payment

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxWebhookBody = 65536

type Handler struct {
	provider   Provider
	webhooks   *WebhookProcessor
	accounts   Accounts
	tierPrices map[string]string
	logger     *zap.Logger
}

func NewHandler(provider Provider, webhooks *WebhookProcessor, accounts Accounts, tierPrices map[string]string, logger *zap.Logger) *Handler {
	return &Handler{
		provider:   provider,
		webhooks:   webhooks,
		accounts:   accounts,
		tierPrices: tierPrices,
		logger:     logger,
	}
}

// Routes mounts the payment endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/config", h.HandleConfig)
	r.Post("/create-customer", h.HandleCreateCustomer)
	r.Post("/create-subscription", h.HandleCreateSubscription)
	r.Post("/create-checkout-session", h.HandleCreateCheckoutSession)
	r.Post("/create-payment-intent", h.HandleCreatePaymentIntent)
	r.Get("/products", h.HandleProducts)
	r.Post("/webhook", h.HandleWebhook)
}

func (h *Handler) HandleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"publishable_key": h.provider.PublishableKey()})
}

func (h *Handler) HandleCreateCustomer(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email  string `json:"email"`
		Name   string `json:"name"`
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	customer, err := h.provider.CreateCustomer(r.Context(), CustomerParams{
		Email:  body.Email,
		Name:   body.Name,
		UserID: body.UserID,
	})
	if err != nil {
		h.providerError(w, err)
		return
	}

	if body.UserID != "" {
		if _, err := h.accounts.GetOrCreate(r.Context(), body.UserID); err == nil {
			err = h.accounts.LinkCustomer(r.Context(), body.UserID, customer.ID)
		}
		if err != nil {
			h.logger.Error("failed to link customer to account",
				zap.String("user_id", body.UserID),
				zap.String("customer_id", customer.ID),
				zap.Error(err),
			)
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"customer_id": customer.ID,
		"customer":    customer,
	})
}

func (h *Handler) HandleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CustomerID string `json:"customer_id"`
		PriceID    string `json:"price_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.CustomerID == "" || body.PriceID == "" {
		writeError(w, http.StatusBadRequest, "customer_id and price_id are required")
		return
	}

	sub, err := h.provider.CreateSubscription(r.Context(), body.CustomerID, body.PriceID)
	if err != nil {
		h.providerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

func (h *Handler) HandleCreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CustomerID string `json:"customer_id"`
		PriceID    string `json:"price_id"`
		SuccessURL string `json:"success_url"`
		CancelURL  string `json:"cancel_url"`
		UserID     string `json:"user_id"`
		Tokens     int64  `json:"tokens"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.PriceID == "" {
		writeError(w, http.StatusBadRequest, "price_id is required")
		return
	}

	if body.SuccessURL == "" {
		body.SuccessURL = baseURL(r) + "/success"
	}
	if body.CancelURL == "" {
		body.CancelURL = baseURL(r) + "/cancel"
	}

	sess, err := h.provider.CreateCheckoutSession(r.Context(), CheckoutParams{
		CustomerID: body.CustomerID,
		PriceID:    body.PriceID,
		SuccessURL: body.SuccessURL,
		CancelURL:  body.CancelURL,
		UserID:     body.UserID,
		Tokens:     body.Tokens,
		Tier:       h.tierPrices[body.PriceID],
	})
	if err != nil {
		h.providerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) HandleCreatePaymentIntent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CustomerID string          `json:"customer_id"`
		Amount     decimal.Decimal `json:"amount"` // major currency units
		UserID     string          `json:"user_id"`
		Tokens     int64           `json:"tokens"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.CustomerID == "" {
		writeError(w, http.StatusBadRequest, "amount and customer_id are required")
		return
	}
	amount := body.Amount.Round(2).Shift(2).IntPart()
	if amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount and customer_id are required")
		return
	}

	pi, err := h.provider.CreatePaymentIntent(r.Context(), PaymentIntentParams{
		CustomerID: body.CustomerID,
		Amount:     amount,
		UserID:     body.UserID,
		Tokens:     body.Tokens,
	})
	if err != nil {
		h.providerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pi)
}

func (h *Handler) HandleProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.provider.ListProducts(r.Context())
	if err != nil {
		h.providerError(w, err)
		return
	}
	if products == nil {
		products = []Product{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"products": products})
}

// HandleWebhook verifies the signature before anything else; unverifiable
// payloads are discarded with 400.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	event, err := h.provider.VerifyWebhook(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.logger.Warn("webhook signature verification failed", zap.Error(err))
		writeError(w, http.StatusBadRequest, "webhook signature verification failed")
		return
	}

	if err := h.webhooks.Process(r.Context(), event); err != nil {
		h.logger.Error("webhook event processing failed",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "event processing failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (h *Handler) providerError(w http.ResponseWriter, err error) {
	var perr *ProviderError
	if errors.As(err, &perr) {
		h.logger.Error("payment provider error", zap.String("op", perr.Op), zap.Error(perr.Err))
	} else {
		h.logger.Error("payment provider error", zap.Error(err))
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
	}
	return fmt.Sprintf("%s://%s", scheme, r.Host)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
