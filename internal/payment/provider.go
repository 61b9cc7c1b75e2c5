// Package payment integrates the Stripe payment processor: customers,
// subscriptions, checkout sessions, payment intents and signed webhooks
// that drive tier changes in the ledger.
package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v76"
)

var ErrWebhookVerification = errors.New("webhook signature verification failed")

// ProviderError is an opaque failure reported by the payment processor.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	var stripeErr *stripe.Error
	if errors.As(e.Err, &stripeErr) && stripeErr.Msg != "" {
		return fmt.Sprintf("%s: %s", e.Op, stripeErr.Msg)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

type CustomerParams struct {
	Email  string
	Name   string
	UserID string
}

type Customer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type Subscription struct {
	ID           string `json:"subscription_id"`
	Status       string `json:"status"`
	ClientSecret string `json:"client_secret,omitempty"`
}

type CheckoutParams struct {
	CustomerID string
	PriceID    string
	SuccessURL string
	CancelURL  string
	UserID     string
	Tokens     int64
	Tier       string
}

type CheckoutSession struct {
	ID  string `json:"session_id"`
	URL string `json:"url"`
}

type PaymentIntentParams struct {
	CustomerID string
	Amount     int64 // smallest currency unit
	UserID     string
	Tokens     int64
}

type PaymentIntent struct {
	ID           string `json:"payment_intent_id"`
	ClientSecret string `json:"client_secret"`
}

type Price struct {
	ID         string `json:"id"`
	UnitAmount int64  `json:"unit_amount"`
	Currency   string `json:"currency"`
	Interval   string `json:"interval,omitempty"`
}

type Product struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	DefaultPrice *Price `json:"default_price,omitempty"`
}

// Provider is the payment processor collaborator.
type Provider interface {
	CreateCustomer(ctx context.Context, p CustomerParams) (*Customer, error)
	CreateSubscription(ctx context.Context, customerID, priceID string) (*Subscription, error)
	CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*CheckoutSession, error)
	CreatePaymentIntent(ctx context.Context, p PaymentIntentParams) (*PaymentIntent, error)
	ListProducts(ctx context.Context) ([]Product, error)
	// VerifyWebhook rejects tampered or unsigned payloads with
	// ErrWebhookVerification.
	VerifyWebhook(payload []byte, signature string) (stripe.Event, error)
	PublishableKey() string
}
