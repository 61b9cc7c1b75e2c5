package payment

import (
	"context"
	"fmt"
	"strconv"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

type StripeConfig struct {
	SecretKey      string
	PublishableKey string
	WebhookSecret  string
}

type StripeProvider struct {
	api            *client.API
	publishableKey string
	webhookSecret  string
}

// NewStripeProvider builds a provider on the Stripe API. A nil backends uses
// Stripe's default endpoints.
func NewStripeProvider(cfg StripeConfig, backends *stripe.Backends) *StripeProvider {
	return &StripeProvider{
		api:            client.New(cfg.SecretKey, backends),
		publishableKey: cfg.PublishableKey,
		webhookSecret:  cfg.WebhookSecret,
	}
}

func (s *StripeProvider) PublishableKey() string { return s.publishableKey }

func (s *StripeProvider) CreateCustomer(ctx context.Context, p CustomerParams) (*Customer, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(p.Email),
	}
	if p.Name != "" {
		params.Name = stripe.String(p.Name)
	}
	if p.UserID != "" {
		params.AddMetadata("user_id", p.UserID)
	}
	params.Context = ctx

	c, err := s.api.Customers.New(params)
	if err != nil {
		return nil, &ProviderError{Op: "create customer", Err: err}
	}
	return &Customer{ID: c.ID, Email: c.Email, Name: c.Name}, nil
}

// CreateSubscription starts an incomplete subscription whose first invoice
// is confirmed client side with the returned secret.
func (s *StripeProvider) CreateSubscription(ctx context.Context, customerID, priceID string) (*Subscription, error) {
	params := &stripe.SubscriptionParams{
		Customer: stripe.String(customerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(priceID)},
		},
		PaymentBehavior: stripe.String("default_incomplete"),
		PaymentSettings: &stripe.SubscriptionPaymentSettingsParams{
			SaveDefaultPaymentMethod: stripe.String("on_subscription"),
		},
	}
	params.AddExpand("latest_invoice.payment_intent")
	params.Context = ctx

	sub, err := s.api.Subscriptions.New(params)
	if err != nil {
		return nil, &ProviderError{Op: "create subscription", Err: err}
	}

	out := &Subscription{ID: sub.ID, Status: string(sub.Status)}
	if sub.LatestInvoice != nil && sub.LatestInvoice.PaymentIntent != nil {
		out.ClientSecret = sub.LatestInvoice.PaymentIntent.ClientSecret
	}
	return out, nil
}

func (s *StripeProvider) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(p.PriceID), Quantity: stripe.Int64(1)},
		},
		SuccessURL: stripe.String(p.SuccessURL),
		CancelURL:  stripe.String(p.CancelURL),
	}
	if p.CustomerID != "" {
		params.Customer = stripe.String(p.CustomerID)
	}
	if p.UserID != "" {
		params.ClientReferenceID = stripe.String(p.UserID)
		params.AddMetadata("user_id", p.UserID)
	}
	if p.Tier != "" {
		params.AddMetadata("tier", p.Tier)
	}
	params.AddMetadata("tokens", strconv.FormatInt(p.Tokens, 10))
	params.Context = ctx

	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, &ProviderError{Op: "create checkout session", Err: err}
	}
	return &CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

func (s *StripeProvider) CreatePaymentIntent(ctx context.Context, p PaymentIntentParams) (*PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(p.Amount),
		Currency: stripe.String(string(stripe.CurrencyUSD)),
		Customer: stripe.String(p.CustomerID),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if p.UserID != "" {
		params.AddMetadata("user_id", p.UserID)
	}
	params.AddMetadata("tokens", strconv.FormatInt(p.Tokens, 10))
	params.Context = ctx

	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return nil, &ProviderError{Op: "create payment intent", Err: err}
	}
	return &PaymentIntent{ID: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

// ListProducts returns active products with their default price expanded.
func (s *StripeProvider) ListProducts(ctx context.Context) ([]Product, error) {
	params := &stripe.ProductListParams{Active: stripe.Bool(true)}
	params.AddExpand("data.default_price")
	params.Context = ctx

	var products []Product
	iter := s.api.Products.List(params)
	for iter.Next() {
		p := iter.Product()
		out := Product{ID: p.ID, Name: p.Name, Description: p.Description}
		if dp := p.DefaultPrice; dp != nil {
			out.DefaultPrice = &Price{ID: dp.ID, UnitAmount: dp.UnitAmount, Currency: string(dp.Currency)}
			if dp.Recurring != nil {
				out.DefaultPrice.Interval = string(dp.Recurring.Interval)
			}
		}
		products = append(products, out)
	}
	if err := iter.Err(); err != nil {
		return nil, &ProviderError{Op: "list products", Err: err}
	}
	return products, nil
}

func (s *StripeProvider) VerifyWebhook(payload []byte, signature string) (stripe.Event, error) {
	if signature == "" || s.webhookSecret == "" {
		return stripe.Event{}, ErrWebhookVerification
	}
	event, err := webhook.ConstructEvent(payload, signature, s.webhookSecret)
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrWebhookVerification, err)
	}
	return event, nil
}
