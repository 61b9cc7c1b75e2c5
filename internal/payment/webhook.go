package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stripe/stripe-go/v76"
	"go.uber.org/zap"

	"github.com/vnmchuo/llm-meter/internal/ledger"
	"github.com/vnmchuo/llm-meter/internal/telemetry"
	"github.com/vnmchuo/llm-meter/internal/tier"
)

const (
	webhookProcessedTTL  = 24 * time.Hour
	webhookProcessingTTL = 5 * time.Minute
)

// Accounts is the slice of the ledger that payments touch.
type Accounts interface {
	GetOrCreate(ctx context.Context, userID string) (*ledger.Account, error)
	FindByCustomer(ctx context.Context, customerRef string) (*ledger.Account, error)
	LinkCustomer(ctx context.Context, userID, customerRef string) error
	AssignTier(ctx context.Context, userID, tierID string) (bool, error)
}

// WebhookProcessor applies verified payment events to the ledger. Events are
// de-duplicated by id in Redis, or in memory when no Redis client is set.
type WebhookProcessor struct {
	accounts   Accounts
	catalog    *tier.Catalog
	tierPrices map[string]string // Stripe price id -> tier id
	rdb        *redis.Client
	logger     *zap.Logger

	mu              sync.Mutex
	processedEvents map[string]time.Time
}

func NewWebhookProcessor(accounts Accounts, catalog *tier.Catalog, tierPrices map[string]string, rdb *redis.Client, logger *zap.Logger) *WebhookProcessor {
	return &WebhookProcessor{
		accounts:        accounts,
		catalog:         catalog,
		tierPrices:      tierPrices,
		rdb:             rdb,
		logger:          logger,
		processedEvents: make(map[string]time.Time),
	}
}

// Process handles one verified event. A duplicate delivery returns nil
// without side effects; a failed event is released so Stripe's retry is
// processed again.
func (p *WebhookProcessor) Process(ctx context.Context, event stripe.Event) (err error) {
	acquired, err := p.reserveEvent(ctx, event.ID)
	if err != nil {
		return fmt.Errorf("failed to reserve webhook event: %w", err)
	}
	if !acquired {
		p.logger.Info("webhook event already in progress or processed",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
		)
		telemetry.RecordWebhookEvent(string(event.Type), "duplicate")
		return nil
	}
	defer func() {
		p.finalizeEvent(ctx, event.ID, err == nil)
		if err != nil {
			telemetry.RecordWebhookEvent(string(event.Type), "error")
		} else {
			telemetry.RecordWebhookEvent(string(event.Type), "ok")
		}
	}()

	p.logger.Info("processing webhook event",
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
	)

	switch event.Type {
	case "payment_intent.succeeded":
		return p.handlePaymentSucceeded(ctx, event)
	case "checkout.session.completed":
		return p.handleCheckoutCompleted(ctx, event)
	case "customer.subscription.created", "customer.subscription.updated":
		return p.handleSubscriptionChanged(ctx, event)
	case "customer.subscription.deleted":
		return p.handleSubscriptionDeleted(ctx, event)
	default:
		p.logger.Info("received unhandled webhook event type",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
		)
		return nil
	}
}

func (p *WebhookProcessor) handlePaymentSucceeded(ctx context.Context, event stripe.Event) error {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return fmt.Errorf("failed to unmarshal payment intent: %w", err)
	}

	userID := pi.Metadata["user_id"]
	if userID == "" || pi.Customer == nil {
		p.logger.Info("payment succeeded without user reference",
			zap.String("payment_intent", pi.ID),
			zap.Int64("amount", pi.Amount),
		)
		return nil
	}
	if err := p.link(ctx, userID, pi.Customer.ID); err != nil {
		return err
	}

	p.logger.Info("payment succeeded",
		zap.String("user_id", userID),
		zap.String("customer_id", pi.Customer.ID),
		zap.Int64("amount", pi.Amount),
		zap.String("currency", string(pi.Currency)),
		zap.String("tokens", pi.Metadata["tokens"]),
	)
	return nil
}

func (p *WebhookProcessor) handleCheckoutCompleted(ctx context.Context, event stripe.Event) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return fmt.Errorf("failed to unmarshal checkout session: %w", err)
	}

	userID := sess.ClientReferenceID
	if userID == "" {
		userID = sess.Metadata["user_id"]
	}
	if userID == "" {
		p.logger.Warn("checkout session without user reference", zap.String("session_id", sess.ID))
		return nil
	}

	if sess.Customer != nil && sess.Customer.ID != "" {
		if err := p.link(ctx, userID, sess.Customer.ID); err != nil {
			return err
		}
	}

	if tierID := sess.Metadata["tier"]; tierID != "" {
		return p.assign(ctx, userID, tierID)
	}
	return nil
}

func (p *WebhookProcessor) handleSubscriptionChanged(ctx context.Context, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("failed to unmarshal subscription: %w", err)
	}

	if sub.Status != stripe.SubscriptionStatusActive && sub.Status != stripe.SubscriptionStatusTrialing {
		p.logger.Info("subscription not active, tier unchanged",
			zap.String("subscription_id", sub.ID),
			zap.String("status", string(sub.Status)),
		)
		return nil
	}

	tierID := p.tierForSubscription(&sub)
	if tierID == "" {
		p.logger.Warn("subscription price is not mapped to a tier", zap.String("subscription_id", sub.ID))
		return nil
	}

	userID, err := p.userForSubscription(ctx, &sub)
	if err != nil || userID == "" {
		return err
	}
	return p.assign(ctx, userID, tierID)
}

func (p *WebhookProcessor) handleSubscriptionDeleted(ctx context.Context, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("failed to unmarshal subscription: %w", err)
	}

	userID, err := p.userForSubscription(ctx, &sub)
	if err != nil || userID == "" {
		return err
	}
	return p.assign(ctx, userID, p.catalog.Default().ID)
}

func (p *WebhookProcessor) tierForSubscription(sub *stripe.Subscription) string {
	if sub.Items == nil {
		return ""
	}
	for _, item := range sub.Items.Data {
		if item.Price == nil {
			continue
		}
		if tierID, ok := p.tierPrices[item.Price.ID]; ok {
			return tierID
		}
	}
	return ""
}

// userForSubscription prefers the user_id metadata and falls back to the
// account linked to the subscription's customer. An unknown customer is
// logged and yields "".
func (p *WebhookProcessor) userForSubscription(ctx context.Context, sub *stripe.Subscription) (string, error) {
	if userID := sub.Metadata["user_id"]; userID != "" {
		return userID, nil
	}
	if sub.Customer == nil || sub.Customer.ID == "" {
		p.logger.Warn("subscription without customer", zap.String("subscription_id", sub.ID))
		return "", nil
	}
	acct, err := p.accounts.FindByCustomer(ctx, sub.Customer.ID)
	if errors.Is(err, ledger.ErrUserNotFound) {
		p.logger.Warn("no account linked to customer",
			zap.String("customer_id", sub.Customer.ID),
			zap.String("subscription_id", sub.ID),
		)
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to find account for customer: %w", err)
	}
	return acct.UserID, nil
}

func (p *WebhookProcessor) link(ctx context.Context, userID, customerID string) error {
	if _, err := p.accounts.GetOrCreate(ctx, userID); err != nil {
		return fmt.Errorf("failed to load account: %w", err)
	}
	if err := p.accounts.LinkCustomer(ctx, userID, customerID); err != nil {
		return fmt.Errorf("failed to link customer: %w", err)
	}
	return nil
}

func (p *WebhookProcessor) assign(ctx context.Context, userID, tierID string) error {
	if !p.catalog.Has(tierID) {
		p.logger.Warn("webhook references unknown tier", zap.String("user_id", userID), zap.String("tier", tierID))
		return nil
	}
	if _, err := p.accounts.GetOrCreate(ctx, userID); err != nil {
		return fmt.Errorf("failed to load account: %w", err)
	}
	changed, err := p.accounts.AssignTier(ctx, userID, tierID)
	if err != nil {
		return fmt.Errorf("failed to assign tier: %w", err)
	}
	if changed {
		telemetry.RecordTierChange(tierID, "webhook")
		p.logger.Info("tier changed by payment event", zap.String("user_id", userID), zap.String("tier", tierID))
	}
	return nil
}

func (p *WebhookProcessor) reserveEvent(ctx context.Context, eventID string) (bool, error) {
	if p.rdb != nil {
		return p.rdb.SetNX(ctx, redisKeyForEvent(eventID), "processing", webhookProcessingTTL).Result()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.cleanupExpiredEvents(time.Now())
	if _, exists := p.processedEvents[eventID]; exists {
		return false, nil
	}
	p.processedEvents[eventID] = time.Now()
	return true, nil
}

func (p *WebhookProcessor) finalizeEvent(ctx context.Context, eventID string, success bool) {
	if p.rdb != nil {
		key := redisKeyForEvent(eventID)
		if success {
			if err := p.rdb.Set(ctx, key, "processed", webhookProcessedTTL).Err(); err != nil {
				p.logger.Warn("failed to persist webhook completion", zap.String("event_id", eventID), zap.Error(err))
			}
		} else if err := p.rdb.Del(ctx, key).Err(); err != nil {
			p.logger.Warn("failed to release webhook lock", zap.String("event_id", eventID), zap.Error(err))
		}
		return
	}

	if !success {
		p.mu.Lock()
		delete(p.processedEvents, eventID)
		p.mu.Unlock()
	}
}

func redisKeyForEvent(eventID string) string {
	return fmt.Sprintf("webhooks:stripe:%s", eventID)
}

func (p *WebhookProcessor) cleanupExpiredEvents(now time.Time) {
	for id, ts := range p.processedEvents {
		if now.Sub(ts) > webhookProcessedTTL {
			delete(p.processedEvents, id)
		}
	}
}
