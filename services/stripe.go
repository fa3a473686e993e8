package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"

	"postvolve/logger"
	"postvolve/models"
)

type BillingStore interface {
	GetSubscription(ctx context.Context, userID string) (*models.Subscription, error)
	UpsertSubscription(ctx context.Context, sub *models.Subscription) error
	FindUserByCustomer(ctx context.Context, customerID string) (string, error)
	MarkEventProcessed(ctx context.Context, id, eventType string) (bool, error)
	UnmarkEvent(ctx context.Context, id string) error
	CountGeneratedSince(ctx context.Context, userID string, since time.Time) (int, error)
	CountAccounts(ctx context.Context, userID string) (int, error)
}

type BillingConfig struct {
	Enabled       bool
	SecretKey     string
	WebhookSecret string
	PricePro      string
	PriceBusiness string
	AppURL        string
}

// stripeSessions is the slice of the Stripe API used to start hosted flows.
type stripeSessions interface {
	NewCheckout(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	NewPortal(params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error)
}

type stripeClient struct {
	api *client.API
}

func (c stripeClient) NewCheckout(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return c.api.CheckoutSessions.New(params)
}

func (c stripeClient) NewPortal(params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error) {
	return c.api.BillingPortalSessions.New(params)
}

// Billing mirrors Stripe subscription state and starts checkout and portal
// sessions.
type Billing struct {
	store    BillingStore
	cfg      BillingConfig
	sessions stripeSessions
	now      func() time.Time
}

func NewBilling(st BillingStore, cfg BillingConfig) *Billing {
	return &Billing{
		store:    st,
		cfg:      cfg,
		sessions: stripeClient{api: client.New(cfg.SecretKey, nil)},
		now:      time.Now,
	}
}

// HandleWebhook verifies and applies one Stripe event. Events already
// processed are acknowledged without effect. A failed event is forgotten so
// Stripe's retry is processed again.
func (b *Billing) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := webhook.ConstructEventWithOptions(payload, signature, b.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	fresh, err := b.store.MarkEventProcessed(ctx, event.ID, string(event.Type))
	if err != nil {
		return fmt.Errorf("record stripe event: %w", err)
	}
	if !fresh {
		logger.Info("duplicate stripe event ignored", zap.String("event_id", event.ID))
		return nil
	}

	if err := b.apply(ctx, event); err != nil {
		if uerr := b.store.UnmarkEvent(ctx, event.ID); uerr != nil {
			logger.Error("unmark stripe event", zap.String("event_id", event.ID), zap.Error(uerr))
		}
		return err
	}
	logger.Info("stripe event processed", zap.String("event_id", event.ID), zap.String("type", string(event.Type)))
	return nil
}

func (b *Billing) apply(ctx context.Context, event stripe.Event) error {
	switch string(event.Type) {
	case "checkout.session.completed":
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			return fmt.Errorf("decode checkout session: %w", err)
		}
		return b.checkoutCompleted(ctx, &cs)

	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		return b.subscriptionChanged(ctx, &sub, string(event.Type) == "customer.subscription.deleted")

	case "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return fmt.Errorf("decode invoice: %w", err)
		}
		return b.paymentFailed(ctx, &inv)

	default:
		logger.Debug("stripe event type not handled", zap.String("type", string(event.Type)))
		return nil
	}
}

func (b *Billing) checkoutCompleted(ctx context.Context, cs *stripe.CheckoutSession) error {
	if cs.ClientReferenceID == "" {
		return errors.New("checkout session has no client_reference_id")
	}
	plan := cs.Metadata["plan"]
	if !IsValidPlan(plan) {
		return fmt.Errorf("%w: %q", ErrInvalidPlan, plan)
	}

	sub := &models.Subscription{
		UserID: cs.ClientReferenceID,
		Plan:   strings.ToLower(plan),
		Status: models.SubscriptionActive,
	}
	if cs.Customer != nil {
		sub.StripeCustomerID = cs.Customer.ID
	}
	if cs.Subscription != nil {
		sub.StripeSubscriptionID = cs.Subscription.ID
	}
	return b.store.UpsertSubscription(ctx, sub)
}

func (b *Billing) subscriptionChanged(ctx context.Context, s *stripe.Subscription, deleted bool) error {
	userID, err := b.resolveUser(ctx, s.Metadata["user_id"], s.Customer)
	if err != nil {
		return err
	}

	sub := &models.Subscription{
		UserID:               userID,
		Plan:                 b.planForSubscription(s),
		Status:               mapSubscriptionStatus(s.Status),
		StripeSubscriptionID: s.ID,
	}
	if s.Customer != nil {
		sub.StripeCustomerID = s.Customer.ID
	}
	if s.CurrentPeriodEnd > 0 {
		end := time.Unix(s.CurrentPeriodEnd, 0).UTC()
		sub.CurrentPeriodEnd = &end
	}
	if deleted {
		sub.Plan = PlanFree
		sub.Status = models.SubscriptionCanceled
	}
	return b.store.UpsertSubscription(ctx, sub)
}

func (b *Billing) paymentFailed(ctx context.Context, inv *stripe.Invoice) error {
	userID, err := b.resolveUser(ctx, "", inv.Customer)
	if err != nil {
		return err
	}
	sub, err := b.store.GetSubscription(ctx, userID)
	if err != nil {
		return err
	}
	sub.Status = models.SubscriptionPastDue
	return b.store.UpsertSubscription(ctx, sub)
}

func (b *Billing) resolveUser(ctx context.Context, metadataUserID string, customer *stripe.Customer) (string, error) {
	if metadataUserID != "" {
		return metadataUserID, nil
	}
	if customer == nil || customer.ID == "" {
		return "", errors.New("stripe object has no customer")
	}
	userID, err := b.store.FindUserByCustomer(ctx, customer.ID)
	if err != nil {
		return "", fmt.Errorf("find user for customer %s: %w", customer.ID, err)
	}
	return userID, nil
}

func (b *Billing) planForPrice(priceID string) string {
	switch priceID {
	case "":
		return PlanFree
	case b.cfg.PricePro:
		return PlanPro
	case b.cfg.PriceBusiness:
		return PlanBusiness
	default:
		return PlanFree
	}
}

func (b *Billing) planForSubscription(s *stripe.Subscription) string {
	if s.Items == nil {
		return PlanFree
	}
	for _, item := range s.Items.Data {
		if item.Price != nil {
			if plan := b.planForPrice(item.Price.ID); plan != PlanFree {
				return plan
			}
		}
	}
	return PlanFree
}

func mapSubscriptionStatus(s stripe.SubscriptionStatus) string {
	switch s {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return models.SubscriptionActive
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid, stripe.SubscriptionStatusIncomplete:
		return models.SubscriptionPastDue
	default:
		return models.SubscriptionCanceled
	}
}

func (b *Billing) priceFor(plan string) (string, error) {
	var price string
	switch strings.ToLower(plan) {
	case PlanPro:
		price = b.cfg.PricePro
	case PlanBusiness:
		price = b.cfg.PriceBusiness
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPlan, plan)
	}
	if price == "" {
		return "", fmt.Errorf("%w: no price configured for %s", ErrInvalidPlan, plan)
	}
	return price, nil
}

// Checkout starts a Stripe Checkout session for plan and returns its URL.
func (b *Billing) Checkout(ctx context.Context, userID, email, plan string) (string, error) {
	if !b.cfg.Enabled {
		return "", ErrBillingDisabled
	}
	price, err := b.priceFor(plan)
	if err != nil {
		return "", err
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		ClientReferenceID: stripe.String(userID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(price), Quantity: stripe.Int64(1)},
		},
		SuccessURL: stripe.String(b.cfg.AppURL + "/dashboard/billing?checkout=success"),
		CancelURL:  stripe.String(b.cfg.AppURL + "/dashboard/billing?checkout=canceled"),
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{"user_id": userID},
		},
	}
	params.Context = ctx
	params.AddMetadata("plan", strings.ToLower(plan))

	sub, err := b.store.GetSubscription(ctx, userID)
	if err != nil {
		return "", err
	}
	if sub.StripeCustomerID != "" {
		params.Customer = stripe.String(sub.StripeCustomerID)
	} else if email != "" {
		params.CustomerEmail = stripe.String(email)
	}

	s, err := b.sessions.NewCheckout(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	return s.URL, nil
}

// Portal returns a Stripe customer portal URL for the user.
func (b *Billing) Portal(ctx context.Context, userID string) (string, error) {
	if !b.cfg.Enabled {
		return "", ErrBillingDisabled
	}
	sub, err := b.store.GetSubscription(ctx, userID)
	if err != nil {
		return "", err
	}
	if sub.StripeCustomerID == "" {
		return "", fmt.Errorf("%w: no stripe customer yet", ErrInvalidState)
	}

	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(sub.StripeCustomerID),
		ReturnURL: stripe.String(b.cfg.AppURL + "/dashboard/billing"),
	}
	params.Context = ctx
	s, err := b.sessions.NewPortal(params)
	if err != nil {
		return "", fmt.Errorf("create portal session: %w", err)
	}
	return s.URL, nil
}

type Usage struct {
	Plan           string `json:"plan"`
	Status         string `json:"status"`
	GeneratedToday int    `json:"generated_today"`
	DailyLimit     int    `json:"daily_limit"`
	Accounts       int    `json:"accounts"`
	AccountLimit   int    `json:"account_limit"`
}

// Usage reports the user's plan and how much of it today has used. The day
// is counted in UTC.
func (b *Billing) Usage(ctx context.Context, userID string) (*Usage, error) {
	sub, err := b.store.GetSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}
	y, m, d := b.now().UTC().Date()
	generated, err := b.store.CountGeneratedSince(ctx, userID, time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
	if err != nil {
		return nil, err
	}
	accounts, err := b.store.CountAccounts(ctx, userID)
	if err != nil {
		return nil, err
	}
	limits := LimitsFor(sub.Plan)
	return &Usage{
		Plan:           sub.Plan,
		Status:         sub.Status,
		GeneratedToday: generated,
		DailyLimit:     limits.DailyPosts,
		Accounts:       accounts,
		AccountLimit:   limits.Accounts,
	}, nil
}
