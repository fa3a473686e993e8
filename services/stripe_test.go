package services

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"

	"postvolve/models"
)

const testWebhookSecret = "whsec_test"

func signPayload(payload []byte) string {
	now := time.Now()
	sig := webhook.ComputeSignature(now, payload, testWebhookSecret)
	return fmt.Sprintf("t=%d,v1=%s", now.Unix(), hex.EncodeToString(sig))
}

func stripeEvent(id, typ, object string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"object":"event","type":%q,"api_version":"2023-10-16","data":{"object":%s}}`, id, typ, object))
}

type fakeSessions struct {
	checkout *stripe.CheckoutSessionParams
	portal   *stripe.BillingPortalSessionParams
	err      error
}

func (f *fakeSessions) NewCheckout(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.checkout = params
	if f.err != nil {
		return nil, f.err
	}
	return &stripe.CheckoutSession{URL: "https://checkout.stripe.com/c/cs_1"}, nil
}

func (f *fakeSessions) NewPortal(params *stripe.BillingPortalSessionParams) (*stripe.BillingPortalSession, error) {
	f.portal = params
	return &stripe.BillingPortalSession{URL: "https://billing.stripe.com/p/1"}, nil
}

func newTestBilling(st *memStore) (*Billing, *fakeSessions) {
	b := NewBilling(st, BillingConfig{
		Enabled:       true,
		WebhookSecret: testWebhookSecret,
		PricePro:      "price_pro",
		PriceBusiness: "price_biz",
		AppURL:        "https://app.postvolve.app",
	})
	fs := &fakeSessions{}
	b.sessions = fs
	return b, fs
}

func TestHandleWebhook_CheckoutCompleted(t *testing.T) {
	st := newMemStore()
	b, _ := newTestBilling(st)

	payload := stripeEvent("evt_1", "checkout.session.completed",
		`{"id":"cs_1","object":"checkout.session","client_reference_id":"u1","customer":"cus_1","subscription":"sub_1","metadata":{"plan":"pro"}}`)

	require.NoError(t, b.HandleWebhook(context.Background(), payload, signPayload(payload)))

	sub := st.subs["u1"]
	require.NotNil(t, sub)
	assert.Equal(t, PlanPro, sub.Plan)
	assert.Equal(t, models.SubscriptionActive, sub.Status)
	assert.Equal(t, "cus_1", sub.StripeCustomerID)
	assert.Equal(t, "sub_1", sub.StripeSubscriptionID)
}

func TestHandleWebhook_DuplicateIgnored(t *testing.T) {
	st := newMemStore()
	b, _ := newTestBilling(st)

	payload := stripeEvent("evt_1", "checkout.session.completed",
		`{"id":"cs_1","client_reference_id":"u1","customer":"cus_1","metadata":{"plan":"pro"}}`)
	require.NoError(t, b.HandleWebhook(context.Background(), payload, signPayload(payload)))

	st.subs["u1"].Plan = PlanBusiness
	require.NoError(t, b.HandleWebhook(context.Background(), payload, signPayload(payload)))
	assert.Equal(t, PlanBusiness, st.subs["u1"].Plan, "replayed event has no effect")
}

func TestHandleWebhook_BadSignature(t *testing.T) {
	b, _ := newTestBilling(newMemStore())
	payload := stripeEvent("evt_1", "checkout.session.completed", `{}`)

	err := b.HandleWebhook(context.Background(), payload, "t=1,v1=deadbeef")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestHandleWebhook_FailureUnmarks(t *testing.T) {
	st := newMemStore()
	b, _ := newTestBilling(st)

	payload := stripeEvent("evt_2", "checkout.session.completed",
		`{"id":"cs_1","client_reference_id":"u1","metadata":{"plan":"gold"}}`)

	err := b.HandleWebhook(context.Background(), payload, signPayload(payload))
	assert.ErrorIs(t, err, ErrInvalidPlan)
	assert.False(t, st.events["evt_2"], "failed event can be retried")
}

func TestHandleWebhook_SubscriptionLifecycle(t *testing.T) {
	st := newMemStore()
	st.subs["u1"] = &models.Subscription{UserID: "u1", Plan: PlanPro, Status: models.SubscriptionActive, StripeCustomerID: "cus_1"}
	b, _ := newTestBilling(st)

	updated := stripeEvent("evt_3", "customer.subscription.updated",
		`{"id":"sub_1","object":"subscription","customer":"cus_1","status":"past_due","current_period_end":1775000000,
		  "items":{"object":"list","data":[{"id":"si_1","price":{"id":"price_biz"}}]}}`)
	require.NoError(t, b.HandleWebhook(context.Background(), updated, signPayload(updated)))

	sub := st.subs["u1"]
	assert.Equal(t, PlanBusiness, sub.Plan)
	assert.Equal(t, models.SubscriptionPastDue, sub.Status)
	require.NotNil(t, sub.CurrentPeriodEnd)
	assert.Equal(t, int64(1775000000), sub.CurrentPeriodEnd.Unix())

	deleted := stripeEvent("evt_4", "customer.subscription.deleted",
		`{"id":"sub_1","object":"subscription","customer":"cus_1","status":"canceled","metadata":{"user_id":"u1"}}`)
	require.NoError(t, b.HandleWebhook(context.Background(), deleted, signPayload(deleted)))

	sub = st.subs["u1"]
	assert.Equal(t, PlanFree, sub.Plan)
	assert.Equal(t, models.SubscriptionCanceled, sub.Status)
}

func TestHandleWebhook_PaymentFailed(t *testing.T) {
	st := newMemStore()
	st.subs["u1"] = &models.Subscription{UserID: "u1", Plan: PlanPro, Status: models.SubscriptionActive, StripeCustomerID: "cus_1"}
	b, _ := newTestBilling(st)

	payload := stripeEvent("evt_5", "invoice.payment_failed", `{"id":"in_1","object":"invoice","customer":"cus_1"}`)
	require.NoError(t, b.HandleWebhook(context.Background(), payload, signPayload(payload)))

	assert.Equal(t, models.SubscriptionPastDue, st.subs["u1"].Status)
	assert.Equal(t, PlanPro, st.subs["u1"].Plan)
}

func TestHandleWebhook_UnknownCustomer(t *testing.T) {
	st := newMemStore()
	b, _ := newTestBilling(st)

	payload := stripeEvent("evt_6", "invoice.payment_failed", `{"id":"in_1","customer":"cus_missing"}`)
	err := b.HandleWebhook(context.Background(), payload, signPayload(payload))
	assert.True(t, errors.Is(err, models.ErrNotFound))
}

func TestCheckout(t *testing.T) {
	st := newMemStore()
	b, fs := newTestBilling(st)

	url, err := b.Checkout(context.Background(), "u1", "owner@example.com", "Pro")
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.stripe.com/c/cs_1", url)
	assert.Equal(t, "price_pro", *fs.checkout.LineItems[0].Price)
	assert.Equal(t, "u1", *fs.checkout.ClientReferenceID)
	assert.Equal(t, "owner@example.com", *fs.checkout.CustomerEmail)
	assert.Equal(t, "pro", fs.checkout.Metadata["plan"])

	st.subs["u1"] = &models.Subscription{UserID: "u1", Plan: PlanPro, StripeCustomerID: "cus_1"}
	_, err = b.Checkout(context.Background(), "u1", "owner@example.com", PlanBusiness)
	require.NoError(t, err)
	assert.Equal(t, "cus_1", *fs.checkout.Customer)
	assert.Nil(t, fs.checkout.CustomerEmail)

	_, err = b.Checkout(context.Background(), "u1", "", "free")
	assert.ErrorIs(t, err, ErrInvalidPlan)
}

func TestCheckout_Disabled(t *testing.T) {
	b, _ := newTestBilling(newMemStore())
	b.cfg.Enabled = false

	_, err := b.Checkout(context.Background(), "u1", "", PlanPro)
	assert.ErrorIs(t, err, ErrBillingDisabled)
	_, err = b.Portal(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrBillingDisabled)
}

func TestPortal(t *testing.T) {
	st := newMemStore()
	b, fs := newTestBilling(st)

	_, err := b.Portal(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrInvalidState)

	st.subs["u1"] = &models.Subscription{UserID: "u1", Plan: PlanPro, StripeCustomerID: "cus_1"}
	url, err := b.Portal(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "https://billing.stripe.com/p/1", url)
	assert.Equal(t, "cus_1", *fs.portal.Customer)
}

func TestUsage(t *testing.T) {
	st := newMemStore()
	st.subs["u1"] = &models.Subscription{UserID: "u1", Plan: PlanPro, Status: models.SubscriptionActive}
	st.generated["u1"] = 2
	st.addAccount(models.ConnectedAccount{ID: "a1", UserID: "u1", Platform: models.PlatformX})
	b, _ := newTestBilling(st)

	u, err := b.Usage(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, &Usage{Plan: PlanPro, Status: models.SubscriptionActive, GeneratedToday: 2, DailyLimit: 5, Accounts: 1, AccountLimit: 4}, u)
}

func TestUsage_BillingDisabledKeepsStoredPlan(t *testing.T) {
	st := newMemStore()
	st.subs["u1"] = &models.Subscription{UserID: "u1", Plan: PlanBusiness, Status: models.SubscriptionActive}
	b, _ := newTestBilling(st)
	b.cfg.Enabled = false

	u, err := b.Usage(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, PlanBusiness, u.Plan)
	assert.Equal(t, 25, u.DailyLimit)

	_, err = b.Checkout(context.Background(), "u1", "a@b.c", PlanPro)
	assert.ErrorIs(t, err, ErrBillingDisabled)
}

func TestMapSubscriptionStatus(t *testing.T) {
	assert.Equal(t, models.SubscriptionActive, mapSubscriptionStatus(stripe.SubscriptionStatusTrialing))
	assert.Equal(t, models.SubscriptionPastDue, mapSubscriptionStatus(stripe.SubscriptionStatusUnpaid))
	assert.Equal(t, models.SubscriptionCanceled, mapSubscriptionStatus(stripe.SubscriptionStatusIncompleteExpired))
}
