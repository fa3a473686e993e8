package store

import (
	"context"
	"database/sql"
	"errors"

	"postvolve/models"
)

// GetSubscription returns the user's subscription. Users without a row are on
// the free plan.
func (s *Store) GetSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	var sub models.Subscription
	var customer, subID sql.NullString
	var periodEnd sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, plan, status, stripe_customer_id, stripe_subscription_id, current_period_end, updated_at
		FROM subscriptions WHERE user_id = $1
	`, userID).Scan(&sub.UserID, &sub.Plan, &sub.Status, &customer, &subID, &periodEnd, &sub.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.Subscription{UserID: userID, Plan: "free", Status: models.SubscriptionActive}, nil
	}
	if err != nil {
		return nil, err
	}
	sub.StripeCustomerID = customer.String
	sub.StripeSubscriptionID = subID.String
	sub.CurrentPeriodEnd = timePtr(periodEnd)
	return &sub, nil
}

// UpsertSubscription writes the mirrored Stripe state. Empty Stripe ids keep
// whatever is stored.
func (s *Store) UpsertSubscription(ctx context.Context, sub *models.Subscription) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (user_id, plan, status, stripe_customer_id, stripe_subscription_id, current_period_end)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			plan = EXCLUDED.plan,
			status = EXCLUDED.status,
			stripe_customer_id = COALESCE(EXCLUDED.stripe_customer_id, subscriptions.stripe_customer_id),
			stripe_subscription_id = COALESCE(EXCLUDED.stripe_subscription_id, subscriptions.stripe_subscription_id),
			current_period_end = COALESCE(EXCLUDED.current_period_end, subscriptions.current_period_end),
			updated_at = NOW()
	`, sub.UserID, sub.Plan, sub.Status, nullString(sub.StripeCustomerID), nullString(sub.StripeSubscriptionID),
		nullTime(sub.CurrentPeriodEnd))
	return err
}

func (s *Store) FindUserByCustomer(ctx context.Context, customerID string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `SELECT user_id FROM subscriptions WHERE stripe_customer_id = $1`, customerID).Scan(&userID)
	if err != nil {
		return "", notFound(err)
	}
	return userID, nil
}

// MarkEventProcessed records a webhook event id. It returns false when the
// event was seen before.
func (s *Store) MarkEventProcessed(ctx context.Context, id, eventType string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO stripe_events (id, type) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING
	`, id, eventType)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// UnmarkEvent forgets an event id so a Stripe retry is processed again.
func (s *Store) UnmarkEvent(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM stripe_events WHERE id = $1`, id)
	return err
}
