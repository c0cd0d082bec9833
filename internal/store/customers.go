package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/PortNumber53/adlens/backend/internal/models"
)

func (s *Store) GetStripeCustomer(ctx context.Context, userID string) (models.StripeCustomer, error) {
	if err := s.ready(); err != nil {
		return models.StripeCustomer{}, err
	}
	var c models.StripeCustomer
	var item sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, stripe_customer_id, usage_subscription_item_id
		FROM public.stripe_customers
		WHERE user_id = $1
	`, userID).Scan(&c.UserID, &c.StripeCustomerID, &item)
	if errors.Is(err, sql.ErrNoRows) {
		return models.StripeCustomer{}, ErrNotFound
	}
	if err != nil {
		return models.StripeCustomer{}, err
	}
	c.UsageSubscriptionItemID = nullStringPtr(item)
	return c, nil
}

func (s *Store) SaveStripeCustomer(ctx context.Context, userID, stripeCustomerID string) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO public.stripe_customers (user_id, stripe_customer_id, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			stripe_customer_id = EXCLUDED.stripe_customer_id,
			updated_at = NOW()
	`, userID, stripeCustomerID)
	return err
}

// SetUsageSubscriptionItem caches the metered subscription item used for usage records.
func (s *Store) SetUsageSubscriptionItem(ctx context.Context, userID, itemID string) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE public.stripe_customers
		SET usage_subscription_item_id = $2, updated_at = NOW()
		WHERE user_id = $1
	`, userID, itemID)
	return err
}
