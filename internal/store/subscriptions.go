package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/PortNumber53/adlens/backend/internal/models"
	"github.com/google/uuid"
)

const subscriptionColumns = `id, user_id, ad_account_id, ad_account_name, stripe_subscription_id,
	stripe_price_id, plan_id, billing_cycle, amount_cents, status,
	current_period_start, current_period_end, canceled_at, created_at, updated_at`

func scanSubscription(row rowScanner) (models.AdAccountSubscription, error) {
	var sub models.AdAccountSubscription
	var name, stripeSubID, priceID, planID sql.NullString
	var periodStart, periodEnd, canceledAt sql.NullTime
	err := row.Scan(
		&sub.ID, &sub.UserID, &sub.AdAccountID, &name, &stripeSubID,
		&priceID, &planID, &sub.BillingCycle, &sub.AmountCents, &sub.Status,
		&periodStart, &periodEnd, &canceledAt, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return models.AdAccountSubscription{}, err
	}
	sub.AdAccountName = nullStringPtr(name)
	sub.StripeSubscriptionID = nullStringPtr(stripeSubID)
	sub.StripePriceID = nullStringPtr(priceID)
	sub.PlanID = nullStringPtr(planID)
	sub.CurrentPeriodStart = nullTimePtr(periodStart)
	sub.CurrentPeriodEnd = nullTimePtr(periodEnd)
	sub.CanceledAt = nullTimePtr(canceledAt)
	return sub, nil
}

func (s *Store) GetSubscription(ctx context.Context, userID, adAccountID string) (models.AdAccountSubscription, error) {
	if err := s.ready(); err != nil {
		return models.AdAccountSubscription{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM public.ad_account_subscriptions
		WHERE user_id = $1 AND ad_account_id = $2
	`, userID, adAccountID)
	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.AdAccountSubscription{}, ErrNotFound
	}
	return sub, err
}

// ListSubscriptions returns the user's rows, canceled ones included, oldest first.
func (s *Store) ListSubscriptions(ctx context.Context, userID string) ([]models.AdAccountSubscription, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM public.ad_account_subscriptions
		WHERE user_id = $1
		ORDER BY created_at ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	return collectSubscriptions(rows)
}

func (s *Store) ListSubscriptionsByStripeID(ctx context.Context, stripeSubscriptionID string) ([]models.AdAccountSubscription, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM public.ad_account_subscriptions
		WHERE stripe_subscription_id = $1
	`, stripeSubscriptionID)
	if err != nil {
		return nil, err
	}
	return collectSubscriptions(rows)
}

func collectSubscriptions(rows *sql.Rows) ([]models.AdAccountSubscription, error) {
	defer rows.Close()
	out := []models.AdAccountSubscription{}
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// InsertSubscription stores a new row for (user, ad account). A canceled row
// for the same pair is reactivated in place; a live row yields ErrDuplicate.
func (s *Store) InsertSubscription(ctx context.Context, sub *models.AdAccountSubscription) error {
	if err := s.ready(); err != nil {
		return err
	}
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.Status == "" {
		sub.Status = models.StatusActive
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO public.ad_account_subscriptions (
			id, user_id, ad_account_id, ad_account_name, stripe_subscription_id, stripe_price_id,
			plan_id, billing_cycle, amount_cents, status, current_period_start, current_period_end,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		ON CONFLICT (user_id, ad_account_id) DO UPDATE SET
			ad_account_name = EXCLUDED.ad_account_name,
			stripe_subscription_id = EXCLUDED.stripe_subscription_id,
			stripe_price_id = EXCLUDED.stripe_price_id,
			plan_id = EXCLUDED.plan_id,
			billing_cycle = EXCLUDED.billing_cycle,
			amount_cents = EXCLUDED.amount_cents,
			status = EXCLUDED.status,
			current_period_start = EXCLUDED.current_period_start,
			current_period_end = EXCLUDED.current_period_end,
			canceled_at = NULL,
			updated_at = NOW()
		WHERE public.ad_account_subscriptions.status = 'canceled'
		RETURNING id, created_at, updated_at
	`, sub.ID, sub.UserID, sub.AdAccountID, strOrNil(sub.AdAccountName), strOrNil(sub.StripeSubscriptionID),
		strOrNil(sub.StripePriceID), strOrNil(sub.PlanID), sub.BillingCycle, sub.AmountCents, sub.Status,
		timeOrNil(sub.CurrentPeriodStart), timeOrNil(sub.CurrentPeriodEnd))
	err := row.Scan(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrDuplicate
	}
	return err
}

// SubscriptionSync carries the values Stripe reports for a subscription.
type SubscriptionSync struct {
	Status        string
	StripePriceID string
	PlanID        string
	BillingCycle  string
	AmountCents   int64
	PeriodStart   *time.Time
	PeriodEnd     *time.Time
}

// ApplySubscriptionSync overwrites the cached Stripe fields of one row.
func (s *Store) ApplySubscriptionSync(ctx context.Context, id string, v SubscriptionSync) error {
	if err := s.ready(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE public.ad_account_subscriptions
		SET status = $2,
		    stripe_price_id = COALESCE($3, stripe_price_id),
		    plan_id = COALESCE($4, plan_id),
		    billing_cycle = COALESCE($5, billing_cycle),
		    amount_cents = CASE WHEN $6::bigint > 0 THEN $6::bigint ELSE amount_cents END,
		    current_period_start = $7,
		    current_period_end = $8,
		    updated_at = NOW()
		WHERE id = $1
	`, id, v.Status, strOrNil(&v.StripePriceID), strOrNil(&v.PlanID), strOrNil(&v.BillingCycle), v.AmountCents,
		timeOrNil(v.PeriodStart), timeOrNil(v.PeriodEnd))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStatusByStripeID is used by webhooks, which only know the Stripe subscription id.
func (s *Store) UpdateStatusByStripeID(ctx context.Context, stripeSubscriptionID, status string, periodStart, periodEnd *time.Time) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE public.ad_account_subscriptions
		SET status = $2,
		    current_period_start = COALESCE($3, current_period_start),
		    current_period_end = COALESCE($4, current_period_end),
		    canceled_at = CASE WHEN $2 = 'canceled' THEN NOW() ELSE canceled_at END,
		    updated_at = NOW()
		WHERE stripe_subscription_id = $1
	`, stripeSubscriptionID, status, timeOrNil(periodStart), timeOrNil(periodEnd))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) MarkSubscriptionCanceled(ctx context.Context, id string) error {
	if err := s.ready(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE public.ad_account_subscriptions
		SET status = 'canceled', canceled_at = NOW(), updated_at = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) CountActiveSubscriptions(ctx context.Context, userID string) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM public.ad_account_subscriptions
		WHERE user_id = $1 AND status IN ('active', 'trialing')
	`, userID).Scan(&n)
	return n, err
}
