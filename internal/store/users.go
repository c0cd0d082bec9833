package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/PortNumber53/adlens/backend/internal/models"
)

const userColumns = `id, email, first_name, last_name, current_plan_id, current_plan_name,
	current_billing_cycle, subscription_status, created_at`

func scanUser(row rowScanner) (models.User, error) {
	var u models.User
	var first, last, planID, planName, cycle, status sql.NullString
	err := row.Scan(&u.ID, &u.Email, &first, &last, &planID, &planName, &cycle, &status, &u.CreatedAt)
	if err != nil {
		return models.User{}, err
	}
	u.FirstName = nullStringPtr(first)
	u.LastName = nullStringPtr(last)
	u.CurrentPlanID = nullStringPtr(planID)
	u.CurrentPlanName = nullStringPtr(planName)
	u.CurrentBillingCycle = nullStringPtr(cycle)
	u.SubscriptionStatus = nullStringPtr(status)
	return u, nil
}

// UpsertUser creates the user or refreshes profile fields without clobbering
// known values with empty ones (OAuth callbacks often lack them).
func (s *Store) UpsertUser(ctx context.Context, u models.User) (models.User, error) {
	if err := s.ready(); err != nil {
		return models.User{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO public.users (id, email, first_name, last_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			email = COALESCE(NULLIF(EXCLUDED.email, ''), public.users.email),
			first_name = COALESCE(EXCLUDED.first_name, public.users.first_name),
			last_name = COALESCE(EXCLUDED.last_name, public.users.last_name),
			updated_at = NOW()
		RETURNING `+userColumns,
		u.ID, u.Email, strOrNil(u.FirstName), strOrNil(u.LastName))
	return scanUser(row)
}

func (s *Store) GetUser(ctx context.Context, id string) (models.User, error) {
	if err := s.ready(); err != nil {
		return models.User{}, err
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM public.users WHERE id = $1`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrNotFound
	}
	return u, err
}

// EnsureUser inserts a bare user row so foreign keys hold for callers that only know the id.
func (s *Store) EnsureUser(ctx context.Context, id, email string) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO public.users (id, email, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (id) DO NOTHING
	`, id, email)
	return err
}

// UpdateUserPlan records the plan the user last subscribed their ad accounts to.
func (s *Store) UpdateUserPlan(ctx context.Context, userID, planID, planName, cycle, status string) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE public.users
		SET current_plan_id = $2, current_plan_name = $3, current_billing_cycle = $4,
		    subscription_status = $5, updated_at = NOW()
		WHERE id = $1
	`, userID, planID, planName, cycle, status)
	return err
}

// ListUsersWithActiveSubscriptions returns every user id owning at least one active ad-account subscription.
func (s *Store) ListUsersWithActiveSubscriptions(ctx context.Context) ([]string, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT user_id FROM public.ad_account_subscriptions
		WHERE status IN ('active', 'trialing')
		ORDER BY user_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
