package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/PortNumber53/adlens/backend/internal/models"
	"github.com/google/uuid"
)

// InsertBillingHistory appends one paid invoice line. Replayed invoices for the
// same subscription are ignored and reported as inserted=false.
func (s *Store) InsertBillingHistory(ctx context.Context, e models.BillingHistoryEntry) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Currency == "" {
		e.Currency = "usd"
	}
	paidAt := e.PaidAt
	if paidAt.IsZero() {
		paidAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO public.per_account_billing_history
			(id, subscription_id, stripe_invoice_id, amount_cents, currency, period_start, period_end, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (subscription_id, stripe_invoice_id) DO NOTHING
	`, e.ID, e.SubscriptionID, strOrNil(e.StripeInvoiceID), e.AmountCents, e.Currency,
		timeOrNil(e.PeriodStart), timeOrNil(e.PeriodEnd), paidAt)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListBillingHistory returns the user's history across all ad accounts, newest first.
func (s *Store) ListBillingHistory(ctx context.Context, userID string, limit int) ([]models.BillingHistoryEntry, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT h.id, h.subscription_id, s.ad_account_id, h.stripe_invoice_id, h.amount_cents,
		       h.currency, h.period_start, h.period_end, h.paid_at
		FROM public.per_account_billing_history h
		JOIN public.ad_account_subscriptions s ON s.id = h.subscription_id
		WHERE s.user_id = $1
		ORDER BY h.paid_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.BillingHistoryEntry{}
	for rows.Next() {
		var e models.BillingHistoryEntry
		var invoice sql.NullString
		var start, end sql.NullTime
		if err := rows.Scan(&e.ID, &e.SubscriptionID, &e.AdAccountID, &invoice, &e.AmountCents,
			&e.Currency, &start, &end, &e.PaidAt); err != nil {
			return nil, err
		}
		e.StripeInvoiceID = nullStringPtr(invoice)
		e.PeriodStart = nullTimePtr(start)
		e.PeriodEnd = nullTimePtr(end)
		out = append(out, e)
	}
	return out, rows.Err()
}
