package store

import (
	"context"
	"time"
)

// RecordStripeEvent stores a webhook event id. It returns false when the event
// was already recorded, so replays can be acknowledged without side effects.
func (s *Store) RecordStripeEvent(ctx context.Context, eventID, eventType string, payload []byte) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	var data any
	if len(payload) > 0 {
		data = string(payload)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO public.stripe_events (stripe_event_id, event_type, data, created_at)
		VALUES ($1, $2, $3::jsonb, NOW())
		ON CONFLICT (stripe_event_id) DO NOTHING
	`, eventID, eventType, data)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ForgetStripeEvent removes a recorded event id so a redelivery is applied again.
func (s *Store) ForgetStripeEvent(ctx context.Context, eventID string) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM public.stripe_events WHERE stripe_event_id = $1`, eventID)
	return err
}

// ConsumeGraphRequests adds to the per-family daily request counter and reports
// ok=false once dailyMax (0 = unlimited) is exceeded.
func (s *Store) ConsumeGraphRequests(ctx context.Context, family string, add, dailyMax int64, now time.Time) (ok bool, used int64, err error) {
	if add <= 0 {
		return true, 0, nil
	}
	if err := s.ready(); err != nil {
		return false, 0, err
	}
	day := now.UTC().Format("2006-01-02")
	id := family + ":" + day
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO public.graph_api_usage (id, family, day, requests_used, last_updated_at)
		VALUES ($1, $2, $3::date, $4, NOW())
		ON CONFLICT (family, day) DO UPDATE SET
			requests_used = public.graph_api_usage.requests_used + EXCLUDED.requests_used,
			last_updated_at = NOW()
		RETURNING requests_used
	`, id, family, day, add).Scan(&used)
	if err != nil {
		return false, 0, err
	}
	if dailyMax > 0 && used > dailyMax {
		return false, used, nil
	}
	return true, used, nil
}
