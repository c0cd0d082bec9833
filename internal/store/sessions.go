package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/PortNumber53/adlens/backend/internal/models"
)

func (s *Store) SaveFacebookSession(ctx context.Context, sess models.FacebookSession) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO public.facebook_sessions (user_id, access_token, ad_account_id, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			ad_account_id = COALESCE(EXCLUDED.ad_account_id, public.facebook_sessions.ad_account_id),
			updated_at = NOW()
	`, sess.UserID, sess.AccessToken, strOrNil(sess.AdAccountID))
	return err
}

func (s *Store) GetFacebookSession(ctx context.Context, userID string) (models.FacebookSession, error) {
	if err := s.ready(); err != nil {
		return models.FacebookSession{}, err
	}
	var sess models.FacebookSession
	var acct sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, access_token, ad_account_id, updated_at
		FROM public.facebook_sessions
		WHERE user_id = $1
	`, userID).Scan(&sess.UserID, &sess.AccessToken, &acct, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.FacebookSession{}, ErrNotFound
	}
	if err != nil {
		return models.FacebookSession{}, err
	}
	sess.AdAccountID = nullStringPtr(acct)
	return sess, nil
}
