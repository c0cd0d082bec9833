package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/PortNumber53/adlens/backend/internal/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

const creativeScoreColumns = `id, ad_account_id, creative_id, image_hash, model, score_overall,
	scores_json, insights_json, compliance_flags, request_id, created_at, updated_at`

func scanCreativeScore(row rowScanner) (models.CreativeScore, error) {
	var cs models.CreativeScore
	var hash, model, reqID sql.NullString
	var scores, insights, flags []byte
	err := row.Scan(&cs.ID, &cs.AdAccountID, &cs.CreativeID, &hash, &model, &cs.ScoreOverall,
		&scores, &insights, &flags, &reqID, &cs.CreatedAt, &cs.UpdatedAt)
	if err != nil {
		return models.CreativeScore{}, err
	}
	cs.ImageHash = nullStringPtr(hash)
	cs.Model = nullStringPtr(model)
	cs.RequestID = nullStringPtr(reqID)
	cs.Scores = scores
	cs.Insights = insights
	if len(flags) == 0 {
		flags = []byte("[]")
	}
	cs.ComplianceFlags = flags
	return cs, nil
}

// UpsertCreativeScore keeps one row per creative id; a re-score replaces every field.
func (s *Store) UpsertCreativeScore(ctx context.Context, cs models.CreativeScore) (models.CreativeScore, error) {
	if err := s.ready(); err != nil {
		return models.CreativeScore{}, err
	}
	if cs.ID == "" {
		cs.ID = uuid.NewString()
	}
	flags := []byte(cs.ComplianceFlags)
	if len(flags) == 0 {
		flags = []byte("[]")
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO public.creative_scores (
			id, ad_account_id, creative_id, image_hash, model, score_overall,
			scores_json, insights_json, compliance_flags, request_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8::jsonb, $9::jsonb, $10, NOW(), NOW())
		ON CONFLICT (creative_id) DO UPDATE SET
			ad_account_id = EXCLUDED.ad_account_id,
			image_hash = EXCLUDED.image_hash,
			model = EXCLUDED.model,
			score_overall = EXCLUDED.score_overall,
			scores_json = EXCLUDED.scores_json,
			insights_json = EXCLUDED.insights_json,
			compliance_flags = EXCLUDED.compliance_flags,
			request_id = EXCLUDED.request_id,
			updated_at = NOW()
		RETURNING `+creativeScoreColumns,
		cs.ID, cs.AdAccountID, cs.CreativeID, strOrNil(cs.ImageHash), strOrNil(cs.Model), cs.ScoreOverall,
		string(cs.Scores), string(cs.Insights), string(flags), strOrNil(cs.RequestID))
	return scanCreativeScore(row)
}

// GetCreativeScore looks up a creative; a non-empty imageHash must also match.
func (s *Store) GetCreativeScore(ctx context.Context, creativeID, imageHash string) (models.CreativeScore, error) {
	if err := s.ready(); err != nil {
		return models.CreativeScore{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT `+creativeScoreColumns+`
		FROM public.creative_scores
		WHERE creative_id = $1 AND ($2 = '' OR image_hash = $2)
	`, creativeID, imageHash)
	cs, err := scanCreativeScore(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CreativeScore{}, ErrNotFound
	}
	return cs, err
}

// GetCreativeScores returns the rows that exist for ids; missing ids are simply absent.
func (s *Store) GetCreativeScores(ctx context.Context, creativeIDs []string) ([]models.CreativeScore, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	out := []models.CreativeScore{}
	if len(creativeIDs) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+creativeScoreColumns+`
		FROM public.creative_scores
		WHERE creative_id = ANY($1)
		ORDER BY updated_at DESC
	`, pq.Array(creativeIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		cs, err := scanCreativeScore(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}
