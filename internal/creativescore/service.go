// Package creativescore validates, stores and serves AI creative scores and
// forwards analysis requests to the n8n workflow that produces them.
package creativescore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/PortNumber53/adlens/backend/internal/models"
	"github.com/PortNumber53/adlens/backend/internal/store"
)

// EventScoreSaved is published on the ad account's realtime channel.
const EventScoreSaved = "creative_score.saved"

const maxBatchIDs = 200

type Service struct {
	Store  *store.Store
	Notify func(channel, event string, payload any)
}

// Save upserts the score for the payload's creative id.
func (s *Service) Save(ctx context.Context, p Payload) (models.CreativeScore, error) {
	scores, err := json.Marshal(p.Dimensions)
	if err != nil {
		return models.CreativeScore{}, err
	}
	insights, err := json.Marshal(p.Insights)
	if err != nil {
		return models.CreativeScore{}, err
	}
	flags, err := json.Marshal(p.ComplianceFlags)
	if err != nil {
		return models.CreativeScore{}, err
	}
	cs := models.CreativeScore{
		AdAccountID:     p.AdAccountID,
		CreativeID:      p.CreativeID,
		ImageHash:       optional(p.ImageHash),
		Model:           optional(p.Model),
		RequestID:       optional(p.RequestID),
		ScoreOverall:    p.Overall,
		Scores:          scores,
		Insights:        insights,
		ComplianceFlags: flags,
	}
	saved, err := s.Store.UpsertCreativeScore(ctx, cs)
	if err != nil {
		return models.CreativeScore{}, err
	}
	if s.Notify != nil && saved.AdAccountID != "" {
		s.Notify(saved.AdAccountID, EventScoreSaved, map[string]any{
			"creativeId":   saved.CreativeID,
			"scoreOverall": saved.ScoreOverall,
		})
	}
	return saved, nil
}

// Get returns nil with no error when the creative has not been scored.
func (s *Service) Get(ctx context.Context, creativeID, imageHash string) (*models.CreativeScore, error) {
	cs, err := s.Store.GetCreativeScore(ctx, strings.TrimSpace(creativeID), strings.TrimSpace(imageHash))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cs, nil
}

// GetBatch returns scores keyed by creative id; ids without a score are absent.
func (s *Service) GetBatch(ctx context.Context, ids []string) (map[string]models.CreativeScore, error) {
	clean := ParseIDList(strings.Join(ids, ","))
	if len(clean) > maxBatchIDs {
		clean = clean[:maxBatchIDs]
	}
	rows, err := s.Store.GetCreativeScores(ctx, clean)
	if err != nil {
		return nil, err
	}
	out := make(map[string]models.CreativeScore, len(rows))
	for _, r := range rows {
		if _, seen := out[r.CreativeID]; !seen {
			out[r.CreativeID] = r
		}
	}
	return out, nil
}

// ParseIDList splits a comma separated list, dropping blanks and duplicates.
func ParseIDList(raw string) []string {
	seen := map[string]bool{}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		id := strings.TrimSpace(part)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
