package billing

import (
	"context"
	"errors"
	"strings"

	"github.com/PortNumber53/adlens/backend/internal/models"
	"github.com/PortNumber53/adlens/backend/internal/store"
)

// AddAccountRequest connects one ad account for billing.
type AddAccountRequest struct {
	UserID  string
	Email   string
	Plan    string
	Cycle   string
	Account AccountRef
}

// AddAccount subscribes a single ad account. Without a Stripe gateway the row
// is recorded locally at the catalog price so totals stay meaningful.
func (s *Service) AddAccount(ctx context.Context, req AddAccountRequest) (AccountResult, error) {
	plan := req.Plan
	if plan == "" {
		plan = DefaultPlanID
	}
	if s.Enabled() {
		res, err := s.CreateForAccounts(ctx, CreateRequest{
			UserID:   req.UserID,
			Email:    req.Email,
			Plan:     plan,
			Cycle:    req.Cycle,
			Accounts: []AccountRef{req.Account},
		})
		if err != nil {
			return AccountResult{}, err
		}
		return res.Results[0], nil
	}

	price, err := s.catalog().Lookup(plan, req.Cycle)
	if err != nil {
		return AccountResult{}, err
	}
	res := AccountResult{AdAccountID: strings.TrimSpace(req.Account.ID), AdAccountName: req.Account.Name}
	sub := models.AdAccountSubscription{
		UserID:       req.UserID,
		AdAccountID:  res.AdAccountID,
		PlanID:       &price.PlanID,
		BillingCycle: price.Cycle,
		AmountCents:  price.AmountCents,
		Status:       models.StatusActive,
	}
	if req.Account.Name != "" {
		name := req.Account.Name
		sub.AdAccountName = &name
	}
	err = s.Store.InsertSubscription(ctx, &sub)
	switch {
	case errors.Is(err, store.ErrDuplicate):
		res.Status = ResultAlreadyExists
		if existing, gerr := s.Store.GetSubscription(ctx, req.UserID, res.AdAccountID); gerr == nil {
			res.SubscriptionID = existing.ID
		}
	case err != nil:
		return AccountResult{}, err
	default:
		res.Status = ResultCreated
		res.SubscriptionID = sub.ID
		s.notify(req.UserID, EventSubscriptionUpdated, map[string]string{"adAccountId": res.AdAccountID, "status": sub.Status})
	}
	return res, nil
}
