package billing

import (
	"context"
	"errors"

	"github.com/PortNumber53/adlens/backend/internal/models"
	"github.com/PortNumber53/adlens/backend/internal/store"
)

// Summary is the billing overview. Money fields are dollars; the *Cents
// twins carry the exact values.
type Summary struct {
	UserID               string                         `json:"userId"`
	PlanID               string                         `json:"planId"`
	PlanName             string                         `json:"planName"`
	BillingCycle         string                         `json:"billingCycle"`
	TotalAccounts        int                            `json:"totalAccounts"`
	ActiveAccounts       int                            `json:"activeAccounts"`
	PricePerAccount      float64                        `json:"pricePerAccount"`
	PricePerAccountCents int64                          `json:"pricePerAccountCents"`
	NextCharge           float64                        `json:"nextCharge"`
	NextChargeCents      int64                          `json:"nextChargeCents"`
	NextChargeDate       *string                        `json:"nextChargeDate,omitempty"`
	Accounts             []models.AdAccountSubscription `json:"accounts"`
}

// Summary derives totals from the stored rows: canceled rows are excluded and
// nextCharge is always activeAccounts × pricePerAccount.
func (s *Service) Summary(ctx context.Context, userID string) (Summary, error) {
	subs, err := s.Store.ListSubscriptions(ctx, userID)
	if err != nil {
		return Summary{}, err
	}

	price, err := s.userPlanPrice(ctx, userID)
	if err != nil {
		return Summary{}, err
	}

	out := Summary{
		UserID:               userID,
		PlanID:               price.PlanID,
		PlanName:             price.Name,
		BillingCycle:         price.Cycle,
		PricePerAccountCents: price.AmountCents,
		Accounts:             []models.AdAccountSubscription{},
	}
	for _, sub := range subs {
		if sub.Status == models.StatusCanceled {
			continue
		}
		out.TotalAccounts++
		out.Accounts = append(out.Accounts, sub)
		if !IsActiveStatus(sub.Status) {
			continue
		}
		out.ActiveAccounts++
		if sub.CurrentPeriodEnd != nil {
			d := sub.CurrentPeriodEnd.UTC().Format("2006-01-02")
			if out.NextChargeDate == nil || d < *out.NextChargeDate {
				out.NextChargeDate = &d
			}
		}
	}
	out.NextChargeCents = int64(out.ActiveAccounts) * out.PricePerAccountCents
	out.PricePerAccount = centsToDollars(out.PricePerAccountCents)
	out.NextCharge = centsToDollars(out.NextChargeCents)
	return out, nil
}

func (s *Service) userPlanPrice(ctx context.Context, userID string) (PlanPrice, error) {
	u, err := s.Store.GetUser(ctx, userID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return PlanPrice{}, err
	}
	planID, cycle := DefaultPlanID, CycleMonthly
	if u.CurrentPlanID != nil && *u.CurrentPlanID != "" {
		planID = *u.CurrentPlanID
	}
	if u.CurrentBillingCycle != nil && *u.CurrentBillingCycle != "" {
		cycle = *u.CurrentBillingCycle
	}
	pp, err := s.catalog().Lookup(planID, cycle)
	if err != nil {
		pp, _ = s.catalog().Lookup(DefaultPlanID, CycleMonthly)
		pp.AmountCents = s.catalog().FlatPricePerAccountCents(cycle)
	}
	return pp, nil
}

func centsToDollars(c int64) float64 {
	return float64(c) / 100
}
