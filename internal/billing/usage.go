package billing

import (
	"context"
	"errors"

	"github.com/PortNumber53/adlens/backend/internal/store"
)

type UsageReport struct {
	UserID   string `json:"userId"`
	ItemID   string `json:"subscriptionItemId"`
	Quantity int64  `json:"quantity"`
}

// ReportUsage sets the metered quantity for the current period to the number
// of active ad accounts. The record uses action=set, so repeated reports in
// one period replace each other.
func (s *Service) ReportUsage(ctx context.Context, userID string) (UsageReport, error) {
	if !s.Enabled() {
		return UsageReport{}, ErrStripeDisabled
	}
	count, err := s.Store.CountActiveSubscriptions(ctx, userID)
	if err != nil {
		return UsageReport{}, err
	}

	customer, err := s.Store.GetStripeCustomer(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return UsageReport{}, ErrNoUsageSubscription
	}
	if err != nil {
		return UsageReport{}, err
	}

	itemID := ""
	if customer.UsageSubscriptionItemID != nil {
		itemID = *customer.UsageSubscriptionItemID
	}
	if itemID == "" {
		itemID, err = s.Gateway.FindMeteredItem(ctx, customer.StripeCustomerID, s.MeteredPriceID)
		if err != nil {
			return UsageReport{}, err
		}
		if err := s.Store.SetUsageSubscriptionItem(ctx, userID, itemID); err != nil {
			s.logger().Printf("[Billing][ReportUsage] cache item failed userId=%s item=%s err=%v", userID, itemID, err)
		}
	}

	if err := s.Gateway.ReportUsage(ctx, itemID, count, s.clock()); err != nil {
		return UsageReport{}, err
	}
	s.logger().Printf("[Billing][ReportUsage] userId=%s item=%s quantity=%d", userID, itemID, count)
	return UsageReport{UserID: userID, ItemID: itemID, Quantity: count}, nil
}
