package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/PortNumber53/adlens/backend/internal/metrics"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

// StripeGateway implements Gateway with the stripe-go client.
type StripeGateway struct {
	api     *client.API
	metrics *metrics.Metrics
}

// NewStripeGateway returns nil when no secret key is configured.
func NewStripeGateway(secretKey string, m *metrics.Metrics) *StripeGateway {
	if secretKey == "" {
		return nil
	}
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeGateway{api: api, metrics: m}
}

func (g *StripeGateway) CreateCustomer(ctx context.Context, userID, email string) (string, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	if email != "" {
		params.Email = stripe.String(email)
	}
	params.AddMetadata("user_id", userID)
	c, err := g.api.Customers.New(params)
	g.metrics.StripeCall("customer.create", err)
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

func (g *StripeGateway) CreateSubscription(ctx context.Context, in SubscriptionInput) (RemoteSubscription, error) {
	params := &stripe.SubscriptionParams{
		Customer: stripe.String(in.CustomerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(in.PriceID)},
		},
	}
	params.Context = ctx
	params.AddMetadata("user_id", in.UserID)
	params.AddMetadata("ad_account_id", in.AdAccountID)
	sub, err := g.api.Subscriptions.New(params)
	g.metrics.StripeCall("subscription.create", err)
	if err != nil {
		return RemoteSubscription{}, err
	}
	return remoteFromStripe(sub), nil
}

func (g *StripeGateway) GetSubscription(ctx context.Context, subscriptionID string) (RemoteSubscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := g.api.Subscriptions.Get(subscriptionID, params)
	g.metrics.StripeCall("subscription.get", err)
	if err != nil {
		return RemoteSubscription{}, err
	}
	return remoteFromStripe(sub), nil
}

func (g *StripeGateway) ChangePrice(ctx context.Context, subscriptionID, itemID, priceID string) (RemoteSubscription, error) {
	item := &stripe.SubscriptionItemsParams{Price: stripe.String(priceID)}
	if itemID != "" {
		item.ID = stripe.String(itemID)
	}
	params := &stripe.SubscriptionParams{
		Items:             []*stripe.SubscriptionItemsParams{item},
		ProrationBehavior: stripe.String("create_prorations"),
	}
	params.Context = ctx
	sub, err := g.api.Subscriptions.Update(subscriptionID, params)
	g.metrics.StripeCall("subscription.update", err)
	if err != nil {
		return RemoteSubscription{}, err
	}
	return remoteFromStripe(sub), nil
}

func (g *StripeGateway) CancelSubscription(ctx context.Context, subscriptionID string) (RemoteSubscription, error) {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	sub, err := g.api.Subscriptions.Cancel(subscriptionID, params)
	g.metrics.StripeCall("subscription.cancel", err)
	if err != nil {
		return RemoteSubscription{}, err
	}
	return remoteFromStripe(sub), nil
}

// FindMeteredItem scans the customer's live subscriptions for an item on the metered price.
func (g *StripeGateway) FindMeteredItem(ctx context.Context, customerID, meteredPriceID string) (string, error) {
	params := &stripe.SubscriptionListParams{Customer: stripe.String(customerID)}
	params.Context = ctx
	iter := g.api.Subscriptions.List(params)
	for iter.Next() {
		sub := iter.Subscription()
		if sub.Items == nil {
			continue
		}
		for _, it := range sub.Items.Data {
			if it == nil || it.Price == nil {
				continue
			}
			if meteredPriceID != "" && it.Price.ID == meteredPriceID {
				return it.ID, nil
			}
			if meteredPriceID == "" && it.Price.Recurring != nil && it.Price.Recurring.UsageType == stripe.PriceRecurringUsageTypeMetered {
				return it.ID, nil
			}
		}
	}
	err := iter.Err()
	g.metrics.StripeCall("subscription.list", err)
	if err != nil {
		return "", err
	}
	return "", ErrNoUsageSubscription
}

func (g *StripeGateway) ReportUsage(ctx context.Context, itemID string, quantity int64, at time.Time) error {
	params := &stripe.UsageRecordParams{
		SubscriptionItem: stripe.String(itemID),
		Quantity:         stripe.Int64(quantity),
		Action:           stripe.String("set"),
		Timestamp:        stripe.Int64(at.Unix()),
	}
	params.Context = ctx
	_, err := g.api.UsageRecords.New(params)
	g.metrics.StripeCall("usage_record.create", err)
	return err
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, in CheckoutInput) (string, error) {
	qty := in.Quantity
	if qty <= 0 {
		qty = 1
	}
	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(in.CustomerID),
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(in.PriceID), Quantity: stripe.Int64(qty)},
		},
		SuccessURL: stripe.String(in.SuccessURL),
		CancelURL:  stripe.String(in.CancelURL),
	}
	params.Context = ctx
	params.AddMetadata("user_id", in.UserID)
	s, err := g.api.CheckoutSessions.New(params)
	g.metrics.StripeCall("checkout_session.create", err)
	if err != nil {
		return "", err
	}
	if s.URL == "" {
		return "", fmt.Errorf("checkout session %s has no url", s.ID)
	}
	return s.URL, nil
}

func remoteFromStripe(sub *stripe.Subscription) RemoteSubscription {
	if sub == nil {
		return RemoteSubscription{}
	}
	out := RemoteSubscription{
		ID:     sub.ID,
		Status: string(sub.Status),
	}
	if sub.CurrentPeriodStart > 0 {
		out.PeriodStart = time.Unix(sub.CurrentPeriodStart, 0).UTC()
	}
	if sub.CurrentPeriodEnd > 0 {
		out.PeriodEnd = time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0] != nil {
		item := sub.Items.Data[0]
		out.ItemID = item.ID
		if item.Price != nil {
			out.PriceID = item.Price.ID
			out.AmountCents = item.Price.UnitAmount
		}
	}
	return out
}
