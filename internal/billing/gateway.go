package billing

import (
	"context"
	"errors"
	"time"
)

var (
	ErrStripeDisabled      = errors.New("Stripe not configured")
	ErrNoUsageSubscription = errors.New("no metered usage subscription for user")
	ErrNotSubscribed       = errors.New("ad account has no subscription")
)

// RemoteSubscription is the subset of a Stripe subscription the service caches locally.
type RemoteSubscription struct {
	ID          string
	Status      string
	ItemID      string
	PriceID     string
	AmountCents int64
	PeriodStart time.Time
	PeriodEnd   time.Time
}

type SubscriptionInput struct {
	CustomerID  string
	PriceID     string
	UserID      string
	AdAccountID string
}

type CheckoutInput struct {
	CustomerID string
	PriceID    string
	Quantity   int64
	SuccessURL string
	CancelURL  string
	UserID     string
}

// Gateway is the part of Stripe the billing service talks to.
type Gateway interface {
	CreateCustomer(ctx context.Context, userID, email string) (string, error)
	CreateSubscription(ctx context.Context, in SubscriptionInput) (RemoteSubscription, error)
	GetSubscription(ctx context.Context, subscriptionID string) (RemoteSubscription, error)
	ChangePrice(ctx context.Context, subscriptionID, itemID, priceID string) (RemoteSubscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string) (RemoteSubscription, error)
	FindMeteredItem(ctx context.Context, customerID, meteredPriceID string) (string, error)
	ReportUsage(ctx context.Context, itemID string, quantity int64, at time.Time) error
	CreateCheckoutSession(ctx context.Context, in CheckoutInput) (string, error)
}
