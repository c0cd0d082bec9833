package models

import (
	"encoding/json"
	"time"
)

type User struct {
	ID                  string    `json:"id"`
	Email               string    `json:"email"`
	FirstName           *string   `json:"firstName,omitempty"`
	LastName            *string   `json:"lastName,omitempty"`
	CurrentPlanID       *string   `json:"currentPlanId,omitempty"`
	CurrentPlanName     *string   `json:"currentPlanName,omitempty"`
	CurrentBillingCycle *string   `json:"currentBillingCycle,omitempty"`
	SubscriptionStatus  *string   `json:"subscriptionStatus,omitempty"`
	CreatedAt           time.Time `json:"createdAt"`
}

type StripeCustomer struct {
	UserID                  string  `json:"userId"`
	StripeCustomerID        string  `json:"stripeCustomerId"`
	UsageSubscriptionItemID *string `json:"usageSubscriptionItemId,omitempty"`
}

// Subscription statuses stored on AdAccountSubscription rows. Stripe statuses
// (trialing, past_due, ...) are stored verbatim as well.
const (
	StatusActive   = "active"
	StatusCanceled = "canceled"
)

// AdAccountSubscription is one billable Facebook ad account for a user.
type AdAccountSubscription struct {
	ID                   string     `json:"id"`
	UserID               string     `json:"userId"`
	AdAccountID          string     `json:"adAccountId"`
	AdAccountName        *string    `json:"adAccountName,omitempty"`
	StripeSubscriptionID *string    `json:"stripeSubscriptionId,omitempty"`
	StripePriceID        *string    `json:"stripePriceId,omitempty"`
	PlanID               *string    `json:"planId,omitempty"`
	BillingCycle         string     `json:"billingCycle"`
	AmountCents          int64      `json:"amountCents"`
	Status               string     `json:"status"`
	CurrentPeriodStart   *time.Time `json:"currentPeriodStart,omitempty"`
	CurrentPeriodEnd     *time.Time `json:"currentPeriodEnd,omitempty"`
	CanceledAt           *time.Time `json:"canceledAt,omitempty"`
	CreatedAt            time.Time  `json:"createdAt"`
	UpdatedAt            time.Time  `json:"updatedAt"`
}

type BillingHistoryEntry struct {
	ID              string     `json:"id"`
	SubscriptionID  string     `json:"subscriptionId"`
	AdAccountID     string     `json:"adAccountId,omitempty"`
	StripeInvoiceID *string    `json:"stripeInvoiceId,omitempty"`
	AmountCents     int64      `json:"amountCents"`
	Currency        string     `json:"currency"`
	PeriodStart     *time.Time `json:"periodStart,omitempty"`
	PeriodEnd       *time.Time `json:"periodEnd,omitempty"`
	PaidAt          time.Time  `json:"paidAt"`
}

type CreativeScore struct {
	ID              string          `json:"id"`
	AdAccountID     string          `json:"adAccountId"`
	CreativeID      string          `json:"creativeId"`
	ImageHash       *string         `json:"imageHash,omitempty"`
	Model           *string         `json:"model,omitempty"`
	ScoreOverall    float64         `json:"scoreOverall"`
	Scores          json.RawMessage `json:"scores"`
	Insights        json.RawMessage `json:"insights"`
	ComplianceFlags json.RawMessage `json:"complianceFlags"`
	RequestID       *string         `json:"requestId,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

type FacebookSession struct {
	UserID      string    `json:"userId"`
	AccessToken string    `json:"-"`
	AdAccountID *string   `json:"adAccountId,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
