package billing

import (
	"context"
	"strings"
)

type CheckoutRequest struct {
	UserID   string
	Email    string
	Plan     string
	Cycle    string
	Quantity int64
}

// Checkout creates a hosted Stripe Checkout session for the plan and returns its URL.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (string, error) {
	if !s.Enabled() {
		return "", ErrStripeDisabled
	}
	price, err := s.catalog().Resolve(req.Plan, req.Cycle)
	if err != nil {
		return "", err
	}
	customerID, err := s.ensureCustomer(ctx, req.UserID, req.Email)
	if err != nil {
		return "", err
	}
	base := strings.TrimRight(s.FrontendURL, "/")
	if base == "" {
		base = "http://localhost:3000"
	}
	return s.Gateway.CreateCheckoutSession(ctx, CheckoutInput{
		CustomerID: customerID,
		PriceID:    price.StripePriceID,
		Quantity:   req.Quantity,
		SuccessURL: base + "/billing?checkout=success&session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  base + "/billing?checkout=canceled",
		UserID:     req.UserID,
	})
}
