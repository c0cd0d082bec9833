package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/PortNumber53/adlens/backend/internal/billing"
	"github.com/PortNumber53/adlens/backend/internal/middleware"
	"github.com/PortNumber53/adlens/backend/internal/store"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

// writeBillingError maps billing and store errors onto the HTTP taxonomy.
func (h *Handler) writeBillingError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, billing.ErrStripeDisabled):
		status = http.StatusServiceUnavailable
	case errors.Is(err, billing.ErrUnknownPlan), errors.Is(err, billing.ErrPriceNotConfigured):
		status = http.StatusBadRequest
	case errors.Is(err, billing.ErrNotSubscribed), errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, billing.ErrNoUsageSubscription):
		status = http.StatusConflict
	}
	if status >= 500 {
		log.Printf("[Billing][%s] error: %v", op, err)
		middleware.CaptureError(r, err)
	}
	writeError(w, status, err.Error())
}

func requireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := queryParam(r, "userId")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return "", false
	}
	return userID, true
}

// GetBillingPlans lists the per-account price table.
// URL: GET /api/billing/plans
func (h *Handler) GetBillingPlans(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"plans":          h.billing.Catalog.Plans(),
		"publishableKey": h.cfg.Stripe.PublishableKey,
		"stripeEnabled":  h.billing.Enabled(),
	})
}

// GetBillingSummary returns totals for the user's connected ad accounts.
// URL: GET /api/billing?userId=...
func (h *Handler) GetBillingSummary(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	sum, err := h.billing.Summary(r.Context(), userID)
	if err != nil {
		h.writeBillingError(w, r, "Summary", err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// GetBillingAccounts lists per-account subscription rows, canceled ones included.
// URL: GET /api/billing/accounts?userId=...
func (h *Handler) GetBillingAccounts(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	if strings.Contains(userID, "@") {
		writeError(w, http.StatusBadRequest, "userId must be a user id, not an email address")
		return
	}
	subs, err := h.store.ListSubscriptions(r.Context(), userID)
	if err != nil {
		h.writeBillingError(w, r, "Accounts", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscriptions": subs, "count": len(subs)})
}

// GetBillingHistory returns invoice rows newest first.
// URL: GET /api/billing/history?userId=...&limit=50
func (h *Handler) GetBillingHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	rows, err := h.store.ListBillingHistory(r.Context(), userID, parseLimit(r, 50, 1, 500))
	if err != nil {
		h.writeBillingError(w, r, "History", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": rows})
}

type checkoutRequest struct {
	UserID   string `json:"userId" validate:"required"`
	Email    string `json:"email" validate:"omitempty,email"`
	Plan     string `json:"plan" validate:"required"`
	Cycle    string `json:"billingCycle"`
	Quantity int64  `json:"quantity" validate:"omitempty,min=1"`
}

// CreateCheckoutSession starts a hosted Stripe checkout.
// URL: POST /api/billing/checkout
func (h *Handler) CreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.store.EnsureUser(r.Context(), req.UserID, req.Email); err != nil {
		h.writeBillingError(w, r, "Checkout", err)
		return
	}
	url, err := h.billing.Checkout(r.Context(), billing.CheckoutRequest{
		UserID: req.UserID, Email: req.Email, Plan: req.Plan, Cycle: req.Cycle, Quantity: req.Quantity,
	})
	if err != nil {
		h.writeBillingError(w, r, "Checkout", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

type userOnlyRequest struct {
	UserID string `json:"userId" validate:"required"`
}

// ReportUsage pushes the active account count for one user to Stripe.
// URL: POST /api/billing/report-usage
func (h *Handler) ReportUsage(w http.ResponseWriter, r *http.Request) {
	var req userOnlyRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rep, err := h.billing.ReportUsage(r.Context(), req.UserID)
	h.metrics.UsageReport(usageOutcome(err))
	if err != nil {
		h.writeBillingError(w, r, "ReportUsage", err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func usageOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, billing.ErrNoUsageSubscription):
		return "skipped"
	}
	return "error"
}

// ListPerAccountSubscriptions returns every row for the user.
// URL: GET /api/per-account-subscriptions?userId=...
func (h *Handler) ListPerAccountSubscriptions(w http.ResponseWriter, r *http.Request) {
	h.GetBillingAccounts(w, r)
}

type createSubscriptionsRequest struct {
	UserID   string               `json:"userId" validate:"required"`
	Email    string               `json:"email" validate:"omitempty,email"`
	Plan     string               `json:"plan"`
	Cycle    string               `json:"billingCycle"`
	Accounts []billing.AccountRef `json:"adAccounts" validate:"required,min=1,max=100,dive"`
}

// CreatePerAccountSubscriptions subscribes a batch of ad accounts. Per-account
// failures are reported in the body; the call itself answers 200.
// URL: POST /api/per-account-subscriptions
func (h *Handler) CreatePerAccountSubscriptions(w http.ResponseWriter, r *http.Request) {
	var req createSubscriptionsRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Plan == "" {
		req.Plan = billing.DefaultPlanID
	}
	if !h.billing.Enabled() {
		h.writeBillingError(w, r, "CreateSubscriptions", billing.ErrStripeDisabled)
		return
	}
	if err := h.store.EnsureUser(r.Context(), req.UserID, req.Email); err != nil {
		h.writeBillingError(w, r, "CreateSubscriptions", err)
		return
	}
	res, err := h.billing.CreateForAccounts(r.Context(), billing.CreateRequest{
		UserID: req.UserID, Email: req.Email, Plan: req.Plan, Cycle: req.Cycle, Accounts: req.Accounts,
	})
	if err != nil {
		h.writeBillingError(w, r, "CreateSubscriptions", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type verifyRequest struct {
	UserID       string   `json:"userId" validate:"required"`
	AdAccountIDs []string `json:"adAccountIds" validate:"required,min=1,max=200"`
}

// VerifySubscriptions refreshes rows from Stripe and reports which accounts are billable.
// URL: POST /api/per-account-subscriptions/verify
func (h *Handler) VerifySubscriptions(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.billing.Verify(r.Context(), req.UserID, req.AdAccountIDs)
	if err != nil {
		h.writeBillingError(w, r, "Verify", err)
		return
	}
	active := 0
	for _, v := range res {
		if v.Active {
			active++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": res, "active": active})
}

type updateSubscriptionRequest struct {
	UserID string `json:"userId" validate:"required"`
	Plan   string `json:"plan" validate:"required"`
	Cycle  string `json:"billingCycle"`
}

// UpdatePerAccountSubscription swaps the plan of one ad account.
// URL: PUT /api/per-account-subscriptions/{adAccountId}
func (h *Handler) UpdatePerAccountSubscription(w http.ResponseWriter, r *http.Request) {
	var req updateSubscriptionRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sub, err := h.billing.Update(r.Context(), req.UserID, pathVar(r, "adAccountId"), req.Plan, req.Cycle)
	if err != nil {
		h.writeBillingError(w, r, "Update", err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// CancelPerAccountSubscription cancels one ad account's subscription.
// URL: DELETE /api/per-account-subscriptions/{adAccountId}?userId=...
func (h *Handler) CancelPerAccountSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	sub, err := h.billing.Cancel(r.Context(), userID, pathVar(r, "adAccountId"))
	if err != nil {
		h.writeBillingError(w, r, "Cancel", err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// StripeWebhook verifies and applies Stripe events.
// URL: POST /webhook/stripe
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	const MaxBodyBytes = int64(65536)
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		log.Printf("[Billing][Webhook] read error: %v", err)
		writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	var event stripe.Event
	secret := h.cfg.Stripe.WebhookSecret
	if secret == "" {
		log.Printf("[Billing][Webhook] STRIPE_WEBHOOK_SECRET not set, skipping signature verification")
		if err := json.Unmarshal(payload, &event); err != nil {
			log.Printf("[Billing][Webhook] unmarshal error: %v", err)
			writeError(w, http.StatusBadRequest, "Invalid JSON")
			return
		}
	} else {
		sig := r.Header.Get("Stripe-Signature")
		if sig == "" {
			log.Printf("[Billing][Webhook] missing Stripe-Signature header")
			writeError(w, http.StatusBadRequest, "Missing signature")
			return
		}
		event, err = webhook.ConstructEventWithOptions(payload, sig, secret, webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		})
		if err != nil {
			log.Printf("[Billing][Webhook] signature verification error: %v", err)
			writeError(w, http.StatusBadRequest, "Invalid signature")
			return
		}
	}

	out, err := h.billing.ProcessEvent(r.Context(), event)
	if err != nil {
		// A 5xx makes Stripe retry the delivery.
		h.writeBillingError(w, r, "Webhook", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "type": out.Type, "duplicate": out.Duplicate, "handled": out.Handled})
}
