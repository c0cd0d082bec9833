// Package billing implements the per-ad-account subscription lifecycle on top
// of Stripe. Every connected ad account owns one Stripe subscription; the
// local ad_account_subscriptions row is a cache of what Stripe reports.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/PortNumber53/adlens/backend/internal/models"
	"github.com/PortNumber53/adlens/backend/internal/store"
	"golang.org/x/sync/errgroup"
)

const (
	ResultCreated       = "created"
	ResultAlreadyExists = "already_exists"
	ResultError         = "error"

	// EventSubscriptionUpdated is published on the user's realtime channel.
	EventSubscriptionUpdated = "subscription.updated"

	createConcurrency = 4
)

// Notifier publishes realtime events; handlers wire it to the websocket hub.
type Notifier func(channel, event string, payload any)

type Service struct {
	Store          *store.Store
	Gateway        Gateway
	Catalog        *PlanCatalog
	MeteredPriceID string
	FrontendURL    string
	Logger         *log.Logger
	Notify         Notifier

	now func() time.Time
}

func (s *Service) logger() *log.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return log.Default()
}

func (s *Service) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now().UTC()
}

func (s *Service) catalog() *PlanCatalog {
	if s.Catalog == nil {
		s.Catalog = NewPlanCatalog(nil)
	}
	return s.Catalog
}

func (s *Service) Enabled() bool {
	return s != nil && s.Gateway != nil
}

func (s *Service) notify(channel, event string, payload any) {
	if s.Notify != nil && channel != "" {
		s.Notify(channel, event, payload)
	}
}

type AccountRef struct {
	ID   string `json:"id" validate:"required"`
	Name string `json:"name"`
}

type CreateRequest struct {
	UserID   string
	Email    string
	Plan     string
	Cycle    string
	Accounts []AccountRef
}

type AccountResult struct {
	AdAccountID    string `json:"adAccountId"`
	AdAccountName  string `json:"adAccountName,omitempty"`
	Status         string `json:"status"`
	SubscriptionID string `json:"subscriptionId,omitempty"`
	Error          string `json:"error,omitempty"`
}

type CreateSummary struct {
	Created       int `json:"created"`
	AlreadyExists int `json:"alreadyExists"`
	Errors        int `json:"errors"`
}

type CreateResult struct {
	Results []AccountResult `json:"results"`
	Summary CreateSummary   `json:"summary"`
}

// CreateForAccounts subscribes each ad account independently. A failure on one
// account is reported in its result and never aborts the rest of the batch.
func (s *Service) CreateForAccounts(ctx context.Context, req CreateRequest) (CreateResult, error) {
	if !s.Enabled() {
		return CreateResult{}, ErrStripeDisabled
	}
	price, err := s.catalog().Resolve(req.Plan, req.Cycle)
	if err != nil {
		return CreateResult{}, err
	}
	customerID, err := s.ensureCustomer(ctx, req.UserID, req.Email)
	if err != nil {
		return CreateResult{}, fmt.Errorf("ensure stripe customer: %w", err)
	}

	// Repeated ids are answered from their first occurrence so the pool never
	// runs two Stripe creates for one account.
	results := make([]AccountResult, len(req.Accounts))
	firstIndex := make(map[string]int, len(req.Accounts))
	repeatOf := make(map[int]int)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(createConcurrency)
	for i, acct := range req.Accounts {
		if id := strings.TrimSpace(acct.ID); id != "" {
			if first, seen := firstIndex[id]; seen {
				repeatOf[i] = first
				continue
			}
			firstIndex[id] = i
		}
		i, acct := i, acct
		g.Go(func() error {
			results[i] = s.createOne(gctx, req.UserID, customerID, acct, price)
			return nil
		})
	}
	_ = g.Wait()
	for i, first := range repeatOf {
		r := results[first]
		r.AdAccountName = req.Accounts[i].Name
		if r.Status == ResultCreated {
			r.Status = ResultAlreadyExists
		}
		results[i] = r
	}

	out := CreateResult{Results: results}
	for _, r := range results {
		switch r.Status {
		case ResultCreated:
			out.Summary.Created++
		case ResultAlreadyExists:
			out.Summary.AlreadyExists++
		default:
			out.Summary.Errors++
		}
	}

	if out.Summary.Created > 0 {
		if err := s.Store.UpdateUserPlan(ctx, req.UserID, price.PlanID, price.Name, price.Cycle, models.StatusActive); err != nil {
			s.logger().Printf("[Billing][CreateForAccounts] update user plan failed userId=%s err=%v", req.UserID, err)
		}
		s.notify(req.UserID, EventSubscriptionUpdated, out.Summary)
	}
	s.logger().Printf("[Billing][CreateForAccounts] userId=%s plan=%s cycle=%s created=%d existing=%d errors=%d",
		req.UserID, price.PlanID, price.Cycle, out.Summary.Created, out.Summary.AlreadyExists, out.Summary.Errors)
	return out, nil
}

func (s *Service) createOne(ctx context.Context, userID, customerID string, acct AccountRef, price PlanPrice) AccountResult {
	res := AccountResult{AdAccountID: strings.TrimSpace(acct.ID), AdAccountName: acct.Name}
	if res.AdAccountID == "" {
		res.Status = ResultError
		res.Error = "ad account id is required"
		return res
	}

	existing, err := s.Store.GetSubscription(ctx, userID, res.AdAccountID)
	switch {
	case err == nil && existing.Status != models.StatusCanceled:
		res.Status = ResultAlreadyExists
		res.SubscriptionID = existing.ID
		return res
	case err != nil && !errors.Is(err, store.ErrNotFound):
		res.Status = ResultError
		res.Error = err.Error()
		return res
	}

	remote, err := s.Gateway.CreateSubscription(ctx, SubscriptionInput{
		CustomerID:  customerID,
		PriceID:     price.StripePriceID,
		UserID:      userID,
		AdAccountID: res.AdAccountID,
	})
	if err != nil {
		s.logger().Printf("[Billing][CreateSubscription] stripe error userId=%s adAccountId=%s err=%v", userID, res.AdAccountID, err)
		res.Status = ResultError
		res.Error = err.Error()
		return res
	}

	sub := models.AdAccountSubscription{
		UserID:               userID,
		AdAccountID:          res.AdAccountID,
		StripeSubscriptionID: &remote.ID,
		StripePriceID:        &price.StripePriceID,
		PlanID:               &price.PlanID,
		BillingCycle:         price.Cycle,
		AmountCents:          price.AmountCents,
		Status:               localStatus(remote.Status),
		CurrentPeriodStart:   timePtr(remote.PeriodStart),
		CurrentPeriodEnd:     timePtr(remote.PeriodEnd),
	}
	if acct.Name != "" {
		name := acct.Name
		sub.AdAccountName = &name
	}
	if err := s.Store.InsertSubscription(ctx, &sub); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			// Another request stored this account first; drop the extra Stripe subscription.
			s.logger().Printf("[Billing][CreateSubscription] concurrent create userId=%s adAccountId=%s stripeSub=%s", userID, res.AdAccountID, remote.ID)
			if _, cerr := s.Gateway.CancelSubscription(ctx, remote.ID); cerr != nil {
				s.logger().Printf("[Billing][CreateSubscription] cancel extra subscription failed stripeSub=%s err=%v", remote.ID, cerr)
			}
			res.Status = ResultAlreadyExists
			if existing, gerr := s.Store.GetSubscription(ctx, userID, res.AdAccountID); gerr == nil {
				res.SubscriptionID = existing.ID
			}
			return res
		}
		s.logger().Printf("[Billing][CreateSubscription] insert failed userId=%s adAccountId=%s stripeSub=%s err=%v", userID, res.AdAccountID, remote.ID, err)
		res.Status = ResultError
		res.Error = err.Error()
		return res
	}
	res.Status = ResultCreated
	res.SubscriptionID = sub.ID
	return res
}

// Update moves an ad account onto another plan or cycle with proration and
// stores whatever Stripe returns.
func (s *Service) Update(ctx context.Context, userID, adAccountID, planID, cycle string) (models.AdAccountSubscription, error) {
	if !s.Enabled() {
		return models.AdAccountSubscription{}, ErrStripeDisabled
	}
	price, err := s.catalog().Resolve(planID, cycle)
	if err != nil {
		return models.AdAccountSubscription{}, err
	}
	sub, err := s.liveSubscription(ctx, userID, adAccountID)
	if err != nil {
		return models.AdAccountSubscription{}, err
	}
	if sub.StripeSubscriptionID == nil {
		return models.AdAccountSubscription{}, ErrNotSubscribed
	}

	current, err := s.Gateway.GetSubscription(ctx, *sub.StripeSubscriptionID)
	if err != nil {
		return models.AdAccountSubscription{}, fmt.Errorf("fetch stripe subscription: %w", err)
	}
	remote, err := s.Gateway.ChangePrice(ctx, current.ID, current.ItemID, price.StripePriceID)
	if err != nil {
		return models.AdAccountSubscription{}, fmt.Errorf("change stripe price: %w", err)
	}
	if remote.PriceID == "" {
		remote.PriceID = price.StripePriceID
	}
	if err := s.syncLocal(ctx, sub.ID, remote); err != nil {
		return models.AdAccountSubscription{}, err
	}
	s.notify(userID, EventSubscriptionUpdated, map[string]string{"adAccountId": adAccountID, "planId": price.PlanID})
	return s.Store.GetSubscription(ctx, userID, adAccountID)
}

// Cancel cancels in Stripe first, then marks the local row. A local failure
// after a successful Stripe cancel is returned as is.
func (s *Service) Cancel(ctx context.Context, userID, adAccountID string) (models.AdAccountSubscription, error) {
	sub, err := s.Store.GetSubscription(ctx, userID, adAccountID)
	if errors.Is(err, store.ErrNotFound) {
		return models.AdAccountSubscription{}, ErrNotSubscribed
	}
	if err != nil {
		return models.AdAccountSubscription{}, err
	}
	if sub.Status == models.StatusCanceled {
		return sub, nil
	}
	if sub.StripeSubscriptionID != nil {
		if !s.Enabled() {
			return models.AdAccountSubscription{}, ErrStripeDisabled
		}
		if _, err := s.Gateway.CancelSubscription(ctx, *sub.StripeSubscriptionID); err != nil {
			return models.AdAccountSubscription{}, fmt.Errorf("cancel stripe subscription: %w", err)
		}
	}
	if err := s.Store.MarkSubscriptionCanceled(ctx, sub.ID); err != nil {
		s.logger().Printf("[Billing][Cancel] local update failed after stripe cancel userId=%s adAccountId=%s err=%v", userID, adAccountID, err)
		return models.AdAccountSubscription{}, err
	}
	now := s.clock()
	sub.Status = models.StatusCanceled
	sub.CanceledAt = &now
	s.notify(userID, EventSubscriptionUpdated, map[string]string{"adAccountId": adAccountID, "status": models.StatusCanceled})
	return sub, nil
}

type VerifyResult struct {
	AdAccountID    string `json:"adAccountId"`
	Exists         bool   `json:"exists"`
	Active         bool   `json:"active"`
	Status         string `json:"status"`
	SubscriptionID string `json:"subscriptionId,omitempty"`
}

// Verify refreshes each row from Stripe when possible and reports whether the
// ad account is currently billable.
func (s *Service) Verify(ctx context.Context, userID string, adAccountIDs []string) ([]VerifyResult, error) {
	out := make([]VerifyResult, 0, len(adAccountIDs))
	for _, id := range adAccountIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		sub, err := s.Store.GetSubscription(ctx, userID, id)
		if errors.Is(err, store.ErrNotFound) {
			out = append(out, VerifyResult{AdAccountID: id, Status: "none"})
			continue
		}
		if err != nil {
			return nil, err
		}
		status := sub.Status
		if sub.StripeSubscriptionID != nil && s.Enabled() {
			remote, err := s.Gateway.GetSubscription(ctx, *sub.StripeSubscriptionID)
			if err != nil {
				s.logger().Printf("[Billing][Verify] stripe fetch failed userId=%s adAccountId=%s err=%v", userID, id, err)
			} else {
				if err := s.syncLocal(ctx, sub.ID, remote); err != nil {
					return nil, err
				}
				status = localStatus(remote.Status)
			}
		}
		out = append(out, VerifyResult{
			AdAccountID:    id,
			Exists:         true,
			Active:         IsActiveStatus(status),
			Status:         status,
			SubscriptionID: sub.ID,
		})
	}
	return out, nil
}

func (s *Service) liveSubscription(ctx context.Context, userID, adAccountID string) (models.AdAccountSubscription, error) {
	sub, err := s.Store.GetSubscription(ctx, userID, adAccountID)
	if errors.Is(err, store.ErrNotFound) {
		return models.AdAccountSubscription{}, ErrNotSubscribed
	}
	if err != nil {
		return models.AdAccountSubscription{}, err
	}
	if sub.Status == models.StatusCanceled {
		return models.AdAccountSubscription{}, ErrNotSubscribed
	}
	return sub, nil
}

func (s *Service) syncLocal(ctx context.Context, id string, remote RemoteSubscription) error {
	v := store.SubscriptionSync{
		Status:        localStatus(remote.Status),
		StripePriceID: remote.PriceID,
		AmountCents:   remote.AmountCents,
		PeriodStart:   timePtr(remote.PeriodStart),
		PeriodEnd:     timePtr(remote.PeriodEnd),
	}
	if pp, ok := s.catalog().PlanForPrice(remote.PriceID); ok {
		v.PlanID = pp.PlanID
		v.BillingCycle = pp.Cycle
		if v.AmountCents == 0 {
			v.AmountCents = pp.AmountCents
		}
	}
	return s.Store.ApplySubscriptionSync(ctx, id, v)
}

func (s *Service) ensureCustomer(ctx context.Context, userID, email string) (string, error) {
	c, err := s.Store.GetStripeCustomer(ctx, userID)
	if err == nil {
		return c.StripeCustomerID, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}
	id, err := s.Gateway.CreateCustomer(ctx, userID, email)
	if err != nil {
		return "", err
	}
	if err := s.Store.SaveStripeCustomer(ctx, userID, id); err != nil {
		return "", err
	}
	s.logger().Printf("[Billing][Customer] created stripe customer userId=%s customer=%s", userID, id)
	return id, nil
}

// IsActiveStatus reports whether a stored status counts as billable.
func IsActiveStatus(status string) bool {
	return status == models.StatusActive || status == "trialing"
}

func localStatus(stripeStatus string) string {
	if stripeStatus == "" {
		return models.StatusActive
	}
	return stripeStatus
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
