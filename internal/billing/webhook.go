package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/PortNumber53/adlens/backend/internal/models"
	"github.com/stripe/stripe-go/v79"
)

// WebhookOutcome describes what an event did to local state.
type WebhookOutcome struct {
	Type      string `json:"type"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Handled   bool   `json:"handled"`
	Rows      int64  `json:"rows"`
}

// ProcessEvent applies a verified Stripe event. Events already recorded in
// stripe_events are acknowledged without touching subscription rows. When
// applying fails the record is released so Stripe's retry is processed.
func (s *Service) ProcessEvent(ctx context.Context, event stripe.Event) (WebhookOutcome, error) {
	out := WebhookOutcome{Type: string(event.Type)}
	var raw []byte
	if event.Data != nil {
		raw = event.Data.Raw
	}
	fresh, err := s.Store.RecordStripeEvent(ctx, event.ID, string(event.Type), raw)
	if err != nil {
		return out, fmt.Errorf("record stripe event: %w", err)
	}
	if !fresh {
		out.Duplicate = true
		return out, nil
	}

	if err := s.applyEvent(ctx, event.Type, raw, &out); err != nil {
		if ferr := s.Store.ForgetStripeEvent(ctx, event.ID); ferr != nil {
			s.logger().Printf("[Billing][Webhook] release event failed eventId=%s err=%v", event.ID, ferr)
		}
		return out, err
	}
	return out, nil
}

func (s *Service) applyEvent(ctx context.Context, eventType stripe.EventType, raw []byte, out *WebhookOutcome) error {
	var err error
	switch eventType {
	case "customer.subscription.created", "customer.subscription.updated":
		var sub stripe.Subscription
		if err := json.Unmarshal(raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		out.Handled = true
		out.Rows, err = s.applyRemote(ctx, remoteFromStripe(&sub))
	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		remote := remoteFromStripe(&sub)
		remote.Status = models.StatusCanceled
		out.Handled = true
		out.Rows, err = s.applyRemote(ctx, remote)
	case "invoice.payment_succeeded", "invoice.paid":
		var inv stripe.Invoice
		if err := json.Unmarshal(raw, &inv); err != nil {
			return fmt.Errorf("decode invoice: %w", err)
		}
		out.Handled = true
		out.Rows, err = s.recordInvoice(ctx, &inv)
	default:
		s.logger().Printf("[Billing][Webhook] unhandled event type: %s", eventType)
	}
	return err
}

func (s *Service) applyRemote(ctx context.Context, remote RemoteSubscription) (int64, error) {
	if remote.ID == "" {
		return 0, nil
	}
	n, err := s.Store.UpdateStatusByStripeID(ctx, remote.ID, localStatus(remote.Status), timePtr(remote.PeriodStart), timePtr(remote.PeriodEnd))
	if err != nil {
		return 0, err
	}
	if n == 0 {
		s.logger().Printf("[Billing][Webhook] no local row for stripeSub=%s", remote.ID)
		return 0, nil
	}
	subs, err := s.Store.ListSubscriptionsByStripeID(ctx, remote.ID)
	if err == nil {
		for _, sub := range subs {
			s.notify(sub.UserID, EventSubscriptionUpdated, map[string]string{"adAccountId": sub.AdAccountID, "status": sub.Status})
		}
	}
	return n, nil
}

// recordInvoice appends one history row per local subscription on the invoice's Stripe subscription.
func (s *Service) recordInvoice(ctx context.Context, inv *stripe.Invoice) (int64, error) {
	if inv.Subscription == nil || inv.Subscription.ID == "" {
		return 0, nil
	}
	subs, err := s.Store.ListSubscriptionsByStripeID(ctx, inv.Subscription.ID)
	if err != nil {
		return 0, err
	}
	paidAt := s.clock()
	if inv.StatusTransitions != nil && inv.StatusTransitions.PaidAt > 0 {
		paidAt = time.Unix(inv.StatusTransitions.PaidAt, 0).UTC()
	}
	invoiceID := inv.ID
	var inserted int64
	for _, sub := range subs {
		ok, err := s.Store.InsertBillingHistory(ctx, models.BillingHistoryEntry{
			SubscriptionID:  sub.ID,
			StripeInvoiceID: &invoiceID,
			AmountCents:     inv.AmountPaid,
			Currency:        string(inv.Currency),
			PeriodStart:     unixPtr(inv.PeriodStart),
			PeriodEnd:       unixPtr(inv.PeriodEnd),
			PaidAt:          paidAt,
		})
		if err != nil {
			return inserted, err
		}
		if ok {
			inserted++
		}
	}
	return inserted, nil
}

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
