package billing

import (
	"context"
	"errors"
	"sync"
	"time"
)

type usageCall struct {
	itemID   string
	quantity int64
	at       time.Time
}

// fakeGateway records calls and returns canned Stripe responses.
type fakeGateway struct {
	mu sync.Mutex

	failCreateFor map[string]bool
	remote        map[string]RemoteSubscription
	meteredItem   string

	created  []SubscriptionInput
	canceled []string
	changed  []string
	usage    []usageCall
	checkout []CheckoutInput
	custSeq  int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{failCreateFor: map[string]bool{}, remote: map[string]RemoteSubscription{}}
}

func (f *fakeGateway) CreateCustomer(ctx context.Context, userID, email string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.custSeq++
	return "cus_new", nil
}

func (f *fakeGateway) CreateSubscription(ctx context.Context, in SubscriptionInput) (RemoteSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreateFor[in.AdAccountID] {
		return RemoteSubscription{}, errors.New("card_declined")
	}
	f.created = append(f.created, in)
	return RemoteSubscription{ID: "sub_" + in.AdAccountID, Status: "active", ItemID: "si_" + in.AdAccountID, PriceID: in.PriceID}, nil
}

func (f *fakeGateway) GetSubscription(ctx context.Context, id string) (RemoteSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.remote[id]
	if !ok {
		return RemoteSubscription{}, errors.New("no such subscription")
	}
	return r, nil
}

func (f *fakeGateway) ChangePrice(ctx context.Context, subscriptionID, itemID, priceID string) (RemoteSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changed = append(f.changed, subscriptionID+":"+itemID+":"+priceID)
	r := f.remote[subscriptionID]
	r.PriceID = priceID
	return r, nil
}

func (f *fakeGateway) CancelSubscription(ctx context.Context, id string) (RemoteSubscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, id)
	return RemoteSubscription{ID: id, Status: "canceled"}, nil
}

func (f *fakeGateway) FindMeteredItem(ctx context.Context, customerID, meteredPriceID string) (string, error) {
	if f.meteredItem == "" {
		return "", ErrNoUsageSubscription
	}
	return f.meteredItem, nil
}

func (f *fakeGateway) ReportUsage(ctx context.Context, itemID string, quantity int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usage = append(f.usage, usageCall{itemID: itemID, quantity: quantity, at: at})
	return nil
}

func (f *fakeGateway) CreateCheckoutSession(ctx context.Context, in CheckoutInput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkout = append(f.checkout, in)
	return "https://checkout.stripe.test/c/" + in.CustomerID, nil
}
