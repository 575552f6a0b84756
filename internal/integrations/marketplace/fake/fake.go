package fake

import (
	"context"
	"sync"

	"github.com/BearBump/TrackSync/internal/integrations/marketplace"
)

// FakeClient keeps orders per account in memory and records every submission.
type FakeClient struct {
	mu          sync.Mutex
	orders      map[string][]marketplace.Order
	fetchErr    error
	submitErrs  map[string]error // by tracking number
	submissions []marketplace.TrackingSubmission
}

func New() *FakeClient {
	return &FakeClient{
		orders:     make(map[string][]marketplace.Order),
		submitErrs: make(map[string]error),
	}
}

func (f *FakeClient) SetOrders(accountID string, orders []marketplace.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[accountID] = append([]marketplace.Order(nil), orders...)
}

func (f *FakeClient) SetFetchError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchErr = err
}

// FailSubmission makes every submission of trackingNumber return err; nil clears it.
func (f *FakeClient) FailSubmission(trackingNumber string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.submitErrs, trackingNumber)
		return
	}
	f.submitErrs[trackingNumber] = err
}

// Submissions returns the accepted submissions in call order.
func (f *FakeClient) Submissions() []marketplace.TrackingSubmission {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]marketplace.TrackingSubmission(nil), f.submissions...)
}

func (f *FakeClient) FetchPendingOrders(ctx context.Context, accountID string, hoursBack int) ([]marketplace.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return append([]marketplace.Order(nil), f.orders[accountID]...), nil
}

func (f *FakeClient) SubmitTrackingNumber(ctx context.Context, sub marketplace.TrackingSubmission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.submitErrs[sub.TrackingNumber]; ok {
		return err
	}
	f.submissions = append(f.submissions, sub)
	return nil
}
