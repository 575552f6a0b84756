package fake

import (
	"context"
	"sync"
	"time"

	"github.com/BearBump/TrackSync/internal/integrations/logistics"
)

// FakeClient serves a fixed set of notices. It stands in for the logistics partner in tests
// and in deployments without a logistics_base_url.
type FakeClient struct {
	mu       sync.Mutex
	session  logistics.Session
	notices  []logistics.Notice
	loginErr error
	fetchErr error
	fetches  int
}

func New() *FakeClient {
	return &FakeClient{session: logistics.Session{LoggedIn: true, Identity: "fake"}}
}

func (f *FakeClient) SetSession(s logistics.Session, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.session, f.loginErr = s, err
}

func (f *FakeClient) SetNotices(n []logistics.Notice) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append([]logistics.Notice(nil), n...)
}

func (f *FakeClient) SetFetchError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchErr = err
}

func (f *FakeClient) Fetches() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

func (f *FakeClient) LoginStatus(ctx context.Context) (logistics.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.session, f.loginErr
}

func (f *FakeClient) FetchDeliveries(ctx context.Context, since time.Time) ([]logistics.Notice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	out := make([]logistics.Notice, 0, len(f.notices))
	for _, n := range f.notices {
		if n.CollectedAt.Before(since) {
			continue
		}
		out = append(out, n)
	}
	return out, nil
}
