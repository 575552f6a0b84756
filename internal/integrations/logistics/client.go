package logistics

import (
	"context"
	"time"
)

type Session struct {
	LoggedIn bool
	Identity string
}

// Notice is one shipping notice as reported by the logistics partner.
type Notice struct {
	ReceiverName   string
	CourierName    string
	TrackingNumber string
	ProductName    string
	CollectedAt    time.Time
}

type Client interface {
	LoginStatus(ctx context.Context) (Session, error)
	FetchDeliveries(ctx context.Context, since time.Time) ([]Notice, error)
}
