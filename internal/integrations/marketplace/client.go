package marketplace

import (
	"context"
	"errors"
	"time"

	"github.com/BearBump/TrackSync/internal/models"
)

var (
	// ErrRejected is a permanent refusal of a submission; retrying will not help.
	ErrRejected = errors.New("marketplace: submission rejected")
	// ErrUnavailable covers transport failures, throttling and 5xx answers.
	ErrUnavailable = errors.New("marketplace: temporarily unavailable")
)

type Order struct {
	OrderID       string
	ShipmentBoxID string
	VendorItemID  string
	ReceiverName  string
	ProductName   string
	OrderedAt     time.Time
}

type TrackingSubmission struct {
	AccountID      string
	Order          models.OrderRef
	CourierName    string
	TrackingNumber string
}

type Client interface {
	FetchPendingOrders(ctx context.Context, accountID string, hoursBack int) ([]Order, error)
	SubmitTrackingNumber(ctx context.Context, sub TrackingSubmission) error
}
