// Package storage holds the record store contract shared by the Postgres and in-memory
// implementations.
package storage

import (
	"context"
	"errors"

	"github.com/BearBump/TrackSync/internal/models"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidTransition    = errors.New("invalid delivery status transition")
	ErrOrderAlreadyClaimed  = errors.New("pending order already claimed by another delivery")
	ErrOrderAlreadyUploaded = errors.New("pending order already has an invoice uploaded")
)

type Store interface {
	ListDeliveries(ctx context.Context, filter models.DeliveryFilter) ([]*models.DeliveryRecord, error)
	GetDelivery(ctx context.Context, id uint64) (*models.DeliveryRecord, error)
	UpsertDelivery(ctx context.Context, in models.DeliveryInput) (*models.DeliveryRecord, bool, error)
	UpdateDeliveryStatus(ctx context.Context, upd models.DeliveryStatusUpdate) (*models.DeliveryRecord, error)
	ApplyMatch(ctx context.Context, deliveryID, orderID uint64, confidence int) (*models.DeliveryRecord, error)
	CountDeliveriesByStatus(ctx context.Context, accountID string) (map[models.DeliveryStatus]int, error)

	ListPendingOrders(ctx context.Context, accountID string, onlyUnuploaded bool) ([]*models.PendingOrder, error)
	GetPendingOrder(ctx context.Context, id uint64) (*models.PendingOrder, error)
	UpsertPendingOrders(ctx context.Context, accountID string, in []models.PendingOrderInput) ([]*models.PendingOrder, error)
	MarkOrderUploaded(ctx context.Context, orderID uint64) error

	Close()
}
