package records

import (
	"context"
	"sort"

	"github.com/BearBump/TrackSync/internal/models"
	"github.com/pkg/errors"
)

// ErrInvalidArgument marks caller mistakes; the API maps it to 400.
var ErrInvalidArgument = errors.New("invalid argument")

const maxBulkIDs = 1_000

type Repository interface {
	ListDeliveries(ctx context.Context, filter models.DeliveryFilter) ([]*models.DeliveryRecord, error)
	GetDelivery(ctx context.Context, id uint64) (*models.DeliveryRecord, error)
	ListPendingOrders(ctx context.Context, accountID string, onlyUnuploaded bool) ([]*models.PendingOrder, error)
}

// Service is the read side of the record store used by the HTTP API.
type Service struct {
	repo Repository
}

func New(repo Repository) *Service {
	return &Service{repo: repo}
}

// ListDeliveries filters by account and status; both are optional.
func (s *Service) ListDeliveries(ctx context.Context, accountID, status string) ([]*models.DeliveryRecord, error) {
	filter := models.DeliveryFilter{AccountID: accountID}
	if status != "" {
		st, ok := models.ParseDeliveryStatus(status)
		if !ok {
			return nil, errors.Wrapf(ErrInvalidArgument, "unknown status %q", status)
		}
		filter.Status = st
	}
	return s.repo.ListDeliveries(ctx, filter)
}

func (s *Service) GetDelivery(ctx context.Context, id uint64) (*models.DeliveryRecord, error) {
	if id == 0 {
		return nil, errors.Wrap(ErrInvalidArgument, "delivery id is required")
	}
	return s.repo.GetDelivery(ctx, id)
}

// ListPendingOrders returns the cached marketplace orders of an account, newest first.
func (s *Service) ListPendingOrders(ctx context.Context, accountID string, onlyUnuploaded bool) ([]*models.PendingOrder, error) {
	if accountID == "" {
		return nil, errors.Wrap(ErrInvalidArgument, "account id is required")
	}
	out, err := s.repo.ListPendingOrders(ctx, accountID, onlyUnuploaded)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OrderedAt.After(out[j].OrderedAt) })
	return out, nil
}

// ValidateIDs checks a bulk id list. Duplicates are allowed; the uploader serialises them.
func ValidateIDs(ids []uint64) error {
	if len(ids) == 0 {
		return errors.Wrap(ErrInvalidArgument, "delivery_ids is empty")
	}
	if len(ids) > maxBulkIDs {
		return errors.Wrapf(ErrInvalidArgument, "too many delivery ids (max %d)", maxBulkIDs)
	}
	for _, id := range ids {
		if id == 0 {
			return errors.Wrap(ErrInvalidArgument, "delivery id must be positive")
		}
	}
	return nil
}
