package stats

import (
	"context"

	"github.com/BearBump/TrackSync/internal/models"
	"github.com/pkg/errors"
)

type Repository interface {
	CountDeliveriesByStatus(ctx context.Context, accountID string) (map[models.DeliveryStatus]int, error)
}

type Aggregator struct {
	repo Repository
}

func New(repo Repository) *Aggregator {
	return &Aggregator{repo: repo}
}

// Compute counts deliveries per status; an empty account means all accounts.
// Total is always the sum of the four buckets.
func (a *Aggregator) Compute(ctx context.Context, accountID string) (models.DeliveryStats, error) {
	counts, err := a.repo.CountDeliveriesByStatus(ctx, accountID)
	if err != nil {
		return models.DeliveryStats{}, errors.Wrap(err, "count deliveries")
	}
	st := models.DeliveryStats{
		Pending:  counts[models.DeliveryStatusPending],
		Matched:  counts[models.DeliveryStatusMatched],
		Uploaded: counts[models.DeliveryStatusUploaded],
		Failed:   counts[models.DeliveryStatusFailed],
	}
	st.Total = st.Pending + st.Matched + st.Uploaded + st.Failed
	return st, nil
}
