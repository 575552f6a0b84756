package stats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BearBump/TrackSync/internal/models"
	"github.com/BearBump/TrackSync/internal/storage/memstore"
	"github.com/stretchr/testify/require"
)

type failingRepo struct{ err error }

func (f failingRepo) CountDeliveriesByStatus(context.Context, string) (map[models.DeliveryStatus]int, error) {
	return nil, f.err
}

func TestCompute_TotalIsSum(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	now := time.Now().UTC()

	for i, tn := range []string{"1", "2", "3", "4"} {
		acc := "acc"
		if i == 3 {
			acc = "other"
		}
		_, _, err := st.UpsertDelivery(ctx, models.DeliveryInput{AccountID: acc, CourierName: "CJ", TrackingNumber: tn, ReceiverName: "R", CollectedAt: now})
		require.NoError(t, err)
	}
	orders, err := st.UpsertPendingOrders(ctx, "acc", []models.PendingOrderInput{{OrderID: "o", ShipmentBoxID: "b", VendorItemID: "v", ReceiverName: "R", OrderedAt: now}})
	require.NoError(t, err)
	_, err = st.ApplyMatch(ctx, 1, orders[0].ID, 90)
	require.NoError(t, err)
	msg := "rejected"
	_, err = st.UpdateDeliveryStatus(ctx, models.DeliveryStatusUpdate{DeliveryID: 2, Status: models.DeliveryStatusFailed, ErrorMessage: &msg})
	require.NoError(t, err)

	a := New(st)
	got, err := a.Compute(ctx, "acc")
	require.NoError(t, err)
	require.Equal(t, models.DeliveryStats{Total: 3, Pending: 1, Matched: 1, Failed: 1}, got)

	all, err := a.Compute(ctx, "")
	require.NoError(t, err)
	require.Equal(t, 4, all.Total)
	require.Equal(t, all.Total, all.Pending+all.Matched+all.Uploaded+all.Failed)
}

func TestCompute_EmptyStore(t *testing.T) {
	got, err := New(memstore.New()).Compute(context.Background(), "nobody")
	require.NoError(t, err)
	require.Equal(t, models.DeliveryStats{}, got)
}

func TestCompute_RepoError(t *testing.T) {
	want := errors.New("db down")
	_, err := New(failingRepo{err: want}).Compute(context.Background(), "acc")
	require.ErrorIs(t, err, want)
}
