package fake

import (
	"context"
	"testing"

	"github.com/BearBump/TrackSync/internal/integrations/marketplace"
	"github.com/stretchr/testify/require"
)

func TestFakeClient_Submissions(t *testing.T) {
	ctx := context.Background()
	f := New()
	f.SetOrders("acc", []marketplace.Order{{OrderID: "o-1"}})

	orders, err := f.FetchPendingOrders(ctx, "acc", 24)
	require.NoError(t, err)
	require.Len(t, orders, 1)

	f.FailSubmission("bad", marketplace.ErrRejected)
	require.ErrorIs(t, f.SubmitTrackingNumber(ctx, marketplace.TrackingSubmission{TrackingNumber: "bad"}), marketplace.ErrRejected)
	require.NoError(t, f.SubmitTrackingNumber(ctx, marketplace.TrackingSubmission{TrackingNumber: "good"}))

	f.FailSubmission("bad", nil)
	require.NoError(t, f.SubmitTrackingNumber(ctx, marketplace.TrackingSubmission{TrackingNumber: "bad"}))
	require.Len(t, f.Submissions(), 2)
}
