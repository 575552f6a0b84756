package matcher

import (
	"testing"
	"time"

	"github.com/BearBump/TrackSync/internal/models"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func delivery(name, product string) *models.DeliveryRecord {
	return &models.DeliveryRecord{
		ID: 1, AccountID: "acc", ReceiverName: name, CourierName: "CJ", TrackingNumber: "123456",
		ProductName: product, CollectedAt: t0, Status: models.DeliveryStatusPending,
	}
}

func order(id uint64, name string, ago time.Duration) *models.PendingOrder {
	return &models.PendingOrder{ID: id, AccountID: "acc", ReceiverName: name, OrderedAt: t0.Add(-ago)}
}

func TestMatch_PicksRecentOrderForSameReceiver(t *testing.T) {
	m := New(Config{})
	res := m.Match(delivery("Kim", ""), []*models.PendingOrder{
		order(10, "Kim", 5*24*time.Hour),
		order(11, "Kim", time.Hour),
		order(12, "Park", time.Hour),
	})

	require.True(t, res.Matched())
	require.Equal(t, uint64(11), *res.OrderID)
	require.Equal(t, 100, res.Confidence)
	require.Equal(t, ReasonMatched, res.Reason)
}

func TestMatch_TieIsAmbiguous(t *testing.T) {
	m := New(Config{})
	res := m.Match(delivery("Kim", ""), []*models.PendingOrder{
		order(10, "Kim", time.Hour),
		order(11, "Kim", time.Hour),
	})

	require.False(t, res.Matched())
	require.Equal(t, ReasonAmbiguous, res.Reason)
}

func TestMatch_Margin(t *testing.T) {
	m := New(Config{})

	// runner-up scores exactly 90: accepted with a margin of 10
	res := m.Match(delivery("Kim", ""), []*models.PendingOrder{
		order(10, "Kim", 0),
		order(11, "Kim", 50*time.Hour+24*time.Minute),
	})
	require.True(t, res.Matched())
	require.Equal(t, uint64(10), *res.OrderID)

	// runner-up scores 91: too close
	res = m.Match(delivery("Kim", ""), []*models.PendingOrder{
		order(10, "Kim", 0),
		order(11, "Kim", 45*time.Hour+21*time.Minute+36*time.Second),
	})
	require.False(t, res.Matched())
	require.Equal(t, ReasonAmbiguous, res.Reason)
}

func TestMatch_ZeroMarginAcceptsNarrowLead(t *testing.T) {
	m := New(Config{}).WithMargin(0)
	require.Zero(t, m.Config().Margin)

	res := m.Match(delivery("Kim", ""), []*models.PendingOrder{
		order(10, "Kim", 0),
		order(11, "Kim", 45*time.Hour+21*time.Minute+36*time.Second),
	})
	require.True(t, res.Matched())
	require.Equal(t, uint64(10), *res.OrderID)

	// отрицательное значение игнорируется
	require.Equal(t, DefaultMargin, New(Config{}).WithMargin(-1).Config().Margin)
}

func TestMatch_BelowThreshold(t *testing.T) {
	m := New(Config{})
	res := m.Match(delivery("Kim", ""), []*models.PendingOrder{order(10, "Park", 0)})

	require.False(t, res.Matched())
	require.Equal(t, ReasonBelowThreshold, res.Reason)
	require.Equal(t, 33, res.Confidence)
}

func TestMatch_ThresholdIsStrict(t *testing.T) {
	m := New(Config{AcceptThreshold: 100})
	res := m.Match(delivery("Kim", ""), []*models.PendingOrder{order(10, "Kim", 0)})

	require.False(t, res.Matched())
	require.Equal(t, 100, res.Confidence)
	require.Equal(t, ReasonBelowThreshold, res.Reason)
}

func TestMatch_NoCandidates(t *testing.T) {
	m := New(Config{})
	claimedBy := uint64(99)

	uploaded := order(10, "Kim", time.Hour)
	uploaded.IsInvoiceUploaded = true
	claimed := order(11, "Kim", time.Hour)
	claimed.ClaimedByDeliveryID = &claimedBy
	foreign := order(12, "Kim", time.Hour)
	foreign.AccountID = "other"

	res := m.Match(delivery("Kim", ""), []*models.PendingOrder{uploaded, claimed, foreign})
	require.False(t, res.Matched())
	require.Equal(t, ReasonNoCandidates, res.Reason)
	require.Zero(t, res.Confidence)

	res = m.Match(delivery("Kim", ""), nil)
	require.Equal(t, ReasonNoCandidates, res.Reason)
}

func TestScore_MaskedName(t *testing.T) {
	m := New(Config{})
	require.Equal(t, 87, m.Score(delivery("김민수", ""), order(1, "김*수", 0)))
	require.Equal(t, 87, m.Score(delivery("김*수", ""), order(1, "김민수", 0)))
	require.Equal(t, 33, m.Score(delivery("김민수", ""), order(1, "박*수씨", 0)))
	require.Equal(t, 33, m.Score(delivery("***", ""), order(1, "김민수", 0)))
}

func TestScore_NormalizesWidthCaseAndPunctuation(t *testing.T) {
	m := New(Config{})
	require.Equal(t, 100, m.Score(delivery("ＫＩＭ　Ｍｉｎ-Ｓｕ", ""), order(1, "kim min su", 0)))
	require.Equal(t, 100, m.Score(delivery("O'Neil, Sarah", ""), order(1, "oneil sarah", 0)))
}

func TestScore_ProductWeightOnlyWhenBothSidesHaveProduct(t *testing.T) {
	m := New(Config{})
	d := delivery("Kim", "Blue Coffee Mug")

	o := order(1, "Kim", 0)
	require.Equal(t, 100, m.Score(d, o))

	o.ProductName = "blue mug"
	require.Equal(t, 97, m.Score(d, o))

	o.ProductName = "red teapot"
	require.Equal(t, 90, m.Score(d, o))
}

func TestScore_TimeOutsideWindow(t *testing.T) {
	m := New(Config{TimeWindow: 24 * time.Hour})
	require.Equal(t, 67, m.Score(delivery("Kim", ""), order(1, "Kim", 48*time.Hour)))
}

func TestNew_Defaults(t *testing.T) {
	cfg := New(Config{}).Config()
	require.Equal(t, DefaultConfig(), cfg)
}

func TestJaccard(t *testing.T) {
	require.InDelta(t, 2.0/3.0, jaccard(tokens("Blue Coffee Mug"), tokens("mug, BLUE")), 1e-9)
	require.Zero(t, jaccard(tokens(""), tokens("mug")))
}
