package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/TrackSync/internal/cache/rediscache"
	"github.com/BearBump/TrackSync/internal/integrations/logistics"
	lfake "github.com/BearBump/TrackSync/internal/integrations/logistics/fake"
	"github.com/BearBump/TrackSync/internal/integrations/marketplace"
	mpfake "github.com/BearBump/TrackSync/internal/integrations/marketplace/fake"
	"github.com/BearBump/TrackSync/internal/models"
	"github.com/BearBump/TrackSync/internal/services/uploader"
	"github.com/BearBump/TrackSync/internal/storage"
	"github.com/BearBump/TrackSync/internal/storage/memstore"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store *memstore.Store
	lc    *lfake.FakeClient
	mc    *mpfake.FakeClient
	o     *Orchestrator
}

func newFixture(t *testing.T, wrap func(marketplace.Client) marketplace.Client) *fixture {
	t.Helper()
	st := memstore.New()
	lc := lfake.New()
	mc := mpfake.New()
	var client marketplace.Client = mc
	if wrap != nil {
		client = wrap(mc)
	}
	up := uploader.New(st, mc, nil)
	o := New(st, lc, client, nil, up, Config{}, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.Shutdown(ctx)
	})
	return &fixture{store: st, lc: lc, mc: mc, o: o}
}

// seed prepares n notices and the first m matching orders for account "acc".
func (f *fixture) seed(n, m int) {
	now := time.Now().UTC()
	notices := make([]logistics.Notice, 0, n)
	orders := make([]marketplace.Order, 0, m)
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("Receiver %c", 'A'+i)
		notices = append(notices, logistics.Notice{
			ReceiverName:   name,
			CourierName:    "CJ",
			TrackingNumber: fmt.Sprintf("T%d", i),
			CollectedAt:    now.Add(-time.Hour),
		})
		if i < m {
			orders = append(orders, marketplace.Order{
				OrderID:       fmt.Sprintf("o-%d", i),
				ShipmentBoxID: fmt.Sprintf("b-%d", i),
				VendorItemID:  fmt.Sprintf("v-%d", i),
				ReceiverName:  name,
				OrderedAt:     now.Add(-2 * time.Hour),
			})
		}
	}
	f.lc.SetNotices(notices)
	f.mc.SetOrders("acc", orders)
}

func eventTypes(evs []models.SyncEvent) []models.SyncEventType {
	out := make([]models.SyncEventType, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Type)
	}
	return out
}

func countType(evs []models.SyncEvent, typ models.SyncEventType) int {
	n := 0
	for _, ev := range evs {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func TestOrchestrator_FullRunWithUpload(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.seed(10, 7)
	f.mc.FailSubmission("T5", marketplace.ErrRejected)
	f.mc.FailSubmission("T6", marketplace.ErrUnavailable)

	s, err := f.o.Start(ctx, StartRequest{AccountID: "acc", Mode: models.SyncModeCollectMatchAndUpload})
	require.NoError(t, err)

	evs := drain(t, s.Stream().Subscribe(ctx))
	require.Equal(t, 10, countType(evs, models.SyncEventDelivery))
	require.Equal(t, 7, countType(evs, models.SyncEventMatched))
	require.Equal(t, 7, countType(evs, models.SyncEventUploaded))
	require.Equal(t, 3, countType(evs, models.SyncEventStatus))
	require.Equal(t, 1, countType(evs, models.SyncEventComplete))
	require.Zero(t, countType(evs, models.SyncEventError))

	last := evs[len(evs)-1]
	require.Equal(t, models.SyncEventComplete, last.Type)
	require.Equal(t, models.SyncCounters{Collected: 10, Matched: 7, Uploaded: 5, Failed: 2}, last.Data)

	types := eventTypes(evs)
	require.Equal(t, models.SyncEventStatus, types[0])
	require.Equal(t, models.SyncEventStatus, types[11])
	require.Equal(t, models.SyncEventStatus, types[19])
	for i, ev := range evs {
		require.Equal(t, i+1, ev.Seq)
	}

	require.Equal(t, models.SyncStateComplete, s.State())
	require.Len(t, f.mc.Submissions(), 5)

	counts, err := f.store.CountDeliveriesByStatus(ctx, "acc")
	require.NoError(t, err)
	require.Equal(t, 5, counts[models.DeliveryStatusUploaded])
	require.Equal(t, 1, counts[models.DeliveryStatusFailed])
	require.Equal(t, 1, counts[models.DeliveryStatusMatched])
	require.Equal(t, 3, counts[models.DeliveryStatusPending])

	// второй прогон ничего не дублирует
	s2, err := f.o.Start(ctx, StartRequest{AccountID: "acc", Mode: models.SyncModeCollectMatchAndUpload})
	require.NoError(t, err)
	evs2 := drain(t, s2.Stream().Subscribe(ctx))
	require.Equal(t, models.SyncCounters{}, evs2[len(evs2)-1].Data)
	require.Len(t, f.mc.Submissions(), 5)
}

func TestOrchestrator_RejectedOrderIsMatchedAgainNextRun(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.seed(1, 1)
	f.lc.SetNotices([]logistics.Notice{{ReceiverName: "Receiver A", CourierName: "CJ", TrackingNumber: "BAD", CollectedAt: time.Now().Add(-time.Hour)}})
	f.mc.FailSubmission("BAD", marketplace.ErrRejected)

	s, err := f.o.Start(ctx, StartRequest{AccountID: "acc", Mode: models.SyncModeCollectMatchAndUpload})
	require.NoError(t, err)
	evs := drain(t, s.Stream().Subscribe(ctx))
	require.Equal(t, models.SyncCounters{Collected: 1, Matched: 1, Failed: 1}, evs[len(evs)-1].Data)

	f.lc.SetNotices([]logistics.Notice{{ReceiverName: "Receiver A", CourierName: "CJ", TrackingNumber: "GOOD", CollectedAt: time.Now().Add(-time.Hour)}})
	s2, err := f.o.Start(ctx, StartRequest{AccountID: "acc", Mode: models.SyncModeCollectMatchAndUpload})
	require.NoError(t, err)
	evs2 := drain(t, s2.Stream().Subscribe(ctx))
	require.Equal(t, models.SyncCounters{Collected: 1, Matched: 1, Uploaded: 1}, evs2[len(evs2)-1].Data)

	subs := f.mc.Submissions()
	require.Len(t, subs, 1)
	require.Equal(t, "GOOD", subs[0].TrackingNumber)
}

func TestOrchestrator_CollectAndMatchSkipsUpload(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.seed(3, 3)

	s, err := f.o.Start(ctx, StartRequest{AccountID: "acc", Mode: models.SyncModeCollectAndMatch})
	require.NoError(t, err)

	evs := drain(t, s.Stream().Subscribe(ctx))
	require.Equal(t, 2, countType(evs, models.SyncEventStatus))
	require.Zero(t, countType(evs, models.SyncEventUploaded))
	require.Equal(t, models.SyncCounters{Collected: 3, Matched: 3}, evs[len(evs)-1].Data)
	require.Empty(t, f.mc.Submissions())
}

func TestOrchestrator_NotLoggedInEmitsSingleError(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.seed(2, 2)
	f.lc.SetSession(logistics.Session{LoggedIn: false}, nil)

	s, err := f.o.Start(ctx, StartRequest{AccountID: "acc"})
	require.NoError(t, err)

	evs := drain(t, s.Stream().Subscribe(ctx))
	require.Len(t, evs, 1)
	require.Equal(t, models.SyncEventError, evs[0].Type)
	require.Equal(t, map[string]any{"message": msgNotAuthenticated}, evs[0].Data)
	require.Equal(t, models.SyncStateError, s.State())
	require.Zero(t, f.lc.Fetches())
}

func TestOrchestrator_CollaboratorFailureEndsSession(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.seed(2, 2)
	f.mc.SetFetchError(marketplace.ErrUnavailable)

	s, err := f.o.Start(ctx, StartRequest{AccountID: "acc"})
	require.NoError(t, err)

	evs := drain(t, s.Stream().Subscribe(ctx))
	last := evs[len(evs)-1]
	require.Equal(t, models.SyncEventError, last.Type)
	require.Contains(t, last.Data.(map[string]any)["message"], "fetch pending orders")
	require.Equal(t, 2, countType(evs, models.SyncEventDelivery))
	require.Zero(t, countType(evs, models.SyncEventComplete))

	snap := s.Snapshot()
	require.Equal(t, models.SyncStateError, snap.State)
	require.NotNil(t, snap.FinishedAt)
	require.NotEmpty(t, snap.Error)
}

func TestOrchestrator_Validation(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.o.Start(context.Background(), StartRequest{})
	require.ErrorIs(t, err, ErrAccountRequired)

	_, err = f.o.Start(context.Background(), StartRequest{AccountID: "acc", Mode: "everything"})
	require.ErrorIs(t, err, ErrInvalidMode)

	require.ErrorIs(t, f.o.Stop("nope"), ErrSessionNotFound)
	_, err = f.o.Session("nope")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

type blockingMarketplace struct {
	marketplace.Client
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newBlocking(c marketplace.Client) *blockingMarketplace {
	return &blockingMarketplace{Client: c, entered: make(chan struct{}), release: make(chan struct{})}
}

func (b *blockingMarketplace) FetchPendingOrders(ctx context.Context, accountID string, hoursBack int) ([]marketplace.Order, error) {
	b.once.Do(func() { close(b.entered) })
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return b.Client.FetchPendingOrders(ctx, accountID, hoursBack)
}

func TestOrchestrator_StopMidRun(t *testing.T) {
	ctx := context.Background()
	var bm *blockingMarketplace
	f := newFixture(t, func(c marketplace.Client) marketplace.Client {
		bm = newBlocking(c)
		return bm
	})
	f.seed(4, 4)

	s, err := f.o.Start(ctx, StartRequest{AccountID: "acc", Mode: models.SyncModeCollectMatchAndUpload})
	require.NoError(t, err)

	<-bm.entered
	require.NoError(t, f.o.Stop(s.ID))
	close(bm.release)

	evs := drain(t, s.Stream().Subscribe(ctx))
	require.Equal(t, 4, countType(evs, models.SyncEventDelivery))
	require.Zero(t, countType(evs, models.SyncEventMatched))
	require.Zero(t, countType(evs, models.SyncEventUploaded))

	last := evs[len(evs)-1]
	require.Equal(t, models.SyncEventError, last.Type)
	require.Equal(t, map[string]any{"message": msgStopped, "stopped": true}, last.Data)
	require.Equal(t, models.SyncStateStopped, s.State())

	// уже собранные доставки остаются
	list, err := f.store.ListDeliveries(ctx, models.DeliveryFilter{AccountID: "acc"})
	require.NoError(t, err)
	require.Len(t, list, 4)

	// остановка завершённой сессии ничего не делает
	require.NoError(t, f.o.Stop(s.ID))
}

// gate blocks the first call that passes through it until release is closed.
type gate struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGate() *gate {
	return &gate{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gate) wait(ctx context.Context) {
	first := false
	g.once.Do(func() {
		first = true
		close(g.entered)
	})
	if !first {
		return
	}
	select {
	case <-g.release:
	case <-ctx.Done():
	}
}

type gatedStore struct {
	*memstore.Store
	g *gate
}

func (s *gatedStore) ApplyMatch(ctx context.Context, deliveryID, orderID uint64, confidence int) (*models.DeliveryRecord, error) {
	s.g.wait(ctx)
	return s.Store.ApplyMatch(ctx, deliveryID, orderID, confidence)
}

type gatedSubmitter struct {
	marketplace.Client
	g *gate
}

func (m *gatedSubmitter) SubmitTrackingNumber(ctx context.Context, sub marketplace.TrackingSubmission) error {
	m.g.wait(ctx)
	return m.Client.SubmitTrackingNumber(ctx, sub)
}

func TestOrchestrator_StopDuringMatchingKeepsAppliedMatch(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	g := newGate()
	f := &fixture{store: st, lc: lfake.New(), mc: mpfake.New()}
	f.o = New(&gatedStore{Store: st, g: g}, f.lc, f.mc, nil, uploader.New(st, f.mc, nil), Config{}, nil)
	f.seed(4, 4)

	s, err := f.o.Start(ctx, StartRequest{AccountID: "acc", Mode: models.SyncModeCollectMatchAndUpload})
	require.NoError(t, err)

	<-g.entered
	require.NoError(t, f.o.Stop(s.ID))
	close(g.release)

	evs := drain(t, s.Stream().Subscribe(ctx))
	require.Equal(t, 1, countType(evs, models.SyncEventMatched))
	require.Zero(t, countType(evs, models.SyncEventUploaded))
	require.Equal(t, models.SyncStateStopped, s.State())

	// после matched-события сразу терминальное, ничего больше
	require.Equal(t, models.SyncEventMatched, evs[len(evs)-2].Type)
	require.Equal(t, models.SyncEventError, evs[len(evs)-1].Type)

	counts, err := st.CountDeliveriesByStatus(ctx, "acc")
	require.NoError(t, err)
	require.Equal(t, 1, counts[models.DeliveryStatusMatched])
	require.Equal(t, 3, counts[models.DeliveryStatusPending])
	require.Empty(t, f.mc.Submissions())
}

func TestOrchestrator_StopDuringUploadKeepsAppliedState(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	g := newGate()
	f := &fixture{store: st, lc: lfake.New(), mc: mpfake.New()}
	up := uploader.New(st, &gatedSubmitter{Client: f.mc, g: g}, nil).WithConcurrency(1)
	f.o = New(st, f.lc, f.mc, nil, up, Config{}, nil)
	f.seed(4, 4)

	s, err := f.o.Start(ctx, StartRequest{AccountID: "acc", Mode: models.SyncModeCollectMatchAndUpload})
	require.NoError(t, err)

	<-g.entered
	require.NoError(t, f.o.Stop(s.ID))
	close(g.release)

	evs := drain(t, s.Stream().Subscribe(ctx))
	require.Equal(t, 4, countType(evs, models.SyncEventMatched))
	require.Equal(t, 1, countType(evs, models.SyncEventUploaded))
	require.Equal(t, models.SyncEventUploaded, evs[len(evs)-2].Type)
	last := evs[len(evs)-1]
	require.Equal(t, map[string]any{"message": msgStopped, "stopped": true}, last.Data)

	counts, err := st.CountDeliveriesByStatus(ctx, "acc")
	require.NoError(t, err)
	require.Equal(t, 1, counts[models.DeliveryStatusUploaded])
	require.Equal(t, 3, counts[models.DeliveryStatusMatched])
	require.Len(t, f.mc.Submissions(), 1)
}

func TestOrchestrator_RestartRightAfterTerminalEvent(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	f := newFixture(t, nil)
	f.o.WithLocker(rediscache.NewLocker(mr.Addr(), "tracksync:lock:"))
	f.seed(1, 1)

	for i := 0; i < 20; i++ {
		s, err := f.o.Start(ctx, StartRequest{AccountID: "acc"})
		require.NoError(t, err, "attempt %d", i)
		evs := drain(t, s.Stream().Subscribe(ctx))
		require.Equal(t, models.SyncEventComplete, evs[len(evs)-1].Type)
	}
}

func TestOrchestrator_OneSessionPerAccount(t *testing.T) {
	ctx := context.Background()
	var bm *blockingMarketplace
	f := newFixture(t, func(c marketplace.Client) marketplace.Client {
		bm = newBlocking(c)
		return bm
	})
	f.seed(1, 1)

	s, err := f.o.Start(ctx, StartRequest{AccountID: "acc"})
	require.NoError(t, err)
	<-bm.entered

	_, err = f.o.Start(ctx, StartRequest{AccountID: "acc"})
	require.ErrorIs(t, err, ErrSessionInProgress)

	active, ok := f.o.ActiveSession("acc")
	require.True(t, ok)
	require.Equal(t, s.ID, active.ID)

	other, err := f.o.Start(ctx, StartRequest{AccountID: "acc-2"})
	require.NoError(t, err)

	close(bm.release)
	drain(t, s.Stream().Subscribe(ctx))
	drain(t, other.Stream().Subscribe(ctx))

	_, ok = f.o.ActiveSession("acc")
	require.False(t, ok)

	next, err := f.o.Start(ctx, StartRequest{AccountID: "acc"})
	require.NoError(t, err)
	drain(t, next.Stream().Subscribe(ctx))
}

func TestOrchestrator_RedisLockAcrossInstances(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	var bm *blockingMarketplace
	first := newFixture(t, func(c marketplace.Client) marketplace.Client {
		bm = newBlocking(c)
		return bm
	})
	first.seed(1, 1)
	first.o.WithLocker(rediscache.NewLocker(mr.Addr(), "tracksync:lock:"))

	second := newFixture(t, nil)
	second.o.WithLocker(rediscache.NewLocker(mr.Addr(), "tracksync:lock:"))

	s, err := first.o.Start(ctx, StartRequest{AccountID: "acc"})
	require.NoError(t, err)
	<-bm.entered

	_, err = second.o.Start(ctx, StartRequest{AccountID: "acc"})
	require.ErrorIs(t, err, ErrSessionInProgress)

	close(bm.release)
	drain(t, s.Stream().Subscribe(ctx))

	// лок снят к моменту терминального события
	require.False(t, mr.Exists("tracksync:lock:acc"))
	s2, err := second.o.Start(ctx, StartRequest{AccountID: "acc"})
	require.NoError(t, err)
	drain(t, s2.Stream().Subscribe(ctx))
}

func TestOrchestrator_CursorLimitsCollection(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	f := newFixture(t, nil)
	f.o.WithCursor(rediscache.New(mr.Addr()))
	f.seed(2, 0)

	s, err := f.o.Start(ctx, StartRequest{AccountID: "acc"})
	require.NoError(t, err)
	drain(t, s.Stream().Subscribe(ctx))
	require.True(t, mr.Exists(cursorKeyPrefix+"acc"))

	f.lc.SetNotices([]logistics.Notice{
		{ReceiverName: "Old", CourierName: "CJ", TrackingNumber: "OLD", CollectedAt: time.Now().Add(-time.Hour)},
		{ReceiverName: "New", CourierName: "CJ", TrackingNumber: "NEW", CollectedAt: time.Now().Add(time.Minute)},
	})

	s2, err := f.o.Start(ctx, StartRequest{AccountID: "acc"})
	require.NoError(t, err)
	evs := drain(t, s2.Stream().Subscribe(ctx))
	require.Equal(t, 1, countType(evs, models.SyncEventDelivery))
	require.Equal(t, models.SyncCounters{Collected: 1}, evs[len(evs)-1].Data)
}

func TestOrchestrator_ManualMatch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	now := time.Now().UTC()

	d1, _, err := f.store.UpsertDelivery(ctx, models.DeliveryInput{AccountID: "acc", ReceiverName: "Kim", CourierName: "CJ", TrackingNumber: "1", CollectedAt: now})
	require.NoError(t, err)
	d2, _, err := f.store.UpsertDelivery(ctx, models.DeliveryInput{AccountID: "acc", ReceiverName: "Lee", CourierName: "CJ", TrackingNumber: "2", CollectedAt: now})
	require.NoError(t, err)
	foreign, _, err := f.store.UpsertDelivery(ctx, models.DeliveryInput{AccountID: "other", ReceiverName: "Kim", CourierName: "CJ", TrackingNumber: "3", CollectedAt: now})
	require.NoError(t, err)
	orders, err := f.store.UpsertPendingOrders(ctx, "acc", []models.PendingOrderInput{
		{OrderID: "o-1", ShipmentBoxID: "b-1", VendorItemID: "v-1", ReceiverName: "Kim", OrderedAt: now},
	})
	require.NoError(t, err)

	got, err := f.o.ManualMatch(ctx, d1.ID, orders[0].ID)
	require.NoError(t, err)
	require.Equal(t, models.DeliveryStatusMatched, got.Status)
	require.Equal(t, 100, *got.MatchConfidence)

	_, err = f.o.ManualMatch(ctx, d2.ID, orders[0].ID)
	require.ErrorIs(t, err, storage.ErrOrderAlreadyClaimed)

	_, err = f.o.ManualMatch(ctx, d1.ID, orders[0].ID)
	require.ErrorIs(t, err, storage.ErrInvalidTransition)

	_, err = f.o.ManualMatch(ctx, foreign.ID, orders[0].ID)
	require.ErrorIs(t, err, ErrAccountMismatch)

	_, err = f.o.ManualMatch(ctx, 999, orders[0].ID)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestOrchestrator_HistoryIsBounded(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	o := New(st, lfake.New(), mpfake.New(), nil, uploader.New(st, mpfake.New(), nil), Config{HistoryLimit: 1}, nil)

	s1, err := o.Start(ctx, StartRequest{AccountID: "a"})
	require.NoError(t, err)
	drain(t, s1.Stream().Subscribe(ctx))

	s2, err := o.Start(ctx, StartRequest{AccountID: "b"})
	require.NoError(t, err)
	drain(t, s2.Stream().Subscribe(ctx))

	_, err = o.Session(s1.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)
	got, err := o.Session(s2.ID)
	require.NoError(t, err)
	require.Equal(t, models.SyncStateComplete, got.Snapshot().State)
}

func TestOrchestrator_ShutdownStopsRunningSessions(t *testing.T) {
	ctx := context.Background()
	var bm *blockingMarketplace
	f := newFixture(t, func(c marketplace.Client) marketplace.Client {
		bm = newBlocking(c)
		return bm
	})
	f.seed(1, 1)

	s, err := f.o.Start(ctx, StartRequest{AccountID: "acc"})
	require.NoError(t, err)
	<-bm.entered

	errCh := make(chan error, 1)
	go func() {
		sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		errCh <- f.o.Shutdown(sctx)
	}()
	require.Eventually(t, s.stopRequested.Load, time.Second, 5*time.Millisecond)
	close(bm.release)

	require.NoError(t, <-errCh)
	require.Equal(t, models.SyncStateStopped, s.State())
}

type capturePublisher struct {
	mu   sync.Mutex
	msgs []capturedMsg
}

type capturedMsg struct {
	topic, key string
	body       []byte
}

func (p *capturePublisher) PublishJSON(_ context.Context, topic, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.msgs = append(p.msgs, capturedMsg{topic, key, b})
	p.mu.Unlock()
	return nil
}

func (p *capturePublisher) snapshot() []capturedMsg {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]capturedMsg(nil), p.msgs...)
}

func TestEventMirror_RepublishesEveryEvent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.seed(2, 2)

	pub := &capturePublisher{}
	f.o.OnSession(NewEventMirror(pub, "sync.events", nil).Attach)

	s, err := f.o.Start(ctx, StartRequest{AccountID: "acc"})
	require.NoError(t, err)
	evs := drain(t, s.Stream().Subscribe(ctx))

	require.Eventually(t, func() bool { return len(pub.snapshot()) == len(evs) }, 2*time.Second, 10*time.Millisecond)
	for i, m := range pub.snapshot() {
		require.Equal(t, "sync.events", m.topic)
		require.Equal(t, "acc", m.key)
		var body struct {
			SessionID string `json:"session_id"`
			Seq       int    `json:"seq"`
			Type      string `json:"type"`
		}
		require.NoError(t, json.Unmarshal(m.body, &body))
		require.Equal(t, s.ID, body.SessionID)
		require.Equal(t, i+1, body.Seq)
		require.Equal(t, string(evs[i].Type), body.Type)
	}
}
