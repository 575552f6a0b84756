package syncer

import (
	"context"
	"time"

	"github.com/BearBump/TrackSync/internal/models"
	"github.com/BearBump/TrackSync/internal/storage"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// errStopped unwinds the pipeline after a stop request.
var errStopped = errors.New(msgStopped)

type matchedEvent struct {
	DeliveryID     uint64 `json:"delivery_id"`
	OrderID        uint64 `json:"order_id"`
	Confidence     int    `json:"confidence"`
	TrackingNumber string `json:"tracking_number"`
}

func (o *Orchestrator) run(ctx context.Context, s *Session) {
	log := o.log.With(zap.String("session_id", s.ID), zap.String("account_id", s.AccountID))

	err := o.pipeline(ctx, s)

	var (
		typ  models.SyncEventType
		data any
	)
	switch {
	case err == nil:
		c := s.Counters()
		s.finish(models.SyncStateComplete, "", o.now())
		typ, data = models.SyncEventComplete, c
		log.Info("sync session complete",
			zap.Int("collected", c.Collected),
			zap.Int("matched", c.Matched),
			zap.Int("uploaded", c.Uploaded),
			zap.Int("failed", c.Failed))
	case errors.Is(err, errStopped):
		s.finish(models.SyncStateStopped, msgStopped, o.now())
		typ, data = models.SyncEventError, map[string]any{"message": msgStopped, "stopped": true}
		log.Info("sync session stopped")
	default:
		s.finish(models.SyncStateError, err.Error(), o.now())
		typ, data = models.SyncEventError, map[string]any{"message": err.Error()}
		log.Error("sync session failed", zap.Error(err))
	}

	// аккаунт освобождаем до терминального события: наблюдатель может сразу запустить новый прогон
	o.releaseAccount(ctx, s, log)
	s.stream.appendTerminal(typ, data)
}

func (o *Orchestrator) releaseAccount(ctx context.Context, s *Session, log *zap.Logger) {
	if o.locker != nil {
		if err := o.locker.Unlock(context.WithoutCancel(ctx), s.AccountID, s.ID); err != nil {
			log.Warn("release account lock", zap.Error(err))
		}
	}
	o.registry.release(s)
	o.metrics.SessionFinished(string(s.State()))
}

func (o *Orchestrator) checkpoint(s *Session) error {
	if s.stopRequested.Load() {
		return errStopped
	}
	return nil
}

func (o *Orchestrator) enter(s *Session, st models.SyncState) {
	s.setState(st)
	s.stream.append(models.SyncEventStatus, map[string]any{"state": st})
}

func (o *Orchestrator) pipeline(ctx context.Context, s *Session) error {
	sess, err := o.logistics.LoginStatus(ctx)
	if err != nil || !sess.LoggedIn {
		if err != nil {
			o.log.Warn("logistics login status", zap.String("session_id", s.ID), zap.Error(err))
		}
		return errors.New(msgNotAuthenticated)
	}
	if err := o.checkpoint(s); err != nil {
		return err
	}

	candidates, err := o.collect(ctx, s)
	if err != nil {
		return err
	}

	matched, err := o.match(ctx, s, candidates)
	if err != nil {
		return err
	}

	if s.Mode == models.SyncModeCollectMatchAndUpload {
		if err := o.upload(ctx, s, matched); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) collect(ctx context.Context, s *Session) ([]*models.PendingOrder, error) {
	o.enter(s, models.SyncStateCollecting)

	since := o.since(ctx, s.AccountID)
	fetchedAt := o.now()
	notices, err := o.logistics.FetchDeliveries(ctx, since)
	if err != nil {
		return nil, errors.Wrap(err, "fetch deliveries")
	}
	if err := o.checkpoint(s); err != nil {
		return nil, err
	}

	for _, n := range notices {
		if err := o.checkpoint(s); err != nil {
			return nil, err
		}
		d, created, err := o.repo.UpsertDelivery(ctx, models.DeliveryInput{
			AccountID:      s.AccountID,
			ReceiverName:   n.ReceiverName,
			CourierName:    n.CourierName,
			TrackingNumber: n.TrackingNumber,
			ProductName:    n.ProductName,
			CollectedAt:    n.CollectedAt,
		})
		if err != nil {
			return nil, errors.Wrap(err, "store delivery")
		}
		if !created {
			continue
		}
		s.count(func(c *models.SyncCounters) { c.Collected++ })
		o.metrics.Collected()
		s.stream.append(models.SyncEventDelivery, d)
	}
	o.saveCursor(ctx, s.AccountID, fetchedAt)

	orders, err := o.marketplace.FetchPendingOrders(ctx, s.AccountID, o.cfg.OrdersHoursBack)
	if err != nil {
		return nil, errors.Wrap(err, "fetch pending orders")
	}
	if err := o.checkpoint(s); err != nil {
		return nil, err
	}

	inputs := make([]models.PendingOrderInput, 0, len(orders))
	for _, mo := range orders {
		inputs = append(inputs, models.PendingOrderInput{
			OrderID:       mo.OrderID,
			ShipmentBoxID: mo.ShipmentBoxID,
			VendorItemID:  mo.VendorItemID,
			ReceiverName:  mo.ReceiverName,
			ProductName:   mo.ProductName,
			OrderedAt:     mo.OrderedAt,
		})
	}
	if _, err := o.repo.UpsertPendingOrders(ctx, s.AccountID, inputs); err != nil {
		return nil, errors.Wrap(err, "store pending orders")
	}

	candidates, err := o.repo.ListPendingOrders(ctx, s.AccountID, true)
	if err != nil {
		return nil, errors.Wrap(err, "list pending orders")
	}
	return candidates, nil
}

func (o *Orchestrator) match(ctx context.Context, s *Session, candidates []*models.PendingOrder) ([]uint64, error) {
	if err := o.checkpoint(s); err != nil {
		return nil, err
	}
	o.enter(s, models.SyncStateMatching)

	pending, err := o.repo.ListDeliveries(ctx, models.DeliveryFilter{
		AccountID: s.AccountID,
		Status:    models.DeliveryStatusPending,
	})
	if err != nil {
		return nil, errors.Wrap(err, "list pending deliveries")
	}

	var matched []uint64
	for _, d := range pending {
		if err := o.checkpoint(s); err != nil {
			return nil, err
		}

		res := o.matcher.Match(d, candidates)
		if !res.Matched() {
			o.log.Debug("delivery not matched",
				zap.Uint64("delivery_id", d.ID),
				zap.String("reason", res.Reason),
				zap.Int("best_confidence", res.Confidence))
			continue
		}

		applied, err := o.applyMatch(ctx, d, *res.OrderID, res.Confidence, "auto")
		switch {
		case errors.Is(err, storage.ErrOrderAlreadyClaimed), errors.Is(err, storage.ErrOrderAlreadyUploaded):
			// заказ забрали параллельно (ручной матч или другой инстанс)
			candidates = dropCandidate(candidates, *res.OrderID)
			continue
		case errors.Is(err, storage.ErrInvalidTransition), errors.Is(err, storage.ErrNotFound):
			continue
		case err != nil:
			return nil, errors.Wrap(err, "apply match")
		}

		claimCandidate(candidates, *res.OrderID, d.ID)
		matched = append(matched, d.ID)
		s.count(func(c *models.SyncCounters) { c.Matched++ })
		s.stream.append(models.SyncEventMatched, matchedEvent{
			DeliveryID:     applied.ID,
			OrderID:        *applied.MatchedOrderID,
			Confidence:     *applied.MatchConfidence,
			TrackingNumber: applied.TrackingNumber,
		})
	}
	return matched, nil
}

func (o *Orchestrator) upload(ctx context.Context, s *Session, ids []uint64) error {
	if err := o.checkpoint(s); err != nil {
		return err
	}
	o.enter(s, models.SyncStateUploading)

	for _, id := range ids {
		if err := o.checkpoint(s); err != nil {
			return err
		}
		res := o.uploader.Upload(ctx, id)
		if res.Success {
			s.count(func(c *models.SyncCounters) { c.Uploaded++ })
		} else {
			s.count(func(c *models.SyncCounters) { c.Failed++ })
		}
		s.stream.append(models.SyncEventUploaded, res)
	}
	return nil
}

func (o *Orchestrator) since(ctx context.Context, accountID string) time.Time {
	fallback := o.now().Add(-o.cfg.DeliveriesLookback)
	if o.cursor == nil {
		return fallback
	}
	b, ok, err := o.cursor.Get(ctx, cursorKeyPrefix+accountID)
	if err != nil {
		o.log.Warn("read collection cursor", zap.String("account_id", accountID), zap.Error(err))
		return fallback
	}
	if !ok {
		return fallback
	}
	t, err := time.Parse(time.RFC3339Nano, string(b))
	if err != nil {
		return fallback
	}
	return t
}

func (o *Orchestrator) saveCursor(ctx context.Context, accountID string, at time.Time) {
	if o.cursor == nil {
		return
	}
	if err := o.cursor.Set(ctx, cursorKeyPrefix+accountID, []byte(at.UTC().Format(time.RFC3339Nano)), cursorTTL); err != nil {
		o.log.Warn("save collection cursor", zap.String("account_id", accountID), zap.Error(err))
	}
}

func dropCandidate(in []*models.PendingOrder, orderID uint64) []*models.PendingOrder {
	out := in[:0]
	for _, c := range in {
		if c.ID != orderID {
			out = append(out, c)
		}
	}
	return out
}

func claimCandidate(in []*models.PendingOrder, orderID, deliveryID uint64) {
	for _, c := range in {
		if c.ID == orderID {
			id := deliveryID
			c.ClaimedByDeliveryID = &id
			return
		}
	}
}
