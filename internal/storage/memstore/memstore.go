// Package memstore is an in-process record store guarded by a single mutex.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BearBump/TrackSync/internal/models"
	"github.com/BearBump/TrackSync/internal/storage"
)

type Store struct {
	mu  sync.Mutex
	now func() time.Time

	lastDeliveryID uint64
	lastOrderID    uint64

	deliveries map[uint64]*models.DeliveryRecord
	byTracking map[trackingKey]uint64
	orders     map[uint64]*models.PendingOrder
	byOrderRef map[orderKey]uint64
}

type trackingKey struct{ courier, number string }

type orderKey struct{ account, box, item string }

func New() *Store {
	return &Store{
		now:        func() time.Time { return time.Now().UTC() },
		deliveries: make(map[uint64]*models.DeliveryRecord),
		byTracking: make(map[trackingKey]uint64),
		orders:     make(map[uint64]*models.PendingOrder),
		byOrderRef: make(map[orderKey]uint64),
	}
}

func (s *Store) Close() {}

func (s *Store) ListDeliveries(_ context.Context, f models.DeliveryFilter) ([]*models.DeliveryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.DeliveryRecord, 0, len(s.deliveries))
	for _, d := range s.deliveries {
		if f.AccountID != "" && d.AccountID != f.AccountID {
			continue
		}
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		out = append(out, cloneDelivery(d))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CollectedAt.Equal(out[j].CollectedAt) {
			return out[i].CollectedAt.Before(out[j].CollectedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) GetDelivery(_ context.Context, id uint64) (*models.DeliveryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deliveries[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneDelivery(d), nil
}

// UpsertDelivery inserts a new pending record or returns the existing one untouched.
func (s *Store) UpsertDelivery(_ context.Context, in models.DeliveryInput) (*models.DeliveryRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := trackingKey{in.CourierName, in.TrackingNumber}
	if id, ok := s.byTracking[key]; ok {
		return cloneDelivery(s.deliveries[id]), false, nil
	}

	now := s.now()
	s.lastDeliveryID++
	d := &models.DeliveryRecord{
		ID:             s.lastDeliveryID,
		AccountID:      in.AccountID,
		ReceiverName:   in.ReceiverName,
		CourierName:    in.CourierName,
		TrackingNumber: in.TrackingNumber,
		ProductName:    in.ProductName,
		CollectedAt:    in.CollectedAt.UTC(),
		Status:         models.DeliveryStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.deliveries[d.ID] = d
	s.byTracking[key] = d.ID
	return cloneDelivery(d), true, nil
}

func (s *Store) UpdateDeliveryStatus(_ context.Context, upd models.DeliveryStatusUpdate) (*models.DeliveryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deliveries[upd.DeliveryID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	// matched is only reachable through ApplyMatch
	if upd.Status == models.DeliveryStatusMatched && d.Status != models.DeliveryStatusMatched {
		return nil, storage.ErrInvalidTransition
	}
	if !models.CanTransition(d.Status, upd.Status) {
		return nil, storage.ErrInvalidTransition
	}

	now := s.now()
	if upd.Status == models.DeliveryStatusFailed && d.MatchedOrderID != nil {
		// заказ освобождается вместе с переводом в failed
		if o, ok := s.orders[*d.MatchedOrderID]; ok && o.ClaimedByDeliveryID != nil && *o.ClaimedByDeliveryID == d.ID {
			o.ClaimedByDeliveryID = nil
			o.UpdatedAt = now
		}
		d.MatchedOrderID = nil
		d.MatchConfidence = nil
	}
	d.Status = upd.Status
	d.ErrorMessage = cloneString(upd.ErrorMessage)
	d.UpdatedAt = now
	return cloneDelivery(d), nil
}

func (s *Store) ApplyMatch(_ context.Context, deliveryID, orderID uint64, confidence int) (*models.DeliveryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deliveries[deliveryID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	o, ok := s.orders[orderID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if d.Status != models.DeliveryStatusPending {
		return nil, storage.ErrInvalidTransition
	}
	if o.IsInvoiceUploaded {
		return nil, storage.ErrOrderAlreadyUploaded
	}
	if o.ClaimedByDeliveryID != nil && *o.ClaimedByDeliveryID != deliveryID {
		return nil, storage.ErrOrderAlreadyClaimed
	}

	now := s.now()
	oid, did, conf := orderID, deliveryID, confidence
	d.Status = models.DeliveryStatusMatched
	d.MatchedOrderID = &oid
	d.MatchConfidence = &conf
	d.ErrorMessage = nil
	d.UpdatedAt = now
	o.ClaimedByDeliveryID = &did
	o.UpdatedAt = now
	return cloneDelivery(d), nil
}

func (s *Store) CountDeliveriesByStatus(_ context.Context, accountID string) (map[models.DeliveryStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[models.DeliveryStatus]int, 4)
	for _, d := range s.deliveries {
		if accountID != "" && d.AccountID != accountID {
			continue
		}
		out[d.Status]++
	}
	return out, nil
}

func (s *Store) ListPendingOrders(_ context.Context, accountID string, onlyUnuploaded bool) ([]*models.PendingOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.PendingOrder, 0)
	for _, o := range s.orders {
		if o.AccountID != accountID {
			continue
		}
		if onlyUnuploaded && o.IsInvoiceUploaded {
			continue
		}
		out = append(out, cloneOrder(o))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OrderedAt.Equal(out[j].OrderedAt) {
			return out[i].OrderedAt.Before(out[j].OrderedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) GetPendingOrder(_ context.Context, id uint64) (*models.PendingOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneOrder(o), nil
}

// UpsertPendingOrders refreshes receiver, product and ordered_at of known orders.
// The upload flag and the claim are never touched here.
func (s *Store) UpsertPendingOrders(_ context.Context, accountID string, in []models.PendingOrderInput) ([]*models.PendingOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	out := make([]*models.PendingOrder, 0, len(in))
	for _, it := range in {
		key := orderKey{accountID, it.ShipmentBoxID, it.VendorItemID}
		if id, ok := s.byOrderRef[key]; ok {
			o := s.orders[id]
			o.OrderID = it.OrderID
			o.ReceiverName = it.ReceiverName
			o.ProductName = it.ProductName
			o.OrderedAt = it.OrderedAt.UTC()
			o.UpdatedAt = now
			out = append(out, cloneOrder(o))
			continue
		}
		s.lastOrderID++
		o := &models.PendingOrder{
			ID:            s.lastOrderID,
			AccountID:     accountID,
			OrderID:       it.OrderID,
			ShipmentBoxID: it.ShipmentBoxID,
			VendorItemID:  it.VendorItemID,
			ReceiverName:  it.ReceiverName,
			ProductName:   it.ProductName,
			OrderedAt:     it.OrderedAt.UTC(),
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		s.orders[o.ID] = o
		s.byOrderRef[key] = o.ID
		out = append(out, cloneOrder(o))
	}
	return out, nil
}

func (s *Store) MarkOrderUploaded(_ context.Context, orderID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return storage.ErrNotFound
	}
	o.IsInvoiceUploaded = true
	o.UpdatedAt = s.now()
	return nil
}

func cloneDelivery(d *models.DeliveryRecord) *models.DeliveryRecord {
	c := *d
	if d.MatchedOrderID != nil {
		v := *d.MatchedOrderID
		c.MatchedOrderID = &v
	}
	if d.MatchConfidence != nil {
		v := *d.MatchConfidence
		c.MatchConfidence = &v
	}
	c.ErrorMessage = cloneString(d.ErrorMessage)
	return &c
}

func cloneOrder(o *models.PendingOrder) *models.PendingOrder {
	c := *o
	if o.ClaimedByDeliveryID != nil {
		v := *o.ClaimedByDeliveryID
		c.ClaimedByDeliveryID = &v
	}
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

var _ storage.Store = (*Store)(nil)
