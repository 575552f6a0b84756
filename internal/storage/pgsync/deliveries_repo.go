package pgsync

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/TrackSync/internal/models"
	"github.com/BearBump/TrackSync/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

const deliveryColumns = `
  id, account_id, receiver_name, courier_name, tracking_number, product_name,
  collected_at, status, matched_order_id, match_confidence, error_message,
  created_at, updated_at`

func scanDelivery(row pgx.Row) (*models.DeliveryRecord, error) {
	var d models.DeliveryRecord
	var status string
	var matchedOrderID *int64
	var confidence *int32
	var errorMessage *string
	if err := row.Scan(
		&d.ID, &d.AccountID, &d.ReceiverName, &d.CourierName, &d.TrackingNumber, &d.ProductName,
		&d.CollectedAt, &status, &matchedOrderID, &confidence, &errorMessage,
		&d.CreatedAt, &d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	d.Status = models.DeliveryStatus(status)
	if matchedOrderID != nil {
		v := uint64(*matchedOrderID)
		d.MatchedOrderID = &v
	}
	if confidence != nil {
		v := int(*confidence)
		d.MatchConfidence = &v
	}
	d.ErrorMessage = errorMessage
	return &d, nil
}

func (s *Storage) ListDeliveries(ctx context.Context, f models.DeliveryFilter) ([]*models.DeliveryRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.AccountID != "" {
		args = append(args, f.AccountID)
		where = append(where, "account_id = $1")
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, "status = $"+strconv.Itoa(len(args)))
	}

	q := `SELECT` + deliveryColumns + ` FROM deliveries`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY collected_at ASC, id ASC`

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "select deliveries")
	}
	defer rows.Close()

	out := make([]*models.DeliveryRecord, 0)
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan delivery")
		}
		out = append(out, d)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) GetDelivery(ctx context.Context, id uint64) (*models.DeliveryRecord, error) {
	d, err := scanDelivery(s.db.QueryRow(ctx, `SELECT`+deliveryColumns+` FROM deliveries WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select delivery")
	}
	return d, nil
}

// UpsertDelivery inserts a pending record keyed by (courier_name, tracking_number).
// An existing record is returned as is; xmax = 0 tells a fresh insert from a conflict.
func (s *Storage) UpsertDelivery(ctx context.Context, in models.DeliveryInput) (*models.DeliveryRecord, bool, error) {
	now := time.Now().UTC()

	var id uint64
	var created bool
	err := s.db.QueryRow(ctx, `
INSERT INTO deliveries (
  account_id, receiver_name, courier_name, tracking_number, product_name,
  collected_at, status, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)
ON CONFLICT (courier_name, tracking_number)
DO UPDATE SET updated_at = deliveries.updated_at
RETURNING id, (xmax = 0)
`, in.AccountID, in.ReceiverName, in.CourierName, in.TrackingNumber, in.ProductName,
		in.CollectedAt.UTC(), string(models.DeliveryStatusPending), now).Scan(&id, &created)
	if err != nil {
		return nil, false, errors.Wrap(err, "upsert delivery")
	}

	d, err := s.GetDelivery(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return d, created, nil
}

// UpdateDeliveryStatus moves a delivery to a new status. Failing a matched delivery releases
// its order claim in the same transaction so another delivery can take the order.
func (s *Storage) UpdateDeliveryStatus(ctx context.Context, upd models.DeliveryStatusUpdate) (*models.DeliveryRecord, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		current string
		orderID *int64
	)
	err = tx.QueryRow(ctx, `SELECT status, matched_order_id FROM deliveries WHERE id = $1 FOR UPDATE`, upd.DeliveryID).
		Scan(&current, &orderID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "lock delivery")
	}

	from := models.DeliveryStatus(current)
	if upd.Status == models.DeliveryStatusMatched && from != models.DeliveryStatusMatched {
		return nil, storage.ErrInvalidTransition
	}
	if !models.CanTransition(from, upd.Status) {
		return nil, storage.ErrInvalidTransition
	}

	if upd.Status == models.DeliveryStatusFailed && orderID != nil {
		_, err = tx.Exec(ctx, `
UPDATE pending_orders SET claimed_by_delivery_id = NULL, updated_at = now()
WHERE id = $1 AND claimed_by_delivery_id = $2
`, *orderID, upd.DeliveryID)
		if err != nil {
			return nil, errors.Wrap(err, "release pending order")
		}
		_, err = tx.Exec(ctx, `
UPDATE deliveries SET status = $2, error_message = $3, matched_order_id = NULL, match_confidence = NULL, updated_at = now()
WHERE id = $1
`, upd.DeliveryID, string(upd.Status), upd.ErrorMessage)
	} else {
		_, err = tx.Exec(ctx, `
UPDATE deliveries SET status = $2, error_message = $3, updated_at = now()
WHERE id = $1
`, upd.DeliveryID, string(upd.Status), upd.ErrorMessage)
	}
	if err != nil {
		return nil, errors.Wrap(err, "update delivery status")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return s.GetDelivery(ctx, upd.DeliveryID)
}

// ApplyMatch locks the delivery and the order, then flips both in one transaction.
func (s *Storage) ApplyMatch(ctx context.Context, deliveryID, orderID uint64, confidence int) (*models.DeliveryRecord, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var status string
	err = tx.QueryRow(ctx, `SELECT status FROM deliveries WHERE id = $1 FOR UPDATE`, deliveryID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "lock delivery")
	}

	var uploaded bool
	var claimedBy *int64
	err = tx.QueryRow(ctx, `
SELECT is_invoice_uploaded, claimed_by_delivery_id FROM pending_orders WHERE id = $1 FOR UPDATE
`, orderID).Scan(&uploaded, &claimedBy)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "lock pending order")
	}

	if models.DeliveryStatus(status) != models.DeliveryStatusPending {
		return nil, storage.ErrInvalidTransition
	}
	if uploaded {
		return nil, storage.ErrOrderAlreadyUploaded
	}
	if claimedBy != nil && uint64(*claimedBy) != deliveryID {
		return nil, storage.ErrOrderAlreadyClaimed
	}

	_, err = tx.Exec(ctx, `
UPDATE deliveries
SET status = $2, matched_order_id = $3, match_confidence = $4, error_message = NULL, updated_at = now()
WHERE id = $1
`, deliveryID, string(models.DeliveryStatusMatched), orderID, confidence)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, storage.ErrOrderAlreadyClaimed
		}
		return nil, errors.Wrap(err, "update delivery match")
	}
	_, err = tx.Exec(ctx, `UPDATE pending_orders SET claimed_by_delivery_id = $2, updated_at = now() WHERE id = $1`, orderID, deliveryID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, storage.ErrOrderAlreadyClaimed
		}
		return nil, errors.Wrap(err, "claim pending order")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return s.GetDelivery(ctx, deliveryID)
}

func (s *Storage) CountDeliveriesByStatus(ctx context.Context, accountID string) (map[models.DeliveryStatus]int, error) {
	rows, err := s.db.Query(ctx, `
SELECT status, count(*) FROM deliveries
WHERE ($1 = '' OR account_id = $1)
GROUP BY status
`, accountID)
	if err != nil {
		return nil, errors.Wrap(err, "count deliveries")
	}
	defer rows.Close()

	out := make(map[models.DeliveryStatus]int, 4)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.Wrap(err, "scan count")
		}
		out[models.DeliveryStatus(status)] = int(n)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ storage.Store = (*Storage)(nil)
