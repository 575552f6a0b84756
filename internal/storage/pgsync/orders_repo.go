package pgsync

import (
	"context"
	"time"

	"github.com/BearBump/TrackSync/internal/models"
	"github.com/BearBump/TrackSync/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const orderColumns = `
  id, account_id, order_id, shipment_box_id, vendor_item_id,
  receiver_name, product_name, ordered_at, is_invoice_uploaded, claimed_by_delivery_id,
  created_at, updated_at`

func scanOrder(row pgx.Row) (*models.PendingOrder, error) {
	var o models.PendingOrder
	var claimedBy *int64
	if err := row.Scan(
		&o.ID, &o.AccountID, &o.OrderID, &o.ShipmentBoxID, &o.VendorItemID,
		&o.ReceiverName, &o.ProductName, &o.OrderedAt, &o.IsInvoiceUploaded, &claimedBy,
		&o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if claimedBy != nil {
		v := uint64(*claimedBy)
		o.ClaimedByDeliveryID = &v
	}
	return &o, nil
}

func (s *Storage) ListPendingOrders(ctx context.Context, accountID string, onlyUnuploaded bool) ([]*models.PendingOrder, error) {
	rows, err := s.db.Query(ctx, `SELECT`+orderColumns+`
FROM pending_orders
WHERE account_id = $1
  AND (NOT $2 OR is_invoice_uploaded = FALSE)
ORDER BY ordered_at ASC, id ASC
`, accountID, onlyUnuploaded)
	if err != nil {
		return nil, errors.Wrap(err, "select pending orders")
	}
	defer rows.Close()

	out := make([]*models.PendingOrder, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan pending order")
		}
		out = append(out, o)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) GetPendingOrder(ctx context.Context, id uint64) (*models.PendingOrder, error) {
	o, err := scanOrder(s.db.QueryRow(ctx, `SELECT`+orderColumns+` FROM pending_orders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select pending order")
	}
	return o, nil
}

// UpsertPendingOrders refreshes the marketplace-owned fields only; the upload flag and the
// claim survive re-fetching.
func (s *Storage) UpsertPendingOrders(ctx context.Context, accountID string, in []models.PendingOrderInput) ([]*models.PendingOrder, error) {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	out := make([]*models.PendingOrder, 0, len(in))
	for _, it := range in {
		o, err := scanOrder(tx.QueryRow(ctx, `
INSERT INTO pending_orders (
  account_id, order_id, shipment_box_id, vendor_item_id,
  receiver_name, product_name, ordered_at, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)
ON CONFLICT (account_id, shipment_box_id, vendor_item_id)
DO UPDATE SET
  order_id = EXCLUDED.order_id,
  receiver_name = EXCLUDED.receiver_name,
  product_name = EXCLUDED.product_name,
  ordered_at = EXCLUDED.ordered_at,
  updated_at = EXCLUDED.updated_at
RETURNING`+orderColumns,
			accountID, it.OrderID, it.ShipmentBoxID, it.VendorItemID,
			it.ReceiverName, it.ProductName, it.OrderedAt.UTC(), now))
		if err != nil {
			return nil, errors.Wrap(err, "upsert pending order")
		}
		out = append(out, o)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return out, nil
}

func (s *Storage) MarkOrderUploaded(ctx context.Context, orderID uint64) error {
	tag, err := s.db.Exec(ctx, `UPDATE pending_orders SET is_invoice_uploaded = TRUE, updated_at = now() WHERE id = $1`, orderID)
	if err != nil {
		return errors.Wrap(err, "mark order uploaded")
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}
