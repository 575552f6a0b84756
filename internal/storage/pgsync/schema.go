package pgsync

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS pending_orders (
  id BIGSERIAL PRIMARY KEY,
  account_id TEXT NOT NULL,
  order_id TEXT NOT NULL,
  shipment_box_id TEXT NOT NULL,
  vendor_item_id TEXT NOT NULL,
  receiver_name TEXT NOT NULL DEFAULT '',
  product_name TEXT NOT NULL DEFAULT '',
  ordered_at TIMESTAMPTZ NOT NULL,
  is_invoice_uploaded BOOLEAN NOT NULL DEFAULT FALSE,
  claimed_by_delivery_id BIGINT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  UNIQUE (account_id, shipment_box_id, vendor_item_id)
)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_orders_account ON pending_orders(account_id, ordered_at)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_pending_orders_claim ON pending_orders(claimed_by_delivery_id) WHERE claimed_by_delivery_id IS NOT NULL`,
		`
CREATE TABLE IF NOT EXISTS deliveries (
  id BIGSERIAL PRIMARY KEY,
  account_id TEXT NOT NULL,
  receiver_name TEXT NOT NULL DEFAULT '',
  courier_name TEXT NOT NULL,
  tracking_number TEXT NOT NULL,
  product_name TEXT NOT NULL DEFAULT '',
  collected_at TIMESTAMPTZ NOT NULL,
  status TEXT NOT NULL,
  matched_order_id BIGINT NULL REFERENCES pending_orders(id),
  match_confidence INT NULL,
  error_message TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  UNIQUE (courier_name, tracking_number)
)`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_account_status ON deliveries(account_id, status)`,
		// Одна заявка может быть привязана только к одной доставке.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_deliveries_matched_order ON deliveries(matched_order_id) WHERE matched_order_id IS NOT NULL`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
