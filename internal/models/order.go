package models

import "time"

// OrderRef addresses one order line on the marketplace.
type OrderRef struct {
	OrderID       string `json:"order_id"`
	ShipmentBoxID string `json:"shipment_box_id"`
	VendorItemID  string `json:"vendor_item_id"`
}

type PendingOrder struct {
	ID                  uint64    `json:"id"`
	AccountID           string    `json:"account_id"`
	OrderID             string    `json:"order_id"`
	ShipmentBoxID       string    `json:"shipment_box_id"`
	VendorItemID        string    `json:"vendor_item_id"`
	ReceiverName        string    `json:"receiver_name"`
	ProductName         string    `json:"product_name,omitempty"`
	OrderedAt           time.Time `json:"ordered_at"`
	IsInvoiceUploaded   bool      `json:"is_invoice_uploaded"`
	ClaimedByDeliveryID *uint64   `json:"claimed_by_delivery_id,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func (o *PendingOrder) Ref() OrderRef {
	return OrderRef{OrderID: o.OrderID, ShipmentBoxID: o.ShipmentBoxID, VendorItemID: o.VendorItemID}
}

type PendingOrderInput struct {
	OrderID       string
	ShipmentBoxID string
	VendorItemID  string
	ReceiverName  string
	ProductName   string
	OrderedAt     time.Time
}
