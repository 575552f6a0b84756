package models

import "time"

type DeliveryStatus string

// Статусы записи о доставке.
const (
	DeliveryStatusPending  DeliveryStatus = "pending"
	DeliveryStatusMatched  DeliveryStatus = "matched"
	DeliveryStatusUploaded DeliveryStatus = "uploaded"
	DeliveryStatusFailed   DeliveryStatus = "failed"
)

func ParseDeliveryStatus(s string) (DeliveryStatus, bool) {
	switch st := DeliveryStatus(s); st {
	case DeliveryStatusPending, DeliveryStatusMatched, DeliveryStatusUploaded, DeliveryStatusFailed:
		return st, true
	}
	return "", false
}

// CanTransition reports whether a delivery may move from one status to another.
// Rewriting the same status is allowed for everything except uploaded; it is how a
// transient upload error gets recorded on a matched record.
func CanTransition(from, to DeliveryStatus) bool {
	if from == DeliveryStatusUploaded {
		return false
	}
	if from == to {
		return true
	}
	switch to {
	case DeliveryStatusFailed:
		return true
	case DeliveryStatusMatched:
		return from == DeliveryStatusPending
	case DeliveryStatusUploaded:
		return from == DeliveryStatusMatched
	}
	return false
}

type DeliveryRecord struct {
	ID              uint64         `json:"id"`
	AccountID       string         `json:"account_id"`
	ReceiverName    string         `json:"receiver_name"`
	CourierName     string         `json:"courier_name"`
	TrackingNumber  string         `json:"tracking_number"`
	ProductName     string         `json:"product_name,omitempty"`
	CollectedAt     time.Time      `json:"collected_at"`
	Status          DeliveryStatus `json:"status"`
	MatchedOrderID  *uint64        `json:"matched_order_id,omitempty"`
	MatchConfidence *int           `json:"match_confidence,omitempty"`
	ErrorMessage    *string        `json:"error_message,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

type DeliveryInput struct {
	AccountID      string
	ReceiverName   string
	CourierName    string
	TrackingNumber string
	ProductName    string
	CollectedAt    time.Time
}

type DeliveryFilter struct {
	AccountID string
	Status    DeliveryStatus
}

type DeliveryStatusUpdate struct {
	DeliveryID   uint64
	Status       DeliveryStatus
	ErrorMessage *string
}
