package models

import "time"

type SyncMode string

const (
	SyncModeCollectAndMatch       SyncMode = "collect_and_match"
	SyncModeCollectMatchAndUpload SyncMode = "collect_match_and_upload"
)

func (m SyncMode) Valid() bool {
	return m == SyncModeCollectAndMatch || m == SyncModeCollectMatchAndUpload
}

type SyncState string

const (
	SyncStateIdle       SyncState = "idle"
	SyncStateCollecting SyncState = "collecting"
	SyncStateMatching   SyncState = "matching"
	SyncStateUploading  SyncState = "uploading"
	SyncStateComplete   SyncState = "complete"
	SyncStateError      SyncState = "error"
	SyncStateStopped    SyncState = "stopped"
)

func (s SyncState) Terminal() bool {
	return s == SyncStateComplete || s == SyncStateError || s == SyncStateStopped
}

type SyncEventType string

const (
	SyncEventStatus   SyncEventType = "status"
	SyncEventDelivery SyncEventType = "delivery"
	SyncEventMatched  SyncEventType = "matched"
	SyncEventUploaded SyncEventType = "uploaded"
	SyncEventError    SyncEventType = "error"
	SyncEventComplete SyncEventType = "complete"
)

type SyncEvent struct {
	Seq       int           `json:"seq"`
	Type      SyncEventType `json:"type"`
	Data      any           `json:"data"`
	Timestamp time.Time     `json:"timestamp"`
}

type SyncCounters struct {
	Collected int `json:"collected"`
	Matched   int `json:"matched"`
	Uploaded  int `json:"uploaded"`
	Failed    int `json:"failed"`
}

// MatchResult is the ephemeral outcome of one matcher call. OrderID is nil on no-match.
type MatchResult struct {
	DeliveryID uint64  `json:"delivery_id"`
	OrderID    *uint64 `json:"order_id,omitempty"`
	Confidence int     `json:"confidence"`
	Reason     string  `json:"reason"`
}

func (r MatchResult) Matched() bool { return r.OrderID != nil }

type DeliveryStats struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Matched  int `json:"matched"`
	Uploaded int `json:"uploaded"`
	Failed   int `json:"failed"`
}
