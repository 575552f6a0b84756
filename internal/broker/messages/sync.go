package messages

import (
	"encoding/json"
	"time"
)

// SyncRequested asks the API instance owning the account to start a sync session.
type SyncRequested struct {
	AccountID   string    `json:"account_id"`
	Mode        string    `json:"mode"`
	RequestedAt time.Time `json:"requested_at"`
	Source      string    `json:"source,omitempty"` // scheduler | manual
}

// SyncEventMessage mirrors one session event onto the sync.events topic.
type SyncEventMessage struct {
	SessionID string          `json:"session_id"`
	AccountID string          `json:"account_id"`
	Seq       int             `json:"seq"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}
