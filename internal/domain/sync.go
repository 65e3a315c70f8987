// Package domain contains entity without logic, just meta-data
package domain

import "encoding/json"

// LastSync is the most recent "current song" state of a room.
// Payload is opaque and replayed verbatim.
type LastSync struct {
	SyncID         int64           `json:"syncId"`
	Payload        json.RawMessage `json:"payload"`
	SenderUserID   *int64          `json:"senderUserId"`
	SenderUsername string          `json:"senderUsername,omitempty"`
}
