package core

import (
	"github.com/dkeye/syncroom/internal/domain"
)

// PublishResult reports delivery stats/backpressure to the caller.
type PublishResult struct {
	SendTo  int
	Dropped []SignalConnection
}

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	DeviceID string `json:"deviceId"`
	UserID   *int64 `json:"userId"`
	Username string `json:"username"`
}

// RoomOverview is one row of the presence/status snapshot.
type RoomOverview struct {
	Name        domain.RoomName  `json:"name"`
	MemberCount int              `json:"memberCount"`
	HasPassword bool             `json:"hasPassword"`
	Members     []MemberDTO      `json:"members"`
	LastSync    *domain.LastSync `json:"lastSync"`
}
