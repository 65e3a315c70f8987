package app

import "github.com/dkeye/syncroom/internal/domain"

// LastSyncCache keeps one "current song" slot per room, never a history.
// It is not safe for concurrent use; RoomManager guards it.
type LastSyncCache struct {
	byRoom map[domain.RoomName]domain.LastSync
}

func NewLastSyncCache() *LastSyncCache {
	return &LastSyncCache{byRoom: make(map[domain.RoomName]domain.LastSync)}
}

func (c *LastSyncCache) Set(name domain.RoomName, s domain.LastSync) { c.byRoom[name] = s }

func (c *LastSyncCache) Get(name domain.RoomName) (domain.LastSync, bool) {
	s, ok := c.byRoom[name]
	return s, ok
}

func (c *LastSyncCache) Delete(name domain.RoomName) { delete(c.byRoom, name) }
