package core

import "github.com/dkeye/syncroom/internal/domain"

// RegistryStore persists the room registry as a whole.
// Save always receives the full registry; there is no incremental write.
type RegistryStore interface {
	Load() (map[domain.RoomName]domain.Room, error)
	Save(rooms map[domain.RoomName]domain.Room) error
}
