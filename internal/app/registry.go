package app

import (
	"maps"
	"slices"

	"github.com/dkeye/syncroom/internal/domain"
)

// Registry maps room names to their persisted identity.
// It is not safe for concurrent use; RoomManager guards it.
type Registry struct {
	rooms map[domain.RoomName]*domain.Room
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[domain.RoomName]*domain.Room)}
}

// Ensure creates an entry without a password and reports whether it was new.
func (r *Registry) Ensure(name domain.RoomName) bool {
	if _, ok := r.rooms[name]; ok {
		return false
	}
	r.rooms[name] = &domain.Room{Name: name}
	return true
}

func (r *Registry) Get(name domain.RoomName) (domain.Room, bool) {
	room, ok := r.rooms[name]
	if !ok {
		return domain.Room{}, false
	}
	return *room, true
}

func (r *Registry) SetPassword(name domain.RoomName, salt, hash []byte) {
	r.Ensure(name)
	room := r.rooms[name]
	room.HasPassword = true
	room.Salt = salt
	room.PasswordHash = hash
}

func (r *Registry) ClearPassword(name domain.RoomName) {
	r.Ensure(name)
	room := r.rooms[name]
	room.HasPassword = false
	room.Salt = nil
	room.PasswordHash = nil
}

func (r *Registry) Remove(name domain.RoomName) bool {
	if _, ok := r.rooms[name]; !ok {
		return false
	}
	delete(r.rooms, name)
	return true
}

func (r *Registry) Len() int { return len(r.rooms) }

// Names returns every room name in ascending order.
func (r *Registry) Names() []domain.RoomName {
	return slices.Sorted(maps.Keys(r.rooms))
}

// Snapshot copies the registry for persistence.
func (r *Registry) Snapshot() map[domain.RoomName]domain.Room {
	out := make(map[domain.RoomName]domain.Room, len(r.rooms))
	for name, room := range r.rooms {
		out[name] = *room
	}
	return out
}

// Restore replaces the registry with rooms, normalising entries whose
// password fields disagree with HasPassword.
func (r *Registry) Restore(rooms map[domain.RoomName]domain.Room) {
	r.rooms = make(map[domain.RoomName]*domain.Room, len(rooms))
	for name, room := range rooms {
		if name == "" {
			continue
		}
		room.Name = name
		if !room.HasPassword || len(room.Salt) == 0 || len(room.PasswordHash) == 0 {
			room.HasPassword = false
			room.Salt = nil
			room.PasswordHash = nil
		}
		r.rooms[name] = &room
	}
}
