package domain

import "strings"

type RoomName string

// NewRoomName trims surrounding whitespace. The rest of the name is kept
// byte for byte; the result may be empty and callers decide how to reject it.
func NewRoomName(raw string) RoomName {
	return RoomName(strings.TrimSpace(raw))
}

// Room is the persisted identity of a room.
// Salt and PasswordHash are both set iff HasPassword.
type Room struct {
	Name         RoomName
	HasPassword  bool
	Salt         []byte
	PasswordHash []byte
}
