package core

// Frame is one encoded protocol message.
type Frame []byte

// Close codes used when the server ends a connection on purpose.
const (
	CloseNormal       = 1000
	ClosePolicy       = 1008
	ReasonRoomDeleted = "room_deleted"
	ReasonSlow        = "slow_consumer"
)

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	ID() SessionID
	// TrySend enqueues f without blocking.
	TrySend(f Frame) error
	// Close ends the connection with a close code and machine-readable reason.
	Close(code int, reason string)
}
