package domain

// Identity holds the opaque hints a caller supplies when joining.
// Nothing here is verified by the server.
type Identity struct {
	DeviceID string `json:"deviceId,omitempty"`
	UserID   *int64 `json:"userId,omitempty"`
	Username string `json:"username,omitempty"`
}
