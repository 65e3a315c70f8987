package signal

import (
	"encoding/json"

	"github.com/dkeye/syncroom/internal/core"
	"github.com/rs/zerolog/log"
)

const (
	TypeJoinRoom       = "join_room"
	TypeInitConnection = "init_connection"
	TypeJoinAccepted   = "join_accepted"
	TypeJoinDenied     = "join_denied"
	TypeUpdateCount    = "update_count"
	TypeSongSync       = "song_sync"
	TypePing           = "ping"
	TypePong           = "pong"
	TypeWelcome        = "welcome"

	ReasonRoomRequired  = "ROOM_REQUIRED"
	ReasonWrongPassword = "WRONG_PASSWORD"
)

// inbound is the closed set of messages a client may send.
type inbound interface{ inboundType() string }

type joinRoomMsg struct {
	Room     string `json:"room"`
	Password string `json:"password"`
	DeviceID string `json:"deviceId"`
	UserID   *int64 `json:"userId"`
	Username string `json:"username"`
}

type songSyncInMsg struct {
	Room    string          `json:"room"`
	SyncID  *int64          `json:"syncId"`
	Payload json.RawMessage `json:"payload"`
}

type pingMsg struct{}

// unknownMsg covers anything that is not a well-formed known message.
type unknownMsg struct{ Type string }

func (joinRoomMsg) inboundType() string   { return TypeJoinRoom }
func (songSyncInMsg) inboundType() string { return TypeSongSync }
func (pingMsg) inboundType() string       { return TypePing }
func (unknownMsg) inboundType() string    { return "unknown" }

// decodeInbound never fails; malformed input becomes unknownMsg.
func decodeInbound(data []byte) inbound {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return unknownMsg{}
	}

	switch env.Type {
	case TypeJoinRoom, TypeInitConnection:
		var m joinRoomMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return unknownMsg{Type: env.Type}
		}
		return m
	case TypeSongSync:
		var m songSyncInMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return unknownMsg{Type: env.Type}
		}
		return m
	case TypePing:
		return pingMsg{}
	default:
		return unknownMsg{Type: env.Type}
	}
}

type welcomeMsg struct {
	Type string `json:"type"`
}

type pongMsg struct {
	Type string `json:"type"`
}

type joinAcceptedMsg struct {
	Type      string `json:"type"`
	Room      string `json:"room"`
	UserCount int    `json:"userCount"`
}

type joinDeniedMsg struct {
	Type   string `json:"type"`
	Room   string `json:"room"`
	Reason string `json:"reason"`
}

type updateCountMsg struct {
	Type      string `json:"type"`
	Room      string `json:"room"`
	UserCount int    `json:"userCount"`
}

type songSyncOutMsg struct {
	Type    string          `json:"type"`
	Room    string          `json:"room"`
	SyncID  int64           `json:"syncId"`
	Payload json.RawMessage `json:"payload"`
}

func encode(v any) core.Frame {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("encode frame")
		return nil
	}
	return b
}
