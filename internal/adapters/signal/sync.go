package signal

import (
	"encoding/json"

	"github.com/dkeye/syncroom/internal/domain"
	"github.com/rs/zerolog/log"
)

var nullPayload = json.RawMessage("null")

// handleSongSync stores the sync as the room's last state and broadcasts it
// to every member, sender included. The message room wins over the joined
// room; syncs from connections that never joined are dropped.
func (ctl *SignalWSController) handleSongSync(conn *WsSignalConn, p songSyncInMsg) {
	joined, _, ok := ctl.Rooms.Lookup(conn.id)
	if !ok {
		log.Debug().Str("module", "signal").Str("sid", string(conn.id)).Msg("song_sync before join dropped")
		return
	}
	name := domain.NewRoomName(p.Room)
	if name == "" {
		name = joined
	}

	syncID := ctl.Rooms.Now().UnixMilli()
	if p.SyncID != nil {
		syncID = *p.SyncID
	}
	payload := p.Payload
	if len(payload) == 0 {
		payload = nullPayload
	}

	frame := encode(songSyncOutMsg{
		Type:    TypeSongSync,
		Room:    string(name),
		SyncID:  syncID,
		Payload: payload,
	})
	res, err := ctl.Rooms.PublishSync(conn.id, name, domain.LastSync{SyncID: syncID, Payload: payload}, frame)
	if err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("sid", string(conn.id)).Str("room", string(name)).Msg("song_sync dropped")
		return
	}
	log.Debug().Str("module", "signal").Str("room", string(name)).Int64("sync_id", syncID).Int("sent_to", res.SendTo).Msg("song_sync")
	ctl.applyPolicy(name, res)
}
