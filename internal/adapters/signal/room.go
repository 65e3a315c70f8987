package signal

import (
	"strings"

	"github.com/dkeye/syncroom/internal/app"
	"github.com/dkeye/syncroom/internal/core"
	"github.com/dkeye/syncroom/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) denyJoin(conn *WsSignalConn, room, reason string) {
	ctl.Metrics.JoinDenied(reason)
	ctl.sendJSON(conn, joinDeniedMsg{
		Type:   TypeJoinDenied,
		Room:   room,
		Reason: reason,
	})
}

// handleJoin verifies the password and moves the connection into the room.
// A denied join leaves any previous membership untouched.
func (ctl *SignalWSController) handleJoin(conn *WsSignalConn, p joinRoomMsg) {
	name := domain.NewRoomName(p.Room)
	if name == "" {
		ctl.denyJoin(conn, strings.TrimSpace(p.Room), ReasonRoomRequired)
		return
	}
	if !ctl.joins.Allow(conn.id) {
		log.Warn().Str("module", "signal").Str("sid", string(conn.id)).Str("room", string(name)).Msg("join rate limited")
		return
	}
	if !ctl.Rooms.VerifyPassword(name, p.Password) {
		log.Info().Str("module", "signal").Str("sid", string(conn.id)).Str("room", string(name)).Msg("join denied: wrong password")
		ctl.denyJoin(conn, string(name), ReasonWrongPassword)
		return
	}

	identity := domain.Identity{
		DeviceID: p.DeviceID,
		UserID:   p.UserID,
		Username: p.Username,
	}
	if identity.DeviceID == "" {
		identity.DeviceID = conn.device
	}

	var current, previous core.PublishResult
	res, err := ctl.Rooms.Attach(name, conn, identity, func(r app.AttachResult) {
		ctl.sendJSON(conn, joinAcceptedMsg{
			Type:      TypeJoinAccepted,
			Room:      string(r.Room),
			UserCount: r.Count,
		})
		current = app.Fanout(r.Members, encode(updateCountMsg{
			Type:      TypeUpdateCount,
			Room:      string(r.Room),
			UserCount: r.Count,
		}))
		if r.Previous != "" {
			previous = app.Fanout(r.PreviousMembers, encode(updateCountMsg{
				Type:      TypeUpdateCount,
				Room:      string(r.Previous),
				UserCount: r.PreviousCount,
			}))
		}
		if r.LastSync != nil {
			ctl.sendJSON(conn, songSyncOutMsg{
				Type:    TypeSongSync,
				Room:    string(r.Room),
				SyncID:  r.LastSync.SyncID,
				Payload: r.LastSync.Payload,
			})
		}
	})
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(conn.id)).Msg("attach")
		return
	}

	log.Info().Str("module", "signal").Str("sid", string(conn.id)).Str("room", string(name)).Int("count", res.Count).Msg("join")
	ctl.applyPolicy(res.Room, current)
	if res.Previous != "" {
		ctl.applyPolicy(res.Previous, previous)
	}
}
