package signal

import (
	"context"
	"time"

	"github.com/dkeye/syncroom/internal/app"
	"github.com/dkeye/syncroom/internal/core"
	"github.com/dkeye/syncroom/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(c.id)).Msg("writePump ctx done")
			c.Close(websocket.CloseGoingAway, "server_shutdown")
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("sid", string(c.id)).Msg("writePump set deadline")
				c.Terminate()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(c.id)).Msg("writePump write error")
				c.Terminate()
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(c.id)).Msg("readPump closing")
		c.Terminate()
		ctl.onClose(c)
	}()

	if ctl.opts.ReadLimit > 0 {
		c.conn.SetReadLimit(ctl.opts.ReadLimit)
	}
	c.conn.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(c.id)).Msg("readPump read error")
			}
			return
		}
		ctl.handleSignal(c, data)
	}
}

func (ctl *SignalWSController) handleSignal(c *WsSignalConn, data []byte) {
	msg := decodeInbound(data)
	ctl.Metrics.Message(msg.inboundType())

	switch m := msg.(type) {
	case joinRoomMsg:
		ctl.handleJoin(c, m)
	case songSyncInMsg:
		ctl.handleSongSync(c, m)
	case pingMsg:
		ctl.handlePing(c)
	case unknownMsg:
		log.Debug().Str("module", "signal").Str("sid", string(c.id)).Str("type", m.Type).Msg("ignored message")
	}
}

func (ctl *SignalWSController) sendJSON(c core.SignalConnection, v any) {
	if err := c.TrySend(encode(v)); err != nil {
		ctl.Metrics.Dropped(1)
		log.Debug().Err(err).Str("module", "signal").Str("sid", string(c.ID())).Msg("sendJSON dropped")
	}
}

// applyPolicy runs outside the manager lock; kicking a member closes it and
// lets its read loop do the detach.
func (ctl *SignalWSController) applyPolicy(room domain.RoomName, res core.PublishResult) {
	ctl.Metrics.Dropped(len(res.Dropped))
	for _, slow := range res.Dropped {
		switch ctl.Policy.OnBackPressure(room, slow) {
		case app.KickMember:
			log.Warn().Str("module", "signal").Str("sid", string(slow.ID())).Str("room", string(room)).Msg("kicking slow member")
			slow.Close(core.ClosePolicy, core.ReasonSlow)
		case app.NoAction:
		}
	}
}

func (ctl *SignalWSController) onClose(c *WsSignalConn) {
	ctl.conns.Remove(c.id)
	ctl.joins.Forget(c.id)
	ctl.Metrics.ConnClosed()

	var res core.PublishResult
	left := ctl.Rooms.Detach(c.id, func(d app.DetachResult) {
		res = app.Fanout(d.Members, encode(updateCountMsg{
			Type:      TypeUpdateCount,
			Room:      string(d.Room),
			UserCount: d.Count,
		}))
	})
	if left.Detached {
		ctl.applyPolicy(left.Room, res)
	}
}
