package http

import (
	"errors"
	"net/http"

	"github.com/dkeye/syncroom/internal/adapters/signal"
	"github.com/dkeye/syncroom/internal/app"
	"github.com/dkeye/syncroom/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const warnPersistFailed = "persist_failed"

// adminHandler is a thin adapter from HTTP onto the room manager.
type adminHandler struct {
	rooms *app.RoomManager
}

func roomRequired(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": signal.ReasonRoomRequired})
}

// respond writes body, flagging a persistence failure as a warning.
// Any other error is a server error.
func respond(c *gin.Context, body gin.H, err error) {
	switch {
	case err == nil:
	case errors.Is(err, app.ErrPersist):
		body["warning"] = warnPersistFailed
	default:
		log.Error().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("admin request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "internal"})
		return
	}
	c.JSON(http.StatusOK, body)
}

// POST /api/rooms: create a room, setting or clearing its password.
func (h *adminHandler) createRoom(c *gin.Context) {
	var req struct {
		Name     string `json:"name"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "bad_payload"})
		return
	}
	name := domain.NewRoomName(req.Name)
	if name == "" {
		roomRequired(c)
		return
	}

	hasPassword, err := h.rooms.SetPassword(name, req.Password)
	respond(c, gin.H{
		"success":     true,
		"room":        name,
		"hasPassword": hasPassword,
	}, err)
}

// DELETE /api/rooms/:name: delete a room and disconnect its members.
func (h *adminHandler) deleteRoom(c *gin.Context) {
	name := domain.NewRoomName(c.Param("name"))
	if name == "" {
		roomRequired(c)
		return
	}
	respond(c, gin.H{"success": true}, h.rooms.DeleteRoom(name))
}

// POST /api/rooms/:name/verify: check a password without joining.
func (h *adminHandler) verifyPassword(c *gin.Context) {
	name := domain.NewRoomName(c.Param("name"))
	if name == "" {
		roomRequired(c)
		return
	}
	var req struct {
		Password string `json:"password"`
	}
	// An empty or missing body is an empty password.
	_ = c.ShouldBindJSON(&req)
	c.JSON(http.StatusOK, gin.H{"success": h.rooms.VerifyPassword(name, req.Password)})
}

// GET /api/status
func (h *adminHandler) status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"roomCount":    h.rooms.RoomCount(),
		"totalClients": h.rooms.TotalConnections(),
		"rooms":        h.rooms.RoomsOverview(),
	})
}

// GET /health
func (h *adminHandler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ok":           true,
		"rooms":        h.rooms.RoomsOverview(),
		"totalClients": h.rooms.TotalConnections(),
	})
}
