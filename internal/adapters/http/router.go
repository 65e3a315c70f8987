package http

import (
	"context"
	"net/http"
	"time"

	"github.com/dkeye/syncroom/internal/adapters/signal"
	"github.com/dkeye/syncroom/internal/app"
	"github.com/dkeye/syncroom/internal/config"
	"github.com/dkeye/syncroom/internal/metrics"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type Dependencies struct {
	Rooms   *app.RoomManager
	Signal  *signal.SignalWSController
	Metrics *metrics.Metrics
}

// DeviceSessionMiddleware keeps a stable device id in a signed session cookie.
func DeviceSessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		id, _ := session.Get(signal.DeviceIDKey).(string)
		if id == "" {
			id = uuid.NewString()
			session.Set(signal.DeviceIDKey, id)
			if err := session.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save device session")
			}
		}
		c.Set(signal.DeviceIDKey, id)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, deps Dependencies) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CORS.Origins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("SyncroomSessions", store))
	r.Use(DeviceSessionMiddleware())

	admin := &adminHandler{rooms: deps.Rooms}

	r.GET("/health", admin.health)
	r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))

	api := r.Group("/api")
	api.POST("/rooms", admin.createRoom)
	api.DELETE("/rooms/:name", admin.deleteRoom)
	api.POST("/rooms/:name/verify", admin.verifyPassword)
	api.GET("/status", admin.status)

	r.GET("/ws", func(c *gin.Context) {
		deps.Signal.HandleSignal(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}
