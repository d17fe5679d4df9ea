// Package http wires the REST surface and the room websocket endpoint.
package http

import (
	"context"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/avdeev/cobrowse/internal/app"
	"github.com/avdeev/cobrowse/internal/config"
	"github.com/avdeev/cobrowse/internal/hub"
	"github.com/avdeev/cobrowse/internal/transport/ws"
)

type API struct {
	Cfg      *config.Config
	Sessions *app.Sessions
	Janitor  *app.Janitor
	Rooms    *app.Rooms
	Hub      *hub.Hub
	WS       *ws.Controller
}

func SetupRouter(ctx context.Context, cfg *config.Config, api *API) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(corsMiddleware(cfg))

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("CobrowseSessions", store))
	r.Use(ClientTokenMiddleware())

	log.Info().Str("module", "transport.http").Msg("router setup")

	hb := r.Group("/api/hb")
	hb.GET("/health", api.health)

	hb.POST("/sessions", RequireBearer(), api.createSession)
	hb.GET("/sessions/:uuid", api.getSession)
	hb.DELETE("/sessions/:uuid", RequireBearer(), api.deleteSession)

	hb.POST("/rooms", api.createRoom)
	hb.GET("/rooms/:code", api.getRoomSession)
	hb.POST("/rooms/:code/events", api.postRoomEvent)
	hb.GET("/rooms/:code/events", api.getRoomEvents)

	admin := hb.Group("/admin", RequireAdmin(cfg))
	admin.GET("/active", api.adminActive)
	admin.POST("/cleanup", api.adminCleanup)
	admin.DELETE("/sessions/:uuid", api.adminTerminate)

	hb.GET("/ws/room/:code", func(c *gin.Context) {
		api.WS.HandleRoom(ctx, c)
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	conf := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Admin-Token"},
		AllowCredentials: true,
	}
	wildcard := len(cfg.AllowedOrigins) == 0
	for _, o := range cfg.AllowedOrigins {
		if o == "*" {
			wildcard = true
		}
	}
	if wildcard {
		conf.AllowAllOrigins = true
		conf.AllowCredentials = false
	} else {
		conf.AllowOrigins = cfg.AllowedOrigins
	}
	return cors.New(conf)
}
