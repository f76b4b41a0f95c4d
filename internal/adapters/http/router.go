// Package http wires the gin router: the websocket signaling endpoint plus
// the read-only health and stats surface.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/openmeet/sfu/internal/adapters/signal"
	"github.com/openmeet/sfu/internal/app"
	"github.com/openmeet/sfu/internal/config"
	"github.com/openmeet/sfu/internal/domain"
)

func SetupRouter(ctx context.Context, cfg *config.Config, orch *app.Orchestrator, ctl *signal.Controller) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	started := time.Now()
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"uptime": time.Since(started).String(),
		})
	})

	api := r.Group("/api")

	api.GET("/ws", func(c *gin.Context) {
		ctl.HandleSignal(ctx, c)
	})

	api.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, orch.Stats())
	})

	api.GET("/rooms/:id/stats", func(c *gin.Context) {
		roomID := domain.RoomID(c.Param("id"))
		if orch.Sessions.RoomPeerCount(roomID) == 0 {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusOK, orch.RoomStats(roomID))
	})

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}
