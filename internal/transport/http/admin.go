package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/avdeev/cobrowse/internal/app"
	"github.com/avdeev/cobrowse/internal/domain"
)

func (api *API) adminActive(c *gin.Context) {
	active, err := api.Janitor.ListActive(c.Request.Context())
	if err != nil {
		log.Error().Str("module", "transport.http").Err(err).Msg("admin list active")
		detail(c, http.StatusInternalServerError, "Internal error")
		return
	}
	if active == nil {
		active = []app.ActiveSession{}
	}
	c.JSON(http.StatusOK, active)
}

type cleanupRequest struct {
	IdleMinutes *int `json:"idle_minutes"`
	MaxActive   *int `json:"max_active"`
	DryRun      bool `json:"dry_run"`
}

func (api *API) adminCleanup(c *gin.Context) {
	var req cleanupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusBadRequest, "Invalid payload")
		return
	}

	params := app.CleanupParams{
		IdleMinutes: api.Cfg.DefaultIdleMinutes,
		MaxActive:   req.MaxActive,
		DryRun:      req.DryRun,
	}
	if req.IdleMinutes != nil {
		params.IdleMinutes = *req.IdleMinutes
	}

	report, err := api.Janitor.Cleanup(c.Request.Context(), params)
	if err != nil {
		log.Error().Str("module", "transport.http").Err(err).Msg("admin cleanup")
		detail(c, http.StatusInternalServerError, "Internal error")
		return
	}
	c.JSON(http.StatusOK, report)
}

func (api *API) adminTerminate(c *gin.Context) {
	uuid := c.Param("uuid")
	outcome, err := api.Janitor.TerminateOne(c.Request.Context(), uuid)
	switch {
	case errors.Is(err, domain.ErrNotFoundActive):
		detail(c, http.StatusNotFound, "Active session not found")
	case err != nil:
		log.Error().Str("module", "transport.http").Err(err).Msg("admin terminate")
		detail(c, http.StatusInternalServerError, "Internal error")
	default:
		c.JSON(http.StatusOK, gin.H{
			"message":       "Session terminated successfully",
			"session_uuid":  outcome.SessionUUID,
			"remote_status": outcome.RemoteStatus,
		})
	}
}
