package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/avdeev/cobrowse/internal/app"
	"github.com/avdeev/cobrowse/internal/domain"
	"github.com/avdeev/cobrowse/internal/hub"
	"github.com/avdeev/cobrowse/internal/upstream"
)

type sessionResponse struct {
	SessionUUID string             `json:"session_uuid"`
	EmbedURL    string             `json:"embed_url"`
	CreatedAt   string             `json:"created_at"`
	Metadata    domain.SessionMeta `json:"metadata"`
}

func toSessionResponse(sess *domain.Session) sessionResponse {
	return sessionResponse{
		SessionUUID: sess.UUID,
		EmbedURL:    sess.EmbedURL,
		CreatedAt:   sess.CreatedAt.Format(time.RFC3339Nano),
		Metadata:    sess.Meta,
	}
}

func detail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"detail": msg})
}

func (api *API) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "cobrowse-proxy",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (api *API) createSession(c *gin.Context) {
	var req app.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusBadRequest, "Invalid payload")
		return
	}

	sess, err := api.Sessions.Create(c.Request.Context(), c.GetString("api_key"), req)
	if err != nil {
		var capErr domain.CapacityError
		var statusErr *upstream.StatusError
		switch {
		case errors.As(err, &capErr):
			detail(c, http.StatusTooManyRequests, fmt.Sprintf("Max active sessions reached (%d)", capErr.Limit))
		case errors.As(err, &statusErr):
			detail(c, statusErr.Code, "Hyperbeam error: "+statusErr.Body)
		case errors.Is(err, domain.ErrUpstream):
			detail(c, http.StatusServiceUnavailable, "Service temporarily unavailable")
		default:
			log.Error().Str("module", "transport.http").Err(err).Msg("create session")
			detail(c, http.StatusInternalServerError, "Internal error")
		}
		return
	}
	c.JSON(http.StatusOK, toSessionResponse(sess))
}

func (api *API) getSession(c *gin.Context) {
	sess, err := api.Sessions.Get(c.Request.Context(), c.Param("uuid"))
	switch {
	case errors.Is(err, domain.ErrNotFound):
		detail(c, http.StatusNotFound, "Session not found")
	case errors.Is(err, domain.ErrGone):
		detail(c, http.StatusGone, "Session inactive")
	case err != nil:
		log.Error().Str("module", "transport.http").Err(err).Msg("get session")
		detail(c, http.StatusInternalServerError, "Internal error")
	default:
		c.JSON(http.StatusOK, toSessionResponse(sess))
	}
}

func (api *API) deleteSession(c *gin.Context) {
	uuid := c.Param("uuid")
	outcome, err := api.Sessions.Terminate(c.Request.Context(), c.GetString("api_key"), uuid)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		detail(c, http.StatusNotFound, "Session not found")
	case errors.Is(err, domain.ErrNotFoundActive):
		detail(c, http.StatusGone, "Session already inactive")
	case err != nil:
		log.Error().Str("module", "transport.http").Err(err).Msg("delete session")
		detail(c, http.StatusInternalServerError, "Internal error")
	default:
		msg := "Session terminated successfully"
		if outcome.RemoteStatus != http.StatusOK && outcome.RemoteStatus != http.StatusNoContent {
			msg = "Marked session inactive locally (remote terminate may have failed)"
		}
		c.JSON(http.StatusOK, gin.H{"message": msg, "session_uuid": uuid})
	}
}

type createRoomRequest struct {
	SessionUUID string `json:"session_uuid" binding:"required"`
	Label       string `json:"label"`
}

func (api *API) createRoom(c *gin.Context) {
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusBadRequest, "Invalid payload")
		return
	}

	room, err := api.Rooms.Create(c.Request.Context(), req.SessionUUID, req.Label)
	switch {
	case errors.Is(err, domain.ErrNotFoundActive):
		detail(c, http.StatusNotFound, "Active session not found")
	case errors.Is(err, domain.ErrCodeExhausted):
		detail(c, http.StatusInternalServerError, "Failed to generate room code")
	case err != nil:
		log.Error().Str("module", "transport.http").Err(err).Msg("create room")
		detail(c, http.StatusInternalServerError, "Internal error")
	default:
		c.JSON(http.StatusOK, gin.H{
			"code":         room.Code,
			"session_uuid": room.SessionUUID,
			"label":        room.Label,
			"created_at":   room.CreatedAt.Format(time.RFC3339Nano),
		})
	}
}

func (api *API) getRoomSession(c *gin.Context) {
	sess, err := api.Rooms.Resolve(c.Request.Context(), c.Param("code"))
	switch {
	case errors.Is(err, domain.ErrNotFound):
		detail(c, http.StatusNotFound, "Room not found")
	case errors.Is(err, domain.ErrGone):
		detail(c, http.StatusGone, "Session inactive")
	case err != nil:
		log.Error().Str("module", "transport.http").Err(err).Msg("resolve room")
		detail(c, http.StatusInternalServerError, "Internal error")
	default:
		c.JSON(http.StatusOK, toSessionResponse(sess))
	}
}

type postEventRequest struct {
	Type string           `json:"type" binding:"required"`
	Text string           `json:"text"`
	Head string           `json:"head"`
	User *domain.Identity `json:"user"`
}

func (api *API) postRoomEvent(c *gin.Context) {
	var req postEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusBadRequest, "Invalid payload")
		return
	}

	ev := api.Hub.PostEvent(c.Param("code"), hub.Event{
		Type: req.Type,
		Text: req.Text,
		Head: req.Head,
		User: req.User,
	})
	c.JSON(http.StatusOK, gin.H{"ok": true, "id": ev.ID})
}

func (api *API) getRoomEvents(c *gin.Context) {
	since, _ := strconv.ParseInt(c.DefaultQuery("since", "0"), 10, 64)
	events, lastID := api.Hub.FetchEvents(c.Param("code"), since)
	c.JSON(http.StatusOK, gin.H{"events": events, "last_id": lastID})
}
