// Package app holds the services behind the HTTP surface: session
// admission and lifecycle, the cleanup janitor, and the room registry.
package app

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/avdeev/cobrowse/internal/domain"
	"github.com/avdeev/cobrowse/internal/monitoring"
	"github.com/avdeev/cobrowse/internal/store"
	"github.com/avdeev/cobrowse/internal/upstream"
)

// Provisioner is the remote session-provisioning service. The real one
// lives in internal/upstream; tests plug in fakes.
type Provisioner interface {
	Create(ctx context.Context, apiKey string, spec upstream.CreateSpec) (upstream.Provisioned, error)
	Delete(ctx context.Context, apiKey, id string) (int, error)
}

// Defaults recovered from the engine payload the service has always sent.
const (
	DefaultStartURL        = "https://www.google.com"
	DefaultWidth           = 1280
	DefaultHeight          = 720
	DefaultTimeoutAbsolute = 3600
	DefaultTimeoutInactive = 1800
)

type CreateRequest struct {
	StartURL        string `json:"start_url"`
	Width           int    `json:"width"`
	Height          int    `json:"height"`
	Kiosk           *bool  `json:"kiosk"`
	TimeoutAbsolute int    `json:"timeout_absolute"`
	TimeoutInactive int    `json:"timeout_inactive"`
}

type Sessions struct {
	Store    *store.Store
	Upstream Provisioner
	// Limit caps concurrently active sessions; zero or less is unlimited.
	Limit int
}

// Create admits, provisions, and persists a new session. The order
// matters: the slot is reserved before the upstream call so a denied
// admission never provisions a remote resource, and a failed upstream
// call releases the reservation so no local record survives either.
func (s *Sessions) Create(ctx context.Context, apiKey string, req CreateRequest) (*domain.Session, error) {
	spec := upstream.CreateSpec{
		StartURL:        req.StartURL,
		Width:           req.Width,
		Height:          req.Height,
		Kiosk:           true,
		TimeoutAbsolute: req.TimeoutAbsolute,
		TimeoutInactive: req.TimeoutInactive,
	}
	if spec.StartURL == "" {
		spec.StartURL = DefaultStartURL
	}
	if spec.Width <= 0 {
		spec.Width = DefaultWidth
	}
	if spec.Height <= 0 {
		spec.Height = DefaultHeight
	}
	if req.Kiosk != nil {
		spec.Kiosk = *req.Kiosk
	}
	if spec.TimeoutAbsolute <= 0 {
		spec.TimeoutAbsolute = DefaultTimeoutAbsolute
	}
	if spec.TimeoutInactive <= 0 {
		spec.TimeoutInactive = DefaultTimeoutInactive
	}

	now := time.Now().UTC()
	sess := &domain.Session{
		UUID:         uuid.NewString(),
		CreatedAt:    now,
		LastAccessed: now,
		Active:       true,
		Meta: domain.SessionMeta{
			Width:    spec.Width,
			Height:   spec.Height,
			StartURL: spec.StartURL,
		},
	}

	if err := s.Store.Reserve(ctx, sess, s.Limit); err != nil {
		return nil, err
	}

	prov, err := s.Upstream.Create(ctx, apiKey, spec)
	if err != nil {
		if relErr := s.Store.Release(ctx, sess.UUID); relErr != nil {
			log.Error().Str("module", "app.sessions").Str("session", sess.UUID).Err(relErr).Msg("failed to release reservation")
		}
		return nil, err
	}

	if err := s.Store.Finalize(ctx, sess.UUID, prov.ID, prov.EmbedURL, prov.AdminToken); err != nil {
		return nil, err
	}
	sess.UpstreamID = prov.ID
	sess.EmbedURL = prov.EmbedURL
	sess.AdminToken = prov.AdminToken

	monitoring.SessionsCreated.Inc()
	log.Info().Str("module", "app.sessions").Str("session", sess.UUID).Str("upstream", prov.ID).Msg("session created")
	return sess, nil
}

// Get returns an active session and refreshes its last_accessed.
func (s *Sessions) Get(ctx context.Context, uuid string) (*domain.Session, error) {
	sess, err := s.Store.Get(ctx, uuid)
	if err != nil {
		return nil, err
	}
	if !sess.Active {
		return nil, domain.ErrGone
	}
	now := time.Now().UTC()
	if err := s.Store.Touch(ctx, uuid, now); err != nil {
		return nil, err
	}
	sess.LastAccessed = now
	return sess, nil
}

// Terminate ends a session on the owner's request, using the caller's
// bearer key for the remote teardown.
func (s *Sessions) Terminate(ctx context.Context, apiKey, uuid string) (TerminateOutcome, error) {
	sess, err := s.Store.Get(ctx, uuid)
	if err != nil {
		return TerminateOutcome{}, err
	}
	if !sess.Active {
		return TerminateOutcome{}, domain.ErrNotFoundActive
	}
	return terminate(ctx, s.Store, s.Upstream, apiKey, sess, domain.ReasonUserRequest)
}
