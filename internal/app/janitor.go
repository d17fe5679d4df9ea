package app

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/avdeev/cobrowse/internal/domain"
	"github.com/avdeev/cobrowse/internal/monitoring"
	"github.com/avdeev/cobrowse/internal/store"
)

// Janitor reclaims idle and over-capacity sessions. Admin callers hold
// no bearer credential, so remote teardown uses the server's own key.
type Janitor struct {
	Store    *store.Store
	Upstream Provisioner
	APIKey   string
}

// ActiveSession is a listing row; AgeMinutes is derived on the way out.
type ActiveSession struct {
	SessionUUID  string             `json:"session_uuid"`
	EmbedURL     string             `json:"embed_url"`
	CreatedAt    time.Time          `json:"created_at"`
	LastAccessed time.Time          `json:"last_accessed"`
	AgeMinutes   float64            `json:"age_minutes"`
	Meta         domain.SessionMeta `json:"metadata"`
}

type CleanupParams struct {
	IdleMinutes int
	// MaxActive, when set, caps the surviving session count.
	MaxActive *int
	DryRun    bool
}

// TerminateOutcome reports one termination attempt. RemoteStatus is
// zero when the engine was unreachable; the local record is inactive
// either way.
type TerminateOutcome struct {
	SessionUUID  string `json:"session_uuid"`
	Reason       string `json:"reason"`
	RemoteStatus int    `json:"remote_status"`
	RemoteError  string `json:"remote_error,omitempty"`
}

type CleanupReport struct {
	DryRun         bool               `json:"dry_run"`
	WouldTerminate []string           `json:"would_terminate,omitempty"`
	Terminated     []TerminateOutcome `json:"terminated,omitempty"`
	Count          int                `json:"count"`
}

// ListActive returns the active sessions oldest-first.
func (j *Janitor) ListActive(ctx context.Context) ([]ActiveSession, error) {
	sessions, err := j.Store.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	out := make([]ActiveSession, 0, len(sessions))
	for i := range sessions {
		sess := &sessions[i]
		out = append(out, ActiveSession{
			SessionUUID:  sess.UUID,
			EmbedURL:     sess.EmbedURL,
			CreatedAt:    sess.CreatedAt,
			LastAccessed: sess.LastAccessed,
			AgeMinutes:   sess.AgeMinutes(now),
			Meta:         sess.Meta,
		})
	}
	return out, nil
}

// Cleanup selects idle sessions, then evicts the oldest of the
// non-idle remainder when a max-active cap is given, and terminates
// the lot unless this is a dry run. Dry runs touch nothing.
func (j *Janitor) Cleanup(ctx context.Context, p CleanupParams) (*CleanupReport, error) {
	active, err := j.Store.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	cutoff := now.Add(-time.Duration(p.IdleMinutes) * time.Minute)

	type candidate struct {
		sess   domain.Session
		reason string
	}
	var candidates []candidate
	seen := make(map[string]bool)

	// active is already ordered by created_at ascending, so both the
	// idle pass and the capacity pass reclaim oldest-first.
	var remainder []domain.Session
	for _, sess := range active {
		if !sess.IdleSince().After(cutoff) {
			candidates = append(candidates, candidate{sess, domain.ReasonIdleTimeout})
			seen[sess.UUID] = true
		} else {
			remainder = append(remainder, sess)
		}
	}

	if p.MaxActive != nil {
		// Zero and negative caps both mean "keep nothing".
		keep := max(*p.MaxActive, 0)
		if len(remainder) > keep {
			for _, sess := range remainder[:len(remainder)-keep] {
				if seen[sess.UUID] {
					continue
				}
				candidates = append(candidates, candidate{sess, domain.ReasonCapacityEvicted})
				seen[sess.UUID] = true
			}
		}
	}

	report := &CleanupReport{DryRun: p.DryRun, Count: len(candidates)}
	if p.DryRun {
		report.WouldTerminate = make([]string, 0, len(candidates))
		for _, c := range candidates {
			report.WouldTerminate = append(report.WouldTerminate, c.sess.UUID)
		}
		return report, nil
	}

	for _, c := range candidates {
		outcome, err := terminate(ctx, j.Store, j.Upstream, j.APIKey, &c.sess, c.reason)
		if errors.Is(err, domain.ErrNotFoundActive) {
			// Lost a race with another terminator; the session is
			// already gone, which is what cleanup wanted anyway.
			report.Count--
			continue
		}
		if err != nil {
			return nil, err
		}
		report.Terminated = append(report.Terminated, outcome)
	}
	log.Info().Str("module", "app.janitor").Int("count", report.Count).Int("idle_minutes", p.IdleMinutes).Msg("cleanup done")
	return report, nil
}

// TerminateOne forcibly ends a single session outside the idle and
// capacity criteria. Already-inactive or unknown uuids fail with
// ErrNotFoundActive and mutate nothing.
func (j *Janitor) TerminateOne(ctx context.Context, uuid string) (TerminateOutcome, error) {
	sess, err := j.Store.Get(ctx, uuid)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return TerminateOutcome{}, domain.ErrNotFoundActive
		}
		return TerminateOutcome{}, err
	}
	if !sess.Active {
		return TerminateOutcome{}, domain.ErrNotFoundActive
	}
	return terminate(ctx, j.Store, j.Upstream, j.APIKey, sess, domain.ReasonAdminForced)
}

// terminate is the shared primitive: best-effort remote delete, then
// the local record goes inactive no matter what the engine said. The
// store's conditional update keeps racing terminations down to one
// effective transition.
func terminate(ctx context.Context, st *store.Store, up Provisioner, apiKey string, sess *domain.Session, reason string) (TerminateOutcome, error) {
	outcome := TerminateOutcome{SessionUUID: sess.UUID, Reason: reason}

	if sess.UpstreamID != "" {
		status, err := up.Delete(ctx, apiKey, sess.UpstreamID)
		outcome.RemoteStatus = status
		if err != nil {
			outcome.RemoteError = err.Error()
			log.Warn().Str("module", "app.janitor").Str("session", sess.UUID).Err(err).Msg("remote terminate failed, marking inactive locally")
		}
	}

	if err := st.Deactivate(ctx, sess.UUID, reason, time.Now().UTC()); err != nil {
		return TerminateOutcome{}, err
	}
	monitoring.SessionsTerminated.WithLabelValues(reason).Inc()
	return outcome, nil
}
