// Package domain contains entity without logic, just meta-data
package domain

import "time"

// Termination reasons recorded on a session when it is deactivated.
const (
	ReasonUserRequest     = "user_request"
	ReasonIdleTimeout     = "idle_timeout"
	ReasonCapacityEvicted = "capacity_evicted"
	ReasonAdminForced     = "admin_forced"
)

type SessionMeta struct {
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	StartURL string `json:"start_url"`
}

// Session is the local record of one proxied browser session.
// UUID is ours; UpstreamID belongs to the provisioning service.
// Once Active drops to false it never comes back, and LastAccessed
// only moves forward.
type Session struct {
	UUID         string
	UpstreamID   string
	EmbedURL     string
	AdminToken   string
	CreatedAt    time.Time
	LastAccessed time.Time
	Active       bool
	Reason       string
	Meta         SessionMeta
}

// AgeMinutes is computed from CreatedAt at call time, never stored.
func (s *Session) AgeMinutes(now time.Time) float64 {
	return now.Sub(s.CreatedAt).Minutes()
}

// IdleSince is the reference point for idle-timeout decisions,
// falling back to CreatedAt for records that were never touched.
func (s *Session) IdleSince() time.Time {
	if s.LastAccessed.IsZero() {
		return s.CreatedAt
	}
	return s.LastAccessed
}
