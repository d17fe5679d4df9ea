package domain

import "time"

const (
	RoomCodeLength   = 6
	RoomCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// Room maps a short shareable code to one session. The reference is
// weak: the room never owns the session's lifecycle and may outlive it.
type Room struct {
	Code        string    `json:"code"`
	SessionUUID string    `json:"session_uuid"`
	Label       string    `json:"label,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
