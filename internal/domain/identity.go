package domain

import "github.com/google/uuid"

// Identity describes one live room connection. It is ephemeral:
// created at connect time, discarded when the connection closes.
type Identity struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Color string `json:"color,omitempty"`
}

var identityColors = []string{
	"#e6194b", "#3cb44b", "#ffe119", "#4363d8",
	"#f58231", "#911eb4", "#46f0f0", "#f032e6",
}

// NewIdentity builds a server-generated identity for connections that
// never introduced themselves. The id falls back to a fresh uuid when
// the transport has nothing better (like a client-token cookie) to offer.
func NewIdentity(id string) Identity {
	if id == "" {
		id = uuid.NewString()
	}
	return Identity{
		ID:    id,
		Name:  "guest-" + id[:min(4, len(id))],
		Color: identityColors[fnvHash(id)%uint32(len(identityColors))],
	}
}

// Fill backfills the parts of a client-supplied identity it left blank.
func (i Identity) Fill(fallbackID string) Identity {
	if i.ID == "" {
		gen := NewIdentity(fallbackID)
		i.ID = gen.ID
		if i.Name == "" {
			i.Name = gen.Name
		}
		if i.Color == "" {
			i.Color = gen.Color
		}
	}
	return i
}

func fnvHash(s string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}
