// Package hub owns the per-room live state: member connections, their
// identities, broadcast fan-out, and the polling-fallback event logs.
// All of it is in-memory and single-process; rooms are garbage-collected
// when their last member leaves.
package hub

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/avdeev/cobrowse/internal/domain"
)

// Conn is one live room connection as the hub sees it. The websocket
// adapter wraps the real socket; tests plug in fakes.
type Conn interface {
	// TrySend queues data without blocking; any error means the
	// connection is no longer usable.
	TrySend(data []byte) error
	Close()
}

// Envelope is the closed message vocabulary of the room channel.
// Anything that does not parse into it, or carries an unknown type,
// is dropped on the floor.
type Envelope struct {
	Type  string           `json:"type"`
	Event string           `json:"event,omitempty"`
	Text  string           `json:"text,omitempty"`
	Head  string           `json:"head,omitempty"`
	TS    string           `json:"ts,omitempty"`
	User  *domain.Identity `json:"user,omitempty"`
}

type member struct {
	conn Conn
	// ident is nil until the handshake resolves; connections progress
	// connected -> identified -> closed and never back.
	ident      *domain.Identity
	fallbackID string
}

type room struct {
	members map[Conn]*member
}

type Hub struct {
	mu    sync.RWMutex
	rooms map[string]*room
	logs  map[string]*eventLog
}

func New() *Hub {
	return &Hub{
		rooms: make(map[string]*room),
		logs:  make(map[string]*eventLog),
	}
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// Join adds a fresh, still-unidentified connection to the room.
// fallbackID seeds the generated identity if the client never
// introduces itself.
func (h *Hub) Join(code string, c Conn, fallbackID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[code]
	if !ok {
		r = &room{members: make(map[Conn]*member)}
		h.rooms[code] = r
	}
	r.members[c] = &member{conn: c, fallbackID: fallbackID}
	log.Debug().Str("module", "hub").Str("room", code).Int("members", len(r.members)).Msg("member joined")
}

// MemberCount reports the live member count of a room.
func (h *Hub) MemberCount(code string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if r, ok := h.rooms[code]; ok {
		return len(r.members)
	}
	return 0
}

// HandleInbound processes one message from a connection. The first
// message is the handshake; everything after goes through dispatch.
func (h *Hub) HandleInbound(code string, c Conn, data []byte) {
	h.mu.RLock()
	r, ok := h.rooms[code]
	var m *member
	if ok {
		m = r.members[c]
	}
	var identified bool
	if m != nil {
		identified = m.ident != nil
	}
	h.mu.RUnlock()
	if m == nil {
		// Already dropped mid-flight; nothing to do.
		return
	}
	if !identified {
		h.handshake(code, c, m, data)
		return
	}
	h.dispatch(code, c, m, data)
}

// handshake interprets the first inbound message. A well-formed hello
// carrying a user object becomes the connection's identity and is
// announced to the whole room, sender included. Anything else gets a
// generated identity and no announcement.
func (h *Hub) handshake(code string, c Conn, m *member, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err == nil && env.Type == "hello" && env.User != nil {
		ident := env.User.Fill(m.fallbackID)
		h.setIdentity(c, code, &ident)
		h.broadcast(code, Envelope{Type: "presence", Event: "join", User: &ident, TS: nowISO()})
		return
	}
	ident := domain.NewIdentity(m.fallbackID)
	h.setIdentity(c, code, &ident)
}

func (h *Hub) setIdentity(c Conn, code string, ident *domain.Identity) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[code]; ok {
		if m, ok := r.members[c]; ok {
			m.ident = ident
		}
	}
}

func (h *Hub) dispatch(code string, c Conn, m *member, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return
	}
	switch env.Type {
	case "ping":
		pong, _ := json.Marshal(Envelope{Type: "pong", TS: nowISO()})
		if err := c.TrySend(pong); err != nil {
			h.drop(code, c)
		}
	case "chat", "presence":
		// The sender's server-known identity always wins over whatever
		// the client put in the body.
		env.User = m.ident
		if env.TS == "" {
			env.TS = nowISO()
		}
		h.broadcast(code, env)
	default:
		// Unrecognized types are a guaranteed no-op.
	}
}

// Leave removes the connection and announces its departure to whoever
// is left. Safe to call twice; the second call finds nothing.
func (h *Hub) Leave(code string, c Conn) {
	h.drop(code, c)
}

// drop removes a member, garbage-collects the room bucket when it
// empties, and broadcasts the leave event for identified members.
func (h *Hub) drop(code string, c Conn) {
	h.mu.Lock()
	r, ok := h.rooms[code]
	if !ok {
		h.mu.Unlock()
		return
	}
	m, ok := r.members[c]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(r.members, c)
	if len(r.members) == 0 {
		delete(h.rooms, code)
	}
	ident := m.ident
	h.mu.Unlock()

	c.Close()
	log.Debug().Str("module", "hub").Str("room", code).Msg("member left")
	if ident != nil {
		h.broadcast(code, Envelope{Type: "presence", Event: "leave", User: ident, TS: nowISO()})
	}
}

// broadcast writes to a snapshot of the member set taken up front, so
// drops triggered by failed writes never perturb the in-flight pass.
// Failed members are pruned afterwards, each with its own leave event.
func (h *Hub) broadcast(code string, env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Str("module", "hub").Err(err).Msg("broadcast marshal")
		return
	}

	h.mu.RLock()
	var snapshot []Conn
	if r, ok := h.rooms[code]; ok {
		snapshot = make([]Conn, 0, len(r.members))
		for conn := range r.members {
			snapshot = append(snapshot, conn)
		}
	}
	h.mu.RUnlock()

	var failed []Conn
	for _, conn := range snapshot {
		if err := conn.TrySend(data); err != nil {
			failed = append(failed, conn)
		}
	}
	for _, conn := range failed {
		h.drop(code, conn)
	}
}
