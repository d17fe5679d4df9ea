package hub

import (
	"github.com/avdeev/cobrowse/internal/domain"
	"github.com/avdeev/cobrowse/internal/monitoring"
)

const (
	// maxLogEntries caps each room's polling log; the oldest entries
	// fall off first. Ids keep counting regardless.
	maxLogEntries = 200
	// tailFetch is how much history an initial poll (since <= 0) gets.
	tailFetch = 50
)

// Event is one entry in a room's polling-fallback log. Ids are
// room-scoped, start at 1, strictly increase, and are never reused,
// even after eviction. The log does not survive a restart.
type Event struct {
	ID   int64            `json:"id"`
	Type string           `json:"type"`
	Text string           `json:"text,omitempty"`
	Head string           `json:"head,omitempty"`
	User *domain.Identity `json:"user,omitempty"`
	TS   string           `json:"ts"`
}

type eventLog struct {
	lastID  int64
	entries []Event
}

// PostEvent appends to the room's log, assigning the next sequence
// number and a server timestamp. Returns the stored event.
func (h *Hub) PostEvent(code string, ev Event) Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.logs[code]
	if !ok {
		l = &eventLog{}
		h.logs[code] = l
	}
	l.lastID++
	ev.ID = l.lastID
	ev.TS = nowISO()
	l.entries = append(l.entries, ev)
	if len(l.entries) > maxLogEntries {
		l.entries = l.entries[len(l.entries)-maxLogEntries:]
	}
	monitoring.RoomEventsPosted.Inc()
	return ev
}

// FetchEvents returns events after since, plus the id the caller
// should poll with next. since <= 0 means "give me the recent tail":
// the last tailFetch entries, with lastID set to the newest returned
// id. For since > 0 lastID is the newest id in the whole log, so a
// caller that reads a filtered slice still advances past evictions.
func (h *Hub) FetchEvents(code string, since int64) ([]Event, int64) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	l, ok := h.logs[code]
	if !ok {
		return []Event{}, 0
	}

	if since <= 0 {
		start := 0
		if len(l.entries) > tailFetch {
			start = len(l.entries) - tailFetch
		}
		tail := make([]Event, len(l.entries)-start)
		copy(tail, l.entries[start:])
		var newest int64
		if len(tail) > 0 {
			newest = tail[len(tail)-1].ID
		}
		return tail, newest
	}

	var out []Event
	for _, ev := range l.entries {
		if ev.ID > since {
			out = append(out, ev)
		}
	}
	if out == nil {
		out = []Event{}
	}
	return out, l.lastID
}
