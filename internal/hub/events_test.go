package hub

import (
	"fmt"
	"testing"
)

func TestPostAssignsSequentialIDs(t *testing.T) {
	h := New()
	for i := 1; i <= 5; i++ {
		ev := h.PostEvent("R2", Event{Type: "chat", Text: fmt.Sprintf("m%d", i)})
		if ev.ID != int64(i) {
			t.Errorf("event %d got id %d", i, ev.ID)
		}
		if ev.TS == "" {
			t.Errorf("event %d has no timestamp", i)
		}
	}
}

func TestFetchTailAndSince(t *testing.T) {
	h := New()
	for i := 1; i <= 5; i++ {
		h.PostEvent("R2", Event{Type: "chat", Text: fmt.Sprintf("m%d", i)})
	}

	events, lastID := h.FetchEvents("R2", 0)
	if len(events) != 5 {
		t.Fatalf("tail fetch returned %d events, want 5", len(events))
	}
	if lastID != 5 {
		t.Errorf("tail last_id = %d, want 5", lastID)
	}

	events, lastID = h.FetchEvents("R2", 3)
	if len(events) != 2 || events[0].ID != 4 || events[1].ID != 5 {
		t.Fatalf("since=3 returned %+v, want ids {4,5}", events)
	}
	if lastID != 5 {
		t.Errorf("since=3 last_id = %d, want 5", lastID)
	}

	// Caught up: empty slice, but last_id still points at the newest.
	events, lastID = h.FetchEvents("R2", 5)
	if len(events) != 0 || lastID != 5 {
		t.Errorf("since=5 = %d events, last_id %d; want 0 and 5", len(events), lastID)
	}
}

func TestFetchUnknownRoom(t *testing.T) {
	h := New()
	events, lastID := h.FetchEvents("NOROOM", 0)
	if len(events) != 0 || lastID != 0 {
		t.Errorf("unknown room returned %d events, last_id %d", len(events), lastID)
	}
}

func TestTailCappedAtFifty(t *testing.T) {
	h := New()
	for i := 1; i <= 80; i++ {
		h.PostEvent("R2", Event{Type: "chat", Text: fmt.Sprintf("m%d", i)})
	}
	events, lastID := h.FetchEvents("R2", 0)
	if len(events) != tailFetch {
		t.Fatalf("tail = %d events, want %d", len(events), tailFetch)
	}
	if events[0].ID != 31 || events[len(events)-1].ID != 80 {
		t.Errorf("tail spans ids %d..%d, want 31..80", events[0].ID, events[len(events)-1].ID)
	}
	if lastID != 80 {
		t.Errorf("last_id = %d, want 80", lastID)
	}
}

func TestLogBoundedAtTwoHundredWithoutReusingIDs(t *testing.T) {
	h := New()
	for i := 1; i <= 250; i++ {
		h.PostEvent("R2", Event{Type: "chat"})
	}

	// Oldest 50 evicted; ids keep counting.
	events, lastID := h.FetchEvents("R2", 1)
	if len(events) != maxLogEntries {
		t.Fatalf("log holds %d entries, want %d", len(events), maxLogEntries)
	}
	if events[0].ID != 51 {
		t.Errorf("oldest surviving id = %d, want 51", events[0].ID)
	}
	if lastID != 250 {
		t.Errorf("last_id = %d, want 250", lastID)
	}

	ev := h.PostEvent("R2", Event{Type: "chat"})
	if ev.ID != 251 {
		t.Errorf("next id = %d, ids must never be reused", ev.ID)
	}
}

func TestLogsIndependentPerRoom(t *testing.T) {
	h := New()
	h.PostEvent("A", Event{Type: "chat"})
	h.PostEvent("B", Event{Type: "chat"})
	h.PostEvent("B", Event{Type: "chat"})

	_, lastA := h.FetchEvents("A", 0)
	_, lastB := h.FetchEvents("B", 0)
	if lastA != 1 || lastB != 2 {
		t.Errorf("last ids = %d/%d, want 1/2", lastA, lastB)
	}
}
