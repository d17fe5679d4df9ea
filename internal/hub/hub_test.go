package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/avdeev/cobrowse/internal/domain"
)

// fakeConn records everything sent to it and can be told to fail.
type fakeConn struct {
	mu     sync.Mutex
	sent   [][]byte
	fail   bool
	closed bool
}

func (c *fakeConn) TrySend(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("send failed")
	}
	c.sent = append(c.sent, data)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) envelopes(t *testing.T) []Envelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Envelope, 0, len(c.sent))
	for _, raw := range c.sent {
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("sent frame is not an envelope: %v", err)
		}
		out = append(out, env)
	}
	return out
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = nil
}

func hello(t *testing.T, name string) []byte {
	t.Helper()
	raw, err := json.Marshal(Envelope{Type: "hello", User: &domain.Identity{ID: "id-" + name, Name: name}})
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func joinIdentified(t *testing.T, h *Hub, code, name string) *fakeConn {
	t.Helper()
	c := &fakeConn{}
	h.Join(code, c, "")
	h.HandleInbound(code, c, hello(t, name))
	return c
}

func TestHelloAnnouncesJoinToEveryoneIncludingSender(t *testing.T) {
	h := New()
	a := joinIdentified(t, h, "R1", "alice")

	envs := a.envelopes(t)
	if len(envs) != 1 {
		t.Fatalf("sender got %d messages, want its own join", len(envs))
	}
	if envs[0].Type != "presence" || envs[0].Event != "join" {
		t.Fatalf("got %+v, want presence/join", envs[0])
	}
	if envs[0].User == nil || envs[0].User.Name != "alice" {
		t.Errorf("join event user = %+v, want alice", envs[0].User)
	}
	if envs[0].TS == "" {
		t.Error("join event has no server timestamp")
	}
}

func TestChatBroadcastReachesAllMembers(t *testing.T) {
	h := New()
	a := joinIdentified(t, h, "R1", "alice")
	b := joinIdentified(t, h, "R1", "bob")
	c := joinIdentified(t, h, "R1", "carol")
	for _, conn := range []*fakeConn{a, b, c} {
		conn.reset()
	}

	// The client-supplied user must be overwritten with A's identity.
	h.HandleInbound("R1", a, []byte(`{"type":"chat","text":"hi","user":{"id":"spoofed"}}`))

	for name, conn := range map[string]*fakeConn{"a": a, "b": b, "c": c} {
		envs := conn.envelopes(t)
		if len(envs) != 1 {
			t.Fatalf("%s received %d messages, want exactly 1", name, len(envs))
		}
		env := envs[0]
		if env.Type != "chat" || env.Text != "hi" {
			t.Errorf("%s got %+v", name, env)
		}
		if env.User == nil || env.User.ID != "id-alice" {
			t.Errorf("%s saw user %+v, want alice's server-known identity", name, env.User)
		}
		if env.TS == "" {
			t.Errorf("%s got chat without timestamp", name)
		}
	}
}

func TestPingAnsweredUnicast(t *testing.T) {
	h := New()
	a := joinIdentified(t, h, "R1", "alice")
	b := joinIdentified(t, h, "R1", "bob")
	a.reset()
	b.reset()

	h.HandleInbound("R1", a, []byte(`{"type":"ping"}`))

	envs := a.envelopes(t)
	if len(envs) != 1 || envs[0].Type != "pong" || envs[0].TS == "" {
		t.Fatalf("a got %+v, want one pong with ts", envs)
	}
	if got := b.envelopes(t); len(got) != 0 {
		t.Errorf("pong leaked to another member: %+v", got)
	}
}

func TestMalformedAndUnknownMessagesDropped(t *testing.T) {
	h := New()
	a := joinIdentified(t, h, "R1", "alice")
	b := joinIdentified(t, h, "R1", "bob")
	a.reset()
	b.reset()

	h.HandleInbound("R1", a, []byte(`{not json`))
	h.HandleInbound("R1", a, []byte(`{"type":"mystery"}`))

	if got := a.envelopes(t); len(got) != 0 {
		t.Errorf("sender got %+v, want silence", got)
	}
	if got := b.envelopes(t); len(got) != 0 {
		t.Errorf("peer got %+v, want silence", got)
	}
	if h.MemberCount("R1") != 2 {
		t.Errorf("members = %d, the connection must stay open", h.MemberCount("R1"))
	}
}

func TestNonHelloFirstMessageGetsGeneratedIdentity(t *testing.T) {
	h := New()
	a := &fakeConn{}
	b := joinIdentified(t, h, "R1", "bob")
	b.reset()

	h.Join("R1", a, "cookie-token")
	h.HandleInbound("R1", a, []byte(`{"type":"chat","text":"early"}`))

	// No join announcement for an unidentified handshake.
	if got := b.envelopes(t); len(got) != 0 {
		t.Fatalf("bob got %+v, want no join announcement", got)
	}
	b.reset()
	a.reset()

	// But the connection is identified now, with the generated id.
	h.HandleInbound("R1", a, []byte(`{"type":"chat","text":"hi"}`))
	envs := b.envelopes(t)
	if len(envs) != 1 {
		t.Fatalf("bob got %d messages, want 1", len(envs))
	}
	if envs[0].User == nil || envs[0].User.ID != "cookie-token" {
		t.Errorf("generated identity = %+v, want id from fallback token", envs[0].User)
	}
}

func TestLeaveBroadcastAndRoomGC(t *testing.T) {
	h := New()
	a := joinIdentified(t, h, "R1", "alice")
	b := joinIdentified(t, h, "R1", "bob")
	c := joinIdentified(t, h, "R1", "carol")
	for _, conn := range []*fakeConn{a, b, c} {
		conn.reset()
	}

	h.Leave("R1", b)

	for name, conn := range map[string]*fakeConn{"a": a, "c": c} {
		envs := conn.envelopes(t)
		if len(envs) != 1 || envs[0].Type != "presence" || envs[0].Event != "leave" {
			t.Fatalf("%s got %+v, want one presence/leave", name, envs)
		}
		if envs[0].User == nil || envs[0].User.Name != "bob" {
			t.Errorf("%s saw leave for %+v, want bob", name, envs[0].User)
		}
	}
	if got := b.envelopes(t); len(got) != 0 {
		t.Errorf("departed member received %+v", got)
	}
	if !b.closed {
		t.Error("departed connection not closed")
	}

	// Chat after the departure reaches only the survivors.
	a.reset()
	c.reset()
	h.HandleInbound("R1", a, []byte(`{"type":"chat","text":"still here"}`))
	if len(a.envelopes(t)) != 1 || len(c.envelopes(t)) != 1 {
		t.Error("survivors should each get the chat")
	}
	if got := b.envelopes(t); len(got) != 0 {
		t.Errorf("departed member received %+v after leaving", got)
	}

	h.Leave("R1", a)
	h.Leave("R1", c)
	if h.MemberCount("R1") != 0 {
		t.Error("room should be empty")
	}
	h.mu.RLock()
	_, alive := h.rooms["R1"]
	h.mu.RUnlock()
	if alive {
		t.Error("empty room bucket should be garbage-collected")
	}
}

func TestFailedWriteDropsOnlyThatMember(t *testing.T) {
	h := New()
	a := joinIdentified(t, h, "R1", "alice")
	b := joinIdentified(t, h, "R1", "bob")
	c := joinIdentified(t, h, "R1", "carol")
	for _, conn := range []*fakeConn{a, b, c} {
		conn.reset()
	}
	b.mu.Lock()
	b.fail = true
	b.mu.Unlock()

	h.HandleInbound("R1", a, []byte(`{"type":"chat","text":"hi"}`))

	// a and c got the chat despite b's failure mid-broadcast, and then
	// b's eviction produced a leave event for the survivors.
	for name, conn := range map[string]*fakeConn{"a": a, "c": c} {
		envs := conn.envelopes(t)
		if len(envs) != 2 {
			t.Fatalf("%s got %d messages, want chat + leave", name, len(envs))
		}
		if envs[0].Type != "chat" {
			t.Errorf("%s first message %+v, want the chat", name, envs[0])
		}
		if envs[1].Event != "leave" || envs[1].User == nil || envs[1].User.Name != "bob" {
			t.Errorf("%s second message %+v, want bob's leave", name, envs[1])
		}
	}
	if h.MemberCount("R1") != 2 {
		t.Errorf("members = %d, want 2 after pruning", h.MemberCount("R1"))
	}
	if !b.closed {
		t.Error("failed connection not closed")
	}
}

func TestRoomsAreIndependent(t *testing.T) {
	h := New()
	a := joinIdentified(t, h, "R1", "alice")
	x := joinIdentified(t, h, "R2", "xavier")
	a.reset()
	x.reset()

	h.HandleInbound("R1", a, []byte(`{"type":"chat","text":"r1 only"}`))

	if len(a.envelopes(t)) != 1 {
		t.Error("R1 member missed its own chat")
	}
	if got := x.envelopes(t); len(got) != 0 {
		t.Errorf("R2 member got %+v from another room", got)
	}
}

func TestConcurrentChatter(t *testing.T) {
	h := New()
	conns := make([]*fakeConn, 8)
	for i := range conns {
		conns[i] = joinIdentified(t, h, "R1", fmt.Sprintf("user%d", i))
	}

	var wg sync.WaitGroup
	for i, conn := range conns {
		wg.Add(1)
		go func(i int, c *fakeConn) {
			defer wg.Done()
			for n := 0; n < 20; n++ {
				h.HandleInbound("R1", c, []byte(`{"type":"chat","text":"x"}`))
			}
		}(i, conn)
	}
	wg.Wait()

	if h.MemberCount("R1") != len(conns) {
		t.Errorf("members = %d, want %d", h.MemberCount("R1"), len(conns))
	}
}
