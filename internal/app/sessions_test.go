package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/avdeev/cobrowse/internal/domain"
	"github.com/avdeev/cobrowse/internal/store"
	"github.com/avdeev/cobrowse/internal/upstream"
)

// fakeProvisioner stands in for the engine. It hands out sequential
// ids and remembers what it deleted.
type fakeProvisioner struct {
	mu        sync.Mutex
	created   int
	deleted   []string
	createErr error
	delStatus int
	delErr    error
}

func (f *fakeProvisioner) Create(ctx context.Context, apiKey string, spec upstream.CreateSpec) (upstream.Provisioned, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return upstream.Provisioned{}, f.createErr
	}
	f.created++
	id := fmt.Sprintf("up-%d", f.created)
	return upstream.Provisioned{ID: id, EmbedURL: "https://embed.example/" + id, AdminToken: "tok-" + id}, nil
}

func (f *fakeProvisioner) Delete(ctx context.Context, apiKey, id string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	if f.delErr != nil {
		return 0, f.delErr
	}
	if f.delStatus == 0 {
		return 200, nil
	}
	return f.delStatus, nil
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestCreateAppliesDefaults(t *testing.T) {
	st := newTestStore(t)
	svc := &Sessions{Store: st, Upstream: &fakeProvisioner{}}

	sess, err := svc.Create(context.Background(), "key", CreateRequest{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if sess.Meta.StartURL != DefaultStartURL || sess.Meta.Width != DefaultWidth || sess.Meta.Height != DefaultHeight {
		t.Errorf("defaults not applied: %+v", sess.Meta)
	}
	if sess.EmbedURL == "" || sess.UpstreamID == "" {
		t.Errorf("upstream fields missing: %+v", sess)
	}
}

func TestCreateCapacityDenied(t *testing.T) {
	st := newTestStore(t)
	up := &fakeProvisioner{}
	svc := &Sessions{Store: st, Upstream: up, Limit: 1}
	ctx := context.Background()

	if _, err := svc.Create(ctx, "key", CreateRequest{}); err != nil {
		t.Fatalf("first create: %v", err)
	}
	_, err := svc.Create(ctx, "key", CreateRequest{})
	var capErr domain.CapacityError
	if !errors.As(err, &capErr) {
		t.Fatalf("second create = %v, want CapacityError", err)
	}
	if capErr.Limit != 1 {
		t.Errorf("limit in error = %d, want 1", capErr.Limit)
	}
	// The denied attempt must never have provisioned remotely.
	if up.created != 1 {
		t.Errorf("upstream saw %d creates, want 1", up.created)
	}
}

func TestCreateUpstreamFailureLeavesNoRecord(t *testing.T) {
	st := newTestStore(t)
	up := &fakeProvisioner{createErr: domain.ErrUpstream}
	svc := &Sessions{Store: st, Upstream: up, Limit: 1}
	ctx := context.Background()

	if _, err := svc.Create(ctx, "key", CreateRequest{}); !errors.Is(err, domain.ErrUpstream) {
		t.Fatalf("create = %v, want upstream error", err)
	}
	active, err := st.ListActive(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 0 {
		t.Errorf("active = %d after failed creation, want 0", len(active))
	}

	// The reservation was released, so the slot is usable again.
	up.createErr = nil
	if _, err := svc.Create(ctx, "key", CreateRequest{}); err != nil {
		t.Errorf("create after recovery: %v", err)
	}
}

func TestGetTouchesAndReportsGone(t *testing.T) {
	st := newTestStore(t)
	svc := &Sessions{Store: st, Upstream: &fakeProvisioner{}}
	ctx := context.Background()

	sess, err := svc.Create(ctx, "key", CreateRequest{})
	if err != nil {
		t.Fatal(err)
	}

	got, err := svc.Get(ctx, sess.UUID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.LastAccessed.Before(sess.LastAccessed) {
		t.Error("get did not advance last_accessed")
	}

	if _, err := svc.Get(ctx, "no-such-uuid"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown uuid = %v, want ErrNotFound", err)
	}

	if _, err := svc.Terminate(ctx, "key", sess.UUID); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if _, err := svc.Get(ctx, sess.UUID); !errors.Is(err, domain.ErrGone) {
		t.Errorf("get after terminate = %v, want ErrGone", err)
	}
}

func TestTerminateIsLocalFirst(t *testing.T) {
	st := newTestStore(t)
	up := &fakeProvisioner{delErr: domain.ErrUpstream}
	svc := &Sessions{Store: st, Upstream: up}
	ctx := context.Background()

	sess, err := svc.Create(ctx, "key", CreateRequest{})
	if err != nil {
		t.Fatal(err)
	}

	outcome, err := svc.Terminate(ctx, "key", sess.UUID)
	if err != nil {
		t.Fatalf("terminate with unreachable upstream: %v", err)
	}
	if outcome.RemoteStatus != 0 || outcome.RemoteError == "" {
		t.Errorf("outcome = %+v, want remote failure surfaced", outcome)
	}

	got, err := st.Get(ctx, sess.UUID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Active {
		t.Error("session still active; local record must go inactive regardless of the remote outcome")
	}
	if got.Reason != domain.ReasonUserRequest {
		t.Errorf("reason = %q", got.Reason)
	}

	// Second terminate observes the idempotency guard.
	if _, err := svc.Terminate(ctx, "key", sess.UUID); !errors.Is(err, domain.ErrNotFoundActive) {
		t.Errorf("second terminate = %v, want ErrNotFoundActive", err)
	}
	if len(up.deleted) != 1 {
		t.Errorf("upstream deletes = %d, want 1 (no re-terminate)", len(up.deleted))
	}
}
