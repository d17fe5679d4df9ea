package app

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/avdeev/cobrowse/internal/domain"
	"github.com/avdeev/cobrowse/internal/store"
)

// codeAttempts bounds collision retries; with 36^6 codes running out
// means something else is broken, but it must not loop forever.
const codeAttempts = 10

type Rooms struct {
	Store *store.Store
	// GenCode draws one candidate code; overridable in tests.
	GenCode func() string
}

func NewRooms(st *store.Store) *Rooms {
	return &Rooms{Store: st, GenCode: randomCode}
}

func randomCode() string {
	b := make([]byte, domain.RoomCodeLength)
	for i := range b {
		b[i] = domain.RoomCodeAlphabet[rand.IntN(len(domain.RoomCodeAlphabet))]
	}
	return string(b)
}

// Create mints a room onto a currently-active session. Dead sessions
// cannot receive rooms.
func (r *Rooms) Create(ctx context.Context, sessionUUID, label string) (*domain.Room, error) {
	sess, err := r.Store.Get(ctx, sessionUUID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrNotFoundActive
		}
		return nil, err
	}
	if !sess.Active {
		return nil, domain.ErrNotFoundActive
	}

	var code string
	for i := 0; i < codeAttempts; i++ {
		candidate := r.GenCode()
		exists, err := r.Store.RoomCodeExists(ctx, candidate)
		if err != nil {
			return nil, err
		}
		if !exists {
			code = candidate
			break
		}
	}
	if code == "" {
		return nil, domain.ErrCodeExhausted
	}

	room := &domain.Room{
		Code:        code,
		SessionUUID: sessionUUID,
		Label:       label,
		CreatedAt:   time.Now().UTC(),
	}
	if err := r.Store.InsertRoom(ctx, room); err != nil {
		return nil, err
	}
	log.Info().Str("module", "app.rooms").Str("code", code).Str("session", sessionUUID).Msg("room created")
	return room, nil
}

// Resolve maps a room code to its live session. Unknown codes are
// ErrNotFound; rooms whose session has died report the session as
// gone, not the room.
func (r *Rooms) Resolve(ctx context.Context, code string) (*domain.Session, error) {
	room, err := r.Store.GetRoom(ctx, code)
	if err != nil {
		return nil, err
	}
	sess, err := r.Store.Get(ctx, room.SessionUUID)
	if err != nil {
		return nil, err
	}
	if !sess.Active {
		return nil, domain.ErrGone
	}
	now := time.Now().UTC()
	if err := r.Store.Touch(ctx, sess.UUID, now); err != nil {
		return nil, err
	}
	sess.LastAccessed = now
	return sess, nil
}
