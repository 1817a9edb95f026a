package lifecycle

import (
	"context"
	"time"

	"keyforge/internal/identity"
	"keyforge/pkg/contracts/domain"
)

// KeyView is a key record with its derived state
type KeyView struct {
	domain.KeyRecord
	State domain.KeyState
	Age   time.Duration
}

// UserView is a user record with the address decoded from its id
type UserView struct {
	domain.UserRecord
	IP string
}

// Counters summarises a snapshot
type Counters struct {
	Keys    int
	Unused  int
	Used    int
	Expired int
	Users   int
}

// Snapshot is a read-only view of the whole store for administrators
type Snapshot struct {
	TakenAt  time.Time
	TTL      time.Duration
	Keys     []KeyView
	Users    []UserView
	Counters Counters
}

// StateOf derives the state a key would verify to right now, without
// consuming it
func (e *Engine) StateOf(rec domain.KeyRecord) domain.KeyState {
	switch {
	case rec.Used:
		return domain.KeyStateUsed
	case e.now().Sub(rec.CreatedAt) > e.ttl:
		return domain.KeyStateExpired
	default:
		return domain.KeyStateValid
	}
}

// Snapshot lists every key and user
func (e *Engine) Snapshot(ctx context.Context) (snap *Snapshot, err error) {
	ctx, span := e.startSpan(ctx, "snapshot")
	defer func() { endSpan(span, err) }()

	keys, err := e.store.QueryKeys(ctx, domain.KeyFilter{})
	if err != nil {
		return nil, err
	}
	users, err := e.store.QueryUsers(ctx, domain.UserFilter{})
	if err != nil {
		return nil, err
	}

	now := e.now()
	snap = &Snapshot{
		TakenAt: now.UTC(),
		TTL:     e.ttl,
		Keys:    make([]KeyView, 0, len(keys)),
		Users:   make([]UserView, 0, len(users)),
	}

	for _, rec := range keys {
		view := KeyView{KeyRecord: rec, State: e.StateOf(rec), Age: now.Sub(rec.CreatedAt)}
		snap.Keys = append(snap.Keys, view)

		switch view.State {
		case domain.KeyStateUsed:
			snap.Counters.Used++
		case domain.KeyStateExpired:
			snap.Counters.Expired++
		default:
			snap.Counters.Unused++
		}
	}
	snap.Counters.Keys = len(keys)

	for _, rec := range users {
		ip, _, err := identity.Decode(rec.UserID)
		if err != nil {
			ip = identity.UnknownIP
		}
		snap.Users = append(snap.Users, UserView{UserRecord: rec, IP: ip})
	}
	snap.Counters.Users = len(users)

	return snap, nil
}
