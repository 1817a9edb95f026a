package http

import (
	"context"

	"keyforge/internal/lifecycle"
	"keyforge/pkg/contracts/domain"
)

// KeyService is the lifecycle surface the handlers depend on.
// lifecycle.Engine implements it.
type KeyService interface {
	Issue(ctx context.Context) (string, error)
	Verify(ctx context.Context, key string) (domain.KeyState, error)
	RegisterOrFetch(ctx context.Context, req lifecycle.RegisterRequest) (*lifecycle.Registration, error)
	Cleanup(ctx context.Context, days int) (int, error)
	DeleteKey(ctx context.Context, key string) error
	DeleteUser(ctx context.Context, hwid string) error
	Snapshot(ctx context.Context) (*lifecycle.Snapshot, error)
}

var _ KeyService = (*lifecycle.Engine)(nil)

// Pinger reports whether the key store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}
