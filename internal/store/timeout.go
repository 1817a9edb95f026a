package store

import (
	"context"
	"time"

	"keyforge/pkg/contracts/domain"
)

// DefaultTimeout bounds a single store call when none is configured
const DefaultTimeout = 5 * time.Second

type timeoutStore struct {
	next    Store
	timeout time.Duration
}

// WithTimeout bounds every call on next by d
func WithTimeout(next Store, d time.Duration) Store {
	if d <= 0 {
		d = DefaultTimeout
	}
	return &timeoutStore{next: next, timeout: d}
}

func (s *timeoutStore) CreateKey(ctx context.Context, rec domain.KeyRecord) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.next.CreateKey(ctx, rec)
}

func (s *timeoutStore) QueryKeys(ctx context.Context, filter domain.KeyFilter) ([]domain.KeyRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.next.QueryKeys(ctx, filter)
}

func (s *timeoutStore) PatchKey(ctx context.Context, key string, patch domain.KeyPatch) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.next.PatchKey(ctx, key, patch)
}

func (s *timeoutStore) DeleteKey(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.next.DeleteKey(ctx, key)
}

func (s *timeoutStore) CreateUser(ctx context.Context, rec domain.UserRecord) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.next.CreateUser(ctx, rec)
}

func (s *timeoutStore) QueryUsers(ctx context.Context, filter domain.UserFilter) ([]domain.UserRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.next.QueryUsers(ctx, filter)
}

func (s *timeoutStore) DeleteUser(ctx context.Context, hwid string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.next.DeleteUser(ctx, hwid)
}

func (s *timeoutStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.next.Ping(ctx)
}

func (s *timeoutStore) Close() error {
	return s.next.Close()
}
