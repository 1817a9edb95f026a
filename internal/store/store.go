// Package store persists key and user records.
//
// Every backend implements Store. Callers never talk to a backend directly:
// Open wraps it in WithTimeout, which bounds each call, and Instrument,
// which records metrics, logs the precise failure cause and collapses every
// failure into an UPSTREAM application error. Nothing is retried.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"

	"keyforge/internal/config"
	"keyforge/pkg/contracts/domain"
)

// Store is the key and user persistence contract
type Store interface {
	CreateKey(ctx context.Context, rec domain.KeyRecord) error
	QueryKeys(ctx context.Context, filter domain.KeyFilter) ([]domain.KeyRecord, error)
	PatchKey(ctx context.Context, key string, patch domain.KeyPatch) error
	DeleteKey(ctx context.Context, key string) error

	CreateUser(ctx context.Context, rec domain.UserRecord) error
	QueryUsers(ctx context.Context, filter domain.UserFilter) ([]domain.UserRecord, error)
	DeleteUser(ctx context.Context, hwid string) error

	// Ping checks that the backend is reachable
	Ping(ctx context.Context) error
	Close() error
}

// Migrator is implemented by backends that own their schema
type Migrator interface {
	Migrate(ctx context.Context) error
}

// FailureKind classifies why a backend call failed
type FailureKind string

const (
	FailureTransport FailureKind = "transport"
	FailureStatus    FailureKind = "status"
	FailureDecode    FailureKind = "decode"
	FailureTimeout   FailureKind = "timeout"
	FailureQuery     FailureKind = "query"
	FailureUnknown   FailureKind = "unknown"
)

// ErrDuplicate is returned when a create collides with an existing record
var ErrDuplicate = errors.New("record already exists")

// CallError is the raw failure of a backend call
type CallError struct {
	Op     string
	Kind   FailureKind
	Status int
	Err    error
}

func (e *CallError) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("%s: %s failure (status %d): %v", e.Op, e.Kind, e.Status, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("%s: %s failure (status %d)", e.Op, e.Kind, e.Status)
	default:
		return fmt.Sprintf("%s: %s failure: %v", e.Op, e.Kind, e.Err)
	}
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// Classify returns the failure kind carried by err
func Classify(err error) FailureKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr.Kind
	}
	return FailureUnknown
}

// OpenBackend builds the bare backend selected by cfg without decorators or
// schema migration
func OpenBackend(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Backend {
	case config.BackendREST:
		return NewREST(cfg.URL, cfg.APIKey, nil), nil
	case config.BackendPostgres:
		return OpenPostgres(ctx, cfg.DSN)
	case config.BackendSQLite:
		return OpenSQLite(cfg.SQLitePath)
	case config.BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// Open builds the configured backend, applies its schema when it owns one
// and wraps it with the timeout and instrumentation decorators
func Open(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger, meter metric.Meter) (Store, error) {
	backend, err := OpenBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if m, ok := backend.(Migrator); ok {
		if err := m.Migrate(ctx); err != nil {
			backend.Close()
			return nil, fmt.Errorf("store migration failed: %w", err)
		}
	}

	instrumented, err := Instrument(WithTimeout(backend, cfg.Timeout), cfg.Backend, logger, meter)
	if err != nil {
		backend.Close()
		return nil, err
	}

	logger.Info("store opened",
		slog.String("backend", cfg.Backend),
		slog.Duration("timeout", cfg.Timeout))

	return instrumented, nil
}
