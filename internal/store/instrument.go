package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	apperrors "keyforge/internal/errors"
	"keyforge/pkg/contracts/domain"
)

// storeMetrics holds the instruments recorded around every store call
type storeMetrics struct {
	calls    metric.Int64Counter
	failures metric.Int64Counter
	duration metric.Float64Histogram
}

func newStoreMetrics(meter metric.Meter) (*storeMetrics, error) {
	m := &storeMetrics{}
	var err error

	m.calls, err = meter.Int64Counter(
		"keyforge_store_calls_total",
		metric.WithDescription("Total number of key store calls"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store calls counter: %w", err)
	}

	m.failures, err = meter.Int64Counter(
		"keyforge_store_failures_total",
		metric.WithDescription("Total number of failed key store calls by cause"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store failures counter: %w", err)
	}

	m.duration, err = meter.Float64Histogram(
		"keyforge_store_call_duration_seconds",
		metric.WithDescription("Key store call duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store duration histogram: %w", err)
	}

	return m, nil
}

type instrumentedStore struct {
	next    Store
	backend string
	logger  *slog.Logger
	metrics *storeMetrics
}

// Instrument records metrics for every call on next and turns failures into
// UPSTREAM application errors. The failure cause is logged here and nowhere
// else, so callers only ever learn that the call failed.
func Instrument(next Store, backend string, logger *slog.Logger, meter metric.Meter) (Store, error) {
	metrics, err := newStoreMetrics(meter)
	if err != nil {
		return nil, err
	}
	return &instrumentedStore{
		next:    next,
		backend: backend,
		logger:  logger.With(slog.String("component", "store"), slog.String("backend", backend)),
		metrics: metrics,
	}, nil
}

func (s *instrumentedStore) observe(ctx context.Context, op string, start time.Time, err error) error {
	elapsed := time.Since(start)
	attrs := []attribute.KeyValue{
		attribute.String("backend", s.backend),
		attribute.String("op", op),
	}

	s.metrics.calls.Add(ctx, 1, metric.WithAttributes(attrs...))
	s.metrics.duration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attrs...))

	if err == nil {
		return nil
	}

	kind := Classify(err)
	s.metrics.failures.Add(ctx, 1, metric.WithAttributes(append(attrs, attribute.String("cause", string(kind)))...))

	logAttrs := []any{
		slog.String("op", op),
		slog.String("cause", string(kind)),
		slog.Duration("duration", elapsed),
		slog.String("error", err.Error()),
	}
	var callErr *CallError
	if errors.As(err, &callErr) && callErr.Status != 0 {
		logAttrs = append(logAttrs, slog.Int("status", callErr.Status))
	}
	s.logger.WarnContext(ctx, "store call failed", logAttrs...)

	return apperrors.NewUpstreamError("store "+op+" failed", err).
		WithContext("op", op).
		WithContext("cause", string(kind))
}

func (s *instrumentedStore) CreateKey(ctx context.Context, rec domain.KeyRecord) error {
	start := time.Now()
	return s.observe(ctx, "create_key", start, s.next.CreateKey(ctx, rec))
}

func (s *instrumentedStore) QueryKeys(ctx context.Context, filter domain.KeyFilter) ([]domain.KeyRecord, error) {
	start := time.Now()
	recs, err := s.next.QueryKeys(ctx, filter)
	if err = s.observe(ctx, "query_keys", start, err); err != nil {
		return nil, err
	}
	return recs, nil
}

func (s *instrumentedStore) PatchKey(ctx context.Context, key string, patch domain.KeyPatch) error {
	start := time.Now()
	return s.observe(ctx, "patch_key", start, s.next.PatchKey(ctx, key, patch))
}

func (s *instrumentedStore) DeleteKey(ctx context.Context, key string) error {
	start := time.Now()
	return s.observe(ctx, "delete_key", start, s.next.DeleteKey(ctx, key))
}

func (s *instrumentedStore) CreateUser(ctx context.Context, rec domain.UserRecord) error {
	start := time.Now()
	return s.observe(ctx, "create_user", start, s.next.CreateUser(ctx, rec))
}

func (s *instrumentedStore) QueryUsers(ctx context.Context, filter domain.UserFilter) ([]domain.UserRecord, error) {
	start := time.Now()
	recs, err := s.next.QueryUsers(ctx, filter)
	if err = s.observe(ctx, "query_users", start, err); err != nil {
		return nil, err
	}
	return recs, nil
}

func (s *instrumentedStore) DeleteUser(ctx context.Context, hwid string) error {
	start := time.Now()
	return s.observe(ctx, "delete_user", start, s.next.DeleteUser(ctx, hwid))
}

func (s *instrumentedStore) Ping(ctx context.Context) error {
	start := time.Now()
	return s.observe(ctx, "ping", start, s.next.Ping(ctx))
}

func (s *instrumentedStore) Close() error {
	return s.next.Close()
}
