package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	apperrors "keyforge/internal/errors"
	"keyforge/internal/identity"
	"keyforge/internal/keygen"
	"keyforge/internal/store"
	"keyforge/pkg/contracts/domain"
)

const (
	// DefaultTTL is how long an issued key stays consumable
	DefaultTTL = 24 * time.Hour

	// DefaultCleanupDays is the age threshold used when none is given
	DefaultCleanupDays = 1

	tracerName = "keyforge/lifecycle"
)

// KeyGenerator produces fresh keys
type KeyGenerator interface {
	Generate() string
}

// RegisterRequest carries the inputs of RegisterOrFetch
type RegisterRequest struct {
	IP      string
	HWID    string
	Cookies string
	// Key is an optional candidate the caller already holds
	Key string
}

// Registration is the outcome of RegisterOrFetch
type Registration struct {
	Status       domain.RegistrationStatus
	Key          string
	RegisteredAt time.Time
}

// Engine runs the key lifecycle against a store
type Engine struct {
	store   store.Store
	gen     KeyGenerator
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger
	tracer  trace.Tracer
	meter   metric.Meter
	metrics *Metrics
}

// Option configures an Engine
type Option func(*Engine)

// WithClock replaces the wall clock
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithTTL sets how long an issued key stays consumable
func WithTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		if ttl > 0 {
			e.ttl = ttl
		}
	}
}

// WithMeter records lifecycle metrics on meter instead of the global provider
func WithMeter(meter metric.Meter) Option {
	return func(e *Engine) { e.meter = meter }
}

// NewEngine creates a lifecycle engine
func NewEngine(st store.Store, gen KeyGenerator, logger *slog.Logger, opts ...Option) (*Engine, error) {
	e := &Engine{
		store:  st,
		gen:    gen,
		ttl:    DefaultTTL,
		now:    time.Now,
		logger: logger.With(slog.String("component", "lifecycle")),
		tracer: otel.Tracer(tracerName),
		meter:  otel.Meter(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}

	metrics, err := NewMetrics(e.meter)
	if err != nil {
		return nil, err
	}
	e.metrics = metrics

	return e, nil
}

// TTL returns the key expiry window
func (e *Engine) TTL() time.Duration {
	return e.ttl
}

func (e *Engine) startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, "lifecycle."+name)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Issue generates a key and persists it unused
func (e *Engine) Issue(ctx context.Context) (key string, err error) {
	ctx, span := e.startSpan(ctx, "issue")
	defer func() { endSpan(span, err) }()

	key = e.gen.Generate()
	rec := domain.KeyRecord{Key: key, CreatedAt: e.now().UTC(), Used: false}

	if err := e.store.CreateKey(ctx, rec); err != nil {
		return "", err
	}

	e.metrics.KeysIssued.Add(ctx, 1)
	e.logger.InfoContext(ctx, "key issued", slog.String("key", keygen.Mask(key)))
	return key, nil
}

// Verify consumes key if it is valid and reports its state.
// Malformed and unknown keys are invalid, not errors. A store failure yields
// KeyStateError together with the error; a failed consume leaves the key
// unused.
func (e *Engine) Verify(ctx context.Context, key string) (state domain.KeyState, err error) {
	ctx, span := e.startSpan(ctx, "verify")
	defer func() {
		span.SetAttributes(attribute.String("key.state", state.String()))
		e.metrics.Verifications.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state.String())))
		endSpan(span, err)
	}()

	if !keygen.Validate(key) {
		return domain.KeyStateInvalid, nil
	}

	recs, err := e.store.QueryKeys(ctx, domain.KeyFilter{Key: key})
	if err != nil {
		return domain.KeyStateError, err
	}
	if len(recs) == 0 {
		return domain.KeyStateInvalid, nil
	}

	rec := recs[0]
	if rec.Used {
		return domain.KeyStateUsed, nil
	}
	if e.now().Sub(rec.CreatedAt) > e.ttl {
		return domain.KeyStateExpired, nil
	}

	if err := e.store.PatchKey(ctx, key, domain.KeyPatch{Used: true}); err != nil {
		return domain.KeyStateError, err
	}

	e.logger.InfoContext(ctx, "key consumed", slog.String("key", keygen.Mask(key)))
	return domain.KeyStateValid, nil
}

// RegisterOrFetch returns the key bound to the caller's identity, binding
// one first if the identity is new. A candidate key is adopted only when it
// is well formed and present in the store; otherwise a fresh key is issued.
func (e *Engine) RegisterOrFetch(ctx context.Context, req RegisterRequest) (reg *Registration, err error) {
	ctx, span := e.startSpan(ctx, "register")
	defer func() { endSpan(span, err) }()

	if !identity.ValidHWID(req.HWID) {
		return nil, apperrors.NewValidationError("invalid hwid")
	}

	userID := identity.Encode(req.IP, req.HWID)

	existing, err := e.store.QueryUsers(ctx, domain.UserFilter{UserID: userID})
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		e.metrics.Registrations.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(domain.RegistrationExists))))
		return &Registration{
			Status:       domain.RegistrationExists,
			Key:          existing[0].Key,
			RegisteredAt: existing[0].RegisteredAt,
		}, nil
	}

	key, err := e.adoptOrIssue(ctx, req.Key)
	if err != nil {
		return nil, err
	}

	rec := domain.UserRecord{
		UserID:       userID,
		Cookies:      req.Cookies,
		HWID:         req.HWID,
		Key:          key,
		RegisteredAt: e.now().UTC(),
	}
	if err := e.store.CreateUser(ctx, rec); err != nil {
		return nil, err
	}

	e.metrics.Registrations.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(domain.RegistrationSaved))))
	e.logger.InfoContext(ctx, "user registered",
		slog.String("hwid", req.HWID),
		slog.String("key", keygen.Mask(key)))

	return &Registration{
		Status:       domain.RegistrationSaved,
		Key:          key,
		RegisteredAt: rec.RegisteredAt,
	}, nil
}

func (e *Engine) adoptOrIssue(ctx context.Context, candidate string) (string, error) {
	if candidate != "" && keygen.Validate(candidate) {
		recs, err := e.store.QueryKeys(ctx, domain.KeyFilter{Key: candidate})
		if err != nil {
			return "", err
		}
		if len(recs) > 0 {
			return candidate, nil
		}
	}
	return e.Issue(ctx)
}

// Cleanup deletes every key created strictly before now minus days and
// returns how many deletions succeeded. Individual failures are logged and
// skipped; only a failed listing aborts the sweep. Once ctx is done the
// remaining records are left for the next sweep.
func (e *Engine) Cleanup(ctx context.Context, days int) (deleted int, err error) {
	ctx, span := e.startSpan(ctx, "cleanup")
	defer func() {
		span.SetAttributes(attribute.Int("keys.deleted", deleted))
		endSpan(span, err)
	}()

	if days < 0 {
		return 0, apperrors.NewValidationError(fmt.Sprintf("days must not be negative, got %d", days))
	}

	cutoff := e.now().Add(-time.Duration(days) * 24 * time.Hour)

	recs, err := e.store.QueryKeys(ctx, domain.KeyFilter{})
	if err != nil {
		return 0, err
	}

	failed, skipped := 0, 0
	for i, rec := range recs {
		if ctxErr := ctx.Err(); ctxErr != nil {
			for _, rest := range recs[i:] {
				if rest.CreatedAt.Before(cutoff) {
					skipped++
				}
			}
			e.logger.WarnContext(ctx, "cleanup interrupted",
				slog.Int("deleted", deleted),
				slog.Int("remaining", skipped),
				slog.String("error", ctxErr.Error()))
			break
		}
		if !rec.CreatedAt.Before(cutoff) {
			continue
		}
		if err := e.store.DeleteKey(ctx, rec.Key); err != nil {
			failed++
			e.logger.WarnContext(ctx, "cleanup skipped key",
				slog.String("key", keygen.Mask(rec.Key)),
				slog.String("error", err.Error()))
			continue
		}
		deleted++
	}

	e.metrics.KeysCleaned.Add(ctx, int64(deleted))
	e.logger.InfoContext(ctx, "cleanup finished",
		slog.Int("days", days),
		slog.Time("cutoff", cutoff),
		slog.Int("scanned", len(recs)),
		slog.Int("deleted", deleted),
		slog.Int("failed", failed),
		slog.Int("skipped", skipped))

	return deleted, nil
}

// DeleteKey removes a key record
func (e *Engine) DeleteKey(ctx context.Context, key string) (err error) {
	ctx, span := e.startSpan(ctx, "delete_key")
	defer func() { endSpan(span, err) }()

	if key == "" {
		return apperrors.NewValidationError("key is required")
	}
	if err := e.store.DeleteKey(ctx, key); err != nil {
		return err
	}

	e.metrics.AdminDeletes.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "key")))
	e.logger.InfoContext(ctx, "key deleted", slog.String("key", keygen.Mask(key)))
	return nil
}

// DeleteUser removes every user bound to hwid
func (e *Engine) DeleteUser(ctx context.Context, hwid string) (err error) {
	ctx, span := e.startSpan(ctx, "delete_user")
	defer func() { endSpan(span, err) }()

	if !identity.ValidHWID(hwid) {
		return apperrors.NewValidationError("invalid hwid")
	}
	if err := e.store.DeleteUser(ctx, hwid); err != nil {
		return err
	}

	e.metrics.AdminDeletes.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", "user")))
	e.logger.InfoContext(ctx, "user deleted", slog.String("hwid", hwid))
	return nil
}
