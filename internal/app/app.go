package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/go-chi/chi/v5"

	"keyforge/internal/config"
	apperrors "keyforge/internal/errors"
	"keyforge/internal/infrastructure"
	"keyforge/internal/keygen"
	"keyforge/internal/lifecycle"
	customMiddleware "keyforge/internal/middleware"
	"keyforge/internal/scheduler"
	"keyforge/internal/store"
	handlers "keyforge/internal/transport/http"
	"keyforge/pkg/contracts"
)

// AppName is reported in startup logs
const AppName = "keyforge"

// Application represents the main application container
type Application struct {
	Config        *config.Config
	Router        *chi.Mux
	Server        *http.Server
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	Store         store.Store
	Engine        *lifecycle.Engine
	Scheduler     *scheduler.Scheduler

	limiters     []*customMiddleware.SlidingWindow
	stopJanitors context.CancelFunc
	janitorsDone sync.WaitGroup
}

// NewApplication wires telemetry and the configured store, then builds the
// application on top of them
func NewApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Application, error) {
	logger.InfoContext(ctx, "Application starting",
		slog.String("name", AppName),
		slog.String("version", contracts.Version),
		slog.String("backend", cfg.Store.Backend))

	otelProviders, err := infrastructure.InitializeOTel(cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	st, err := store.Open(ctx, cfg.Store, logger, otelProviders.Meter)
	if err != nil {
		_ = otelProviders.Shutdown(ctx)
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	app, err := New(cfg, logger, otelProviders, st)
	if err != nil {
		st.Close()
		_ = otelProviders.Shutdown(ctx)
		return nil, err
	}
	return app, nil
}

// New builds the application around an already opened store
func New(cfg *config.Config, logger *slog.Logger, otelProviders *infrastructure.OTelProviders, st store.Store) (*Application, error) {
	gen, err := keygen.NewGenerator(cfg.Keys.Length)
	if err != nil {
		return nil, fmt.Errorf("failed to create key generator: %w", err)
	}

	engine, err := lifecycle.NewEngine(st, gen, logger,
		lifecycle.WithTTL(cfg.Keys.TTL),
		lifecycle.WithMeter(otelProviders.Meter))
	if err != nil {
		return nil, fmt.Errorf("failed to create lifecycle engine: %w", err)
	}

	app := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: otelProviders,
		Store:         st,
		Engine:        engine,
	}

	if cfg.Cleanup.Enabled {
		app.Scheduler = scheduler.New(logger)
		task := scheduler.CleanupTask(engine, cfg.Cleanup.Schedule, cfg.Cleanup.Days)
		if err := app.Scheduler.Register(task); err != nil {
			return nil, fmt.Errorf("failed to schedule cleanup: %w", err)
		}
	}

	if err := app.setupRouter(); err != nil {
		return nil, err
	}
	app.createServer()

	return app, nil
}

// setupRouter mounts every route. Middleware order:
// RequestID → TrustedRealIP → OTel → Logger → Recoverer → Timeout → headers → CORS → global limit
func (a *Application) setupRouter() error {
	proxies, err := a.Config.Server.TrustedProxyPrefixes()
	if err != nil {
		return err
	}

	r := chi.NewRouter()
	errorHandler := apperrors.NewErrorHandler(a.Logger, false)

	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.TrustedRealIP(proxies))

	r.NotFound(errorHandler.NotFound)
	r.MethodNotAllowed(errorHandler.MethodNotAllowed)

	otelMiddleware, err := customMiddleware.NewOTelMiddleware(a.OTelProviders)
	if err != nil {
		return fmt.Errorf("failed to create OpenTelemetry middleware: %w", err)
	}

	validator := customMiddleware.NewValidator()
	keys := handlers.NewKeyHandler(a.Engine, validator, errorHandler, a.Logger)
	admin := handlers.NewAdminHandler(a.Engine, validator, errorHandler, a.Logger)
	health := handlers.NewHealthHandler(a.Store, a.Config.Store.Backend, a.Logger)
	gate := customMiddleware.NewAdminGate(a.Config.Security.AdminKey, a.Logger, errorHandler)

	limits := a.Config.Limits
	verifyLimit := a.newLimiter("verify", limits.Verify, errorHandler)
	issueLimit := a.newLimiter("issue", limits.Issue, errorHandler)
	registerLimit := a.newLimiter("register", limits.Register, errorHandler)
	cleanLimit := a.newLimiter("clean", limits.Clean, errorHandler)

	r.Group(func(r chi.Router) {
		r.Use(otelMiddleware.Handler)
		r.Use(customMiddleware.StructuredLogger(a.Logger))
		r.Use(apperrors.RecoveryMiddleware(errorHandler))
		r.Use(customMiddleware.Timeout(a.Config.Server.RequestTimeout))
		r.Use(customMiddleware.SecurityHeaders)

		if a.Config.Security.EnableCORS {
			r.Use(customMiddleware.CORS(a.getCORSConfig()))
		}

		if a.Config.Security.RateLimit.Enabled {
			r.Use(customMiddleware.NewRateLimiter(
				a.Config.Security.RateLimit.RPS,
				a.Config.Security.RateLimit.Burst,
				a.Logger,
				errorHandler,
			).Handler)
		}

		r.Route("/api", func(r chi.Router) {
			r.Get("/health", health.HealthCheck)
			r.Get("/health/ready", health.ReadinessCheck)

			r.With(issueLimit.Handler).Get("/get_key", keys.GetKey)
			r.With(verifyLimit.Handler).Get("/verify_key", keys.VerifyKey)
			r.With(registerLimit.Handler).Post("/save_user", keys.SaveUser)

			// Limits apply before the admin check
			r.With(cleanLimit.Handler, gate.Handler).Post("/clean_old_keys", admin.CleanOldKeys)
			r.With(gate.Handler).Post("/delete_key", admin.DeleteKey)
			r.With(gate.Handler).Post("/delete_user", admin.DeleteUser)
		})

		r.Route("/user/admin", func(r chi.Router) {
			r.Use(gate.Handler)
			r.Get("/", admin.Dashboard)
			r.Get("/export.xlsx", admin.Export)
		})
	})

	// Prometheus scrape endpoint stays outside the instrumented group
	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	a.Router = r
	return nil
}

func (a *Application) newLimiter(name string, limit int, errorHandler *apperrors.ErrorHandler) *customMiddleware.SlidingWindow {
	l := customMiddleware.NewSlidingWindow(name, limit, a.Config.Limits.Window, a.Logger, errorHandler)
	a.limiters = append(a.limiters, l)
	return l
}

// getCORSConfig returns CORS configuration
func (a *Application) getCORSConfig() customMiddleware.CORSConfig {
	return customMiddleware.CORSConfig{
		AllowedOrigins: a.Config.Security.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID", customMiddleware.AdminHeader},
		ExposedHeaders: []string{"X-Request-ID", "Retry-After"},
		MaxAge:         300,
		Logger:         a.Logger,
	}
}

// createServer creates the HTTP server
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:         a.Config.Addr(),
		Handler:      a.Router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}
}

// Start launches the background workers and the HTTP server. A listener
// failure cancels ctx through cancel.
func (a *Application) Start(ctx context.Context, cancel context.CancelFunc) error {
	a.Logger.InfoContext(ctx, "Starting application",
		slog.String("name", AppName),
		slog.String("version", contracts.Version),
		slog.String("address", a.Server.Addr),
		slog.String("backend", a.Config.Store.Backend),
		slog.String("level", a.Config.Logging.Level))

	janitorCtx, stop := context.WithCancel(context.Background())
	a.stopJanitors = stop
	for _, l := range a.limiters {
		a.janitorsDone.Add(1)
		go func(l *customMiddleware.SlidingWindow) {
			defer a.janitorsDone.Done()
			l.RunJanitor(janitorCtx, a.Config.Limits.Window)
		}(l)
	}

	if a.Scheduler != nil {
		a.Scheduler.Start()
	}

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.ErrorContext(ctx, "Server error", slog.String("error", err.Error()))
			// Signal shutdown through context instead of os.Exit
			cancel()
		}
	}()

	a.Logger.InfoContext(ctx, "Application started successfully",
		slog.String("address", fmt.Sprintf("http://localhost%s", a.Server.Addr)))
	return nil
}

// Stop drains the server then releases the store and telemetry
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error

	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
	}

	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}

	if a.stopJanitors != nil {
		a.stopJanitors()
		a.janitorsDone.Wait()
	}

	if err := a.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close error: %w", err))
	}

	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry", slog.String("error", err.Error()))
		}
	}

	a.Logger.InfoContext(ctx, "Application shutdown complete")
	return errors.Join(errs...)
}

// Run starts the application and blocks until SIGINT, SIGTERM or a server
// failure, then shuts down gracefully
func (a *Application) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	if err := a.Start(ctx, cancel); err != nil {
		return err
	}

	select {
	case sig := <-sigChan:
		a.Logger.InfoContext(ctx, "Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		a.Logger.WarnContext(ctx, "Server stopped unexpectedly")
	}

	// The run context may already be cancelled; give shutdown its own
	return a.Stop(context.Background())
}
