package middleware

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	apperrors "keyforge/internal/errors"
)

// SlidingWindow caps requests per client over a rolling window.
// Each client keeps the timestamps of its accepted requests; a request is
// rejected while limit of them are still inside the window.
type SlidingWindow struct {
	name   string
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	clients map[string][]time.Time

	logger       *slog.Logger
	errorHandler *apperrors.ErrorHandler
}

// SlidingWindowOption configures a SlidingWindow
type SlidingWindowOption func(*SlidingWindow)

// WithWindowClock replaces the wall clock
func WithWindowClock(now func() time.Time) SlidingWindowOption {
	return func(l *SlidingWindow) {
		l.now = now
	}
}

// NewSlidingWindow creates a limiter named after the route group it guards
func NewSlidingWindow(name string, limit int, window time.Duration, logger *slog.Logger, errorHandler *apperrors.ErrorHandler, opts ...SlidingWindowOption) *SlidingWindow {
	l := &SlidingWindow{
		name:         name,
		limit:        limit,
		window:       window,
		now:          time.Now,
		clients:      make(map[string][]time.Time),
		logger:       logger.With(slog.String("component", "rate_limiter"), slog.String("limiter", name)),
		errorHandler: errorHandler,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow records a request from client if it fits in the window. When it
// does not, Allow returns how long until the oldest request expires.
func (l *SlidingWindow) Allow(client string) (bool, time.Duration) {
	now := l.now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	stamps := prune(l.clients[client], cutoff)

	if len(stamps) >= l.limit {
		l.clients[client] = stamps
		return false, stamps[0].Add(l.window).Sub(now)
	}

	l.clients[client] = append(stamps, now)
	return true, 0
}

// prune drops timestamps at or before cutoff. Timestamps are appended in
// order so the kept ones form a suffix.
func prune(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	return stamps[i:]
}

// Handler rejects over-limit clients with 429 and a Retry-After hint
func (l *SlidingWindow) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := ClientAddr(r)

		ok, retry := l.Allow(client)
		if !ok {
			seconds := int(math.Ceil(retry.Seconds()))
			if seconds < 1 {
				seconds = 1
			}

			l.logger.WarnContext(r.Context(), "rate limit exceeded",
				slog.String("client", client),
				slog.String("path", r.URL.Path),
				slog.Int("limit", l.limit),
				slog.Int("retry_after", seconds),
			)
			l.errorHandler.HandleError(w, r, apperrors.NewRateLimitError(seconds))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Sweep forgets clients whose requests have all left the window and
// returns how many were removed.
func (l *SlidingWindow) Sweep() int {
	cutoff := l.now().Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for client, stamps := range l.clients {
		if kept := prune(stamps, cutoff); len(kept) == 0 {
			delete(l.clients, client)
			removed++
		} else {
			l.clients[client] = kept
		}
	}
	return removed
}

// Clients returns the number of tracked clients
func (l *SlidingWindow) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// RunJanitor sweeps idle clients every interval until ctx is done
func (l *SlidingWindow) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := l.Sweep(); removed > 0 {
				l.logger.DebugContext(ctx, "swept idle rate limit entries", slog.Int("removed", removed))
			}
		}
	}
}
