package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	apperrors "keyforge/internal/errors"
)

const (
	// AdminHeader carries the admin token
	AdminHeader = "X-Admin-Key"
	// AdminQueryParam is the query fallback used by the dashboard link
	AdminQueryParam = "d"
)

// AdminGate admits requests presenting the configured shared secret
type AdminGate struct {
	secret       []byte
	logger       *slog.Logger
	errorHandler *apperrors.ErrorHandler
}

// NewAdminGate creates a gate for secret. An empty secret admits nobody.
func NewAdminGate(secret string, logger *slog.Logger, errorHandler *apperrors.ErrorHandler) *AdminGate {
	return &AdminGate{
		secret:       []byte(secret),
		logger:       logger.With(slog.String("component", "admin_gate")),
		errorHandler: errorHandler,
	}
}

// Authorized reports whether r carries exactly the admin secret
func (g *AdminGate) Authorized(r *http.Request) bool {
	token := r.Header.Get(AdminHeader)
	if token == "" {
		token = r.URL.Query().Get(AdminQueryParam)
	}
	if token == "" || len(g.secret) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), g.secret) == 1
}

// Handler answers every unauthorized request with the same 403
func (g *AdminGate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.Authorized(r) {
			g.logger.WarnContext(r.Context(), "admin access denied",
				slog.String("path", r.URL.Path),
				slog.String("client", ClientAddr(r)),
			)
			g.errorHandler.HandleError(w, r, apperrors.NewAuthError("access denied"))
			return
		}

		next.ServeHTTP(w, r)
	})
}
