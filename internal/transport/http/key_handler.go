package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	apperrors "keyforge/internal/errors"
	"keyforge/internal/lifecycle"
	"keyforge/internal/middleware"
	api "keyforge/pkg/contracts/api/v1"
	"keyforge/pkg/contracts/domain"
)

// KeyHandler serves the public key routes
type KeyHandler struct {
	service      KeyService
	validator    *middleware.Validator
	errorHandler *apperrors.ErrorHandler
	logger       *slog.Logger
}

// NewKeyHandler creates a new key handler
func NewKeyHandler(service KeyService, validator *middleware.Validator, errorHandler *apperrors.ErrorHandler, logger *slog.Logger) *KeyHandler {
	return &KeyHandler{
		service:      service,
		validator:    validator,
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("handler", "keys")),
	}
}

// GetKey handles GET /api/get_key
func (h *KeyHandler) GetKey(w http.ResponseWriter, r *http.Request) {
	key, err := h.service.Issue(r.Context())
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, api.GetKeyResponse{Key: key})
}

// VerifyKey handles GET /api/verify_key?key=. Every outcome other than a
// store failure is a 200 with the state as the body.
func (h *KeyHandler) VerifyKey(w http.ResponseWriter, r *http.Request) {
	state, err := h.service.Verify(r.Context(), r.URL.Query().Get("key"))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "verification failed", slog.String("error", err.Error()))
		writeText(w, r, http.StatusInternalServerError, domain.KeyStateError.String())
		return
	}

	writeText(w, r, http.StatusOK, state.String())
}

// SaveUser handles POST /api/save_user
func (h *KeyHandler) SaveUser(w http.ResponseWriter, r *http.Request) {
	var req api.SaveUserRequest
	if err := h.validator.Decode(w, r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	reg, err := h.service.RegisterOrFetch(r.Context(), lifecycle.RegisterRequest{
		IP:      middleware.ClientAddr(r),
		HWID:    req.HWID,
		Cookies: req.Cookies,
		Key:     req.Key,
	})
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, api.SaveUserResponse{
		Status:       reg.Status,
		Key:          reg.Key,
		RegisteredAt: reg.RegisteredAt,
	})
}

func writeText(w http.ResponseWriter, r *http.Request, status int, body string) {
	render.Status(r, status)
	render.PlainText(w, r, body)
}
