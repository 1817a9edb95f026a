package http

import (
	"bytes"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	apperrors "keyforge/internal/errors"
	"keyforge/internal/lifecycle"
	"keyforge/internal/middleware"
	api "keyforge/pkg/contracts/api/v1"
)

// AdminHandler serves the privileged routes. It assumes the admin gate has
// already run.
type AdminHandler struct {
	service      KeyService
	validator    *middleware.Validator
	errorHandler *apperrors.ErrorHandler
	logger       *slog.Logger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(service KeyService, validator *middleware.Validator, errorHandler *apperrors.ErrorHandler, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		service:      service,
		validator:    validator,
		errorHandler: errorHandler,
		logger:       logger.With(slog.String("handler", "admin")),
	}
}

// CleanOldKeys handles POST /api/clean_old_keys
func (h *AdminHandler) CleanOldKeys(w http.ResponseWriter, r *http.Request) {
	var req api.CleanOldKeysRequest
	if err := h.validator.Decode(w, r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	days := lifecycle.DefaultCleanupDays
	if req.Days != nil {
		days = *req.Days
	}

	deleted, err := h.service.Cleanup(r.Context(), days)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	render.JSON(w, r, api.CleanOldKeysResponse{Deleted: deleted})
}

// DeleteKey handles POST /api/delete_key
func (h *AdminHandler) DeleteKey(w http.ResponseWriter, r *http.Request) {
	var req api.DeleteKeyRequest
	if err := h.validator.Decode(w, r, &req); err != nil {
		h.textError(w, r, err)
		return
	}

	if err := h.service.DeleteKey(r.Context(), req.Key); err != nil {
		h.textError(w, r, err)
		return
	}

	writeText(w, r, http.StatusOK, "Key deleted")
}

// DeleteUser handles POST /api/delete_user
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	var req api.DeleteUserRequest
	if err := h.validator.Decode(w, r, &req); err != nil {
		h.textError(w, r, err)
		return
	}

	if err := h.service.DeleteUser(r.Context(), req.HWID); err != nil {
		h.textError(w, r, err)
		return
	}

	writeText(w, r, http.StatusOK, "User deleted")
}

// Dashboard handles GET /user/admin
func (h *AdminHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.Snapshot(r.Context())
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	// Render fully before writing so a template error still yields a clean 500
	var buf bytes.Buffer
	if err := dashboardTemplate.Execute(&buf, newDashboardView(snap, r)); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// Export handles GET /user/admin/export.xlsx
func (h *AdminHandler) Export(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.Snapshot(r.Context())
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := WriteWorkbook(&buf, snap); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+exportFilename(snap)+`"`)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// textError answers a text route failure with a bare status word
func (h *AdminHandler) textError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.StatusFor(err)

	level := slog.LevelWarn
	body := "invalid request"
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
		body = "error"
	}

	h.logger.Log(r.Context(), level, "admin request failed",
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.String("error", err.Error()))

	writeText(w, r, status, body)
}
