// Package api contains API contract definitions for the keyforge HTTP surface.
// Version v1 represents the current stable API version.
package api

import (
	"time"

	"keyforge/pkg/contracts/domain"
)

// Key API

// GetKeyResponse is returned by GET /api/get_key
type GetKeyResponse struct {
	Key string `json:"key"`
}

// SaveUserRequest is the body of POST /api/save_user
type SaveUserRequest struct {
	HWID    string `json:"hwid" validate:"required,hwid"`
	Cookies string `json:"cookies,omitempty"`
	Key     string `json:"key,omitempty"`
}

// SaveUserResponse is returned by POST /api/save_user
type SaveUserResponse struct {
	Status       domain.RegistrationStatus `json:"status"`
	Key          string                    `json:"key"`
	RegisteredAt time.Time                 `json:"registered_at"`
}

// Admin API

// CleanOldKeysRequest is the body of POST /api/clean_old_keys.
// Days is a pointer so an explicit 0 can be told apart from an omitted field.
type CleanOldKeysRequest struct {
	Days *int `json:"days,omitempty" validate:"omitempty,min=0"`
}

// CleanOldKeysResponse is returned by POST /api/clean_old_keys
type CleanOldKeysResponse struct {
	Deleted int `json:"deleted"`
}

// DeleteKeyRequest is the body of POST /api/delete_key
type DeleteKeyRequest struct {
	Key string `json:"key" validate:"required"`
}

// DeleteUserRequest is the body of POST /api/delete_user
type DeleteUserRequest struct {
	HWID string `json:"hwid" validate:"required,hwid"`
}

// Health API

// HealthResponse represents a health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Backend   string            `json:"backend"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
