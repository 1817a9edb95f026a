// Package domain contains the core domain models for the keyforge license service.
// These types are shared by the store adapters, the lifecycle engine and the
// HTTP transport so every layer speaks about keys and users the same way.
package domain

import (
	"time"
)

// KeyRecord is a single issued license key as persisted in the key store.
// A record is mutated at most once: Used flips from false to true.
type KeyRecord struct {
	Key       string    `json:"key" db:"key" gorm:"primaryKey;column:key"`
	CreatedAt time.Time `json:"created_at" db:"created_at" gorm:"column:created_at;index"`
	Used      bool      `json:"used" db:"used" gorm:"column:used;not null;default:false"`
}

// TableName binds KeyRecord to the "keys" collection for gorm backed stores
func (KeyRecord) TableName() string { return "keys" }

// UserRecord binds a derived identity to a key.
// Key is a soft reference and may dangle once the key is deleted.
type UserRecord struct {
	UserID       string    `json:"user_id" db:"user_id" gorm:"primaryKey;column:user_id"`
	Cookies      string    `json:"cookies" db:"cookies" gorm:"column:cookies"`
	HWID         string    `json:"hwid" db:"hwid" gorm:"column:hwid;index"`
	Key          string    `json:"key" db:"key" gorm:"column:key"`
	RegisteredAt time.Time `json:"registered_at" db:"registered_at" gorm:"column:registered_at"`
}

// TableName binds UserRecord to the "users" collection for gorm backed stores
func (UserRecord) TableName() string { return "users" }

// KeyState is the observable verification status of a key
type KeyState string

const (
	KeyStateValid   KeyState = "valid"
	KeyStateUsed    KeyState = "used"
	KeyStateExpired KeyState = "expired"
	KeyStateInvalid KeyState = "invalid"
	KeyStateError   KeyState = "error"
)

// String returns the wire representation of the state
func (s KeyState) String() string {
	return string(s)
}

// RegistrationStatus tells whether save_user created a new user or found one
type RegistrationStatus string

const (
	RegistrationExists RegistrationStatus = "exists"
	RegistrationSaved  RegistrationStatus = "saved"
)

// KeyFilter selects key records by exact match. The zero value selects all records.
type KeyFilter struct {
	Key string
}

// IsZero reports whether the filter matches every record
func (f KeyFilter) IsZero() bool {
	return f.Key == ""
}

// Matches reports whether the record satisfies the filter
func (f KeyFilter) Matches(rec KeyRecord) bool {
	return f.Key == "" || rec.Key == f.Key
}

// UserFilter selects user records by exact match on user_id and/or hwid.
// The zero value selects all records.
type UserFilter struct {
	UserID string
	HWID   string
}

// IsZero reports whether the filter matches every record
func (f UserFilter) IsZero() bool {
	return f.UserID == "" && f.HWID == ""
}

// Matches reports whether the record satisfies the filter
func (f UserFilter) Matches(rec UserRecord) bool {
	if f.UserID != "" && rec.UserID != f.UserID {
		return false
	}
	if f.HWID != "" && rec.HWID != f.HWID {
		return false
	}
	return true
}

// KeyPatch holds the fields a patch may change. Only the used flag is patchable.
type KeyPatch struct {
	Used bool `json:"used"`
}
