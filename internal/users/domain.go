package users

import (
	"time"

	"github.com/openkz/admin-api/internal/shared"
)

// Account statuses.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// User represents a user account for management.
type User struct {
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	Email           string     `json:"email"`
	Status          string     `json:"status"`
	AvatarURL       string     `json:"avatar_url,omitempty"`
	EmailVerifiedAt *time.Time `json:"email_verified_at,omitempty"`
	Roles           []string   `json:"roles"`
	Permissions     []string   `json:"permissions"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ListFilters narrows user listings. Search matches name and email.
type ListFilters struct {
	Search  string
	Page    int
	PerPage int
}

// Page is one page of users.
type Page struct {
	Data       []User            `json:"data"`
	Pagination shared.Pagination `json:"pagination"`
}

// UpdateInput describes a partial account update. Nil fields are untouched.
type UpdateInput struct {
	Name                 *string   `json:"name" validate:"omitempty,min=1,max=255"`
	Email                *string   `json:"email" validate:"omitempty,email,max=255"`
	Password             *string   `json:"password" validate:"omitempty,min=8,max=255"`
	PasswordConfirmation *string   `json:"password_confirmation"`
	Roles                *[]string `json:"roles" validate:"omitempty,dive,required,max=255"`
	Status               *string   `json:"status" validate:"omitempty,oneof=active inactive"`
}

// SyncPermissionsInput lists the direct grants a user should hold.
type SyncPermissionsInput struct {
	Permissions []string `json:"permissions" validate:"dive,required,max=255"`
}

// ProfileChanges carries column updates applied in one statement.
type ProfileChanges struct {
	Name         *string
	Email        *string
	PasswordHash *string
	Status       *string
}
