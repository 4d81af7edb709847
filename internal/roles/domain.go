package roles

import "time"

// Role represents a stored role with its permission names. Builtin marks a
// seeded row; it keeps its compiled defaults across renames and nothing
// else ever gains them.
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Guard       string    `json:"guard"`
	Permissions []string  `json:"permissions"`
	Builtin     bool      `json:"builtin"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Permission represents a stored permission row. Catalog is set when the
// name is one the API enforces itself.
type Permission struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Guard     string    `json:"guard"`
	Catalog   bool      `json:"catalog"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RoleFilters narrows role listings. Search matches role names and the names
// of attached permissions.
type RoleFilters struct {
	Search string
	Guard  string
}

// CreateRoleInput describes a new role.
type CreateRoleInput struct {
	Name        string   `json:"name" validate:"required,max=255"`
	Guard       string   `json:"guard" validate:"omitempty,max=255"`
	Permissions []string `json:"permissions" validate:"omitempty,dive,required,max=255"`
}

// UpdateRoleInput describes a partial role update. A non-nil Permissions
// replaces the attached set entirely.
type UpdateRoleInput struct {
	Name        *string   `json:"name" validate:"omitempty,max=255"`
	Guard       *string   `json:"guard" validate:"omitempty,max=255"`
	Permissions *[]string `json:"permissions" validate:"omitempty,dive,required,max=255"`
}

// CreatePermissionInput describes a new permission row.
type CreatePermissionInput struct {
	Name  string `json:"name" validate:"required,max=255"`
	Guard string `json:"guard" validate:"omitempty,max=255"`
}

// UpdatePermissionInput describes a partial permission update.
type UpdatePermissionInput struct {
	Name  *string `json:"name" validate:"omitempty,max=255"`
	Guard *string `json:"guard" validate:"omitempty,max=255"`
}
