package rbac

import (
	"context"
	"fmt"
)

// RoleGrants is the stored view of a set of roles within one guard.
type RoleGrants struct {
	// Permissions is the union of permissions attached to the roles.
	Permissions []Permission
	// Builtin names the roles whose rows were seeded as built-ins. Only these
	// carry compiled defaults; a runtime role reusing a built-in name does not.
	Builtin []string
}

// RoleStore reads stored role definitions.
type RoleStore interface {
	RolePermissions(ctx context.Context, guard string, roles []string) (RoleGrants, error)
}

// PermissionResolver computes a principal's effective permission set.
type PermissionResolver interface {
	Resolve(ctx context.Context, p Principal) (PermissionSet, error)
}

// Resolver derives effective permissions from live role definitions.
type Resolver struct {
	store        RoleStore
	defaultGuard string
}

// NewResolver constructs a Resolver. Built-in role defaults only apply to
// seeded roles in defaultGuard.
func NewResolver(store RoleStore, defaultGuard string) *Resolver {
	return &Resolver{store: store, defaultGuard: defaultGuard}
}

// Resolve returns the union of role permissions and direct grants scoped to
// the principal's guard. A principal with no roles and no grants resolves to
// the empty set.
func (r *Resolver) Resolve(ctx context.Context, p Principal) (PermissionSet, error) {
	effective := NewPermissionSet()
	if p.IsZero() {
		return effective, nil
	}

	roles := p.RoleNames()
	if len(roles) > 0 {
		grants, err := r.store.RolePermissions(ctx, p.Guard, roles)
		if err != nil {
			return PermissionSet{}, fmt.Errorf("rbac: resolve role permissions: %w", err)
		}
		effective.Add(grants.Permissions...)
		if p.Guard == r.defaultGuard {
			for _, role := range grants.Builtin {
				effective.Add(roleDefaults[role]...)
			}
		}
	}

	for _, grant := range p.DirectPermissions {
		if grant.Guard == p.Guard {
			effective.Add(Permission(grant.Name))
		}
	}
	return effective, nil
}

var _ PermissionResolver = (*Resolver)(nil)
