package rbac

import "context"

// GuardedName identifies a role or permission within a guard.
type GuardedName struct {
	Name  string `json:"name"`
	Guard string `json:"guard"`
}

// Principal describes the authenticated actor. It carries assignments only;
// role definitions are always read live by the resolver.
type Principal struct {
	ID                int64         `json:"id"`
	Guard             string        `json:"guard"`
	Roles             []GuardedName `json:"roles"`
	DirectPermissions []GuardedName `json:"direct_permissions"`
	// TokenID is the access token the principal authenticated with, if any.
	TokenID int64 `json:"-"`
}

// IsZero reports whether no principal was resolved.
func (p Principal) IsZero() bool {
	return p.ID == 0
}

// RoleNames returns assigned role names within the principal's guard.
func (p Principal) RoleNames() []string {
	names := make([]string, 0, len(p.Roles))
	for _, r := range p.Roles {
		if r.Guard == p.Guard {
			names = append(names, r.Name)
		}
	}
	return names
}

// PrincipalLoader builds a principal from stored assignments.
type PrincipalLoader interface {
	LoadPrincipal(ctx context.Context, userID int64, guard string) (Principal, error)
}

type principalContextKey struct{}

// ContextWithPrincipal stores the principal in context.
func ContextWithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal. The zero Principal is returned
// when the request is unauthenticated.
func PrincipalFromContext(ctx context.Context) Principal {
	p, _ := ctx.Value(principalContextKey{}).(Principal)
	return p
}
