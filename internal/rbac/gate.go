package rbac

import (
	"context"

	"github.com/openkz/admin-api/internal/shared"
)

// Decision is the outcome of a permission check.
type Decision int

const (
	Deny Decision = iota
	Allow
)

func (d Decision) String() string {
	if d == Allow {
		return "allow"
	}
	return "deny"
}

// DecisionHook observes every decision the gate makes.
type DecisionHook func(required Permission, decision Decision)

// UserField names a mutable attribute of a user account.
type UserField string

const (
	UserFieldName        UserField = "name"
	UserFieldEmail       UserField = "email"
	UserFieldPassword    UserField = "password"
	UserFieldRoles       UserField = "roles"
	UserFieldStatus      UserField = "status"
	UserFieldPermissions UserField = "permissions"
)

// selfEditable lists the fields a user may change on their own account
// without users.manage.
var selfEditable = map[UserField]bool{
	UserFieldName:     true,
	UserFieldEmail:    true,
	UserFieldPassword: true,
}

var fieldDenials = map[UserField]string{
	UserFieldRoles:       "You cannot change roles.",
	UserFieldStatus:      "You cannot change status.",
	UserFieldPermissions: "You cannot change permissions.",
}

// Gate enforces permission requirements against resolved sets.
type Gate struct {
	resolver PermissionResolver
	hook     DecisionHook
}

// NewGate wires a Gate to resolver. hook may be nil.
func NewGate(resolver PermissionResolver, hook DecisionHook) *Gate {
	return &Gate{resolver: resolver, hook: hook}
}

// Check is pure set membership. There is no wildcard or hierarchy.
func Check(set PermissionSet, required Permission) Decision {
	if set.Has(required) {
		return Allow
	}
	return Deny
}

// Permissions resolves the principal's effective set.
func (g *Gate) Permissions(ctx context.Context, p Principal) (PermissionSet, error) {
	if p.IsZero() {
		return PermissionSet{}, shared.ErrUnauthenticated
	}
	return g.resolver.Resolve(ctx, p)
}

// Authorize requires a single permission. Unauthenticated principals are
// rejected before any resolution happens.
func (g *Gate) Authorize(ctx context.Context, p Principal, required Permission) error {
	set, err := g.Permissions(ctx, p)
	if err != nil {
		return err
	}
	if g.decide(set, required) == Allow {
		return nil
	}
	return &shared.ForbiddenError{Permission: string(required)}
}

// AuthorizeAny passes when at least one of required is held.
func (g *Gate) AuthorizeAny(ctx context.Context, p Principal, required ...Permission) error {
	set, err := g.Permissions(ctx, p)
	if err != nil {
		return err
	}
	for _, perm := range required {
		if g.decide(set, perm) == Allow {
			return nil
		}
	}
	if len(required) == 0 {
		return nil
	}
	return &shared.ForbiddenError{Permission: string(required[0])}
}

// AuthorizeAll passes when every permission in required is held.
func (g *Gate) AuthorizeAll(ctx context.Context, p Principal, required ...Permission) error {
	set, err := g.Permissions(ctx, p)
	if err != nil {
		return err
	}
	for _, perm := range required {
		if g.decide(set, perm) == Deny {
			return &shared.ForbiddenError{Permission: string(perm)}
		}
	}
	return nil
}

// AuthorizeUserUpdate decides whether actor may change fields on the account
// targetID. Holders of users.manage may change anything. Otherwise only the
// account owner may proceed, and only with self-editable fields.
func (g *Gate) AuthorizeUserUpdate(ctx context.Context, actor Principal, targetID int64, fields []UserField) error {
	set, err := g.Permissions(ctx, actor)
	if err != nil {
		return err
	}
	if g.decide(set, PermUsersManage) == Allow {
		return nil
	}
	if actor.ID != targetID {
		return &shared.ForbiddenError{
			Permission: string(PermUsersManage),
			Reason:     "You are not allowed to modify this user.",
		}
	}
	for _, f := range fields {
		if selfEditable[f] {
			continue
		}
		reason, ok := fieldDenials[f]
		if !ok {
			reason = "You cannot change " + string(f) + "."
		}
		return &shared.ForbiddenError{
			Permission: string(PermUsersManage),
			Field:      string(f),
			Reason:     reason,
		}
	}
	return nil
}

func (g *Gate) decide(set PermissionSet, required Permission) Decision {
	d := Check(set, required)
	if g.hook != nil {
		g.hook(required, d)
	}
	return d
}
