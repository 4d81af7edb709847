package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openkz/admin-api/internal/shared"
)

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository reads role definitions and principal assignments from Postgres.
type Repository struct {
	db querier
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// RolePermissions implements RoleStore. Built-in roles are reported even
// when no permission rows are attached to them.
func (r *Repository) RolePermissions(ctx context.Context, guard string, roles []string) (RoleGrants, error) {
	if len(roles) == 0 {
		return RoleGrants{}, nil
	}
	rows, err := r.db.Query(ctx, `SELECT r.name, r.builtin,
			COALESCE(array_agg(p.name) FILTER (WHERE p.name IS NOT NULL), '{}')
		FROM roles r
		LEFT JOIN role_permissions rp ON rp.role_id = r.id
		LEFT JOIN permissions p ON p.id = rp.permission_id AND p.guard_name = r.guard_name
		WHERE r.guard_name = $1 AND r.name = ANY($2)
		GROUP BY r.id, r.name, r.builtin`, guard, roles)
	if err != nil {
		return RoleGrants{}, fmt.Errorf("rbac: query role permissions: %w", err)
	}
	defer rows.Close()

	var grants RoleGrants
	for rows.Next() {
		var (
			name    string
			builtin bool
			perms   []string
		)
		if err := rows.Scan(&name, &builtin, &perms); err != nil {
			return RoleGrants{}, fmt.Errorf("rbac: scan role permissions: %w", err)
		}
		if builtin {
			grants.Builtin = append(grants.Builtin, name)
		}
		for _, perm := range perms {
			grants.Permissions = append(grants.Permissions, Permission(perm))
		}
	}
	if err := rows.Err(); err != nil {
		return RoleGrants{}, fmt.Errorf("rbac: scan role permissions: %w", err)
	}
	return grants, nil
}

// LoadPrincipal implements PrincipalLoader. Soft-deleted accounts are not found.
func (r *Repository) LoadPrincipal(ctx context.Context, userID int64, guard string) (Principal, error) {
	var id int64
	err := r.db.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 AND deleted_at IS NULL`, userID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Principal{}, shared.ErrNotFound
		}
		return Principal{}, fmt.Errorf("rbac: load principal: %w", err)
	}
	p := Principal{ID: id, Guard: guard}

	p.Roles, err = r.guardedNames(ctx, `SELECT r.name, r.guard_name
		FROM user_roles ur JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1 ORDER BY r.name`, userID)
	if err != nil {
		return Principal{}, fmt.Errorf("rbac: load roles: %w", err)
	}
	p.DirectPermissions, err = r.guardedNames(ctx, `SELECT p.name, p.guard_name
		FROM user_permissions up JOIN permissions p ON p.id = up.permission_id
		WHERE up.user_id = $1 ORDER BY p.name`, userID)
	if err != nil {
		return Principal{}, fmt.Errorf("rbac: load direct permissions: %w", err)
	}
	return p, nil
}

func (r *Repository) guardedNames(ctx context.Context, sql string, userID int64) ([]GuardedName, error) {
	rows, err := r.db.Query(ctx, sql, userID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (GuardedName, error) {
		var g GuardedName
		err := row.Scan(&g.Name, &g.Guard)
		return g, err
	})
}

var (
	_ RoleStore       = (*Repository)(nil)
	_ PrincipalLoader = (*Repository)(nil)
)
