package roles

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openkz/admin-api/internal/platform/db"
	"github.com/openkz/admin-api/internal/shared"
)

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
	db   dbtx
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, db: pool}
}

type txRepo struct {
	db dbtx
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{db: tx})
	})
}

const roleColumns = `r.id, r.name, r.guard_name, r.builtin, r.created_at, r.updated_at,
	COALESCE(ARRAY(SELECT p.name FROM role_permissions rp JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = r.id ORDER BY p.name), '{}')`

func scanRole(row pgx.Row) (Role, error) {
	var role Role
	err := row.Scan(&role.ID, &role.Name, &role.Guard, &role.Builtin, &role.CreatedAt, &role.UpdatedAt, &role.Permissions)
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, shared.ErrNotFound
	}
	return role, err
}

func scanPermission(row pgx.Row) (Permission, error) {
	var perm Permission
	err := row.Scan(&perm.ID, &perm.Name, &perm.Guard, &perm.CreatedAt, &perm.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Permission{}, shared.ErrNotFound
	}
	return perm, err
}

// ListRoles returns roles whose name or attached permission names match the search.
func (r *Repository) ListRoles(ctx context.Context, filters RoleFilters) ([]Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles r WHERE 1=1`
	var args []any
	argPos := 1
	if filters.Guard != "" {
		query += fmt.Sprintf(" AND r.guard_name = $%d", argPos)
		args = append(args, filters.Guard)
		argPos++
	}
	if filters.Search != "" {
		query += fmt.Sprintf(` AND (r.name ILIKE $%d OR EXISTS (
			SELECT 1 FROM role_permissions rp JOIN permissions p ON p.id = rp.permission_id
			WHERE rp.role_id = r.id AND p.name ILIKE $%d))`, argPos, argPos)
		args = append(args, "%"+filters.Search+"%")
	}
	query += " ORDER BY r.guard_name, r.name"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("roles: list roles: %w", err)
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// GetRole returns a role with its permission names.
func (r *Repository) GetRole(ctx context.Context, id int64) (Role, error) {
	return scanRole(r.db.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles r WHERE r.id = $1`, id))
}

// ListPermissions returns permissions, optionally for a single guard.
func (r *Repository) ListPermissions(ctx context.Context, guard string) ([]Permission, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name, guard_name, created_at, updated_at
		FROM permissions WHERE $1 = '' OR guard_name = $1 ORDER BY guard_name, name`, guard)
	if err != nil {
		return nil, fmt.Errorf("roles: list permissions: %w", err)
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		perm, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, perm)
	}
	return perms, rows.Err()
}

// GetPermission returns a permission by id.
func (r *Repository) GetPermission(ctx context.Context, id int64) (Permission, error) {
	return scanPermission(r.db.QueryRow(ctx, `SELECT id, name, guard_name, created_at, updated_at FROM permissions WHERE id = $1`, id))
}

func (t *txRepo) LockRole(ctx context.Context, id int64) (Role, error) {
	return scanRole(t.db.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles r WHERE r.id = $1 FOR UPDATE`, id))
}

func (t *txRepo) LockPermission(ctx context.Context, id int64) (Permission, error) {
	return scanPermission(t.db.QueryRow(ctx, `SELECT id, name, guard_name, created_at, updated_at FROM permissions WHERE id = $1 FOR UPDATE`, id))
}

func (t *txRepo) RoleNameExists(ctx context.Context, name, guard string, excludeID int64) (bool, error) {
	var exists bool
	err := t.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM roles WHERE name = $1 AND guard_name = $2 AND id <> $3)`,
		name, guard, excludeID).Scan(&exists)
	return exists, err
}

func (t *txRepo) PermissionNameExists(ctx context.Context, name, guard string, excludeID int64) (bool, error) {
	var exists bool
	err := t.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM permissions WHERE name = $1 AND guard_name = $2 AND id <> $3)`,
		name, guard, excludeID).Scan(&exists)
	return exists, err
}

func (t *txRepo) PermissionIDs(ctx context.Context, guard string, names []string) (map[string]int64, error) {
	rows, err := t.db.Query(ctx, `SELECT name, id FROM permissions WHERE guard_name = $1 AND name = ANY($2)`, guard, names)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int64, len(names))
	for rows.Next() {
		var (
			name string
			id   int64
		)
		if err := rows.Scan(&name, &id); err != nil {
			return nil, err
		}
		out[name] = id
	}
	return out, rows.Err()
}

func (t *txRepo) PermissionGuards(ctx context.Context, names []string) (map[string][]string, error) {
	rows, err := t.db.Query(ctx, `SELECT name, array_agg(guard_name ORDER BY guard_name) FROM permissions
		WHERE name = ANY($1) GROUP BY name`, names)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string][]string, len(names))
	for rows.Next() {
		var (
			name   string
			guards []string
		)
		if err := rows.Scan(&name, &guards); err != nil {
			return nil, err
		}
		out[name] = guards
	}
	return out, rows.Err()
}

func (t *txRepo) PermissionAssigned(ctx context.Context, id int64) (bool, error) {
	var assigned bool
	err := t.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM role_permissions WHERE permission_id = $1)
		OR EXISTS (SELECT 1 FROM user_permissions WHERE permission_id = $1)`, id).Scan(&assigned)
	return assigned, err
}

func (t *txRepo) InsertRole(ctx context.Context, name, guard string) (int64, error) {
	var id int64
	err := t.db.QueryRow(ctx, `INSERT INTO roles (name, guard_name) VALUES ($1, $2) RETURNING id`, name, guard).Scan(&id)
	return id, err
}

func (t *txRepo) UpdateRole(ctx context.Context, id int64, name, guard string) error {
	_, err := t.db.Exec(ctx, `UPDATE roles SET name = $2, guard_name = $3, updated_at = NOW() WHERE id = $1`, id, name, guard)
	return err
}

func (t *txRepo) DeleteRole(ctx context.Context, id int64) error {
	tag, err := t.db.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *txRepo) RolePermissionIDs(ctx context.Context, roleID int64) ([]int64, error) {
	rows, err := t.db.Query(ctx, `SELECT permission_id FROM role_permissions WHERE role_id = $1`, roleID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (t *txRepo) AttachRolePermissions(ctx context.Context, roleID int64, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := t.db.Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id)
		SELECT $1, unnest($2::bigint[]) ON CONFLICT DO NOTHING`, roleID, ids)
	return err
}

func (t *txRepo) DetachRolePermissions(ctx context.Context, roleID int64, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := t.db.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = ANY($2)`, roleID, ids)
	return err
}

func (t *txRepo) InsertPermission(ctx context.Context, name, guard string) (int64, error) {
	var id int64
	err := t.db.QueryRow(ctx, `INSERT INTO permissions (name, guard_name) VALUES ($1, $2) RETURNING id`, name, guard).Scan(&id)
	return id, err
}

func (t *txRepo) UpdatePermission(ctx context.Context, id int64, name, guard string) error {
	_, err := t.db.Exec(ctx, `UPDATE permissions SET name = $2, guard_name = $3, updated_at = NOW() WHERE id = $1`, id, name, guard)
	return err
}

func (t *txRepo) DeletePermission(ctx context.Context, id int64) error {
	tag, err := t.db.Exec(ctx, `DELETE FROM permissions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

var (
	_ RepositoryPort = (*Repository)(nil)
	_ TxRepository   = (*txRepo)(nil)
)
