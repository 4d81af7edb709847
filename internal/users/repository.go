package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openkz/admin-api/internal/platform/db"
	"github.com/openkz/admin-api/internal/shared"
)

type dbtx interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
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

const userColumns = `u.id, u.name, u.email, u.status, COALESCE(u.avatar_url, ''), u.email_verified_at, u.created_at, u.updated_at,
	COALESCE(ARRAY(SELECT r.name FROM user_roles ur JOIN roles r ON r.id = ur.role_id WHERE ur.user_id = u.id ORDER BY r.name), '{}'),
	COALESCE(ARRAY(SELECT p.name FROM user_permissions up JOIN permissions p ON p.id = up.permission_id WHERE up.user_id = u.id ORDER BY p.name), '{}')`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Status, &u.AvatarURL, &u.EmailVerifiedAt, &u.CreatedAt, &u.UpdatedAt, &u.Roles, &u.Permissions)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, shared.ErrNotFound
	}
	return u, err
}

// ListUsers returns a page of active accounts and the total match count.
func (r *Repository) ListUsers(ctx context.Context, filters ListFilters) ([]User, int, error) {
	where := " WHERE u.deleted_at IS NULL"
	var args []any
	argPos := 1
	if filters.Search != "" {
		where += fmt.Sprintf(" AND (u.name ILIKE $%d OR u.email ILIKE $%d)", argPos, argPos)
		args = append(args, "%"+filters.Search+"%")
		argPos++
	}

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM users u"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("users: count: %w", err)
	}

	query := "SELECT " + userColumns + " FROM users u" + where +
		fmt.Sprintf(" ORDER BY u.id LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, filters.PerPage, shared.Offset(filters.Page, filters.PerPage))
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("users: list: %w", err)
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, u)
	}
	return users, total, rows.Err()
}

// GetUser returns an account that has not been deleted.
func (r *Repository) GetUser(ctx context.Context, id int64) (User, error) {
	return scanUser(r.db.QueryRow(ctx, "SELECT "+userColumns+" FROM users u WHERE u.id = $1 AND u.deleted_at IS NULL", id))
}

func (t *txRepo) LockUser(ctx context.Context, id int64) (User, error) {
	return scanUser(t.db.QueryRow(ctx, "SELECT "+userColumns+" FROM users u WHERE u.id = $1 AND u.deleted_at IS NULL FOR UPDATE", id))
}

func (t *txRepo) EmailTaken(ctx context.Context, email string, excludeID int64) (bool, error) {
	var taken bool
	err := t.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE email = $1 AND id <> $2)`, email, excludeID).Scan(&taken)
	return taken, err
}

func (t *txRepo) UpdateProfile(ctx context.Context, id int64, c ProfileChanges) error {
	_, err := t.db.Exec(ctx, `UPDATE users SET
			name = COALESCE($2, name),
			email = COALESCE($3, email),
			password = COALESCE($4, password),
			status = COALESCE($5, status),
			updated_at = NOW()
		WHERE id = $1`, id, c.Name, c.Email, c.PasswordHash, c.Status)
	return err
}

func (t *txRepo) RoleIDs(ctx context.Context, guard string, names []string) (map[string]int64, error) {
	return namedIDs(ctx, t.db, `SELECT name, id FROM roles WHERE guard_name = $1 AND name = ANY($2)`, guard, names)
}

func (t *txRepo) PermissionIDs(ctx context.Context, guard string, names []string) (map[string]int64, error) {
	return namedIDs(ctx, t.db, `SELECT name, id FROM permissions WHERE guard_name = $1 AND name = ANY($2)`, guard, names)
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

// SyncRoles replaces the user's role assignments within guard, leaving other
// guards' assignments untouched.
func (t *txRepo) SyncRoles(ctx context.Context, userID int64, guard string, roleIDs []int64) error {
	if roleIDs == nil {
		// a NULL array would make the NOT ANY filter match nothing
		roleIDs = []int64{}
	}
	if _, err := t.db.Exec(ctx, `DELETE FROM user_roles ur USING roles r
		WHERE ur.role_id = r.id AND ur.user_id = $1 AND r.guard_name = $2 AND NOT (r.id = ANY($3))`,
		userID, guard, roleIDs); err != nil {
		return err
	}
	if len(roleIDs) == 0 {
		return nil
	}
	_, err := t.db.Exec(ctx, `INSERT INTO user_roles (user_id, role_id)
		SELECT $1, unnest($2::bigint[]) ON CONFLICT DO NOTHING`, userID, roleIDs)
	return err
}

// SyncPermissions replaces direct grants within guard.
func (t *txRepo) SyncPermissions(ctx context.Context, userID int64, guard string, permissionIDs []int64) error {
	if permissionIDs == nil {
		permissionIDs = []int64{}
	}
	if _, err := t.db.Exec(ctx, `DELETE FROM user_permissions up USING permissions p
		WHERE up.permission_id = p.id AND up.user_id = $1 AND p.guard_name = $2 AND NOT (p.id = ANY($3))`,
		userID, guard, permissionIDs); err != nil {
		return err
	}
	if len(permissionIDs) == 0 {
		return nil
	}
	_, err := t.db.Exec(ctx, `INSERT INTO user_permissions (user_id, permission_id)
		SELECT $1, unnest($2::bigint[]) ON CONFLICT DO NOTHING`, userID, permissionIDs)
	return err
}

func (t *txRepo) RevokeTokens(ctx context.Context, userID int64) (int64, error) {
	tag, err := t.db.Exec(ctx, `DELETE FROM personal_access_tokens WHERE user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *txRepo) SoftDelete(ctx context.Context, id int64, at time.Time) error {
	tag, err := t.db.Exec(ctx, `UPDATE users SET deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func namedIDs(ctx context.Context, q dbtx, sql string, guard string, names []string) (map[string]int64, error) {
	rows, err := q.Query(ctx, sql, guard, names)
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

var (
	_ RepositoryPort = (*Repository)(nil)
	_ TxRepository   = (*txRepo)(nil)
)
