package auth

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

// Repository defines persistence operations for auth module.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (Account, error)
	FindByID(ctx context.Context, id int64) (Account, error)
	CreateAccount(ctx context.Context, account NewAccount, role, guard string) (Account, error)
	EnsureRole(ctx context.Context, userID int64, role, guard string) (bool, error)
	UpdateSocialProfile(ctx context.Context, userID int64, googleID, avatarURL string, verifiedAt time.Time) error
	CreateToken(ctx context.Context, userID int64, name, hash string, expiresAt *time.Time) (int64, error)
	FindToken(ctx context.Context, id int64) (Token, error)
	TouchToken(ctx context.Context, id int64, at time.Time) error
	DeleteToken(ctx context.Context, id int64) error
	DeleteUserTokens(ctx context.Context, userID int64) (int64, error)
	PruneExpiredTokens(ctx context.Context, now time.Time) (int64, error)
}

type dbtx interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
	db   dbtx
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool, db: pool}
}

const accountColumns = `id, name, email, password, status, COALESCE(avatar_url, ''), COALESCE(google_id, ''), email_verified_at, created_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Name, &a.Email, &a.PasswordHash, &a.Status, &a.AvatarURL, &a.GoogleID, &a.EmailVerifiedAt, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, shared.ErrNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("auth: scan account: %w", err)
	}
	return a, nil
}

// FindByEmail fetches a live account by its normalised email.
func (r *PGRepository) FindByEmail(ctx context.Context, email string) (Account, error) {
	return scanAccount(r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM users WHERE email = $1 AND deleted_at IS NULL`, email))
}

// FindByID fetches a live account.
func (r *PGRepository) FindByID(ctx context.Context, id int64) (Account, error) {
	return scanAccount(r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM users WHERE id = $1 AND deleted_at IS NULL`, id))
}

// CreateAccount inserts the user and assigns role within guard atomically.
func (r *PGRepository) CreateAccount(ctx context.Context, account NewAccount, role, guard string) (Account, error) {
	var created Account
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		created, err = scanAccount(tx.QueryRow(ctx, `INSERT INTO users (name, email, password, status, google_id, avatar_url, email_verified_at, created_at, updated_at)
			VALUES ($1, $2, $3, 'active', NULLIF($4, ''), NULLIF($5, ''), $6, NOW(), NOW())
			RETURNING `+accountColumns,
			account.Name, account.Email, account.PasswordHash, account.GoogleID, account.AvatarURL, account.EmailVerifiedAt))
		if err != nil {
			if db.IsUniqueViolation(err) {
				return shared.NewValidationError("email", "The email has already been taken.")
			}
			return err
		}
		_, err = assignRole(ctx, tx, created.ID, role, guard)
		return err
	})
	if err != nil {
		return Account{}, err
	}
	return created, nil
}

// EnsureRole assigns role when the user does not hold it yet.
func (r *PGRepository) EnsureRole(ctx context.Context, userID int64, role, guard string) (bool, error) {
	return assignRole(ctx, r.db, userID, role, guard)
}

func assignRole(ctx context.Context, q dbtx, userID int64, role, guard string) (bool, error) {
	tag, err := q.Exec(ctx, `INSERT INTO user_roles (user_id, role_id)
		SELECT $1, id FROM roles WHERE name = $2 AND guard_name = $3
		ON CONFLICT DO NOTHING`, userID, role, guard)
	if err != nil {
		return false, fmt.Errorf("auth: assign role: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateSocialProfile stores provider identity and marks the email verified.
// Empty values keep the stored column.
func (r *PGRepository) UpdateSocialProfile(ctx context.Context, userID int64, googleID, avatarURL string, verifiedAt time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE users SET
			google_id = COALESCE(NULLIF($2, ''), google_id),
			avatar_url = COALESCE(NULLIF($3, ''), avatar_url),
			email_verified_at = COALESCE(email_verified_at, $4),
			updated_at = NOW()
		WHERE id = $1`, userID, googleID, avatarURL, verifiedAt)
	if err != nil {
		return fmt.Errorf("auth: update social profile: %w", err)
	}
	return nil
}

// CreateToken stores a hashed token and returns its id.
func (r *PGRepository) CreateToken(ctx context.Context, userID int64, name, hash string, expiresAt *time.Time) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `INSERT INTO personal_access_tokens (user_id, name, token, expires_at, created_at)
		VALUES ($1, $2, $3, $4, NOW()) RETURNING id`, userID, name, hash, expiresAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("auth: create token: %w", err)
	}
	return id, nil
}

// FindToken loads a token whose owner is active and not deleted.
func (r *PGRepository) FindToken(ctx context.Context, id int64) (Token, error) {
	var t Token
	err := r.db.QueryRow(ctx, `SELECT t.id, t.user_id, t.name, t.token, t.expires_at, t.last_used_at, t.created_at
		FROM personal_access_tokens t
		JOIN users u ON u.id = t.user_id
		WHERE t.id = $1 AND u.deleted_at IS NULL AND u.status = 'active'`, id).
		Scan(&t.ID, &t.UserID, &t.Name, &t.Hash, &t.ExpiresAt, &t.LastUsedAt, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Token{}, shared.ErrNotFound
	}
	if err != nil {
		return Token{}, fmt.Errorf("auth: find token: %w", err)
	}
	return t, nil
}

// TouchToken records token usage.
func (r *PGRepository) TouchToken(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE personal_access_tokens SET last_used_at = $2 WHERE id = $1`, id, at)
	return err
}

// DeleteToken removes one token.
func (r *PGRepository) DeleteToken(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `DELETE FROM personal_access_tokens WHERE id = $1`, id)
	return err
}

// DeleteUserTokens removes every token of a user.
func (r *PGRepository) DeleteUserTokens(ctx context.Context, userID int64) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM personal_access_tokens WHERE user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// PruneExpiredTokens deletes tokens that expired before now.
func (r *PGRepository) PruneExpiredTokens(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM personal_access_tokens WHERE expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("auth: prune tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ Repository = (*PGRepository)(nil)
