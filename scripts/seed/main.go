package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/kelseyhightower/envconfig"

	"github.com/openkz/admin-api/internal/app"
	"github.com/openkz/admin-api/internal/platform/db"
	"github.com/openkz/admin-api/internal/rbac"
	"github.com/openkz/admin-api/internal/shared"
	"github.com/openkz/admin-api/internal/sites"
)

type seedConfig struct {
	AdminName     string `envconfig:"SEED_ADMIN_NAME" default:"Super Admin"`
	AdminEmail    string `envconfig:"SEED_ADMIN_EMAIL" default:"superadmin@admin.local"`
	AdminPassword string `envconfig:"SEED_ADMIN_PASSWORD" default:"password"`
	SiteName      string `envconfig:"SEED_SITE_NAME" default:"Main Site"`
}

func main() {
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	var seed seedConfig
	if err := envconfig.Process("", &seed); err != nil {
		log.Fatalf("load seed config: %v", err)
	}

	ctx := context.Background()
	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: 2})
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	guard := cfg.AuthDefaultGuard
	err = db.WithTx(ctx, pool, func(tx pgx.Tx) error {
		fmt.Println("→ Seeding permissions and roles...")
		if err := seedRBAC(ctx, tx, guard); err != nil {
			return fmt.Errorf("seed rbac: %w", err)
		}
		fmt.Println("→ Seeding superadmin...")
		if err := seedSuperadmin(ctx, tx, guard, seed); err != nil {
			return fmt.Errorf("seed superadmin: %w", err)
		}
		fmt.Println("→ Seeding academic years...")
		if err := seedAcademicYears(ctx, tx, time.Now().UTC()); err != nil {
			return fmt.Errorf("seed academic years: %w", err)
		}
		fmt.Println("→ Seeding site...")
		key, err := seedSite(ctx, tx, seed.SiteName)
		if err != nil {
			return fmt.Errorf("seed site: %w", err)
		}
		if key != "" {
			fmt.Printf("  site %q key: %s\n", seed.SiteName, key)
		}
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println("✓ Seed complete at", time.Now().Format(time.RFC3339))
}

// seedRBAC stores the permission catalog and syncs built-in roles to their
// compiled defaults.
func seedRBAC(ctx context.Context, tx pgx.Tx, guard string) error {
	for _, perm := range rbac.AllPermissions().Strings() {
		if _, err := tx.Exec(ctx, `
			INSERT INTO permissions (name, guard_name)
			VALUES ($1, $2)
			ON CONFLICT (name, guard_name) DO NOTHING`, perm, guard); err != nil {
			return err
		}
	}

	for _, role := range rbac.BuiltinRoles() {
		var roleID int64
		err := tx.QueryRow(ctx, `
			INSERT INTO roles (name, guard_name, builtin)
			VALUES ($1, $2, TRUE)
			ON CONFLICT (name, guard_name) DO UPDATE SET builtin = TRUE, updated_at = NOW()
			RETURNING id`, role, guard).Scan(&roleID)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO role_permissions (role_id, permission_id)
			SELECT $1, id FROM permissions WHERE guard_name = $2 AND name = ANY($3)
			ON CONFLICT DO NOTHING`, roleID, guard, rbac.DefaultPermissionsFor(role).Strings()); err != nil {
			return err
		}
	}
	return nil
}

func seedSuperadmin(ctx context.Context, tx pgx.Tx, guard string, seed seedConfig) error {
	email := shared.NormalizeEmail(seed.AdminEmail)
	var userID int64
	err := tx.QueryRow(ctx, `SELECT id FROM users WHERE email = $1`, email).Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		hash, hashErr := shared.HashPassword(seed.AdminPassword)
		if hashErr != nil {
			return hashErr
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO users (name, email, password, status, email_verified_at, created_at, updated_at)
			VALUES ($1, $2, $3, 'active', NOW(), NOW(), NOW())
			RETURNING id`, seed.AdminName, email, hash).Scan(&userID)
	}
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO user_roles (user_id, role_id)
		SELECT $1, id FROM roles WHERE name = $2 AND guard_name = $3
		ON CONFLICT DO NOTHING`, userID, rbac.RoleSuperadmin, guard)
	return err
}

// seedAcademicYears inserts the previous, current and next school years.
// A year runs from 1 July to 30 June; the current one is active.
func seedAcademicYears(ctx context.Context, tx pgx.Tx, now time.Time) error {
	start := now.Year()
	if now.Month() < time.July {
		start--
	}
	var active bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM academic_years WHERE is_active AND deleted_at IS NULL)`).Scan(&active); err != nil {
		return err
	}
	for offset := -1; offset <= 1; offset++ {
		year := start + offset
		name := fmt.Sprintf("%d/%d", year, year+1)
		from := time.Date(year, time.July, 1, 0, 0, 0, 0, time.UTC)
		to := time.Date(year+1, time.June, 30, 0, 0, 0, 0, time.UTC)
		if _, err := tx.Exec(ctx, `
			INSERT INTO academic_years (name, start_date, end_date, is_active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, NOW(), NOW())
			ON CONFLICT (name) DO NOTHING`, name, from, to, offset == 0 && !active); err != nil {
			return err
		}
	}
	return nil
}

// seedSite creates the named site once and returns its key when created.
func seedSite(ctx context.Context, tx pgx.Tx, name string) (string, error) {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM sites WHERE name = $1 AND deleted_at IS NULL)`, name).Scan(&exists); err != nil {
		return "", err
	}
	if exists {
		return "", nil
	}
	key, err := sites.GenerateKey()
	if err != nil {
		return "", err
	}
	_, err = tx.Exec(ctx, `INSERT INTO sites (name, key, status, created_at, updated_at) VALUES ($1, $2, TRUE, NOW(), NOW())`, name, key)
	return key, err
}
