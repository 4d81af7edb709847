package users

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/openkz/admin-api/internal/platform/db"
	"github.com/openkz/admin-api/internal/rbac"
	"github.com/openkz/admin-api/internal/shared"
)

const logName = "users"

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	ListUsers(ctx context.Context, filters ListFilters) ([]User, int, error)
	GetUser(ctx context.Context, id int64) (User, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	LockUser(ctx context.Context, id int64) (User, error)
	EmailTaken(ctx context.Context, email string, excludeID int64) (bool, error)
	UpdateProfile(ctx context.Context, id int64, changes ProfileChanges) error
	RoleIDs(ctx context.Context, guard string, names []string) (map[string]int64, error)
	SyncRoles(ctx context.Context, userID int64, guard string, roleIDs []int64) error
	PermissionIDs(ctx context.Context, guard string, names []string) (map[string]int64, error)
	PermissionGuards(ctx context.Context, names []string) (map[string][]string, error)
	SyncPermissions(ctx context.Context, userID int64, guard string, permissionIDs []int64) error
	RevokeTokens(ctx context.Context, userID int64) (int64, error)
	SoftDelete(ctx context.Context, id int64, at time.Time) error
}

// Service handles user business logic.
type Service struct {
	repo         RepositoryPort
	gate         *rbac.Gate
	invalidator  rbac.Invalidator
	activity     shared.ActivityRecorder
	logger       *slog.Logger
	defaultGuard string
	now          func() time.Time
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, gate *rbac.Gate, invalidator rbac.Invalidator, activity shared.ActivityRecorder, logger *slog.Logger, defaultGuard string) *Service {
	if invalidator == nil {
		invalidator = rbac.NopInvalidator{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:         repo,
		gate:         gate,
		invalidator:  invalidator,
		activity:     activity,
		logger:       logger,
		defaultGuard: defaultGuard,
		now:          time.Now,
	}
}

// List returns a page of users.
func (s *Service) List(ctx context.Context, actor rbac.Principal, filters ListFilters) (Page, error) {
	if err := s.gate.Authorize(ctx, actor, rbac.PermUsersView); err != nil {
		return Page{}, err
	}
	filters.Search = strings.TrimSpace(filters.Search)
	filters.Page, filters.PerPage = shared.NormalizePage(filters.Page, filters.PerPage)
	users, total, err := s.repo.ListUsers(ctx, filters)
	if err != nil {
		return Page{}, err
	}
	if users == nil {
		users = []User{}
	}
	return Page{Data: users, Pagination: shared.NewPagination(filters.Page, filters.PerPage, total)}, nil
}

// Get returns one account. Users may always read their own.
func (s *Service) Get(ctx context.Context, actor rbac.Principal, id int64) (User, error) {
	if actor.IsZero() {
		return User{}, shared.ErrUnauthenticated
	}
	if actor.ID != id {
		if err := s.gate.Authorize(ctx, actor, rbac.PermUsersView); err != nil {
			return User{}, err
		}
	}
	return s.repo.GetUser(ctx, id)
}

// Update applies a partial update. Account owners may change their name,
// email and password; roles and status always need users.manage.
func (s *Service) Update(ctx context.Context, actor rbac.Principal, id int64, input UpdateInput) (User, error) {
	if err := s.gate.AuthorizeUserUpdate(ctx, actor, id, changedFields(input)); err != nil {
		return User{}, err
	}

	var (
		rolesChanged bool
		changed      []string
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LockUser(ctx, id)
		if err != nil {
			return err
		}
		changes, err := s.profileChanges(ctx, tx, current, input)
		if err != nil {
			return err
		}
		var roleIDs []int64
		if input.Roles != nil {
			roleIDs, err = s.resolveRoles(ctx, tx, *input.Roles)
			if err != nil {
				return err
			}
		}

		if changes != (ProfileChanges{}) {
			if err := tx.UpdateProfile(ctx, id, changes); err != nil {
				if db.IsUniqueViolation(err) {
					return shared.NewValidationError("email", "The email has already been taken.")
				}
				return err
			}
		}
		if input.Roles != nil {
			if err := tx.SyncRoles(ctx, id, s.defaultGuard, roleIDs); err != nil {
				return err
			}
			rolesChanged = !sameNames(current.Roles, *input.Roles)
		}
		changed = changedNames(changes, input.Roles != nil)
		return nil
	})
	if err != nil {
		return User{}, err
	}
	if rolesChanged {
		s.invalidate(ctx)
	}
	if len(changed) > 0 {
		s.record(ctx, actor, "updated", id, map[string]any{"fields": changed})
	}
	return s.repo.GetUser(ctx, id)
}

// SyncPermissions replaces the user's direct grants in the default guard.
func (s *Service) SyncPermissions(ctx context.Context, actor rbac.Principal, id int64, names []string) (User, error) {
	if err := s.gate.AuthorizeUserUpdate(ctx, actor, id, []rbac.UserField{rbac.UserFieldPermissions}); err != nil {
		return User{}, err
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.LockUser(ctx, id); err != nil {
			return err
		}
		ids, err := s.resolvePermissions(ctx, tx, names)
		if err != nil {
			return err
		}
		return tx.SyncPermissions(ctx, id, s.defaultGuard, ids)
	})
	if err != nil {
		return User{}, err
	}
	s.invalidate(ctx)
	s.record(ctx, actor, "permissions_synced", id, map[string]any{"permissions": uniqueSorted(names)})
	return s.repo.GetUser(ctx, id)
}

// Delete revokes every token and soft deletes the account.
func (s *Service) Delete(ctx context.Context, actor rbac.Principal, id int64) error {
	if err := s.gate.Authorize(ctx, actor, rbac.PermUsersManage); err != nil {
		return err
	}
	if actor.ID == id {
		return shared.NewValidationError("id", "You cannot delete your own account.")
	}
	var revoked int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.LockUser(ctx, id); err != nil {
			return err
		}
		var err error
		revoked, err = tx.RevokeTokens(ctx, id)
		if err != nil {
			return err
		}
		return tx.SoftDelete(ctx, id, s.now().UTC())
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx)
	s.record(ctx, actor, "deleted", id, map[string]any{"revoked_tokens": revoked})
	return nil
}

func (s *Service) profileChanges(ctx context.Context, tx TxRepository, current User, input UpdateInput) (ProfileChanges, error) {
	var changes ProfileChanges
	fields := shared.FieldErrors{}
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			fields.Add("name", "The name field is required.")
		} else if name != current.Name {
			changes.Name = &name
		}
	}
	if input.Email != nil {
		email := shared.NormalizeEmail(*input.Email)
		if email != current.Email {
			taken, err := tx.EmailTaken(ctx, email, current.ID)
			if err != nil {
				return ProfileChanges{}, err
			}
			if taken {
				fields.Add("email", "The email has already been taken.")
			} else {
				changes.Email = &email
			}
		}
	}
	if input.Password != nil {
		switch {
		case len(*input.Password) < shared.MinPasswordLength:
			fields.Add("password", "The password must be at least 8 characters.")
		case input.PasswordConfirmation == nil || *input.PasswordConfirmation != *input.Password:
			fields.Add("password", "The password confirmation does not match.")
		default:
			hash, err := shared.HashPassword(*input.Password)
			if err != nil {
				return ProfileChanges{}, err
			}
			changes.PasswordHash = &hash
		}
	}
	if input.Status != nil && *input.Status != current.Status {
		if *input.Status != StatusActive && *input.Status != StatusInactive {
			fields.Add("status", "The selected status is invalid.")
		} else {
			status := *input.Status
			changes.Status = &status
		}
	}
	if len(fields) > 0 {
		return ProfileChanges{}, &shared.ValidationError{Fields: fields}
	}
	return changes, nil
}

func (s *Service) resolveRoles(ctx context.Context, tx TxRepository, names []string) ([]int64, error) {
	names = uniqueSorted(names)
	if len(names) == 0 {
		return nil, nil
	}
	found, err := tx.RoleIDs(ctx, s.defaultGuard, names)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(names))
	var unknown []string
	for _, n := range names {
		id, ok := found[n]
		if !ok {
			unknown = append(unknown, n)
			continue
		}
		ids = append(ids, id)
	}
	if len(unknown) > 0 {
		return nil, shared.NewValidationError("roles", "Unknown roles: "+strings.Join(unknown, ", "))
	}
	return ids, nil
}

func (s *Service) resolvePermissions(ctx context.Context, tx TxRepository, names []string) ([]int64, error) {
	names = uniqueSorted(names)
	if len(names) == 0 {
		return nil, nil
	}
	found, err := tx.PermissionIDs(ctx, s.defaultGuard, names)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(names))
	var missing []string
	for _, n := range names {
		if id, ok := found[n]; ok {
			ids = append(ids, id)
		} else {
			missing = append(missing, n)
		}
	}
	if len(missing) == 0 {
		return ids, nil
	}
	guards, err := tx.PermissionGuards(ctx, missing)
	if err != nil {
		return nil, err
	}
	var unknown, foreign []string
	for _, n := range missing {
		if len(guards[n]) > 0 {
			foreign = append(foreign, n)
		} else {
			unknown = append(unknown, n)
		}
	}
	return nil, shared.UnresolvedPermissionsError(s.defaultGuard, unknown, foreign)
}

func (s *Service) invalidate(ctx context.Context) {
	if err := s.invalidator.Invalidate(ctx); err != nil {
		s.logger.Error("users invalidate permission cache", slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, actor rbac.Principal, event string, id int64, props map[string]any) {
	if s.activity == nil {
		return
	}
	err := s.activity.Record(ctx, shared.ActivityEntry{
		LogName:     logName,
		Event:       event,
		Description: "user " + event,
		SubjectType: "user",
		SubjectID:   id,
		CauserID:    actor.ID,
		Properties:  props,
	})
	if err != nil {
		s.logger.Warn("users record activity", slog.String("event", event), slog.Any("error", err))
	}
}

// changedFields lists the fields present in input for the gate.
func changedFields(input UpdateInput) []rbac.UserField {
	var fields []rbac.UserField
	if input.Name != nil {
		fields = append(fields, rbac.UserFieldName)
	}
	if input.Email != nil {
		fields = append(fields, rbac.UserFieldEmail)
	}
	if input.Password != nil {
		fields = append(fields, rbac.UserFieldPassword)
	}
	if input.Roles != nil {
		fields = append(fields, rbac.UserFieldRoles)
	}
	if input.Status != nil {
		fields = append(fields, rbac.UserFieldStatus)
	}
	return fields
}

func changedNames(c ProfileChanges, roles bool) []string {
	var out []string
	if c.Name != nil {
		out = append(out, "name")
	}
	if c.Email != nil {
		out = append(out, "email")
	}
	if c.PasswordHash != nil {
		out = append(out, "password")
	}
	if c.Status != nil {
		out = append(out, "status")
	}
	if roles {
		out = append(out, "roles")
	}
	return out
}

func uniqueSorted(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func sameNames(a, b []string) bool {
	x, y := uniqueSorted(a), uniqueSorted(b)
	if len(x) != len(y) {
		return false
	}
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}
