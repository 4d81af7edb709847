package roles

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/openkz/admin-api/internal/platform/db"
	"github.com/openkz/admin-api/internal/rbac"
	"github.com/openkz/admin-api/internal/shared"
)

const logName = "roles"

var permissionNamePattern = regexp.MustCompile(`^[a-z0-9_]+(\.[a-z0-9_]+)+$`)

// RepositoryPort defines data access methods for roles and permissions.
type RepositoryPort interface {
	ListRoles(ctx context.Context, filters RoleFilters) ([]Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	ListPermissions(ctx context.Context, guard string) ([]Permission, error)
	GetPermission(ctx context.Context, id int64) (Permission, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	LockRole(ctx context.Context, id int64) (Role, error)
	LockPermission(ctx context.Context, id int64) (Permission, error)
	RoleNameExists(ctx context.Context, name, guard string, excludeID int64) (bool, error)
	PermissionNameExists(ctx context.Context, name, guard string, excludeID int64) (bool, error)
	PermissionIDs(ctx context.Context, guard string, names []string) (map[string]int64, error)
	PermissionGuards(ctx context.Context, names []string) (map[string][]string, error)
	PermissionAssigned(ctx context.Context, id int64) (bool, error)
	InsertRole(ctx context.Context, name, guard string) (int64, error)
	UpdateRole(ctx context.Context, id int64, name, guard string) error
	DeleteRole(ctx context.Context, id int64) error
	RolePermissionIDs(ctx context.Context, roleID int64) ([]int64, error)
	AttachRolePermissions(ctx context.Context, roleID int64, ids []int64) error
	DetachRolePermissions(ctx context.Context, roleID int64, ids []int64) error
	InsertPermission(ctx context.Context, name, guard string) (int64, error)
	UpdatePermission(ctx context.Context, id int64, name, guard string) error
	DeletePermission(ctx context.Context, id int64) error
}

// Service handles role and permission management.
type Service struct {
	repo         RepositoryPort
	gate         *rbac.Gate
	invalidator  rbac.Invalidator
	activity     shared.ActivityRecorder
	logger       *slog.Logger
	defaultGuard string
}

// NewService builds Service instance. activity may be nil.
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
	}
}

// ListRoles returns roles matching filters.
func (s *Service) ListRoles(ctx context.Context, actor rbac.Principal, filters RoleFilters) ([]Role, error) {
	if err := s.gate.Authorize(ctx, actor, rbac.PermRolesManage); err != nil {
		return nil, err
	}
	filters.Search = strings.TrimSpace(filters.Search)
	filters.Guard = strings.TrimSpace(filters.Guard)
	return s.repo.ListRoles(ctx, filters)
}

// GetRole returns one role. Authorization is checked before existence so
// unauthorized callers cannot probe for ids.
func (s *Service) GetRole(ctx context.Context, actor rbac.Principal, id int64) (Role, error) {
	if err := s.gate.Authorize(ctx, actor, rbac.PermRolesManage); err != nil {
		return Role{}, err
	}
	return s.repo.GetRole(ctx, id)
}

// CreateRole validates everything up front, then persists the role and its
// permission associations in one transaction.
func (s *Service) CreateRole(ctx context.Context, actor rbac.Principal, input CreateRoleInput) (Role, error) {
	if err := s.gate.Authorize(ctx, actor, rbac.PermRolesManage); err != nil {
		return Role{}, err
	}
	name := strings.TrimSpace(input.Name)
	guard := s.guardOrDefault(input.Guard)
	if name == "" {
		return Role{}, shared.NewValidationError("name", "The name field is required.")
	}

	var id int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := s.ensureRoleNameFree(ctx, tx, name, guard, 0); err != nil {
			return err
		}
		ids, err := s.resolvePermissions(ctx, tx, guard, input.Permissions)
		if err != nil {
			return err
		}
		id, err = tx.InsertRole(ctx, name, guard)
		if err != nil {
			return mapUnique(err, "name", "The name has already been taken.")
		}
		return tx.AttachRolePermissions(ctx, id, ids)
	})
	if err != nil {
		return Role{}, err
	}
	s.invalidate(ctx)

	role, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return Role{}, err
	}
	s.record(ctx, actor, "created", "role", role.ID, map[string]any{"name": role.Name, "guard": role.Guard, "permissions": role.Permissions})
	return role, nil
}

// UpdateRole renames, moves or resyncs a role. A non-nil permission list is a
// full replacement: names absent from it are detached and new names attached.
func (s *Service) UpdateRole(ctx context.Context, actor rbac.Principal, id int64, input UpdateRoleInput) (Role, error) {
	if err := s.gate.Authorize(ctx, actor, rbac.PermRolesManage); err != nil {
		return Role{}, err
	}

	var changes map[string]any
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LockRole(ctx, id)
		if err != nil {
			return err
		}
		name, guard := current.Name, current.Guard
		if input.Name != nil {
			name = strings.TrimSpace(*input.Name)
			if name == "" {
				return shared.NewValidationError("name", "The name field is required.")
			}
		}
		if input.Guard != nil {
			guard = s.guardOrDefault(*input.Guard)
		}
		if name != current.Name || guard != current.Guard {
			if err := s.ensureRoleNameFree(ctx, tx, name, guard, id); err != nil {
				return err
			}
		}

		desired := current.Permissions
		if input.Permissions != nil {
			desired = *input.Permissions
		}
		var ids []int64
		if input.Permissions != nil || guard != current.Guard {
			ids, err = s.resolvePermissions(ctx, tx, guard, desired)
			if err != nil {
				return err
			}
		}

		if name != current.Name || guard != current.Guard {
			if err := tx.UpdateRole(ctx, id, name, guard); err != nil {
				return mapUnique(err, "name", "The name has already been taken.")
			}
		}
		changes = map[string]any{"name": name, "guard": guard}
		if input.Permissions != nil || guard != current.Guard {
			added, removed, err := syncRolePermissions(ctx, tx, id, ids)
			if err != nil {
				return err
			}
			changes["attached"] = added
			changes["detached"] = removed
		}
		return nil
	})
	if err != nil {
		return Role{}, err
	}
	s.invalidate(ctx)

	role, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return Role{}, err
	}
	s.record(ctx, actor, "updated", "role", id, changes)
	return role, nil
}

// DeleteRole hard deletes a role, built-ins included. Assignments cascade in
// storage, so holders lose the role's permissions on their next resolution.
func (s *Service) DeleteRole(ctx context.Context, actor rbac.Principal, id int64) error {
	if err := s.gate.Authorize(ctx, actor, rbac.PermRolesManage); err != nil {
		return err
	}
	var deleted Role
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		role, err := tx.LockRole(ctx, id)
		if err != nil {
			return err
		}
		deleted = role
		return tx.DeleteRole(ctx, id)
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx)
	s.record(ctx, actor, "deleted", "role", id, map[string]any{"name": deleted.Name, "guard": deleted.Guard})
	return nil
}

// ListPermissions returns stored permissions, optionally narrowed to guard.
func (s *Service) ListPermissions(ctx context.Context, actor rbac.Principal, guard string) ([]Permission, error) {
	if err := s.gate.Authorize(ctx, actor, rbac.PermRolesManage); err != nil {
		return nil, err
	}
	perms, err := s.repo.ListPermissions(ctx, strings.TrimSpace(guard))
	if err != nil {
		return nil, err
	}
	for i := range perms {
		perms[i] = markCatalog(perms[i])
	}
	return perms, nil
}

// CreatePermission stores a permission row in guard.
func (s *Service) CreatePermission(ctx context.Context, actor rbac.Principal, input CreatePermissionInput) (Permission, error) {
	if err := s.gate.Authorize(ctx, actor, rbac.PermRolesManage); err != nil {
		return Permission{}, err
	}
	name := strings.TrimSpace(input.Name)
	guard := s.guardOrDefault(input.Guard)
	if err := validatePermissionName(name); err != nil {
		return Permission{}, err
	}

	var id int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		exists, err := tx.PermissionNameExists(ctx, name, guard, 0)
		if err != nil {
			return err
		}
		if exists {
			return shared.NewValidationError("name", "The name has already been taken.")
		}
		id, err = tx.InsertPermission(ctx, name, guard)
		return mapUnique(err, "name", "The name has already been taken.")
	})
	if err != nil {
		return Permission{}, err
	}
	s.invalidate(ctx)
	s.record(ctx, actor, "created", "permission", id, map[string]any{"name": name, "guard": guard})
	return s.permission(ctx, id)
}

// UpdatePermission renames or moves a permission. Moving a permission that
// is still assigned would strand its assignments in the old guard, so it is
// rejected.
func (s *Service) UpdatePermission(ctx context.Context, actor rbac.Principal, id int64, input UpdatePermissionInput) (Permission, error) {
	if err := s.gate.Authorize(ctx, actor, rbac.PermRolesManage); err != nil {
		return Permission{}, err
	}
	var changes map[string]any
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.LockPermission(ctx, id)
		if err != nil {
			return err
		}
		name, guard := current.Name, current.Guard
		if input.Name != nil {
			name = strings.TrimSpace(*input.Name)
			if err := validatePermissionName(name); err != nil {
				return err
			}
		}
		if input.Guard != nil {
			guard = s.guardOrDefault(*input.Guard)
		}
		if name == current.Name && guard == current.Guard {
			return nil
		}
		if guard != current.Guard {
			assigned, err := tx.PermissionAssigned(ctx, id)
			if err != nil {
				return err
			}
			if assigned {
				return shared.NewValidationError("guard", "The permission is assigned and cannot change guard.")
			}
		}
		exists, err := tx.PermissionNameExists(ctx, name, guard, id)
		if err != nil {
			return err
		}
		if exists {
			return shared.NewValidationError("name", "The name has already been taken.")
		}
		changes = map[string]any{"name": name, "guard": guard, "old_name": current.Name}
		return mapUnique(tx.UpdatePermission(ctx, id, name, guard), "name", "The name has already been taken.")
	})
	if err != nil {
		return Permission{}, err
	}
	if changes != nil {
		s.invalidate(ctx)
		s.record(ctx, actor, "updated", "permission", id, changes)
	}
	return s.permission(ctx, id)
}

// DeletePermission hard deletes a permission and, through storage cascades,
// every role and user association that referenced it.
func (s *Service) DeletePermission(ctx context.Context, actor rbac.Principal, id int64) error {
	if err := s.gate.Authorize(ctx, actor, rbac.PermRolesManage); err != nil {
		return err
	}
	var deleted Permission
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		perm, err := tx.LockPermission(ctx, id)
		if err != nil {
			return err
		}
		deleted = perm
		return tx.DeletePermission(ctx, id)
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx)
	s.record(ctx, actor, "deleted", "permission", id, map[string]any{"name": deleted.Name, "guard": deleted.Guard})
	return nil
}

func (s *Service) permission(ctx context.Context, id int64) (Permission, error) {
	perm, err := s.repo.GetPermission(ctx, id)
	if err != nil {
		return Permission{}, err
	}
	return markCatalog(perm), nil
}

func markCatalog(perm Permission) Permission {
	perm.Catalog = rbac.IsCatalogPermission(rbac.Permission(perm.Name))
	return perm
}

func (s *Service) ensureRoleNameFree(ctx context.Context, tx TxRepository, name, guard string, excludeID int64) error {
	exists, err := tx.RoleNameExists(ctx, name, guard, excludeID)
	if err != nil {
		return err
	}
	if exists {
		return shared.NewValidationError("name", "The name has already been taken.")
	}
	return nil
}

// resolvePermissions maps names to ids within guard. Names stored nowhere are
// a validation failure; names stored only under other guards are a conflict.
func (s *Service) resolvePermissions(ctx context.Context, tx TxRepository, guard string, names []string) ([]int64, error) {
	names = uniqueNames(names)
	if len(names) == 0 {
		return nil, nil
	}
	found, err := tx.PermissionIDs(ctx, guard, names)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(names))
	var missing []string
	for _, n := range names {
		if id, ok := found[n]; ok {
			ids = append(ids, id)
			continue
		}
		missing = append(missing, n)
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
	return nil, shared.UnresolvedPermissionsError(guard, unknown, foreign)
}

// syncRolePermissions applies the symmetric difference between the stored and
// desired permission ids.
func syncRolePermissions(ctx context.Context, tx TxRepository, roleID int64, desired []int64) ([]int64, []int64, error) {
	current, err := tx.RolePermissionIDs(ctx, roleID)
	if err != nil {
		return nil, nil, err
	}
	existing := make(map[int64]struct{}, len(current))
	for _, id := range current {
		existing[id] = struct{}{}
	}
	keep := make(map[int64]struct{}, len(desired))
	var added, removed []int64
	for _, id := range desired {
		keep[id] = struct{}{}
		if _, ok := existing[id]; !ok {
			added = append(added, id)
		}
	}
	for _, id := range current {
		if _, ok := keep[id]; !ok {
			removed = append(removed, id)
		}
	}
	if err := tx.AttachRolePermissions(ctx, roleID, added); err != nil {
		return nil, nil, err
	}
	if err := tx.DetachRolePermissions(ctx, roleID, removed); err != nil {
		return nil, nil, err
	}
	return added, removed, nil
}

func (s *Service) guardOrDefault(guard string) string {
	guard = strings.TrimSpace(guard)
	if guard == "" {
		return s.defaultGuard
	}
	return guard
}

// invalidate runs after commit. A failure leaves entries to expire by TTL.
func (s *Service) invalidate(ctx context.Context) {
	if err := s.invalidator.Invalidate(ctx); err != nil {
		s.logger.Error("roles invalidate permission cache", slog.Any("error", err))
	}
}

func (s *Service) record(ctx context.Context, actor rbac.Principal, event, subject string, id int64, props map[string]any) {
	if s.activity == nil {
		return
	}
	entry := shared.ActivityEntry{
		LogName:     logName,
		Event:       event,
		Description: subject + " " + event,
		SubjectType: subject,
		SubjectID:   id,
		CauserID:    actor.ID,
		Properties:  props,
	}
	if err := s.activity.Record(ctx, entry); err != nil {
		s.logger.Warn("roles record activity", slog.String("event", event), slog.Any("error", err))
	}
}

func validatePermissionName(name string) error {
	if name == "" {
		return shared.NewValidationError("name", "The name field is required.")
	}
	if !permissionNamePattern.MatchString(name) {
		return shared.NewValidationError("name", "The name must look like resource.action.")
	}
	return nil
}

func uniqueNames(names []string) []string {
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

func mapUnique(err error, field, message string) error {
	if err != nil && db.IsUniqueViolation(err) {
		return shared.NewValidationError(field, message)
	}
	return err
}
