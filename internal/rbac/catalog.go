package rbac

// Permission is a fine-grained capability namespaced as <resource>.<action>.
type Permission string

// Permissions enforced throughout the API. The list is closed per release.
const (
	PermUsersView           Permission = "users.view"
	PermUsersManage         Permission = "users.manage"
	PermSitesView           Permission = "sites.view"
	PermSitesManage         Permission = "sites.manage"
	PermRolesManage         Permission = "roles.manage"
	PermActivityView        Permission = "activity.view"
	PermAcademicYearsView   Permission = "academic_years.view"
	PermAcademicYearsManage Permission = "academic_years.manage"
)

// Built-in roles.
const (
	RoleSuperadmin = "superadmin"
	RoleAdmin      = "admin"
	RoleUser       = "user"
)

// DefaultRole is assigned to newly registered accounts.
const DefaultRole = RoleUser

var catalog = []Permission{
	PermUsersView,
	PermUsersManage,
	PermSitesView,
	PermSitesManage,
	PermRolesManage,
	PermActivityView,
	PermAcademicYearsView,
	PermAcademicYearsManage,
}

var builtinRoles = []string{RoleSuperadmin, RoleAdmin, RoleUser}

// roleDefaults maps each built-in role to its compiled permission set.
var roleDefaults = map[string][]Permission{
	RoleSuperadmin: catalog,
	RoleAdmin: {
		PermUsersView,
		PermUsersManage,
		PermSitesView,
		PermSitesManage,
		PermActivityView,
		PermAcademicYearsView,
		PermAcademicYearsManage,
	},
	RoleUser: {
		PermSitesView,
		PermAcademicYearsView,
	},
}

// AllPermissions returns the full permission catalog.
func AllPermissions() PermissionSet {
	return NewPermissionSet(catalog...)
}

// IsCatalogPermission reports whether p belongs to the compiled catalog.
func IsCatalogPermission(p Permission) bool {
	for _, c := range catalog {
		if c == p {
			return true
		}
	}
	return false
}

// BuiltinRoles lists built-in role names in seeding order.
func BuiltinRoles() []string {
	return append([]string(nil), builtinRoles...)
}

// DefaultPermissionsFor returns the compiled defaults for role. Names outside
// the built-in list yield an empty set.
func DefaultPermissionsFor(role string) PermissionSet {
	return NewPermissionSet(roleDefaults[role]...)
}
