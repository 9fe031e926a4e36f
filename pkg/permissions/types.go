package permissions

import (
	"github.com/estateloop/estateloop/pkg/roles"
)

// Permission strings are DOMAIN:ACTION pairs. The closed set below is the
// whole vocabulary; grants referencing anything else are rejected.
const (
	PermListingsView    = "listings:view"
	PermListingsCreate  = "listings:create"
	PermListingsEdit    = "listings:edit"
	PermListingsDelete  = "listings:delete"
	PermListingsFeature = "listings:feature"

	PermUsersView = "users:view"
	PermUsersEdit = "users:edit"

	PermRolesView   = "roles:view"
	PermRolesChange = "roles:change"

	PermPermissionsManage = "permissions:manage"

	PermAnalyticsView = "analytics:view"

	PermSupportRespond = "support:respond"

	PermSystemAdmin = "system:admin"
)

// AllPermissions groups the vocabulary by domain for the discovery
// endpoint.
var AllPermissions = map[string][]string{
	"listings": {
		PermListingsView,
		PermListingsCreate,
		PermListingsEdit,
		PermListingsDelete,
		PermListingsFeature,
	},
	"users": {
		PermUsersView,
		PermUsersEdit,
	},
	"roles": {
		PermRolesView,
		PermRolesChange,
	},
	"permissions": {
		PermPermissionsManage,
	},
	"analytics": {
		PermAnalyticsView,
	},
	"support": {
		PermSupportRespond,
	},
	"system": {
		PermSystemAdmin,
	},
}

// DefaultRolePermissions maps each role to its baseline permission set.
// Pending agents keep the plain user baseline until approval.
var DefaultRolePermissions = map[roles.Role][]string{
	roles.RoleUser: {
		PermListingsView,
	},
	roles.RoleAgentPending: {
		PermListingsView,
	},
	roles.RoleAgent: {
		PermListingsView,
		PermListingsCreate,
		PermListingsEdit,
		PermListingsDelete,
	},
	roles.RoleSupport: {
		PermListingsView,
		PermUsersView,
		PermRolesView,
		PermSupportRespond,
	},
	roles.RoleAdmin: {
		PermListingsView,
		PermListingsCreate,
		PermListingsEdit,
		PermListingsDelete,
		PermListingsFeature,
		PermUsersView,
		PermUsersEdit,
		PermRolesView,
		PermRolesChange,
		PermPermissionsManage,
		PermAnalyticsView,
		PermSupportRespond,
	},
	roles.RoleSuperAdmin: {
		PermListingsView,
		PermListingsCreate,
		PermListingsEdit,
		PermListingsDelete,
		PermListingsFeature,
		PermUsersView,
		PermUsersEdit,
		PermRolesView,
		PermRolesChange,
		PermPermissionsManage,
		PermAnalyticsView,
		PermSupportRespond,
		PermSystemAdmin,
	},
}

// IsKnownPermission reports whether the string belongs to the vocabulary.
func IsKnownPermission(permission string) bool {
	for _, perms := range AllPermissions {
		for _, p := range perms {
			if p == permission {
				return true
			}
		}
	}
	return false
}
