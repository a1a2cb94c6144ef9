package auth

// Permission is a named capability.
type Permission string

// Permission constants.
const (
	PermConsoleRead    Permission = "console:read"
	PermConsolePower   Permission = "console:power"
	PermConsoleCommand Permission = "console:command"
	PermAuditRead      Permission = "audit:read"
	PermSystemAdmin    Permission = "system:admin"
)

// rolePermissions is the single source of truth for the authorisation model.
var rolePermissions = map[Role][]Permission{
	RoleViewer: {
		PermConsoleRead,
	},
	RoleOperator: {
		PermConsoleRead,
		PermConsolePower,
		PermConsoleCommand,
	},
	RoleAdmin: {
		PermConsoleRead,
		PermConsolePower,
		PermConsoleCommand,
		PermAuditRead,
		PermSystemAdmin,
	},
}

// HasPermission returns true if the given role has the specified permission.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// PermissionsForRole returns a copy of the permissions granted to a role,
// or nil for unknown roles.
func PermissionsForRole(role Role) []Permission {
	perms := rolePermissions[role]
	if perms == nil {
		return nil
	}
	result := make([]Permission, len(perms))
	copy(result, perms)
	return result
}
