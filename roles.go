package accounts

// UserRole is the closed set of roles an account can hold. It is a defined
// type (not an alias) so role checks cannot silently accept arbitrary
// strings; every switch over UserRole lists each member.
type UserRole string

const (
	// RoleUser is the default role assigned on sign-up.
	RoleUser UserRole = "user"
	// RoleAdmin grants access to admin-only routes and forced-role sign-up.
	RoleAdmin UserRole = "admin"
)

// IsValid checks if the role is one of the predefined valid roles
func (r UserRole) IsValid() bool {
	switch r {
	case RoleUser, RoleAdmin:
		return true
	default:
		return false
	}
}

// IsAtLeast checks if this role meets the minimum required level
func (r UserRole) IsAtLeast(minRole UserRole) bool {
	currentLevel, ok := roleLevel(r)
	if !ok {
		return false
	}

	minLevel, ok := roleLevel(minRole)
	if !ok {
		return false
	}

	return currentLevel >= minLevel
}

func roleLevel(r UserRole) (int, bool) {
	switch r {
	case RoleUser:
		return 0, true
	case RoleAdmin:
		return 1, true
	default:
		return 0, false
	}
}

// GetAllRoles returns all predefined roles in hierarchical order
func GetAllRoles() []UserRole {
	return []UserRole{RoleUser, RoleAdmin}
}

// ParseRole safely parses a string into a UserRole type
func ParseRole(roleStr string) (UserRole, bool) {
	role := UserRole(roleStr)
	return role, role.IsValid()
}
