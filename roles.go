package impersonate

// UserRole is the user's role
type UserRole string

const (
	// RoleGuest can view
	RoleGuest UserRole = "guest"
	// RoleMember can view and edit
	RoleMember UserRole = "member"
	// RoleAdmin can view, edit, create and impersonate
	RoleAdmin UserRole = "admin"
	// RoleOwner can do everything
	RoleOwner UserRole = "owner"
)

// PrivilegedRole is the lowest role allowed to impersonate. Identities at or
// above it can never be impersonated.
const PrivilegedRole = RoleAdmin

var roleHierarchy = map[UserRole]int{
	RoleGuest:  0,
	RoleMember: 1,
	RoleAdmin:  2,
	RoleOwner:  3,
}

// IsValid checks if the role is one of the predefined valid roles
func (r UserRole) IsValid() bool {
	_, ok := roleHierarchy[r]
	return ok
}

// IsAtLeast checks if this role meets the minimum required level
func (r UserRole) IsAtLeast(minRole UserRole) bool {
	currentLevel, exists := roleHierarchy[r]
	if !exists {
		return false
	}

	minLevel, exists := roleHierarchy[minRole]
	if !exists {
		return false
	}

	return currentLevel >= minLevel
}

// IsPrivileged reports whether the role may impersonate.
func (r UserRole) IsPrivileged() bool {
	return r.IsAtLeast(PrivilegedRole)
}

// GetAllRoles returns all predefined roles in hierarchical order
func GetAllRoles() []UserRole {
	return []UserRole{
		RoleGuest,
		RoleMember,
		RoleAdmin,
		RoleOwner,
	}
}

// ParseRole safely parses a string into a UserRole type
func ParseRole(roleStr string) (UserRole, bool) {
	role := UserRole(roleStr)
	return role, role.IsValid()
}
