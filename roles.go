package auth

import "strings"

// System role names seeded with the catalog
const (
	// RoleAdmin can do everything, including user and role management
	RoleAdmin = "Admin"
	// RoleEditor manages all content
	RoleEditor = "Editor"
	// RoleAuthor writes and publishes own content
	RoleAuthor = "Author"
	// RoleReader can read and comment
	RoleReader = "Reader"
)

var roleHierarchy = map[string]int{
	strings.ToLower(RoleReader): 0,
	strings.ToLower(RoleAuthor): 1,
	strings.ToLower(RoleEditor): 2,
	strings.ToLower(RoleAdmin):  3,
}

// IsSystemRoleName reports whether name is one of the seeded system roles
func IsSystemRoleName(name string) bool {
	_, ok := roleHierarchy[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// RoleLevel returns the rank of a system role, or -1 for custom roles
func RoleLevel(name string) int {
	level, ok := roleHierarchy[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return -1
	}
	return level
}

// IsAtLeast checks if any of roles meets the minimum system role
func IsAtLeast(roles []string, minRole string) bool {
	min := RoleLevel(minRole)
	if min < 0 {
		return false
	}
	for _, r := range roles {
		if RoleLevel(r) >= min {
			return true
		}
	}
	return false
}

// GetAllRoles returns the system roles in hierarchical order
func GetAllRoles() []string {
	return []string{
		RoleReader,
		RoleAuthor,
		RoleEditor,
		RoleAdmin,
	}
}
