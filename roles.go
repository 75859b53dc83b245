package auth

import "strings"

// UserRole is the user's role
type UserRole string

const (
	// RoleUser is the default role for registered readers
	RoleUser UserRole = "user"
	// RoleAdmin can author content
	RoleAdmin UserRole = "admin"
)

var roleHierarchy = map[UserRole]int{
	RoleUser:  1,
	RoleAdmin: 2,
}

// IsValid checks if the role is one of the predefined valid roles
func (r UserRole) IsValid() bool {
	_, ok := roleHierarchy[r]
	return ok
}

// IsAtLeast checks if this role is at least min
func (r UserRole) IsAtLeast(min UserRole) bool {
	return roleHierarchy[r] >= roleHierarchy[min] && r.IsValid()
}

// Authority returns the value carried in the roles claim, ROLE_USER
func (r UserRole) Authority() string {
	return "ROLE_" + strings.ToUpper(string(r))
}

// ParseRole returns the role for s, falling back to RoleUser
func ParseRole(s string) UserRole {
	r := UserRole(strings.ToLower(strings.TrimSpace(s)))
	if r.IsValid() {
		return r
	}
	return RoleUser
}
