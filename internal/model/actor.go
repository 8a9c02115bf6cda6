package model

import "github.com/google/uuid"

// Role is an operator's privilege level
type Role string

const (
	RoleSuperAdmin Role = "superadmin"
	RoleAdmin      Role = "admin"
	RoleChecker    Role = "checker"
	RoleMaker      Role = "maker"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleChecker, RoleMaker:
		return true
	}
	return false
}

// Actor is the authenticated operator performing a request
type Actor struct {
	ID   uuid.UUID `json:"id"`
	Role Role      `json:"role"`
}
