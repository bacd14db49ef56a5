package auth

import (
	"strings"
	"time"
)

// Role is a staff role. Roles are totally ordered by Level.
type Role string

const (
	RoleTechnician Role = "technician"
	RoleManager    Role = "manager"
	RoleDirector   Role = "director"
	RoleAdmin      Role = "admin"
	RoleOwner      Role = "owner"
)

var roleLevels = map[Role]int{
	RoleTechnician: 20,
	RoleManager:    40,
	RoleDirector:   60,
	RoleAdmin:      80,
	RoleOwner:      100,
}

// LevelOf returns the rank of role; unknown roles rank 0.
func LevelOf(role Role) int {
	return roleLevels[role]
}

// ParseRole normalizes s and reports whether it names a known role.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.TrimSpace(strings.ToLower(s)))
	_, ok := roleLevels[r]
	return r, ok
}

// Known reports whether r is a member of the role set.
func (r Role) Known() bool {
	_, ok := roleLevels[r]
	return ok
}

// Principal is an internal staff identity.
type Principal struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	Role      Role      `json:"role"`
	Active    bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
