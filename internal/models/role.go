package models

import "time"

// Role names known to the marketplace.
const (
	RoleAdmin  = "admin"
	RoleOwner  = "owner"
	RoleRenter = "renter"
)

// KnownRoles lists the roles that may be assigned.
var KnownRoles = []string{RoleAdmin, RoleOwner, RoleRenter}

// UserRole is a (user, role) assignment.
type UserRole struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	UserUUID   string    `json:"user_id" gorm:"uniqueIndex:idx_user_role"`
	Role       string    `json:"role" gorm:"uniqueIndex:idx_user_role"`
	AssignedBy string    `json:"assigned_by,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// IsKnownRole reports whether role is one of KnownRoles.
func IsKnownRole(role string) bool {
	for _, r := range KnownRoles {
		if r == role {
			return true
		}
	}
	return false
}
