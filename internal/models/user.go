package models

import (
	"time"

	"golang.org/x/crypto/bcrypt"
)

// User is a marketplace account. Roles live in UserRole rows; the Role
// assignment table is the source of truth for privilege, not this row.
type User struct {
	ID                  uint       `json:"id" gorm:"primaryKey"`
	UUID                string     `json:"uuid" gorm:"uniqueIndex"`
	Email               string     `json:"email" gorm:"uniqueIndex"`
	PasswordHash        string     `json:"-"` // Never serialize password hash
	Name                string     `json:"name"`
	Enabled             bool       `json:"enabled" gorm:"default:true"`
	Suspended           bool       `json:"suspended" gorm:"default:false"`
	SuspendedReason     string     `json:"suspended_reason,omitempty"`
	FailedLoginAttempts int        `json:"-" gorm:"default:0"`
	LockedUntil         *time.Time `json:"-"`
	LastLogin           *time.Time `json:"last_login,omitempty"`

	Roles []UserRole `json:"roles,omitempty" gorm:"foreignKey:UserUUID;references:UUID"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SetPassword hashes and sets the user's password.
func (u *User) SetPassword(password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hash)
	return nil
}

// CheckPassword compares the provided password with the stored hash.
func (u *User) CheckPassword(password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password))
	return err == nil
}

// IsLocked reports whether the account is inside a lockout window at now.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(now)
}

// Active reports whether the account may sign in and be authorized.
func (u *User) Active() bool {
	return u.Enabled && !u.Suspended
}
