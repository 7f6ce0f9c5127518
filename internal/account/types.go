package account

import (
	"time"

	"homestats.org/internal/permissions"
)

// User is the identity record. A user is visible to normal lookups only
// while is_active is true and deleted_at is unset.
type User struct {
	ID             string
	Email          string
	HashedPassword string
	Role           permissions.Role
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastLoginAt    *time.Time
	DeletedAt      *time.Time
	DeletionReason *string
}

// Deleted reports whether the account carries a soft-delete marker.
func (u *User) Deleted() bool {
	return u.DeletedAt != nil
}

// PermissionGrant is an explicit permission assigned outside the role
// baseline. At most one active grant exists per (user, permission) pair.
type PermissionGrant struct {
	ID         string
	UserID     string
	Permission permissions.Permission
	GrantedAt  time.Time
	GrantedBy  string
}

// RefreshTokenRecord is the server-side revocation record for a refresh
// token. Only a hash of the bearer artifact is stored.
type RefreshTokenRecord struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
	Revoked   bool
}
