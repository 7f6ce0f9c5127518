package account

import (
	"context"
	"time"

	"homestats.org/internal/permissions"
)

// Store describes the persistence operations the auth subsystem requires.
// Every method is a single logically-atomic unit against the backing store.
type Store interface {
	Create(ctx context.Context, email, passwordHash string, role permissions.Role) (*User, error)
	GetByID(ctx context.Context, id string, includeDeleted bool) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	TouchLastLogin(ctx context.Context, id string) error

	SoftDelete(ctx context.Context, id, reason string) error
	Recover(ctx context.Context, id string) (bool, error)
	HardDelete(ctx context.Context, id string) error
	ListExpiredSoftDeleted(ctx context.Context, cutoff time.Time) ([]User, error)

	GrantPermission(ctx context.Context, userID string, perm permissions.Permission, grantedBy string) (*PermissionGrant, error)
	RevokePermission(ctx context.Context, userID string, perm permissions.Permission) (bool, error)
	ListPermissions(ctx context.Context, userID string) ([]PermissionGrant, error)

	CreateRefreshToken(ctx context.Context, rec *RefreshTokenRecord) error
	FindRefreshToken(ctx context.Context, id string) (*RefreshTokenRecord, error)
	RevokeRefreshToken(ctx context.Context, id string) error
	RevokeRefreshTokensForUser(ctx context.Context, userID string) error
}
