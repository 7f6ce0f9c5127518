package permissions

import (
	"fmt"
	"sort"
)

// Permission is a fine-grained capability. The set is closed: only the
// constants below parse.
type Permission string

const (
	// User management
	UserReadOwnProfile   Permission = "user:read_own_profile"
	UserUpdateOwnProfile Permission = "user:update_own_profile"
	UserDeleteOwnAccount Permission = "user:delete_own_account"

	// Music data
	MusicReadOwnData    Permission = "user:read_music_data"
	MusicSyncOwnSpotify Permission = "user:sync_own_spotify"
	MusicDeleteOwnData  Permission = "user:delete_music_data"

	// AI insights
	AIGenerateOwnInsights Permission = "user:gen_insights"

	// System operations
	AdminReadAllUsers     Permission = "admin:read_all_users"
	AdminDeleteAnyUser    Permission = "admin:delete_user"
	AdminViewSystemStats  Permission = "admin:system_stats"
	AdminManageAPIKeys    Permission = "admin:api_keys"
	AdminManagePermission Permission = "admin:permissions"
	AdminManageSystem     Permission = "admin:system"
)

// All enumerates every known permission in stable order.
var All = []Permission{
	UserReadOwnProfile,
	UserUpdateOwnProfile,
	UserDeleteOwnAccount,
	MusicReadOwnData,
	MusicSyncOwnSpotify,
	MusicDeleteOwnData,
	AIGenerateOwnInsights,
	AdminReadAllUsers,
	AdminDeleteAnyUser,
	AdminViewSystemStats,
	AdminManageAPIKeys,
	AdminManagePermission,
	AdminManageSystem,
}

var known = func() map[Permission]struct{} {
	m := make(map[Permission]struct{}, len(All))
	for _, p := range All {
		m[p] = struct{}{}
	}
	return m
}()

// Parse validates a raw permission code.
func Parse(raw string) (Permission, error) {
	p := Permission(raw)
	if _, ok := known[p]; !ok {
		return "", fmt.Errorf("unknown permission %q", raw)
	}
	return p, nil
}

// Role groups a baseline permission set.
type Role string

const (
	RoleUser   Role = "user"
	RoleAdmin  Role = "admin"
	RoleSystem Role = "system"
)

// ParseRole validates a raw role name.
func ParseRole(raw string) (Role, error) {
	switch Role(raw) {
	case RoleUser, RoleAdmin, RoleSystem:
		return Role(raw), nil
	default:
		return "", fmt.Errorf("unknown role %q", raw)
	}
}

var selfServicePermissions = []Permission{
	UserReadOwnProfile,
	UserUpdateOwnProfile,
	UserDeleteOwnAccount,
	MusicReadOwnData,
	MusicSyncOwnSpotify,
	MusicDeleteOwnData,
	AIGenerateOwnInsights,
}

// RolePermissions maps each role to its baseline permission set. The system
// role carries no baseline: it operates on explicit grants only.
var RolePermissions = map[Role][]Permission{
	RoleUser:  selfServicePermissions,
	RoleAdmin: All,
}

// Set is a deduplicated permission collection.
type Set map[Permission]struct{}

// Has reports membership.
func (s Set) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Sorted returns the members in stable order.
func (s Set) Sorted() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Effective computes the union of a role's baseline and explicit grants.
// The union is idempotent and order-independent; explicit grants can only
// add to the baseline, never subtract from it.
func Effective(role Role, grants []Permission) Set {
	baseline := RolePermissions[role]
	set := make(Set, len(baseline)+len(grants))
	for _, p := range baseline {
		set[p] = struct{}{}
	}
	for _, p := range grants {
		if _, ok := known[p]; !ok {
			continue
		}
		set[p] = struct{}{}
	}
	return set
}
