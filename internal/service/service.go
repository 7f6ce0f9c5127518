package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"homestats.org/internal/account"
	"homestats.org/internal/password"
	"homestats.org/internal/permissions"
	"homestats.org/internal/token"
)

const minPasswordLength = 8

// Service composes the credential codec, password hasher, permission model
// and account repository into the authorization layer. It holds no
// persisted state of its own.
type Service struct {
	store       account.Store
	codec       *token.Codec
	hasher      *password.Hasher
	gracePeriod time.Duration
	now         func() time.Time
	log         zerolog.Logger
}

// Option configures Service behavior.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithGracePeriod sets the soft-delete recovery window.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.gracePeriod = d
		}
	}
}

// WithLogger attaches a component logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.log = log }
}

// New constructs the authorization service.
func New(store account.Store, codec *token.Codec, hasher *password.Hasher, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("service: account store is required")
	}
	if codec == nil {
		return nil, errors.New("service: token codec is required")
	}
	if hasher == nil {
		return nil, errors.New("service: password hasher is required")
	}
	s := &Service{
		store:       store,
		codec:       codec,
		hasher:      hasher,
		gracePeriod: 30 * 24 * time.Hour,
		now:         time.Now,
		log:         zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// TokenPair carries freshly minted credentials. ExpiresIn is the access
// token lifetime in seconds.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	TokenType        string
	ExpiresIn        int
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Register creates a new account. Short passwords fail validation,
// duplicate emails surface as account.ErrConflict, and a post-create
// read-back miss is an internal error: it signals a repository
// consistency bug, not caller misuse.
func (s *Service) Register(ctx context.Context, email, plaintext string) (*account.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if len(plaintext) < minPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters long", ErrInvalidInput, minPasswordLength)
	}

	digest, err := s.hasher.Hash(plaintext)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	created, err := s.store.Create(ctx, email, digest, permissions.RoleUser)
	if err != nil {
		return nil, err
	}

	user, err := s.store.GetByID(ctx, created.ID, false)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil, fmt.Errorf("post-create read-back missed user %s", created.ID)
		}
		return nil, err
	}
	return user, nil
}

// Authenticate looks up the account by email and verifies the password.
// Every mismatch (unknown email, wrong password, inactive or soft-deleted
// account) returns (nil, nil) so callers cannot distinguish the cases. A
// dummy hash comparison runs on the unknown-email path to keep latency
// uniform.
func (s *Service) Authenticate(ctx context.Context, email, plaintext string) (*account.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || plaintext == "" {
		s.hasher.DummyVerify()
		return nil, nil
	}

	user, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			s.hasher.DummyVerify()
			return nil, nil
		}
		return nil, err
	}

	match := s.hasher.Verify(plaintext, user.HashedPassword)
	if !match || !user.IsActive || user.Deleted() {
		return nil, nil
	}

	if err := s.store.TouchLastLogin(ctx, user.ID); err != nil {
		// Login still succeeds; the stamp is advisory.
		s.log.Warn().Err(err).Str("user_id", user.ID).Msg("failed to stamp last login")
	}
	return user, nil
}

// IssueTokenPair mints access and refresh tokens together and persists the
// refresh revocation record.
func (s *Service) IssueTokenPair(ctx context.Context, userID string) (*TokenPair, error) {
	access, accessExp, err := s.codec.IssueAccess(userID)
	if err != nil {
		return nil, err
	}
	refresh, jti, refreshExp, err := s.codec.IssueRefresh(userID)
	if err != nil {
		return nil, err
	}
	rec := &account.RefreshTokenRecord{
		ID:        jti,
		UserID:    userID,
		TokenHash: hashToken(refresh),
		ExpiresAt: refreshExp,
	}
	if err := s.store.CreateRefreshToken(ctx, rec); err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		TokenType:        "bearer",
		ExpiresIn:        int(s.codec.AccessTTL().Seconds()),
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Refresh exchanges a refresh token for a fresh pair, rotating the
// server-side record. Any verification failure (wrong kind, bad signature,
// revoked or unknown record, inactive subject) returns (nil, nil) so the
// HTTP layer maps uniformly to unauthorized.
func (s *Service) Refresh(ctx context.Context, raw string) (*TokenPair, error) {
	claims, err := s.codec.Verify(raw)
	if err != nil {
		return nil, nil
	}
	if claims.Kind != token.KindRefresh {
		return nil, nil
	}

	rec, err := s.store.FindRefreshToken(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if rec.Revoked || s.now().After(rec.ExpiresAt) {
		return nil, nil
	}
	if !compareTokenHash(rec.TokenHash, raw) {
		// A valid jti with a wrong hash smells like token forgery; burn
		// the record.
		_ = s.store.RevokeRefreshToken(ctx, rec.ID)
		return nil, nil
	}

	user, err := s.store.GetByID(ctx, claims.Subject, false)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	// Rotate: the presented record is spent regardless of what follows.
	if err := s.store.RevokeRefreshToken(ctx, rec.ID); err != nil {
		return nil, err
	}
	return s.IssueTokenPair(ctx, user.ID)
}

// VerifyAccess validates an access token and resolves its subject to an
// active user. Refresh tokens are rejected here.
func (s *Service) VerifyAccess(ctx context.Context, raw string) (*account.User, error) {
	claims, err := s.codec.Verify(raw)
	if err != nil {
		return nil, ErrUnauthorized
	}
	if claims.Kind != token.KindAccess {
		return nil, ErrUnauthorized
	}
	user, err := s.store.GetByID(ctx, claims.Subject, false)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	return user, nil
}

// EffectivePermissions resolves the union of the user's role baseline and
// explicit grants. Unknown users yield an empty set and no error, so
// downstream permission checks fail closed.
func (s *Service) EffectivePermissions(ctx context.Context, userID string) (permissions.Set, error) {
	user, err := s.store.GetByID(ctx, userID, false)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return permissions.Set{}, nil
		}
		return nil, err
	}
	grants, err := s.store.ListPermissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	granted := make([]permissions.Permission, 0, len(grants))
	for _, g := range grants {
		granted = append(granted, g.Permission)
	}
	return permissions.Effective(user.Role, granted), nil
}

// RequirePermission fails with ErrForbidden unless the user holds the
// permission.
func (s *Service) RequirePermission(ctx context.Context, userID string, perm permissions.Permission) error {
	set, err := s.EffectivePermissions(ctx, userID)
	if err != nil {
		return err
	}
	if !set.Has(perm) {
		return fmt.Errorf("%w: missing permission %s", ErrForbidden, perm)
	}
	return nil
}

// RequireOwnershipOrPermission passes silently when the caller owns the
// resource; otherwise the admin permission must be held. An empty admin
// permission denies outright.
func (s *Service) RequireOwnershipOrPermission(ctx context.Context, userID, resourceOwnerID string, adminPerm permissions.Permission) error {
	if userID != "" && userID == resourceOwnerID {
		return nil
	}
	if adminPerm == "" {
		return fmt.Errorf("%w: not the resource owner", ErrForbidden)
	}
	return s.RequirePermission(ctx, userID, adminPerm)
}

// GetUser loads an account by id. Lookups exclude soft-deleted accounts
// unless includeDeleted is set.
func (s *Service) GetUser(ctx context.Context, userID string, includeDeleted bool) (*account.User, error) {
	return s.store.GetByID(ctx, userID, includeDeleted)
}

// GrantPermission records an explicit grant for the target user.
func (s *Service) GrantPermission(ctx context.Context, targetID string, perm permissions.Permission, actorID string) (*account.PermissionGrant, error) {
	if _, err := s.store.GetByID(ctx, targetID, false); err != nil {
		return nil, err
	}
	return s.store.GrantPermission(ctx, targetID, perm, actorID)
}

// RevokePermission removes an explicit grant, reporting whether one
// existed. Role-baseline permissions are untouchable here: lowering access
// below the baseline requires a role change.
func (s *Service) RevokePermission(ctx context.Context, targetID string, perm permissions.Permission) (bool, error) {
	if _, err := s.store.GetByID(ctx, targetID, false); err != nil {
		return false, err
	}
	return s.store.RevokePermission(ctx, targetID, perm)
}

// SoftDeleteAccount deactivates the account and revokes its live refresh
// sessions so it cannot keep minting access tokens through the grace
// window.
func (s *Service) SoftDeleteAccount(ctx context.Context, userID, reason string) error {
	if err := s.store.SoftDelete(ctx, userID, reason); err != nil {
		return err
	}
	if err := s.store.RevokeRefreshTokensForUser(ctx, userID); err != nil {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("failed to revoke sessions after soft delete")
	}
	return nil
}

// RecoverAccount restores a soft-deleted account inside the grace window.
func (s *Service) RecoverAccount(ctx context.Context, userID string) error {
	user, err := s.store.GetByID(ctx, userID, true)
	if err != nil {
		return err
	}
	if !user.Deleted() {
		return fmt.Errorf("%w: account is not deleted", ErrInvalidInput)
	}
	if s.now().Sub(*user.DeletedAt) > s.gracePeriod {
		return ErrGraceExpired
	}
	recovered, err := s.store.Recover(ctx, userID)
	if err != nil {
		return err
	}
	if !recovered {
		return fmt.Errorf("recover raced with another lifecycle change for user %s", userID)
	}
	return nil
}

// HardDeleteAccount permanently destroys the user and its dependents.
func (s *Service) HardDeleteAccount(ctx context.Context, userID string) error {
	return s.store.HardDelete(ctx, userID)
}

// RevokeAllSessions revokes every live refresh token record for the user.
func (s *Service) RevokeAllSessions(ctx context.Context, userID string) error {
	return s.store.RevokeRefreshTokensForUser(ctx, userID)
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func compareTokenHash(expected, raw string) bool {
	actual := hashToken(raw)
	if len(expected) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expected), []byte(actual)) == 1
}
