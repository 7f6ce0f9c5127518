package account

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"homestats.org/internal/ids"
	"homestats.org/internal/permissions"
)

var _ Store = (*PGStore)(nil)

const pgUniqueViolation = "23505"

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPGStore wraps a database handle. The optional clock override is used
// by tests.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db, now: time.Now}
}

// WithClock overrides the store's time source.
func (s *PGStore) WithClock(fn func() time.Time) *PGStore {
	if fn != nil {
		s.now = fn
	}
	return s
}

const userColumns = `id, email, hashed_password, role, is_active, created_at, updated_at, last_login_at, deleted_at, deletion_reason`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var (
		u         User
		role      string
		lastLogin sql.NullTime
		deletedAt sql.NullTime
		reason    sql.NullString
	)
	if err := row.Scan(&u.ID, &u.Email, &u.HashedPassword, &role, &u.IsActive,
		&u.CreatedAt, &u.UpdatedAt, &lastLogin, &deletedAt, &reason); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	u.Role = permissions.Role(role)
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		u.DeletedAt = &t
	}
	if reason.Valid {
		r := reason.String
		u.DeletionReason = &r
	}
	return &u, nil
}

// Create inserts a new active user. Duplicate emails surface as ErrConflict:
// the uniqueness constraint enforces it, and a defensive pre-check keeps the
// common case off the constraint-violation path.
func (s *PGStore) Create(ctx context.Context, email, passwordHash string, role permissions.Role) (*User, error) {
	email = strings.TrimSpace(strings.ToLower(email))

	var exists bool
	err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from users where lower(email)=lower($1))`, email,
	).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrConflict
	}

	now := s.now().UTC()
	u := &User{
		ID:             ids.NewUserID(),
		Email:          email,
		HashedPassword: passwordHash,
		Role:           role,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	_, err = s.db.ExecContext(ctx,
		`insert into users(id, email, hashed_password, role, is_active, created_at, updated_at)
		 values($1,$2,$3,$4,$5,$6,$7)`,
		u.ID, u.Email, u.HashedPassword, string(u.Role), u.IsActive, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, err
	}
	return u, nil
}

// GetByID returns the user. Default lookups exclude inactive and
// soft-deleted rows; includeDeleted=true returns the row regardless.
func (s *PGStore) GetByID(ctx context.Context, id string, includeDeleted bool) (*User, error) {
	query := `select ` + userColumns + ` from users where id=$1`
	if !includeDeleted {
		query += ` and is_active = true and deleted_at is null`
	}
	return scanUser(s.db.QueryRowContext(ctx, query, id))
}

// GetByEmail returns the user regardless of lifecycle state so the caller
// can refuse uniformly without leaking which check failed.
func (s *PGStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where lower(email)=lower($1)`,
		strings.TrimSpace(email)))
}

// TouchLastLogin stamps last_login_at.
func (s *PGStore) TouchLastLogin(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`update users set last_login_at=$2, updated_at=$2 where id=$1`,
		id, s.now().UTC())
	return err
}

// SoftDelete marks the account deleted and inactive. Re-invoking re-stamps
// the timestamp.
func (s *PGStore) SoftDelete(ctx context.Context, id, reason string) error {
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx,
		`update users
		 set deleted_at=$2, deletion_reason=$3, is_active=false, updated_at=$2
		 where id=$1`,
		id, now, reason)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Recover clears the soft-delete markers and reactivates the account.
// Returns false when no soft-deleted row matched.
func (s *PGStore) Recover(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`update users
		 set deleted_at=null, deletion_reason=null, is_active=true, updated_at=$2
		 where id=$1 and deleted_at is not null`,
		id, s.now().UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// HardDelete removes the user row and its dependent grants and refresh
// token records in one transaction. Any failure rolls back all deletes.
func (s *PGStore) HardDelete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `delete from user_permissions where user_id=$1`, id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `delete from refresh_tokens where user_id=$1`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `delete from users where id=$1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// ListExpiredSoftDeleted returns users whose grace period elapsed before
// cutoff. Used exclusively by the cleanup scheduler.
func (s *PGStore) ListExpiredSoftDeleted(ctx context.Context, cutoff time.Time) ([]User, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+userColumns+` from users
		 where deleted_at is not null and deleted_at < $1 and is_active = false
		 order by deleted_at asc`, cutoff.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// GrantPermission records an explicit grant. A duplicate (user, permission)
// pair is ErrConflict.
func (s *PGStore) GrantPermission(ctx context.Context, userID string, perm permissions.Permission, grantedBy string) (*PermissionGrant, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`select exists(select 1 from user_permissions where user_id=$1 and permission=$2)`,
		userID, string(perm),
	).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrConflict
	}

	grant := &PermissionGrant{
		ID:         ids.New(),
		UserID:     userID,
		Permission: perm,
		GrantedAt:  s.now().UTC(),
		GrantedBy:  grantedBy,
	}
	_, err = s.db.ExecContext(ctx,
		`insert into user_permissions(id, user_id, permission, granted_at, granted_by)
		 values($1,$2,$3,$4,$5)`,
		grant.ID, grant.UserID, string(grant.Permission), grant.GrantedAt, grant.GrantedBy)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		return nil, err
	}
	return grant, nil
}

// RevokePermission removes an explicit grant, reporting whether a row was
// actually deleted.
func (s *PGStore) RevokePermission(ctx context.Context, userID string, perm permissions.Permission) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from user_permissions where user_id=$1 and permission=$2`,
		userID, string(perm))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListPermissions returns the user's explicit grants.
func (s *PGStore) ListPermissions(ctx context.Context, userID string) ([]PermissionGrant, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, user_id, permission, granted_at, granted_by
		 from user_permissions where user_id=$1 order by granted_at asc`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []PermissionGrant
	for rows.Next() {
		var (
			g    PermissionGrant
			perm string
		)
		if err := rows.Scan(&g.ID, &g.UserID, &perm, &g.GrantedAt, &g.GrantedBy); err != nil {
			return nil, err
		}
		g.Permission = permissions.Permission(perm)
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// CreateRefreshToken persists a revocation record for an issued refresh
// token.
func (s *PGStore) CreateRefreshToken(ctx context.Context, rec *RefreshTokenRecord) error {
	if rec.ID == "" {
		rec.ID = ids.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`insert into refresh_tokens(id, user_id, token_hash, expires_at, created_at, is_revoked)
		 values($1,$2,$3,$4,$5,$6)`,
		rec.ID, rec.UserID, rec.TokenHash, rec.ExpiresAt, rec.CreatedAt, rec.Revoked)
	return err
}

// FindRefreshToken loads a refresh token record by id.
func (s *PGStore) FindRefreshToken(ctx context.Context, id string) (*RefreshTokenRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, user_id, token_hash, expires_at, created_at, is_revoked
		 from refresh_tokens where id=$1`, id)
	var rec RefreshTokenRecord
	if err := row.Scan(&rec.ID, &rec.UserID, &rec.TokenHash, &rec.ExpiresAt, &rec.CreatedAt, &rec.Revoked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// RevokeRefreshToken marks a single record revoked.
func (s *PGStore) RevokeRefreshToken(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`update refresh_tokens set is_revoked=true where id=$1`, id)
	return err
}

// RevokeRefreshTokensForUser revokes every live record for a user. Called
// after soft delete so a deactivated account cannot keep refreshing.
func (s *PGStore) RevokeRefreshTokensForUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`update refresh_tokens set is_revoked=true where user_id=$1 and is_revoked=false`, userID)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
