package account

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"homestats.org/internal/permissions"
)

func newMockStore(t *testing.T) (*PGStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPGStore(db), mock
}

func userRows(u User) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "email", "hashed_password", "role", "is_active",
		"created_at", "updated_at", "last_login_at", "deleted_at", "deletion_reason",
	})
	var lastLogin, deletedAt any
	var reason any
	if u.LastLoginAt != nil {
		lastLogin = *u.LastLoginAt
	}
	if u.DeletedAt != nil {
		deletedAt = *u.DeletedAt
	}
	if u.DeletionReason != nil {
		reason = *u.DeletionReason
	}
	rows.AddRow(u.ID, u.Email, u.HashedPassword, string(u.Role), u.IsActive,
		u.CreatedAt, u.UpdatedAt, lastLogin, deletedAt, reason)
	return rows
}

func TestCreateRejectsDuplicateEmail(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select exists").
		WithArgs("taken@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	_, err := store.Create(context.Background(), "Taken@Example.com", "digest", permissions.RoleUser)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateInsertsActiveUser(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select exists").
		WithArgs("new@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("insert into users").
		WithArgs(sqlmock.AnyArg(), "new@example.com", "digest", "user", true, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	u, err := store.Create(context.Background(), "New@Example.com", "digest", permissions.RoleUser)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if u.ID == "" {
		t.Fatalf("expected generated id")
	}
	if !u.IsActive || u.Deleted() {
		t.Fatalf("new user must be active and not deleted")
	}
	if u.Email != "new@example.com" {
		t.Fatalf("email not normalized: %s", u.Email)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetByIDDefaultExcludesSoftDeleted(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select .* from users where id=.* and is_active = true and deleted_at is null").
		WithArgs("u1").
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetByID(context.Background(), "u1", false)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	deleted := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	reason := "user requested"
	mock.ExpectQuery("select .* from users where id=").
		WithArgs("u1").
		WillReturnRows(userRows(User{
			ID: "u1", Email: "gone@example.com", Role: permissions.RoleUser,
			CreatedAt: deleted.Add(-time.Hour), UpdatedAt: deleted,
			DeletedAt: &deleted, DeletionReason: &reason,
		}))

	u, err := store.GetByID(context.Background(), "u1", true)
	if err != nil {
		t.Fatalf("GetByID include_deleted: %v", err)
	}
	if !u.Deleted() || u.IsActive {
		t.Fatalf("expected soft-deleted inactive user, got %+v", u)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSoftDeleteStampsMarkers(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("update users").
		WithArgs("u1", sqlmock.AnyArg(), "gdpr request").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.SoftDelete(context.Background(), "u1", "gdpr request"); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestSoftDeleteUnknownUser(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("update users").
		WithArgs("ghost", sqlmock.AnyArg(), "").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.SoftDelete(context.Background(), "ghost", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecoverReportsNoMatch(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("update users").
		WithArgs("u1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := store.Recover(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if ok {
		t.Fatalf("expected false for non-deleted user")
	}
}

func TestHardDeleteCascadesInOneTransaction(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("delete from user_permissions").WithArgs("u1").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("delete from refresh_tokens").WithArgs("u1").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("delete from users").WithArgs("u1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.HardDelete(context.Background(), "u1"); err != nil {
		t.Fatalf("HardDelete: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestHardDeleteRollsBackOnFailure(t *testing.T) {
	store, mock := newMockStore(t)

	boom := errors.New("storage unavailable")
	mock.ExpectBegin()
	mock.ExpectExec("delete from user_permissions").WithArgs("u1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("delete from refresh_tokens").WithArgs("u1").WillReturnError(boom)
	mock.ExpectRollback()

	if err := store.HardDelete(context.Background(), "u1"); !errors.Is(err, boom) {
		t.Fatalf("expected propagated storage error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGrantPermissionConflict(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select exists").
		WithArgs("u1", "admin:read_all_users").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	_, err := store.GrantPermission(context.Background(), "u1", permissions.AdminReadAllUsers, "admin-1")
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestGrantPermissionInserts(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("select exists").
		WithArgs("u1", "admin:read_all_users").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec("insert into user_permissions").
		WithArgs(sqlmock.AnyArg(), "u1", "admin:read_all_users", sqlmock.AnyArg(), "admin-1").
		WillReturnResult(sqlmock.NewResult(1, 1))

	grant, err := store.GrantPermission(context.Background(), "u1", permissions.AdminReadAllUsers, "admin-1")
	if err != nil {
		t.Fatalf("GrantPermission: %v", err)
	}
	if grant.ID == "" || grant.GrantedBy != "admin-1" {
		t.Fatalf("unexpected grant: %+v", grant)
	}
}

func TestRevokePermissionReportsRemoval(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("delete from user_permissions").
		WithArgs("u1", "admin:read_all_users").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("delete from user_permissions").
		WithArgs("u1", "admin:read_all_users").
		WillReturnResult(sqlmock.NewResult(0, 0))

	removed, err := store.RevokePermission(context.Background(), "u1", permissions.AdminReadAllUsers)
	if err != nil || !removed {
		t.Fatalf("first revoke: removed=%v err=%v", removed, err)
	}
	removed, err = store.RevokePermission(context.Background(), "u1", permissions.AdminReadAllUsers)
	if err != nil {
		t.Fatalf("second revoke: %v", err)
	}
	if removed {
		t.Fatalf("second revoke must report no row removed")
	}
}

func TestListExpiredSoftDeleted(t *testing.T) {
	store, mock := newMockStore(t)

	deleted := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("select .* from users").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(userRows(User{
			ID: "u1", Email: "stale@example.com", Role: permissions.RoleUser,
			CreatedAt: deleted.Add(-24 * time.Hour), UpdatedAt: deleted, DeletedAt: &deleted,
		}))

	users, err := store.ListExpiredSoftDeleted(context.Background(), deleted.Add(31*24*time.Hour))
	if err != nil {
		t.Fatalf("ListExpiredSoftDeleted: %v", err)
	}
	if len(users) != 1 || users[0].ID != "u1" {
		t.Fatalf("unexpected result: %+v", users)
	}
}

func TestRefreshTokenRecordLifecycle(t *testing.T) {
	store, mock := newMockStore(t)

	rec := &RefreshTokenRecord{UserID: "u1", TokenHash: "abc", ExpiresAt: time.Now().Add(time.Hour)}
	mock.ExpectExec("insert into refresh_tokens").
		WithArgs(sqlmock.AnyArg(), "u1", "abc", sqlmock.AnyArg(), sqlmock.AnyArg(), false).
		WillReturnResult(sqlmock.NewResult(1, 1))
	if err := store.CreateRefreshToken(context.Background(), rec); err != nil {
		t.Fatalf("CreateRefreshToken: %v", err)
	}
	if rec.ID == "" {
		t.Fatalf("expected generated id")
	}

	mock.ExpectQuery("select id, user_id, token_hash").
		WithArgs(rec.ID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "token_hash", "expires_at", "created_at", "is_revoked"}).
			AddRow(rec.ID, "u1", "abc", rec.ExpiresAt, time.Now(), false))
	found, err := store.FindRefreshToken(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("FindRefreshToken: %v", err)
	}
	if found.Revoked {
		t.Fatalf("fresh record must not be revoked")
	}

	mock.ExpectExec("update refresh_tokens set is_revoked=true where id=").
		WithArgs(rec.ID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := store.RevokeRefreshToken(context.Background(), rec.ID); err != nil {
		t.Fatalf("RevokeRefreshToken: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
