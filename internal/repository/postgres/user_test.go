package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zmiievskyi/Mine-sub000/internal/domain"
	"github.com/Zmiievskyi/Mine-sub000/pkg/database"
	apperrors "github.com/Zmiievskyi/Mine-sub000/pkg/errors"
)

func newTestUserRepo(t *testing.T) (*UserRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	return NewUserRepository(mock), mock
}

func sampleUser() *domain.User {
	u := domain.NewLocalUser("miner@example.com", "$2a$12$fakehash", nil)
	u.ID = "user-001"
	u.CreatedAt = u.CreatedAt.Truncate(time.Microsecond)
	u.UpdatedAt = u.UpdatedAt.Truncate(time.Microsecond)
	return u
}

func userRows(users ...*domain.User) *pgxmock.Rows {
	rows := pgxmock.NewRows([]string{
		"id", "email", "password_hash", "name", "avatar_url", "role", "is_active", "email_verified",
		"provider", "google_id", "github_id", "telegram_id",
		"verification_code_hash", "verification_code_expires_at", "verification_attempts", "verification_locked_until",
		"created_at", "updated_at",
	})
	for _, u := range users {
		rows.AddRow(u.ID, u.Email, u.PasswordHash, u.Name, u.AvatarURL, u.Role, u.IsActive, u.EmailVerified,
			u.Provider, u.GoogleID, u.GithubID, u.TelegramID,
			u.VerificationCodeHash, u.VerificationCodeExpiresAt, u.VerificationAttempts, u.VerificationLockedUntil,
			u.CreatedAt, u.UpdatedAt)
	}
	return rows
}

func TestUserRepository_Create(t *testing.T) {
	repo, mock := newTestUserRepo(t)
	u := sampleUser()

	mock.ExpectExec("INSERT INTO users").
		WithArgs(u.ID, u.Email, u.PasswordHash, u.Name, u.AvatarURL, u.Role, u.IsActive, u.EmailVerified,
			u.Provider, u.GoogleID, u.GithubID, u.TelegramID,
			u.VerificationCodeHash, u.VerificationCodeExpiresAt, u.VerificationAttempts, u.VerificationLockedUntil,
			u.CreatedAt, u.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Create(context.Background(), u))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_Create_DuplicateEmail(t *testing.T) {
	repo, mock := newTestUserRepo(t)
	u := sampleUser()

	mock.ExpectExec("INSERT INTO users").
		WithArgs(u.ID, u.Email, u.PasswordHash, u.Name, u.AvatarURL, u.Role, u.IsActive, u.EmailVerified,
			u.Provider, u.GoogleID, u.GithubID, u.TelegramID,
			u.VerificationCodeHash, u.VerificationCodeExpiresAt, u.VerificationAttempts, u.VerificationLockedUntil,
			u.CreatedAt, u.UpdatedAt).
		WillReturnError(errors.New(`ERROR: duplicate key value violates unique constraint "idx_users_email" (SQLSTATE 23505)`))

	err := repo.Create(context.Background(), u)

	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)
}

func TestUserRepository_GetByEmail(t *testing.T) {
	repo, mock := newTestUserRepo(t)
	u := sampleUser()

	mock.ExpectQuery("SELECT (.+) FROM users WHERE email").
		WithArgs("miner@example.com").
		WillReturnRows(userRows(u))

	got, err := repo.GetByEmail(context.Background(), "miner@example.com")

	require.NoError(t, err)
	assert.Equal(t, "user-001", got.ID)
	require.NotNil(t, got.Email)
	assert.Equal(t, "miner@example.com", *got.Email)
}

func TestUserRepository_GetByEmail_NotFound(t *testing.T) {
	repo, mock := newTestUserRepo(t)

	mock.ExpectQuery("SELECT (.+) FROM users WHERE email").
		WithArgs("ghost@example.com").
		WillReturnRows(userRows())

	_, err := repo.GetByEmail(context.Background(), "ghost@example.com")

	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestUserRepository_GetByProviderID(t *testing.T) {
	repo, mock := newTestUserRepo(t)

	u := domain.NewTelegramUser("987654321", nil, nil)
	u.ID = "user-002"

	mock.ExpectQuery("SELECT (.+) FROM users WHERE telegram_id").
		WithArgs("987654321").
		WillReturnRows(userRows(u))

	got, err := repo.GetByProviderID(context.Background(), domain.ProviderTelegram, "987654321")

	require.NoError(t, err)
	assert.Equal(t, "user-002", got.ID)
}

func TestUserRepository_GetByProviderID_LocalRejected(t *testing.T) {
	repo, _ := newTestUserRepo(t)

	_, err := repo.GetByProviderID(context.Background(), domain.ProviderLocal, "whatever")

	assert.Error(t, err)
}

func TestUserRepository_LinkProviderID(t *testing.T) {
	repo, mock := newTestUserRepo(t)

	mock.ExpectExec("UPDATE users").
		WithArgs("g-108234", pgxmock.AnyArg(), pgxmock.AnyArg(), "user-001").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := repo.LinkProviderID(context.Background(), "user-001", domain.ProviderGoogle, "g-108234", nil)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_LinkProviderID_UserMissing(t *testing.T) {
	repo, mock := newTestUserRepo(t)

	mock.ExpectExec("UPDATE users").
		WithArgs("g-108234", pgxmock.AnyArg(), pgxmock.AnyArg(), "ghost").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.LinkProviderID(context.Background(), "ghost", domain.ProviderGoogle, "g-108234", nil)

	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestUserRepository_Update_NotFound(t *testing.T) {
	repo, mock := newTestUserRepo(t)
	u := sampleUser()
	u.ID = "ghost"

	mock.ExpectExec("UPDATE users").
		WithArgs(u.Email, u.PasswordHash, u.Name, u.AvatarURL, u.Role,
			u.IsActive, u.EmailVerified, u.Provider,
			u.GoogleID, u.GithubID, u.TelegramID,
			u.VerificationCodeHash, u.VerificationCodeExpiresAt,
			u.VerificationAttempts, u.VerificationLockedUntil,
			pgxmock.AnyArg(), "ghost").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.Update(context.Background(), u)

	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
