package http

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/Zmiievskyi/Mine-sub000/internal/auth"
	"github.com/Zmiievskyi/Mine-sub000/internal/domain"
	"github.com/Zmiievskyi/Mine-sub000/internal/event"
	"github.com/Zmiievskyi/Mine-sub000/internal/oauth"
	"github.com/Zmiievskyi/Mine-sub000/internal/service"
	apperrors "github.com/Zmiievskyi/Mine-sub000/pkg/errors"
	"github.com/Zmiievskyi/Mine-sub000/pkg/health"
	"github.com/Zmiievskyi/Mine-sub000/pkg/middleware"
)

// --- Mock Repositories ---

type mockUserRepo struct {
	mock.Mock
}

func (m *mockUserRepo) Create(ctx context.Context, user *domain.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *mockUserRepo) GetByID(ctx context.Context, id string) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepo) GetByProviderID(ctx context.Context, provider domain.Provider, externalID string) (*domain.User, error) {
	args := m.Called(ctx, provider, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockUserRepo) LinkProviderID(ctx context.Context, userID string, provider domain.Provider, externalID string, avatarURL *string) error {
	args := m.Called(ctx, userID, provider, externalID, avatarURL)
	return args.Error(0)
}

func (m *mockUserRepo) Update(ctx context.Context, user *domain.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

type mockTokenRepo struct {
	mock.Mock
}

func (m *mockTokenRepo) Create(ctx context.Context, token *domain.RefreshToken) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *mockTokenRepo) GetActiveByHash(ctx context.Context, tokenHash string) (*domain.RefreshToken, error) {
	args := m.Called(ctx, tokenHash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RefreshToken), args.Error(1)
}

func (m *mockTokenRepo) MarkConsumed(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockTokenRepo) ListActiveByUserID(ctx context.Context, userID string) ([]domain.RefreshToken, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.RefreshToken), args.Error(1)
}

func (m *mockTokenRepo) RevokeByHash(ctx context.Context, tokenHash string) error {
	args := m.Called(ctx, tokenHash)
	return args.Error(0)
}

func (m *mockTokenRepo) RevokeByUserID(ctx context.Context, userID string) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockTokenRepo) CountActiveByUserID(ctx context.Context, userID string) (int64, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockTokenRepo) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

// --- Test Helpers ---

func newTestRouter(users *mockUserRepo, tokens *mockTokenRepo) (http.Handler, *auth.JWTManager) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	jwtManager := auth.NewJWTManager("test-secret-key-for-testing", 15*time.Minute)
	publisher := event.NewPublisher(nil)

	tokenService := service.NewTokenService(users, tokens, jwtManager, service.DefaultTokenConfig(), logger)
	authService := service.NewAuthService(users, tokenService, publisher, logger)
	oauthService := service.NewOAuthService(users, tokenService,
		oauth.NewManager(oauth.Config{}), auth.NewTelegramVerifier("test-bot-token"), publisher, logger)

	router := NewRouter(authService, tokenService, oauthService, jwtManager, health.NewHandler(), logger, RouterConfig{
		CORS: middleware.DefaultCORSConfig(),
	})
	return router, jwtManager
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func activeLocalUser(t *testing.T, password string) *domain.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), 4)
	require.NoError(t, err)
	u := domain.NewLocalUser("miner@example.com", string(hash), nil)
	u.ID = "user-001"
	return u
}

// --- Register / Login ---

func TestRegisterEndpoint_Created(t *testing.T) {
	users := new(mockUserRepo)
	tokens := new(mockTokenRepo)
	router, _ := newTestRouter(users, tokens)

	users.On("Create", mock.Anything, mock.AnythingOfType("*domain.User")).Return(nil)
	tokens.On("CountActiveByUserID", mock.Anything, mock.AnythingOfType("string")).Return(int64(0), nil)
	tokens.On("Create", mock.Anything, mock.AnythingOfType("*domain.RefreshToken")).Return(nil)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/auth/register", map[string]any{
		"email":    "miner@example.com",
		"password": "SecurePass123",
	}, nil)

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		Data authResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Data.AccessToken)
	assert.NotEmpty(t, resp.Data.RefreshToken)
	require.NotNil(t, resp.Data.User)
	assert.False(t, resp.Data.User.EmailVerified)
}

func TestRegisterEndpoint_ValidationError(t *testing.T) {
	users := new(mockUserRepo)
	tokens := new(mockTokenRepo)
	router, _ := newTestRouter(users, tokens)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/auth/register", map[string]any{
		"email":    "not-an-email",
		"password": "short",
	}, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "VALIDATION_ERROR")
	users.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestLoginEndpoint_InvalidCredentials(t *testing.T) {
	users := new(mockUserRepo)
	tokens := new(mockTokenRepo)
	router, _ := newTestRouter(users, tokens)

	users.On("GetByEmail", mock.Anything, "miner@example.com").Return(nil, apperrors.ErrNotFound)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/auth/login", map[string]any{
		"email":    "miner@example.com",
		"password": "WrongPass123",
	}, nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid credentials")
}

func TestLoginEndpoint_Success(t *testing.T) {
	users := new(mockUserRepo)
	tokens := new(mockTokenRepo)
	router, _ := newTestRouter(users, tokens)

	users.On("GetByEmail", mock.Anything, "miner@example.com").Return(activeLocalUser(t, "SecurePass123"), nil)
	tokens.On("CountActiveByUserID", mock.Anything, "user-001").Return(int64(0), nil)
	tokens.On("Create", mock.Anything, mock.AnythingOfType("*domain.RefreshToken")).Return(nil)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/auth/login", map[string]any{
		"email":    "miner@example.com",
		"password": "SecurePass123",
	}, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
}

// --- Refresh / Logout ---

func TestRefreshEndpoint_UnknownToken(t *testing.T) {
	users := new(mockUserRepo)
	tokens := new(mockTokenRepo)
	router, _ := newTestRouter(users, tokens)

	tokens.On("GetActiveByHash", mock.Anything, mock.AnythingOfType("string")).
		Return(nil, apperrors.ErrNotFound)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/auth/refresh", map[string]any{
		"refresh_token": "garbage",
	}, nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutEndpoint_AlwaysNoContent(t *testing.T) {
	users := new(mockUserRepo)
	tokens := new(mockTokenRepo)
	router, _ := newTestRouter(users, tokens)

	tokens.On("RevokeByHash", mock.Anything, mock.AnythingOfType("string")).Return(nil)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/auth/logout", map[string]any{
		"refresh_token": "whatever",
	}, nil)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

// --- Bearer-guarded endpoints ---

func TestSessionsEndpoint_RequiresBearer(t *testing.T) {
	users := new(mockUserRepo)
	tokens := new(mockTokenRepo)
	router, _ := newTestRouter(users, tokens)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/sessions", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSessionsEndpoint_ListsActiveSessions(t *testing.T) {
	users := new(mockUserRepo)
	tokens := new(mockTokenRepo)
	router, jwtManager := newTestRouter(users, tokens)

	token, err := jwtManager.GenerateAccessToken(activeLocalUser(t, "SecurePass123"))
	require.NoError(t, err)

	now := time.Now().UTC()
	tokens.On("ListActiveByUserID", mock.Anything, "user-001").Return([]domain.RefreshToken{
		{ID: "tok-001", UserID: "user-001", ExpiresAt: now.Add(time.Hour), CreatedAt: now},
		{ID: "tok-002", UserID: "user-001", ExpiresAt: now.Add(2 * time.Hour), CreatedAt: now},
	}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data struct {
			Count    int                   `json:"count"`
			Sessions []domain.RefreshToken `json:"sessions"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Data.Count)
	assert.Len(t, resp.Data.Sessions, 2)
}

func TestLogoutAllEndpoint_ReturnsCount(t *testing.T) {
	users := new(mockUserRepo)
	tokens := new(mockTokenRepo)
	router, jwtManager := newTestRouter(users, tokens)

	token, err := jwtManager.GenerateAccessToken(activeLocalUser(t, "SecurePass123"))
	require.NoError(t, err)

	tokens.On("RevokeByUserID", mock.Anything, "user-001").Return(int64(3), nil)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/auth/logout-all", nil, map[string]string{
		"Authorization": "Bearer " + token,
	})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"revoked":3`)
}

// --- Telegram ---

func TestTelegramEndpoint_RejectsBadSignature(t *testing.T) {
	users := new(mockUserRepo)
	tokens := new(mockTokenRepo)
	router, _ := newTestRouter(users, tokens)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/auth/telegram", map[string]any{
		"id":        987654321,
		"auth_date": time.Now().Unix(),
		"hash":      "deadbeef",
	}, nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTelegramEndpoint_RejectsMissingFields(t *testing.T) {
	users := new(mockUserRepo)
	tokens := new(mockTokenRepo)
	router, _ := newTestRouter(users, tokens)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/auth/telegram", map[string]any{
		"id": 987654321,
	}, nil)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// --- Transport concerns ---

func TestContentTypeEnforced(t *testing.T) {
	users := new(mockUserRepo)
	tokens := new(mockTokenRepo)
	router, _ := newTestRouter(users, tokens)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewBufferString("email=x"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestHealthLive(t *testing.T) {
	users := new(mockUserRepo)
	tokens := new(mockTokenRepo)
	router, _ := newTestRouter(users, tokens)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOAuthCallback_StateMismatch(t *testing.T) {
	users := new(mockUserRepo)
	tokens := new(mockTokenRepo)
	router, _ := newTestRouter(users, tokens)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/google/callback?state=forged&code=abc", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestOAuthLogin_RedirectsWithStateCookie(t *testing.T) {
	users := new(mockUserRepo)
	tokens := new(mockTokenRepo)
	router, _ := newTestRouter(users, tokens)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/github/login", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTemporaryRedirect, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Location"))

	var stateCookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == stateCookieName {
			stateCookie = c
		}
	}
	require.NotNil(t, stateCookie)
	assert.NotEmpty(t, stateCookie.Value)
	assert.True(t, stateCookie.HttpOnly)
}
