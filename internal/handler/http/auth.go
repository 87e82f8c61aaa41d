package http

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Zmiievskyi/Mine-sub000/internal/domain"
	"github.com/Zmiievskyi/Mine-sub000/internal/service"
	apperrors "github.com/Zmiievskyi/Mine-sub000/pkg/errors"
	"github.com/Zmiievskyi/Mine-sub000/pkg/httputil"
	"github.com/Zmiievskyi/Mine-sub000/pkg/middleware"
	"github.com/Zmiievskyi/Mine-sub000/pkg/validator"
)

type registerRequest struct {
	Email    string  `json:"email" validate:"required,email"`
	Password string  `json:"password" validate:"required,min=8,max=72"`
	Name     *string `json:"name" validate:"omitempty,max=100"`
}

type loginRequest struct {
	Email      string `json:"email" validate:"required,email"`
	Password   string `json:"password" validate:"required"`
	RememberMe bool   `json:"remember_me"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type verifyEmailRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=72"`
}

// authResponse is the payload returned by every session-opening endpoint.
type authResponse struct {
	User         *domain.User `json:"user"`
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresAt    time.Time    `json:"expires_at"`
}

func newAuthResponse(user *domain.User, pair *domain.TokenPair) authResponse {
	return authResponse{
		User:         user,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.ExpiresAt,
	}
}

// AuthHandler serves the credential and session endpoints.
type AuthHandler struct {
	auth   *service.AuthService
	tokens *service.TokenService
	logger *slog.Logger
}

// NewAuthHandler creates the auth HTTP handler.
func NewAuthHandler(auth *service.AuthService, tokens *service.TokenService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, tokens: tokens, logger: logger}
}

// Register handles POST /api/v1/auth/register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decode(w, r, &req) {
		return
	}

	user, pair, err := h.auth.Register(r.Context(), service.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: newAuthResponse(user, pair)})
}

// Login handles POST /api/v1/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}

	device, ip := clientMeta(r)
	user, pair, err := h.auth.Login(r.Context(), service.LoginInput{
		Email:      req.Email,
		Password:   req.Password,
		RememberMe: req.RememberMe,
		DeviceInfo: device,
		IPAddress:  ip,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: newAuthResponse(user, pair)})
}

// Refresh handles POST /api/v1/auth/refresh.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !h.decode(w, r, &req) {
		return
	}

	device, ip := clientMeta(r)
	pair, err := h.tokens.Refresh(r.Context(), req.RefreshToken, device, ip)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: pair})
}

// Logout handles POST /api/v1/auth/logout. Always succeeds: revocation is
// idempotent and unknown tokens are indistinguishable from revoked ones.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.tokens.Revoke(r.Context(), req.RefreshToken); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll handles POST /api/v1/auth/logout-all. Bearer-guarded.
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())

	revoked, err := h.auth.LogoutAll(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: map[string]int64{"revoked": revoked},
	})
}

// Sessions handles GET /api/v1/auth/sessions. Bearer-guarded.
func (h *AuthHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())

	sessions, err := h.tokens.Sessions(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: map[string]any{
			"count":    len(sessions),
			"sessions": sessions,
		},
	})
}

// VerifyEmail handles POST /api/v1/auth/verify-email. Bearer-guarded.
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req verifyEmailRequest
	if !h.decode(w, r, &req) {
		return
	}

	userID := middleware.UserIDFromContext(r.Context())
	if err := h.auth.VerifyEmail(r.Context(), userID, req.Code); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: map[string]string{"status": "verified"},
	})
}

// ResendVerification handles POST /api/v1/auth/resend-verification.
// Bearer-guarded.
func (h *AuthHandler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())

	if err := h.auth.ResendVerification(r.Context(), userID); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: map[string]string{"status": "sent"},
	})
}

// ChangePassword handles POST /api/v1/auth/change-password. Bearer-guarded.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	userID := middleware.UserIDFromContext(r.Context())
	if err := h.auth.ChangePassword(r.Context(), userID, req.CurrentPassword, req.NewPassword); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{
		Data: map[string]string{"status": "password changed"},
	})
}

// decode parses and validates a JSON request body, writing the error
// response itself on failure.
func (h *AuthHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httputil.WriteError(w, r, apperrors.InvalidInput("invalid request body"), h.logger)
		return false
	}
	if err := validator.Validate(v); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return false
	}
	return true
}

// clientMeta extracts the device info and client IP used to label sessions.
func clientMeta(r *http.Request) (deviceInfo, ipAddress string) {
	deviceInfo = r.UserAgent()

	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		ipAddress = strings.TrimSpace(strings.Split(fwd, ",")[0])
		return deviceInfo, ipAddress
	}

	ipAddress = r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ipAddress = host
	}
	return deviceInfo, ipAddress
}
