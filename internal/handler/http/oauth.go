package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/Zmiievskyi/Mine-sub000/internal/auth"
	"github.com/Zmiievskyi/Mine-sub000/internal/domain"
	"github.com/Zmiievskyi/Mine-sub000/internal/service"
	apperrors "github.com/Zmiievskyi/Mine-sub000/pkg/errors"
	"github.com/Zmiievskyi/Mine-sub000/pkg/httputil"
)

const (
	stateCookieName = "oauth_state"
	stateCookieTTL  = 10 * time.Minute
)

// OAuthHandler serves the provider login endpoints: redirect flows for
// Google and GitHub, and the widget-payload endpoint for Telegram.
type OAuthHandler struct {
	svc          *service.OAuthService
	secureCookie bool
	logger       *slog.Logger
}

// NewOAuthHandler creates the OAuth HTTP handler. secureCookie must be true
// whenever the service is reached over HTTPS.
func NewOAuthHandler(svc *service.OAuthService, secureCookie bool, logger *slog.Logger) *OAuthHandler {
	return &OAuthHandler{svc: svc, secureCookie: secureCookie, logger: logger}
}

// GoogleLogin handles GET /api/v1/auth/google/login.
func (h *OAuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	h.beginLogin(w, r, domain.ProviderGoogle)
}

// GoogleCallback handles GET /api/v1/auth/google/callback.
func (h *OAuthHandler) GoogleCallback(w http.ResponseWriter, r *http.Request) {
	h.completeLogin(w, r, domain.ProviderGoogle)
}

// GithubLogin handles GET /api/v1/auth/github/login.
func (h *OAuthHandler) GithubLogin(w http.ResponseWriter, r *http.Request) {
	h.beginLogin(w, r, domain.ProviderGithub)
}

// GithubCallback handles GET /api/v1/auth/github/callback.
func (h *OAuthHandler) GithubCallback(w http.ResponseWriter, r *http.Request) {
	h.completeLogin(w, r, domain.ProviderGithub)
}

// Telegram handles POST /api/v1/auth/telegram. The login widget posts its
// signed payload directly; there is no redirect round trip.
func (h *OAuthHandler) Telegram(w http.ResponseWriter, r *http.Request) {
	var data auth.TelegramAuthData
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		httputil.WriteError(w, r, apperrors.InvalidInput("invalid request body"), h.logger)
		return
	}
	if data.ID == 0 || data.Hash == "" || data.AuthDate == 0 {
		httputil.WriteError(w, r, apperrors.InvalidInput("id, hash, and auth_date are required"), h.logger)
		return
	}

	device, ip := clientMeta(r)
	user, pair, err := h.svc.TelegramLogin(r.Context(), &data, device, ip)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: newAuthResponse(user, pair)})
}

// beginLogin stores the CSRF state in a cookie and redirects to the
// provider's consent page.
func (h *OAuthHandler) beginLogin(w http.ResponseWriter, r *http.Request, provider domain.Provider) {
	url, state, err := h.svc.AuthURL(provider)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/api/v1/auth",
		MaxAge:   int(stateCookieTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, url, http.StatusTemporaryRedirect)
}

// completeLogin verifies the round-tripped state, exchanges the code, and
// returns the session payload.
func (h *OAuthHandler) completeLogin(w http.ResponseWriter, r *http.Request, provider domain.Provider) {
	cookie, err := r.Cookie(stateCookieName)
	if err != nil || cookie.Value == "" || cookie.Value != r.URL.Query().Get("state") {
		httputil.WriteError(w, r, apperrors.Unauthorized("oauth state mismatch"), h.logger)
		return
	}

	// One shot per state.
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    "",
		Path:     "/api/v1/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	code := r.URL.Query().Get("code")
	if code == "" {
		httputil.WriteError(w, r, apperrors.InvalidInput("missing authorization code"), h.logger)
		return
	}

	device, ip := clientMeta(r)
	user, pair, err := h.svc.CompleteLogin(r.Context(), provider, code, device, ip)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: newAuthResponse(user, pair)})
}
