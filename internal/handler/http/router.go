package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Zmiievskyi/Mine-sub000/internal/auth"
	"github.com/Zmiievskyi/Mine-sub000/internal/service"
	"github.com/Zmiievskyi/Mine-sub000/pkg/health"
	"github.com/Zmiievskyi/Mine-sub000/pkg/middleware"
)

// RouterConfig bundles the transport-level knobs.
type RouterConfig struct {
	CORS         middleware.CORSConfig
	SecureCookie bool
}

// NewRouter creates a chi router with all auth service routes registered.
func NewRouter(
	authService *service.AuthService,
	tokenService *service.TokenService,
	oauthService *service.OAuthService,
	jwtManager *auth.JWTManager,
	healthHandler *health.Handler,
	logger *slog.Logger,
	cfg RouterConfig,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.PrometheusMetrics("auth"))
	r.Use(middleware.Tracing("auth"))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	authHandler := NewAuthHandler(authService, tokenService, logger)
	oauthHandler := NewOAuthHandler(oauthService, cfg.SecureCookie, logger)

	// Token validator that bridges to our internal JWTManager.
	tokenValidator := func(token string) (*middleware.Claims, error) {
		claims, err := jwtManager.ValidateAccessToken(token)
		if err != nil {
			return nil, err
		}
		return &middleware.Claims{
			UserID: claims.Subject,
			Email:  claims.Email,
			Role:   claims.Role,
		}, nil
	}

	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		// Public endpoints
		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
		r.Post("/refresh", authHandler.Refresh)
		r.Post("/logout", authHandler.Logout)

		r.Get("/google/login", oauthHandler.GoogleLogin)
		r.Get("/google/callback", oauthHandler.GoogleCallback)
		r.Get("/github/login", oauthHandler.GithubLogin)
		r.Get("/github/callback", oauthHandler.GithubCallback)
		r.Post("/telegram", oauthHandler.Telegram)

		// Bearer-guarded endpoints
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(tokenValidator))

			r.Post("/logout-all", authHandler.LogoutAll)
			r.Get("/sessions", authHandler.Sessions)
			r.Post("/verify-email", authHandler.VerifyEmail)
			r.Post("/resend-verification", authHandler.ResendVerification)
			r.Post("/change-password", authHandler.ChangePassword)
		})
	})

	return r
}
