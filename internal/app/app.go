package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Zmiievskyi/Mine-sub000/internal/auth"
	"github.com/Zmiievskyi/Mine-sub000/internal/config"
	"github.com/Zmiievskyi/Mine-sub000/internal/event"
	handler "github.com/Zmiievskyi/Mine-sub000/internal/handler/http"
	"github.com/Zmiievskyi/Mine-sub000/internal/oauth"
	"github.com/Zmiievskyi/Mine-sub000/internal/repository/postgres"
	"github.com/Zmiievskyi/Mine-sub000/internal/service"
	"github.com/Zmiievskyi/Mine-sub000/migrations"
	"github.com/Zmiievskyi/Mine-sub000/pkg/database"
	"github.com/Zmiievskyi/Mine-sub000/pkg/health"
	pkgkafka "github.com/Zmiievskyi/Mine-sub000/pkg/kafka"
	"github.com/Zmiievskyi/Mine-sub000/pkg/middleware"
	"github.com/Zmiievskyi/Mine-sub000/pkg/tracing"
)

// cleanupHour is the UTC hour at which the daily token sweep runs.
const cleanupHour = 3

// App wires together all dependencies and runs the auth service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	producer       *pkgkafka.Producer
	tokenService   *service.TokenService
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    "auth",
		ServiceVersion: "0.1.0",
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     cfg.TraceSample,
		Enabled:        cfg.TracingEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	// Initialize PostgreSQL connection pool.
	pool, err := database.NewPostgresPool(ctx, cfg.Postgres())
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	database.RegisterPoolMetrics(pool, "auth")

	// Run database migrations.
	if err := database.RunMigrations(ctx, pool, migrations.Files, logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrations completed")

	// Initialize Kafka producer.
	kafkaCfg := pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers)
	producer := pkgkafka.NewProducer(kafkaCfg, logger)
	logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))

	// Build the dependency graph.
	jwtManager := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTAccessExpiry)
	telegramVerifier := auth.NewTelegramVerifier(cfg.TelegramBotToken)
	oauthManager := oauth.NewManager(oauth.Config{
		GoogleClientID:     cfg.GoogleClientID,
		GoogleClientSecret: cfg.GoogleClientSecret,
		GithubClientID:     cfg.GithubClientID,
		GithubClientSecret: cfg.GithubClientSecret,
		RedirectBaseURL:    cfg.OAuthRedirectBase,
	})

	userRepo := postgres.NewUserRepository(pool)
	tokenRepo := postgres.NewRefreshTokenRepository(pool)
	publisher := event.NewPublisher(producer)

	tokenService := service.NewTokenService(userRepo, tokenRepo, jwtManager, service.TokenConfig{
		ShortTTL:         cfg.RefreshShortExpiry,
		LongTTL:          cfg.RefreshLongExpiry,
		MaxSessions:      cfg.MaxSessions,
		CleanupRetention: cfg.SessionCleanupRetention,
	}, logger)
	authService := service.NewAuthService(userRepo, tokenService, publisher, logger)
	oauthService := service.NewOAuthService(userRepo, tokenService, oauthManager, telegramVerifier, publisher, logger)

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.RegisterCritical("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthHandler.RegisterNonCritical("kafka", func(ctx context.Context) error {
		return producer.Ping(ctx)
	})

	// HTTP router.
	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.CORSAllowedOrigins
	corsCfg.Environment = cfg.Environment

	router := handler.NewRouter(authService, tokenService, oauthService, jwtManager, healthHandler, logger, handler.RouterConfig{
		CORS:         corsCfg,
		SecureCookie: strings.HasPrefix(cfg.OAuthRedirectBase, "https://"),
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		pool:           pool,
		producer:       producer,
		tokenService:   tokenService,
		httpServer:     httpServer,
		tracerShutdown: tracerShutdown,
	}, nil
}

// Run starts the HTTP server and the daily token sweeper, then blocks until
// the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	go a.runCleanupLoop(ctx)

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	return a.Shutdown()
}

// runCleanupLoop sweeps stale refresh-token rows once per day in the quiet
// hours. A failed sweep is logged and retried on the next tick; token
// validity never depends on it.
func (a *App) runCleanupLoop(ctx context.Context) {
	timer := time.NewTimer(untilNextCleanup(time.Now().UTC()))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		sweepCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		if _, err := a.tokenService.Cleanup(sweepCtx); err != nil {
			a.logger.Error("token cleanup failed", slog.String("error", err.Error()))
		}
		cancel()

		timer.Reset(untilNextCleanup(time.Now().UTC()))
	}
}

// untilNextCleanup returns the wait until the next daily sweep slot.
func untilNextCleanup(now time.Time) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), cleanupHour, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Tracer (flush pending spans from drained requests)
// 3. Kafka producer
// 4. PostgreSQL pool
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if err := a.producer.Close(); err != nil {
		a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	a.pool.Close()

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}
