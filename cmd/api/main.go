package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BradenHooton/warden/internal/auth"
	"github.com/BradenHooton/warden/internal/background"
	"github.com/BradenHooton/warden/internal/cache"
	"github.com/BradenHooton/warden/internal/config"
	"github.com/BradenHooton/warden/internal/database"
	"github.com/BradenHooton/warden/internal/handlers"
	middlewareCustom "github.com/BradenHooton/warden/internal/middleware"
	"github.com/BradenHooton/warden/internal/repositories"
	"github.com/BradenHooton/warden/internal/routes"
	"github.com/BradenHooton/warden/internal/services"
	pkgauth "github.com/BradenHooton/warden/pkg/auth"
	pkghttp "github.com/BradenHooton/warden/pkg/http"
	pkglogger "github.com/BradenHooton/warden/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// TOTP codes stay replay-protected for the whole skew window.
const otpReplayTTL = 90 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := db.Migrate(startupCtx); err != nil {
			logger.Error("failed to apply migrations", slog.Any("error", err))
			os.Exit(1)
		}
	}

	// Initialize redis
	redisClient, err := cache.Connect(startupCtx, &cfg.Redis)
	if err != nil {
		logger.Error("failed to connect to redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer redisClient.Close()

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	sessionRepo := repositories.NewSessionRepository(db)
	twoFactorRepo := repositories.NewTwoFactorRepository(db)
	actionTokenRepo := repositories.NewActionTokenRepository(db)

	// Redis-backed stores
	lockoutStore := cache.NewRedisLockoutStore(redisClient, cache.LockoutPolicy{
		Threshold: cfg.Auth.LockoutThreshold,
		Window:    cfg.Auth.LockoutWindow,
		Duration:  cfg.Auth.LockoutDuration,
	})
	blacklist := cache.NewRedisBlacklist(redisClient)
	replayGuard := cache.NewRedisReplayGuard(redisClient, otpReplayTTL)

	// Token and 2FA primitives
	tokenManager := auth.NewTokenManager(
		cfg.Auth.AccessTokenSecret,
		cfg.Auth.RefreshTokenSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
		cfg.Auth.Issuer,
	)
	totpManager, err := auth.NewTOTPManager(cfg.Auth.TOTPEncryptionKey, cfg.Auth.TOTPIssuer)
	if err != nil {
		logger.Error("failed to initialize TOTP manager", slog.Any("error", err))
		os.Exit(1)
	}
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   cfg.Auth.TimingDelayBaseMs,
		RandomDelayMs: cfg.Auth.TimingDelayRandomMs,
	})

	auditLogger := pkglogger.NewAuditLogger(logger)

	// Email delivery
	var mailer services.EmailService
	switch cfg.Email.Provider {
	case "ses":
		mailer, err = services.NewAWSSESEmailService(startupCtx, cfg.Email.AWSRegion, cfg.Email.FromAddress, cfg.Email.AppBaseURL, logger)
		if err != nil {
			logger.Error("failed to initialize email service", slog.Any("error", err))
			os.Exit(1)
		}
	default:
		logger.Warn("email provider is 'log'; messages are written to the log only")
		mailer = services.NewLogEmailService(cfg.Email.AppBaseURL, logger)
	}

	// Initialize services
	sessionService := services.NewSessionService(sessionRepo, cfg.Auth.SessionRetention)
	lockoutGuard := services.NewLockoutGuard(lockoutStore, cfg.Auth.LockoutScope, logger)
	twoFactorService := services.NewTwoFactorService(twoFactorRepo, totpManager, replayGuard, logger, auditLogger)
	resetService := services.NewPasswordResetService(actionTokenRepo, cfg.Auth.PasswordResetTTL, logger)
	verificationService := services.NewEmailVerificationService(actionTokenRepo, userRepo, mailer, logger, auditLogger, cfg.Auth.EmailVerificationTTL)
	refresher := services.NewRefreshCoordinator(tokenManager, sessionService, blacklist, userRepo, cfg.Database.QueryTimeout, logger, auditLogger)

	authService := services.NewAuthService(services.AuthDependencies{
		Users:        userRepo,
		Hasher:       pkgauth.NewHasher(cfg.Auth.BcryptCost),
		Tokens:       tokenManager,
		Sessions:     sessionService,
		Refresher:    refresher,
		Blacklist:    blacklist,
		Lockout:      lockoutGuard,
		TwoFactor:    twoFactorService,
		Resets:       resetService,
		Verification: verificationService,
		Mailer:       mailer,
		Timing:       timingDelay,
		Logger:       logger,
		AuditLogger:  auditLogger,
	})

	// Initialize cleanup manager
	cleanupManager := background.NewCleanupManager([]background.CleanupTask{
		{Name: "sessions", Run: sessionService.DeleteExpired},
		{Name: "action_tokens", Run: func(ctx context.Context) (int64, error) {
			return actionTokenRepo.DeleteExpired(ctx, time.Now())
		}},
	}, logger, cfg.Auth.CleanupInterval)

	// Initialize handlers
	ipResolver := pkghttp.NewIPResolver(cfg.Server.TrustedProxies)
	healthHandler := handlers.NewHealthHandler(map[string]handlers.HealthCheck{
		"database": db.HealthCheck,
		"redis": func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		},
	}, 2*time.Second, logger)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.SecureLogger(logger, ipResolver))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(cfg.Server.RequestTimeout))

	// Register routes
	routes.RegisterRoutes(router, routes.Dependencies{
		Auth:          handlers.NewAuthHandler(authService, ipResolver, logger),
		TwoFactor:     handlers.NewTwoFactorHandler(twoFactorService, logger),
		Health:        healthHandler,
		Verifier:      tokenManager,
		IPResolver:    ipResolver,
		AuthRateLimit: cfg.Server.AuthRateLimit,
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("server error", slog.Any("error", err))
		exitCode = 1
	}

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		exitCode = 1
	}

	logger.Info("server stopped")
	if exitCode != 0 {
		// Deferred closes do not run after os.Exit.
		redisClient.Close()
		db.Close()
		os.Exit(exitCode)
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
