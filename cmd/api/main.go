package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BradenHooton/marketauth/internal/auth"
	"github.com/BradenHooton/marketauth/internal/background"
	"github.com/BradenHooton/marketauth/internal/captcha"
	"github.com/BradenHooton/marketauth/internal/config"
	"github.com/BradenHooton/marketauth/internal/database"
	"github.com/BradenHooton/marketauth/internal/handlers"
	middlewareCustom "github.com/BradenHooton/marketauth/internal/middleware"
	"github.com/BradenHooton/marketauth/internal/repositories"
	"github.com/BradenHooton/marketauth/internal/routes"
	"github.com/BradenHooton/marketauth/internal/services"
	pkgauth "github.com/BradenHooton/marketauth/pkg/auth"
	pkghttp "github.com/BradenHooton/marketauth/pkg/http"
	pkglogger "github.com/BradenHooton/marketauth/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
)

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
	logger.Info("configuration loaded",
		slog.String("env", cfg.Server.Env),
		slog.String("challenge_store", cfg.Auth.ChallengeStore))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if cfg.Database.RunMigrations {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		err := db.Migrate(ctx)
		cancel()
		if err != nil {
			logger.Error("failed to run migrations", slog.Any("error", err))
			os.Exit(1)
		}
	}

	userRepo := repositories.NewUserRepository(db)

	// Challenge and OAuth state stores
	var captchaStore, stateStore auth.ChallengeStore
	purgers := map[string]background.Purger{}
	switch cfg.Auth.ChallengeStore {
	case config.ChallengeStoreRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			logger.Error("failed to connect to redis", slog.String("addr", cfg.Redis.Addr), slog.Any("error", err))
			os.Exit(1)
		}

		captchaStore = repositories.NewRedisChallengeStore(rdb, "captcha:")
		stateStore = repositories.NewRedisChallengeStore(rdb, "oauth_state:")
	default:
		memCaptcha := auth.NewMemoryChallengeStore()
		memState := auth.NewMemoryChallengeStore()
		captchaStore, stateStore = memCaptcha, memState
		purgers["captcha"] = memCaptcha
		purgers["oauth_state"] = memState
	}

	tokenManager := auth.NewTokenManager(auth.TokenConfig{
		Secret:        cfg.Auth.JWTSecret,
		SessionExpiry: cfg.Auth.SessionExpiry,
		CaptchaTTL:    cfg.Auth.CaptchaTTL,
		StateTTL:      cfg.Auth.StateTTL,
	})

	auditLogger := pkglogger.NewAuditLogger(logger)
	hasher := pkgauth.NewPasswordHasher(cfg.Auth.BcryptCost)
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelay:   cfg.Auth.FailureDelay,
		RandomDelay: cfg.Auth.FailureJitter,
	})

	// Lockout notices
	var notifier services.LockoutNotifier = services.NoopLockoutNotifier{}
	if cfg.Email.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		ses, err := services.NewSESLockoutNotifier(ctx, cfg.Email.Region, cfg.Email.FromAddress, logger)
		cancel()
		if err != nil {
			logger.Error("failed to initialize email service", slog.Any("error", err))
			os.Exit(1)
		}
		notifier = ses
	}

	// Initialize services
	captchaService := services.NewCaptchaService(tokenManager, captchaStore, logger)
	lockoutService := services.NewLockoutService(userRepo, notifier, services.LockoutConfig{
		MaxFailedAttempts: cfg.Auth.MaxFailedAttempts,
		LockoutDuration:   cfg.Auth.LockoutDuration,
	}, logger, auditLogger)
	authService := services.NewAuthService(userRepo, captchaService, lockoutService, tokenManager, hasher, timingDelay, logger, auditLogger)
	userService := services.NewUserService(userRepo, tokenManager, hasher, logger, auditLogger)
	oauthService := services.NewOAuthService(userRepo, buildProviders(cfg.OAuth, logger), tokenManager,
		stateStore, cfg.OAuth.ExchangeTimeout, logger, auditLogger)

	// Initialize handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	h := routes.Handlers{
		Auth:   handlers.NewAuthHandler(authService, captcha.NewRenderer(0, 0), ipConfig, logger),
		Users:  handlers.NewUserHandler(userService, ipConfig),
		OAuth:  handlers.NewOAuthHandler(oauthService, ipConfig),
		Health: db,
	}

	cleanupManager := background.NewCleanupManager(purgers, lockoutService, logger, cfg.Auth.CleanupInterval)

	// Setup router. Client addresses come from pkghttp.ExtractClientIP, which
	// only honours forwarding headers from trusted proxies.
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger, ipConfig))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, h, tokenManager, middlewareCustom.RateLimitConfig{
		RequestsPerMinute: cfg.Auth.RateLimitPerMin,
		IPConfig:          ipConfig,
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
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupManager.Stop()
	cleanupCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

// buildProviders registers every supported provider. Providers without
// credentials stay registered so requests for them report a configuration
// error rather than an unknown provider.
func buildProviders(cfg config.OAuthConfig, logger *slog.Logger) *auth.ProviderRegistry {
	specs := []auth.ProviderSpec{auth.LineSpec(), auth.GoogleSpec()}

	providers := make([]auth.Provider, 0, len(specs))
	for _, spec := range specs {
		pc := cfg.Providers[spec.Key]
		if !pc.Configured() {
			logger.Warn("identity provider not configured", slog.String("provider", spec.Key))
		}
		providers = append(providers, auth.NewOAuth2Provider(spec, auth.ProviderCredentials{
			ClientID:     pc.ClientID,
			ClientSecret: pc.ClientSecret,
			RedirectURL:  pc.RedirectURL,
			Scopes:       pc.Scopes,
		}))
	}
	return auth.NewProviderRegistry(providers...)
}

func parseLevel(raw string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		fmt.Fprintf(os.Stderr, "unknown LOG_LEVEL %q, using info\n", raw)
		return slog.LevelInfo
	}
	return level
}
