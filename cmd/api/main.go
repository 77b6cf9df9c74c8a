package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"secure-auth/internal/config"
	"secure-auth/internal/db"
	"secure-auth/internal/email"
	"secure-auth/internal/federation"
	apihttp "secure-auth/internal/http"
	"secure-auth/internal/lockout"
	"secure-auth/internal/password"
	"secure-auth/internal/service"
	"secure-auth/internal/session"
	"secure-auth/internal/telemetry"
	"secure-auth/internal/token"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	shutdownTracing, err := telemetry.SetupTracing(ctx, "secure-auth", cfg.OTelEndpoint)
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
		shutdownTracing = func(context.Context) error { return nil }
	}

	store, err := db.Open(ctx, cfg)
	if err != nil {
		logger.Fatal("open account store", zap.Error(err))
	}
	defer store.Close()
	if cfg.RunMigrations {
		if err := store.Migrate(ctx); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
	}

	hasher, err := password.NewArgon2Hasher(password.Params{
		MemoryKB:    cfg.Argon2MemoryKB,
		Time:        cfg.Argon2Time,
		Parallelism: cfg.Argon2Parallelism,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		logger.Fatal("password hasher", zap.Error(err))
	}

	var (
		ledger  token.Ledger = token.NewMemoryLedger()
		limiter              = service.NewRequestLimiter(cfg.ForgotPasswordWindow, cfg.ForgotPasswordMax)
	)
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer redisClient.Close()
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed, using in-process ledger and limiter", zap.Error(err))
		} else {
			ledger = token.NewRedisLedger(redisClient)
			limiter = service.NewRedisRequestLimiter(redisClient, cfg.ForgotPasswordWindow, cfg.ForgotPasswordMax, logger)
		}
		cancel()
	}

	purposeSecret := []byte(cfg.PurposeTokenSecret)
	if len(purposeSecret) == 0 {
		purposeSecret = token.DeriveSecret(cfg.JWTSecret)
	}
	purposeTokens, err := token.NewIssuer(purposeSecret, cfg.JWTIssuer, cfg.EmailConfirmTTL, cfg.PasswordResetTTL, token.WithLedger(ledger))
	if err != nil {
		logger.Fatal("purpose token issuer", zap.Error(err))
	}
	sessions := session.NewIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, cfg.SessionTTL())

	var verifier federation.Verifier
	if cfg.GoogleClientID != "" {
		google, err := federation.NewGoogleVerifier(ctx, cfg.GoogleClientID, logger)
		if err != nil {
			logger.Warn("google login disabled", zap.Error(err))
		} else {
			verifier = google
		}
	} else {
		logger.Warn("google login disabled: GOOGLE_CLIENT_ID not configured")
	}

	authSvc, err := service.NewAuthService(logger, service.AuthDeps{
		Accounts:      store.Accounts,
		Hasher:        hasher,
		Policy:        password.DefaultPolicy(),
		Lockout:       lockout.Policy{Threshold: cfg.LockoutThreshold, Duration: cfg.LockoutDuration},
		PurposeTokens: purposeTokens,
		Sessions:      sessions,
		Verifier:      verifier,
		Notifier:      newNotifier(cfg, logger),
		Limiter:       limiter,
		PublicBaseURL: cfg.PublicBaseURL,
	})
	if err != nil {
		logger.Fatal("auth service", zap.Error(err))
	}

	router := apihttp.NewRouter(logger, apihttp.NewAccountHandler(logger, authSvc), sessions)
	var handler http.Handler = router
	if len(cfg.CORSAllowedOrigins) > 0 {
		handler = cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSAllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			ExposedHeaders: []string{"Retry-After"},
			MaxAge:         300,
		})(router)
	}

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("port", cfg.HTTPPort), zap.String("store", cfg.Store()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, err
		}
		zcfg.Level = lvl
	}
	return zcfg.Build()
}

func newNotifier(cfg *config.Config, logger *zap.Logger) email.Notifier {
	switch cfg.Mail() {
	case config.MailSMTP:
		sender, err := email.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.SMTPFrom, cfg.SMTPFromName, cfg.SMTPUseTLS)
		if err != nil {
			logger.Warn("smtp sender init failed", zap.Error(err))
			return email.NewDisabledSender("email sender not configured")
		}
		return sender
	case config.MailDisabled:
		return email.NewDisabledSender("email delivery disabled")
	default:
		return email.NewLogSender(logger)
	}
}
