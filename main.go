package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"postvolve/config"
	"postvolve/db"
	"postvolve/handlers"
	"postvolve/logger"
	"postvolve/middleware"
	"postvolve/platforms"
	"postvolve/services"
	"postvolve/store"
	"postvolve/telemetry"
)

const version = "1.4.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Logger is not up yet.
		_ = logger.Init("local")
		logger.Error("load config", zap.Error(err))
		os.Exit(1)
	}
	if err := logger.Init(cfg.Env); err != nil {
		os.Exit(1)
	}
	defer logger.Sync()
	logger.Info("booting postvolve api", zap.String("version", version), zap.String("env", cfg.Env))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := telemetry.InitSentry(cfg.SentryDSN, cfg.Env, version); err != nil {
		logger.Warn("sentry disabled", zap.Error(err))
	}
	defer telemetry.FlushSentry()

	if cfg.OtelEndpoint != "" {
		shutdown, err := telemetry.InitTracer(ctx, cfg.OtelEndpoint, cfg.Env)
		if err != nil {
			logger.Warn("tracing disabled", zap.Error(err))
		} else {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	if err := db.InitDB(cfg.DatabaseURL); err != nil {
		logger.Error("connect database", zap.Error(err))
		os.Exit(1)
	}
	defer db.Close()
	if err := db.RunMigrations("schema.sql"); err != nil {
		logger.Error("migrate database", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("database schema verified")

	rdb, err := db.InitRedis(cfg.RedisURL)
	if err != nil {
		logger.Error("connect redis", zap.Error(err))
		os.Exit(1)
	}
	defer rdb.Close()

	var events services.EventPublisher = services.NopEvents{}
	if cfg.NatsURL != "" {
		nc, err := db.InitNATS(cfg.NatsURL)
		if err != nil {
			logger.Warn("events disabled", zap.Error(err))
		} else {
			defer nc.Drain()
			events = services.NewNatsEvents(nc)
		}
	}

	var sealer *store.Sealer
	if cfg.TokenKey != "" {
		if sealer, err = store.NewSealer(cfg.TokenKey); err != nil {
			logger.Error("token key", zap.Error(err))
			os.Exit(1)
		}
	} else if !cfg.IsLocal() {
		logger.Warn("TOKEN_ENCRYPTION_KEY not set, oauth tokens stored unsealed")
	}

	features := config.LoadFeatures()
	logger.Info("features",
		zap.Bool("auth", features.AuthEnabled),
		zap.Bool("billing", features.BillingEnabled),
		zap.Bool("scheduler", features.SchedulerEnabled))

	st := store.New(db.GetDB(), sealer)
	registry := platforms.NewDefaultRegistry(cfg)
	locker := services.NewRedisLocker(rdb)
	notifier := services.NewNotifier(st, services.NotifierConfig{
		SendGridAPIKey:  cfg.SendGridAPIKey,
		MailFrom:        cfg.MailFrom,
		SlackWebhookURL: cfg.SlackWebhookURL,
		AppURL:          cfg.AppURL,
	})

	publisher := services.NewPublisher(st, registry, locker, notifier, events, services.PublishConfig{
		BatchSize:   cfg.PublishBatchSize,
		MaxAttempts: cfg.PublishMaxAttempts,
		StuckAfter:  cfg.StuckAfter,
	})

	var ai services.ContentGenerator
	if cfg.OpenAIKey != "" {
		ai = services.NewOpenAIGenerator(cfg.OpenAIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL)
	} else {
		logger.Warn("OPENAI_API_KEY not set, generation disabled")
	}
	generator := services.NewGenerator(st, ai, registry, locker, notifier, cfg.GenerateLead)

	billing := services.NewBilling(st, services.BillingConfig{
		Enabled:       features.BillingEnabled,
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		PricePro:      cfg.StripePricePro,
		PriceBusiness: cfg.StripePriceBusiness,
		AppURL:        cfg.AppURL,
	})

	if features.SchedulerEnabled {
		go services.RunEvery(ctx, "publish-scheduled", cfg.PublishInterval, func(ctx context.Context) error {
			_, err := publisher.RunDue(ctx)
			return err
		})
		if ai != nil {
			go services.RunEvery(ctx, "generate-daily", cfg.GenerateInterval, func(ctx context.Context) error {
				_, err := generator.RunDaily(ctx)
				return err
			})
		}
	}

	if err := middleware.RegisterValidators(); err != nil {
		logger.Error("register validators", zap.Error(err))
		os.Exit(1)
	}
	if !cfg.IsLocal() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(middleware.Recovery())
	r.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	if cfg.OtelEndpoint != "" {
		r.Use(otelgin.Middleware(telemetry.ServiceName))
	}
	r.Use(middleware.RequestLogger())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     []string{cfg.AppURL},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "baggage", "sentry-trace"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	r.Use(gzip.Gzip(gzip.DefaultCompression))
	r.Use(middleware.NewRateLimiter(cfg.RateLimitPerMinute).Middleware())

	auth, err := middleware.NewAuthenticator(cfg.JWTSecret, features, st)
	if err != nil {
		logger.Error("auth middleware", zap.Error(err))
		os.Exit(1)
	}
	h := handlers.New(handlers.Deps{
		Store:     st,
		Publisher: publisher,
		Generator: generator,
		OAuth:     services.NewOAuth(rdb, registry, st, cfg.APIURL),
		Billing:   billing,
		Features:  features,
		JWTSecret: cfg.JWTSecret,
		AppURL:    cfg.AppURL,
		Secure:    !cfg.IsLocal(),
	})
	h.Register(r, auth.Required(), middleware.CronAuth(cfg.CronSecret))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		// Cron runs publish a whole batch inside one request.
		WriteTimeout: 5 * time.Minute,
	}

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", zap.Error(err))
	}
	logger.Info("server exited")
}
