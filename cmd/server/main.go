// Package main runs the academy payments HTTP server with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-academy/backend/config"
	"github.com/aura-academy/backend/internal/auth"
	"github.com/aura-academy/backend/internal/checkout"
	"github.com/aura-academy/backend/internal/gateway"
	"github.com/aura-academy/backend/internal/middleware"
	"github.com/aura-academy/backend/internal/models"
	"github.com/aura-academy/backend/internal/notify"
	"github.com/aura-academy/backend/internal/payments"
	"github.com/aura-academy/backend/internal/recovery"
	"github.com/aura-academy/backend/internal/settlement"
	"github.com/aura-academy/backend/internal/slipverify"
	"github.com/aura-academy/backend/pkg/database"
	"github.com/aura-academy/backend/pkg/queue"
	"github.com/aura-academy/backend/pkg/redis"
	"github.com/aura-academy/backend/pkg/response"
	"github.com/aura-academy/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), database.PoolConfig{
		MaxConns:        cfg.Database.MaxConns,
		MaxConnLifetime: time.Duration(cfg.Database.MaxConnLifetimeMin) * time.Minute,
	}, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	// Slip archive is best effort; checkout runs without it.
	var (
		slipArchiver checkout.SlipArchiver
		slipSigner   recovery.SlipSigner
	)
	if cfg.AWS.SlipsBucket != "" {
		s3Client, err := storage.NewS3(ctx, storage.S3Config{
			Region:               cfg.AWS.Region,
			AccessKeyID:          cfg.AWS.AccessKeyID,
			SecretAccessKey:      cfg.AWS.SecretAccessKey,
			SlipsBucket:          cfg.AWS.SlipsBucket,
			PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
		}, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		} else {
			slipArchiver, slipSigner = s3Client, s3Client
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	repo := payments.NewRepository(pool)
	jobQueue := queue.NewQueue(rdb.Client, logger)

	dispatcher := notify.NewDispatcher(jobQueue, repo, logger)
	engine := settlement.NewEngine(repo, dispatcher, logger)

	verifier := slipverify.NewClient(slipverify.Config{
		URL:     cfg.SlipVerify.URL,
		APIKey:  cfg.SlipVerify.APIKey,
		Timeout: time.Duration(cfg.SlipVerify.TimeoutSec) * time.Second,
	}, logger)
	checkoutSvc := checkout.NewService(repo, verifier, slipArchiver, engine, checkout.Config{
		MaxSlipBytes: cfg.Payment.MaxSlipBytes,
		Currency:     cfg.Payment.Currency,
	}, logger)

	var (
		sessions gateway.Sessions
		webhooks checkout.WebhookParser
	)
	if cfg.Stripe.SecretKey != "" {
		stripeGateway := gateway.NewStripe(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret)
		sessions, webhooks = stripeGateway, stripeGateway
	} else {
		logger.Warn("stripe disabled: STRIPE_SECRET_KEY not set")
	}
	checkoutHandler := checkout.NewHandler(checkoutSvc, webhooks, logger)

	recoverySvc := recovery.NewService(repo, engine, sessions, cfg.Payment.MaxRetryCount, logger)
	recoveryHandler := recovery.NewHandler(recoverySvc, slipSigner, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))
	router.MaxMultipartMemory = cfg.Payment.MaxSlipBytes + 1<<20

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Webhooks (no JWT; signature verified in handler)
	router.POST("/webhooks/stripe", checkoutHandler.StripeWebhook)

	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.POST("/coupons/validate", checkoutHandler.ValidateCoupon)
		api.POST("/checkout/slip", checkoutHandler.SubmitSlip)
		api.GET("/checkout/stripe/confirm", recoveryHandler.ConfirmStripe)

		admin := api.Group("/admin", middleware.RequireRole(models.RoleAdmin))
		admin.GET("/payments", recoveryHandler.ListStuck)
		admin.POST("/payments/:id/retry", recoveryHandler.Retry)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	dispatcher.Wait()
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
