package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/dance-school-api/api/swagger"
	"github.com/noah-isme/dance-school-api/internal/gateway"
	"github.com/noah-isme/dance-school-api/internal/handler"
	"github.com/noah-isme/dance-school-api/internal/middleware"
	"github.com/noah-isme/dance-school-api/internal/repository"
	"github.com/noah-isme/dance-school-api/internal/service"
	"github.com/noah-isme/dance-school-api/pkg/cache"
	"github.com/noah-isme/dance-school-api/pkg/config"
	"github.com/noah-isme/dance-school-api/pkg/database"
	"github.com/noah-isme/dance-school-api/pkg/export"
	"github.com/noah-isme/dance-school-api/pkg/jobs"
	"github.com/noah-isme/dance-school-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/dance-school-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/dance-school-api/pkg/middleware/requestid"
	"github.com/noah-isme/dance-school-api/pkg/signing"
)

// @title Dance School API
// @version 1.0.0
// @description Students, classes, enrollments with gateway checkout, payments and attendance
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, catalog cache disabled", zap.Error(err))
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	metrics := service.NewMetricsService()
	validate := service.NewValidator()

	userRepo := repository.NewUserRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	classRepo := repository.NewClassRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	attendanceRepo := repository.NewAttendanceRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	gatewayClient := gateway.NewClient(cfg.Gateway, logr.Named("gateway"), gateway.WithObserver(metrics.ObserveGatewayCall))
	signer := signing.NewCallbackSigner(cfg.Checkout.CallbackSecret, cfg.Checkout.CallbackTTL)

	catalogCache := service.NewCacheService(cacheRepo, metrics, cfg.Catalog.CacheTTL, logr, cfg.Catalog.CacheEnabled && redisClient != nil)
	authSvc := service.NewAuthService(userRepo, validate, logr.Named("auth"), service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "dance-school-api",
	})
	userSvc := service.NewUserService(userRepo, studentRepo, validate, logr.Named("users"))
	studentSvc := service.NewStudentService(studentRepo, validate, logr)
	customerSvc := service.NewCustomerService(studentRepo, gatewayClient, logr)
	classSvc := service.NewClassService(classRepo, enrollmentRepo, catalogCache, validate, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, studentRepo, classRepo, validate, logr)
	paymentSvc := service.NewPaymentService(paymentRepo, studentRepo, enrollmentRepo, metrics, validate, logr)
	exportSvc := service.NewExportService(paymentRepo, export.NewCSVExporter(cfg.Export.CSVSeparator), export.NewPDFExporter(cfg.Export.SchoolName), logr)
	attendanceSvc := service.NewAttendanceService(attendanceRepo, enrollmentRepo, validate, logr)
	checkoutSvc := service.NewCheckoutService(studentRepo, classRepo, enrollmentRepo, customerSvc, gatewayClient, signer, service.CheckoutOptions{
		CallbackBaseURL: cfg.Checkout.CallbackBaseURL,
		BillingType:     cfg.Gateway.BillingType,
		ExpiryMinutes:   cfg.Checkout.ExpiryMinutes,
	}, metrics, logr.Named("checkout"))
	callbackSvc := service.NewCallbackService(signer, enrollmentRepo, logr)
	webhookSvc := service.NewWebhookService(cfg.Gateway.WebhookToken, enrollmentRepo, paymentRepo, classRepo, metrics, logr.Named("webhooks"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	webhookQueue := jobs.NewQueue("gateway-webhooks", webhookSvc.Handle, jobs.QueueConfig{
		Workers:    cfg.Webhooks.WorkerConcurrency,
		MaxRetries: cfg.Webhooks.WorkerRetries,
		RetryDelay: cfg.Webhooks.RetryDelay,
		Logger:     logr.Named("queue"),
	})
	webhookSvc.SetQueue(webhookQueue)
	webhookQueue.Start(ctx)
	defer webhookQueue.Stop()

	go sweepOverdue(ctx, paymentSvc, cfg.Payments.OverdueSweepInterval, logr)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins, handler.GatewayTokenHeader))
	r.Use(middleware.Metrics(metrics))

	handler.RegisterRoutes(r, cfg.APIPrefix, handler.Handlers{
		Auth:        handler.NewAuthHandler(authSvc),
		Students:    handler.NewStudentHandler(studentSvc, customerSvc),
		Classes:     handler.NewClassHandler(classSvc),
		Enrollments: handler.NewEnrollmentHandler(enrollmentSvc),
		Checkout:    handler.NewCheckoutHandler(checkoutSvc, callbackSvc, logr),
		Payments:    handler.NewPaymentHandler(paymentSvc, exportSvc),
		Attendance:  handler.NewAttendanceHandler(attendanceSvc),
		Webhooks:    handler.NewWebhookHandler(webhookSvc),
		Metrics:     handler.NewMetricsHandler(metrics, db),
		Users:       handler.NewUserHandler(userSvc),
	}, handler.RouterDeps{Tokens: authSvc, Audit: userRepo, Logger: logr})

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}

func sweepOverdue(ctx context.Context, payments *service.PaymentService, interval time.Duration, logr *zap.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := payments.SweepOverdue(ctx)
			if err != nil {
				logr.Warn("overdue sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logr.Info("payments marked overdue", zap.Int64("count", n))
			}
		}
	}
}
