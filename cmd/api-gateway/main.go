package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/scolarix/registrar-api/api/swagger"
	"github.com/scolarix/registrar-api/internal/handler"
	"github.com/scolarix/registrar-api/internal/middleware"
	"github.com/scolarix/registrar-api/internal/models"
	"github.com/scolarix/registrar-api/internal/repository"
	"github.com/scolarix/registrar-api/internal/service"
	"github.com/scolarix/registrar-api/pkg/config"
	"github.com/scolarix/registrar-api/pkg/database"
	"github.com/scolarix/registrar-api/pkg/export"
	"github.com/scolarix/registrar-api/pkg/jobs"
	"github.com/scolarix/registrar-api/pkg/logger"
	corsmiddleware "github.com/scolarix/registrar-api/pkg/middleware/cors"
	reqidmiddleware "github.com/scolarix/registrar-api/pkg/middleware/requestid"
	"github.com/scolarix/registrar-api/pkg/storage"

	redisCache "github.com/scolarix/registrar-api/pkg/cache"
)

// @title Registrar API
// @version 1.0.0
// @description Tuition and enrollment ledger for the registrar office
// @BasePath /api/v1
// @schemes http
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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect database", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := redisCache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect redis", "error", err)
	}
	defer redisClient.Close() //nolint:errcheck

	store, err := storage.NewLocalStorage(cfg.Receipts.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to prepare receipt storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Receipts.SignedURLSecret, cfg.Receipts.SignedURLTTL)

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	levelRepo := repository.NewLevelRepository(db)
	registrationRepo := repository.NewRegistrationRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	receiptRepo := repository.NewReceiptRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	authService := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "registrar-api",
	})
	studentService := service.NewStudentService(studentRepo, logr)
	catalogService := service.NewCatalogService(levelRepo, cacheRepo, cfg.Catalog.CacheTTL, logr)
	registrationService := service.NewRegistrationService(registrationRepo, studentRepo, levelRepo, validate, logr)
	paymentService := service.NewPaymentService(paymentRepo, registrationRepo, validate, logr)
	transitionService := service.NewTransitionService(registrationRepo, catalogService, validate, logr)
	metricsService := service.NewMetricsService()
	paymentService.InstrumentWith(metricsService)
	catalogService.InstrumentWith(metricsService)

	renderer := service.NewReceiptRenderer(registrationRepo, paymentRepo, export.NewPDFExporter(), store, signer, cfg.APIPrefix+"/receipts/download")
	receiptWorker := service.NewReceiptWorker(receiptRepo, renderer, cfg.Receipts.WorkerRetries, logr)
	receiptQueue := jobs.NewQueue("receipts", receiptWorker.Handle, jobs.QueueConfig{
		Workers:    cfg.Receipts.WorkerConcurrency,
		MaxRetries: cfg.Receipts.WorkerRetries,
		Logger:     logr,
	})
	receiptService := service.NewReceiptService(receiptRepo, registrationRepo, paymentRepo, receiptQueue, store, signer, logr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	receiptQueue.Start(ctx)
	defer receiptQueue.Stop()
	receiptService.RecoverPendingJobs(ctx)

	authHandler := handler.NewAuthHandler(authService)
	studentHandler := handler.NewStudentHandler(studentService, registrationService, paymentService)
	levelHandler := handler.NewLevelHandler(catalogService)
	registrationHandler := handler.NewRegistrationHandler(registrationService)
	paymentHandler := handler.NewPaymentHandler(paymentService)
	transitionHandler := handler.NewTransitionHandler(transitionService)
	receiptHandler := handler.NewReceiptHandler(receiptService)
	metricsHandler := handler.NewMetricsHandler(metricsService)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsService))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down", "component": "database"})
			return
		}
		if err := redisClient.Ping(c.Request.Context()).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down", "component": "redis"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	api.POST("/auth/login", authHandler.Login)
	api.POST("/auth/refresh", authHandler.Refresh)

	// Download tokens are self-authenticating; the route stays outside JWT so
	// links can be opened directly from a browser.
	api.GET("/receipts/download/:token", receiptHandler.Download)

	authed := api.Group("")
	authed.Use(middleware.JWT(authService))

	authed.GET("/auth/me", authHandler.Me)
	authed.POST("/auth/logout", authHandler.Logout)

	authed.GET("/students", studentHandler.List)
	authed.GET("/students/:id", studentHandler.Get)
	authed.GET("/students/:id/registrations", studentHandler.Registrations)
	authed.GET("/students/:id/payments", studentHandler.Payments)

	authed.GET("/levels", levelHandler.List)
	authed.GET("/levels/:id", levelHandler.Get)

	authed.GET("/registrations", registrationHandler.List)
	authed.GET("/registrations/:id", registrationHandler.Get)
	authed.GET("/registrations/:id/payments", paymentHandler.History)
	authed.GET("/registrations/:id/payments/export", paymentHandler.ExportCSV)
	authed.GET("/registrations/:id/transition", transitionHandler.Propose)
	authed.GET("/receipts/:id", receiptHandler.Status)

	clerk := authed.Group("")
	clerk.Use(middleware.RequireRoles(models.RoleAdmin, models.RoleRegistrar))

	clerk.POST("/registrations",
		middleware.Audit(userRepo, models.AuditActionRegistrationCreate, "registration"),
		registrationHandler.Create)
	clerk.POST("/registrations/:id/payments",
		middleware.Audit(userRepo, models.AuditActionPaymentRecord, "payment"),
		paymentHandler.Record)
	clerk.PATCH("/payments/:id",
		middleware.Audit(userRepo, models.AuditActionPaymentAmend, "payment"),
		paymentHandler.Amend)
	clerk.POST("/payments/:id/cancel",
		middleware.Audit(userRepo, models.AuditActionPaymentCancel, "payment"),
		paymentHandler.Cancel)
	clerk.POST("/registrations/:id/transition",
		middleware.Audit(userRepo, models.AuditActionLevelTransition, "registration"),
		transitionHandler.Apply)
	clerk.POST("/registrations/:id/receipts",
		middleware.Audit(userRepo, models.AuditActionReceiptRequest, "receipt"),
		receiptHandler.Create)

	admin := authed.Group("")
	admin.Use(middleware.RequireRoles(models.RoleAdmin))
	admin.POST("/registrations/:id/recompute", registrationHandler.Recompute)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
