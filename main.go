package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Finn-ML/aermuse-backend/config"
	"github.com/Finn-ML/aermuse-backend/handler"
	"github.com/Finn-ML/aermuse-backend/middleware"
	"github.com/Finn-ML/aermuse-backend/pkg/logger"
	"github.com/Finn-ML/aermuse-backend/service"
	"github.com/gin-gonic/gin"
)

func main() {
	// Load configuration
	cfg, err := config.Load("config.yaml")
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.Init(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	slog.Info("configuration loaded successfully")

	// Initialize services
	minioSvc, err := service.NewMinioService(&cfg.Minio)
	if err != nil {
		slog.Error("failed to initialize MINIO service", "error", err)
		os.Exit(1)
	}

	// Ensure bucket exists
	if err := minioSvc.EnsureBucket(context.Background()); err != nil {
		slog.Error("failed to ensure MINIO bucket", "error", err)
		os.Exit(1)
	}

	providerClient := service.NewProviderClient(&cfg.Provider)
	notifier := service.NewNotifier(cfg.SMTP.Sender, service.NewSMTPTransport(&cfg.SMTP))
	assembler := service.NewAssemblyService()

	// Initialize stores
	service.InitContractStore(&cfg.Store)
	contractStore := service.GetContractStore()
	signatureStore := service.NewSignatureStore()

	orchestrator := service.NewOrchestrator(signatureStore, contractStore, assembler, providerClient, notifier, minioSvc)
	processor := service.NewWebhookProcessor(signatureStore, contractStore, providerClient, minioSvc, notifier, cfg.Provider.WebhookSecret)

	// Subscribe our callback URL to provider events
	if cfg.Provider.CallbackURL != "" {
		events := []string{
			service.EventSignatureCompleted,
			service.EventNextSignerReady,
			service.EventDocumentCompleted,
		}
		if err := providerClient.RegisterWebhook(context.Background(), cfg.Provider.CallbackURL, events); err != nil {
			slog.Error("failed to register provider webhook", "error", err)
			os.Exit(1)
		}
		slog.Info("provider webhook registered", "url", cfg.Provider.CallbackURL)
	}

	// Initialize handlers
	authHandler := handler.NewAuthHandler(cfg)
	contractHandler := handler.NewContractHandler()
	signatureHandler := handler.NewSignatureHandler(orchestrator)
	webhookHandler := handler.NewWebhookHandler(processor)

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New() // Use New() instead of Default() to avoid default middleware

	// Add custom middleware
	router.Use(middleware.RequestID())                 // Request ID for tracing
	router.Use(middleware.Recovery())                  // Panic recovery
	router.Use(middleware.RequestLogger())             // Access logging
	router.Use(corsMiddleware())                       // CORS
	router.Use(middleware.RateLimit(100, time.Minute)) // Rate limiting: 100 requests per minute

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	// Public routes
	api := router.Group("/api")
	{
		api.POST("/auth/login", authHandler.Login)
		api.POST("/webhooks/signing-provider", webhookHandler.HandleProviderEvent)
	}

	// Protected routes
	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(&cfg.Auth))
	{
		protected.GET("/auth/me", authHandler.GetCurrentUser)
		protected.POST("/contracts", contractHandler.Create)
		protected.GET("/contracts", contractHandler.List)
		protected.GET("/contracts/:id", contractHandler.Get)
		protected.POST("/signatures/request", signatureHandler.Create)
		protected.GET("/signatures/pending", signatureHandler.ListPending)
		protected.GET("/signatures/to-sign", signatureHandler.ListToSign)
		protected.GET("/signatures/:id", signatureHandler.Get)
		protected.GET("/signatures/:id/document", signatureHandler.Download)
		protected.DELETE("/signatures/:id", signatureHandler.Cancel)
		protected.POST("/signatures/:id/remind", signatureHandler.Remind)
	}

	// Create server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		slog.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server exited gracefully")
}

// corsMiddleware handles CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
