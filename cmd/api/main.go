package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/trace"

	"github.com/craftwell/dxp-studio/session-orchestrator/internal/auth"
	"github.com/craftwell/dxp-studio/session-orchestrator/internal/config"
	"github.com/craftwell/dxp-studio/session-orchestrator/internal/gateway"
	"github.com/craftwell/dxp-studio/session-orchestrator/internal/metrics"
	"github.com/craftwell/dxp-studio/session-orchestrator/internal/orchestration"
	"github.com/craftwell/dxp-studio/session-orchestrator/internal/target"

	_ "github.com/craftwell/dxp-studio/session-orchestrator/docs" // swagger docs
)

// @title DXP Studio Session Orchestrator API
// @version 1.0
// @description Session orchestration API for AI-generated UI components.
// @description
// @description The service owns conversation sessions, tracks generated artifacts per
// @description target platform, and coordinates generation, refinement, build/deploy
// @description and git push against the collaborator services.

// @contact.name API Support
// @contact.email support@craftwell.io

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /api

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and the JWT token.

func main() {
	// Initialize OpenTelemetry
	if err := initTracer(); err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}

	cfg := config.Load()

	// Connect to PostgreSQL with retry logic. Only the users table lives
	// here; session data is owned by the remote store.
	log.Println("Connecting to PostgreSQL database...")
	var pool *pgxpool.Pool
	var err error

	for i := 0; i < 10; i++ {
		pool, err = pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err == nil {
			err = pool.Ping(context.Background())
			if err == nil {
				break
			}
		}
		log.Printf("Waiting for database... (attempt %d/10): %v", i+1, err)
		time.Sleep(3 * time.Second)
	}

	if err != nil {
		log.Fatalf("Failed to connect to database after retries: %v", err)
	}

	defer pool.Close()
	log.Println("Connected to PostgreSQL database")

	operationMetrics, err := metrics.NewOperationMetrics()
	if err != nil {
		log.Fatalf("Failed to initialize metrics: %v", err)
	}

	// Initialize orchestration layer
	registry := target.BuiltIn()
	manager := orchestration.NewManager(orchestration.Deps{
		Store:     orchestration.NewSessionStoreClient(cfg.Store),
		Generator: orchestration.NewGeneratorClient(cfg.Generator),
		Builder:   orchestration.NewBuilderClient(cfg.Builder),
		GitPusher: orchestration.NewGitPushClient(cfg.GitPush),
		Registry:  registry,
		Notices:   cfg.Notices,
		Metrics:   operationMetrics,
	})

	// Initialize JWT manager
	jwtManager, err := auth.NewJWTManager(cfg.JWTSecret)
	if err != nil {
		log.Fatalf("Failed to initialize JWT manager: %v", err)
	}

	// Initialize gateway layer
	gatewayHandler := gateway.NewHandler(manager, registry, jwtManager, pool)
	stateStream := gateway.NewStateStream(manager, jwtManager)

	// Setup Gin router
	router := gin.Default()

	// Add structured JSON logging middleware
	router.Use(structuredLoggingMiddleware())

	// Health checks MUST be at the root for the WebService standard
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	router.GET("/ready", func(c *gin.Context) {
		// Check database connectivity for readiness
		if err := pool.Ping(context.Background()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not ready",
				"error":  "database connection failed",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	// API routes
	api := router.Group("/api")

	// Public routes (no authentication required)
	api.POST("/auth/login", gatewayHandler.Login)
	api.POST("/auth/refresh", gatewayHandler.RefreshToken)

	// Swagger documentation (public)
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Protected routes (require JWT authentication and the user role)
	protected := api.Group("")
	protected.Use(auth.RequireAuth(jwtManager), auth.RequireRole("user"))

	// Session routes
	protected.GET("/sessions", gatewayHandler.ListSessions)
	protected.POST("/sessions", gatewayHandler.CreateSession)
	protected.POST("/sessions/:id/select", gatewayHandler.SelectSession)
	protected.DELETE("/sessions/:id", gatewayHandler.DeleteSession)

	// Generation routes
	protected.POST("/messages", gatewayHandler.SendMessage)

	// Artifact routes
	protected.POST("/artifacts/:id/refine", gatewayHandler.RefineArtifact)
	protected.POST("/artifacts/:id/build", gatewayHandler.BuildArtifact)
	protected.POST("/artifacts/:id/push", gatewayHandler.PushArtifact)
	protected.GET("/artifacts/:id/download", gatewayHandler.DownloadArtifact)

	// View-state routes
	protected.PUT("/selection", gatewayHandler.UpdateSelection)
	protected.GET("/state", gatewayHandler.GetState)
	protected.POST("/operations/cancel", gatewayHandler.CancelOperation)

	// WebSocket routes (token via query param or Authorization header)
	api.GET("/ws/state", stateStream.Stream)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // build and push calls are synchronous
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Starting Session Orchestrator API server on port %s\n", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

// initTracer initializes OpenTelemetry tracing
func initTracer() error {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return fmt.Errorf("failed to create stdout exporter: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
	)

	otel.SetTracerProvider(tp)

	return nil
}

// structuredLoggingMiddleware provides structured JSON logging for all requests
func structuredLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		latency := time.Since(start)

		userID, _ := c.Get(auth.UserIDKey)

		logEntry := map[string]interface{}{
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"status":     c.Writer.Status(),
			"latency_ms": latency.Milliseconds(),
			"client_ip":  c.ClientIP(),
			"user_agent": c.Request.UserAgent(),
		}

		if userID != nil {
			logEntry["user_id"] = userID
		}

		if len(c.Errors) > 0 {
			logEntry["errors"] = c.Errors.String()
		}

		logJSON, _ := json.Marshal(logEntry)
		log.Println(string(logJSON))
	}
}
