package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/agentmesh/trustgate/internal/cache"
	"github.com/agentmesh/trustgate/internal/config"
	"github.com/agentmesh/trustgate/internal/database"
	"github.com/agentmesh/trustgate/internal/events"
	"github.com/agentmesh/trustgate/internal/handler"
	"github.com/agentmesh/trustgate/internal/middleware"
	"github.com/agentmesh/trustgate/internal/ratelimit"
	"github.com/agentmesh/trustgate/internal/registry"
	"github.com/agentmesh/trustgate/internal/repository"
	"github.com/agentmesh/trustgate/internal/service"
	"github.com/agentmesh/trustgate/internal/session"
	"github.com/agentmesh/trustgate/internal/trust"
	"github.com/agentmesh/trustgate/internal/utils"
	"github.com/agentmesh/trustgate/internal/worker"
)

// main is the application entrypoint for the trustgate registry service.
func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Setup logger
	setupLogger(cfg.Env)
	log.Info().Str("env", cfg.Env).Msg("starting trustgate")

	// 3. Initialize JWT signing
	utils.InitJWT(cfg.JWTSecret)

	// 4. Bind the durable store, if any
	var store registry.Store
	var closers []func() error

	switch cfg.Persistence {
	case config.PersistencePostgres:
		db, err := database.Connect(&cfg.DB)
		if err != nil {
			log.Error().Err(err).Msg("database connection failed")
			os.Exit(1)
		}
		closers = append(closers, db.Close)

		if err := runMigrations(db.DB); err != nil {
			log.Error().Err(err).Msg("migration failed")
			os.Exit(1)
		}
		log.Info().Msg("migrations completed successfully")

		store = repository.NewClientRepository(db)
	case config.PersistenceRedis:
		redisClient, err := cache.NewRedisClient(&cfg.Redis)
		if err != nil {
			log.Error().Err(err).Msg("redis connection failed")
			os.Exit(1)
		}
		closers = append(closers, redisClient.Close)
		store = cache.NewClientStore(redisClient)
		log.Info().Msg("redis connected successfully")
	default:
		log.Info().Msg("running without durable store")
	}

	// 5. Assemble the registry
	hub := events.NewHub(nil)
	engine := trust.NewEngine(cfg.Trust.MinScore, cfg.Trust.MaxScore, trust.Weights{
		SuccessRate:  cfg.Trust.SuccessWeight,
		ResponseTime: cfg.Trust.ResponseTimeWeight,
		IssuePenalty: cfg.Trust.IssuePenaltyWeight,
		Tenure:       cfg.Trust.TenureWeight,
		Volume:       cfg.Trust.VolumeWeight,
	})
	limiter := ratelimit.New(cfg.RateLimit.Window, cfg.RateLimit.DefaultCeiling)
	sessions := session.NewStore(cfg.Session.TTL, cfg.Session.HeartbeatTimeout, hub)
	defer sessions.Close()

	reg := registry.New(engine, limiter, sessions, hub, store, registry.Config{
		DefaultCeiling: cfg.RateLimit.DefaultCeiling,
		SuspendFloor:   cfg.Trust.SuspendFloor,
	})
	if err := reg.LoadPersisted(context.Background()); err != nil {
		log.Error().Err(err).Msg("failed to restore clients from store")
		os.Exit(1)
	}

	// 6. Initialize services
	adminAuthSvc := service.NewAdminAuthService(&cfg.Admin)

	// 7. Initialize handlers
	handlers := &Handlers{
		Health:  handler.NewHealthHandler(reg),
		Client:  handler.NewClientHandler(reg),
		Session: handler.NewSessionHandler(reg),
		Trust:   handler.NewTrustHandler(reg),
		Stats:   handler.NewStatsHandler(reg),
		Auth:    handler.NewAuthHandler(adminAuthSvc),
		SSE:     handler.NewSSEHandler(hub),
	}

	// 8. Initialize middleware
	authMw := middleware.NewAuthMiddleware(reg)
	jwtMw := middleware.NewJWTMiddleware()

	// 9. Setup router
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORSMiddleware())
	router.Use(middleware.LoggingMiddleware())
	setupRoutes(router, handlers, authMw, jwtMw)

	// 10. Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 11. Start the persist worker when a store is bound
	if store != nil {
		go worker.NewPersistWorker(reg, cfg.Worker.PersistFlushInterval).Start(ctx)
	}

	// 12. Start HTTP server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// 13. Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// 14. Cancel context to stop workers (persist worker flushes once more)
	cancel()

	// 15. Shutdown HTTP server with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	for _, closeFn := range closers {
		_ = closeFn()
	}
	log.Info().Msg("Server exited")
}

// Handlers groups all HTTP handlers used by the server.
type Handlers struct {
	Health  *handler.HealthHandler
	Client  *handler.ClientHandler
	Session *handler.SessionHandler
	Trust   *handler.TrustHandler
	Stats   *handler.StatsHandler
	Auth    *handler.AuthHandler
	SSE     *handler.SSEHandler
}

// setupRoutes registers all routes.
func setupRoutes(router *gin.Engine, handlers *Handlers, authMiddleware *middleware.AuthMiddleware, jwtMiddleware *middleware.JWTMiddleware) {
	router.GET("/v1/health", handlers.Health.GetHealth)

	// Registration is open; approval (when required) happens via admin.
	router.POST("/v1/clients", handlers.Client.Register)

	// Capability lookup is a pure read used by broker collaborators.
	router.GET("/v1/clients/:client_id/capabilities/:capability", handlers.Client.HasCapability)

	// Agent routes (protected with API credential + rate limit)
	agent := router.Group("/v1")
	agent.Use(authMiddleware.Handle())
	{
		agent.GET("/me", handlers.Client.Me)
		agent.POST("/sessions", handlers.Session.Create)
		agent.GET("/sessions/:token", handlers.Session.Validate)
		agent.POST("/sessions/:token/heartbeat", handlers.Session.Heartbeat)
		agent.POST("/clients/:client_id/outcomes", handlers.Trust.RecordOutcome)
		agent.POST("/clients/:client_id/issues", handlers.Trust.ReportIssue)
	}

	// Admin routes
	admin := router.Group("/v1/admin")
	admin.POST("/auth/login", handlers.Auth.Login)
	admin.GET("/events", handlers.SSE.Stream)
	admin.Use(jwtMiddleware.Handle())
	{
		admin.GET("/clients", handlers.Client.Query)
		admin.GET("/clients/:client_id", handlers.Client.GetClient)
		admin.POST("/clients/:client_id/approve", handlers.Client.Approve)
		admin.POST("/clients/:client_id/suspend", handlers.Client.Suspend)
		admin.POST("/clients/:client_id/reactivate", handlers.Client.Reactivate)
		admin.POST("/clients/:client_id/deactivate", handlers.Client.Deactivate)
		admin.PUT("/clients/:client_id/rate-limit", handlers.Client.UpdateCeiling)
		admin.GET("/statistics", handlers.Stats.GetStatistics)
	}
}

// runMigrations runs database migrations using golang-migrate.
func runMigrations(db *sql.DB) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		"file://migrations",
		"postgres", driver)
	if err != nil {
		return fmt.Errorf("could not create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("could not run migrations: %w", err)
	}

	return nil
}

func setupLogger(env string) {
	if env == "production" {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}
