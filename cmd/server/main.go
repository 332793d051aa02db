package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/makeasinger/musicgen/internal/auth"
	"github.com/makeasinger/musicgen/internal/client"
	"github.com/makeasinger/musicgen/internal/config"
	"github.com/makeasinger/musicgen/internal/handler"
	"github.com/makeasinger/musicgen/internal/logger"
	"github.com/makeasinger/musicgen/internal/middleware"
	"github.com/makeasinger/musicgen/internal/queue"
	"github.com/makeasinger/musicgen/internal/service"
	"github.com/makeasinger/musicgen/internal/store"
	"github.com/makeasinger/musicgen/internal/telemetry"
	ws "github.com/makeasinger/musicgen/internal/websocket"
	"github.com/makeasinger/musicgen/internal/worker"
)

// @title          Make-Singer Music Generation API
// @version        1.0
// @description    Orchestrates asynchronous music generation jobs.
// @BasePath       /
// @securityDefinitions.apikey BearerAuth
// @in             header
// @name           Authorization
func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	logger.Configure(cfg.Server.LogLevel)

	tracer, shutdownTracer, err := telemetry.InitTracer("musicgen", &cfg.Telemetry)
	if err != nil {
		logger.Fatalf("Failed to init tracing: %v", err)
	}
	defer shutdownTracer()

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warnf("Redis not available: %v", err)
	}

	jobStore, closeStore, err := store.Open(ctx, cfg.Store, cfg.Postgres, redisClient)
	if err != nil {
		logger.Fatalf("Failed to open job store: %v", err)
	}
	defer closeStore()
	logger.Infof("Job store: %s", cfg.Store.Driver)

	// Initialize external clients
	sunoClient := client.NewSunoClient(&cfg.Suno)
	if !sunoClient.IsConfigured() {
		logger.Warn("SUNO_API_KEY not set, provider calls will fail")
	}
	if cfg.Suno.CallbackURL == "" {
		logger.Warn("SUNO_CALLBACK_URL not set, jobs finish through polling only")
	}

	// R2 is optional, the provider URL is kept as artifact without it
	var storage client.StorageClient
	if cfg.R2.AccessKeyID != "" && cfg.R2.SecretAccessKey != "" {
		r2Client, err := client.NewR2Client(&cfg.R2)
		if err != nil {
			logger.Warnf("R2 client not initialized: %v", err)
		} else {
			storage = r2Client
		}
	} else {
		logger.Info("R2 storage not configured, artifacts keep the provider URL")
	}

	// Initialize WebSocket hub
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	hub := ws.NewHub()
	go hub.Run(hubCtx)

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	generationService := service.NewGenerationService(service.Deps{
		Store: jobStore,
		Queue: queue.New(queue.Options{
			Concurrency: cfg.Queue.Concurrency,
			Spacing:     cfg.Queue.Spacing,
		}),
		Provider:      sunoClient,
		Notifier:      hub,
		PostProcessor: service.NewAsynqPostProcessor(asynqClient),
		Tracer:        tracer,
	}, service.OptionsFromConfig(&cfg.Generation))

	workerServer, err := startWorkerServer(cfg, redisOpt, jobStore, storage, hub)
	if err != nil {
		logger.Fatalf("Failed to start asynq worker: %v", err)
	}

	// JWKS verification (optional), HMAC secret as fallback
	verifier, closeVerifier, err := auth.FromConfig(ctx, &cfg.JWT)
	if err != nil {
		logger.Warnf("JWKS verifier not initialized: %v", err)
	} else if cfg.JWT.JWKSURL != "" {
		logger.Info("JWKS token verification enabled")
	}
	defer closeVerifier()

	// Initialize middleware
	var apiAuthMiddleware fiber.Handler
	if cfg.Gateway.Enabled {
		// Behind Traefik: auth is handled by ForwardAuth, read X-User-* headers
		logger.Info("Gateway mode enabled, using header-based auth")
		apiAuthMiddleware = middleware.GatewayAuthMiddleware()
	} else {
		apiAuthMiddleware = middleware.NewAuthMiddleware(verifier).Authenticate()
	}
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: handler.ErrorHandler,
		BodyLimit:    1024 * 1024,
	})

	// Global middleware
	app.Use(recover.New())
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body}\n"
	}
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	validate := validator.New()
	routes := &handler.Routes{
		Generation: handler.NewGenerationHandler(generationService, validate),
		Webhook:    handler.NewWebhookHandler(generationService),
		Health: handler.NewHealthHandler(fiber.Map{
			"suno":  sunoClient.IsConfigured(),
			"r2":    storage != nil,
			"store": cfg.Store.Driver,
			"auth":  cfg.Gateway.Enabled || verifier != nil,
		}, generationService.Stats),
		Auth:        handler.NewAuthHandler(verifier),
		Hub:         hub,
		APIAuth:     apiAuthMiddleware,
		SubmitLimit: rateLimiter.GenerationLimit(cfg.RateLimit.GenerationsPerHour),
	}
	routes.Register(app)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		logger.Info("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logger.Errorf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	logger.Infof("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		logger.Errorf("Server error: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := generationService.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Orchestrator shutdown error: %v", err)
	}
	workerServer.Shutdown()
	logger.Info("Server stopped")
}

func startWorkerServer(
	cfg *config.Config,
	redisOpt asynq.RedisClientOpt,
	jobStore store.JobStore,
	storage client.StorageClient,
	hub *ws.Hub,
) (*asynq.Server, error) {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 4,
		Queues: map[string]int{
			service.QueuePublish: 1,
		},
		Logger:   logger.Logger(),
		LogLevel: asynqLogLevel,
	})

	publishWorker := worker.NewPublishWorker(jobStore, storage, hub)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypePublish, publishWorker.ProcessTask)

	if err := srv.Start(mux); err != nil {
		return nil, err
	}
	return srv, nil
}
