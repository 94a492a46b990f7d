package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/storyforge/api/internal/bridge"
	"github.com/storyforge/api/internal/client"
	"github.com/storyforge/api/internal/config"
	"github.com/storyforge/api/internal/handler"
	"github.com/storyforge/api/internal/middleware"
	"github.com/storyforge/api/internal/service"
	"github.com/storyforge/api/internal/store"
	"github.com/storyforge/api/internal/task"
	ws "github.com/storyforge/api/internal/websocket"
	"github.com/storyforge/api/internal/worker"
	"github.com/storyforge/api/pkg/response"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, stopRelay := context.WithCancel(context.Background())
	defer stopRelay()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
	}

	// Initialize Asynq client
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	// Initialize validator
	validate := validator.New()

	// External capabilities. The execution mode is resolved once here:
	// missing provider configuration forces simulate so no job ever
	// reaches a half-configured pipeline.
	aiClient := client.NewOpenAIClient(&cfg.AI)
	mediaClient := client.NewMediaClient(&cfg.Media)
	storageClient, err := client.NewR2Client(&cfg.Storage)
	if err != nil {
		log.Printf("Storage not configured: %v", err)
	}

	workerCfg := cfg.Worker
	if !workerCfg.Simulate && (aiClient == nil || storageClient == nil) {
		log.Printf("External capabilities incomplete, falling back to simulated execution")
		workerCfg.Simulate = true
	}

	// Job record store and status bridge
	jobStore := store.NewRedisStore(redisClient, 7*24*time.Hour)
	statusBridge := bridge.New(jobStore, bridge.NewRedisPublisher(redisClient))

	// Task executors
	var ai client.AICapability
	if aiClient != nil {
		ai = aiClient
	}
	var media client.MediaProcessor
	if mediaClient != nil {
		media = mediaClient
	}
	var storage client.StorageClient
	if storageClient != nil {
		storage = storageClient
	}
	registry := task.NewRegistry(
		task.NewImageExecutor(ai, storage, workerCfg.Simulate),
		task.NewAudioRegenExecutor(ai, media, storage, workerCfg.Simulate),
	)

	// Initialize WebSocket hub and bridge relay
	hub := ws.NewHub()
	go hub.Run()
	go hub.RunRelay(ctx, redisClient)

	// Dispatcher and handlers
	jobService := service.NewJobService(jobStore, statusBridge, asynqClient, validate, workerCfg)
	jobHandler := handler.NewJobHandler(jobService)

	// Initialize middleware
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWT.Secret, cfg.JWT.Expiration)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    10 * 1024 * 1024, // 10MB
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":   "ok",
			"simulate": workerCfg.Simulate,
		})
	})

	// API routes
	api := app.Group("/api", authMiddleware.Authenticate())

	jobs := api.Group("/jobs")
	jobs.Post("/", rateLimiter.SubmitLimit(cfg.RateLimit.SubmitPerHour), jobHandler.Submit)
	jobs.Get("/:jobId", rateLimiter.StatusLimit(cfg.RateLimit.StatusPerMin), jobHandler.Status)
	jobs.Get("/:jobId/result", jobHandler.Result)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/tasks/:taskId", websocket.New(func(c *websocket.Conn) {
		taskID := c.Params("taskId")
		hub.HandleConnection(c, taskID)
	}))

	// Start Asynq worker server
	runtime := worker.NewRuntime(jobStore, statusBridge, registry, workerCfg)
	go startWorkerServer(cfg, runtime, workerCfg)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		stopRelay()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func startWorkerServer(cfg *config.Config, runtime *worker.Runtime, workerCfg config.WorkerConfig) {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency:    workerCfg.Concurrency,
			Queues:         worker.Queues(),
			RetryDelayFunc: runtime.RetryDelay,
		},
	)

	mux := asynq.NewServeMux()
	runtime.Register(mux)

	if err := srv.Run(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return response.Error(c, code, response.CodeServiceError, message, nil)
}
