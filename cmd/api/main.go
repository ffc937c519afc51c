package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/querylens/backend/internal/api/handlers"
	"github.com/querylens/backend/internal/audit"
	"github.com/querylens/backend/internal/catalog"
	"github.com/querylens/backend/internal/engine"
	"github.com/querylens/backend/internal/executor"
	"github.com/querylens/backend/internal/metrics"
	"github.com/querylens/backend/internal/middleware/ratelimit"
	"github.com/querylens/backend/internal/pipeline"
	"github.com/querylens/backend/pkg/config"
	appLogger "github.com/querylens/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting QueryLens API Server",
		zap.Duration("composite_engine_bound", cfg.CompositeEngineBound()),
	)

	metrics.Init()

	auditLog, err := audit.NewSQLiteLog(cfg.Audit.Path)
	if err != nil {
		appLogger.Fatal("Failed to open audit log", zap.Error(err))
	}
	defer auditLog.Close()

	catalogCtx, err := catalog.NewSQLiteContext(cfg.Catalog.Path)
	if err != nil {
		appLogger.Fatal("Failed to open catalog database", zap.Error(err))
	}
	defer catalogCtx.Close()

	exec, err := executor.New(cfg.Data.Path, time.Duration(cfg.Data.ExecTimeoutSec)*time.Second)
	if err != nil {
		// Interpretation still works without a data store; only explicit
		// execution requests need one.
		appLogger.Warn("Query executor unavailable", zap.Error(err))
		exec = nil
	} else {
		defer exec.Close()
	}

	eng := engine.NewOpenAIEngine(
		cfg.LLM.APIKey,
		cfg.LLM.Model,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
		time.Duration(cfg.LLM.AttemptTimeoutSec)*time.Second,
	)

	p := pipeline.New(eng, catalogCtx, auditLog, pipeline.Config{
		MaxPromptChars:  cfg.Pipeline.MaxPromptChars,
		Deadline:        time.Duration(cfg.Pipeline.DeadlineSec) * time.Second,
		EngineAttempts:  cfg.Pipeline.RetryAttempts,
		EngineBackoff:   cfg.Pipeline.Backoff(),
		DefaultRowLimit: cfg.Pipeline.DefaultRowLimit,
	}, appLogger.GetLogger())

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
		AllowMethods: "GET, POST, OPTIONS",
	}))

	interpretHandler := handlers.NewInterpretHandler(p, exec)
	auditHandler := handlers.NewAuditHandler(auditLog)
	wsHandler := handlers.NewWebSocketHandler(
		p,
		time.Duration(cfg.Session.IdleTimeoutSec)*time.Second,
		cfg.Session.HistorySize,
	)

	api := app.Group("/api/v1")

	if cfg.RateLimit.Enabled {
		limiter := ratelimit.New(ratelimit.Config{
			MaxRequestsPerMinute: cfg.RateLimit.MaxRequestsPerMinute,
		})
		defer limiter.Stop()
		api.Use("/interpret", limiter.Middleware())
	}

	api.Post("/interpret", interpretHandler.HandleInterpret)
	api.Get("/audit/recent", auditHandler.HandleRecent)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	app.Get("/metrics", metrics.Handler())

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(wsHandler.HandleConnection))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}
