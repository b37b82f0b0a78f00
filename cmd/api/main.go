package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toser-api/internal/assessment"
	"github.com/noah-isme/toser-api/internal/config"
	"github.com/noah-isme/toser-api/internal/database"
	"github.com/noah-isme/toser-api/internal/handler"
	"github.com/noah-isme/toser-api/internal/middleware"
	"github.com/noah-isme/toser-api/internal/repository"
	"github.com/noah-isme/toser-api/internal/router"
	"github.com/noah-isme/toser-api/internal/service"
	"github.com/noah-isme/toser-api/pkg/ai"
	"github.com/noah-isme/toser-api/pkg/document"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Str("service", cfg.AppName).Logger()

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(context.Background(), cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer natsConn.Drain()
	}

	schema, err := assessment.ResolveSchema(cfg.AnalysisSchema, cfg.AnalysisSchemaFile)
	if err != nil {
		log.Fatalf("failed to load assessment schema: %v", err)
	}

	invoker, err := ai.NewInvoker(context.Background(), cfg.Invoker(logger))
	if err != nil {
		logger.Warn().Err(err).Str("provider", cfg.AIProvider).Msg("model provider unavailable, analyses will be rejected")
		invoker = nil
	}

	fetcher := document.NewFetcher(document.Config{
		Timeout:  cfg.FetchTimeout,
		MaxBytes: cfg.FetchMaxBytes,
	})

	validate := validator.New(validator.WithRequiredStructEnabled())

	analysisRepo := repository.NewAnalysisRepository(db)
	analysisService, err := service.NewAnalysisService(
		analysisRepo,
		fetcher,
		invoker,
		schema,
		redisClient,
		natsConn,
		validate,
		service.AnalysisConfig{
			CacheTTL: cfg.AnalysisCacheTTL,
			Timeout:  cfg.AnalysisTimeout,
		},
		logger,
	)
	if err != nil {
		log.Fatalf("failed to build analysis service: %v", err)
	}

	analysisHandler := handler.NewAnalysisHandler(analysisService, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
		ReadTimeout:  cfg.AnalysisTimeout + 10*time.Second,
		WriteTimeout: cfg.AnalysisTimeout + 10*time.Second,
	})

	var jwtMiddleware, optionalJWT fiber.Handler
	if cfg.AuthEnabled() {
		jwtMiddleware = middleware.JWTProtected(cfg.JWTSecret)
		optionalJWT = middleware.JWTOptional(cfg.JWTSecret)
	}

	middleware.Register(app, middleware.Config{Logger: &logger, AllowOrigins: cfg.CORSAllowOrigins})
	router.Register(app, cfg, router.Dependencies{
		AnalysisHandler: analysisHandler,
		JWTMiddleware:   jwtMiddleware,
		OptionalJWT:     optionalJWT,
		RateLimiter:     middleware.RateLimit("analyses", cfg.RateLimitMax, cfg.RateLimitWindow),
		SchemaVersion:   schema.Version,
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	logger.Info().Str("addr", cfg.HTTPAddress()).Str("schema", schema.Version).Msg("server started")
	waitForShutdown(app)
}

func waitForShutdown(app *fiber.App) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
