package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"campuscall/internal/core/ports"
	"campuscall/internal/core/services"
	"campuscall/internal/infrastructure/monitoring"
	"campuscall/internal/infrastructure/relay"
	"campuscall/internal/infrastructure/repositories/memory"
	redisrepo "campuscall/internal/infrastructure/repositories/redis"
	"campuscall/pkg/config"
	"campuscall/pkg/logger"
	"campuscall/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/campuscall/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}

	if err != nil {
		cfg = config.Default()
		cfg.Auth.JWTSecret = os.Getenv("CAMPUSCALL_JWT_SECRET")
	}

	// Initialize logger
	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	if cfg.Auth.JWTSecret == "" {
		log.Fatalw("no JWT secret configured, set auth.jwt_secret or CAMPUSCALL_JWT_SECRET")
	}

	// Initialize tracing
	if cfg.Tracing.Enabled {
		tracingCfg := tracing.DefaultConfig()
		tracingCfg.Enabled = true
		tracingCfg.JaegerURL = cfg.Tracing.JaegerURL
		tracingCfg.Environment = cfg.Tracing.Environment
		tracingCfg.SampleRate = cfg.Tracing.SampleRate

		tracerProvider, err := tracing.Init(tracingCfg)
		if err != nil {
			log.Fatalw("failed to initialize tracing", "error", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			tracerProvider.Shutdown(ctx)
		}()
	}

	// Initialize repositories
	var (
		callRepo ports.CallRecordRepository
		chatRepo ports.ChatMessageRepository
	)

	if cfg.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.PoolSize, log)
		if err != nil {
			log.Fatalw("failed to connect to redis", "error", err)
		}
		defer redisrepo.CloseRedisClient(client)

		callRepo = redisrepo.NewRedisCallRepository(client)
		chatRepo = redisrepo.NewRedisChatRepository(client)
		log.Infow("using redis repositories", "address", cfg.Redis.Address)
	} else {
		callRepo = memory.NewMemoryCallRepository()
		chatRepo = memory.NewMemoryChatRepository()
		log.Infow("using in-memory repositories")
	}

	// Initialize services
	callService := services.NewCallRecordService(callRepo)
	chatService := services.NewChatService(chatRepo)
	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	// Initialize monitoring
	registry := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(registry)

	// Configure Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	hub := relay.NewHub(metrics, log)
	server := relay.NewServer(cfg, hub, callService, chatService, authService, registry, log)

	// Graceful shutdown on SIGINT/SIGTERM
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Infow("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil {
			log.Fatalw("relay server failed", "error", err)
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Errorw("shutdown error", "error", err)
	}
	log.Infow("relay server stopped")
}
