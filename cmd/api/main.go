package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/corvuspay/bioguard/internal/config"
	delivery "github.com/corvuspay/bioguard/internal/delivery/http"
	"github.com/corvuspay/bioguard/internal/domain"
	"github.com/corvuspay/bioguard/internal/platform"
	"github.com/corvuspay/bioguard/internal/repository"
	"github.com/corvuspay/bioguard/internal/usecase"

	_ "github.com/lib/pq" // Postgres driver
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	// 2. Structured Logging
	logger := newLogger(cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	// 3. Secure Store Backend
	store, cleanup, err := newSecureStore(cfg)
	if err != nil {
		logger.Fatal("failed to initialize secure store", zap.Error(err))
	}
	defer cleanup()

	// 4. Platform Introspection + Hardware Bridge
	device := platform.NewDeviceInfo(platform.Options{
		DeviceID:     cfg.DeviceID,
		DeviceName:   cfg.DeviceName,
		ModelName:    cfg.ModelName,
		Manufacturer: cfg.Manufacturer,
		ScreenWidth:  cfg.ScreenWidth,
		ScreenHeight: cfg.ScreenHeight,
	})
	network := platform.NewNetworkInfo()
	hardware := platform.NewSimulatedHardware(cfg.HardwareApprove, logger)

	// 5. Remote Authentication Service Client (best-effort)
	remote := repository.NewHTTPRemoteTokenService(cfg.RemoteBaseURL, cfg.RemoteTimeout, logger)

	// 6. Engine Components
	events := usecase.NewEventLog(store, device, logger)
	fingerprints := usecase.NewFingerprintTracker(store, device, events, logger)
	limiter := usecase.NewRateLimiter(store, events, logger)
	assessor := usecase.NewThreatAssessor(fingerprints, limiter, events, network, device, store, logger)
	tokens := usecase.NewTokenManager(store, remote, device, cfg.RemoteTimeout, logger)
	lockout := usecase.NewLockoutController(store, logger)

	coordinator := usecase.NewCoordinator(usecase.CoordinatorDeps{
		Fingerprints:  fingerprints,
		Limiter:       limiter,
		Events:        events,
		Assessor:      assessor,
		Tokens:        tokens,
		Lockout:       lockout,
		Hardware:      hardware,
		Remote:        remote,
		Store:         store,
		Device:        device,
		Logger:        logger,
		JWTSecret:     cfg.JWTSecret,
		RemoteTimeout: cfg.RemoteTimeout,
	})

	// 7. HTTP Framework + Global Middlewares
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.Secure())

	// 8. Register Delivery Handlers (Routes)
	v1 := e.Group("/v1")
	delivery.NewBiometricHandler(v1, coordinator)
	delivery.NewSecurityHandler(v1, coordinator, cfg.JWTSecret)

	// 9. Health Check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	// 10. Start Server with Graceful Shutdown
	go func() {
		logger.Info("starting bioguard engine", zap.String("port", cfg.Port))
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server stopped unexpectedly", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down gracefully")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		logger.Fatal("forced shutdown", zap.Error(err))
	}
	logger.Info("server exited")
}

// newSecureStore builds the configured secure-store backend and returns a
// cleanup function for its connections.
func newSecureStore(cfg *config.Config) (domain.SecureStore, func(), error) {
	switch cfg.StoreBackend {
	case "postgres":
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewPostgresSecureStore(db), func() { _ = db.Close() }, nil
	case "memory":
		return repository.NewMemorySecureStore(), func() {}, nil
	default:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
		return repository.NewRedisSecureStore(rdb), func() { _ = rdb.Close() }, nil
	}
}

func newLogger(level string) *zap.Logger {
	zcfg := zap.NewProductionConfig()
	if lvl, err := zap.ParseAtomicLevel(level); err == nil {
		zcfg.Level = lvl
	}
	logger, err := zcfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
