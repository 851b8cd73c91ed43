package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"streamportal/gatekeeper/internal/cache"
	"streamportal/gatekeeper/internal/config"
	"streamportal/gatekeeper/internal/handler"
	"streamportal/gatekeeper/internal/model"
	"streamportal/gatekeeper/internal/repository"
	"streamportal/gatekeeper/internal/service"
	jwtpkg "streamportal/gatekeeper/pkg/jwt"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// 2. Initialize logger
	var logger *zap.Logger
	if cfg.Log.Format == "json" {
		logger, _ = zap.NewProduction()
	} else {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	// 3. Connect to PostgreSQL
	db, err := config.NewPostgresDB(cfg.Database.Postgres)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}

	// 4. Auto-migrate if enabled
	if cfg.Database.Postgres.AutoMigrate {
		if err := model.AutoMigrate(db); err != nil {
			logger.Fatal("failed to auto-migrate", zap.Error(err))
		}
		logger.Info("database migration completed")
	}

	// 5. Initialize snapshot cache (Redis or in-memory)
	var snapCache cache.SnapshotCache
	switch cfg.Cache.Backend {
	case "redis":
		redisClient, err := config.NewRedisClient(cfg.Database.Redis)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		snapCache = cache.NewRedisSnapshotCache(redisClient, cfg.Cache.TTL)
		logger.Info("using Redis snapshot cache")
	case "memory", "":
		snapCache = cache.NewMemorySnapshotCache(cfg.Cache.TTL)
		logger.Info("using in-memory snapshot cache")
	default:
		logger.Fatal("unknown cache backend", zap.String("backend", cfg.Cache.Backend))
	}

	// 6. Initialize repositories
	codeRepo := repository.NewPGAccessCodeRepository(db)
	sessionRepo := repository.NewPGSessionRepository(db)
	ledger := repository.NewPGCapacityLedger(db)

	// 7. Initialize JWT manager
	jwtManager := jwtpkg.NewManager(
		cfg.JWT.SigningKey,
		cfg.JWT.Issuer,
		cfg.JWT.SessionTokenTTL,
		cfg.JWT.AdminTokenTTL,
	)

	// 8. Initialize process-wide observability state
	auditLog := service.NewAuditLog(logger)
	monitor := service.NewPerformanceMonitor()
	recoveryManager := service.NewRecoveryManager(service.DefaultRecoveryPolicies(), logger)

	// 9. Initialize sweeper and services
	sweeper := service.NewSweeper(
		codeRepo, sessionRepo, ledger, snapCache, auditLog, logger,
		cfg.Sweep.Interval, cfg.Sweep.InactivityThreshold,
	)
	limiter := service.NewSingleSessionLimiter(sessionRepo)
	admissionService := service.NewAdmissionService(
		codeRepo, sessionRepo, ledger, snapCache,
		recoveryManager, auditLog, monitor, limiter,
		jwtManager, sweeper, logger,
	)
	codeService := service.NewCodeService(codeRepo)

	// 10. Initialize handlers
	admissionHandler := handler.NewAdmissionHandler(admissionService)
	adminHandler := handler.NewAdminHandler(
		cfg.Admin, jwtManager, codeService,
		auditLog, recoveryManager, monitor, snapCache, sweeper,
	)

	// 11. Setup router
	router := handler.SetupRouter(cfg, logger, jwtManager, admissionHandler, adminHandler)

	// 12. Start the reconciliation sweeper
	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	if cfg.Sweep.Enabled {
		go sweeper.Run(sweepCtx)
	}

	// 13. Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 14. Start server with graceful shutdown
	go func() {
		logger.Info("server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// 15. Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server...")

	stopSweeper()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}
	logger.Info("server exited gracefully")
}
