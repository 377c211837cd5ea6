package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/convoca/sealedbid/internal/api"
	"github.com/convoca/sealedbid/internal/config"
	"github.com/convoca/sealedbid/internal/db"
	"github.com/convoca/sealedbid/internal/services"
	"github.com/convoca/sealedbid/internal/ws"
	"github.com/convoca/sealedbid/pkg/logger"
	"github.com/convoca/sealedbid/pkg/metrics"
)

func main() {
	var cfg *config.Configuration
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		loaded, err := config.LoadConfig(path)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	} else {
		cfg = config.InitializeDefaultConfig()
	}

	zapLogger, err := logger.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()
	zap.ReplaceGlobals(zapLogger)

	config.LogConfig(zapLogger)

	database, err := db.Initialize(cfg)
	if err != nil {
		zapLogger.Fatal("Failed to initialize database", zap.Error(err))
	}

	metricsCollector := metrics.NewMetricsCollector()

	hub := ws.NewHub(zapLogger)
	go hub.Run()

	keyService := services.NewKeyService(database, zapLogger, metricsCollector, cfg.Key.KeyBits)
	submissionService := services.NewSubmissionService(database, zapLogger, metricsCollector, cfg.Crypto.DecryptTimeout)
	decryptionService := services.NewDecryptionService(database, zapLogger, metricsCollector, cfg.Crypto.DecryptTimeout)
	notificationService := services.NewNotificationService(database, zapLogger, hub)
	decisionService := services.NewDecisionService(database, zapLogger, metricsCollector, notificationService)
	accountService := services.NewAccountService(database, zapLogger, cfg.Security.BcryptCost)

	router := api.NewRouter(
		cfg,
		zapLogger,
		metricsCollector,
		hub,
		keyService,
		submissionService,
		decryptionService,
		decisionService,
		notificationService,
		accountService,
	)
	router.SetupRoutes()

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.Server.Port
	}
	go func() {
		if err := router.Run(":" + port); err != nil {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()
	zapLogger.Info("Server started", zap.String("port", port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down server...")

	sqlDB, err := database.DB()
	if err == nil {
		sqlDB.Close()
	}
	zapLogger.Info("Server gracefully stopped")
}
