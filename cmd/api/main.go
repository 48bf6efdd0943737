package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"gudam/marketplace/verification-backend/internal/agents"
	"gudam/marketplace/verification-backend/internal/config"
	"gudam/marketplace/verification-backend/internal/matching"
	"gudam/marketplace/verification-backend/internal/metrics"
	"gudam/marketplace/verification-backend/internal/notifications"
	"gudam/marketplace/verification-backend/internal/products"
	"gudam/marketplace/verification-backend/internal/verification"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewProduction()
	if os.Getenv("APP_ENV") == "development" {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	cfg, err := config.LoadConfig(os.Getenv("CONFIG_PATH"))
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	db, err := gorm.Open(postgres.Open(cfg.Database.GetDatabaseURL()), &gorm.Config{})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("Failed to access database pool", zap.Error(err))
	}
	defer sqlDB.Close()
	if cfg.Database.MaxConnections > 0 {
		sqlDB.SetMaxOpenConns(cfg.Database.MaxConnections)
	}
	if cfg.Database.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	}

	err = db.AutoMigrate(
		&agents.User{},
		&agents.CapacityReservation{},
		&products.Product{},
		&verification.VerificationRequest{},
		&verification.StatusHistory{},
		&notifications.Notification{},
	)
	if err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	appMetrics := metrics.New()

	// SMS channel is optional; without it notifications stay in-app only.
	var smsSender notifications.SMSSender
	if cfg.SMS.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(cfg.SMS.Region))
		if err != nil {
			logger.Fatal("Failed to load AWS config", zap.Error(err))
		}
		smsSender = notifications.NewSNSSender(sns.NewFromConfig(awsCfg), cfg.SMS.SenderID)
		logger.Info("SMS channel enabled", zap.String("region", cfg.SMS.Region))
	}

	notificationService := notifications.NewService(
		notifications.NewGormStore(db), smsSender, appMetrics, logger, cfg.SMS.SendTimeout)

	directory := agents.NewGormDirectory(db)
	ledger := agents.NewGormLedger(db)
	catalog := products.NewGormCatalog(db)

	scorer := matching.NewScorer(cfg.Matching.MaxRadiusKm, matching.Weights{
		Proximity:  cfg.Matching.ProximityWeight,
		Capacity:   cfg.Matching.CapacityWeight,
		Reputation: cfg.Matching.ReputationWeight,
	})
	matchingService := matching.NewService(directory, ledger, scorer, appMetrics, logger)

	verificationService := verification.NewService(
		verification.NewGormRepository(db),
		catalog, directory, ledger,
		matching.NewRanker(scorer),
		notificationService, appMetrics, logger,
		verification.Config{
			TopN:          cfg.Matching.DefaultTopN,
			AssignmentSLA: cfg.Matching.AssignmentSLA,
		},
	)

	if os.Getenv("APP_ENV") != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()

	router.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	matchingHandler := matching.NewHandler(matchingService)
	verificationHandler := verification.NewHandler(verificationService)
	notificationHandler := notifications.NewHandler(notificationService)

	api := router.Group("/api")
	{
		matchGroup := api.Group("/match-agent")
		matchingHandler.RegisterMatchRoutes(matchGroup)
		verificationHandler.RegisterMatchNotifyRoute(matchGroup)

		matchingHandler.RegisterAgentRoutes(api.Group("/agents"))
		verificationHandler.RegisterRoutes(api.Group("/verifications"))
		notificationHandler.RegisterRoutes(api.Group("/notifications"))
	}

	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Stale requested/assigned requests get re-matched on a fixed cadence.
	scheduler := cron.New()
	sweepSpec := "@every " + cfg.Matching.SweepInterval.String()
	_, err = scheduler.AddFunc(sweepSpec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Matching.SweepInterval)
		defer cancel()

		attempted, err := verificationService.Reconcile(ctx)
		if err != nil {
			logger.Error("reconciliation sweep failed", zap.Error(err))
			return
		}
		if attempted > 0 {
			logger.Info("reconciliation sweep re-matched requests", zap.Int("attempted", attempted))
		}
	})
	if err != nil {
		logger.Fatal("Failed to schedule reconciliation sweep", zap.Error(err))
	}
	scheduler.Start()
	defer scheduler.Stop()

	srv := &http.Server{
		Addr:         cfg.Server.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()
	logger.Info("Server started", zap.String("addr", srv.Addr))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exiting")
}
