package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cadence/backend/internal/kvstore"
	"cadence/backend/internal/music/autoplay"
	"cadence/backend/internal/music/dedupe"
	"cadence/backend/internal/music/history"
	"cadence/backend/internal/ratelimit"
	"cadence/backend/pkg/config"
	"cadence/backend/pkg/logger"
)

func main() {
	// Initialize logger
	if err := logger.Init("development"); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting HTTP API server...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	// The ops API reads the same store the bot writes
	store, err := kvstore.NewSQLiteStore(cfg.StorePath)
	if err != nil {
		log.Fatal("Failed to open store", zap.String("path", cfg.StorePath), zap.Error(err))
	}
	defer store.Close()

	hist := history.NewStore(store, log.Named("history"), history.Options{
		MaxSize:     cfg.MaxHistorySize,
		HistoryTTL:  cfg.HistoryTTL,
		MetadataTTL: cfg.MetadataTTL,
	})
	detector := dedupe.NewDetector(hist, log.Named("dedupe"), dedupe.Options{
		SimilarityThreshold: cfg.SimilarityThreshold,
		MinTitleLength:      cfg.MinTitleLength,
		SimilarityWindow:    cfg.HistoryCheckLen,
	})
	limiter := ratelimit.NewLimiter(store, log.Named("ratelimit"),
		ratelimit.Rule{Name: autoplay.RuleName, Window: time.Minute, MaxRequests: 10},
		ratelimit.Rule{Name: "search", Window: time.Minute, MaxRequests: 30},
	)

	// Setup Gin router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// API routes
	api := router.Group("/api")
	{
		registerGuildRoutes(api, hist, store, log)
		registerDedupeRoutes(api, detector)
		registerRateLimitRoutes(api, limiter, log)
	}

	// Start server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	log.Info("Server started", zap.String("port", cfg.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited")
}

// ginLogger is a custom logger middleware for Gin
func ginLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Info("HTTP Request",
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Duration("latency", latency),
			zap.String("ip", c.ClientIP()),
		)
	}
}
