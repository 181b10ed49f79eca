package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	"tripwave/availability"
	"tripwave/config"
	"tripwave/db"
	"tripwave/handlers"
	"tripwave/inventory"
	"tripwave/middleware"
	"tripwave/realtime"
	"tripwave/stores"
	"tripwave/utils"
	"tripwave/workers"
)

var serverStartTime time.Time

func main() {
	serverStartTime = time.Now()

	// Load .env
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	utils.InitLogger()
	utils.Logger.Info("Starting TripWave Server...")

	config.LoadAndValidate()

	// Connect to DB
	db.Connect(config.Envs.DBURL)
	defer db.Close()

	// Auto-migrate tables
	db.Migrate()
	db.InitRedis(config.Envs.RedisURL, config.Envs.RedisPassword)

	// Context for background services (cancellation)
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	// Stores
	locations := stores.NewLocationStore(db.RedisClient)
	fees := stores.NewFeeConfig(db.Pool, config.Envs.DefaultPlatformFeeRate, config.Envs.FeeCacheTTL)
	tripDir := stores.NewTripDirectory(db.Pool)
	offers := stores.NewOfferStore(db.RedisClient)

	// Availability state machine
	availabilitySvc := availability.NewService(
		availability.NewPGStore(db.Pool), nil, utils.Logger, config.Envs.DefaultAutoOfflineMinutes)

	// Realtime: connection registry, the two transports, one emitter
	registry := realtime.NewRegistry()
	push := realtime.NewPushTransport(registry, realtime.PushOptions{
		Trips:        tripDir,
		Locations:    locations,
		Heartbeats:   availabilitySvc,
		LocationSink: locations,
		JWTSecret:    []byte(config.Envs.JWTSecret),
		ReplayMaxAge: config.Envs.LocationReplayMaxAge,
		Logger:       utils.Logger,
	})
	sse := realtime.NewSSEHub(15*time.Second, config.Envs.ConnectionIdleLimit, utils.Logger)
	emitter := realtime.NewEmitter(push, sse, utils.Logger)
	push.SetEmitter(emitter)
	availabilitySvc.SetEmitter(emitter)

	// Seat inventory controller
	controller := inventory.NewController(
		inventory.NewPGStore(db.Pool), fees, emitter, utils.Logger, config.Envs.BookingMaxRetries)

	// Background workers
	registry.StartSweep(bgCtx, config.Envs.ConnectionIdleLimit, utils.Logger)
	availabilitySvc.StartScheduleWorker(bgCtx)
	workers.StartOfferDispatch(bgCtx, offers, emitter)
	workers.StartOfferExpiry(bgCtx, offers, emitter)
	workers.StartNotificationDrain(bgCtx, emitter)

	// Use release mode in production
	if os.Getenv("GIN_MODE") == "release" || os.Getenv("NODE_ENV") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()
	r.SetTrustedProxies(nil)

	// CORS middleware
	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	// Security Middleware
	limiter := middleware.NewIPRateLimiter(rate.Limit(10), 30)
	limiter.StartCleanup(bgCtx, time.Hour)
	r.Use(middleware.RequestID())
	r.Use(middleware.SecureHeaders())
	r.Use(middleware.RateLimit(limiter))
	r.Use(middleware.TimeoutMiddleware())
	r.Use(middleware.MaxBodySize(1 * 1024 * 1024)) // 1MB limit

	// Health Check
	r.GET("/health", healthHandler)

	// Route registration with middleware injection
	jwtSecret := []byte(config.Envs.JWTSecret)
	auth := middleware.Authenticated(jwtSecret, "")
	driverAuth := middleware.Authenticated(jwtSecret, "driver")
	adminAuth := middleware.Authenticated(jwtSecret, "admin")

	tripHandler := &handlers.TripHandler{
		Inventory: controller,
		Fees:      fees,
		Offers:    offers,
		Emitter:   emitter,
		SSE:       sse,
		OfferTTL:  config.Envs.OfferTTL,
	}
	tripHandler.RegisterTripRoutes(r, auth, driverAuth)

	driverHandler := &handlers.DriverHandler{
		Availability: availabilitySvc,
		Locations:    locations,
		Emitter:      emitter,
	}
	driverHandler.RegisterDriverRoutes(r, driverAuth)

	adminHandler := &handlers.AdminHandler{Fees: fees}
	adminHandler.RegisterAdminRoutes(r, adminAuth)

	// Mount Socket.IO on /socket.io/ and Gin HTTP routes on everything else
	mux := http.NewServeMux()
	mux.Handle("/socket.io/", push.Handler())
	mux.Handle("/", r)

	// Graceful Shutdown
	srv := &http.Server{
		Addr:    ":" + config.Envs.Port,
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	log.Printf("TripWave Server running on port %s", config.Envs.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// 1. Cancel background workers
	bgCancel()

	// 2. Close socket connections
	push.Close()

	// 3. Shutdown HTTP server (stop accepting new requests)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	// 4. Wait for tracked background tasks (SafeGo) to complete
	log.Println("Waiting for background tasks to drain...")
	utils.WaitForBackgroundTasks(5 * time.Second)

	log.Println("Server exiting")
}

func healthHandler(c *gin.Context) {
	dbStatus := "connected"
	dbLatency := "N/A"
	start := time.Now()
	if err := db.Pool.Ping(context.Background()); err != nil {
		dbStatus = fmt.Sprintf("error: %v", err)
	} else {
		dbLatency = fmt.Sprintf("%dms", time.Since(start).Milliseconds())
	}

	redisStatus := "connected"
	redisLatency := "N/A"
	if db.RedisClient != nil {
		start = time.Now()
		if _, err := db.RedisClient.Ping(context.Background()).Result(); err != nil {
			redisStatus = fmt.Sprintf("error: %v", err)
		} else {
			redisLatency = fmt.Sprintf("%dms", time.Since(start).Milliseconds())
		}
	}

	uptime := time.Since(serverStartTime)
	uptimeStr := fmt.Sprintf("%dd %dh %dm %ds",
		int(uptime.Hours())/24, int(uptime.Hours())%24, int(uptime.Minutes())%60, int(uptime.Seconds())%60)

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"status":  "healthy",
		"server": gin.H{
			"goVersion": runtime.Version(),
			"uptime":    uptimeStr,
			"startedAt": serverStartTime.Format(time.RFC3339),
		},
		"database": gin.H{"status": dbStatus, "latency": dbLatency},
		"redis":    gin.H{"status": redisStatus, "latency": redisLatency},
	})
}
