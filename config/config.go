package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds all validated environment variables
type Config struct {
	Port          string
	DBURL         string
	RedisURL      string
	RedisPassword string

	JWTSecret string

	// Pricing
	DefaultPlatformFeeRate float64
	FeeCacheTTL            time.Duration

	// Availability
	DefaultAutoOfflineMinutes int

	// Realtime
	LocationReplayMaxAge time.Duration
	ConnectionIdleLimit  time.Duration
	OfferTTL             time.Duration

	// Inventory
	BookingMaxRetries int
}

// Global instance
var Envs Config

// LoadAndValidate ensures all required ENV keys are present and fills
// tunables with their defaults.
func LoadAndValidate() {
	Envs = Config{
		Port:          getDef("PORT", "8000"),
		DBURL:         getReq("DATABASE_URL"),
		RedisURL:      getDef("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getDef("REDIS_PASSWORD", ""),
		JWTSecret:     getReq("ACCESS_TOKEN_SECRET"),

		DefaultPlatformFeeRate: getFloat("PLATFORM_FEE_RATE", 0.15),
		FeeCacheTTL:            getDur("FEE_CACHE_TTL", 60*time.Second),

		DefaultAutoOfflineMinutes: getInt("AUTO_OFFLINE_MINUTES", 30),

		LocationReplayMaxAge: getDur("LOCATION_REPLAY_MAX_AGE", 300*time.Second),
		ConnectionIdleLimit:  getDur("CONNECTION_IDLE_LIMIT", 30*time.Minute),
		OfferTTL:             getDur("TRIP_OFFER_TTL", 10*time.Minute),

		BookingMaxRetries: getInt("BOOKING_MAX_RETRIES", 5),
	}
}

func getReq(key string) string {
	val := os.Getenv(key)
	if val == "" {
		log.Fatalf("FATAL: Environment variable %s is required but missing", key)
	}
	return val
}

func getDef(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return def
}

func getDur(key string, def time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return def
}
