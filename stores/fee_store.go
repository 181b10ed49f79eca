package stores

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const feeConfigKey = "platform_fee_rate"

// FeeConfig serves the admin-tunable platform fee rate from the
// platform_config table, cached briefly so the pricing path doesn't hit
// the database on every quote.
type FeeConfig struct {
	pool *pgxpool.Pool

	defaultRate float64
	ttl         time.Duration

	mu       sync.Mutex
	cached   float64
	cachedAt time.Time
}

func NewFeeConfig(pool *pgxpool.Pool, defaultRate float64, ttl time.Duration) *FeeConfig {
	return &FeeConfig{pool: pool, defaultRate: defaultRate, ttl: ttl}
}

// Rate returns the current platform fee rate (0.0–0.50). Falls back to
// the configured default if the row is missing or unreadable.
func (f *FeeConfig) Rate(ctx context.Context) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.cachedAt.IsZero() && time.Since(f.cachedAt) < f.ttl {
		return f.cached
	}

	var raw string
	err := f.pool.QueryRow(ctx,
		`SELECT value FROM platform_config WHERE key=$1`, feeConfigKey).Scan(&raw)
	rate := f.defaultRate
	if err == nil {
		if parsed, perr := strconv.ParseFloat(raw, 64); perr == nil && parsed >= 0 && parsed <= 0.5 {
			rate = parsed
		}
	}

	f.cached = rate
	f.cachedAt = time.Now()
	return rate
}

// SetRate persists a new platform fee rate and invalidates the cache.
func (f *FeeConfig) SetRate(ctx context.Context, rate float64) error {
	if rate < 0 || rate > 0.5 {
		return fmt.Errorf("platform fee rate %.4f out of range [0, 0.5]", rate)
	}

	_, err := f.pool.Exec(ctx,
		`INSERT INTO platform_config (key, value, "updatedAt") VALUES ($1, $2, NOW())
		 ON CONFLICT (key) DO UPDATE SET value=EXCLUDED.value, "updatedAt"=NOW()`,
		feeConfigKey, strconv.FormatFloat(rate, 'f', -1, 64))
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.cached = rate
	f.cachedAt = time.Now()
	f.mu.Unlock()
	return nil
}
