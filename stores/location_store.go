package stores

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"tripwave/models"
)

const locationKeyPrefix = "drivers:location:"

// locationTTL auto-expires positions of drivers that stopped reporting.
const locationTTL = time.Hour

// LocationStore keeps the single last-known position per driver in
// redis: one key, overwritten on every update, last write wins. Moving
// data never touches Postgres.
type LocationStore struct {
	rdb *redis.Client
}

func NewLocationStore(rdb *redis.Client) *LocationStore {
	return &LocationStore{rdb: rdb}
}

func (s *LocationStore) Update(ctx context.Context, loc models.DriverLocation) error {
	val, err := json.Marshal(loc)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, locationKeyPrefix+loc.DriverID, val, locationTTL).Err()
}

// Latest returns the driver's last reported position, or (nil, nil) when
// none is recorded.
func (s *LocationStore) Latest(ctx context.Context, driverID string) (*models.DriverLocation, error) {
	val, err := s.rdb.Get(ctx, locationKeyPrefix+driverID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var loc models.DriverLocation
	if err := json.Unmarshal([]byte(val), &loc); err != nil {
		return nil, err
	}
	return &loc, nil
}

func (s *LocationStore) Remove(ctx context.Context, driverID string) error {
	return s.rdb.Del(ctx, locationKeyPrefix+driverID).Err()
}
