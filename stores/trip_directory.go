package stores

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TripDirectory answers trip → driver lookups for the realtime layer.
type TripDirectory struct {
	pool *pgxpool.Pool
}

func NewTripDirectory(pool *pgxpool.Pool) *TripDirectory {
	return &TripDirectory{pool: pool}
}

// DriverForTrip returns the assigned driver's id, or "" when the trip
// has no driver or does not exist.
func (d *TripDirectory) DriverForTrip(ctx context.Context, tripID string) (string, error) {
	var driverID *string
	err := d.pool.QueryRow(ctx,
		`SELECT "driverId" FROM trips WHERE id=$1`, tripID).Scan(&driverID)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if driverID == nil {
		return "", nil
	}
	return *driverID, nil
}
