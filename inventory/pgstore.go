package inventory

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tripwave/models"
)

// PGStore is the Postgres SeatLedger: a row lock on the trip serializes
// concurrent mutations, and the version-checked update double-guards
// against any writer that bypassed the lock.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) WithTripLock(ctx context.Context, tripID string, fn func(ctx context.Context, tx LedgerTx, trip TripState) (TripState, bool, error)) (TripState, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return TripState{}, err
	}
	defer tx.Rollback(ctx)

	var trip TripState
	err = tx.QueryRow(ctx,
		`SELECT id, "totalSeats", "availableSeats", status, version, "pricePerSeat", "platformFee",
		        "tripType", "distanceKm", "durationHours", "baseRatePerKm", "fixedFees", "minimumPrice", currency
		 FROM trips WHERE id=$1 FOR UPDATE`, tripID).
		Scan(&trip.ID, &trip.TotalSeats, &trip.AvailableSeats, &trip.Status, &trip.Version,
			&trip.PricePerSeat, &trip.PlatformFee,
			&trip.TripType, &trip.DistanceKm, &trip.DurationHours, &trip.BaseRatePerKm,
			&trip.FixedFees, &trip.MinimumPrice, &trip.Currency)
	if err == pgx.ErrNoRows {
		return TripState{}, ErrInvalidState
	}
	if err != nil {
		return TripState{}, err
	}

	newState, apply, err := fn(ctx, &pgLedgerTx{tx: tx}, trip)
	if err != nil {
		return TripState{}, err
	}

	if apply {
		tag, err := tx.Exec(ctx,
			`UPDATE trips SET "availableSeats"=$1, status=$2, "pricePerSeat"=$3, "platformFee"=$4,
			        version=version+1, "updatedAt"=NOW()
			 WHERE id=$5 AND version=$6`,
			newState.AvailableSeats, newState.Status, newState.PricePerSeat, newState.PlatformFee,
			tripID, trip.Version)
		if err != nil {
			return TripState{}, err
		}
		if tag.RowsAffected() == 0 {
			return TripState{}, ErrConcurrentModification
		}
		newState.Version = trip.Version + 1
	}

	if err := tx.Commit(ctx); err != nil {
		return TripState{}, err
	}
	return newState, nil
}

func (s *PGStore) BookingTrip(ctx context.Context, bookingID string) (string, error) {
	var tripID string
	err := s.pool.QueryRow(ctx,
		`SELECT "tripId" FROM bookings WHERE id=$1`, bookingID).Scan(&tripID)
	if err == pgx.ErrNoRows {
		return "", ErrBookingNotFound
	}
	return tripID, err
}

type pgLedgerTx struct {
	tx pgx.Tx
}

func (l *pgLedgerTx) InsertBooking(ctx context.Context, b *models.Booking) error {
	return l.tx.QueryRow(ctx,
		`INSERT INTO bookings (id, "tripId", "userId", "seatsBooked", status, "totalAmount", currency, "createdAt", "updatedAt")
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		 RETURNING "createdAt", "updatedAt"`,
		b.ID, b.TripID, b.UserID, b.SeatsBooked, b.Status, b.TotalAmount, b.Currency).
		Scan(&b.CreatedAt, &b.UpdatedAt)
}

func (l *pgLedgerTx) CancelBooking(ctx context.Context, bookingID string) (int, string, bool, error) {
	var (
		seats  int
		userID string
		status string
	)
	err := l.tx.QueryRow(ctx,
		`SELECT "seatsBooked", "userId", status FROM bookings WHERE id=$1 FOR UPDATE`, bookingID).
		Scan(&seats, &userID, &status)
	if err == pgx.ErrNoRows {
		return 0, "", false, ErrBookingNotFound
	}
	if err != nil {
		return 0, "", false, err
	}

	if status == models.BookingCancelled {
		return seats, userID, true, nil
	}
	if status != models.BookingPending && status != models.BookingConfirmed {
		return 0, "", false, ErrInvalidState
	}

	_, err = l.tx.Exec(ctx,
		`UPDATE bookings SET status=$1, "cancelledAt"=NOW(), "updatedAt"=NOW() WHERE id=$2`,
		models.BookingCancelled, bookingID)
	return seats, userID, false, err
}
