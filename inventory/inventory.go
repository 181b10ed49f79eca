// Package inventory owns the seat ledger of a trip: every booking and
// cancellation funnels through a single serialized mutation per trip so
// seats are never double-sold and never double-credited.
package inventory

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tripwave/models"
	"tripwave/pricing"
	"tripwave/realtime"
)

var (
	// ErrInvalidState — trip/booking missing or not in a seat-mutable
	// lifecycle state. Terminal, no retry.
	ErrInvalidState = errors.New("trip is not in a state that allows seat changes")
	// ErrInsufficientCapacity — not enough free seats. Terminal,
	// surfaced to the end user.
	ErrInsufficientCapacity = errors.New("not enough seats available")
	// ErrConcurrentModification — lost the version compare-and-swap
	// race. Retryable with a bounded budget.
	ErrConcurrentModification = errors.New("trip was modified concurrently")
	// ErrBookingNotFound — the ledger has no such booking.
	ErrBookingNotFound = errors.New("booking not found")
)

// TripState is the snapshot read under the trip row lock: the seat
// counters plus the pricing inputs needed to reprice the trip at its new
// occupancy inside the same transaction.
type TripState struct {
	ID             string
	TotalSeats     int
	AvailableSeats int
	Status         string
	Version        int64
	PricePerSeat   *int64
	PlatformFee    int64

	TripType      string
	DistanceKm    float64
	DurationHours float64
	BaseRatePerKm float64
	FixedFees     int64
	MinimumPrice  *int64
	Currency      string
}

// Occupied is the number of seats currently claimed by active bookings.
func (ts TripState) Occupied() int { return ts.TotalSeats - ts.AvailableSeats }

// applyBook transitions the state for a booking of `seats`. A FULL trip
// is still in the bookable family, it just has zero capacity left, so
// the caller sees a capacity error rather than a lifecycle error.
func applyBook(ts *TripState, seats int) error {
	if ts.Status != models.TripPublished && ts.Status != models.TripFull {
		return ErrInvalidState
	}
	if ts.AvailableSeats < seats {
		return ErrInsufficientCapacity
	}
	ts.AvailableSeats -= seats
	if ts.AvailableSeats == 0 {
		ts.Status = models.TripFull
	}
	return nil
}

// applyRelease credits seats back. Releasing on a FULL trip reopens it.
func applyRelease(ts *TripState, seats int) error {
	if ts.Status != models.TripPublished && ts.Status != models.TripFull {
		return ErrInvalidState
	}
	if ts.AvailableSeats+seats > ts.TotalSeats {
		// Ledger and counter disagree; refuse rather than corrupt.
		return ErrInvalidState
	}
	ts.AvailableSeats += seats
	if ts.Status == models.TripFull {
		ts.Status = models.TripPublished
	}
	return nil
}

// LedgerTx is the booking-ledger surface available inside the trip
// transaction. Ledger writes commit or roll back together with the seat
// counter update, never one without the other.
type LedgerTx interface {
	InsertBooking(ctx context.Context, b *models.Booking) error
	// CancelBooking marks the booking cancelled and returns the seats it
	// held. alreadyCancelled reports an idempotent no-op.
	CancelBooking(ctx context.Context, bookingID string) (seats int, userID string, alreadyCancelled bool, err error)
}

// Store is the SeatLedger port. Implementations must serialize
// concurrent mutations of the same trip: WithTripLock runs fn with the
// trip row exclusively held, then applies the returned state with a
// version compare-and-swap. A failed swap rolls everything back and
// yields ErrConcurrentModification.
type Store interface {
	WithTripLock(ctx context.Context, tripID string, fn func(ctx context.Context, tx LedgerTx, trip TripState) (TripState, bool, error)) (TripState, error)
	// BookingTrip resolves which trip a booking belongs to.
	BookingTrip(ctx context.Context, bookingID string) (string, error)
}

// FeeRater supplies the platform fee rate for repricing.
type FeeRater interface {
	Rate(ctx context.Context) float64
}

// MutationResult is the post-commit view returned to callers and fanned
// out to observers.
type MutationResult struct {
	TripID         string          `json:"tripId"`
	AvailableSeats int             `json:"availableSeats"`
	TotalSeats     int             `json:"totalSeats"`
	Status         string          `json:"status"`
	Version        int64           `json:"version"`
	PricePerSeat   *int64          `json:"pricePerSeat"`
	Booking        *models.Booking `json:"booking,omitempty"`
}

// Controller is the transactional seat-inventory unit. One instance per
// process, injected into handlers.
type Controller struct {
	store      Store
	fees       FeeRater
	emitter    *realtime.Emitter
	logger     *zap.Logger
	maxRetries int
}

func NewController(store Store, fees FeeRater, emitter *realtime.Emitter, logger *zap.Logger, maxRetries int) *Controller {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Controller{store: store, fees: fees, emitter: emitter, logger: logger, maxRetries: maxRetries}
}

// BookSeats claims seats on a trip for a passenger. The booking insert,
// the seat decrement, and the occupancy repricing commit atomically;
// observers are notified after commit.
func (c *Controller) BookSeats(ctx context.Context, tripID, userID string, seats int) (*MutationResult, error) {
	if seats < 1 {
		return nil, ErrInvalidState
	}

	var booking *models.Booking
	run := func(ctx context.Context, tx LedgerTx, trip TripState) (TripState, bool, error) {
		booking = nil
		if err := applyBook(&trip, seats); err != nil {
			return trip, false, err
		}

		rate := c.fees.Rate(ctx)
		quote := pricing.Quote(pricing.Params{
			DistanceKm:     trip.DistanceKm,
			DurationHours:  trip.DurationHours,
			BaseRatePerKm:  trip.BaseRatePerKm,
			FixedFees:      trip.FixedFees,
			PlatformMargin: rate,
			TotalSeats:     trip.TotalSeats,
			OccupiedSeats:  trip.Occupied(),
			MinimumPrice:   trip.MinimumPrice,
		})

		booking = &models.Booking{
			ID:          uuid.NewString(),
			TripID:      trip.ID,
			UserID:      userID,
			SeatsBooked: seats,
			Status:      models.BookingConfirmed,
			TotalAmount: quote.PricePerPerson * int64(seats),
			Currency:    trip.Currency,
		}
		if err := tx.InsertBooking(ctx, booking); err != nil {
			return trip, false, err
		}

		perSeat := quote.PricePerPerson
		trip.PricePerSeat = &perSeat
		trip.PlatformFee = quote.PlatformFeeAmount
		return trip, true, nil
	}

	state, err := c.withRetry(ctx, tripID, run)
	if err != nil {
		return nil, err
	}

	res := resultFrom(state)
	res.Booking = booking
	c.notifyBooked(res)
	return res, nil
}

// CancelBooking releases a booking's seats back to its trip. Cancelling
// an already-cancelled booking credits nothing and reports the current
// trip state unchanged.
func (c *Controller) CancelBooking(ctx context.Context, bookingID string) (*MutationResult, error) {
	tripID, err := c.store.BookingTrip(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	var (
		cancelled *models.Booking
		noop      bool
	)
	run := func(ctx context.Context, tx LedgerTx, trip TripState) (TripState, bool, error) {
		cancelled, noop = nil, false

		seats, userID, already, err := tx.CancelBooking(ctx, bookingID)
		if err != nil {
			return trip, false, err
		}
		if already {
			noop = true
			return trip, false, nil
		}
		cancelled = &models.Booking{
			ID:          bookingID,
			TripID:      trip.ID,
			UserID:      userID,
			SeatsBooked: seats,
			Status:      models.BookingCancelled,
			Currency:    trip.Currency,
		}

		if err := applyRelease(&trip, seats); err != nil {
			return trip, false, err
		}

		rate := c.fees.Rate(ctx)
		quote := pricing.Quote(pricing.Params{
			DistanceKm:     trip.DistanceKm,
			DurationHours:  trip.DurationHours,
			BaseRatePerKm:  trip.BaseRatePerKm,
			FixedFees:      trip.FixedFees,
			PlatformMargin: rate,
			TotalSeats:     trip.TotalSeats,
			OccupiedSeats:  trip.Occupied(),
			MinimumPrice:   trip.MinimumPrice,
		})
		perSeat := quote.PricePerPerson
		trip.PricePerSeat = &perSeat
		trip.PlatformFee = quote.PlatformFeeAmount
		return trip, true, nil
	}

	state, err := c.withRetry(ctx, tripID, run)
	if err != nil {
		return nil, err
	}

	res := resultFrom(state)
	if !noop {
		res.Booking = cancelled
		c.notifyCancelled(res)
	}
	return res, nil
}

// withRetry reruns the whole locked mutation when the compare-and-swap
// loses a race, with a short jittered pause to avoid a tight spin.
// Beyond the budget the caller sees ErrConcurrentModification.
func (c *Controller) withRetry(ctx context.Context, tripID string, fn func(ctx context.Context, tx LedgerTx, trip TripState) (TripState, bool, error)) (TripState, error) {
	var (
		state TripState
		err   error
	)
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return TripState{}, ctx.Err()
			case <-time.After(time.Duration(10+rand.Intn(20)) * time.Millisecond):
			}
			c.logger.Info("Retrying seat mutation after version conflict",
				zap.String("tripId", tripID), zap.Int("attempt", attempt+1))
		}
		state, err = c.store.WithTripLock(ctx, tripID, fn)
		if !errors.Is(err, ErrConcurrentModification) {
			return state, err
		}
	}
	return TripState{}, err
}

func resultFrom(state TripState) *MutationResult {
	return &MutationResult{
		TripID:         state.ID,
		AvailableSeats: state.AvailableSeats,
		TotalSeats:     state.TotalSeats,
		Status:         state.Status,
		Version:        state.Version,
		PricePerSeat:   state.PricePerSeat,
	}
}

// notifyBooked fans out post-commit. Emission failure is logged per
// transport inside the emitter and never reaches the committed booking.
func (c *Controller) notifyBooked(res *MutationResult) {
	c.emitSeatChange(res)

	if res.Booking != nil {
		ev := realtime.NewEvent(realtime.EventBookingConfirmed, realtime.BookingPayload{
			BookingID:      res.Booking.ID,
			TripID:         res.TripID,
			UserID:         res.Booking.UserID,
			SeatsBooked:    res.Booking.SeatsBooked,
			TotalAmount:    res.Booking.TotalAmount,
			Currency:       res.Booking.Currency,
			AvailableSeats: res.AvailableSeats,
		})
		ev.TripID = res.TripID
		ev.UserID = res.Booking.UserID
		c.emitter.Emit(ev)
	}
}

func (c *Controller) notifyCancelled(res *MutationResult) {
	c.emitSeatChange(res)

	if res.Booking != nil {
		ev := realtime.NewEvent(realtime.EventBookingCancelled, realtime.BookingPayload{
			BookingID:      res.Booking.ID,
			TripID:         res.TripID,
			UserID:         res.Booking.UserID,
			SeatsBooked:    res.Booking.SeatsBooked,
			AvailableSeats: res.AvailableSeats,
			Currency:       res.Booking.Currency,
		})
		ev.TripID = res.TripID
		ev.UserID = res.Booking.UserID
		c.emitter.Emit(ev)
	}
}

func (c *Controller) emitSeatChange(res *MutationResult) {
	ev := realtime.NewEvent(realtime.EventSeatAvailability, realtime.SeatAvailabilityPayload{
		TripID:         res.TripID,
		AvailableSeats: res.AvailableSeats,
		TotalSeats:     res.TotalSeats,
		Status:         res.Status,
	})
	ev.TripID = res.TripID
	c.emitter.Emit(ev)
}
