package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"tripwave/db"
	"tripwave/inventory"
	"tripwave/middleware"
	"tripwave/models"
	"tripwave/pricing"
	"tripwave/realtime"
	"tripwave/stores"
	"tripwave/utils"
)

// TripHandler serves the trip lifecycle and the booking operations that
// mutate seat inventory through the controller.
type TripHandler struct {
	Inventory *inventory.Controller
	Fees      *stores.FeeConfig
	Offers    *stores.OfferStore
	Emitter   *realtime.Emitter
	SSE       *realtime.SSEHub
	OfferTTL  time.Duration
}

// RegisterTripRoutes defines the trip and booking endpoints. The SSE
// stream is the unauthenticated pull transport; everything mutating
// requires a verified principal.
func (h *TripHandler) RegisterTripRoutes(r *gin.Engine, auth, driverAuth gin.HandlerFunc) {
	trips := r.Group("/api/v1/trips")
	{
		trips.POST("", auth, h.CreateTrip)
		trips.GET("/:id", h.GetTrip)
		trips.GET("/:id/pricing", h.GetTripPricing)
		trips.GET("/:id/events", h.SSE.StreamHandler())
		trips.POST("/:id/publish", auth, h.PublishTrip)
		trips.PUT("/:id/status", auth, h.UpdateTripStatus)
		trips.POST("/:id/claim", driverAuth, h.ClaimTrip)
		trips.POST("/:id/bookings", auth, h.BookSeats)
	}
	r.POST("/api/v1/bookings/:id/cancel", auth, h.CancelBooking)
}

const tripSelectCols = `id, "organizerId", "driverId", "tripType", "originName", "destinationName",
	"originLat", "originLng", "destinationLat", "destinationLng",
	"distanceKm", "durationHours", "baseRatePerKm", "fixedFees", "minimumPrice",
	"totalSeats", "availableSeats", status, version, "basePrice", "pricePerSeat", "platformFee",
	currency, "departureAt", "createdAt", "updatedAt"`

func scanTrip(scanner interface{ Scan(dest ...any) error }, t *models.Trip) error {
	return scanner.Scan(&t.ID, &t.OrganizerID, &t.DriverID, &t.TripType, &t.OriginName, &t.DestName,
		&t.OriginLat, &t.OriginLng, &t.DestLat, &t.DestLng,
		&t.DistanceKm, &t.DurationHours, &t.BaseRatePerKm, &t.FixedFees, &t.MinimumPrice,
		&t.TotalSeats, &t.AvailableSeats, &t.Status, &t.Version, &t.BasePrice, &t.PricePerSeat, &t.PlatformFee,
		&t.Currency, &t.DepartureAt, &t.CreatedAt, &t.UpdatedAt)
}

// POST /api/v1/trips
func (h *TripHandler) CreateTrip(c *gin.Context) {
	principal := middleware.GetPrincipal(c)
	var body struct {
		TripType      string    `json:"tripType"`
		OriginName    string    `json:"originName" binding:"required"`
		DestName      string    `json:"destinationName" binding:"required"`
		OriginLat     float64   `json:"originLat"`
		OriginLng     float64   `json:"originLng"`
		DestLat       float64   `json:"destinationLat"`
		DestLng       float64   `json:"destinationLng"`
		DistanceKm    float64   `json:"distanceKm" binding:"required"`
		DurationHours float64   `json:"durationHours" binding:"required"`
		BaseRatePerKm float64   `json:"baseRatePerKm" binding:"required"`
		FixedFees     int64     `json:"fixedFees"`
		MinimumPrice  *int64    `json:"minimumPrice"`
		TotalSeats    int       `json:"totalSeats" binding:"required,min=1"`
		Currency      string    `json:"currency"`
		DepartureAt   time.Time `json:"departureAt" binding:"required"`
		DriverID      *string   `json:"driverId"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if body.TripType == "" {
		body.TripType = models.TripTypeShared
	}
	if body.TripType != models.TripTypeShared && body.TripType != models.TripTypePrivate {
		utils.RespondError(c, http.StatusBadRequest, "tripType must be shared or private", nil)
		return
	}
	if body.Currency == "" {
		body.Currency = "INR"
	}

	// The listed base price is what a single passenger would pay.
	quote := pricing.Quote(pricing.Params{
		DistanceKm:     body.DistanceKm,
		DurationHours:  body.DurationHours,
		BaseRatePerKm:  body.BaseRatePerKm,
		FixedFees:      body.FixedFees,
		PlatformMargin: h.Fees.Rate(c.Request.Context()),
		TotalSeats:     body.TotalSeats,
		OccupiedSeats:  0,
		MinimumPrice:   body.MinimumPrice,
	})

	var trip models.Trip
	row := db.Pool.QueryRow(c.Request.Context(),
		`INSERT INTO trips (
			id, "organizerId", "driverId", "tripType", "originName", "destinationName",
			"originLat", "originLng", "destinationLat", "destinationLng",
			"distanceKm", "durationHours", "baseRatePerKm", "fixedFees", "minimumPrice",
			"totalSeats", "availableSeats", status, version, "basePrice", "platformFee",
			currency, "departureAt", "createdAt", "updatedAt"
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14, $15,
			$16, $16, 'DRAFT', 1, $17, $18,
			$19, $20, NOW(), NOW()
		) RETURNING `+tripSelectCols,
		uuid.NewString(), principal.ID, body.DriverID, body.TripType, body.OriginName, body.DestName,
		body.OriginLat, body.OriginLng, body.DestLat, body.DestLng,
		body.DistanceKm, body.DurationHours, body.BaseRatePerKm, body.FixedFees, body.MinimumPrice,
		body.TotalSeats, quote.SinglePassengerPrice, quote.PlatformFeeAmount,
		body.Currency, body.DepartureAt)
	if err := scanTrip(row, &trip); err != nil {
		utils.RespondError(c, http.StatusInternalServerError, "Failed to create trip", err)
		return
	}

	utils.RespondSuccess(c, http.StatusCreated, "Trip created", gin.H{"trip": trip})
}

// GET /api/v1/trips/:id
func (h *TripHandler) GetTrip(c *gin.Context) {
	var trip models.Trip
	row := db.Pool.QueryRow(c.Request.Context(),
		`SELECT `+tripSelectCols+` FROM trips WHERE id=$1`, c.Param("id"))
	if err := scanTrip(row, &trip); err != nil {
		utils.RespondError(c, http.StatusNotFound, "Trip not found", err)
		return
	}
	utils.RespondSuccess(c, http.StatusOK, "Trip details", gin.H{"trip": trip})
}

// GET /api/v1/trips/:id/pricing — breakdown at current occupancy, for
// display on booking screens ("price drops as more people join").
func (h *TripHandler) GetTripPricing(c *gin.Context) {
	var trip models.Trip
	row := db.Pool.QueryRow(c.Request.Context(),
		`SELECT `+tripSelectCols+` FROM trips WHERE id=$1`, c.Param("id"))
	if err := scanTrip(row, &trip); err != nil {
		utils.RespondError(c, http.StatusNotFound, "Trip not found", err)
		return
	}

	quote := pricing.Quote(pricing.Params{
		DistanceKm:     trip.DistanceKm,
		DurationHours:  trip.DurationHours,
		BaseRatePerKm:  trip.BaseRatePerKm,
		FixedFees:      trip.FixedFees,
		PlatformMargin: h.Fees.Rate(c.Request.Context()),
		TotalSeats:     trip.TotalSeats,
		OccupiedSeats:  trip.TotalSeats - trip.AvailableSeats,
		MinimumPrice:   trip.MinimumPrice,
	})

	utils.RespondSuccess(c, http.StatusOK, "Trip pricing", gin.H{
		"tripId":         trip.ID,
		"currency":       trip.Currency,
		"occupiedSeats":  trip.TotalSeats - trip.AvailableSeats,
		"availableSeats": trip.AvailableSeats,
		"breakdown":      quote,
	})
}

// POST /api/v1/trips/:id/publish
func (h *TripHandler) PublishTrip(c *gin.Context) {
	principal := middleware.GetPrincipal(c)
	tripID := c.Param("id")

	var trip models.Trip
	row := db.Pool.QueryRow(c.Request.Context(),
		`UPDATE trips SET status='PUBLISHED', "updatedAt"=NOW()
		 WHERE id=$1 AND "organizerId"=$2 AND status='DRAFT'
		 RETURNING `+tripSelectCols, tripID, principal.ID)
	if err := scanTrip(row, &trip); err != nil {
		utils.RespondError(c, http.StatusConflict, "Trip cannot be published", err)
		return
	}

	ev := realtime.NewEvent(realtime.EventTripStatus, realtime.TripStatusPayload{
		TripID:   trip.ID,
		Previous: models.TripDraft,
		Status:   models.TripPublished,
	})
	ev.TripID = trip.ID
	h.Emitter.Emit(ev)

	// Offer the trip to matching drivers over the dispatch channel,
	// unless one is already assigned.
	if trip.DriverID == nil {
		expiresAt := time.Now().Add(h.OfferTTL)
		utils.SafeGo(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := h.Offers.Publish(ctx, offerFromTrip(trip, h.Fees.Rate(ctx), expiresAt)); err != nil {
				utils.Logger.Error("Failed to publish trip offer",
					zap.String("tripId", trip.ID), zap.Error(err))
			}
		})
	}

	utils.RespondSuccess(c, http.StatusOK, "Trip published", gin.H{"trip": trip})
}

// offerFromTrip builds the dispatch record for an open trip. The pickup
// coordinates ride along so driver distance filters measure against the
// actual origin; earnings are the driver's share of a fully booked trip,
// giving filter criteria something to bite on.
func offerFromTrip(trip models.Trip, feeRate float64, expiresAt time.Time) stores.TripOffer {
	_, earnings := pricing.SplitFare(trip.BasePrice, feeRate)
	return stores.TripOffer{
		TripID:          trip.ID,
		TripType:        trip.TripType,
		OriginName:      trip.OriginName,
		DestinationName: trip.DestName,
		OriginLat:       trip.OriginLat,
		OriginLng:       trip.OriginLng,
		DistanceKm:      trip.DistanceKm,
		Earnings:        earnings,
		Currency:        trip.Currency,
		ExpiresAt:       expiresAt,
	}
}

// PUT /api/v1/trips/:id/status
func (h *TripHandler) UpdateTripStatus(c *gin.Context) {
	principal := middleware.GetPrincipal(c)
	tripID := c.Param("id")

	var body struct {
		Status string `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	// Permitted lifecycle moves from each prior state. Seat mutation
	// statuses (PUBLISHED/FULL) are owned by the inventory controller
	// and never set directly here.
	var allowedPrev []string
	switch body.Status {
	case models.TripInProgress:
		allowedPrev = []string{models.TripPublished, models.TripFull}
	case models.TripCompleted:
		allowedPrev = []string{models.TripInProgress}
	case models.TripCancelled:
		allowedPrev = []string{models.TripDraft, models.TripPublished, models.TripFull, models.TripInProgress}
	default:
		utils.RespondError(c, http.StatusBadRequest, "Invalid status. Use: IN_PROGRESS, COMPLETED, CANCELLED", nil)
		return
	}

	var previous string
	err := db.Pool.QueryRow(c.Request.Context(),
		`SELECT status FROM trips WHERE id=$1 AND "organizerId"=$2`,
		tripID, principal.ID).Scan(&previous)
	if err != nil {
		utils.RespondError(c, http.StatusNotFound, "Trip not found", err)
		return
	}
	if !contains(allowedPrev, previous) {
		utils.RespondError(c, http.StatusConflict, "Trip is not in a state that allows this change", nil)
		return
	}

	// Guard on the observed status so racing lifecycle updates lose
	// cleanly instead of overwriting each other.
	var trip models.Trip
	row := db.Pool.QueryRow(c.Request.Context(),
		`UPDATE trips SET status=$1, "updatedAt"=NOW()
		 WHERE id=$2 AND status=$3
		 RETURNING `+tripSelectCols, body.Status, tripID, previous)
	if err := scanTrip(row, &trip); err != nil {
		utils.RespondError(c, http.StatusConflict, "Trip is not in a state that allows this change", err)
		return
	}

	ev := realtime.NewEvent(realtime.EventTripStatus, realtime.TripStatusPayload{
		TripID:   trip.ID,
		Previous: previous,
		Status:   trip.Status,
	})
	ev.TripID = trip.ID
	h.Emitter.Emit(ev)

	resp := gin.H{"trip": trip}

	// Completion settles the fare split with the driver; the two parts
	// always sum back to the collected total exactly.
	if trip.Status == models.TripCompleted {
		var totalFare int64
		db.Pool.QueryRow(c.Request.Context(),
			`SELECT COALESCE(SUM("totalAmount"), 0) FROM bookings
			 WHERE "tripId"=$1 AND status IN ($2, $3)`,
			trip.ID, models.BookingPending, models.BookingConfirmed).Scan(&totalFare)

		platformFee, driverEarnings := pricing.SplitFare(totalFare, h.Fees.Rate(c.Request.Context()))
		resp["settlement"] = gin.H{
			"totalFare":      totalFare,
			"platformFee":    platformFee,
			"driverEarnings": driverEarnings,
			"currency":       trip.Currency,
		}

		if trip.DriverID != nil {
			utils.Notify(models.Notification{
				RecipientID: *trip.DriverID,
				Channel:     "push",
				Subject:     "Trip completed",
				Body:        "Your earnings have been settled.",
				Metadata:    map[string]string{"tripId": trip.ID},
			})
		}
	}

	utils.RespondSuccess(c, http.StatusOK, "Trip status updated", resp)
}

// POST /api/v1/trips/:id/claim — a driver accepts an open trip offer.
func (h *TripHandler) ClaimTrip(c *gin.Context) {
	principal := middleware.GetPrincipal(c)
	tripID := c.Param("id")

	var trip models.Trip
	row := db.Pool.QueryRow(c.Request.Context(),
		`UPDATE trips SET "driverId"=$1, "updatedAt"=NOW()
		 WHERE id=$2 AND "driverId" IS NULL AND status IN ('PUBLISHED', 'FULL')
		 RETURNING `+tripSelectCols, principal.ID, tripID)
	if err := scanTrip(row, &trip); err != nil {
		utils.RespondError(c, http.StatusConflict, "Trip is no longer available to claim", err)
		return
	}

	utils.SafeGo(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.Offers.Withdraw(ctx, trip.ID); err != nil {
			utils.Logger.Warn("Failed to withdraw claimed offer",
				zap.String("tripId", trip.ID), zap.Error(err))
		}
	})

	utils.Notify(models.Notification{
		RecipientID: trip.OrganizerID,
		Channel:     "push",
		Subject:     "Driver assigned",
		Body:        "A driver has accepted your trip.",
		Metadata:    map[string]string{"tripId": trip.ID, "driverId": principal.ID},
	})

	utils.RespondSuccess(c, http.StatusOK, "Trip claimed", gin.H{"trip": trip})
}

// POST /api/v1/trips/:id/bookings
func (h *TripHandler) BookSeats(c *gin.Context) {
	principal := middleware.GetPrincipal(c)
	tripID := c.Param("id")

	var body struct {
		Seats int `json:"seats" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		utils.RespondError(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res, err := h.Inventory.BookSeats(c.Request.Context(), tripID, principal.ID, body.Seats)
	if err != nil {
		respondInventoryError(c, err)
		return
	}

	utils.RespondSuccess(c, http.StatusCreated, "Seats booked", gin.H{
		"booking":        res.Booking,
		"availableSeats": res.AvailableSeats,
		"totalSeats":     res.TotalSeats,
		"tripStatus":     res.Status,
		"pricePerSeat":   res.PricePerSeat,
	})
}

// POST /api/v1/bookings/:id/cancel
func (h *TripHandler) CancelBooking(c *gin.Context) {
	principal := middleware.GetPrincipal(c)
	bookingID := c.Param("id")

	// Passengers may only cancel their own bookings.
	var ownerID string
	err := db.Pool.QueryRow(c.Request.Context(),
		`SELECT "userId" FROM bookings WHERE id=$1`, bookingID).Scan(&ownerID)
	if err != nil {
		utils.RespondError(c, http.StatusNotFound, "Booking not found", err)
		return
	}
	if ownerID != principal.ID && principal.Role != "admin" {
		utils.RespondError(c, http.StatusForbidden, "Unauthorized access to this booking", nil)
		return
	}

	res, err := h.Inventory.CancelBooking(c.Request.Context(), bookingID)
	if err != nil {
		respondInventoryError(c, err)
		return
	}

	utils.RespondSuccess(c, http.StatusOK, "Booking cancelled", gin.H{
		"availableSeats": res.AvailableSeats,
		"totalSeats":     res.TotalSeats,
		"tripStatus":     res.Status,
	})
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func respondInventoryError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, inventory.ErrInsufficientCapacity):
		utils.RespondError(c, http.StatusConflict, "Not enough seats available on this trip", nil)
	case errors.Is(err, inventory.ErrInvalidState):
		utils.RespondError(c, http.StatusConflict, "This trip is not open for booking changes", nil)
	case errors.Is(err, inventory.ErrBookingNotFound):
		utils.RespondError(c, http.StatusNotFound, "Booking not found", nil)
	case errors.Is(err, inventory.ErrConcurrentModification):
		// Retry budget exhausted; the user can simply try again.
		utils.RespondError(c, http.StatusServiceUnavailable, "The trip is busy right now. Please try again.", nil)
	default:
		utils.RespondError(c, http.StatusInternalServerError, "Failed to update booking", err)
	}
}
