package models

import "time"

// Trip lifecycle statuses. Seat counts may only change while a trip is
// Published or Full; Completed and Cancelled freeze the inventory.
const (
	TripDraft      = "DRAFT"
	TripPublished  = "PUBLISHED"
	TripFull       = "FULL"
	TripInProgress = "IN_PROGRESS"
	TripCompleted  = "COMPLETED"
	TripCancelled  = "CANCELLED"
)

const (
	BookingPending   = "PENDING"
	BookingConfirmed = "CONFIRMED"
	BookingCancelled = "CANCELLED"
	BookingCompleted = "COMPLETED"
)

// Driver availability states plus account statuses. Only an approved
// driver may change their own availability.
const (
	DriverAvailable = "AVAILABLE"
	DriverBusy      = "BUSY"
	DriverOffline   = "OFFLINE"

	DriverApproved  = "approved"
	DriverPending   = "pending"
	DriverSuspended = "suspended"
)

const (
	TripTypeShared  = "shared"
	TripTypePrivate = "private"
)

type Trip struct {
	ID             string    `json:"id"`
	OrganizerID    string    `json:"organizerId"`
	DriverID       *string   `json:"driverId"`
	TripType       string    `json:"tripType"`
	OriginName     string    `json:"originName"`
	DestName       string    `json:"destinationName"`
	OriginLat      float64   `json:"originLat"`
	OriginLng      float64   `json:"originLng"`
	DestLat        float64   `json:"destinationLat"`
	DestLng        float64   `json:"destinationLng"`
	DistanceKm     float64   `json:"distanceKm"`
	DurationHours  float64   `json:"durationHours"`
	BaseRatePerKm  float64   `json:"baseRatePerKm"`
	FixedFees      int64     `json:"fixedFees"`
	MinimumPrice   *int64    `json:"minimumPrice"`
	TotalSeats     int       `json:"totalSeats"`
	AvailableSeats int       `json:"availableSeats"`
	Status         string    `json:"status"`
	Version        int64     `json:"version"`
	BasePrice      int64     `json:"basePrice"`
	PricePerSeat   *int64    `json:"pricePerSeat"`
	PlatformFee    int64     `json:"platformFee"`
	Currency       string    `json:"currency"`
	DepartureAt    time.Time `json:"departureAt"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

type Booking struct {
	ID          string     `json:"id"`
	TripID      string     `json:"tripId"`
	UserID      string     `json:"userId"`
	SeatsBooked int        `json:"seatsBooked"`
	Status      string     `json:"status"`
	TotalAmount int64      `json:"totalAmount"`
	Currency    string     `json:"currency"`
	CancelledAt *time.Time `json:"cancelledAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

type Driver struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	PhoneNumber string    `json:"phone_number"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// AvailabilityRecord is created when a driver is approved and is never
// deleted, only transitioned.
type AvailabilityRecord struct {
	DriverID           string    `json:"driverId"`
	Availability       string    `json:"availability"`
	LastActivityAt     time.Time `json:"lastActivityAt"`
	AutoOfflineMinutes int       `json:"autoOfflineMinutes"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

const (
	ScheduleBreak       = "break"
	ScheduleUnavailable = "unavailable"
)

type AvailabilitySchedule struct {
	ID        string    `json:"id"`
	DriverID  string    `json:"driverId"`
	Type      string    `json:"type"`
	StartsAt  time.Time `json:"startsAt"`
	EndsAt    time.Time `json:"endsAt"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"createdAt"`
}

type AvailabilityHistory struct {
	ID             string    `json:"id"`
	DriverID       string    `json:"driverId"`
	PreviousStatus string    `json:"previousStatus"`
	NewStatus      string    `json:"newStatus"`
	Reason         string    `json:"reason"`
	TriggeredBy    string    `json:"triggeredBy"` // "driver" or "system"
	CreatedAt      time.Time `json:"timestamp"`
}

// DriverLocation is the single last-known position per driver. Moving
// data lives in redis only; no history is retained.
type DriverLocation struct {
	DriverID    string    `json:"driverId"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Heading     float64   `json:"heading"`
	Speed       float64   `json:"speed"`
	Accuracy    float64   `json:"accuracy"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Notification is the hand-off record for the external delivery
// providers (email/SMS/push). Delivery outcome is not observed here.
type Notification struct {
	RecipientID string            `json:"recipientId"`
	Channel     string            `json:"channel"`
	Subject     string            `json:"subject"`
	Body        string            `json:"body"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}
