package realtime

import "time"

// Event types shared by both transports. The payload shapes are the
// wire contract with clients; every event carries an RFC3339 timestamp
// and the scoping ids clients route on.
const (
	EventSeatAvailability = "seat-availability-changed"
	EventTripStatus       = "trip-status-updated"
	EventDriverLocation   = "driver-location-updated"
	EventBookingConfirmed = "booking-confirmed"
	EventBookingCancelled = "booking-cancelled"
	EventTripOfferCreated = "trip-offer-created"
	EventTripOfferExpired = "trip-offer-expired"
	EventNotification     = "notification"
)

type Event struct {
	Type      string      `json:"type"`
	TripID    string      `json:"tripId,omitempty"`
	DriverID  string      `json:"driverId,omitempty"`
	UserID    string      `json:"userId,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// NewEvent stamps the event with the current time.
func NewEvent(eventType string, payload interface{}) Event {
	return Event{Type: eventType, Timestamp: time.Now().UTC(), Payload: payload}
}

type SeatAvailabilityPayload struct {
	TripID         string `json:"tripId"`
	AvailableSeats int    `json:"availableSeats"`
	TotalSeats     int    `json:"totalSeats"`
	Status         string `json:"status"`
}

type TripStatusPayload struct {
	TripID   string `json:"tripId"`
	Previous string `json:"previousStatus"`
	Status   string `json:"status"`
}

type BookingPayload struct {
	BookingID      string `json:"bookingId"`
	TripID         string `json:"tripId"`
	UserID         string `json:"userId"`
	SeatsBooked    int    `json:"seatsBooked"`
	TotalAmount    int64  `json:"totalAmount"`
	Currency       string `json:"currency"`
	AvailableSeats int    `json:"availableSeats"`
}

type LocationPayload struct {
	DriverID    string    `json:"driverId"`
	TripID      string    `json:"tripId,omitempty"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Heading     float64   `json:"heading"`
	Speed       float64   `json:"speed"`
	Accuracy    float64   `json:"accuracy"`
	LastUpdated time.Time `json:"lastUpdated"`
	Replayed    bool      `json:"replayed,omitempty"`
}

type TripOfferPayload struct {
	TripID          string    `json:"tripId"`
	TripType        string    `json:"tripType"`
	OriginName      string    `json:"originName"`
	DestinationName string    `json:"destinationName"`
	OriginLat       float64   `json:"originLat"`
	OriginLng       float64   `json:"originLng"`
	DistanceKm      float64   `json:"distanceKm"`
	Earnings        int64     `json:"earnings"`
	Currency        string    `json:"currency"`
	ExpiresAt       time.Time `json:"expiresAt"`
}

type NotificationPayload struct {
	RecipientID string `json:"recipientId"`
	Subject     string `json:"subject"`
	Body        string `json:"body"`
}
