package realtime

import (
	"time"

	"tripwave/models"
	"tripwave/utils"
)

// DriverFilter is a driver's matching criteria for trip offers. It is
// captured at subscribe time and re-evaluated against every candidate
// offer at publish time.
type DriverFilter struct {
	MaxDistanceKm float64  `json:"maxDistanceKm"`
	MinEarnings   int64    `json:"minEarnings"`
	TripTypes     []string `json:"tripTypes"`
}

// Matches reports whether an offer passes the filter. Zero-valued
// criteria are treated as "no constraint". The distance check needs the
// driver's current position; a driver with no known position passes it.
func (f DriverFilter) Matches(offer TripOfferPayload, loc *models.DriverLocation) bool {
	if f.MinEarnings > 0 && offer.Earnings < f.MinEarnings {
		return false
	}

	if len(f.TripTypes) > 0 {
		found := false
		for _, t := range f.TripTypes {
			if t == offer.TripType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if f.MaxDistanceKm > 0 && loc != nil {
		dist := utils.CalculateDistance(loc.Latitude, loc.Longitude, offer.OriginLat, offer.OriginLng)
		if dist > f.MaxDistanceKm {
			return false
		}
	}

	return true
}

// ShouldReplay reports whether a last-known location is fresh enough to
// replay to a late subscriber. The boundary is inclusive: a location
// aged exactly maxAge is still replayed.
func ShouldReplay(loc *models.DriverLocation, now time.Time, maxAge time.Duration) bool {
	if loc == nil {
		return false
	}
	return now.Sub(loc.LastUpdated) <= maxAge
}
