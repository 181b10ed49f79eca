// Package pricing computes occupancy-sensitive trip prices. Everything
// here is pure computation on its inputs; the platform fee rate and trip
// parameters are supplied by the caller.
//
// Prices are whole currency units (INR-class currencies with no minor
// subdivision in practice), so every derived amount is rounded exactly
// once and carried as int64 from then on.
package pricing

import "math"

// hourlyRateFactor derives the per-hour time cost from the per-km rate.
// Business-tuned constant; downstream fare expectations depend on it.
const hourlyRateFactor = 30.0

// occupancyCurve steepens how fast the per-seat price drops as the trip
// fills. Business-tuned constant, do not change.
const occupancyCurve = 1.5

// OccupancyMultiplier returns the factor applied to the full trip cost
// as seats fill. It is strictly decreasing in occupied/total: the more
// people join, the cheaper each seat gets.
func OccupancyMultiplier(occupied, total int) float64 {
	if occupied <= 0 {
		return 1.0
	}
	if total <= 0 {
		return 1.0
	}
	if occupied >= total {
		return 1.0 / float64(total)
	}
	ratio := float64(occupied) / float64(total)
	return 1.0 / (1.0 + ratio*occupancyCurve)
}

type Params struct {
	DistanceKm     float64
	DurationHours  float64
	BaseRatePerKm  float64
	FixedFees      int64
	PlatformMargin float64 // 0.0–0.50
	TotalSeats     int
	OccupiedSeats  int
	MinimumPrice   *int64 // per-person floor, nil when not configured
}

type Breakdown struct {
	DistanceCost         float64 `json:"distanceCost"`
	TimeCost             float64 `json:"timeCost"`
	Subtotal             float64 `json:"subtotal"`
	PlatformFee          float64 `json:"platformFee"`
	PlatformFeeAmount    int64   `json:"platformFeeAmount"`
	TotalBeforeOccupancy float64 `json:"totalBeforeOccupancy"`
	Multiplier           float64 `json:"occupancyMultiplier"`
	TotalAfterOccupancy  float64 `json:"totalAfterOccupancy"`
	PricePerPerson       int64   `json:"pricePerPerson"`
	SinglePassengerPrice int64   `json:"singlePassengerPrice"`
	Savings              int64   `json:"savings"`
	MinimumPriceApplied  bool    `json:"minimumPriceApplied"`
}

// Quote computes the full price breakdown for a trip at its current
// occupancy.
func Quote(p Params) Breakdown {
	distanceCost := p.DistanceKm * p.BaseRatePerKm
	timeCost := p.DurationHours * (p.BaseRatePerKm * hourlyRateFactor)
	subtotal := distanceCost + timeCost + float64(p.FixedFees)

	platformFee := subtotal * p.PlatformMargin
	totalBefore := subtotal + platformFee

	mult := OccupancyMultiplier(p.OccupiedSeats, p.TotalSeats)
	totalAfter := totalBefore * mult

	payers := p.OccupiedSeats
	if payers < 1 {
		payers = 1
	}
	perPerson := round(totalAfter / float64(payers))

	minApplied := false
	if p.MinimumPrice != nil && perPerson < *p.MinimumPrice {
		perPerson = *p.MinimumPrice
		minApplied = true
	}

	single := round(totalBefore)
	savings := single - perPerson
	if savings < 0 {
		savings = 0
	}

	return Breakdown{
		DistanceCost:         distanceCost,
		TimeCost:             timeCost,
		Subtotal:             subtotal,
		PlatformFee:          platformFee,
		PlatformFeeAmount:    round(platformFee),
		TotalBeforeOccupancy: totalBefore,
		Multiplier:           mult,
		TotalAfterOccupancy:  totalAfter,
		PricePerPerson:       perPerson,
		SinglePassengerPrice: single,
		Savings:              savings,
		MinimumPriceApplied:  minApplied,
	}
}

// SplitFare divides a collected fare between the platform and the
// driver. The two parts always sum back to the fare exactly: the fee is
// rounded once and the driver gets the remainder.
func SplitFare(totalFare int64, rate float64) (platformFee, driverEarnings int64) {
	platformFee = round(float64(totalFare) * rate)
	driverEarnings = totalFare - platformFee
	return
}

func round(v float64) int64 {
	return int64(math.Round(v))
}
