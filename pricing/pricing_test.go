package pricing

import (
	"math"
	"testing"
)

func TestOccupancyMultiplierEmptyTrip(t *testing.T) {
	if got := OccupancyMultiplier(0, 4); got != 1.0 {
		t.Fatalf("empty trip multiplier = %v, want 1.0", got)
	}
}

func TestOccupancyMultiplierStrictlyDecreasing(t *testing.T) {
	total := 6
	prev := OccupancyMultiplier(0, total)
	for occ := 1; occ <= total; occ++ {
		cur := OccupancyMultiplier(occ, total)
		if cur >= prev {
			t.Fatalf("multiplier not decreasing at occupied=%d: %v >= %v", occ, cur, prev)
		}
		prev = cur
	}
}

func TestOccupancyMultiplierFullTrip(t *testing.T) {
	if got, want := OccupancyMultiplier(4, 4), 0.25; got != want {
		t.Fatalf("full trip multiplier = %v, want %v", got, want)
	}
	// Over-occupancy clamps to the full-trip value.
	if got := OccupancyMultiplier(9, 4); got != 0.25 {
		t.Fatalf("over-occupied multiplier = %v, want 0.25", got)
	}
}

func TestOccupancyMultiplierHalfFull(t *testing.T) {
	// ratio 0.5 → 1/(1+0.5*1.5) = 1/1.75
	got := OccupancyMultiplier(2, 4)
	want := 1.0 / 1.75
	if math.Abs(got-want) > 1e-12 {
		t.Fatalf("half-full multiplier = %v, want %v", got, want)
	}
}

func TestQuoteBreakdown(t *testing.T) {
	b := Quote(Params{
		DistanceKm:     100,
		DurationHours:  2,
		BaseRatePerKm:  10,
		FixedFees:      100,
		PlatformMargin: 0.15,
		TotalSeats:     4,
		OccupiedSeats:  0,
	})

	if b.DistanceCost != 1000 {
		t.Errorf("distanceCost = %v, want 1000", b.DistanceCost)
	}
	// 2h × (10 × 30) = 600
	if b.TimeCost != 600 {
		t.Errorf("timeCost = %v, want 600", b.TimeCost)
	}
	if b.Subtotal != 1700 {
		t.Errorf("subtotal = %v, want 1700", b.Subtotal)
	}
	if b.PlatformFeeAmount != 255 {
		t.Errorf("platformFeeAmount = %d, want 255", b.PlatformFeeAmount)
	}
	if b.TotalBeforeOccupancy != 1955 {
		t.Errorf("totalBeforeOccupancy = %v, want 1955", b.TotalBeforeOccupancy)
	}
	if b.Multiplier != 1.0 {
		t.Errorf("multiplier = %v, want 1.0", b.Multiplier)
	}
	if b.SinglePassengerPrice != 1955 {
		t.Errorf("singlePassengerPrice = %d, want 1955", b.SinglePassengerPrice)
	}
	if b.PricePerPerson != 1955 {
		t.Errorf("pricePerPerson = %d, want 1955", b.PricePerPerson)
	}
	if b.MinimumPriceApplied {
		t.Error("minimum price flagged with no floor configured")
	}
}

func TestQuotePricePerPersonDropsAsSeatsFill(t *testing.T) {
	base := Params{
		DistanceKm:     100,
		DurationHours:  2,
		BaseRatePerKm:  10,
		PlatformMargin: 0.15,
		TotalSeats:     4,
	}

	prev := Quote(base).PricePerPerson
	for occ := 1; occ <= 4; occ++ {
		p := base
		p.OccupiedSeats = occ
		got := Quote(p).PricePerPerson
		if got > prev {
			t.Fatalf("pricePerPerson rose at occupied=%d: %d > %d", occ, got, prev)
		}
		prev = got
	}
}

func TestQuoteMinimumPriceFloor(t *testing.T) {
	floor := int64(1000)
	b := Quote(Params{
		DistanceKm:     10,
		DurationHours:  1,
		BaseRatePerKm:  5,
		PlatformMargin: 0.15,
		TotalSeats:     4,
		OccupiedSeats:  4,
		MinimumPrice:   &floor,
	})

	if b.PricePerPerson != floor {
		t.Fatalf("pricePerPerson = %d, want floor %d", b.PricePerPerson, floor)
	}
	if !b.MinimumPriceApplied {
		t.Fatal("minimum price floor not flagged")
	}
}

func TestQuoteSavingsNeverNegative(t *testing.T) {
	floor := int64(100000)
	b := Quote(Params{
		DistanceKm:     10,
		DurationHours:  1,
		BaseRatePerKm:  5,
		PlatformMargin: 0.15,
		TotalSeats:     4,
		OccupiedSeats:  2,
		MinimumPrice:   &floor,
	})
	if b.Savings != 0 {
		t.Fatalf("savings = %d, want 0 when floor exceeds the solo price", b.Savings)
	}
}

func TestSplitFareExact(t *testing.T) {
	fee, earnings := SplitFare(10000, 0.15)
	if fee != 1500 || earnings != 8500 {
		t.Fatalf("split = (%d, %d), want (1500, 8500)", fee, earnings)
	}
}

func TestSplitFareAlwaysSumsBack(t *testing.T) {
	rates := []float64{0, 0.1, 0.15, 0.17, 0.333, 0.5}
	fares := []int64{1, 99, 101, 12345, 99999}
	for _, rate := range rates {
		for _, fare := range fares {
			fee, earnings := SplitFare(fare, rate)
			if fee+earnings != fare {
				t.Fatalf("split of %d at %v leaks: %d + %d != %d", fare, rate, fee, earnings, fare)
			}
			if fee < 0 || earnings < 0 {
				t.Fatalf("negative split of %d at %v: (%d, %d)", fare, rate, fee, earnings)
			}
		}
	}
}
