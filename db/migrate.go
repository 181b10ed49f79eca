package db

import (
	"context"
	"log"
)

// Migrate creates all tables if they don't exist, adds columns, indexes, and seeds default data.
// Safe to run multiple times — all operations are idempotent (IF NOT EXISTS / ON CONFLICT).
func Migrate() {
	sql := `
	CREATE EXTENSION IF NOT EXISTS pgcrypto;

	-- ═══════════════════════════════════════════
	-- DRIVERS TABLE
	-- ═══════════════════════════════════════════
	CREATE TABLE IF NOT EXISTS drivers (
		id TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
		name TEXT NOT NULL,
		phone_number TEXT UNIQUE NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		"createdAt" TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		"updatedAt" TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	-- ═══════════════════════════════════════════
	-- TRIPS TABLE — the bookable unit
	-- ═══════════════════════════════════════════
	CREATE TABLE IF NOT EXISTS trips (
		id TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
		"organizerId" TEXT NOT NULL,
		"driverId" TEXT REFERENCES drivers(id),
		"tripType" TEXT NOT NULL DEFAULT 'shared',
		"originName" TEXT NOT NULL,
		"destinationName" TEXT NOT NULL,
		"originLat" DOUBLE PRECISION NOT NULL DEFAULT 0,
		"originLng" DOUBLE PRECISION NOT NULL DEFAULT 0,
		"destinationLat" DOUBLE PRECISION NOT NULL DEFAULT 0,
		"destinationLng" DOUBLE PRECISION NOT NULL DEFAULT 0,
		"distanceKm" DOUBLE PRECISION NOT NULL DEFAULT 0,
		"durationHours" DOUBLE PRECISION NOT NULL DEFAULT 0,
		"baseRatePerKm" DOUBLE PRECISION NOT NULL DEFAULT 0,
		"fixedFees" BIGINT NOT NULL DEFAULT 0,
		"minimumPrice" BIGINT,
		"totalSeats" INTEGER NOT NULL,
		"availableSeats" INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'DRAFT',
		version BIGINT NOT NULL DEFAULT 1,
		"basePrice" BIGINT NOT NULL DEFAULT 0,
		"pricePerSeat" BIGINT,
		"platformFee" BIGINT NOT NULL DEFAULT 0,
		currency TEXT NOT NULL DEFAULT 'INR',
		"departureAt" TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		"createdAt" TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		"updatedAt" TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CHECK ("availableSeats" >= 0 AND "availableSeats" <= "totalSeats")
	);
	ALTER TABLE trips ADD COLUMN IF NOT EXISTS "originLat" DOUBLE PRECISION NOT NULL DEFAULT 0;
	ALTER TABLE trips ADD COLUMN IF NOT EXISTS "originLng" DOUBLE PRECISION NOT NULL DEFAULT 0;
	ALTER TABLE trips ADD COLUMN IF NOT EXISTS "destinationLat" DOUBLE PRECISION NOT NULL DEFAULT 0;
	ALTER TABLE trips ADD COLUMN IF NOT EXISTS "destinationLng" DOUBLE PRECISION NOT NULL DEFAULT 0;

	-- ═══════════════════════════════════════════
	-- BOOKINGS TABLE — the ledger
	-- ═══════════════════════════════════════════
	CREATE TABLE IF NOT EXISTS bookings (
		id TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
		"tripId" TEXT NOT NULL REFERENCES trips(id),
		"userId" TEXT NOT NULL,
		"seatsBooked" INTEGER NOT NULL CHECK ("seatsBooked" >= 1),
		status TEXT NOT NULL DEFAULT 'CONFIRMED',
		"totalAmount" BIGINT NOT NULL DEFAULT 0,
		currency TEXT NOT NULL DEFAULT 'INR',
		"cancelledAt" TIMESTAMPTZ,
		"createdAt" TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		"updatedAt" TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	-- ═══════════════════════════════════════════
	-- DRIVER AVAILABILITY — one row per driver, never deleted
	-- ═══════════════════════════════════════════
	CREATE TABLE IF NOT EXISTS driver_availability (
		"driverId" TEXT PRIMARY KEY REFERENCES drivers(id),
		availability TEXT NOT NULL DEFAULT 'OFFLINE',
		"lastActivityAt" TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		"autoOfflineMinutes" INTEGER,
		"updatedAt" TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS availability_schedules (
		id TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
		"driverId" TEXT NOT NULL REFERENCES drivers(id),
		type TEXT NOT NULL,
		"startsAt" TIMESTAMPTZ NOT NULL,
		"endsAt" TIMESTAMPTZ NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		applied BOOLEAN NOT NULL DEFAULT FALSE,
		"createdAt" TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		CHECK ("endsAt" > "startsAt")
	);

	CREATE TABLE IF NOT EXISTS availability_history (
		id TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
		"driverId" TEXT NOT NULL REFERENCES drivers(id),
		"previousStatus" TEXT NOT NULL,
		"newStatus" TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		"triggeredBy" TEXT NOT NULL DEFAULT 'driver',
		"createdAt" TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	-- ═══════════════════════════════════════════
	-- PLATFORM CONFIG — admin-tunable key/value pairs
	-- ═══════════════════════════════════════════
	CREATE TABLE IF NOT EXISTS platform_config (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		"updatedAt" TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	INSERT INTO platform_config (key, value) VALUES ('platform_fee_rate', '0.15')
	ON CONFLICT (key) DO NOTHING;

	-- ═══════════════════════════════════════════
	-- INDEXES — optimized for all API queries
	-- ═══════════════════════════════════════════
	CREATE INDEX IF NOT EXISTS idx_trips_status ON trips(status);
	CREATE INDEX IF NOT EXISTS idx_trips_driverid ON trips("driverId");
	CREATE INDEX IF NOT EXISTS idx_trips_organizer ON trips("organizerId");
	CREATE INDEX IF NOT EXISTS idx_trips_departure ON trips("departureAt");
	CREATE INDEX IF NOT EXISTS idx_bookings_tripid ON bookings("tripId");
	CREATE INDEX IF NOT EXISTS idx_bookings_userid ON bookings("userId");
	CREATE INDEX IF NOT EXISTS idx_bookings_trip_status ON bookings("tripId", status);
	CREATE INDEX IF NOT EXISTS idx_schedules_driver ON availability_schedules("driverId", "startsAt", "endsAt");
	CREATE INDEX IF NOT EXISTS idx_history_driver ON availability_history("driverId", "createdAt");
	`

	_, err := Pool.Exec(context.Background(), sql)
	if err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Println("Database migration completed successfully")
}
