package availability

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tripwave/models"
)

type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) AccountStatus(ctx context.Context, driverID string) (string, error) {
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT status FROM drivers WHERE id=$1`, driverID).Scan(&status)
	if err == pgx.ErrNoRows {
		return "", ErrDriverNotFound
	}
	return status, err
}

func scanRecord(row pgx.Row) (*models.AvailabilityRecord, error) {
	var rec models.AvailabilityRecord
	var autoOffline *int
	err := row.Scan(&rec.DriverID, &rec.Availability, &rec.LastActivityAt, &autoOffline, &rec.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrDriverNotFound
	}
	if err != nil {
		return nil, err
	}
	if autoOffline != nil {
		rec.AutoOfflineMinutes = *autoOffline
	}
	return &rec, nil
}

const recordCols = `"driverId", availability, "lastActivityAt", "autoOfflineMinutes", "updatedAt"`

func (s *PGStore) GetRecord(ctx context.Context, driverID string) (*models.AvailabilityRecord, error) {
	return scanRecord(s.pool.QueryRow(ctx,
		`SELECT `+recordCols+` FROM driver_availability WHERE "driverId"=$1`, driverID))
}

func (s *PGStore) EnsureRecord(ctx context.Context, driverID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO driver_availability ("driverId") VALUES ($1)
		 ON CONFLICT ("driverId") DO NOTHING`, driverID)
	return err
}

func (s *PGStore) SetAvailability(ctx context.Context, driverID, status string, touchActivity bool) (*models.AvailabilityRecord, error) {
	activity := ""
	if touchActivity {
		activity = `, "lastActivityAt"=NOW()`
	}
	return scanRecord(s.pool.QueryRow(ctx,
		`UPDATE driver_availability SET availability=$1, "updatedAt"=NOW()`+activity+`
		 WHERE "driverId"=$2 RETURNING `+recordCols,
		status, driverID))
}

func (s *PGStore) TouchActivity(ctx context.Context, driverID string) (*models.AvailabilityRecord, error) {
	return scanRecord(s.pool.QueryRow(ctx,
		`UPDATE driver_availability SET "lastActivityAt"=NOW(), "updatedAt"=NOW()
		 WHERE "driverId"=$1 RETURNING `+recordCols, driverID))
}

func (s *PGStore) InsertHistory(ctx context.Context, h models.AvailabilityHistory) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO availability_history (id, "driverId", "previousStatus", "newStatus", reason, "triggeredBy", "createdAt")
		 VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
		h.ID, h.DriverID, h.PreviousStatus, h.NewStatus, h.Reason, h.TriggeredBy)
	return err
}

// ActiveSchedules returns schedules that have not yet ended.
func (s *PGStore) ActiveSchedules(ctx context.Context, driverID string, now time.Time) ([]models.AvailabilitySchedule, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, "driverId", type, "startsAt", "endsAt", reason, "createdAt"
		 FROM availability_schedules
		 WHERE "driverId"=$1 AND "endsAt" > $2
		 ORDER BY "startsAt" ASC`, driverID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []models.AvailabilitySchedule
	for rows.Next() {
		var sched models.AvailabilitySchedule
		if err := rows.Scan(&sched.ID, &sched.DriverID, &sched.Type, &sched.StartsAt,
			&sched.EndsAt, &sched.Reason, &sched.CreatedAt); err != nil {
			return nil, err
		}
		schedules = append(schedules, sched)
	}
	return schedules, rows.Err()
}

// InsertSchedule locks the driver's availability row for the duration of
// the overlap check and insert, so concurrent inserts for the same
// driver serialize and cannot both slip past the check.
func (s *PGStore) InsertSchedule(ctx context.Context, sched *models.AvailabilitySchedule, applied bool) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`SELECT 1 FROM driver_availability WHERE "driverId"=$1 FOR UPDATE`, sched.DriverID); err != nil {
		return err
	}

	var conflict bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM availability_schedules
			WHERE "driverId"=$1 AND "endsAt" > NOW()
			  AND "startsAt" < $3 AND "endsAt" > $2
		)`, sched.DriverID, sched.StartsAt, sched.EndsAt).Scan(&conflict)
	if err != nil {
		return err
	}
	if conflict {
		return ErrScheduleConflict
	}

	if err := tx.QueryRow(ctx,
		`INSERT INTO availability_schedules (id, "driverId", type, "startsAt", "endsAt", reason, applied, "createdAt")
		 VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		 RETURNING "createdAt"`,
		sched.ID, sched.DriverID, sched.Type, sched.StartsAt, sched.EndsAt, sched.Reason, applied).
		Scan(&sched.CreatedAt); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// DueSchedules atomically claims unapplied schedules whose window has
// begun, so the forced state is applied exactly once across restarts.
func (s *PGStore) DueSchedules(ctx context.Context, now time.Time) ([]models.AvailabilitySchedule, error) {
	rows, err := s.pool.Query(ctx,
		`UPDATE availability_schedules SET applied=TRUE
		 WHERE applied=FALSE AND "startsAt" <= $1 AND "endsAt" > $1
		 RETURNING id, "driverId", type, "startsAt", "endsAt", reason, "createdAt"`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []models.AvailabilitySchedule
	for rows.Next() {
		var sched models.AvailabilitySchedule
		if err := rows.Scan(&sched.ID, &sched.DriverID, &sched.Type, &sched.StartsAt,
			&sched.EndsAt, &sched.Reason, &sched.CreatedAt); err != nil {
			return nil, err
		}
		schedules = append(schedules, sched)
	}
	return schedules, rows.Err()
}
