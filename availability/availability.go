// Package availability drives the per-driver AVAILABLE/BUSY/OFFLINE
// state machine: explicit driver actions, heartbeat liveness, scheduled
// breaks, and inactivity-based auto-offline.
package availability

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tripwave/models"
	"tripwave/realtime"
)

var (
	// ErrForbidden — the driver's account status does not permit
	// availability changes.
	ErrForbidden = errors.New("driver account is not approved")
	// ErrScheduleConflict — the new window intersects an existing active
	// schedule for the same driver.
	ErrScheduleConflict = errors.New("schedule overlaps an existing availability window")
	ErrDriverNotFound   = errors.New("driver not found")
	ErrInvalidStatus    = errors.New("invalid availability status")
)

// Store is the persistence surface for availability records, schedules,
// and the append-only transition history.
type Store interface {
	AccountStatus(ctx context.Context, driverID string) (string, error)
	GetRecord(ctx context.Context, driverID string) (*models.AvailabilityRecord, error)
	EnsureRecord(ctx context.Context, driverID string) error
	// SetAvailability persists the state; touchActivity additionally
	// refreshes lastActivityAt.
	SetAvailability(ctx context.Context, driverID, status string, touchActivity bool) (*models.AvailabilityRecord, error)
	TouchActivity(ctx context.Context, driverID string) (*models.AvailabilityRecord, error)
	InsertHistory(ctx context.Context, h models.AvailabilityHistory) error
	ActiveSchedules(ctx context.Context, driverID string, now time.Time) ([]models.AvailabilitySchedule, error)
	// InsertSchedule persists the window, rejecting it with
	// ErrScheduleConflict when it overlaps an active schedule for the
	// same driver. Check and insert are serialized per driver so two
	// concurrent inserts cannot both pass. applied marks overrides whose
	// forced state the caller applies right away, so the worker skips them.
	InsertSchedule(ctx context.Context, s *models.AvailabilitySchedule, applied bool) error
	// DueSchedules returns schedules whose window has begun but whose
	// forced state was not applied yet, marking them applied.
	DueSchedules(ctx context.Context, now time.Time) ([]models.AvailabilitySchedule, error)
}

// Service is the availability state machine. Per-driver state needs no
// cross-driver coordination; each operation works on one record.
type Service struct {
	store              Store
	emitter            *realtime.Emitter
	logger             *zap.Logger
	defaultAutoOffline time.Duration
}

func NewService(store Store, emitter *realtime.Emitter, logger *zap.Logger, defaultAutoOfflineMinutes int) *Service {
	return &Service{
		store:              store,
		emitter:            emitter,
		logger:             logger,
		defaultAutoOffline: time.Duration(defaultAutoOfflineMinutes) * time.Minute,
	}
}

// SetEmitter breaks the construction cycle with the push transport,
// which needs the service as its heartbeat sink before the emitter
// exists. Transitions recorded with no emitter set are not announced.
func (s *Service) SetEmitter(e *realtime.Emitter) { s.emitter = e }

func validStatus(status string) bool {
	return status == models.DriverAvailable || status == models.DriverBusy || status == models.DriverOffline
}

// EffectiveStatus resolves the state a reader should act on: a driver
// whose last liveness signal is older than their auto-offline threshold
// counts as OFFLINE even before any write lands.
func EffectiveStatus(rec *models.AvailabilityRecord, now time.Time, defaultThreshold time.Duration) string {
	if rec == nil {
		return models.DriverOffline
	}
	if rec.Availability == models.DriverOffline {
		return models.DriverOffline
	}
	threshold := defaultThreshold
	if rec.AutoOfflineMinutes > 0 {
		threshold = time.Duration(rec.AutoOfflineMinutes) * time.Minute
	}
	if now.Sub(rec.LastActivityAt) > threshold {
		return models.DriverOffline
	}
	return rec.Availability
}

// Overlaps reports whether two half-open windows intersect: start
// within, end within, or fully containing all reduce to this test.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// SetAvailability is the explicit driver-initiated transition. Only
// approved accounts may change state.
func (s *Service) SetAvailability(ctx context.Context, driverID, status, reason string) (*models.AvailabilityRecord, error) {
	if !validStatus(status) {
		return nil, ErrInvalidStatus
	}

	account, err := s.store.AccountStatus(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if account != models.DriverApproved {
		return nil, ErrForbidden
	}

	if err := s.store.EnsureRecord(ctx, driverID); err != nil {
		return nil, err
	}
	prev, err := s.store.GetRecord(ctx, driverID)
	if err != nil {
		return nil, err
	}

	rec, err := s.store.SetAvailability(ctx, driverID, status, true)
	if err != nil {
		return nil, err
	}

	if prev.Availability != status {
		s.recordTransition(ctx, driverID, prev.Availability, status, reason, "driver")
	}
	return rec, nil
}

// Heartbeat refreshes the liveness clock while AVAILABLE or BUSY. A
// heartbeat while OFFLINE is accepted but changes nothing: leaving
// OFFLINE takes an explicit re-activation. A heartbeat that arrives
// after the inactivity threshold persists the auto-offline transition
// instead of reviving the driver.
func (s *Service) Heartbeat(ctx context.Context, driverID string) (string, error) {
	rec, err := s.store.GetRecord(ctx, driverID)
	if err != nil {
		return "", err
	}
	if rec.Availability == models.DriverOffline {
		return models.DriverOffline, nil
	}

	if EffectiveStatus(rec, time.Now(), s.defaultAutoOffline) == models.DriverOffline {
		if _, err := s.store.SetAvailability(ctx, driverID, models.DriverOffline, false); err != nil {
			return "", err
		}
		s.recordTransition(ctx, driverID, rec.Availability, models.DriverOffline,
			"auto-offline after inactivity", "system")
		return models.DriverOffline, nil
	}

	if _, err := s.store.TouchActivity(ctx, driverID); err != nil {
		return "", err
	}
	return rec.Availability, nil
}

// Schedules lists the driver's current and upcoming overrides.
func (s *Service) Schedules(ctx context.Context, driverID string) ([]models.AvailabilitySchedule, error) {
	return s.store.ActiveSchedules(ctx, driverID, time.Now())
}

// Get returns the stored record together with its effective status. The
// lazy auto-offline is observed here but persisted only on the next
// write-path interaction.
func (s *Service) Get(ctx context.Context, driverID string) (*models.AvailabilityRecord, string, error) {
	rec, err := s.store.GetRecord(ctx, driverID)
	if err != nil {
		return nil, "", err
	}
	return rec, EffectiveStatus(rec, time.Now(), s.defaultAutoOffline), nil
}

// CreateSchedule registers a time-boxed override. Overlap with any
// existing active schedule for the driver is rejected. If the window has
// already begun the forced state applies immediately; otherwise the
// schedule worker applies it when the window starts.
func (s *Service) CreateSchedule(ctx context.Context, driverID, scheduleType string, startsAt, endsAt time.Time, reason string) (*models.AvailabilitySchedule, error) {
	if scheduleType != models.ScheduleBreak && scheduleType != models.ScheduleUnavailable {
		return nil, ErrInvalidStatus
	}
	if !endsAt.After(startsAt) {
		return nil, ErrInvalidStatus
	}

	account, err := s.store.AccountStatus(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if account != models.DriverApproved {
		return nil, ErrForbidden
	}

	if err := s.store.EnsureRecord(ctx, driverID); err != nil {
		return nil, err
	}
	existing, err := s.store.ActiveSchedules(ctx, driverID, time.Now())
	if err != nil {
		return nil, err
	}
	// Fast-path answer for the common case; the store re-checks under
	// its per-driver lock.
	for _, other := range existing {
		if Overlaps(startsAt, endsAt, other.StartsAt, other.EndsAt) {
			return nil, ErrScheduleConflict
		}
	}

	sched := models.AvailabilitySchedule{
		ID:       uuid.NewString(),
		DriverID: driverID,
		Type:     scheduleType,
		StartsAt: startsAt,
		EndsAt:   endsAt,
		Reason:   reason,
	}
	startedAlready := !startsAt.After(time.Now())
	if err := s.store.InsertSchedule(ctx, &sched, startedAlready); err != nil {
		return nil, err
	}
	if startedAlready {
		s.applySchedule(ctx, sched)
	}
	return &sched, nil
}

// StartScheduleWorker applies forced states for schedules whose window
// begins while the process runs. Exiting a window never auto-reverts;
// the override fires once at its start.
func (s *Service) StartScheduleWorker(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Schedule worker shutting down...")
				return
			case <-ticker.C:
				due, err := s.store.DueSchedules(ctx, time.Now())
				if err != nil {
					s.logger.Error("Failed to fetch due schedules", zap.Error(err))
					continue
				}
				for _, sched := range due {
					s.applySchedule(ctx, sched)
				}
			}
		}
	}()
}

func forcedStatus(scheduleType string) string {
	if scheduleType == models.ScheduleBreak {
		return models.DriverBusy
	}
	return models.DriverOffline
}

func (s *Service) applySchedule(ctx context.Context, sched models.AvailabilitySchedule) {
	forced := forcedStatus(sched.Type)

	prev, err := s.store.GetRecord(ctx, sched.DriverID)
	if err != nil {
		s.logger.Error("Failed to load availability for schedule",
			zap.String("driverId", sched.DriverID), zap.Error(err))
		return
	}
	if prev.Availability == forced {
		return
	}

	if _, err := s.store.SetAvailability(ctx, sched.DriverID, forced, false); err != nil {
		s.logger.Error("Failed to apply scheduled availability",
			zap.String("driverId", sched.DriverID), zap.Error(err))
		return
	}
	s.recordTransition(ctx, sched.DriverID, prev.Availability, forced,
		"scheduled "+sched.Type, "system")
}

// recordTransition appends to the audit history and notifies observers.
// Neither failure blocks the transition that already happened.
func (s *Service) recordTransition(ctx context.Context, driverID, previous, next, reason, triggeredBy string) {
	h := models.AvailabilityHistory{
		ID:             uuid.NewString(),
		DriverID:       driverID,
		PreviousStatus: previous,
		NewStatus:      next,
		Reason:         reason,
		TriggeredBy:    triggeredBy,
	}
	if err := s.store.InsertHistory(ctx, h); err != nil {
		s.logger.Error("Failed to record availability transition",
			zap.String("driverId", driverID), zap.Error(err))
	}

	ev := realtime.NewEvent(realtime.EventNotification, realtime.NotificationPayload{
		RecipientID: driverID,
		Subject:     "Availability changed",
		Body:        "Driver availability is now " + next,
	})
	ev.DriverID = driverID
	if s.emitter != nil {
		s.emitter.Emit(ev)
	}
}
