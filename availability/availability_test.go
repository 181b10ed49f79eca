package availability

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"tripwave/models"
)

// memAvailStore keeps one record per driver in maps, guarded by a mutex
// so concurrent service calls serialize the way the SQL store does.
type memAvailStore struct {
	mu        sync.Mutex
	accounts  map[string]string
	records   map[string]*models.AvailabilityRecord
	schedules []models.AvailabilitySchedule
	applied   map[string]bool
	history   []models.AvailabilityHistory
}

func newMemAvailStore() *memAvailStore {
	return &memAvailStore{
		accounts: map[string]string{},
		records:  map[string]*models.AvailabilityRecord{},
		applied:  map[string]bool{},
	}
}

func (s *memAvailStore) AccountStatus(ctx context.Context, driverID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.accounts[driverID]
	if !ok {
		return "", ErrDriverNotFound
	}
	return status, nil
}

func (s *memAvailStore) GetRecord(ctx context.Context, driverID string) (*models.AvailabilityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[driverID]
	if !ok {
		return nil, ErrDriverNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *memAvailStore) EnsureRecord(ctx context.Context, driverID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[driverID]; !ok {
		s.records[driverID] = &models.AvailabilityRecord{
			DriverID:       driverID,
			Availability:   models.DriverOffline,
			LastActivityAt: time.Now(),
		}
	}
	return nil
}

func (s *memAvailStore) SetAvailability(ctx context.Context, driverID, status string, touchActivity bool) (*models.AvailabilityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[driverID]
	if !ok {
		return nil, ErrDriverNotFound
	}
	rec.Availability = status
	if touchActivity {
		rec.LastActivityAt = time.Now()
	}
	cp := *rec
	return &cp, nil
}

func (s *memAvailStore) TouchActivity(ctx context.Context, driverID string) (*models.AvailabilityRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[driverID]
	if !ok {
		return nil, ErrDriverNotFound
	}
	rec.LastActivityAt = time.Now()
	cp := *rec
	return &cp, nil
}

func (s *memAvailStore) InsertHistory(ctx context.Context, h models.AvailabilityHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, h)
	return nil
}

func (s *memAvailStore) ActiveSchedules(ctx context.Context, driverID string, now time.Time) ([]models.AvailabilitySchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AvailabilitySchedule
	for _, sched := range s.schedules {
		if sched.DriverID == driverID && sched.EndsAt.After(now) {
			out = append(out, sched)
		}
	}
	return out, nil
}

func (s *memAvailStore) InsertSchedule(ctx context.Context, sched *models.AvailabilitySchedule, applied bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, other := range s.schedules {
		if other.DriverID == sched.DriverID && other.EndsAt.After(now) &&
			Overlaps(sched.StartsAt, sched.EndsAt, other.StartsAt, other.EndsAt) {
			return ErrScheduleConflict
		}
	}
	s.schedules = append(s.schedules, *sched)
	s.applied[sched.ID] = applied
	return nil
}

func (s *memAvailStore) DueSchedules(ctx context.Context, now time.Time) ([]models.AvailabilitySchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []models.AvailabilitySchedule
	for _, sched := range s.schedules {
		if !s.applied[sched.ID] && !sched.StartsAt.After(now) && sched.EndsAt.After(now) {
			s.applied[sched.ID] = true
			due = append(due, sched)
		}
	}
	return due, nil
}

func approvedDriver(s *memAvailStore, driverID, status string, lastActivity time.Time) {
	s.accounts[driverID] = models.DriverApproved
	s.records[driverID] = &models.AvailabilityRecord{
		DriverID:       driverID,
		Availability:   status,
		LastActivityAt: lastActivity,
	}
}

func newTestService(store Store) *Service {
	return NewService(store, nil, zap.NewNop(), 30)
}

func TestSetAvailabilityTransitions(t *testing.T) {
	store := newMemAvailStore()
	approvedDriver(store, "d1", models.DriverOffline, time.Now())
	svc := newTestService(store)

	rec, err := svc.SetAvailability(context.Background(), "d1", models.DriverAvailable, "shift start")
	if err != nil {
		t.Fatalf("SetAvailability: %v", err)
	}
	if rec.Availability != models.DriverAvailable {
		t.Fatalf("availability = %s, want AVAILABLE", rec.Availability)
	}
	if len(store.history) != 1 {
		t.Fatalf("%d history entries, want 1", len(store.history))
	}
	h := store.history[0]
	if h.PreviousStatus != models.DriverOffline || h.NewStatus != models.DriverAvailable || h.TriggeredBy != "driver" {
		t.Errorf("history = %+v", h)
	}
}

func TestSetAvailabilitySameStateNoHistory(t *testing.T) {
	store := newMemAvailStore()
	approvedDriver(store, "d1", models.DriverAvailable, time.Now())
	svc := newTestService(store)

	if _, err := svc.SetAvailability(context.Background(), "d1", models.DriverAvailable, ""); err != nil {
		t.Fatalf("SetAvailability: %v", err)
	}
	if len(store.history) != 0 {
		t.Fatalf("self-transition recorded %d history entries", len(store.history))
	}
}

func TestSetAvailabilityRequiresApproval(t *testing.T) {
	store := newMemAvailStore()
	store.accounts["d1"] = models.DriverPending
	svc := newTestService(store)

	if _, err := svc.SetAvailability(context.Background(), "d1", models.DriverAvailable, ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
}

func TestSetAvailabilityRejectsUnknownStatus(t *testing.T) {
	store := newMemAvailStore()
	approvedDriver(store, "d1", models.DriverOffline, time.Now())
	svc := newTestService(store)

	if _, err := svc.SetAvailability(context.Background(), "d1", "NAPPING", ""); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("err = %v, want ErrInvalidStatus", err)
	}
}

func TestEffectiveStatusLazyAutoOffline(t *testing.T) {
	now := time.Now()
	rec := &models.AvailabilityRecord{
		Availability:   models.DriverAvailable,
		LastActivityAt: now.Add(-45 * time.Minute),
	}

	if got := EffectiveStatus(rec, now, 30*time.Minute); got != models.DriverOffline {
		t.Fatalf("stale driver effective = %s, want OFFLINE", got)
	}

	rec.LastActivityAt = now.Add(-10 * time.Minute)
	if got := EffectiveStatus(rec, now, 30*time.Minute); got != models.DriverAvailable {
		t.Fatalf("fresh driver effective = %s, want AVAILABLE", got)
	}
}

func TestEffectiveStatusPerDriverThreshold(t *testing.T) {
	now := time.Now()
	rec := &models.AvailabilityRecord{
		Availability:       models.DriverBusy,
		LastActivityAt:     now.Add(-20 * time.Minute),
		AutoOfflineMinutes: 15,
	}

	// The driver's own 15-minute threshold beats the 30-minute default.
	if got := EffectiveStatus(rec, now, 30*time.Minute); got != models.DriverOffline {
		t.Fatalf("effective = %s, want OFFLINE under per-driver threshold", got)
	}
}

func TestHeartbeatRefreshesActivity(t *testing.T) {
	store := newMemAvailStore()
	stale := time.Now().Add(-10 * time.Minute)
	approvedDriver(store, "d1", models.DriverAvailable, stale)
	svc := newTestService(store)

	status, err := svc.Heartbeat(context.Background(), "d1")
	if err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if status != models.DriverAvailable {
		t.Fatalf("status = %s, want AVAILABLE", status)
	}
	if !store.records["d1"].LastActivityAt.After(stale) {
		t.Fatal("heartbeat did not refresh lastActivityAt")
	}
}

func TestHeartbeatAfterThresholdPersistsAutoOffline(t *testing.T) {
	store := newMemAvailStore()
	approvedDriver(store, "d1", models.DriverAvailable, time.Now().Add(-2*time.Hour))
	svc := newTestService(store)

	status, err := svc.Heartbeat(context.Background(), "d1")
	if err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if status != models.DriverOffline {
		t.Fatalf("status = %s, want OFFLINE", status)
	}
	if store.records["d1"].Availability != models.DriverOffline {
		t.Fatal("auto-offline not persisted")
	}
	if len(store.history) != 1 || store.history[0].TriggeredBy != "system" {
		t.Fatalf("history = %+v, want one system transition", store.history)
	}
}

func TestHeartbeatWhileOfflineIsNoOp(t *testing.T) {
	store := newMemAvailStore()
	before := time.Now().Add(-time.Hour)
	approvedDriver(store, "d1", models.DriverOffline, before)
	svc := newTestService(store)

	status, err := svc.Heartbeat(context.Background(), "d1")
	if err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if status != models.DriverOffline {
		t.Fatalf("status = %s, want OFFLINE", status)
	}
	// Leaving OFFLINE takes an explicit re-activation; the heartbeat
	// must not touch the record.
	if !store.records["d1"].LastActivityAt.Equal(before) {
		t.Fatal("heartbeat while OFFLINE refreshed activity")
	}
}

func TestOverlaps(t *testing.T) {
	base := time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)
	cases := []struct {
		name         string
		aStart, aEnd time.Duration
		bStart, bEnd time.Duration
		wantOverlap  bool
	}{
		{"partial overlap", 0, 60, 30, 90, true},
		{"contained", 0, 60, 15, 45, true},
		{"containing", 15, 45, 0, 60, true},
		{"identical", 0, 60, 0, 60, true},
		{"adjacent", 0, 60, 60, 120, false},
		{"disjoint", 0, 60, 90, 120, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Overlaps(
				base.Add(tc.aStart*time.Minute), base.Add(tc.aEnd*time.Minute),
				base.Add(tc.bStart*time.Minute), base.Add(tc.bEnd*time.Minute))
			if got != tc.wantOverlap {
				t.Fatalf("Overlaps = %v, want %v", got, tc.wantOverlap)
			}
		})
	}
}

func TestCreateScheduleRejectsOverlap(t *testing.T) {
	store := newMemAvailStore()
	approvedDriver(store, "d1", models.DriverAvailable, time.Now())
	svc := newTestService(store)

	start := time.Now().Add(2 * time.Hour)
	if _, err := svc.CreateSchedule(context.Background(), "d1", models.ScheduleBreak,
		start, start.Add(time.Hour), "lunch"); err != nil {
		t.Fatalf("first schedule: %v", err)
	}

	// 10:00–11:00 vs 10:30–11:30: rejected.
	_, err := svc.CreateSchedule(context.Background(), "d1", models.ScheduleBreak,
		start.Add(30*time.Minute), start.Add(90*time.Minute), "overlap")
	if !errors.Is(err, ErrScheduleConflict) {
		t.Fatalf("err = %v, want ErrScheduleConflict", err)
	}

	// A back-to-back window is fine.
	if _, err := svc.CreateSchedule(context.Background(), "d1", models.ScheduleBreak,
		start.Add(time.Hour), start.Add(2*time.Hour), "next"); err != nil {
		t.Fatalf("adjacent schedule: %v", err)
	}
}

func TestCreateScheduleConcurrentOverlapSingleWinner(t *testing.T) {
	store := newMemAvailStore()
	approvedDriver(store, "d1", models.DriverAvailable, time.Now())
	svc := newTestService(store)

	// Racing requests for the same window must not both land: the store
	// serializes the check and insert per driver.
	start := time.Now().Add(2 * time.Hour)
	const attempts = 8
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CreateSchedule(context.Background(), "d1", models.ScheduleBreak,
				start, start.Add(time.Hour), "race")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	created := 0
	for err := range errs {
		switch {
		case err == nil:
			created++
		case errors.Is(err, ErrScheduleConflict):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if created != 1 {
		t.Fatalf("%d overlapping schedules created, want 1", created)
	}
	if len(store.schedules) != 1 {
		t.Fatalf("store holds %d schedules, want 1", len(store.schedules))
	}
}

func TestCreateScheduleRejectsInvertedWindow(t *testing.T) {
	store := newMemAvailStore()
	approvedDriver(store, "d1", models.DriverAvailable, time.Now())
	svc := newTestService(store)

	start := time.Now().Add(time.Hour)
	if _, err := svc.CreateSchedule(context.Background(), "d1", models.ScheduleBreak,
		start, start, "empty"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("err = %v, want ErrInvalidStatus for empty window", err)
	}
}

func TestCreateScheduleAppliesStartedWindowImmediately(t *testing.T) {
	store := newMemAvailStore()
	approvedDriver(store, "d1", models.DriverAvailable, time.Now())
	svc := newTestService(store)

	sched, err := svc.CreateSchedule(context.Background(), "d1", models.ScheduleUnavailable,
		time.Now().Add(-time.Minute), time.Now().Add(time.Hour), "sick")
	if err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}

	if store.records["d1"].Availability != models.DriverOffline {
		t.Fatalf("availability = %s, want OFFLINE forced by unavailable window", store.records["d1"].Availability)
	}
	// Already applied at creation: the worker must not fire it again.
	due, _ := store.DueSchedules(context.Background(), time.Now())
	for _, d := range due {
		if d.ID == sched.ID {
			t.Fatal("schedule applied at creation still reported due")
		}
	}
}

func TestForcedStatusByScheduleType(t *testing.T) {
	if got := forcedStatus(models.ScheduleBreak); got != models.DriverBusy {
		t.Fatalf("break forces %s, want BUSY", got)
	}
	if got := forcedStatus(models.ScheduleUnavailable); got != models.DriverOffline {
		t.Fatalf("unavailable forces %s, want OFFLINE", got)
	}
}
