package realtime

import (
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"tripwave/models"
)

type recordingTransport struct {
	name   string
	events []Event
	err    error
	panics bool
}

func (r *recordingTransport) Name() string { return r.name }
func (r *recordingTransport) Deliver(ev Event) error {
	if r.panics {
		panic("transport blew up")
	}
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, ev)
	return nil
}

func TestEmitDeliversToBothTransports(t *testing.T) {
	push := &recordingTransport{name: "socketio"}
	pull := &recordingTransport{name: "sse"}
	e := NewEmitter(push, pull, zap.NewNop())

	res := e.Emit(NewEvent(EventTripStatus, nil))

	if !res.SocketIO.Sent || !res.SSE.Sent {
		t.Fatalf("result = %+v, want both sent", res)
	}
	if len(push.events) != 1 || len(pull.events) != 1 {
		t.Fatalf("deliveries: push=%d pull=%d", len(push.events), len(pull.events))
	}
}

func TestScopeRoomsAddressesEveryScope(t *testing.T) {
	// A booking event reaches the passenger's own room as well as the
	// trip room, so they hear the confirmation without subscribing.
	ev := NewEvent(EventBookingConfirmed, nil)
	ev.TripID = "t1"
	ev.UserID = "u1"
	got := scopeRooms(ev)
	want := []string{"trip:t1", "user:u1"}
	if len(got) != len(want) {
		t.Fatalf("rooms = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rooms = %v, want %v", got, want)
		}
	}

	ev = NewEvent(EventNotification, nil)
	ev.DriverID = "d1"
	if got := scopeRooms(ev); len(got) != 1 || got[0] != "driver:d1" {
		t.Fatalf("driver rooms = %v, want [driver:d1]", got)
	}

	if got := scopeRooms(NewEvent(EventTripStatus, nil)); len(got) != 0 {
		t.Fatalf("unscoped event addressed rooms %v", got)
	}
}

func TestEmitTransportFailuresAreIndependent(t *testing.T) {
	push := &recordingTransport{name: "socketio", err: errors.New("socket closed")}
	pull := &recordingTransport{name: "sse"}
	e := NewEmitter(push, pull, zap.NewNop())

	res := e.Emit(NewEvent(EventSeatAvailability, nil))

	if res.SocketIO.Sent {
		t.Error("failed transport reported sent")
	}
	if res.SocketIO.Error == "" {
		t.Error("failed transport reported no error")
	}
	if !res.SSE.Sent {
		t.Error("healthy transport did not deliver")
	}
	if len(pull.events) != 1 {
		t.Fatalf("sse deliveries = %d, want 1", len(pull.events))
	}
}

func TestEmitSurvivesNilAndPanickingTransports(t *testing.T) {
	pull := &recordingTransport{name: "sse"}
	e := NewEmitter(nil, pull, zap.NewNop())

	res := e.Emit(NewEvent(EventDriverLocation, nil))
	if res.SocketIO.Sent {
		t.Error("nil transport reported sent")
	}
	if !res.SSE.Sent {
		t.Error("sse should deliver with the other transport missing")
	}

	panicky := &recordingTransport{name: "socketio", panics: true}
	e = NewEmitter(panicky, pull, zap.NewNop())
	res = e.Emit(NewEvent(EventDriverLocation, nil))
	if res.SocketIO.Sent {
		t.Error("panicking transport reported sent")
	}
	if !res.SSE.Sent {
		t.Error("panic in one transport starved the other")
	}
}

func TestSSEHubRoutesByTrip(t *testing.T) {
	hub := NewSSEHub(time.Second, time.Minute, zap.NewNop())

	chA, cancelA := hub.Subscribe("trip-a")
	defer cancelA()
	chB, cancelB := hub.Subscribe("trip-b")
	defer cancelB()

	ev := NewEvent(EventSeatAvailability, nil)
	ev.TripID = "trip-a"
	if err := hub.Deliver(ev); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	select {
	case got := <-chA:
		if got.TripID != "trip-a" {
			t.Fatalf("tripId = %s", got.TripID)
		}
	default:
		t.Fatal("trip-a subscriber got nothing")
	}
	select {
	case <-chB:
		t.Fatal("trip-b subscriber received trip-a event")
	default:
	}
}

func TestSSEHubCancelUnsubscribes(t *testing.T) {
	hub := NewSSEHub(time.Second, time.Minute, zap.NewNop())

	_, cancel := hub.Subscribe("trip-a")
	if hub.SubscriberCount("trip-a") != 1 {
		t.Fatalf("count = %d, want 1", hub.SubscriberCount("trip-a"))
	}
	cancel()
	if hub.SubscriberCount("trip-a") != 0 {
		t.Fatalf("count after cancel = %d, want 0", hub.SubscriberCount("trip-a"))
	}
}

func TestSSEHubSkipsEventsWithoutTrip(t *testing.T) {
	hub := NewSSEHub(time.Second, time.Minute, zap.NewNop())
	ch, cancel := hub.Subscribe("trip-a")
	defer cancel()

	if err := hub.Deliver(NewEvent(EventNotification, nil)); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	select {
	case <-ch:
		t.Fatal("unscoped event reached a trip stream")
	default:
	}
}

func TestSSEHubNeverBlocksOnSlowSubscriber(t *testing.T) {
	hub := NewSSEHub(time.Second, time.Minute, zap.NewNop())
	_, cancel := hub.Subscribe("trip-a")
	defer cancel()

	ev := NewEvent(EventSeatAvailability, nil)
	ev.TripID = "trip-a"
	// Overflow the channel buffer; Deliver must drop, not stall.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			hub.Deliver(ev)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Deliver blocked on a slow subscriber")
	}
}

func TestShouldReplayBoundaries(t *testing.T) {
	now := time.Now()
	maxAge := 300 * time.Second

	cases := []struct {
		name string
		age  time.Duration
		want bool
	}{
		{"fresh", 290 * time.Second, true},
		{"exactly at the limit", 300 * time.Second, true},
		{"stale", 310 * time.Second, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			loc := &models.DriverLocation{LastUpdated: now.Add(-tc.age)}
			if got := ShouldReplay(loc, now, maxAge); got != tc.want {
				t.Fatalf("ShouldReplay(age=%v) = %v, want %v", tc.age, got, tc.want)
			}
		})
	}

	if ShouldReplay(nil, now, maxAge) {
		t.Fatal("nil location replayed")
	}
}

func TestDriverFilterMatches(t *testing.T) {
	offer := TripOfferPayload{
		TripType:  models.TripTypeShared,
		OriginLat: 12.9716,
		OriginLng: 77.5946,
		Earnings:  800,
	}
	nearby := &models.DriverLocation{Latitude: 12.9720, Longitude: 77.5950}
	farAway := &models.DriverLocation{Latitude: 19.0760, Longitude: 72.8777}

	if !(DriverFilter{}).Matches(offer, nearby) {
		t.Error("empty filter rejected an offer")
	}
	if !(DriverFilter{MinEarnings: 500}.Matches(offer, nearby)) {
		t.Error("earnings above the floor rejected")
	}
	if (DriverFilter{MinEarnings: 1000}).Matches(offer, nearby) {
		t.Error("earnings below the floor accepted")
	}
	if !(DriverFilter{TripTypes: []string{models.TripTypeShared}}.Matches(offer, nearby)) {
		t.Error("matching trip type rejected")
	}
	if (DriverFilter{TripTypes: []string{models.TripTypePrivate}}).Matches(offer, nearby) {
		t.Error("non-matching trip type accepted")
	}
	if !(DriverFilter{MaxDistanceKm: 5}.Matches(offer, nearby)) {
		t.Error("nearby driver rejected on distance")
	}
	if (DriverFilter{MaxDistanceKm: 5}).Matches(offer, farAway) {
		t.Error("far-away driver accepted on distance")
	}
	// No known position: the distance criterion cannot disqualify.
	if !(DriverFilter{MaxDistanceKm: 5}.Matches(offer, nil)) {
		t.Error("driver with unknown position rejected on distance")
	}
}
