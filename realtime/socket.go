package realtime

import (
	"context"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/zishang520/engine.io/v2/types"
	socketio "github.com/zishang520/socket.io/v2/socket"
	"go.uber.org/zap"

	"tripwave/models"
)

// TripDirectory resolves which driver is assigned to a trip. A trip with
// no driver returns an empty id, not an error.
type TripDirectory interface {
	DriverForTrip(ctx context.Context, tripID string) (string, error)
}

// LocationSource yields the last-known position of a driver. A driver
// with no recorded position returns (nil, nil).
type LocationSource interface {
	Latest(ctx context.Context, driverID string) (*models.DriverLocation, error)
}

// HeartbeatSink receives driver liveness signals arriving over the
// socket connection.
type HeartbeatSink interface {
	Heartbeat(ctx context.Context, driverID string) (string, error)
}

// LocationSink persists driver position updates arriving over the
// socket connection.
type LocationSink interface {
	Update(ctx context.Context, loc models.DriverLocation) error
}

// PushTransport is the room-based socket.io delivery channel. Clients
// authenticate once per connection, join rooms (trip:<id>, driver:<id>,
// user:<id>), and receive events scoped to those rooms. Trip offers are
// additionally filtered per driver subscription at publish time.
type PushTransport struct {
	io           *socketio.Server
	registry     *Registry
	trips        TripDirectory
	locations    LocationSource
	heartbeats   HeartbeatSink
	locationSink LocationSink
	emitter      *Emitter
	jwtSecret    []byte
	replayMaxAge time.Duration
	logger       *zap.Logger
}

type PushOptions struct {
	Trips        TripDirectory
	Locations    LocationSource
	Heartbeats   HeartbeatSink
	LocationSink LocationSink
	JWTSecret    []byte
	ReplayMaxAge time.Duration
	Logger       *zap.Logger
}

// NewPushTransport creates the socket.io server and wires the connection
// lifecycle: Connecting → Authenticated → Subscribed → events, with
// Disconnected reachable from any state.
func NewPushTransport(registry *Registry, opts PushOptions) *PushTransport {
	serverOpts := &socketio.ServerOptions{}
	serverOpts.SetCors(&types.Cors{
		Origin: "*",
	})

	t := &PushTransport{
		io:           socketio.NewServer(nil, serverOpts),
		registry:     registry,
		trips:        opts.Trips,
		locations:    opts.Locations,
		heartbeats:   opts.Heartbeats,
		locationSink: opts.LocationSink,
		jwtSecret:    opts.JWTSecret,
		replayMaxAge: opts.ReplayMaxAge,
		logger:       opts.Logger,
	}

	t.io.On("connection", func(clients ...any) {
		socket := clients[0].(*socketio.Socket)
		t.logger.Info("Push client connected", zap.String("socketID", string(socket.Id())))
		t.handleConnection(socket)
	})

	return t
}

// SetEmitter links the transport back to the emitter so socket-originated
// updates (driver locations) fan out to both channels. Set once at
// startup, before the HTTP server accepts connections.
func (t *PushTransport) SetEmitter(e *Emitter) { t.emitter = e }

// Handler returns the HTTP handler to mount on /socket.io/.
func (t *PushTransport) Handler() http.Handler {
	return t.io.ServeHandler(nil)
}

func (t *PushTransport) Close() {
	t.io.Close(nil)
}

func (t *PushTransport) Name() string { return "socketio" }

// Deliver routes an event to the rooms matching its scope. Trip offers
// bypass rooms: the stored driver filters are re-evaluated per offer and
// only matching drivers receive it.
func (t *PushTransport) Deliver(ev Event) error {
	switch ev.Type {
	case EventTripOfferCreated, EventTripOfferExpired:
		t.deliverOffer(ev)
	default:
		for _, room := range scopeRooms(ev) {
			t.io.To(socketio.Room(room)).Emit(ev.Type, ev)
		}
	}
	return nil
}

// scopeRooms lists the rooms addressed by an event's scoping ids. A
// user-scoped event reaches the user's own room in addition to the trip
// room, so passengers hear about their bookings without subscribing to
// the trip.
func scopeRooms(ev Event) []string {
	var rooms []string
	if ev.TripID != "" {
		rooms = append(rooms, "trip:"+ev.TripID)
	}
	if ev.UserID != "" {
		rooms = append(rooms, "user:"+ev.UserID)
	}
	if ev.DriverID != "" {
		rooms = append(rooms, "driver:"+ev.DriverID)
	}
	return rooms
}

func (t *PushTransport) deliverOffer(ev Event) {
	offer, ok := ev.Payload.(TripOfferPayload)
	if !ok {
		t.logger.Warn("Trip offer event with unexpected payload", zap.String("tripId", ev.TripID))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, conn := range t.registry.DriverConns() {
		if conn.Filter != nil {
			loc, err := t.locations.Latest(ctx, conn.PrincipalID)
			if err != nil {
				t.logger.Warn("Location lookup failed during offer dispatch",
					zap.String("driverId", conn.PrincipalID), zap.Error(err))
			}
			if !conn.Filter.Matches(offer, loc) {
				continue
			}
		}
		t.io.To(socketio.Room("driver:"+conn.PrincipalID)).Emit(ev.Type, ev)
	}
}

func (t *PushTransport) handleConnection(socket *socketio.Socket) {
	// authenticate — first event on every connection; everything else is
	// ignored until it succeeds.
	socket.On("authenticate", func(args ...any) {
		data, ok := firstMap(args)
		if !ok {
			return
		}
		token, _ := data["token"].(string)

		principalID, role, err := t.verifyToken(token)
		if err != nil {
			t.logger.Warn("Push authentication failed",
				zap.String("socketID", string(socket.Id())), zap.Error(err))
			socket.Emit("authError", map[string]any{"message": "Invalid or expired token"})
			socket.Disconnect(true)
			return
		}

		t.registry.Add(socket, principalID, role)
		switch role {
		case "driver":
			socket.Join(socketio.Room("driver:" + principalID))
		default:
			socket.Join(socketio.Room("user:" + principalID))
		}
		socket.Emit("authenticated", map[string]any{"principalId": principalID, "role": role})
	})

	// subscribeTrips — passenger declares the trips it wants to observe.
	// Fresh last-known driver positions are replayed before live updates
	// begin; the ack reports how many.
	socket.On("subscribeTrips", func(args ...any) {
		conn, ok := t.registry.Get(socket.Id())
		if !ok {
			return
		}
		t.registry.Touch(socket.Id())

		data, ok := firstMap(args)
		if !ok {
			return
		}
		rawIDs, _ := data["tripIds"].([]any)

		var tripIDs []string
		for _, raw := range rawIDs {
			if id, ok := raw.(string); ok && id != "" {
				tripIDs = append(tripIDs, id)
			}
		}

		replayed := 0
		for _, tripID := range tripIDs {
			socket.Join(socketio.Room("trip:" + tripID))
			if t.replayLocation(socket, tripID) {
				replayed++
			}
		}

		t.logger.Info("Push client subscribed",
			zap.String("principalId", conn.PrincipalID),
			zap.Int("trips", len(tripIDs)),
			zap.Int("locationsReplayed", replayed))
		socket.Emit("subscribed", map[string]any{
			"tripIds":           tripIDs,
			"locationsReplayed": replayed,
		})
	})

	// driverFilters — matching criteria for trip offers, retained
	// server-side and re-evaluated per published offer.
	socket.On("driverFilters", func(args ...any) {
		conn, ok := t.registry.Get(socket.Id())
		if !ok || conn.Role != "driver" {
			return
		}
		t.registry.Touch(socket.Id())

		data, ok := firstMap(args)
		if !ok {
			return
		}

		filter := &DriverFilter{}
		if v, ok := data["maxDistanceKm"].(float64); ok {
			filter.MaxDistanceKm = v
		}
		if v, ok := data["minEarnings"].(float64); ok {
			filter.MinEarnings = int64(v)
		}
		if raw, ok := data["tripTypes"].([]any); ok {
			for _, tt := range raw {
				if s, ok := tt.(string); ok {
					filter.TripTypes = append(filter.TripTypes, s)
				}
			}
		}
		t.registry.SetFilter(socket.Id(), filter)
		socket.Emit("filtersApplied", map[string]any{"filters": filter})
	})

	// locationUpdate — driver reports its position; persisted last-write-
	// wins and fanned out to the driver's trip observers.
	socket.On("locationUpdate", func(args ...any) {
		conn, ok := t.registry.Get(socket.Id())
		if !ok || conn.Role != "driver" {
			return
		}
		t.registry.Touch(socket.Id())

		data, ok := firstMap(args)
		if !ok {
			return
		}
		lat, _ := data["latitude"].(float64)
		lng, _ := data["longitude"].(float64)
		heading, _ := data["heading"].(float64)
		speed, _ := data["speed"].(float64)
		accuracy, _ := data["accuracy"].(float64)
		tripID, _ := data["tripId"].(string)

		loc := models.DriverLocation{
			DriverID:    conn.PrincipalID,
			Latitude:    lat,
			Longitude:   lng,
			Heading:     heading,
			Speed:       speed,
			Accuracy:    accuracy,
			LastUpdated: time.Now().UTC(),
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := t.locationSink.Update(ctx, loc); err != nil {
			t.logger.Error("Failed to store driver location",
				zap.String("driverId", conn.PrincipalID), zap.Error(err))
			return
		}

		if t.emitter != nil {
			ev := NewEvent(EventDriverLocation, LocationPayload{
				DriverID:    loc.DriverID,
				TripID:      tripID,
				Latitude:    loc.Latitude,
				Longitude:   loc.Longitude,
				Heading:     loc.Heading,
				Speed:       loc.Speed,
				Accuracy:    loc.Accuracy,
				LastUpdated: loc.LastUpdated,
			})
			ev.DriverID = loc.DriverID
			ev.TripID = tripID
			t.emitter.Emit(ev)
		}
	})

	// heartbeat — liveness signal feeding the availability state machine.
	socket.On("heartbeat", func(args ...any) {
		conn, ok := t.registry.Get(socket.Id())
		if !ok || conn.Role != "driver" {
			return
		}
		t.registry.Touch(socket.Id())

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := t.heartbeats.Heartbeat(ctx, conn.PrincipalID); err != nil {
			t.logger.Warn("Heartbeat rejected",
				zap.String("driverId", conn.PrincipalID), zap.Error(err))
		}
	})

	socket.On("disconnect", func(args ...any) {
		t.logger.Info("Push client disconnected", zap.String("socketID", string(socket.Id())))
		t.registry.Remove(socket.Id())
	})
}

// replayLocation sends at most one fresh last-known position for the
// trip's driver to this socket. Trips with no driver, drivers with no
// location, and stale locations are silently skipped.
func (t *PushTransport) replayLocation(socket *socketio.Socket, tripID string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	driverID, err := t.trips.DriverForTrip(ctx, tripID)
	if err != nil || driverID == "" {
		return false
	}

	loc, err := t.locations.Latest(ctx, driverID)
	if err != nil {
		t.logger.Warn("Location lookup failed during replay",
			zap.String("tripId", tripID), zap.Error(err))
		return false
	}
	if !ShouldReplay(loc, time.Now(), t.replayMaxAge) {
		return false
	}

	ev := NewEvent(EventDriverLocation, LocationPayload{
		DriverID:    loc.DriverID,
		TripID:      tripID,
		Latitude:    loc.Latitude,
		Longitude:   loc.Longitude,
		Heading:     loc.Heading,
		Speed:       loc.Speed,
		Accuracy:    loc.Accuracy,
		LastUpdated: loc.LastUpdated,
		Replayed:    true,
	})
	ev.DriverID = loc.DriverID
	ev.TripID = tripID
	socket.Emit(EventDriverLocation, ev)
	return true
}

func (t *PushTransport) verifyToken(tokenStr string) (principalID, role string, err error) {
	token, err := jwt.Parse(tokenStr, func(tok *jwt.Token) (interface{}, error) {
		return t.jwtSecret, nil
	})
	if err != nil {
		return "", "", err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", "", jwt.ErrTokenInvalidClaims
	}
	principalID, _ = claims["id"].(string)
	role, _ = claims["role"].(string)
	if principalID == "" {
		return "", "", jwt.ErrTokenInvalidClaims
	}
	if role == "" {
		role = "user"
	}
	return principalID, role, nil
}

func firstMap(args []any) (map[string]any, bool) {
	if len(args) == 0 {
		return nil, false
	}
	data, ok := args[0].(map[string]any)
	return data, ok
}
