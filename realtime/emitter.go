package realtime

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrTransportUnavailable marks a transport that was never initialized.
// It is only ever logged; emission never fails the business operation
// that triggered it.
var ErrTransportUnavailable = errors.New("realtime: transport unavailable")

// Transport is one delivery channel fed by the emitter. Deliver must not
// block on slow clients; each adapter buffers or drops internally.
type Transport interface {
	Name() string
	Deliver(ev Event) error
}

type TransportResult struct {
	Sent  bool   `json:"sent"`
	Error string `json:"error,omitempty"`
}

// EmitResult records per-transport success independently so a failure on
// one channel is visible without coupling it to the other.
type EmitResult struct {
	SocketIO TransportResult `json:"socketio"`
	SSE      TransportResult `json:"sse"`
}

// Emitter fans a single event out to the push (socket.io) and pull (SSE)
// transports. Either transport may be nil; the other still delivers.
type Emitter struct {
	socketio Transport
	sse      Transport
	logger   *zap.Logger
}

func NewEmitter(socketio, sse Transport, logger *zap.Logger) *Emitter {
	return &Emitter{socketio: socketio, sse: sse, logger: logger}
}

// Emit delivers the event to both transports. It never panics past the
// caller and never returns an error: fan-out failure means a missed
// notification, not a failed booking.
func (e *Emitter) Emit(ev Event) EmitResult {
	var res EmitResult
	res.SocketIO = e.deliver(e.socketio, ev)
	res.SSE = e.deliver(e.sse, ev)
	return res
}

func (e *Emitter) deliver(t Transport, ev Event) TransportResult {
	if t == nil {
		return TransportResult{Sent: false, Error: ErrTransportUnavailable.Error()}
	}

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("transport panic: %v", r)
			}
		}()
		err = t.Deliver(ev)
	}()

	if err != nil {
		e.logger.Warn("Event delivery failed",
			zap.String("transport", t.Name()),
			zap.String("eventType", ev.Type),
			zap.String("tripId", ev.TripID),
			zap.Error(err))
		return TransportResult{Sent: false, Error: err.Error()}
	}
	return TransportResult{Sent: true}
}
