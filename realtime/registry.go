package realtime

import (
	"context"
	"sync"
	"time"

	socketio "github.com/zishang520/socket.io/v2/socket"
	"go.uber.org/zap"
)

// Conn is the server-side state for one push-transport connection:
// who authenticated, what they subscribed to, and when we last heard
// from them.
type Conn struct {
	Socket      *socketio.Socket
	PrincipalID string
	Role        string
	Filter      *DriverFilter
	LastSeen    time.Time
}

// Registry owns all live push-transport connections. It is created at
// process start and injected wherever connection state is needed; there
// is deliberately no package-level instance.
type Registry struct {
	mu    sync.RWMutex
	conns map[socketio.SocketId]*Conn
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[socketio.SocketId]*Conn)}
}

func (r *Registry) Add(s *socketio.Socket, principalID, role string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[s.Id()] = &Conn{
		Socket:      s,
		PrincipalID: principalID,
		Role:        role,
		LastSeen:    time.Now(),
	}
}

func (r *Registry) Remove(id socketio.SocketId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, id)
}

func (r *Registry) Get(id socketio.SocketId) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// Touch refreshes the idle clock for a connection on any client signal.
func (r *Registry) Touch(id socketio.SocketId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[id]; ok {
		c.LastSeen = time.Now()
	}
}

func (r *Registry) SetFilter(id socketio.SocketId, f *DriverFilter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.conns[id]; ok {
		c.Filter = f
	}
}

// DriverConns snapshots the currently connected driver subscriptions for
// per-offer filter evaluation.
func (r *Registry) DriverConns() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		if c.Role == "driver" {
			out = append(out, c)
		}
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// StartSweep disconnects connections that have been idle past the limit.
// Push connections auto-expire to bound resource usage; clients
// reconnect and re-subscribe, which re-runs the replay check.
func (r *Registry) StartSweep(ctx context.Context, idleLimit time.Duration, logger *zap.Logger) {
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().Add(-idleLimit)
				r.mu.Lock()
				var stale []*Conn
				for _, c := range r.conns {
					if c.LastSeen.Before(cutoff) {
						stale = append(stale, c)
					}
				}
				r.mu.Unlock()

				for _, c := range stale {
					logger.Info("Disconnecting idle push connection",
						zap.String("socketID", string(c.Socket.Id())),
						zap.String("principalId", c.PrincipalID))
					c.Socket.Disconnect(true)
				}
			}
		}
	}()
}
