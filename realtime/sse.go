package realtime

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SSEHub is the pull transport: clients that cannot hold a persistent
// bidirectional connection open a long-lived GET scoped to one trip and
// receive that trip's events as a server-sent event stream. No rooms, no
// driver filters — per-trip streams only.
type SSEHub struct {
	mu        sync.RWMutex
	byTrip    map[string]map[chan Event]struct{}
	keepAlive time.Duration
	maxAge    time.Duration
	logger    *zap.Logger
}

func NewSSEHub(keepAlive, maxAge time.Duration, logger *zap.Logger) *SSEHub {
	return &SSEHub{
		byTrip:    make(map[string]map[chan Event]struct{}),
		keepAlive: keepAlive,
		maxAge:    maxAge,
		logger:    logger,
	}
}

func (h *SSEHub) Name() string { return "sse" }

// Deliver routes trip-scoped events to every subscriber of that trip.
// Slow subscribers are skipped rather than blocked on: an SSE client
// that cannot drain its buffer misses events, nothing else stalls.
func (h *SSEHub) Deliver(ev Event) error {
	if ev.TripID == "" {
		return nil
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.byTrip[ev.TripID] {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

// Subscribe registers interest in one trip. The caller must invoke the
// returned cancel func when the stream ends.
func (h *SSEHub) Subscribe(tripID string) (<-chan Event, func()) {
	ch := make(chan Event, 16)

	h.mu.Lock()
	subs := h.byTrip[tripID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		h.byTrip[tripID] = subs
	}
	subs[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if subs, ok := h.byTrip[tripID]; ok {
			delete(subs, ch)
			if len(subs) == 0 {
				delete(h.byTrip, tripID)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// SubscriberCount reports how many streams are open for a trip.
func (h *SSEHub) SubscriberCount(tripID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byTrip[tripID])
}

// StreamHandler serves GET /api/v1/trips/:id/events. The connection is
// force-closed server-side after the hub's max age to bound resource
// usage; clients are expected to reconnect.
func (h *SSEHub) StreamHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tripID := c.Param("id")
		if tripID == "" {
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		flusher, ok := c.Writer.(http.Flusher)
		if !ok {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}

		events, cancel := h.Subscribe(tripID)
		defer cancel()

		// Tell the client the stream is live before the first event.
		fmt.Fprintf(c.Writer, ": connected trip=%s\n\n", tripID)
		flusher.Flush()

		keepAlive := time.NewTicker(h.keepAlive)
		defer keepAlive.Stop()
		deadline := time.NewTimer(h.maxAge)
		defer deadline.Stop()

		for {
			select {
			case <-c.Request.Context().Done():
				return
			case <-deadline.C:
				fmt.Fprint(c.Writer, "event: bye\ndata: {\"reason\":\"max-age\"}\n\n")
				flusher.Flush()
				return
			case <-keepAlive.C:
				fmt.Fprint(c.Writer, ": keep-alive\n\n")
				flusher.Flush()
			case ev := <-events:
				data, err := json.Marshal(ev)
				if err != nil {
					h.logger.Error("Failed to marshal SSE event", zap.Error(err))
					continue
				}
				fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", ev.Type, data)
				flusher.Flush()
			}
		}
	}
}
