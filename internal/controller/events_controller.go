package controller

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cassiomorais/kioskpos/internal/infrastructure/observability"
	"github.com/cassiomorais/kioskpos/internal/service"
	"github.com/rs/zerolog"
)

const (
	subscriberBuffer = 16
	defaultHeartbeat = 15 * time.Second
)

// EventBroadcaster fans screen navigations out to server-sent event clients.
// It is the dispatcher's Navigator.
type EventBroadcaster struct {
	metrics   *observability.Metrics
	logger    zerolog.Logger
	heartbeat time.Duration

	mu   sync.Mutex
	subs map[chan service.Navigation]struct{}
	last *service.Navigation
}

func NewEventBroadcaster(metrics *observability.Metrics, logger zerolog.Logger) *EventBroadcaster {
	return &EventBroadcaster{
		metrics:   metrics,
		logger:    logger,
		heartbeat: defaultHeartbeat,
		subs:      make(map[chan service.Navigation]struct{}),
	}
}

// Navigate implements service.Navigator. Slow clients lose events rather than
// holding up the dispatcher.
func (b *EventBroadcaster) Navigate(nav service.Navigation) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.last = &nav
	for ch := range b.subs {
		select {
		case ch <- nav:
		default:
			b.logger.Warn().Str("screen", string(nav.Screen)).Msg("event subscriber lagging, dropping navigation")
		}
	}
}

// Subscribe registers a client. The latest navigation, if any, is queued first.
func (b *EventBroadcaster) Subscribe() (<-chan service.Navigation, func()) {
	ch := make(chan service.Navigation, subscriberBuffer)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	if b.last != nil {
		ch <- *b.last
	}
	b.mu.Unlock()
	b.gauge(1)

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			b.gauge(-1)
		})
	}
}

// Subscribers returns the number of connected clients.
func (b *EventBroadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *EventBroadcaster) gauge(delta float64) {
	if b.metrics != nil {
		b.metrics.EventSubscribers.Add(delta)
	}
}

// Stream handles GET /api/v1/payment/events
func (b *EventBroadcaster) Stream(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		b.logger.Error().Err(err).Msg("event stream not supported by response writer")
		return
	}

	events, unsubscribe := b.Subscribe()
	defer unsubscribe()

	ticker := time.NewTicker(b.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case nav := <-events:
			payload, err := json.Marshal(nav)
			if err != nil {
				b.logger.Error().Err(err).Msg("failed to encode navigation")
				continue
			}
			if _, err := fmt.Fprintf(w, "event: navigate\ndata: %s\n\n", payload); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
