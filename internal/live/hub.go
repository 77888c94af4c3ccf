package live

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/example/pickup-dispatch/internal/models"
	"github.com/example/pickup-dispatch/internal/observability"
)

const DefaultBuffer = 64

// Subscriber is one observer's queue. Events arrive in publish order.
type Subscriber struct {
	ID     string
	events chan models.Event
	done   chan struct{}
	once   sync.Once
}

// Events is closed when the subscriber is dropped or unsubscribed.
func (s *Subscriber) Events() <-chan models.Event { return s.events }

// Done is closed together with Events.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

func (s *Subscriber) close() {
	s.once.Do(func() {
		close(s.events)
		close(s.done)
	})
}

// Hub fans events out to every subscriber. Publish never blocks: a
// subscriber whose queue is full is dropped.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]*Subscriber
	buffer int
	logger *slog.Logger
	closed bool
}

func NewHub(buffer int, logger *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{subs: make(map[string]*Subscriber), buffer: buffer, logger: logger}
}

func (h *Hub) Subscribe() *Subscriber {
	return h.SubscribeBuffered(h.buffer)
}

// SubscribeBuffered registers a subscriber with its own queue size.
func (h *Hub) SubscribeBuffered(buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = h.buffer
	}
	s := &Subscriber{
		ID:     uuid.NewString(),
		events: make(chan models.Event, buffer),
		done:   make(chan struct{}),
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		s.close()
		return s
	}
	h.subs[s.ID] = s
	observability.HubSubscribers.Set(float64(len(h.subs)))
	return s
}

func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(s)
}

func (h *Hub) removeLocked(s *Subscriber) bool {
	if _, ok := h.subs[s.ID]; !ok {
		return false
	}
	delete(h.subs, s.ID)
	s.close()
	observability.HubSubscribers.Set(float64(len(h.subs)))
	return true
}

// Publish enqueues ev for every subscriber.
func (h *Hub) Publish(ev models.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	observability.EventsPublished.WithLabelValues(string(ev.Type)).Inc()
	for _, s := range h.subs {
		select {
		case s.events <- ev:
		default:
			h.removeLocked(s)
			observability.HubDropped.Inc()
			h.logger.Warn("live subscriber dropped", "subscriber", s.ID, "reason", "queue full")
		}
	}
}

func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Close drops every subscriber; later subscriptions are closed immediately.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, s := range h.subs {
		h.removeLocked(s)
	}
}

// Deliver drains s into send until the queue closes, ctx ends or send
// fails. A failed send drops the subscriber without retrying.
func (h *Hub) Deliver(ctx context.Context, s *Subscriber, send func(models.Event) error) error {
	for {
		select {
		case <-ctx.Done():
			h.Unsubscribe(s)
			return ctx.Err()
		case ev, ok := <-s.Events():
			if !ok {
				return nil
			}
			if err := send(ev); err != nil {
				h.Unsubscribe(s)
				return err
			}
		}
	}
}
