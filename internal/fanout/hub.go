package fanout

import (
	"encoding/json"
	"log/slog"
	"sync"

	"airlab.dev/pollution-core/pkg/metrics"
)

// Hub maintains the set of active subscribers per group and fans published
// events out to them. Registration is driven by the websocket layer;
// publication by the router, evaluator and liveness tracker.
type Hub struct {
	logger  *slog.Logger
	metrics *metrics.FanoutMetrics

	mu     sync.RWMutex
	groups map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	publish    chan envelope
	done       chan struct{}
	stopOnce   sync.Once
}

type envelope struct {
	group   string
	payload []byte
}

var _ Publisher = (*Hub)(nil)

// NewHub creates a hub. Call Run in a goroutine to start delivery.
func NewHub(logger *slog.Logger, m *metrics.FanoutMetrics) *Hub {
	return &Hub{
		logger:     logger,
		metrics:    m,
		groups:     make(map[string]map[*Client]bool),
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		publish:    make(chan envelope, 256),
		done:       make(chan struct{}),
	}
}

// Run processes registrations and published events until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			clients, ok := h.groups[client.group]
			if !ok {
				clients = make(map[*Client]bool)
				h.groups[client.group] = clients
			}
			clients[client] = true
			h.mu.Unlock()
			h.logger.Info("subscriber joined", "group", client.group)
			if h.metrics != nil {
				h.metrics.Subscribers.Inc()
			}

		case client := <-h.unregister:
			h.dropClient(client)

		case env := <-h.publish:
			h.deliver(env)
		}
	}
}

// Stop shuts the hub down, closing every subscriber connection.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

// Publish sends an event to all current subscribers of a group. It never
// blocks the caller and never returns an error; when the hub's queue is
// full the event is dropped and counted.
func (h *Hub) Publish(group string, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to encode event", "group", group, "kind", event.Kind, "error", err)
		return
	}

	select {
	case h.publish <- envelope{group: group, payload: payload}:
	case <-h.done:
	default:
		h.logger.Warn("fan-out queue full, dropping event", "group", group, "kind", event.Kind)
		if h.metrics != nil {
			h.metrics.EventsDropped.WithLabelValues(event.Kind).Inc()
		}
	}
}

// deliver pushes an encoded event to every subscriber of the group. A
// subscriber whose send buffer is full is evicted rather than allowed to
// stall the rest of the group.
func (h *Hub) deliver(env envelope) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.groups[env.group]))
	for c := range h.groups[env.group] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		select {
		case client.send <- env.payload:
			if h.metrics != nil {
				h.metrics.EventsDelivered.WithLabelValues(env.group).Inc()
			}
		default:
			h.logger.Warn("subscriber send buffer full, evicting", "group", env.group)
			h.dropClient(client)
		}
	}
}

func (h *Hub) dropClient(client *Client) {
	h.mu.Lock()
	clients, ok := h.groups[client.group]
	if ok {
		if _, present := clients[client]; present {
			delete(clients, client)
			close(client.send)
			if len(clients) == 0 {
				delete(h.groups, client.group)
			}
			if h.metrics != nil {
				h.metrics.Subscribers.Dec()
			}
		}
	}
	h.mu.Unlock()
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for group, clients := range h.groups {
		for client := range clients {
			close(client.send)
		}
		delete(h.groups, group)
	}
}

// SubscriberCount reports the number of subscribers in a group.
func (h *Hub) SubscriberCount(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}
