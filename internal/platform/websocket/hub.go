// Package websocket streams committed engine events (bed board changes, stock
// alerts, administrations) to connected clients. Clients subscribe to event
// topics; a TopicRoles policy limits which roles may subscribe to which topic.
package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Event is the frame pushed to subscribers.
type Event struct {
	Type          string          `json:"type"`
	Topic         string          `json:"topic"`
	AggregateType string          `json:"aggregateType,omitempty"`
	AggregateID   string          `json:"aggregateId,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	Data          json.RawMessage `json:"data,omitempty"`
}

// ClientMessage is an inbound subscribe/unsubscribe request.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// Client represents a single WebSocket connection.
type Client struct {
	ID     string
	Roles  []string
	Topics []string
	Send   chan []byte
}

func NewClient(id string, roles []string) *Client {
	return &Client{ID: id, Roles: roles, Topics: []string{}, Send: make(chan []byte, 256)}
}

// TopicRoles maps a topic to the roles allowed to subscribe to it. Topics not
// listed are open to every authenticated client; ADMIN may subscribe to any.
type TopicRoles map[string][]string

func (t TopicRoles) Allowed(roles []string, topic string) bool {
	allowed, ok := t[topic]
	if !ok {
		return true
	}
	for _, r := range roles {
		if r == "ADMIN" {
			return true
		}
		for _, a := range allowed {
			if r == a {
				return true
			}
		}
	}
	return false
}

// Hub tracks clients and their topic subscriptions.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{} // topic -> subscribers
	all     map[*Client]struct{}

	policy   TopicRoles
	logger   zerolog.Logger
	onChange func(clients int)
}

type Option func(*Hub)

func WithPolicy(p TopicRoles) Option { return func(h *Hub) { h.policy = p } }

func WithLogger(l zerolog.Logger) Option { return func(h *Hub) { h.logger = l } }

// WithClientGauge registers a callback invoked with the client count after
// every register/unregister.
func WithClientGauge(fn func(clients int)) Option { return func(h *Hub) { h.onChange = fn } }

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		logger:  zerolog.Nop(),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register adds a client and subscribes it to whichever of its initial topics
// the policy allows.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.all[client] = struct{}{}
	initial := client.Topics
	client.Topics = nil
	h.subscribeLocked(client, initial)
	n := len(h.all)
	h.mu.Unlock()

	h.notify(n)
}

// Unregister removes a client from every topic and closes its Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.all[client]; !ok {
		h.mu.Unlock()
		return
	}
	for _, topic := range client.Topics {
		h.removeLocked(topic, client)
	}
	delete(h.all, client)
	close(client.Send)
	n := len(h.all)
	h.mu.Unlock()

	h.notify(n)
}

func (h *Hub) notify(n int) {
	if h.onChange != nil {
		h.onChange(n)
	}
}

// Subscribe adds topics to a registered client and returns the topics the
// policy rejected.
func (h *Hub) Subscribe(client *Client, topics []string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.subscribeLocked(client, topics)
}

func (h *Hub) subscribeLocked(client *Client, topics []string) []string {
	var rejected []string
	for _, topic := range topics {
		if h.policy != nil && !h.policy.Allowed(client.Roles, topic) {
			rejected = append(rejected, topic)
			continue
		}
		if h.clients[topic] == nil {
			h.clients[topic] = make(map[*Client]struct{})
		}
		if _, dup := h.clients[topic][client]; dup {
			continue
		}
		h.clients[topic][client] = struct{}{}
		client.Topics = append(client.Topics, topic)
	}
	return rejected
}

func (h *Hub) Unsubscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	drop := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		drop[t] = struct{}{}
		h.removeLocked(t, client)
	}

	remaining := client.Topics[:0]
	for _, t := range client.Topics {
		if _, ok := drop[t]; !ok {
			remaining = append(remaining, t)
		}
	}
	client.Topics = remaining
}

func (h *Hub) removeLocked(topic string, client *Client) {
	if subscribers, ok := h.clients[topic]; ok {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.clients, topic)
		}
	}
}

// ProcessMessage dispatches a client message and returns topics rejected by
// the policy.
func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) []string {
	switch msg.Action {
	case "subscribe":
		return h.Subscribe(client, msg.Topics)
	case "unsubscribe":
		h.Unsubscribe(client, msg.Topics)
	}
	return nil
}

// Broadcast sends event to every subscriber of topic. Slow clients whose
// buffer is full miss the frame.
func (h *Hub) Broadcast(topic string, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("event_type", event.Type).Msg("marshal websocket event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients[topic] {
		select {
		case client.Send <- data:
		default:
			h.logger.Warn().Str("client_id", client.ID).Str("topic", topic).Msg("websocket client buffer full, dropping event")
		}
	}
}

// Publish broadcasts event to the subscribers of its topic.
func (h *Hub) Publish(_ context.Context, event Event) error {
	h.Broadcast(event.Topic, event)
	return nil
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}
