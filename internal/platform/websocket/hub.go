// Package websocket pushes agenda changes to connected calendars. Clients
// subscribe to their center's topic and receive every event published on it.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinica/agenda/internal/platform/auth"
	"github.com/clinica/agenda/internal/platform/db"
)

// Event types published by the agenda service.
const (
	EventAppointmentCreated = "appointment.created"
	EventAppointmentMoved   = "appointment.moved"
	EventAppointmentUpdated = "appointment.updated"
	EventRoomUpdated        = "room.updated"
	EventConflictsSwept     = "conflicts.swept"
)

// TopicAgenda carries events that are not scoped to a center.
const TopicAgenda = "agenda"

// CenterTopic is the topic that only carries events of one center.
func CenterTopic(centerID string) string { return TopicAgenda + ":" + centerID }

// Event is a notification sent to websocket clients.
type Event struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	CenterID  string          `json:"center_id,omitempty"`
	SubjectID string          `json:"subject_id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewEvent builds an event on topic with data marshalled to JSON.
func NewEvent(typ, topic, subjectID string, data interface{}) (Event, error) {
	ev := Event{Type: typ, Topic: topic, SubjectID: subjectID, Timestamp: time.Now().UTC()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Event{}, err
		}
		ev.Data = raw
	}
	return ev, nil
}

// ClientMessage is an inbound subscribe or unsubscribe request.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// EventPublisher publishes events to subscribers.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}

// Conn is the part of a websocket connection the pumps use.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Client is one connected calendar. A client with a CenterID may only
// subscribe to that center's topic.
type Client struct {
	ID       string
	CenterID string
	Topics   []string
	Send     chan []byte
}

// NewClient creates a client with a buffered send queue, subscribed to
// topics.
func NewClient(topics ...string) *Client {
	return &Client{ID: uuid.New().String(), Topics: topics, Send: make(chan []byte, 256)}
}

// NewCenterClient creates a client confined to centerID and subscribed to
// its topic.
func NewCenterClient(centerID string) *Client {
	c := NewClient(CenterTopic(centerID))
	c.CenterID = centerID
	return c
}

// Allowed reports whether the client may subscribe to topic.
func (c *Client) Allowed(topic string) bool {
	return c.CenterID == "" || topic == CenterTopic(c.CenterID)
}

func (c *Client) filter(topics []string) []string {
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		if c.Allowed(t) {
			out = append(out, t)
		}
	}
	return out
}

// Hub tracks clients and their topic subscriptions.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[*Client]struct{}
	all     map[*Client]struct{}
	log     zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]map[*Client]struct{}),
		all:     make(map[*Client]struct{}),
		log:     logger,
	}
}

// Register adds a client and its initial topics.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.all[client] = struct{}{}
	client.Topics = client.filter(client.Topics)
	h.subscribeLocked(client, client.Topics)
}

// Unregister drops the client and closes its send queue. Unregistering an
// unknown client is a no-op.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.all[client]; !ok {
		return
	}
	h.unsubscribeLocked(client, client.Topics)
	delete(h.all, client)
	close(client.Send)
}

func (h *Hub) subscribeLocked(client *Client, topics []string) {
	for _, topic := range topics {
		if h.clients[topic] == nil {
			h.clients[topic] = make(map[*Client]struct{})
		}
		h.clients[topic][client] = struct{}{}
	}
}

func (h *Hub) unsubscribeLocked(client *Client, topics []string) {
	for _, topic := range topics {
		if subscribers, ok := h.clients[topic]; ok {
			delete(subscribers, client)
			if len(subscribers) == 0 {
				delete(h.clients, topic)
			}
		}
	}
}

// Subscribe adds topics to a registered client. Topics the client is not
// allowed to see are ignored.
func (h *Hub) Subscribe(client *Client, topics []string) {
	topics = client.filter(topics)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribeLocked(client, topics)
	for _, t := range topics {
		if !contains(client.Topics, t) {
			client.Topics = append(client.Topics, t)
		}
	}
}

// Unsubscribe removes topics from a registered client.
func (h *Hub) Unsubscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribeLocked(client, topics)
	remaining := client.Topics[:0]
	for _, t := range client.Topics {
		if !contains(topics, t) {
			remaining = append(remaining, t)
		}
	}
	client.Topics = remaining
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ProcessMessage applies an inbound client message.
func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		h.Subscribe(client, msg.Topics)
	case "unsubscribe":
		h.Unsubscribe(client, msg.Topics)
	}
}

// Broadcast queues event for every subscriber of topic. Clients whose queue
// is full miss the event.
func (h *Hub) Broadcast(topic string, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error().Err(err).Str("type", event.Type).Msg("websocket: failed to marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[topic] {
		select {
		case client.Send <- data:
		default:
			h.log.Warn().Str("client_id", client.ID).Str("topic", topic).Msg("websocket: send queue full, dropping event")
		}
	}
}

// Publish broadcasts event on its own topic only.
func (h *Hub) Publish(_ context.Context, event Event) error {
	h.Broadcast(event.Topic, event)
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// TopicCount returns the number of clients subscribed to topic.
func (h *Hub) TopicCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[topic])
}

// Handler upgrades HTTP requests to websocket connections.
type Handler struct {
	hub      *Hub
	upgrader gorillawebsocket.Upgrader
}

// NewHandler accepts connections from allowedOrigins; "*" or an empty list
// accepts any origin.
func NewHandler(hub *Hub, allowedOrigins []string) *Handler {
	return &Handler{
		hub: hub,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowedOrigins) == 0 || contains(allowedOrigins, "*") {
					return true
				}
				return contains(allowedOrigins, r.Header.Get("Origin"))
			},
		},
	}
}

// RegisterRoutes mounts /ws on g behind mw. The route needs middleware that
// authenticates the caller and resolves their center.
func (h *Handler) RegisterRoutes(g *echo.Group, mw ...echo.MiddlewareFunc) {
	g.GET("/ws", h.HandleConnect, mw...)
}

// HandleConnect upgrades an authenticated request and subscribes the client
// to its center's topic.
func (h *Handler) HandleConnect(c echo.Context) error {
	ctx := c.Request().Context()
	if auth.UserIDFromContext(ctx) == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	centerID := db.CenterFromContext(ctx)
	if centerID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "center not resolved")
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	client := NewCenterClient(centerID)
	h.hub.Register(client)

	go WritePump(client, ws)
	go ReadPump(h.hub, client, ws)
	return nil
}

// ReadPump feeds client messages to the hub until the connection fails,
// then unregisters the client.
func ReadPump(hub *Hub, client *Client, conn Conn) {
	defer func() {
		hub.Unregister(client)
		conn.Close()
	}()
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		hub.ProcessMessage(client, msg)
	}
}

// WritePump drains the client's send queue into the connection.
func WritePump(client *Client, conn Conn) {
	defer conn.Close()
	for message := range client.Send {
		if err := conn.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
			return
		}
	}
}
