// Package ws streams progression notifications to connected clients over
// websocket. A client subscribes to one user and, optionally, to that user's
// clan; events are delivered in the order the bus publishes them.
package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/studyquest/studyquest-hub/config"
	"github.com/studyquest/studyquest-hub/internal/domain/shared"
	"github.com/studyquest/studyquest-hub/internal/infrastructure/messaging"
	"github.com/studyquest/studyquest-hub/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ErrHubClosed is returned when registering on a closed hub.
var ErrHubClosed = errors.New("ws: hub closed")

// Config contains stream settings.
type Config struct {
	// PingInterval is how often the server pings idle clients. A client that
	// misses two pings is dropped.
	PingInterval time.Duration

	// SendBuffer is the per-client queue length. A client whose queue fills
	// up is disconnected rather than slowing the publisher down.
	SendBuffer int

	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration

	// AllowedOrigins restricts the handshake Origin header. Empty allows any.
	AllowedOrigins []string
}

// ConfigFromApp builds the stream config from the application config.
func ConfigFromApp(cfg config.HTTPConfig) Config {
	return Config{
		PingInterval:   cfg.WSPingInterval,
		SendBuffer:     cfg.WSSendBuffer,
		AllowedOrigins: cfg.AllowedOrigins,
	}
}

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	return c
}

// Notification is the frame sent for every delivered event.
type Notification struct {
	Type        shared.EventType       `json:"type"`
	AggregateID string                 `json:"aggregateId"`
	OccurredAt  time.Time              `json:"occurredAt"`
	Data        map[string]interface{} `json:"data"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HUB
// ══════════════════════════════════════════════════════════════════════════════

// Hub fans bus events out to websocket clients keyed by user or clan id.
type Hub struct {
	cfg      Config
	features *config.FeatureFlags
	log      *logger.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
	closed  bool
}

// NewHub creates a hub. features may be nil.
func NewHub(cfg Config, features *config.FeatureFlags, log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Discard()
	}
	h := &Hub{
		cfg:      cfg.withDefaults(),
		features: features,
		log:      log.With(logger.Component("ws_hub")),
		clients:  make(map[string]map[*client]struct{}),
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

// Attach subscribes the hub to every event on the bus.
func (h *Hub) Attach(bus shared.EventSubscriber, middlewares ...messaging.Middleware) error {
	return bus.SubscribeAll(messaging.Chain(h.Deliver, middlewares...))
}

// Deliver queues the event for every client watching its aggregate.
func (h *Hub) Deliver(event shared.Event) error {
	data, err := json.Marshal(Notification{
		Type:        event.EventType(),
		AggregateID: event.AggregateID(),
		OccurredAt:  event.OccurredAt(),
		Data:        event.Payload(),
	})
	if err != nil {
		return err
	}

	var slow []*client
	h.mu.RLock()
	for c := range h.clients[event.AggregateID()] {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.log.Warn("ws client too slow, disconnecting", logger.UserID(c.userID))
		h.remove(c)
	}
	return nil
}

// ServeHTTP upgrades GET /ws/users/{id}/events. The optional clan query
// parameter also subscribes to that clan's events.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := shared.NewUserID(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}
	if !h.features.IsEnabledFor(config.FeatureLiveEvents, userID.String()) {
		http.Error(w, "live events are disabled", http.StatusForbidden)
		return
	}

	keys := []string{userID.String()}
	if raw := r.URL.Query().Get("clan"); raw != "" {
		clanID, err := shared.NewClanID(raw)
		if err != nil {
			http.Error(w, "invalid clan id", http.StatusBadRequest)
			return
		}
		keys = append(keys, clanID.String())
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("ws upgrade failed", logger.Err(err))
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		userID: userID.String(),
		keys:   keys,
		send:   make(chan []byte, h.cfg.SendBuffer),
	}
	if err := h.add(c); err != nil {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		_ = conn.Close()
		return
	}

	h.log.Debug("ws client connected", logger.UserID(c.userID))
	go c.writePump()
	go c.readPump()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[*client]struct{})
	for _, set := range h.clients {
		for c := range set {
			seen[c] = struct{}{}
		}
	}
	return len(seen)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	all := make(map[*client]struct{})
	for _, set := range h.clients {
		for c := range set {
			all[c] = struct{}{}
		}
	}
	h.clients = make(map[string]map[*client]struct{})
	h.mu.Unlock()

	for c := range all {
		c.closeSend()
	}
	return nil
}

func (h *Hub) add(c *client) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	for _, key := range c.keys {
		set, ok := h.clients[key]
		if !ok {
			set = make(map[*client]struct{})
			h.clients[key] = set
		}
		set[c] = struct{}{}
	}
	return nil
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	for _, key := range c.keys {
		if set, ok := h.clients[key]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(h.clients, key)
			}
		}
	}
	h.mu.Unlock()
	c.closeSend()
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	// Same-host handshakes are always allowed.
	u, err := url.Parse(origin)
	return err == nil && u.Host == r.Host
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string
	keys   []string
	send   chan []byte

	closeOnce sync.Once
}

func (c *client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

// writePump owns all writes on the connection.
func (c *client) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(c.hub.cfg.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// readPump discards client frames and keeps the read deadline fresh on pong.
func (c *client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.hub.log.Debug("ws client disconnected", logger.UserID(c.userID))
	}()

	wait := 2 * c.hub.cfg.PingInterval
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(wait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
