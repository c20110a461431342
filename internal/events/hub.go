package events

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wardenhq/contract-warden/internal/config"
	"github.com/wardenhq/contract-warden/internal/logger"
)

// Hub maintains the set of connected stream clients and fans events
// out to them. Analysis code publishes through Publish and never
// blocks on slow consumers.
type Hub struct {
	cfg config.EventsConfig

	clients    map[*Client]bool
	broadcast  chan Event
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	upgrader websocket.Upgrader
	logger   *logger.Logger

	mu    sync.RWMutex
	stats HubStats
}

// HubStats tracks stream statistics.
type HubStats struct {
	TotalConnections  int64 `json:"total_connections"`
	ActiveConnections int64 `json:"active_connections"`
	TotalMessages     int64 `json:"total_messages"`
	TotalBroadcasts   int64 `json:"total_broadcasts"`
	DroppedEvents     int64 `json:"dropped_events"`
}

// NewHub creates the event hub.
func NewHub(cfg config.EventsConfig, log *logger.Logger) *Hub {
	h := &Hub{
		cfg:        cfg,
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     log.WithComponent("events"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Run processes registrations and broadcasts until Stop is called.
func (h *Hub) Run() {
	h.logger.Info("Starting event hub")
	for {
		select {
		case client := <-h.register:
			h.registerClient(client)
		case client := <-h.unregister:
			h.unregisterClient(client)
		case event := <-h.broadcast:
			h.broadcastEvent(event)
		case <-h.done:
			h.closeAll()
			return
		}
	}
}

// Stop shuts down the hub and disconnects all clients.
func (h *Hub) Stop() {
	close(h.done)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.Send)
		delete(h.clients, client)
	}
	h.stats.ActiveConnections = 0
	h.logger.Info("Event hub stopped")
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client] = true
	h.stats.TotalConnections++
	h.stats.ActiveConnections++

	h.logger.Info("Stream client connected",
		zap.String("client_id", client.ID),
		zap.String("client_ip", client.IP),
		zap.Int64("active_connections", h.stats.ActiveConnections))

	if h.cfg.Broadcast.Connections {
		go h.Publish(Event{
			Type:      EventTypeConnection,
			Timestamp: time.Now(),
			Data: ConnectionEvent{
				Action:   "connected",
				ClientID: client.ID,
				ClientIP: client.IP,
			},
		})
	}
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.Send)
	h.stats.ActiveConnections--

	h.logger.Info("Stream client disconnected",
		zap.String("client_id", client.ID),
		zap.Int64("active_connections", h.stats.ActiveConnections))

	if h.cfg.Broadcast.Connections {
		go h.Publish(Event{
			Type:      EventTypeConnection,
			Timestamp: time.Now(),
			Data: ConnectionEvent{
				Action:   "disconnected",
				ClientID: client.ID,
				ClientIP: client.IP,
			},
		})
	}
}

func (h *Hub) broadcastEvent(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stats.TotalBroadcasts++
	for client := range h.clients {
		if !clientWants(client, event) {
			continue
		}
		select {
		case client.Send <- event:
			h.stats.TotalMessages++
		default:
			// Slow consumer: drop it rather than stall the hub.
			h.logger.Warn("Client send buffer full, closing connection",
				zap.String("client_id", client.ID))
			delete(h.clients, client)
			close(client.Send)
			h.stats.ActiveConnections--
		}
	}
}

func clientWants(client *Client, event Event) bool {
	if client.Subscription == nil || len(client.Subscription.Events) == 0 {
		return true
	}
	for _, t := range client.Subscription.Events {
		if t == event.Type {
			return true
		}
	}
	return false
}

// Publish queues an event for broadcast. Events of a type disabled in
// config, and events published when the buffer is full, are dropped.
func (h *Hub) Publish(event Event) {
	if !h.enabled(event.Type) {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case h.broadcast <- event:
	default:
		h.mu.Lock()
		h.stats.DroppedEvents++
		h.mu.Unlock()
		h.logger.Warn("Broadcast buffer full, dropping event",
			zap.String("event_type", string(event.Type)))
	}
}

func (h *Hub) enabled(t EventType) bool {
	switch t {
	case EventTypePIIDetected:
		return h.cfg.Broadcast.Detections
	case EventTypeAnalysisStarted, EventTypeAnalysisCompleted, EventTypeAnalysisFailed, EventTypeContractDeleted:
		return h.cfg.Broadcast.Analyses
	case EventTypeSystemStats:
		return h.cfg.Broadcast.System
	case EventTypeConnection:
		return h.cfg.Broadcast.Connections
	default:
		return false
	}
}

// HandleWebSocket upgrades an HTTP request to a stream connection.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Auth.Enabled {
		user, pass, ok := r.BasicAuth()
		if !ok || user != h.cfg.Auth.Username || pass != h.cfg.Auth.Password {
			w.Header().Set("WWW-Authenticate", `Basic realm="events"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}

	h.mu.RLock()
	active := len(h.clients)
	h.mu.RUnlock()
	if h.cfg.MaxConnections > 0 && active >= h.cfg.MaxConnections {
		http.Error(w, "Too many stream connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade stream connection", zap.Error(err))
		return
	}

	client := &Client{
		ID:          fmt.Sprintf("client_%d", time.Now().UnixNano()),
		Conn:        conn,
		Send:        make(chan Event, 256),
		ConnectedAt: time.Now(),
		LastPong:    time.Now(),
		IP:          clientIP(r),
		UserAgent:   r.UserAgent(),
	}

	// The hub may stop between the upgrade and the registration send.
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}
	go h.writePump(client)
	go h.readPump(client)
}

func (h *Hub) writePump(client *Client) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case event, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteJSON(event); err != nil {
				h.logger.Debug("Stream write failed",
					zap.String("client_id", client.ID), zap.Error(err))
				return
			}
		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readPump(client *Client) {
	defer func() {
		h.unregister <- client
		client.Conn.Close()
	}()

	client.Conn.SetReadLimit(h.cfg.MaxMessageSize)
	client.Conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	client.Conn.SetPongHandler(func(string) error {
		client.LastPong = time.Now()
		client.Conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
		return nil
	})

	for {
		var msg ClientMessage
		if err := client.Conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("Stream read error",
					zap.String("client_id", client.ID), zap.Error(err))
			}
			return
		}
		h.handleClientMessage(client, msg)
	}
}

func (h *Hub) handleClientMessage(client *Client, msg ClientMessage) {
	switch msg.Type {
	case "subscribe":
		sub := parseSubscription(msg.Data)
		if sub == nil {
			return
		}
		h.mu.Lock()
		client.Subscription = sub
		h.mu.Unlock()
		h.logger.Debug("Client subscription updated",
			zap.String("client_id", client.ID),
			zap.Int("event_types", len(sub.Events)))
	case "ping":
		select {
		case client.Send <- Event{Type: "pong", Timestamp: time.Now()}:
		default:
		}
	}
}

func parseSubscription(data interface{}) *SubscriptionRequest {
	m, ok := data.(map[string]interface{})
	if !ok {
		return nil
	}
	raw, ok := m["events"].([]interface{})
	if !ok {
		return nil
	}
	sub := &SubscriptionRequest{}
	for _, v := range raw {
		if s, ok := v.(string); ok {
			sub.Events = append(sub.Events, EventType(s))
		}
	}
	return sub
}

// GetStats returns a snapshot of hub statistics.
func (h *Hub) GetStats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	stats := h.stats
	stats.ActiveConnections = int64(len(h.clients))
	return stats
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
