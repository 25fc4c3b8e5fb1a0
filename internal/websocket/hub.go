package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/raaihank/feedback-sentinel/internal/bias"
	"github.com/raaihank/feedback-sentinel/internal/config"
	"github.com/raaihank/feedback-sentinel/internal/logger"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second
	// Maximum message size allowed from peer
	maxMessageSize = 128 * 1024
	// Outbound queue length per client
	sendBuffer = 256
)

// HubConfig contains configuration for the WebSocket hub
type HubConfig struct {
	BroadcastDetections bool
	BroadcastSessions   bool
	MaxConnections      int
	ReadBufferSize      int
	WriteBufferSize     int
	PingInterval        time.Duration
	PongTimeout         time.Duration
	WriteTimeout        time.Duration
	MaxMessageSize      int64
	AllowedOrigins      []string
	Session             SessionOptions
}

// HubConfigFrom builds a hub configuration from the service config
func HubConfigFrom(cfg *config.Config) *HubConfig {
	ws := cfg.WebSocket
	return &HubConfig{
		BroadcastDetections: ws.Events.BroadcastDetections,
		BroadcastSessions:   ws.Events.BroadcastSessions,
		MaxConnections:      ws.MaxConnections,
		ReadBufferSize:      ws.ReadBufferSize,
		WriteBufferSize:     ws.WriteBufferSize,
		PingInterval:        ws.PingInterval,
		PongTimeout:         ws.PongTimeout,
		WriteTimeout:        ws.WriteTimeout,
		MaxMessageSize:      ws.MaxMessageSize,
		AllowedOrigins:      ws.AllowedOrigins,
		Session: SessionOptions{
			Debounce:     cfg.Detector.Debounce,
			MaxTextBytes: cfg.Server.MaxTextBytes,
			Theme:        cfg.Detector.Theme,
		},
	}
}

// DetectorSource returns the detector and library version for a new session
type DetectorSource func() (*bias.Detector, string)

// Hub maintains the set of active clients and broadcasts monitor events
type Hub struct {
	// Registered clients
	clients map[*Client]bool

	// Outbound monitor events
	broadcast chan Event

	// Register requests from the clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	config    *HubConfig
	detectors DetectorSource
	upgrader  websocket.Upgrader
	logger    *logger.Logger

	mu    sync.RWMutex
	stats *HubStats
	done  chan struct{}
}

// HubStats tracks WebSocket hub statistics
type HubStats struct {
	TotalConnections   int64     `json:"total_connections"`
	ActiveConnections  int64     `json:"active_connections"`
	ActiveSessions     int64     `json:"active_sessions"`
	TotalMessages      int64     `json:"total_messages"`
	TotalBroadcasts    int64     `json:"total_broadcasts"`
	TotalDetections    int64     `json:"total_detections"`
	LastConnectionTime time.Time `json:"last_connection_time"`
	LastDisconnectTime time.Time `json:"last_disconnect_time"`
	LastBroadcastTime  time.Time `json:"last_broadcast_time"`
}

// NewHub creates a new WebSocket hub
func NewHub(cfg *HubConfig, detectors DetectorSource, log *logger.Logger) *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		config:     cfg,
		detectors:  detectors,
		logger:     log,
		stats:      &HubStats{},
		done:       make(chan struct{}),
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = writeWait
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = pongWait
	}
	// pings must go out before the peer's pong deadline
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongTimeout {
		cfg.PingInterval = (cfg.PongTimeout * 9) / 10
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = maxMessageSize
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Run handles client registration and broadcasting until ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("Starting WebSocket hub")

	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.closeAll()
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case event := <-h.broadcast:
			h.broadcastEvent(event)
		}
	}
}

// registerClient registers a new client
func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	h.stats.TotalConnections++
	h.stats.ActiveConnections++
	if client.Kind == KindEditor {
		h.stats.ActiveSessions++
	}
	h.stats.LastConnectionTime = time.Now()
	active := h.stats.ActiveConnections
	h.mu.Unlock()

	h.logger.Info("Client connected",
		zap.String("client_id", client.ID),
		zap.String("kind", string(client.Kind)),
		zap.String("client_ip", client.IP),
		zap.Int64("active_connections", active),
	)

	h.BroadcastEvent(h.connectionEvent("connected", client))
}

// unregisterClient unregisters a client
func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		h.removeLocked(client)
		h.stats.LastDisconnectTime = time.Now()
	}
	active := h.stats.ActiveConnections
	h.mu.Unlock()

	if !ok {
		return
	}

	h.logger.Info("Client disconnected",
		zap.String("client_id", client.ID),
		zap.String("kind", string(client.Kind)),
		zap.Int64("active_connections", active),
	)

	h.BroadcastEvent(h.connectionEvent("disconnected", client))
}

func (h *Hub) removeLocked(client *Client) {
	delete(h.clients, client)
	client.close()
	h.stats.ActiveConnections--
	if client.Kind == KindEditor {
		h.stats.ActiveSessions--
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		h.removeLocked(client)
	}
}

func (h *Hub) connectionEvent(action string, client *Client) Event {
	return Event{
		Type:      EventTypeConnection,
		Timestamp: time.Now(),
		Data: ConnectionEvent{
			Action:    action,
			ClientID:  client.ID,
			Kind:      string(client.Kind),
			ClientIP:  client.IP,
			UserAgent: client.UserAgent,
		},
	}
}

// broadcastEvent sends an event to every subscribed monitor
func (h *Hub) broadcastEvent(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stats.TotalBroadcasts++
	h.stats.LastBroadcastTime = time.Now()
	if event.Type == EventTypeBiasDetection {
		h.stats.TotalDetections++
	}

	for client := range h.clients {
		if client.Kind != KindMonitor || !shouldSendToClient(client, event) {
			continue
		}
		if client.trySend(event) {
			h.stats.TotalMessages++
			continue
		}
		h.logger.Warn("Client send channel full, closing connection",
			zap.String("client_id", client.ID),
		)
		h.removeLocked(client)
	}
}

// shouldSendToClient applies a monitor's subscription
func shouldSendToClient(client *Client, event Event) bool {
	sub := client.Subscription
	if sub == nil {
		return true
	}

	if len(sub.Events) > 0 {
		subscribed := false
		for _, eventType := range sub.Events {
			if eventType == event.Type {
				subscribed = true
				break
			}
		}
		if !subscribed {
			return false
		}
	}

	if sub.MinSeverity != "" {
		if detection, ok := event.Data.(BiasDetectionEvent); ok {
			return severityRank(detection.SeverityLevel) >= severityRank(sub.MinSeverity)
		}
	}

	return true
}

func severityRank(level bias.SeverityLevel) int {
	switch level {
	case bias.LevelLow:
		return 1
	case bias.LevelMedium:
		return 2
	case bias.LevelHigh:
		return 3
	default:
		return 0
	}
}

// BroadcastEvent queues an event for monitors if its type is enabled
func (h *Hub) BroadcastEvent(event Event) {
	if !h.shouldBroadcastEvent(event.Type) {
		return
	}

	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("Broadcast channel full, dropping event",
			zap.String("event_type", string(event.Type)),
		)
	}
}

// BroadcastLibraryReload announces a new term library to monitors
func (h *Hub) BroadcastLibraryReload(ev LibraryReloadEvent) {
	h.BroadcastEvent(Event{Type: EventTypeLibraryReload, Timestamp: time.Now(), Data: ev})
}

func (h *Hub) shouldBroadcastEvent(eventType EventType) bool {
	switch eventType {
	case EventTypeBiasDetection:
		return h.config.BroadcastDetections
	case EventTypeConnection:
		return h.config.BroadcastSessions
	case EventTypeLibraryReload:
		return true
	default:
		return false
	}
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.config.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func (h *Hub) full() bool {
	if h.config.MaxConnections <= 0 {
		return false
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients) >= h.config.MaxConnections
}

// HandleMonitor upgrades a dashboard connection that receives broadcasts
func (h *Hub) HandleMonitor(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, KindMonitor)
}

// HandleSession upgrades a live editing session
func (h *Hub) HandleSession(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, KindEditor)
}

func (h *Hub) serve(w http.ResponseWriter, r *http.Request, kind ClientKind) {
	if h.full() {
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	client := &Client{
		ID:          uuid.NewString(),
		Kind:        kind,
		Send:        make(chan Event, sendBuffer),
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
		IP:          getClientIP(r),
		UserAgent:   r.UserAgent(),
	}

	if !h.enqueue(h.register, client) {
		conn.Close()
		return
	}

	go h.handleClientWrite(client, conn)

	if kind == KindEditor {
		if err := h.startSession(client); err != nil {
			h.logger.Error("Failed to start editing session", zap.Error(err))
			h.enqueue(h.unregister, client)
			return
		}
	}

	go h.handleClientRead(client, conn)
}

func (h *Hub) startSession(client *Client) error {
	detector, version := h.detectors()

	opts := h.config.Session
	opts.OnDetection = func(ev BiasDetectionEvent) {
		h.BroadcastEvent(Event{
			Type:      EventTypeBiasDetection,
			Timestamp: time.Now(),
			Data:      ev,
			SessionID: ev.SessionID,
		})
	}

	emit := func(ev Event) {
		if !client.trySend(ev) {
			h.logger.Warn("Dropping session event",
				zap.String("session_id", client.ID),
				zap.String("event_type", string(ev.Type)))
		}
	}

	session, err := NewSession(client.ID, detector, version, opts, emit, h.logger.WithComponent("session"))
	if err != nil {
		return err
	}
	client.Session = session
	return nil
}

// enqueue hands a client to the Run loop, failing once the hub has stopped
func (h *Hub) enqueue(ch chan *Client, client *Client) bool {
	select {
	case ch <- client:
		return true
	case <-h.done:
		return false
	}
}

// handleClientWrite handles writing messages to the client
func (h *Hub) handleClientWrite(client *Client, conn *websocket.Conn) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case event, ok := <-client.Send:
			conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.WriteJSON(event); err != nil {
				h.logger.Debug("Failed to write WebSocket message",
					zap.String("client_id", client.ID),
					zap.Error(err),
				)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleClientRead handles reading messages from the client
func (h *Hub) handleClientRead(client *Client, conn *websocket.Conn) {
	defer func() {
		if client.Session != nil {
			client.Session.Close()
		}
		if !h.enqueue(h.unregister, client) {
			client.close()
		}
		conn.Close()
	}()

	conn.SetReadLimit(h.config.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(h.config.PongTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(h.config.PongTimeout))
		return nil
	})

	for {
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn("WebSocket error",
					zap.String("client_id", client.ID),
					zap.Error(err),
				)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(h.config.PongTimeout))

		h.handleClientMessage(client, msg)
	}
}

// handleClientMessage handles messages received from clients
func (h *Hub) handleClientMessage(client *Client, msg ClientMessage) {
	switch msg.Type {
	case MessagePing:
		client.trySend(Event{
			Type:      EventTypePong,
			Timestamp: time.Now(),
			Data:      map[string]string{"message": "pong"},
		})

	case MessageSubscribe:
		var sub SubscriptionRequest
		if err := json.Unmarshal(msg.Data, &sub); err != nil {
			client.trySend(Event{Type: EventTypeError, Timestamp: time.Now(), Data: ErrorEvent{Message: err.Error(), Request: msg.Type}})
			return
		}
		h.mu.Lock()
		client.Subscription = &sub
		h.mu.Unlock()
		h.logger.Info("Client subscription updated",
			zap.String("client_id", client.ID),
			zap.Any("subscription", sub),
		)

	default:
		if client.Session != nil {
			client.Session.Handle(msg)
			return
		}
		client.trySend(Event{Type: EventTypeError, Timestamp: time.Now(), Data: ErrorEvent{Message: "monitors only accept ping and subscribe", Request: msg.Type}})
	}
}

// GetStats returns current hub statistics
func (h *Hub) GetStats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := *h.stats
	stats.ActiveConnections = int64(len(h.clients))
	return stats
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	return r.RemoteAddr
}
