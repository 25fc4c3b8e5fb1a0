package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/raaihank/feedback-sentinel/internal/bias"
)

// EventType represents the type of WebSocket event
type EventType string

const (
	// EventTypeBiasDetection is broadcast to monitors when a session's analysis has flags
	EventTypeBiasDetection EventType = "bias_detection"
	// EventTypeConnection represents session connect and disconnect events
	EventTypeConnection EventType = "connection"
	// EventTypeLibraryReload is broadcast to monitors after the term library changes
	EventTypeLibraryReload EventType = "library_reload"

	// EventTypeReady is the first event of an editing session
	EventTypeReady EventType = "ready"
	// EventTypeAnalyzing is sent as soon as input arrives
	EventTypeAnalyzing EventType = "analyzing"
	// EventTypeAnalysis carries a completed analysis with overlay, status and button state
	EventTypeAnalysis EventType = "analysis"
	// EventTypeOverlayScroll tells the page to align the overlay with the field
	EventTypeOverlayScroll EventType = "overlay_scroll"
	// EventTypeSuggestions opens the suggestion dialog for a highlight
	EventTypeSuggestions EventType = "suggestions"
	// EventTypeSuggestionsClosed closes the suggestion dialog
	EventTypeSuggestionsClosed EventType = "suggestions_closed"
	// EventTypeTextReplaced carries the field text after a suggestion was applied
	EventTypeTextReplaced EventType = "text_replaced"
	// EventTypeSubmitResult answers a submit request
	EventTypeSubmitResult EventType = "submit_result"
	// EventTypeError reports a rejected client message
	EventTypeError EventType = "error"
	// EventTypePong answers a ping
	EventTypePong EventType = "pong"
)

// Client message types
const (
	MessageInput            = "input"
	MessageScroll           = "scroll"
	MessageHighlightClick   = "highlight_click"
	MessageAcceptSuggestion = "accept_suggestion"
	MessageSubmit           = "submit"
	MessagePing             = "ping"
	MessageSubscribe        = "subscribe"
)

// Event represents a WebSocket event sent to clients
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
	SessionID string      `json:"session_id,omitempty"`
}

// ClientMessage represents messages sent from clients to server
type ClientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// InputMessage replaces the field text
type InputMessage struct {
	Text string `json:"text"`
}

// ScrollMessage reports the field's scroll offset
type ScrollMessage struct {
	Top  int `json:"top"`
	Left int `json:"left"`
}

// HighlightClickMessage reports a click on the overlay at a byte offset
type HighlightClickMessage struct {
	Start int `json:"start"`
}

// AcceptSuggestionMessage applies a suggestion to the first match of a term
type AcceptSuggestionMessage struct {
	TermID     string `json:"term_id"`
	Suggestion string `json:"suggestion"`
}

// ReadyEvent describes a new editing session
type ReadyEvent struct {
	SessionID      string `json:"session_id"`
	LibraryVersion string `json:"library_version"`
	DebounceMS     int64  `json:"debounce_ms"`
	MaxTextBytes   int    `json:"max_text_bytes"`
}

// ButtonEvent is the gate state of one button
type ButtonEvent struct {
	Disabled bool   `json:"disabled"`
	Tooltip  string `json:"tooltip"`
}

// AnalysisEvent is everything the page needs to repaint after an analysis
type AnalysisEvent struct {
	Analysis bias.Analysis          `json:"analysis"`
	Status   bias.Status            `json:"status"`
	Buttons  map[string]ButtonEvent `json:"buttons"`
	HTML     string                 `json:"html"`
	Segments []bias.Segment         `json:"segments"`
}

// ScrollEvent is an overlay scroll offset
type ScrollEvent struct {
	Top  int `json:"top"`
	Left int `json:"left"`
}

// TextReplacedEvent carries the new field text and caret
type TextReplacedEvent struct {
	Text  string `json:"text"`
	Caret int    `json:"caret"`
}

// SubmitResultEvent answers a submit request
type SubmitResultEvent struct {
	Accepted      bool   `json:"accepted"`
	Message       string `json:"message,omitempty"`
	BlockingFlags int    `json:"blocking_flags"`
}

// ErrorEvent reports a rejected client message
type ErrorEvent struct {
	Message string `json:"message"`
	Request string `json:"request,omitempty"`
}

// BiasDetectionEvent summarizes a flagged analysis for monitors. It never
// includes the feedback text.
type BiasDetectionEvent struct {
	SessionID      string             `json:"session_id"`
	LibraryVersion string             `json:"library_version"`
	TotalFlags     int                `json:"total_flags"`
	BlockingFlags  int                `json:"blocking_flags"`
	WarningFlags   int                `json:"warning_flags"`
	SeverityLevel  bias.SeverityLevel `json:"severity_level"`
	TermIDs        []string           `json:"term_ids"`
	Categories     []string           `json:"categories"`
}

// ConnectionEvent represents session connect and disconnect events
type ConnectionEvent struct {
	Action    string `json:"action"` // "connected", "disconnected"
	ClientID  string `json:"client_id"`
	Kind      string `json:"kind"`
	ClientIP  string `json:"client_ip"`
	UserAgent string `json:"user_agent,omitempty"`
}

// LibraryReloadEvent announces a new term library version
type LibraryReloadEvent struct {
	Version   string `json:"version"`
	TermCount int    `json:"term_count"`
	Compiled  int    `json:"compiled"`
	Source    string `json:"source"`
}

// SubscriptionRequest narrows the events a monitor receives
type SubscriptionRequest struct {
	Events      []EventType        `json:"events"`
	MinSeverity bias.SeverityLevel `json:"min_severity,omitempty"`
}

// ClientKind distinguishes dashboards from editing sessions
type ClientKind string

const (
	KindMonitor ClientKind = "monitor"
	KindEditor  ClientKind = "editor"
)

// Client represents a WebSocket client connection
type Client struct {
	ID           string
	Kind         ClientKind
	Send         chan Event
	Subscription *SubscriptionRequest
	Session      *Session
	ConnectedAt  time.Time
	LastPing     time.Time
	IP           string
	UserAgent    string

	mu     sync.Mutex
	closed bool
}

// trySend queues an event without blocking. It reports false when the
// client is closed or its queue is full.
func (c *Client) trySend(ev Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.Send <- ev:
		return true
	default:
		return false
	}
}

// close closes the send queue once
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}
