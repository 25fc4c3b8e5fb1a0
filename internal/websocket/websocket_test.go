package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	gorillaws "github.com/gorilla/websocket"
	"github.com/raaihank/feedback-sentinel/internal/bias"
	"github.com/raaihank/feedback-sentinel/internal/editor"
	"github.com/raaihank/feedback-sentinel/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDetector() *bias.Detector {
	return bias.NewDetector([]bias.BiasTerm{
		{
			ID: "age-young", Pattern: `\byoung\b`, Term: "young", Category: "age",
			Severity: bias.SeverityWarning, Suggestions: []string{"early-career"},
		},
		{
			ID: "gender-aggressive", Pattern: `\baggressive\b`, Term: "aggressive", Category: "gender",
			Severity: bias.SeverityBlocking, Suggestions: []string{"assertive", "direct"},
		},
	}, logger.Nop())
}

type manualTimer struct {
	f       func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	wasActive := !t.stopped
	t.stopped = true
	return wasActive
}

type manualScheduler struct {
	mu     sync.Mutex
	timers []*manualTimer
}

func (s *manualScheduler) AfterFunc(_ time.Duration, f func()) editor.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimer{f: f}
	s.timers = append(s.timers, t)
	return t
}

// fire runs every live timer and reports how many ran
func (s *manualScheduler) fire() int {
	s.mu.Lock()
	timers := s.timers
	s.timers = nil
	s.mu.Unlock()

	n := 0
	for _, t := range timers {
		if !t.stopped {
			t.stopped = true
			t.f()
			n++
		}
	}
	return n
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) emit(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) take() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}

func ofType(events []Event, t EventType) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func message(t *testing.T, typ string, data interface{}) ClientMessage {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return ClientMessage{Type: typ, Data: raw}
}

func newTestSession(t *testing.T) (*Session, *recorder, *manualScheduler, *[]BiasDetectionEvent) {
	t.Helper()
	rec := &recorder{}
	sched := &manualScheduler{}
	var detections []BiasDetectionEvent

	s, err := NewSession("sess-1", testDetector(), "v1", SessionOptions{
		Debounce:     500 * time.Millisecond,
		MaxTextBytes: 64,
		Theme:        bias.DefaultTheme(),
		Scheduler:    sched,
		OnDetection:  func(ev BiasDetectionEvent) { detections = append(detections, ev) },
	}, rec.emit, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s, rec, sched, &detections
}

func TestSession(t *testing.T) {
	t.Run("ReadyAndInitialAnalysis", func(t *testing.T) {
		_, rec, _, _ := newTestSession(t)
		events := rec.take()
		require.Len(t, events, 2)
		assert.Equal(t, EventTypeReady, events[0].Type)
		ready := events[0].Data.(ReadyEvent)
		assert.Equal(t, "v1", ready.LibraryVersion)
		assert.Equal(t, int64(500), ready.DebounceMS)

		assert.Equal(t, EventTypeAnalysis, events[1].Type)
		initial := events[1].Data.(AnalysisEvent)
		assert.False(t, initial.Analysis.HasBias)
		assert.Equal(t, bias.StatusClean, initial.Status.State)
		assert.False(t, initial.Buttons[ButtonSave].Disabled)
	})

	t.Run("DebouncedInput", func(t *testing.T) {
		s, rec, sched, detections := newTestSession(t)
		rec.take()

		s.Handle(message(t, MessageInput, InputMessage{Text: "She is young"}))
		s.Handle(message(t, MessageInput, InputMessage{Text: "She is aggressive"}))
		events := rec.take()
		assert.Len(t, ofType(events, EventTypeAnalyzing), 2)
		assert.Empty(t, ofType(events, EventTypeAnalysis))

		// only the last keystroke's timer is live
		assert.Equal(t, 1, sched.fire())
		analyses := ofType(rec.take(), EventTypeAnalysis)
		require.Len(t, analyses, 1)
		ev := analyses[0].Data.(AnalysisEvent)
		assert.Equal(t, 1, ev.Analysis.BlockingFlags)
		assert.True(t, ev.Buttons[ButtonSave].Disabled)
		assert.True(t, ev.Buttons[ButtonReview].Disabled)
		assert.Equal(t, bias.StatusBlocking, ev.Status.State)
		assert.Contains(t, ev.HTML, `data-term-id="gender-aggressive"`)
		assert.Equal(t, "sess-1", analyses[0].SessionID)

		require.Len(t, *detections, 1)
		assert.Equal(t, []string{"gender-aggressive"}, (*detections)[0].TermIDs)
		assert.Equal(t, []string{"gender"}, (*detections)[0].Categories)
	})

	t.Run("SuggestionFlow", func(t *testing.T) {
		s, rec, sched, _ := newTestSession(t)
		s.Handle(message(t, MessageInput, InputMessage{Text: "She is aggressive"}))
		sched.fire()
		rec.take()

		s.Handle(message(t, MessageHighlightClick, HighlightClickMessage{Start: 9}))
		suggestions := ofType(rec.take(), EventTypeSuggestions)
		require.Len(t, suggestions, 1)
		h := suggestions[0].Data.(bias.Highlight)
		assert.Equal(t, "gender-aggressive", h.TermID)
		assert.Equal(t, []string{"assertive", "direct"}, h.Suggestions)

		s.Handle(message(t, MessageSubmit, nil))
		results := ofType(rec.take(), EventTypeSubmitResult)
		require.Len(t, results, 1)
		blocked := results[0].Data.(SubmitResultEvent)
		assert.False(t, blocked.Accepted)
		assert.Equal(t, 1, blocked.BlockingFlags)
		assert.Contains(t, blocked.Message, "1 blocking term must be resolved")

		s.Handle(message(t, MessageAcceptSuggestion, AcceptSuggestionMessage{TermID: "gender-aggressive", Suggestion: "assertive"}))
		events := rec.take()
		assert.Len(t, ofType(events, EventTypeSuggestionsClosed), 1)
		replaced := ofType(events, EventTypeTextReplaced)
		require.Len(t, replaced, 1)
		assert.Equal(t, TextReplacedEvent{Text: "She is assertive", Caret: 16}, replaced[0].Data)
		analyses := ofType(events, EventTypeAnalysis)
		require.Len(t, analyses, 1)
		assert.False(t, analyses[0].Data.(AnalysisEvent).Analysis.HasBias)
		assert.Equal(t, "She is assertive", s.Text())

		s.Handle(message(t, MessageSubmit, nil))
		results = ofType(rec.take(), EventTypeSubmitResult)
		require.Len(t, results, 1)
		assert.True(t, results[0].Data.(SubmitResultEvent).Accepted)
	})

	t.Run("SubmitInsideDebounceWindow", func(t *testing.T) {
		s, rec, _, _ := newTestSession(t)
		s.Handle(message(t, MessageInput, InputMessage{Text: "so aggressive"}))
		s.Handle(message(t, MessageSubmit, nil))

		results := ofType(rec.take(), EventTypeSubmitResult)
		require.Len(t, results, 1)
		assert.False(t, results[0].Data.(SubmitResultEvent).Accepted)
	})

	t.Run("Scroll", func(t *testing.T) {
		s, rec, _, _ := newTestSession(t)
		rec.take()
		s.Handle(message(t, MessageScroll, ScrollMessage{Top: 40, Left: 3}))
		scrolls := ofType(rec.take(), EventTypeOverlayScroll)
		require.Len(t, scrolls, 1)
		assert.Equal(t, ScrollEvent{Top: 40, Left: 3}, scrolls[0].Data)
	})

	t.Run("Errors", func(t *testing.T) {
		s, rec, _, _ := newTestSession(t)
		rec.take()

		s.Handle(message(t, MessageInput, InputMessage{Text: strings.Repeat("x", 65)}))
		s.Handle(message(t, MessageHighlightClick, HighlightClickMessage{Start: 0}))
		s.Handle(message(t, MessageAcceptSuggestion, AcceptSuggestionMessage{TermID: "missing", Suggestion: "x"}))
		s.Handle(ClientMessage{Type: MessageScroll, Data: json.RawMessage(`"nope"`)})
		s.Handle(ClientMessage{Type: "teleport"})

		errs := ofType(rec.take(), EventTypeError)
		require.Len(t, errs, 5)
		assert.Contains(t, errs[0].Data.(ErrorEvent).Message, "maximum size")
		assert.Equal(t, MessageHighlightClick, errs[1].Data.(ErrorEvent).Request)
		assert.Equal(t, "", s.Text())
	})

	t.Run("ClosedSessionIsSilent", func(t *testing.T) {
		s, rec, sched, _ := newTestSession(t)
		s.Handle(message(t, MessageInput, InputMessage{Text: "young"}))
		rec.take()
		s.Close()
		sched.fire()
		assert.Empty(t, rec.take())
	})
}

func TestShouldSendToClient(t *testing.T) {
	detection := Event{Type: EventTypeBiasDetection, Data: BiasDetectionEvent{SeverityLevel: bias.LevelLow}}
	connection := Event{Type: EventTypeConnection}

	assert.True(t, shouldSendToClient(&Client{}, detection))

	onlyDetections := &Client{Subscription: &SubscriptionRequest{Events: []EventType{EventTypeBiasDetection}}}
	assert.True(t, shouldSendToClient(onlyDetections, detection))
	assert.False(t, shouldSendToClient(onlyDetections, connection))

	highOnly := &Client{Subscription: &SubscriptionRequest{MinSeverity: bias.LevelHigh}}
	assert.False(t, shouldSendToClient(highOnly, detection))
	assert.True(t, shouldSendToClient(highOnly, connection))
}

func readUntil(t *testing.T, conn *gorillaws.Conn, want EventType) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var ev map[string]interface{}
		require.NoError(t, conn.ReadJSON(&ev))
		if ev["type"] == string(want) {
			return ev
		}
	}
}

func TestHub(t *testing.T) {
	hub := NewHub(&HubConfig{
		BroadcastDetections: true,
		BroadcastSessions:   true,
		MaxConnections:      10,
		AllowedOrigins:      []string{"*"},
		Session: SessionOptions{
			Debounce:     50 * time.Millisecond,
			MaxTextBytes: 1024,
			Theme:        bias.DefaultTheme(),
		},
	}, func() (*bias.Detector, string) { return testDetector(), "v1" }, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	router := mux.NewRouter()
	router.HandleFunc("/ws", hub.HandleSession)
	router.HandleFunc("/ws/monitor", hub.HandleMonitor)
	srv := httptest.NewServer(router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	monitor, _, err := gorillaws.DefaultDialer.Dial(wsURL+"/ws/monitor", nil)
	require.NoError(t, err)
	defer monitor.Close()
	require.NoError(t, monitor.WriteJSON(map[string]interface{}{
		"type": "subscribe",
		"data": map[string]interface{}{"events": []string{"bias_detection"}},
	}))

	editorConn, _, err := gorillaws.DefaultDialer.Dial(wsURL+"/ws", nil)
	require.NoError(t, err)
	defer editorConn.Close()

	ready := readUntil(t, editorConn, EventTypeReady)
	assert.Equal(t, "v1", ready["data"].(map[string]interface{})["library_version"])

	require.NoError(t, editorConn.WriteJSON(map[string]interface{}{
		"type": "input",
		"data": map[string]string{"text": "a young and aggressive lead"},
	}))

	readUntil(t, editorConn, EventTypeAnalyzing)
	analysis := readUntil(t, editorConn, EventTypeAnalysis)
	payload := analysis["data"].(map[string]interface{})["analysis"].(map[string]interface{})
	assert.Equal(t, true, payload["has_bias"])
	assert.Equal(t, float64(2), payload["total_flags"])

	detection := readUntil(t, monitor, EventTypeBiasDetection)
	data := detection["data"].(map[string]interface{})
	assert.Equal(t, "high", data["severity_level"])
	assert.NotContains(t, detection, "text")

	require.NoError(t, editorConn.WriteJSON(map[string]interface{}{"type": "ping"}))
	readUntil(t, editorConn, EventTypePong)

	require.Eventually(t, func() bool {
		stats := hub.GetStats()
		return stats.ActiveSessions == 1 && stats.TotalDetections >= 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestHub_MaxConnections(t *testing.T) {
	hub := NewHub(&HubConfig{MaxConnections: 1, AllowedOrigins: []string{"*"}},
		func() (*bias.Detector, string) { return testDetector(), "v1" }, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleMonitor))
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	first, _, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer first.Close()

	require.Eventually(t, func() bool { return hub.GetStats().ActiveConnections == 1 }, 2*time.Second, 10*time.Millisecond)

	_, resp, err := gorillaws.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestCheckOrigin(t *testing.T) {
	hub := NewHub(&HubConfig{AllowedOrigins: []string{"https://reviews.example.com"}}, nil, logger.Nop())

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	assert.True(t, hub.checkOrigin(r))

	r.Header.Set("Origin", "https://reviews.example.com")
	assert.True(t, hub.checkOrigin(r))

	r.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, hub.checkOrigin(r))
}
