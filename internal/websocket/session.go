package websocket

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/raaihank/feedback-sentinel/internal/bias"
	"github.com/raaihank/feedback-sentinel/internal/editor"
	"github.com/raaihank/feedback-sentinel/internal/logger"
	"go.uber.org/zap"
)

// Button names used in analysis events
const (
	ButtonSave   = "save"
	ButtonReview = "review"
)

// ErrTextTooLarge is returned for input above the configured size limit
var ErrTextTooLarge = errors.New("text exceeds maximum size")

// SessionOptions configures an editing session
type SessionOptions struct {
	Debounce     time.Duration
	MaxTextBytes int
	Theme        bias.Theme
	Scheduler    editor.Scheduler

	// OnDetection receives a summary of every changed analysis with flags
	OnDetection func(BiasDetectionEvent)
}

// Session is a live editing session: the browser's field is mirrored here
// and driven by an editor.Controller whose UI calls become events.
type Session struct {
	id      string
	version string
	opts    SessionOptions
	logger  *logger.Logger

	controller *editor.Controller

	mu       sync.Mutex
	emit     func(Event)
	live     bool
	text     string
	scroll   editor.ScrollOffset
	markup   string
	segments []bias.Segment
	buttons  map[string]ButtonEvent
	notice   string
}

// NewSession creates a session over detector and emits its ready event
// followed by the analysis of the empty field.
func NewSession(id string, detector *bias.Detector, version string, opts SessionOptions, emit func(Event), log *logger.Logger) (*Session, error) {
	if log == nil {
		log = logger.Nop()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = editor.DefaultDebounce
	}

	s := &Session{
		id:      id,
		version: version,
		opts:    opts,
		logger:  log.WithSession(id),
		emit:    emit,
		buttons: map[string]ButtonEvent{},
	}

	controller, err := editor.New(detector, editor.Options{
		TextField:        s,
		SaveButtons:      []editor.Button{sessionButton{s, ButtonSave}},
		ReviewButton:     sessionButton{s, ButtonReview},
		Status:           sessionStatus{s},
		Dialog:           sessionDialog{s},
		Notifier:         sessionNotifier{s},
		Debounce:         opts.Debounce,
		OnAnalysisChange: s.onAnalysisChange,
		Scheduler:        opts.Scheduler,
		Renderer:         bias.NewRenderer(opts.Theme),
	}, s.logger)
	if err != nil {
		return nil, err
	}
	s.controller = controller

	s.mu.Lock()
	s.live = true
	s.mu.Unlock()

	s.send(EventTypeReady, ReadyEvent{
		SessionID:      id,
		LibraryVersion: version,
		DebounceMS:     opts.Debounce.Milliseconds(),
		MaxTextBytes:   opts.MaxTextBytes,
	})
	s.sendAnalysis(bias.StatusFor(controller.CurrentAnalysis()))

	return s, nil
}

// ID returns the session id
func (s *Session) ID() string { return s.id }

// LibraryVersion is the term library version the session was built with
func (s *Session) LibraryVersion() string { return s.version }

// CurrentAnalysis returns the latest completed analysis
func (s *Session) CurrentAnalysis() bias.Analysis {
	return s.controller.CurrentAnalysis()
}

// Close stops pending analysis. Later messages are ignored.
func (s *Session) Close() {
	s.controller.Close()
	s.mu.Lock()
	s.live = false
	s.mu.Unlock()
}

// Handle dispatches one client message
func (s *Session) Handle(msg ClientMessage) {
	switch msg.Type {
	case MessageInput:
		var in InputMessage
		if !s.decode(msg, &in) {
			return
		}
		if s.opts.MaxTextBytes > 0 && len(in.Text) > s.opts.MaxTextBytes {
			s.sendError(msg.Type, fmt.Errorf("%w (%d > %d bytes)", ErrTextTooLarge, len(in.Text), s.opts.MaxTextBytes))
			return
		}
		s.mu.Lock()
		s.text = in.Text
		s.mu.Unlock()
		s.controller.HandleInput()

	case MessageScroll:
		var in ScrollMessage
		if !s.decode(msg, &in) {
			return
		}
		s.mu.Lock()
		s.scroll = editor.ScrollOffset{Top: in.Top, Left: in.Left}
		s.mu.Unlock()
		s.controller.HandleScroll()

	case MessageHighlightClick:
		var in HighlightClickMessage
		if !s.decode(msg, &in) {
			return
		}
		h, ok := s.controller.HighlightAt(in.Start)
		if !ok {
			s.sendError(msg.Type, fmt.Errorf("no highlight at offset %d", in.Start))
			return
		}
		s.controller.HandleHighlightClick(h)

	case MessageAcceptSuggestion:
		var in AcceptSuggestionMessage
		if !s.decode(msg, &in) {
			return
		}
		if err := s.controller.AcceptSuggestion(in.TermID, in.Suggestion); err != nil {
			s.sendError(msg.Type, err)
		}

	case MessageSubmit:
		// the browser may submit inside the debounce window
		s.controller.AnalyzeNow()
		accepted := s.controller.HandleSubmit()

		s.mu.Lock()
		notice := s.notice
		s.mu.Unlock()

		result := SubmitResultEvent{
			Accepted:      accepted,
			BlockingFlags: s.controller.CurrentAnalysis().BlockingFlags,
		}
		if !accepted {
			result.Message = notice
		}
		s.send(EventTypeSubmitResult, result)

	default:
		s.sendError(msg.Type, fmt.Errorf("unknown message type %q", msg.Type))
	}
}

func (s *Session) decode(msg ClientMessage, v interface{}) bool {
	if len(msg.Data) == 0 {
		msg.Data = []byte("{}")
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		s.sendError(msg.Type, fmt.Errorf("invalid %s payload: %w", msg.Type, err))
		return false
	}
	return true
}

func (s *Session) send(t EventType, data interface{}) {
	s.mu.Lock()
	live, emit := s.live, s.emit
	s.mu.Unlock()

	if !live || emit == nil {
		return
	}
	emit(Event{
		Type:      t,
		Timestamp: time.Now(),
		Data:      data,
		SessionID: s.id,
	})
}

func (s *Session) sendError(request string, err error) {
	s.logger.Debug("Rejected session message", zap.String("type", request), zap.Error(err))
	s.send(EventTypeError, ErrorEvent{Message: err.Error(), Request: request})
}

func (s *Session) sendAnalysis(status bias.Status) {
	if s.controller == nil {
		return
	}

	s.mu.Lock()
	buttons := make(map[string]ButtonEvent, len(s.buttons))
	for k, v := range s.buttons {
		buttons[k] = v
	}
	ev := AnalysisEvent{
		Status:   status,
		Buttons:  buttons,
		HTML:     s.markup,
		Segments: s.segments,
	}
	s.mu.Unlock()

	ev.Analysis = s.controller.CurrentAnalysis()
	s.send(EventTypeAnalysis, ev)
}

func (s *Session) onAnalysisChange(a bias.Analysis) {
	if !a.HasBias || s.opts.OnDetection == nil {
		return
	}

	seen := map[string]struct{}{}
	var categories []string
	for _, ft := range a.FlaggedTerms {
		if _, ok := seen[ft.Category]; !ok {
			seen[ft.Category] = struct{}{}
			categories = append(categories, ft.Category)
		}
	}
	sort.Strings(categories)

	s.opts.OnDetection(BiasDetectionEvent{
		SessionID:      s.id,
		LibraryVersion: s.version,
		TotalFlags:     a.TotalFlags,
		BlockingFlags:  a.BlockingFlags,
		WarningFlags:   a.WarningFlags,
		SeverityLevel:  a.SeverityLevel,
		TermIDs:        a.TermIDs(),
		Categories:     categories,
	})
}

// Text implements editor.TextSurface
func (s *Session) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text
}

// SetText implements editor.TextSurface. The page is told in SetCaret,
// which always follows a replacement.
func (s *Session) SetText(text string) {
	s.mu.Lock()
	s.text = text
	s.mu.Unlock()
}

// SetCaret implements editor.TextSurface
func (s *Session) SetCaret(pos int) {
	s.send(EventTypeTextReplaced, TextReplacedEvent{Text: s.Text(), Caret: pos})
}

// Scroll implements editor.TextSurface
func (s *Session) Scroll() editor.ScrollOffset {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scroll
}

// SetOverlayScroll implements editor.TextSurface
func (s *Session) SetOverlayScroll(offset editor.ScrollOffset) {
	s.send(EventTypeOverlayScroll, ScrollEvent{Top: offset.Top, Left: offset.Left})
}

// RenderOverlay implements editor.TextSurface
func (s *Session) RenderOverlay(markup string, segments []bias.Segment) {
	s.mu.Lock()
	s.markup = markup
	s.segments = segments
	s.mu.Unlock()
}

type sessionButton struct {
	s    *Session
	name string
}

func (b sessionButton) SetDisabled(disabled bool, tooltip string) {
	b.s.mu.Lock()
	b.s.buttons[b.name] = ButtonEvent{Disabled: disabled, Tooltip: tooltip}
	b.s.mu.Unlock()
}

type sessionStatus struct{ s *Session }

func (v sessionStatus) ShowAnalyzing() {
	v.s.send(EventTypeAnalyzing, bias.AnalyzingStatus())
}

// ShowStatus is the last UI call of an analysis pass, so the whole repaint
// goes out as one event.
func (v sessionStatus) ShowStatus(status bias.Status) {
	v.s.sendAnalysis(status)
}

type sessionDialog struct{ s *Session }

func (d sessionDialog) Open(h bias.Highlight) {
	d.s.send(EventTypeSuggestions, h)
}

func (d sessionDialog) Close() {
	d.s.send(EventTypeSuggestionsClosed, nil)
}

type sessionNotifier struct{ s *Session }

func (n sessionNotifier) ShowError(message string) {
	n.s.mu.Lock()
	n.s.notice = message
	n.s.mu.Unlock()
}

func (n sessionNotifier) Dismiss() {
	n.s.mu.Lock()
	n.s.notice = ""
	n.s.mu.Unlock()
}
