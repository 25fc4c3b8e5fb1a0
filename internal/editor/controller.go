package editor

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/raaihank/feedback-sentinel/internal/bias"
	"github.com/raaihank/feedback-sentinel/internal/logger"
	"go.uber.org/zap"
)

// DefaultDebounce is the quiet period before a keystroke triggers analysis
const DefaultDebounce = 500 * time.Millisecond

var (
	// ErrMissingTextField is returned when no text surface is configured
	ErrMissingTextField = errors.New("editor: text field is required")
	// ErrClosed is returned for operations on a closed controller
	ErrClosed = errors.New("editor: controller closed")
)

// Options configures a Controller
type Options struct {
	TextField    TextSurface
	SaveButtons  []Button
	ReviewButton Button
	Status       StatusView
	Dialog       SuggestionDialog
	Notifier     Notifier

	Debounce time.Duration

	// OnAnalysisChange is called whenever a completed analysis differs from
	// the previous one. It runs on the event path and must not call back
	// into the controller, except CurrentAnalysis.
	OnAnalysisChange func(bias.Analysis)

	Scheduler Scheduler
	Renderer  *bias.Renderer
}

// Controller drives the edit, analyze, render and gate loop for one field
type Controller struct {
	detector *bias.Detector
	opts     Options
	logger   *logger.Logger

	// mu serializes every event, standing in for a UI event loop
	mu         sync.Mutex
	timer      Timer
	generation uint64
	closed     bool
	segments   []bias.Segment

	current atomic.Pointer[bias.Analysis]
}

// New wires a controller to its collaborators and runs an initial analysis of
// whatever text the field already holds.
func New(detector *bias.Detector, opts Options, log *logger.Logger) (*Controller, error) {
	if log == nil {
		log = logger.Nop()
	}

	if opts.TextField == nil {
		log.Error("Bias detector text field not found, detector disabled")
		return nil, ErrMissingTextField
	}
	if detector == nil {
		detector = bias.NewDetector(nil, log)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Scheduler == nil {
		opts.Scheduler = SystemScheduler{}
	}
	if opts.Renderer == nil {
		opts.Renderer = bias.NewRenderer(bias.DefaultTheme())
	}

	c := &Controller{
		detector: detector,
		opts:     opts,
		logger:   log,
	}

	empty := bias.EmptyAnalysis()
	c.current.Store(&empty)

	c.mu.Lock()
	c.analyzeLocked()
	c.mu.Unlock()

	log.Debug("Editor controller attached",
		zap.Int("save_buttons", len(opts.SaveButtons)),
		zap.Bool("review_button", opts.ReviewButton != nil),
		zap.Duration("debounce", opts.Debounce),
	)

	return c, nil
}

// CurrentAnalysis returns the most recently completed analysis
func (c *Controller) CurrentAnalysis() bias.Analysis {
	return *c.current.Load()
}

// HandleInput reacts to a text change: the analyzing indicator is shown at
// once and analysis is (re)scheduled after the debounce window.
func (c *Controller) HandleInput() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	if c.opts.Status != nil {
		c.opts.Status.ShowAnalyzing()
	}

	c.cancelTimerLocked()
	gen := c.generation
	c.timer = c.opts.Scheduler.AfterFunc(c.opts.Debounce, func() {
		c.fireDebounce(gen)
	})
}

// HandleScroll copies the field's scroll offset to the overlay immediately
func (c *Controller) HandleScroll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.opts.TextField.SetOverlayScroll(c.opts.TextField.Scroll())
}

// HandleHighlightClick opens the suggestions dialog for a highlight
func (c *Controller) HandleHighlightClick(h bias.Highlight) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.opts.Dialog == nil {
		return
	}
	c.opts.Dialog.Open(h)
}

// HighlightAt returns the rendered highlight covering byte offset pos
func (c *Controller) HighlightAt(pos int) (bias.Highlight, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, seg := range c.segments {
		if seg.Highlight != nil && pos >= seg.Highlight.Start && pos < seg.Highlight.End {
			return *seg.Highlight, true
		}
	}
	return bias.Highlight{}, false
}

// AcceptSuggestion replaces the first current match of the term with
// suggestion, closes the dialog, places the caret after the insertion and
// re-analyzes without waiting for the debounce.
func (c *Controller) AcceptSuggestion(termID, suggestion string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	text := c.opts.TextField.Text()
	m, err := c.detector.FirstMatch(termID, text)
	if err != nil {
		c.logger.Warn("Suggestion could not be applied",
			zap.String("term_id", termID),
			zap.Error(err),
		)
		return err
	}

	updated, caret := bias.ReplaceFirst(text, m, suggestion)
	c.opts.TextField.SetText(updated)
	if c.opts.Dialog != nil {
		c.opts.Dialog.Close()
	}
	c.opts.TextField.SetCaret(caret)

	c.cancelTimerLocked()
	c.analyzeLocked()

	c.logger.Debug("Suggestion accepted", zap.String("term_id", termID))
	return nil
}

// AnalyzeNow cancels any pending debounce and analyzes immediately
func (c *Controller) AnalyzeNow() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.cancelTimerLocked()
	c.analyzeLocked()
}

// HandleSubmit is the form's submit hook. It returns false, after showing an
// error, when the latest analysis still has blocking terms.
func (c *Controller) HandleSubmit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := bias.CheckSubmission(c.CurrentAnalysis()); err != nil {
		c.logger.Info("Feedback submission blocked", zap.Error(err))
		if c.opts.Notifier != nil {
			c.opts.Notifier.ShowError(err.Error())
		}
		return false
	}

	if c.opts.Notifier != nil {
		c.opts.Notifier.Dismiss()
	}
	return true
}

// Close clears any live timer. Later events are ignored.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.cancelTimerLocked()
}

func (c *Controller) fireDebounce(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// A stopped timer may already have been running when it was replaced
	if c.closed || gen != c.generation {
		return
	}
	c.timer = nil
	c.analyzeLocked()
}

func (c *Controller) cancelTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.generation++
}

func (c *Controller) analyzeLocked() {
	field := c.opts.TextField
	text := field.Text()

	a := c.detector.Analyze(text)
	previous := c.current.Swap(&a)

	markup, segments := c.opts.Renderer.Render(text, a)
	c.segments = segments
	field.RenderOverlay(markup, segments)
	field.SetOverlayScroll(field.Scroll())

	state := bias.Gate(a)
	for _, b := range c.opts.SaveButtons {
		b.SetDisabled(state.SaveDisabled, state.SaveTooltip)
	}
	if c.opts.ReviewButton != nil {
		c.opts.ReviewButton.SetDisabled(state.ReviewDisabled, state.ReviewTooltip)
	}
	if c.opts.Status != nil {
		c.opts.Status.ShowStatus(bias.StatusFor(a))
	}

	if c.opts.OnAnalysisChange != nil && (previous == nil || !previous.Equal(a)) {
		c.opts.OnAnalysisChange(a)
	}
}
