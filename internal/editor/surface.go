// Package editor coordinates live bias analysis of an editable feedback field:
// debounced re-analysis, the highlight overlay, button gating, the suggestions
// dialog and submit interception. UI concerns are reached only through the
// interfaces in this file.
package editor

import (
	"time"

	"github.com/raaihank/feedback-sentinel/internal/bias"
)

// ScrollOffset is a scroll position in host units
type ScrollOffset struct {
	Top  int `json:"top"`
	Left int `json:"left"`
}

// TextSurface is the editable text region and the overlay drawn on top of it
type TextSurface interface {
	Text() string
	SetText(text string)
	SetCaret(pos int)
	Scroll() ScrollOffset
	SetOverlayScroll(offset ScrollOffset)
	RenderOverlay(markup string, segments []bias.Segment)
}

// Button is a gated action button
type Button interface {
	SetDisabled(disabled bool, tooltip string)
}

// StatusView shows the textual analysis summary
type StatusView interface {
	ShowAnalyzing()
	ShowStatus(status bias.Status)
}

// SuggestionDialog presents a flagged term and its alternatives
type SuggestionDialog interface {
	Open(h bias.Highlight)
	Close()
}

// Notifier surfaces the dismissible submit error near the form
type Notifier interface {
	ShowError(message string)
	Dismiss()
}

// Timer is a cancelable scheduled callback
type Timer interface {
	Stop() bool
}

// Scheduler arms timers. Tests substitute a fake clock.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// SystemScheduler schedules on the runtime timer
type SystemScheduler struct{}

// AfterFunc wraps time.AfterFunc
func (SystemScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
