package bias

import "fmt"

// ButtonState is the enablement of the two gated button classes
type ButtonState struct {
	SaveDisabled   bool   `json:"save_disabled"`
	SaveTooltip    string `json:"save_tooltip,omitempty"`
	ReviewDisabled bool   `json:"review_disabled"`
	ReviewTooltip  string `json:"review_tooltip,omitempty"`
}

// Gate derives button state from an analysis. Save buttons only care about
// blocking terms; the review button is disabled by any flag.
func Gate(a Analysis) ButtonState {
	var state ButtonState

	if a.BlockingFlags > 0 {
		state.SaveDisabled = true
		state.SaveTooltip = fmt.Sprintf("Resolve %d blocking %s before saving", a.BlockingFlags, plural(a.BlockingFlags, "term", "terms"))
	}

	if a.HasBias {
		state.ReviewDisabled = true
		state.ReviewTooltip = "Resolve all flagged terms before sending for review"
	}

	return state
}

// StatusState identifies which status message is shown
type StatusState string

const (
	StatusAnalyzing StatusState = "analyzing"
	StatusClean     StatusState = "clean"
	StatusBlocking  StatusState = "blocking"
	StatusWarning   StatusState = "warning"
)

// Status is the textual summary of an analysis
type Status struct {
	State   StatusState `json:"state"`
	Message string      `json:"message"`
}

// AnalyzingStatus is shown between an edit and its analysis
func AnalyzingStatus() Status {
	return Status{State: StatusAnalyzing, Message: "Analyzing..."}
}

// StatusFor summarizes a completed analysis
func StatusFor(a Analysis) Status {
	switch {
	case a.BlockingFlags > 0:
		return Status{
			State:   StatusBlocking,
			Message: fmt.Sprintf("%d blocking %s must be resolved", a.BlockingFlags, plural(a.BlockingFlags, "term", "terms")),
		}
	case a.WarningFlags > 0:
		return Status{
			State:   StatusWarning,
			Message: fmt.Sprintf("%d %s detected", a.WarningFlags, plural(a.WarningFlags, "warning", "warnings")),
		}
	default:
		return Status{State: StatusClean, Message: "No bias detected"}
	}
}

// BlockedError is returned when feedback cannot be submitted
type BlockedError struct {
	BlockingFlags int
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("cannot submit feedback: %d blocking %s must be resolved",
		e.BlockingFlags, plural(e.BlockingFlags, "term", "terms"))
}

// CheckSubmission returns a *BlockedError if the analysis has blocking flags
func CheckSubmission(a Analysis) error {
	if a.BlockingFlags > 0 {
		return &BlockedError{BlockingFlags: a.BlockingFlags}
	}
	return nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
