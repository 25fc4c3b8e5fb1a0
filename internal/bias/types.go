package bias

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Severity is the ordinal weight of a term. Higher values are more severe.
type Severity int

const (
	// SeverityWarning informs the author but does not block saving
	SeverityWarning Severity = 1
	// SeverityBlocking prevents the feedback from being saved
	SeverityBlocking Severity = 2
)

// ParseSeverity accepts the textual or numeric form of a severity
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "warning", "warn", "1":
		return SeverityWarning, nil
	case "blocking", "block", "2":
		return SeverityBlocking, nil
	}
	return 0, fmt.Errorf("unknown severity: %q", s)
}

func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityBlocking:
		return "blocking"
	default:
		return strconv.Itoa(int(s))
	}
}

// MarshalText encodes the severity as its lowercase name
func (s Severity) MarshalText() ([]byte, error) {
	if s != SeverityWarning && s != SeverityBlocking {
		return nil, fmt.Errorf("invalid severity: %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes either the name or the ordinal
func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// UnmarshalJSON accepts both `"blocking"` and `2`
func (s *Severity) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] != '"' {
		var n int
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		return s.UnmarshalText([]byte(strconv.Itoa(n)))
	}
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	return s.UnmarshalText([]byte(str))
}

// BiasTerm is one entry of the term library. Entries are immutable for the
// lifetime of a detector.
type BiasTerm struct {
	ID              string   `json:"id" yaml:"id" db:"id" validate:"required"`
	Pattern         string   `json:"pattern" yaml:"pattern" db:"pattern" validate:"required"`
	Term            string   `json:"term" yaml:"term" db:"term" validate:"required"`
	Category        string   `json:"category" yaml:"category" db:"category" validate:"required"`
	CategoryDisplay string   `json:"category_display" yaml:"category_display" db:"category_display"`
	Severity        Severity `json:"severity" yaml:"severity" db:"severity" validate:"required,oneof=1 2"`
	SeverityDisplay string   `json:"severity_display" yaml:"severity_display" db:"severity_display"`
	Explanation     string   `json:"explanation" yaml:"explanation" db:"explanation"`
	Suggestions     []string `json:"suggestions" yaml:"suggestions" db:"-"`
}

// CompiledTerm pairs a term with its matcher
type CompiledTerm struct {
	BiasTerm
	Matcher Matcher
}

// Match is a half-open byte span [Start, End) in the analyzed text
type Match struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"matched_text"`
}

// FlaggedTerm aggregates every match of one term in the current text
type FlaggedTerm struct {
	ID              string   `json:"id"`
	Term            string   `json:"term"`
	Category        string   `json:"category"`
	CategoryDisplay string   `json:"category_display"`
	Severity        Severity `json:"severity"`
	SeverityDisplay string   `json:"severity_display"`
	Explanation     string   `json:"explanation"`
	Suggestions     []string `json:"suggestions"`
	Positions       []Match  `json:"positions"`
	MatchCount      int      `json:"match_count"`
}

// SeverityLevel summarizes an analysis
type SeverityLevel string

const (
	LevelClean  SeverityLevel = "clean"
	LevelLow    SeverityLevel = "low"
	LevelMedium SeverityLevel = "medium"
	LevelHigh   SeverityLevel = "high"
)

// mediumWarningThreshold is the warning count at which the level becomes medium
const mediumWarningThreshold = 3

// Analysis is the result of scanning one text snapshot
type Analysis struct {
	HasBias       bool          `json:"has_bias"`
	TotalFlags    int           `json:"total_flags"`
	BlockingFlags int           `json:"blocking_flags"`
	WarningFlags  int           `json:"warning_flags"`
	SeverityLevel SeverityLevel `json:"severity_level"`
	FlaggedTerms  []FlaggedTerm `json:"flagged_terms"`
}

// EmptyAnalysis returns the canonical result for text with no flags
func EmptyAnalysis() Analysis {
	return Analysis{
		SeverityLevel: LevelClean,
		FlaggedTerms:  []FlaggedTerm{},
	}
}

// LevelFor derives the severity level from the flag counts
func LevelFor(blockingFlags, warningFlags int) SeverityLevel {
	switch {
	case blockingFlags > 0:
		return LevelHigh
	case warningFlags >= mediumWarningThreshold:
		return LevelMedium
	case warningFlags >= 1:
		return LevelLow
	default:
		return LevelClean
	}
}

// TermIDs lists the flagged term ids in analysis order
func (a Analysis) TermIDs() []string {
	ids := make([]string, 0, len(a.FlaggedTerms))
	for _, ft := range a.FlaggedTerms {
		ids = append(ids, ft.ID)
	}
	return ids
}

// Equal reports whether two analyses are structurally identical
func (a Analysis) Equal(b Analysis) bool {
	if a.HasBias != b.HasBias ||
		a.TotalFlags != b.TotalFlags ||
		a.BlockingFlags != b.BlockingFlags ||
		a.WarningFlags != b.WarningFlags ||
		a.SeverityLevel != b.SeverityLevel ||
		len(a.FlaggedTerms) != len(b.FlaggedTerms) {
		return false
	}

	for i := range a.FlaggedTerms {
		x, y := a.FlaggedTerms[i], b.FlaggedTerms[i]
		if x.ID != y.ID || x.MatchCount != y.MatchCount || len(x.Positions) != len(y.Positions) {
			return false
		}
		for j := range x.Positions {
			if x.Positions[j] != y.Positions[j] {
				return false
			}
		}
	}

	return true
}
