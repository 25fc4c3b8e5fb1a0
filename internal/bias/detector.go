package bias

import (
	"errors"
	"fmt"

	"github.com/raaihank/feedback-sentinel/internal/logger"
	"go.uber.org/zap"
)

var (
	// ErrTermNotFound is returned when a term id is not in the compiled library
	ErrTermNotFound = errors.New("bias term not found")
	// ErrNoMatch is returned when a term no longer matches the current text
	ErrNoMatch = errors.New("term does not match current text")
)

// Detector holds a compiled, immutable term library
type Detector struct {
	terms  []CompiledTerm
	byID   map[string]int
	logger *logger.Logger
}

// NewDetector compiles the library once. Invalid terms are dropped, never fatal.
func NewDetector(terms []BiasTerm, log *logger.Logger) *Detector {
	if log == nil {
		log = logger.Nop()
	}

	compiled := Compile(terms, log)
	byID := make(map[string]int, len(compiled))
	for i, t := range compiled {
		if _, dup := byID[t.ID]; !dup {
			byID[t.ID] = i
		}
	}

	log.Info("Bias detector initialized",
		zap.Int("total_terms", len(terms)),
		zap.Int("compiled_terms", len(compiled)),
	)

	return &Detector{
		terms:  compiled,
		byID:   byID,
		logger: log,
	}
}

// Analyze runs the analyzer over text
func (d *Detector) Analyze(text string) Analysis {
	a := analyze(text, d.terms, d.logger)
	if a.HasBias {
		d.logger.LogAnalysis("Bias detected", a.TotalFlags, a.BlockingFlags, a.WarningFlags, string(a.SeverityLevel), a.TermIDs())
	}
	return a
}

// Term returns the compiled term with the given id
func (d *Detector) Term(id string) (CompiledTerm, bool) {
	i, ok := d.byID[id]
	if !ok {
		return CompiledTerm{}, false
	}
	return d.terms[i], true
}

// Terms returns the compiled library in order
func (d *Detector) Terms() []CompiledTerm {
	out := make([]CompiledTerm, len(d.terms))
	copy(out, d.terms)
	return out
}

// Len returns the number of compiled terms
func (d *Detector) Len() int {
	return len(d.terms)
}

// FirstMatch returns the earliest match of a term's pattern in text
func (d *Detector) FirstMatch(termID, text string) (Match, error) {
	term, ok := d.Term(termID)
	if !ok {
		return Match{}, fmt.Errorf("%w: %s", ErrTermNotFound, termID)
	}

	matches, err := safeFindAll(term.Matcher, text)
	if err != nil {
		return Match{}, err
	}
	if len(matches) == 0 {
		return Match{}, fmt.Errorf("%w: %s", ErrNoMatch, termID)
	}
	return matches[0], nil
}

// ReplaceFirst swaps the matched span for replacement and returns the new text
// together with the caret position just after the inserted text.
func ReplaceFirst(text string, m Match, replacement string) (string, int) {
	out := text[:m.Start] + replacement + text[m.End:]
	return out, m.Start + len(replacement)
}
