package bias

import (
	"fmt"
	"strings"

	"github.com/raaihank/feedback-sentinel/internal/logger"
	"go.uber.org/zap"
)

type spanKey struct {
	start, end int
}

// Analyze scans text against every compiled term. A span already claimed by an
// earlier term is not recorded again for a later one.
func Analyze(text string, terms []CompiledTerm) Analysis {
	return analyze(text, terms, nil)
}

func analyze(text string, terms []CompiledTerm, log *logger.Logger) Analysis {
	if strings.TrimSpace(text) == "" {
		return EmptyAnalysis()
	}

	result := EmptyAnalysis()
	claimed := make(map[spanKey]struct{})

	for _, term := range terms {
		matches, err := safeFindAll(term.Matcher, text)
		if err != nil {
			if log != nil {
				log.Warn("Bias term matcher failed, ignoring term for this pass",
					zap.String("term_id", term.ID),
					zap.Error(err),
				)
			}
			continue
		}

		var positions []Match
		for _, m := range matches {
			key := spanKey{m.Start, m.End}
			if _, ok := claimed[key]; ok {
				continue
			}
			claimed[key] = struct{}{}
			positions = append(positions, m)
		}

		if len(positions) == 0 {
			continue
		}

		result.FlaggedTerms = append(result.FlaggedTerms, FlaggedTerm{
			ID:              term.ID,
			Term:            term.Term,
			Category:        term.Category,
			CategoryDisplay: term.CategoryDisplay,
			Severity:        term.Severity,
			SeverityDisplay: term.SeverityDisplay,
			Explanation:     term.Explanation,
			Suggestions:     term.Suggestions,
			Positions:       positions,
			MatchCount:      len(positions),
		})

		if term.Severity == SeverityBlocking {
			result.BlockingFlags++
		} else {
			result.WarningFlags++
		}
	}

	result.TotalFlags = len(result.FlaggedTerms)
	result.HasBias = result.TotalFlags > 0
	result.SeverityLevel = LevelFor(result.BlockingFlags, result.WarningFlags)

	return result
}

// safeFindAll isolates a misbehaving matcher so it cannot abort the whole pass
func safeFindAll(m Matcher, text string) (matches []Match, err error) {
	defer func() {
		if r := recover(); r != nil {
			matches = nil
			err = fmt.Errorf("matcher panic: %v", r)
		}
	}()
	return m.FindAll(text), nil
}
