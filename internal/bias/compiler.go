package bias

import (
	"github.com/raaihank/feedback-sentinel/internal/logger"
	"go.uber.org/zap"
)

// Compile builds a matcher for every term, keeping library order. Terms whose
// pattern does not compile are skipped with a warning.
func Compile(terms []BiasTerm, log *logger.Logger) []CompiledTerm {
	if log == nil {
		log = logger.Nop()
	}

	compiled := make([]CompiledTerm, 0, len(terms))
	for _, term := range terms {
		if term.Severity != SeverityWarning && term.Severity != SeverityBlocking {
			log.Warn("Skipping bias term with unknown severity",
				zap.String("term_id", term.ID),
				zap.Int("severity", int(term.Severity)),
			)
			continue
		}

		matcher, err := NewRegexMatcher(term.Pattern)
		if err != nil {
			log.Warn("Skipping bias term with invalid pattern",
				zap.String("term_id", term.ID),
				zap.Error(err),
			)
			continue
		}
		compiled = append(compiled, CompiledTerm{BiasTerm: term, Matcher: matcher})
	}

	if skipped := len(terms) - len(compiled); skipped > 0 {
		log.Warn("Bias term library compiled with skipped terms",
			zap.Int("total_terms", len(terms)),
			zap.Int("skipped_terms", skipped),
		)
	}

	return compiled
}
