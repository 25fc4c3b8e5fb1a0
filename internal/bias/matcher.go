package bias

import (
	"fmt"
	"regexp"
	"strings"
)

// Matcher locates every non-overlapping occurrence of a pattern
type Matcher interface {
	FindAll(text string) []Match
}

// RegexMatcher matches a case-insensitive RE2 expression
type RegexMatcher struct {
	re *regexp.Regexp
}

// NewRegexMatcher compiles pattern as a case-insensitive expression
func NewRegexMatcher(pattern string) (*RegexMatcher, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, fmt.Errorf("empty pattern")
	}
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, err
	}
	return &RegexMatcher{re: re}, nil
}

// FindAll scans the whole text. The regexp engine always advances past an empty
// match, and empty matches are dropped since there is nothing to highlight.
func (m *RegexMatcher) FindAll(text string) []Match {
	return findAll(m.re, text)
}

// String returns the compiled expression
func (m *RegexMatcher) String() string {
	return m.re.String()
}

// SubstringMatcher matches a literal phrase ignoring case
type SubstringMatcher struct {
	re *regexp.Regexp
}

// NewSubstringMatcher builds a literal matcher for phrase
func NewSubstringMatcher(phrase string) (*SubstringMatcher, error) {
	if strings.TrimSpace(phrase) == "" {
		return nil, fmt.Errorf("empty phrase")
	}
	return &SubstringMatcher{re: regexp.MustCompile("(?i)" + regexp.QuoteMeta(phrase))}, nil
}

// FindAll returns every occurrence of the phrase
func (m *SubstringMatcher) FindAll(text string) []Match {
	return findAll(m.re, text)
}

func findAll(re *regexp.Regexp, text string) []Match {
	locs := re.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return nil
	}

	matches := make([]Match, 0, len(locs))
	for _, loc := range locs {
		if loc[1] == loc[0] {
			continue
		}
		matches = append(matches, Match{Start: loc[0], End: loc[1], Text: text[loc[0]:loc[1]]})
	}
	return matches
}
